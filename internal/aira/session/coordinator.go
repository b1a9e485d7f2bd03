package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ai-code-co/aira/common/retry"
	"github.com/ai-code-co/aira/common/trace"
	"github.com/ai-code-co/aira/internal/aira/genai"
	"github.com/ai-code-co/aira/internal/aira/memory"
	"github.com/ai-code-co/aira/internal/aira/metrics"
	"github.com/ai-code-co/aira/internal/aira/prompt"
)

// ErrEmptyMessage is the validation error for inbound messages that are
// empty after trimming whitespace. The turn aborts with zero storage and
// zero generation calls.
var ErrEmptyMessage = errors.New("session: message cannot be empty")

// Scheduler is the slice of the background maintainer the coordinator needs.
type Scheduler interface {
	ScheduleSummarize(sessionID string)
	ScheduleAnalyze(sessionID, messageID, text string)
}

// Config configures the Coordinator.
type Config struct {
	// Persona is the static system instruction block prepended to every
	// prompt.
	Persona string
	// GenerationModel is the model used on the reply path.
	GenerationModel string
	// ContextWindowSize is the number of recent messages included in a
	// prompt. Defaults to memory.DefaultWindowSize.
	ContextWindowSize int
}

// Coordinator orchestrates turns. It owns the per-session ordering contract:
// at most one turn in flight per session, enforced by a per-session mutex,
// with no lock shared across sessions.
type Coordinator struct {
	store  memory.Store
	gen    genai.Generator
	jobs   Scheduler
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState serializes turns for one session.
type sessionState struct {
	mu sync.Mutex
}

// appendRetry covers best-effort post-reply writes: one quick retry, then
// the failure is swallowed (the reply is already delivered) but counted.
var appendRetry = retry.Config{
	MaxAttempts:  2,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     time.Second,
	ShouldRetry: func(err error) bool {
		return errors.Is(err, memory.ErrUnavailable)
	},
}

// New creates a Coordinator. A nil logger falls back to slog.Default.
func New(store memory.Store, gen genai.Generator, jobs Scheduler, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.ContextWindowSize <= 0 {
		cfg.ContextWindowSize = memory.DefaultWindowSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		gen:      gen,
		jobs:     jobs,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*sessionState),
	}
}

// state returns the per-session serialization point, creating it on first use.
func (c *Coordinator) state(sessionID string) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		c.sessions[sessionID] = st
	}
	return st
}

// HandleMessage processes one inbound message as a full turn and emits the
// outcome (reply or error frame) to out. The returned error mirrors what was
// emitted so callers can log and label it; every outcome has already been
// delivered to the channel when HandleMessage returns.
func (c *Coordinator) HandleMessage(ctx context.Context, sessionID, text string, out Sender) error {
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.TurnsTotal.WithLabelValues("validation_error").Inc()
		c.send(sessionID, out, ErrorFrame("Message cannot be empty"))
		return ErrEmptyMessage
	}

	st := c.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := c.logger.With("session_id", sessionID, "trace_id", trace.FromContext(ctx))

	// Summary and window reads are independent; run them concurrently.
	// Read failures degrade to empty memory rather than aborting the turn.
	var (
		summary string
		recent  []memory.Message
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		s, err := c.store.ReadSummary(ctx, sessionID)
		if err != nil {
			log.Warn("session: summary read failed, continuing without", "err", err)
			return
		}
		summary = s
	}()
	go func() {
		defer wg.Done()
		msgs, err := c.store.RecentMessages(ctx, sessionID, c.cfg.ContextWindowSize)
		if err != nil {
			log.Warn("session: history read failed, continuing without", "err", err)
			return
		}
		recent = msgs
	}()
	wg.Wait()

	assembled := prompt.Assemble(prompt.Input{
		Persona: c.cfg.Persona,
		Summary: summary,
		History: memory.RenderTranscript(memory.Window(recent, c.cfg.ContextWindowSize)),
		Message: text,
	})

	start := time.Now()
	res, err := c.gen.Generate(ctx, genai.Request{Model: c.cfg.GenerationModel, Input: assembled})
	metrics.GenerationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("generation_error").Inc()
		log.Error("session: generation failed", "err", err)
		c.send(sessionID, out, ErrorFrame(fmt.Sprintf("Error talking to AI: %v", err)))
		return err
	}

	// Reply first, persist after: a slow or failing store never delays the
	// user-visible answer.
	c.send(sessionID, out, MessageFrame(res.Text))
	metrics.TurnsTotal.WithLabelValues("ok").Inc()

	userMsg := c.append(ctx, log, sessionID, memory.RoleUser, text)
	c.append(ctx, log, sessionID, memory.RoleAssistant, res.Text)

	if c.jobs != nil {
		userMsgID := ""
		if userMsg != nil {
			userMsgID = userMsg.ID
		}
		c.jobs.ScheduleAnalyze(sessionID, userMsgID, text)
		c.jobs.ScheduleSummarize(sessionID)
	}
	return nil
}

// append stores one side of the turn, best-effort. Failures after the reply
// are swallowed by contract but logged and counted.
func (c *Coordinator) append(ctx context.Context, log *slog.Logger, sessionID string, role memory.Role, content string) *memory.Message {
	var msg *memory.Message
	err := retry.Do(ctx, appendRetry, func() error {
		var appendErr error
		msg, appendErr = c.store.AppendMessage(ctx, sessionID, role, content, nil)
		return appendErr
	})
	if err != nil {
		metrics.StorageWriteFailures.Inc()
		log.Error("session: message append failed", "role", role, "err", err)
		return nil
	}
	return msg
}

// send delivers a frame, dropping it when the channel is already closed.
func (c *Coordinator) send(sessionID string, out Sender, f Frame) {
	if err := out.Send(f); err != nil {
		c.logger.Debug("session: frame not delivered", "session_id", sessionID, "type", f.Type, "err", err)
	}
}
