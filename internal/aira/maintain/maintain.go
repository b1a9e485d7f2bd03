// Package maintain implements the background memory maintenance jobs: the
// summarization job that compresses recent history into the long-term
// summary, and the analysis job that annotates user messages with sentiment
// and topics. Both jobs are fire-and-forget: they run detached from the turn
// that scheduled them, their failures are logged and counted but never reach
// the user, and they never roll back an already-delivered reply.
package maintain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ai-code-co/aira/internal/aira/genai"
	"github.com/ai-code-co/aira/internal/aira/memory"
	"github.com/ai-code-co/aira/internal/aira/metrics"
)

// DefaultSummarizeAfter is how many new messages must accumulate before the
// summarization job actually re-summarizes.
const DefaultSummarizeAfter = 25

// jobTimeout bounds each detached job; background work is not on the reply
// path so a generous ceiling is fine.
const jobTimeout = 2 * time.Minute

// Config configures the Maintainer.
type Config struct {
	// SummaryModel is the model used by the summarization job.
	SummaryModel string
	// AnalysisModel is the model used by the analysis job.
	AnalysisModel string
	// SummarizeAfter is the new-message threshold that gates the
	// summarization job. Defaults to DefaultSummarizeAfter.
	SummarizeAfter int
}

// Maintainer runs the two background memory jobs against the shared store.
// Safe for concurrent use; each scheduled job runs on its own goroutine.
type Maintainer struct {
	store  memory.Store
	gen    genai.Generator
	cfg    Config
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a Maintainer. A nil logger falls back to slog.Default.
func New(store memory.Store, gen genai.Generator, cfg Config, logger *slog.Logger) *Maintainer {
	if cfg.SummarizeAfter <= 0 {
		cfg.SummarizeAfter = DefaultSummarizeAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{store: store, gen: gen, cfg: cfg, logger: logger}
}

// ScheduleSummarize runs the summarization job for the session on a detached
// goroutine. The caller never observes the result.
func (m *Maintainer) ScheduleSummarize(sessionID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := m.Summarize(ctx, sessionID); err != nil {
			m.logger.Warn("maintain: summarization job failed", "session_id", sessionID, "err", err)
			metrics.BackgroundJobFailures.WithLabelValues("summarize").Inc()
		}
	}()
}

// ScheduleAnalyze runs the analysis job for one user message on a detached
// goroutine. messageID may be empty when the message append failed; the
// analysis then still runs but nothing is attached.
func (m *Maintainer) ScheduleAnalyze(sessionID, messageID, text string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := m.Analyze(ctx, sessionID, messageID, text); err != nil {
			m.logger.Warn("maintain: analysis job failed", "session_id", sessionID, "err", err)
			metrics.BackgroundJobFailures.WithLabelValues("analyze").Inc()
		}
	}()
}

// Wait blocks until all scheduled jobs have finished. Used during shutdown
// and in tests; in-flight jobs are allowed to complete, never cancelled.
func (m *Maintainer) Wait() {
	m.wg.Wait()
}

// summaryPromptTmpl asks the model for a compact structured summary. The
// single %s verb receives the rendered transcript.
const summaryPromptTmpl = "Summarize the user's recent conversation into short bullet points suitable for long-term memory.\n\n" +
	"Conversation:\n%s\n\n" +
	"Return a short JSON object with keys: 'profile_summary', 'important_facts', 'current_concerns'. " +
	"Keep each field short."

// Summarize regenerates the session's long-term summary from its most recent
// messages. It is idempotent and gated: when fewer than SummarizeAfter new
// messages have accumulated since the last summary write, it does nothing.
//
// The model output is parsed as a structured summary object; when parsing or
// shape validation fails, the raw text is stored verbatim under the
// "summary" fact key so the output is never dropped.
func (m *Maintainer) Summarize(ctx context.Context, sessionID string) error {
	fresh, err := m.store.MessagesSinceSummary(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("count fresh messages: %w", err)
	}
	if fresh < m.cfg.SummarizeAfter {
		m.logger.Debug("maintain: summarization skipped, below threshold",
			"session_id", sessionID, "fresh", fresh, "threshold", m.cfg.SummarizeAfter)
		return nil
	}

	msgs, err := m.store.RecentMessages(ctx, sessionID, m.cfg.SummarizeAfter)
	if err != nil {
		return fmt.Errorf("read recent messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	input := fmt.Sprintf(summaryPromptTmpl, memory.RenderTranscript(msgs))
	res, err := m.gen.Generate(ctx, genai.Request{Model: m.cfg.SummaryModel, Input: input})
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}

	facts := ParseSummaryFacts(res.Text)
	if err := m.store.UpdateSummary(ctx, sessionID, res.Text, facts); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	m.logger.Info("maintain: summary updated",
		"session_id", sessionID, "messages", len(msgs), "summary_len", len(res.Text))
	return nil
}

// analysisPromptTmpl asks the model to classify one user message. The single
// %s verb receives the message text.
const analysisPromptTmpl = "Perform a short analysis of the following user message. Return a JSON object with fields:\n" +
	"  - sentiment: one of {positive, neutral, negative}\n" +
	"  - sentiment_score: a number between -1 and 1\n" +
	"  - topics: array of short topic labels\n\n" +
	"Message: '''%s'''"

// Analyze classifies one user message and attaches the result to the stored
// message's metadata. Classification failures degrade to a neutral default;
// only backend or storage faults surface as errors (to the job logger, never
// the user).
func (m *Maintainer) Analyze(ctx context.Context, sessionID, messageID, text string) error {
	input := fmt.Sprintf(analysisPromptTmpl, text)
	res, err := m.gen.Generate(ctx, genai.Request{Model: m.cfg.AnalysisModel, Input: input})
	if err != nil {
		return fmt.Errorf("generate analysis: %w", err)
	}

	analysis := ParseAnalysis(res.Text)
	if messageID == "" {
		return nil
	}

	meta := map[string]any{
		"sentiment":       analysis.Sentiment,
		"sentiment_score": analysis.SentimentScore,
		"topics":          analysis.Topics,
	}
	if err := m.store.AttachMetadata(ctx, messageID, meta); err != nil {
		return fmt.Errorf("attach analysis: %w", err)
	}
	return nil
}
