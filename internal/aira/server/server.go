// Package server exposes the websocket session channel. It is thin glue:
// frame the wire messages, resolve a stable session identifier, and hand
// each inbound message to the session coordinator. All conversational state
// lives behind the coordinator and the memory store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ai-code-co/aira/internal/aira/memory"
	"github.com/ai-code-co/aira/internal/aira/metrics"
	"github.com/ai-code-co/aira/internal/aira/session"
)

// welcomeMessage is sent once per connection after the memory record is
// ensured.
const welcomeMessage = "Connected to Aira."

// inboundFrame is the wire shape the client sends. Type is optional; when
// present it must be "message".
type inboundFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Server hosts the websocket endpoint plus health and metrics handlers.
type Server struct {
	addr     string
	coord    *session.Coordinator
	store    memory.Store
	upgrader websocket.Upgrader
	logger   *slog.Logger
	httpSrv  *http.Server
}

// New creates a Server listening on addr. A nil logger falls back to
// slog.Default.
func New(addr string, coord *session.Coordinator, store memory.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:  addr,
		coord: coord,
		store: store,
		upgrader: websocket.Upgrader{
			// The channel carries no credentials; origin policy is left to
			// the deployment's reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully. In-flight
// turns and background jobs are allowed to complete; open websockets are
// closed by the HTTP shutdown.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/ws/", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// wsSender serializes writes to one websocket connection; gorilla/websocket
// allows at most one concurrent writer.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(f session.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(f)
}

// handleWS upgrades the connection and runs the per-connection read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("server: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sessionID := resolveSessionID(r)
	log := s.logger.With("session_id", sessionID)
	out := &wsSender{conn: conn}

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	// Ensure the memory record exists before the first turn. A storage
	// fault here degrades to a fresh-looking session rather than refusing
	// the connection.
	if _, err := s.store.GetOrCreate(r.Context(), sessionID); err != nil {
		log.Warn("server: memory record lookup failed", "err", err)
	}

	if err := out.Send(session.SystemFrame(welcomeMessage)); err != nil {
		log.Debug("server: welcome frame not delivered", "err", err)
		return
	}

	log.Info("server: session connected")
	defer log.Info("server: session disconnected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("server: websocket read failed", "err", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			out.Send(session.ErrorFrame("Invalid JSON payload"))
			continue
		}
		if frame.Type != "" && frame.Type != session.FrameMessage {
			out.Send(session.ErrorFrame("Unsupported payload type"))
			continue
		}

		// Turns on one connection are processed in order; the coordinator
		// additionally serializes turns that arrive for the same session
		// identifier over different connections.
		if err := s.coord.HandleMessage(r.Context(), sessionID, frame.Message, out); err != nil {
			log.Debug("server: turn ended with error", "err", err)
		}
	}
}

// resolveSessionID picks the stable session identifier for a connection:
// the user_id query parameter, else a trailing /ws/{user_id} path segment,
// else an address-derived anonymous id.
func resolveSessionID(r *http.Request) string {
	if id := r.URL.Query().Get("user_id"); id != "" {
		return "user:" + id
	}
	if rest := strings.TrimPrefix(r.URL.Path, "/ws/"); rest != "" && rest != r.URL.Path {
		if id := strings.Trim(rest, "/"); id != "" {
			return "path:" + id
		}
	}
	host, port, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "anon:" + r.RemoteAddr
	}
	return "anon:" + host + "-" + port
}
