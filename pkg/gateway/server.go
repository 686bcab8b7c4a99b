// Package gateway serves the websocket session protocol. One connection is
// bound to one session for its whole lifetime; all session semantics live in
// the session actor, the gateway only moves frames.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/solace-labs/sessiond/internal/observability"
	"github.com/solace-labs/sessiond/internal/tracing"
	"github.com/solace-labs/sessiond/pkg/session"
	"github.com/solace-labs/sessiond/pkg/transcript"
)

// Session is the per-session surface the gateway drives.
type Session interface {
	OnConnect(ctx context.Context, sink session.Sink) error
	OnUserMessage(ctx context.Context, text string, sink session.Sink) error
}

// Sessions resolves a session id to its live actor.
type Sessions interface {
	Get(sessionID string) (Session, error)
}

// Config holds server configuration
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	Sessions        Sessions
	Searcher        Searcher // optional; enables /search when set
	Logger          zerolog.Logger
}

// Server is the websocket gateway.
type Server struct {
	port            int
	shutdownTimeout time.Duration
	sessions        Sessions
	searcher        Searcher
	clients         *ClientRegistry
	logger          zerolog.Logger

	server         *http.Server
	upgrader       websocket.Upgrader
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	connWG         sync.WaitGroup
}

// NewServer creates the gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session source is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Server{
		port:            cfg.Port,
		shutdownTimeout: cfg.ShutdownTimeout,
		sessions:        cfg.Sessions,
		searcher:        cfg.Searcher,
		clients:         NewClientRegistry(),
		logger:          cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.searcher != nil {
		mux.HandleFunc("/search", s.handleSearch)
	}
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start begins serving. Non-blocking; errors after startup are logged.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop refuses new connections, waits for active ones up to the shutdown
// timeout, then closes whatever remains.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All connections drained")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.All() {
		client.close()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	sessionID := r.URL.Query().Get("session")
	if err := transcript.ValidateSessionID(sessionID); err != nil {
		http.Error(w, fmt.Sprintf("invalid session id: %v", err), http.StatusBadRequest)
		return
	}

	actor, err := s.sessions.Get(sessionID)
	if err != nil {
		http.Error(w, "failed to resolve session", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := newClient(clientID, sessionID, r.RemoteAddr, conn)
	s.clients.Add(client)

	ctx := tracing.WithTraceID(context.Background(), tracing.NewTraceID())
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx = tracing.WithClientID(ctx, clientID)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	logger.Info().Str("ip", r.RemoteAddr).Msg("Client connected")

	if err := actor.OnConnect(ctx, client); err != nil {
		logger.Error().Err(err).Msg("Failed to replay session history")
		client.close()
		s.clients.Remove(clientID)
		return
	}

	s.connWG.Add(1)
	go s.readLoop(ctx, client, actor, logger)
}

// readLoop pumps inbound frames into the session actor. Messages are handled
// synchronously, so per-connection arrival order is preserved end to end.
func (s *Server) readLoop(ctx context.Context, client *Client, actor Session, logger zerolog.Logger) {
	defer func() {
		client.close()
		s.clients.Remove(client.ID)
		s.connWG.Done()
		logger.Info().Msg("Client disconnected")
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			if err := client.SendError("malformed frame"); err != nil {
				return
			}
			continue
		}

		switch frame.Type {
		case FrameUserMessage:
			// A disconnect mid-generation does not abort the cycle; the
			// response is still appended, just not delivered.
			if err := actor.OnUserMessage(ctx, frame.Text, client); err != nil {
				logger.Error().Err(err).Msg("Failed to process user message")
				if err := client.SendError("internal error"); err != nil {
					return
				}
			}
		default:
			if err := client.SendError(fmt.Sprintf("unknown frame type: %q", frame.Type)); err != nil {
				return
			}
		}
	}
}
