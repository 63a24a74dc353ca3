// Package gateway implements Admission/Lifecycle (C8) and the WebSocket
// transport carrying the Event Bus (C5) to each client. Grounded on
// vanducng-goclaw/internal/gateway/server.go's upgrade/mux/Start/shutdown
// shape, with per-client addressing pushed down into the bus itself (see
// internal/bus) and payload validation added via go-playground/validator.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/terminusdev/terminus/internal/bus"
	"github.com/terminusdev/terminus/internal/sessions"
	"github.com/terminusdev/terminus/internal/workflow"
	"github.com/terminusdev/terminus/pkg/protocol"
)

// shutdownGrace is how long Server.Start waits for in-flight workflows to
// observe cancellation before closing, per spec.md §4.8.
const shutdownGrace = 100 * time.Millisecond

// Readiness reports the outcome of the C8 startup precondition check.
type Readiness struct {
	Ready  bool
	Reason string
}

// Server is the WS/HTTP transport and lifecycle owner.
type Server struct {
	Addr      string
	Registry  *sessions.Registry
	Bus       *bus.Bus
	Engine    *workflow.Engine
	Readiness Readiness

	validate *validator.Validate
	upgrader websocket.Upgrader
	http     *http.Server
}

// New builds a Server.
func New(addr string, registry *sessions.Registry, eventBus *bus.Bus, engine *workflow.Engine, readiness Readiness) *Server {
	return &Server{
		Addr:      addr,
		Registry:  registry,
		Bus:       eventBus,
		Engine:    engine,
		Readiness: readiness,
		validate:  validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// BuildMux registers the protocol WS endpoint, the diagnostic echo
// endpoint, and the health check.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/diagnostic", s.handleDiagnostic)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start runs the HTTP listener until ctx is cancelled, then shuts down
// gracefully: cancel every in-flight workflow, wait shutdownGrace, close.
func (s *Server) Start(ctx context.Context) error {
	// Request contexts derive from ctx, so cancelling ctx cancels every
	// connection's workflow.
	s.http = &http.Server{
		Addr:        s.Addr,
		Handler:     s.BuildMux(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("gateway listening", "addr", s.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("gateway shutting down")
		time.Sleep(shutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ready"}
	if !s.Readiness.Ready {
		body["status"] = "degraded"
		body["reason"] = s.Readiness.Reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleDiagnostic is a bare echo endpoint separate from the protocol
// endpoint, ported from original_source's raw @app.websocket("/ws")
// handler, kept here as /diagnostic per SPEC_FULL.md's supplemented
// features.
func (s *Server) handleDiagnostic(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.WriteJSON(protocol.NewEnvelope("status", map[string]string{"message": "raw websocket online"}))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteJSON(protocol.NewEnvelope("echo", map[string]string{"message": string(msg)}))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := s.Registry.Connect()
	client := newClient(conn, sess, s.Bus, s.Engine, s.validate)
	defer func() {
		s.Registry.Disconnect(sess.ClientID)
		s.Bus.Unsubscribe(sess.ClientID)
		conn.Close()
	}()

	client.run(r.Context())
}
