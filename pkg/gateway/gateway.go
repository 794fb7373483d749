// Package gateway exposes the provider manager over HTTP: provider
// administration, operation submission, conflict and health history
// queries, and a websocket stream of health events.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/audit"
	"github.com/DeBrosOfficial/hyperdrive/pkg/hyperdrive"
	"github.com/DeBrosOfficial/hyperdrive/pkg/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Config holds the HTTP server settings.
type Config struct {
	ListenAddr      string
	NodeID          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Dependencies are the components the gateway serves. Manager is required.
type Dependencies struct {
	Manager *hyperdrive.Manager
	// Audit enables the history endpoints
	Audit audit.Log
	// Peers reports connected gossip peers for /v1/status
	Peers func() int
}

// Gateway is the admin HTTP API.
type Gateway struct {
	cfg       Config
	mgr       *hyperdrive.Manager
	audit     audit.Log
	peers     func() int
	logger    *logging.ColoredLogger
	router    chi.Router
	startedAt time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	closing  chan struct{}
	closed   bool
}

// New builds the router. The server is started by Start.
func New(cfg Config, deps Dependencies, logger *logging.ColoredLogger) (*Gateway, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("gateway needs a provider manager")
	}
	if logger == nil {
		var err error
		logger, err = logging.NewDefaultLogger()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	g := &Gateway{
		cfg:       cfg,
		mgr:       deps.Manager,
		audit:     deps.Audit,
		peers:     deps.Peers,
		logger:    logger,
		startedAt: time.Now(),
		closing:   make(chan struct{}),
	}
	g.router = g.routes()
	return g, nil
}

// Handler returns the router with all middleware applied.
func (g *Gateway) Handler() http.Handler { return g.router }

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(g.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.healthHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", g.statusHandler)

		r.Get("/providers", g.listProvidersHandler)
		r.Get("/providers/{id}/health", g.providerHealthHandler)
		r.Get("/providers/{id}/history", g.healthHistoryHandler)
		r.Post("/providers/{id}/activate", g.activateHandler)
		r.Post("/providers/{id}/deactivate", g.deactivateHandler)

		r.Post("/execute", g.executeHandler)
		r.Get("/conflicts/{target}", g.conflictsHandler)
		r.Get("/late/{target}", g.lateRepliesHandler)

		r.Get("/events", g.eventsHandler)
	})
	return r
}

// requestLogger logs one line per request through the component logger.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.logger.ComponentDebug(logging.ComponentGateway, "HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start listens on cfg.ListenAddr and serves in the background.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server != nil {
		return fmt.Errorf("gateway already started")
	}

	ln, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.cfg.ListenAddr, err)
	}
	g.listener = ln
	g.server = &http.Server{
		Handler:      g.router,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.logger.ComponentError(logging.ComponentGateway, "HTTP server failed", zap.Error(err))
		}
	}()

	g.logger.ComponentInfo(logging.ComponentGateway, "HTTP gateway listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or empty before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Shutdown closes event streams and drains in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	close(g.closing)
	server := g.server
	g.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	g.logger.ComponentInfo(logging.ComponentGateway, "HTTP gateway stopped")
	return nil
}
