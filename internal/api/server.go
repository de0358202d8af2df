package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hostbridge/hostbridge/internal/agent"
	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/host"
	"github.com/hostbridge/hostbridge/internal/store"
)

// Server is the management API server: agent status, the intercept
// journal, rule management, and the live intercept feed.
type Server struct {
	config      config.ServerConfig
	journal     store.Engine
	cfgLoader   *config.Loader
	agent       *agent.Agent
	lifecycle   *host.ProcessLifecycle
	reloadRules func() error
	feed        *InterceptFeed
	mux         *http.ServeMux
	httpServer  *http.Server
	logger      *slog.Logger
}

// NewServer creates a new management API server. reloadRules recompiles
// the interception rules after a config reload; it may be nil.
func NewServer(
	cfg config.ServerConfig,
	journal store.Engine,
	cfgLoader *config.Loader,
	ag *agent.Agent,
	lifecycle *host.ProcessLifecycle,
	reloadRules func() error,
	logger *slog.Logger,
) *Server {
	s := &Server{
		config:      cfg,
		journal:     journal,
		cfgLoader:   cfgLoader,
		agent:       ag,
		lifecycle:   lifecycle,
		reloadRules: reloadRules,
		feed:        NewInterceptFeed(journal, logger, cfg.CORS),
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Intercept journal
	s.mux.HandleFunc("GET /api/intercepts", s.handleListIntercepts)
	s.mux.HandleFunc("POST /api/intercepts/prune", s.handlePruneIntercepts)

	// Rules
	s.mux.HandleFunc("GET /api/rules", s.handleListRules)
	s.mux.HandleFunc("POST /api/rules/reload", s.handleReloadRules)

	// Embedded modules
	s.mux.HandleFunc("GET /api/modules", s.handleListModules)

	// System
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/state", s.handleState)

	// Live feed
	s.mux.Handle("GET /api/ws/intercepts", s.feed)
}

// Handler returns the HTTP handler (for mounting under another server).
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start starts the API server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("management API listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// BroadcastIntercept publishes an intercept record on the live feed.
func (s *Server) BroadcastIntercept(rec store.Intercept) {
	s.feed.Publish(&rec)
}

// corsMiddleware adds CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Mux returns the underlying ServeMux for mounting additional routes
// (the metrics endpoint mounts here).
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// APIAddr makes a listen address from a port.
func APIAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
