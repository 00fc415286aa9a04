package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/animus-coder/testpilot/internal/app"
	"github.com/animus-coder/testpilot/internal/config"
	"github.com/animus-coder/testpilot/internal/observability"
	"github.com/animus-coder/testpilot/internal/rpc/runner"
	"github.com/animus-coder/testpilot/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Server hosts health, metrics and the generation stream endpoints.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	runner  runner.Runner
	metrics *observability.Metrics
}

// NewServer constructs a daemon instance.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	metrics := observability.NewMetrics()
	a, err := app.Build(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	r := &runner.BulkRunner{Units: a.Store, NewLoop: a.LoopForRequest, Logger: logger.Named("runner")}
	return &Server{cfg: cfg, logger: logger, runner: r, metrics: metrics}, nil
}

// Handler builds the daemon's routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.Handle("/generate", runner.NewHandler(s.runner, s.metrics))

	if s.transport() == "ndjson" {
		return mux
	}
	path, handler := runner.NewConnectHandler(s.runner, s.metrics)
	mux.Handle(path, handler)
	return h2c.NewHandler(mux, &http2.Server{})
}

// Run listens on the configured address and blocks until ctx ends or the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs on ln; it shuts down gracefully once ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting testpilot daemon",
			zap.String("addr", ln.Addr().String()),
			zap.String("transport", s.transport()),
			zap.String("version", version.Full()),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down testpilot daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) transport() string {
	t := strings.ToLower(strings.TrimSpace(s.cfg.Server.Transport))
	if t == "" {
		return "connect"
	}
	return t
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`, version.Version)
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
