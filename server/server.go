// Package server wires the chart bot together: configuration watcher,
// platform client, completion client, session store, batch coordinator,
// push dispatcher, and the HTTP surface in front of them.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/linwei/chartline/config"
	"github.com/linwei/chartline/server/batch"
	"github.com/linwei/chartline/server/handlers"
	"github.com/linwei/chartline/server/line"
	"github.com/linwei/chartline/server/llm"
	"github.com/linwei/chartline/server/metrics"
	"github.com/linwei/chartline/server/middleware"
	"github.com/linwei/chartline/server/push"
	"github.com/linwei/chartline/server/session"
)

// NewRouter builds the HTTP route tree with the standard middleware
// stack applied.
func NewRouter(webhookHandler http.Handler, m *metrics.Metrics, logger *zap.Logger, cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTimer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.PrometheusMetrics(m))
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout))

	r.Post("/webhook", webhookHandler.ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", m.Handler())

	return r
}

// Server is the fully assembled bot service.
type Server struct {
	httpServer *http.Server
	dispatcher *push.Dispatcher
	watcher    config.Watcher
	logger     *zap.Logger
	logLevel   zap.AtomicLevel
	metrics    *metrics.Metrics
}

// NewServer loads configuration from path, starts a config watcher, and
// assembles the service. logLevel must be the level the given logger
// was built with; reloaded configs are applied through it.
func NewServer(configPath string, logger *zap.Logger, logLevel zap.AtomicLevel) (*Server, error) {
	watcher, err := config.NewConfigWatcher(configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	return NewServerWithWatcher(watcher, logger, logLevel)
}

// NewServerWithWatcher assembles the service around an existing config
// watcher. Tests use this with a mock watcher.
func NewServerWithWatcher(watcher config.Watcher, logger *zap.Logger, logLevel zap.AtomicLevel) (*Server, error) {
	cfg := watcher.GetCurrentConfig()

	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		logLevel.SetLevel(level)
	}

	m := metrics.NewMetrics()

	messenger, err := line.NewClient(cfg.Line.ChannelToken, logger)
	if err != nil {
		return nil, fmt.Errorf("messaging client: %w", err)
	}

	completer, err := llm.New(watcher, logger, m)
	if err != nil {
		return nil, fmt.Errorf("completion client: %w", err)
	}

	dispatcher := push.NewDispatcher(cfg.Batch.PushQueueSize, messenger, logger, m)

	store := session.NewStore()
	coordinator := batch.NewCoordinator(store, completer, messenger, dispatcher, watcher, logger, m)

	webhookHandler := handlers.NewWebhookHandler(coordinator, watcher, logger, m)
	router := NewRouter(webhookHandler, m, logger, cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
		dispatcher: dispatcher,
		watcher:    watcher,
		logger:     logger,
		logLevel:   logLevel,
		metrics:    m,
	}, nil
}

// ApplyConfigUpdates consumes reloaded configurations from the watcher
// and applies the runtime-adjustable settings, currently the log level.
// Per-call tunables (batch window, model parameters) need no handling
// here; their readers pull from the watcher directly. Blocks until ctx
// is done or the subscription closes.
func ApplyConfigUpdates(ctx context.Context, watcher config.Watcher, logLevel zap.AtomicLevel, logger *zap.Logger) error {
	updates := watcher.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-updates:
			if !ok {
				return nil
			}
			level, err := zapcore.ParseLevel(cfg.Logging.Level)
			if err != nil {
				logger.Warn("Reloaded config has unknown log level",
					zap.String("level", cfg.Logging.Level),
				)
				continue
			}
			if logLevel.Level() != level {
				logLevel.SetLevel(level)
				logger.Info("Log level updated", zap.String("level", level.String()))
			}
		}
	}
}

// Start runs the HTTP server and the push dispatcher until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.watcher.GetCurrentConfig()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Server started", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.dispatcher.Run(gctx); err != nil && err != context.Canceled {
			return fmt.Errorf("push dispatcher: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ApplyConfigUpdates(gctx, s.watcher, s.logLevel, s.logger)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		s.logger.Info("Shutting down server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return s.watcher.Close()
	})

	return g.Wait()
}
