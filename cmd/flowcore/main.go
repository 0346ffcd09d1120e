package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rendis/flowcore/internal/engine"
	"github.com/rendis/flowcore/internal/invoker"
	"github.com/rendis/flowcore/internal/logging"
	"github.com/rendis/flowcore/internal/notify"
	"github.com/rendis/flowcore/internal/scheduler"
	"github.com/rendis/flowcore/internal/store"
	"github.com/rendis/flowcore/internal/validation"
	"github.com/rendis/flowcore/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		slog.Error("flowcore exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	eventLog := store.NewEventLog(st)
	hub := notify.NewMemoryHub()
	notifier := notify.NewNotifier(hub, notify.WithLogger(logger))

	inv := invoker.NewHTTPInvoker(invoker.HTTPConfig{
		BaseURL:   cfg.AgentBaseURL,
		AuthToken: cfg.AgentAuthToken,
	})

	eng := engine.NewEngine(st, eventLog, inv, notifier, logger, engine.Config{
		MaxSteps:     cfg.MaxSteps,
		HistoryLimit: cfg.HistoryLimit,
	})

	validator, err := validation.NewPipeline(st)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(st, eng, logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("missed-run recovery failed", slog.String("error", err.Error()))
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()

	httpServer := startHTTP(cfg.ListenAddr, hub, logger)
	defer shutdownHTTP(httpServer, logger)

	flowServer := mcp.NewFlowServer(mcp.FlowServerDeps{
		Runner:    eng,
		Store:     st,
		Validator: validator,
		Hub:       hub,
		Logger:    logger,
	})
	flowServer.StartEventBridge(ctx)

	logger.Info("flowcore started",
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("db_path", cfg.DBPath))

	// Blocks until stdin closes or the context is cancelled.
	if err := flowServer.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// startHTTP serves the SSE status stream.
func startHTTP(addr string, hub notify.Hub, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/events", notify.NewSSEHandler(hub, logger))

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown failed", slog.String("error", err.Error()))
	}
}
