package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubenschmidt/station-notify/internal/feed"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	a, err := newAgent(cfg)
	if err != nil {
		slog.Error("agent setup failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		store:  a.store,
		idle:   a.idle,
		engine: a.engine,
		feeds:  []*feed.Manager{a.incidents, a.alerts},
		hub:    a.hub,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		a.close()
		srv.Shutdown(ctx)
	}()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := a.start(startCtx); err != nil {
		cancel()
		slog.Error("agent start failed", "error", err)
		a.close()
		os.Exit(1)
	}
	cancel()

	slog.Info("notifyd starting", "addr", addr, "group", cfg.Group, "station", cfg.StationName,
		"bus", cfg.Bus, "session_store", cfg.SessionStore)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("notifyd stopped")
}
