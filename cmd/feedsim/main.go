// feedsim serves the incident and alert feeds and the alert configuration
// endpoints so a station agent can be exercised without the department
// server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hubenschmidt/station-notify/internal/alert"
	"github.com/hubenschmidt/station-notify/internal/env"
)

func main() {
	addr := pflag.String("addr", env.Str("FEEDSIM_ADDR", ":8081"), "listen address")
	tenant := pflag.String("tenant", env.Str("FEEDSIM_TENANT", "dept-1"), "tenant id sent in connected frames")
	pingInterval := pflag.Duration("ping-interval", 25*time.Second, "server ping interval (0 disables)")
	maxClients := pflag.Int("max-clients", 100, "maximum concurrent feed connections")
	alertsEnabled := pflag.Bool("alerts-enabled", true, "initial department-wide alert setting")
	ttsEnabled := pflag.Bool("tts-enabled", true, "initial department-wide speech setting")
	pflag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	sim := newSimulator(simConfig{
		tenant:       *tenant,
		pingInterval: *pingInterval,
		maxClients:   *maxClients,
		settings:     alert.Settings{Enabled: *alertsEnabled, TTSEnabled: *ttsEnabled, Version: 1},
	})
	mux := http.NewServeMux()
	sim.routes(mux)
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("feedsim starting", "addr", *addr, "tenant", *tenant)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
