package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hubenschmidt/station-notify/internal/alert"
	"github.com/hubenschmidt/station-notify/internal/audio"
	"github.com/hubenschmidt/station-notify/internal/bus"
	"github.com/hubenschmidt/station-notify/internal/feed"
	"github.com/hubenschmidt/station-notify/internal/httpclient"
	"github.com/hubenschmidt/station-notify/internal/idle"
	"github.com/hubenschmidt/station-notify/internal/session"
	"github.com/hubenschmidt/station-notify/internal/tts"
)

// agent is one console: both feeds, the idle controller, the alert engine
// and the session slot it shares with the rest of its group.
type agent struct {
	cfg       config
	redis     *redis.Client
	bus       bus.Bus
	store     session.Store
	incidents *feed.Manager
	alerts    *feed.Manager
	engine    *alert.Engine
	idle      *idle.Controller
	hub       *hub
}

func newAgent(cfg config) (*agent, error) {
	a := &agent{cfg: cfg, hub: newHub()}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
	}

	var err error
	a.bus, err = bus.New(bus.Type(cfg.Bus), bus.WithRedisClient(a.redis), bus.WithPrefix(cfg.Group+":"))
	if err != nil {
		return nil, fmt.Errorf("create %s bus: %w", cfg.Bus, err)
	}

	a.store, err = session.NewStore(session.StoreType(cfg.SessionStore),
		session.WithBus(a.bus),
		session.WithSlot(cfg.SessionSlot),
		session.WithRedisClient(a.redis),
		session.WithSQLitePath(cfg.SQLitePath),
		session.WithPostgresDSN(cfg.PostgresDSN),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s session store: %w", cfg.SessionStore, err)
	}

	output, err := newOutput(cfg.Player)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	source, err := alert.NewHTTPSource(cfg.ConfigURL, httpclient.NewPooled(4, 15*time.Second, userAgent(cfg)), header)
	if err != nil {
		return nil, err
	}
	a.engine, err = alert.New(alert.Options{
		Source: source,
		Output: output,
		Speech: newSpeaker(cfg),
	})
	if err != nil {
		return nil, err
	}

	a.alerts = feed.New(a.feedOptions("alerts", cfg.AlertsURL, a.engine.Enabled))
	a.engine.Attach(a.alerts)

	a.incidents = feed.New(a.feedOptions("incidents", cfg.IncidentsURL, nil))
	a.incidents.Subscribe(func(msg feed.Message) { a.hub.broadcast(msg.Raw) })

	a.idle, err = idle.New(idle.Options{
		Group:          cfg.Group,
		SoftResetAfter: cfg.SoftResetAfter,
		LogoutAfter:    cfg.LogoutAfter,
		Bus:            a.bus,
		Store:          a.store,
		OnSoftReset:    func() { a.hub.publish("soft_reset", nil) },
		OnLogout: func(rec *session.Record) {
			a.hub.publish("logout", map[string]any{"personnel_id": rec.PersonnelID})
		},
		OnTier: func(t idle.Tier) { a.hub.publish("idle_tier", map[string]any{"tier": t.String()}) },
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *agent) feedOptions(name, url string, gate func() bool) feed.Options {
	return feed.Options{
		Name:         name,
		URL:          url,
		ClientName:   a.cfg.StationName,
		PingInterval: a.cfg.PingInterval,
		PongTimeout:  a.cfg.PongTimeout,
		BaseDelay:    a.cfg.BaseDelay,
		MaxDelay:     a.cfg.MaxDelay,
		Gate:         gate,
		OnConnected: func(c feed.Connected) {
			slog.Info("feed registered", "feed", c.Feed, "tenant", c.Tenant, "connection_id", c.ConnectionID)
		},
		OnStatus: func(s feed.Status) {
			a.hub.publish("feed_status", map[string]any{"feed": name, "status": s.String()})
		},
	}
}

// start joins the idle group and connects. The alert feed connects only
// once alerts are enabled.
func (a *agent) start(ctx context.Context) error {
	if err := a.idle.Start(ctx); err != nil {
		return err
	}
	a.incidents.Connect()
	if a.cfg.AlertsEnabled {
		if err := a.engine.Enable(ctx); err != nil {
			slog.Warn("enable alerts", "error", err)
		}
	}
	return nil
}

// close shuts every component down explicitly; no feed reconnects and no
// idle timer fires afterwards.
func (a *agent) close() {
	if a.incidents != nil {
		a.incidents.Close()
	}
	if a.alerts != nil {
		a.alerts.Close()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.idle != nil {
		a.idle.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func newOutput(player string) (audio.Output, error) {
	if player == "" || player == "discard" {
		return audio.Discard{}, nil
	}
	return audio.NewCommandOutput(player)
}

func userAgent(cfg config) httpclient.Option {
	return httpclient.WithUserAgent(fmt.Sprintf("station-notify (%s)", cfg.StationName))
}

// newSpeaker registers every configured speech backend. espeak is always
// available as the offline fallback.
func newSpeaker(cfg config) *tts.Speaker {
	client := httpclient.NewPooled(cfg.TTSPoolSize, 30*time.Second, userAgent(cfg))
	backends := map[string]tts.Synthesizer{
		tts.EngineEspeak: tts.NewEspeak(cfg.EspeakBin),
	}
	if cfg.PiperURL != "" {
		backends[tts.EnginePiper] = tts.NewPiper(cfg.PiperURL, cfg.PiperVoice, client)
	}
	if cfg.KokoroURL != "" {
		backends[tts.EngineOpenAI] = tts.NewOpenAI(cfg.KokoroURL, "kokoro", "af_heart", "", client)
	}
	if cfg.MelottsURL != "" {
		backends[tts.EngineMelo] = tts.NewMelo(cfg.MelottsURL, client)
	}
	if cfg.ElevenlabsAPIKey != "" {
		backends[tts.EngineElevenLabs] = tts.NewElevenLabs(cfg.ElevenlabsAPIKey, cfg.ElevenlabsVoiceID, cfg.ElevenlabsModelID, client)
	}
	return tts.NewSpeaker(backends, cfg.TTSEngine, tts.EngineEspeak, tts.Voice{})
}
