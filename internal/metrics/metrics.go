package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feed_connected",
		Help: "1 while the feed socket is open",
	}, []string{"feed"})

	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_reconnects_scheduled_total",
		Help: "Reconnect attempts scheduled after a failed or lost connection",
	}, []string{"feed"})

	FeedReconnectDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_reconnect_delay_seconds",
		Help:    "Backoff delay chosen for each scheduled reconnect",
		Buckets: []float64{1, 2, 4, 8, 16, 30, 60},
	}, []string{"feed"})

	FeedHeartbeatTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_heartbeat_timeouts_total",
		Help: "Connections force-closed because no pong arrived in time",
	}, []string{"feed"})

	FeedMalformedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_malformed_frames_total",
		Help: "Frames dropped because they could not be decoded",
	}, []string{"feed"})

	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_messages_total",
		Help: "Frames received by type",
	}, []string{"feed", "type"})

	AlertsPlayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_klaxons_played_total",
		Help: "Klaxon playbacks started by sound key",
	}, []string{"key"})

	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_events_suppressed_total",
		Help: "Alert events dropped because alerts are disabled",
	})

	PlaybackErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_playback_errors_total",
		Help: "Failed klaxon or speech playbacks",
	}, []string{"source"})

	Speech = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_speech_total",
		Help: "Spoken announcements by source (audio_url or local)",
	}, []string{"source"})

	SettingsReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_settings_reloads_total",
		Help: "Sound configuration reloads (full or single asset)",
	}, []string{"kind"})

	SettingsFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_settings_fetch_errors_total",
		Help: "Configuration fetches that fell back to built-in defaults",
	})

	TTSDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_synthesis_duration_seconds",
		Help:    "Local speech synthesis latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	})

	TTSErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_errors_total",
		Help: "Speech synthesis failures by engine",
	}, []string{"engine"})

	IdleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idle_tier_transitions_total",
		Help: "Idle tier actions executed by this tab",
	}, []string{"tier"})

	SessionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_store_changes_total",
		Help: "Personnel session writes and clears",
	}, []string{"op"})
)
