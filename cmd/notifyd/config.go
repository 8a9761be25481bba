package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubenschmidt/station-notify/internal/env"
	"github.com/hubenschmidt/station-notify/internal/session"
)

// config is read from NOTIFY_CONFIG_FILE (YAML) when set, then from the
// environment. Environment values win.
type config struct {
	Port        string `yaml:"port"`
	Group       string `yaml:"group"`
	StationName string `yaml:"station_name"`

	IncidentsURL string `yaml:"incidents_url"`
	AlertsURL    string `yaml:"alerts_url"`
	ConfigURL    string `yaml:"config_url"`
	AuthToken    string `yaml:"auth_token"`

	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	BaseDelay    time.Duration `yaml:"reconnect_base_delay"`
	MaxDelay     time.Duration `yaml:"reconnect_max_delay"`

	Bus          string `yaml:"bus"`
	RedisURL     string `yaml:"redis_url"`
	SessionStore string `yaml:"session_store"`
	SessionSlot  string `yaml:"session_slot"`
	SQLitePath   string `yaml:"sqlite_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`

	SoftResetAfter time.Duration `yaml:"idle_soft_reset"`
	LogoutAfter    time.Duration `yaml:"idle_logout"`

	AlertsEnabled bool   `yaml:"alerts_enabled"`
	Player        string `yaml:"player"`

	TTSEngine         string `yaml:"tts_engine"`
	TTSPoolSize       int    `yaml:"tts_pool_size"`
	PiperURL          string `yaml:"piper_url"`
	PiperVoice        string `yaml:"piper_voice"`
	KokoroURL         string `yaml:"kokoro_url"`
	MelottsURL        string `yaml:"melotts_url"`
	EspeakBin         string `yaml:"espeak_bin"`
	ElevenlabsAPIKey  string `yaml:"elevenlabs_api_key"`
	ElevenlabsVoiceID string `yaml:"elevenlabs_voice_id"`
	ElevenlabsModelID string `yaml:"elevenlabs_model_id"`
}

func defaultConfig() config {
	host, _ := os.Hostname()
	return config{
		Port:              "8090",
		Group:             "station",
		StationName:       host,
		IncidentsURL:      "ws://localhost:8081/ws/incidents",
		AlertsURL:         "ws://localhost:8081/ws/alerts",
		ConfigURL:         "http://localhost:8081",
		PingInterval:      25 * time.Second,
		PongTimeout:       10 * time.Second,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		Bus:               "memory",
		SessionStore:      "memory",
		SessionSlot:       "personnel_session",
		SQLitePath:        "notify.db",
		SoftResetAfter:    10 * time.Minute,
		LogoutAfter:       15 * time.Minute,
		AlertsEnabled:     true,
		Player:            "aplay -q -",
		TTSEngine:         "piper",
		TTSPoolSize:       4,
		PiperURL:          "http://localhost:5100",
		PiperVoice:        "en_US-lessac-medium",
		EspeakBin:         "espeak-ng",
		ElevenlabsVoiceID: "21m00Tcm4TlvDq8ikWAM",
		ElevenlabsModelID: "eleven_turbo_v2_5",
	}
}

func loadConfig() (config, error) {
	cfg := defaultConfig()
	if path := os.Getenv("NOTIFY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = env.Str("NOTIFY_PORT", cfg.Port)
	cfg.Group = env.Str("NOTIFY_GROUP", cfg.Group)
	cfg.StationName = env.Str("NOTIFY_STATION_NAME", cfg.StationName)
	cfg.IncidentsURL = env.Str("NOTIFY_INCIDENTS_URL", cfg.IncidentsURL)
	cfg.AlertsURL = env.Str("NOTIFY_ALERTS_URL", cfg.AlertsURL)
	cfg.ConfigURL = env.Str("NOTIFY_CONFIG_URL", cfg.ConfigURL)
	cfg.AuthToken = env.Str("NOTIFY_AUTH_TOKEN", cfg.AuthToken)
	cfg.PingInterval = env.Duration("NOTIFY_PING_INTERVAL", cfg.PingInterval)
	cfg.PongTimeout = env.Duration("NOTIFY_PONG_TIMEOUT", cfg.PongTimeout)
	cfg.BaseDelay = env.Duration("NOTIFY_RECONNECT_BASE_DELAY", cfg.BaseDelay)
	cfg.MaxDelay = env.Duration("NOTIFY_RECONNECT_MAX_DELAY", cfg.MaxDelay)
	cfg.Bus = env.Str("NOTIFY_BUS", cfg.Bus)
	cfg.RedisURL = env.Str("REDIS_URL", cfg.RedisURL)
	cfg.SessionStore = env.Str("NOTIFY_SESSION_STORE", cfg.SessionStore)
	cfg.SessionSlot = env.Str("NOTIFY_SESSION_SLOT", cfg.SessionSlot)
	cfg.SQLitePath = env.Str("NOTIFY_SQLITE_PATH", cfg.SQLitePath)
	cfg.PostgresDSN = env.Str("DATABASE_URL", cfg.PostgresDSN)
	cfg.SoftResetAfter = env.Duration("NOTIFY_IDLE_SOFT_RESET", cfg.SoftResetAfter)
	cfg.LogoutAfter = env.Duration("NOTIFY_IDLE_LOGOUT", cfg.LogoutAfter)
	cfg.AlertsEnabled = env.Bool("NOTIFY_ALERTS_ENABLED", cfg.AlertsEnabled)
	cfg.Player = env.Str("NOTIFY_PLAYER", cfg.Player)
	cfg.TTSEngine = env.Str("NOTIFY_TTS_ENGINE", cfg.TTSEngine)
	cfg.TTSPoolSize = env.Int("TTS_POOL_SIZE", cfg.TTSPoolSize)
	cfg.PiperURL = env.Str("PIPER_URL", cfg.PiperURL)
	cfg.PiperVoice = env.Str("PIPER_VOICE", cfg.PiperVoice)
	cfg.KokoroURL = env.Str("KOKORO_URL", cfg.KokoroURL)
	cfg.MelottsURL = env.Str("MELOTTS_URL", cfg.MelottsURL)
	cfg.EspeakBin = env.Str("ESPEAK_BIN", cfg.EspeakBin)
	cfg.ElevenlabsAPIKey = env.Str("ELEVENLABS_API_KEY", cfg.ElevenlabsAPIKey)
	cfg.ElevenlabsVoiceID = env.Str("ELEVENLABS_VOICE_ID", cfg.ElevenlabsVoiceID)
	cfg.ElevenlabsModelID = env.Str("ELEVENLABS_MODEL_ID", cfg.ElevenlabsModelID)

	if cfg.LogoutAfter <= cfg.SoftResetAfter {
		return cfg, fmt.Errorf("idle logout %s must exceed soft reset %s", cfg.LogoutAfter, cfg.SoftResetAfter)
	}
	for _, w := range cfg.warnings() {
		slog.Warn("config", "warning", w)
	}
	return cfg, nil
}

// warnings lists settings that are valid but probably not what a
// multi-console station wants.
func (c config) warnings() []string {
	var out []string
	st := session.StoreType(c.SessionStore)
	shared := st == session.StoreTypeSQLite || st == session.StoreTypePostgres
	if shared && c.Bus == "memory" {
		out = append(out, fmt.Sprintf(
			"session_store=%s with bus=memory: processes sharing the store never hear each other's sign-ins or idle deadlines; set NOTIFY_BUS=redis",
			c.SessionStore))
	}
	return out
}
