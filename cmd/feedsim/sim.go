package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/station-notify/internal/alert"
	"github.com/hubenschmidt/station-notify/internal/feed"
)

const (
	feedIncidents = "incidents"
	feedAlerts    = "alerts"

	writeTimeout = 5 * time.Second
	maxUpload    = 8 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type simConfig struct {
	tenant       string
	pingInterval time.Duration
	maxClients   int
	settings     alert.Settings
}

// simulator plays the department server: both feeds plus the alert
// configuration endpoints.
type simulator struct {
	cfg simConfig
	sem chan struct{}

	mu         sync.Mutex
	clients    map[string]map[*client]struct{}
	registered map[string][]string
	settings   alert.Settings
	sounds     map[alert.SoundKey][]byte
}

// client is one connected station. Writes are serialized by mu.
type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func newSimulator(cfg simConfig) *simulator {
	if cfg.maxClients <= 0 {
		cfg.maxClients = 100
	}
	return &simulator{
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.maxClients),
		clients:    map[string]map[*client]struct{}{feedIncidents: {}, feedAlerts: {}},
		registered: map[string][]string{},
		settings:   cfg.settings,
		sounds:     map[alert.SoundKey][]byte{},
	}
}

func (s *simulator) routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	mux.HandleFunc("/ws/incidents", s.handleFeed(feedIncidents))
	mux.HandleFunc("/ws/alerts", s.handleFeed(feedAlerts))
	mux.HandleFunc("POST /emit/{feed}", s.handleEmit)
	mux.HandleFunc("POST /drop/{feed}", s.handleDrop)
	mux.HandleFunc("GET /api/alerts/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/alerts/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/alerts/sounds/{key}", s.handleGetSound)
	mux.HandleFunc("PUT /api/alerts/sounds/{key}", s.handlePutSound)
}

// handleFeed upgrades the connection, announces it with a connected frame,
// and then answers pings and pings the client until it leaves. Returns 503
// at client capacity.
func (s *simulator) handleFeed(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		default:
			http.Error(w, "at capacity", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		c := &client{id: uuid.NewString(), conn: conn}
		s.add(name, c)
		defer s.remove(name, c)

		hello, _ := json.Marshal(map[string]string{
			"type":          feed.TypeConnected,
			"tenant":        s.cfg.tenant,
			"connection_id": c.id,
		})
		if err := c.send(hello); err != nil {
			return
		}
		slog.Info("station connected", "feed", name, "connection_id", c.id, "remote", r.RemoteAddr)

		done := make(chan struct{})
		defer close(done)
		go s.pingLoop(c, done)

		s.readLoop(name, c)
		slog.Info("station disconnected", "feed", name, "connection_id", c.id)
	}
}

func (s *simulator) readLoop(name string, c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := feed.ParseMessage(data)
		if err != nil {
			slog.Warn("station frame dropped", "feed", name, "error", err)
			continue
		}
		switch msg.Type {
		case feed.TypePing:
			c.send([]byte(`{"type":"pong"}`))
		case feed.TypeRegister:
			var reg struct {
				DeviceType string `json:"device_type"`
				Name       string `json:"name"`
			}
			msg.Decode(&reg)
			s.mu.Lock()
			s.registered[name] = append(s.registered[name], reg.Name)
			s.mu.Unlock()
			slog.Info("station registered", "feed", name, "name", reg.Name, "device_type", reg.DeviceType)
		}
	}
}

func (s *simulator) pingLoop(c *client, done <-chan struct{}) {
	if s.cfg.pingInterval <= 0 {
		return
	}
	t := time.NewTicker(s.cfg.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := c.send([]byte(`{"type":"ping"}`)); err != nil {
				return
			}
		}
	}
}

func (s *simulator) add(name string, c *client) {
	s.mu.Lock()
	s.clients[name][c] = struct{}{}
	s.mu.Unlock()
}

func (s *simulator) remove(name string, c *client) {
	s.mu.Lock()
	delete(s.clients[name], c)
	s.mu.Unlock()
}

func (s *simulator) snapshot(name string) []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients[name]))
	for c := range s.clients[name] {
		out = append(out, c)
	}
	return out
}

// broadcast writes data to every client of a feed and returns how many
// received it.
func (s *simulator) broadcast(name string, data []byte) int {
	n := 0
	for _, c := range s.snapshot(name) {
		if err := c.send(data); err != nil {
			slog.Warn("broadcast write", "feed", name, "connection_id", c.id, "error", err)
			continue
		}
		n++
	}
	return n
}

func (s *simulator) handleEmit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("feed")
	if _, ok := s.clients[name]; !ok {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil || !json.Valid(body) {
		http.Error(w, "body must be a JSON frame", http.StatusBadRequest)
		return
	}
	n := s.broadcast(name, body)
	writeJSON(w, map[string]int{"delivered": n})
}

// handleDrop closes every connection on a feed without a close frame, the
// way a network failure would.
func (s *simulator) handleDrop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("feed")
	if _, ok := s.clients[name]; !ok {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}
	clients := s.snapshot(name)
	for _, c := range clients {
		c.conn.NetConn().Close()
	}
	slog.Info("feed dropped", "feed", name, "clients", len(clients))
	writeJSON(w, map[string]int{"dropped": len(clients)})
}

func (s *simulator) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, settings)
}

// handlePutSettings replaces the configuration, bumps its version and
// tells every station on the alert feed.
func (s *simulator) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var next alert.Settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	next.Version = s.settings.Version + 1
	s.settings = next
	s.mu.Unlock()

	frame, _ := json.Marshal(map[string]any{
		"type":             feed.TypeSettingsUpdated,
		"settings_version": next.Version,
		"enabled":          next.Enabled,
	})
	s.broadcast(feedAlerts, frame)
	writeJSON(w, next)
}

func (s *simulator) handleGetSound(w http.ResponseWriter, r *http.Request) {
	key := alert.SoundKey(r.PathValue("key"))
	s.mu.Lock()
	clip, ok := s.sounds[key]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Write(clip)
}

// handlePutSound stores a custom clip for a key and announces it.
func (s *simulator) handlePutSound(w http.ResponseWriter, r *http.Request) {
	key := alert.SoundKey(r.PathValue("key"))
	if !key.Valid() {
		http.Error(w, "unknown sound key", http.StatusNotFound)
		return
	}
	clip, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil || len(clip) == 0 {
		http.Error(w, "empty clip", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.sounds[key] = clip
	s.mu.Unlock()

	frame, _ := json.Marshal(map[string]string{"type": feed.TypeSoundUpdated, "sound_type": string(key)})
	s.broadcast(feedAlerts, frame)
	w.WriteHeader(http.StatusNoContent)
}

func (s *simulator) registrations(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.registered[name]...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
