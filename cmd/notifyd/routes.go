package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/station-notify/internal/alert"
	"github.com/hubenschmidt/station-notify/internal/feed"
	"github.com/hubenschmidt/station-notify/internal/idle"
	"github.com/hubenschmidt/station-notify/internal/session"
)

type deps struct {
	store  session.Store
	idle   *idle.Controller
	engine *alert.Engine
	feeds  []*feed.Manager
	hub    *hub
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/status", d.handleStatus)
	mux.HandleFunc("POST /api/activity", d.handleActivity)
	mux.HandleFunc("GET /api/session", d.handleSessionRead)
	mux.HandleFunc("POST /api/session", d.handleSessionWrite)
	mux.HandleFunc("DELETE /api/session", d.handleSessionClear)
	mux.HandleFunc("POST /api/alerts/enable", d.handleAlertsEnable)
	mux.HandleFunc("POST /api/alerts/disable", d.handleAlertsDisable)
	mux.HandleFunc("GET /api/incidents/stream", d.handleStream)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type feedStatus struct {
	Status    string    `json:"status"`
	Connected bool      `json:"connected"`
	Attempt   int       `json:"attempt"`
	LastPong  time.Time `json:"last_pong,omitzero"`
}

func (d deps) handleStatus(w http.ResponseWriter, r *http.Request) {
	feeds := make(map[string]feedStatus, len(d.feeds))
	for _, m := range d.feeds {
		feeds[m.Name()] = feedStatus{
			Status:    m.Status().String(),
			Connected: m.Connected(),
			Attempt:   m.Attempt(),
			LastPong:  m.LastPong(),
		}
	}
	rec, err := d.store.Read(r.Context())
	if err != nil {
		slog.Warn("status session read", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feeds":   feeds,
		"alerts":  d.engine.Status(),
		"idle":    d.idle.State(),
		"session": rec,
	})
}

func (d deps) handleActivity(w http.ResponseWriter, r *http.Request) {
	d.idle.Activity(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (d deps) handleSessionRead(w http.ResponseWriter, r *http.Request) {
	rec, err := d.store.Read(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleSessionWrite signs an individual in. Signing in is activity for
// the whole group.
func (d deps) handleSessionWrite(w http.ResponseWriter, r *http.Request) {
	var rec session.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now().UTC()
	}
	if err := rec.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := d.store.Write(r.Context(), &rec); err != nil {
		slog.Error("session write", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("personnel signed in", "personnel_id", rec.PersonnelID, "role", rec.Role)
	d.idle.Activity(r.Context())
	writeJSON(w, http.StatusOK, rec)
}

func (d deps) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	if err := d.store.Clear(r.Context()); err != nil {
		slog.Error("session clear", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("personnel signed out")
	w.WriteHeader(http.StatusNoContent)
}

func (d deps) handleAlertsEnable(w http.ResponseWriter, r *http.Request) {
	if err := d.engine.Enable(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, d.engine.Status())
}

func (d deps) handleAlertsDisable(w http.ResponseWriter, r *http.Request) {
	d.engine.Disable()
	writeJSON(w, http.StatusOK, d.engine.Status())
}

// handleStream relays incident frames and lifecycle events to a local UI
// as server-sent events.
func (d deps) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := d.hub.subscribe()
	defer d.hub.unsubscribe(ch)
	slog.Info("event stream client connected", "remote", r.RemoteAddr)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("event stream client disconnected", "remote", r.RemoteAddr)
			return
		case msg := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
