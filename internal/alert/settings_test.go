package alert

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hubenschmidt/station-notify/internal/httpclient"
)

func TestHTTPSourceDefeatsCaches(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cache-Control") != "no-cache" || r.Header.Get("X-Department") != "7" {
			http.Error(w, "headers", http.StatusBadRequest)
			return
		}
		tokens = append(tokens, r.URL.Query().Get("_"))
		switch r.URL.Path {
		case settingsPath:
			w.Write([]byte(`{"enabled":false,"settings_version":9,"sounds":{"close":"/custom/close.wav"}}`))
		case "/custom/close.wav":
			w.Write([]byte("RIFF"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL, httpclient.NewPooled(2, 5*time.Second), http.Header{"X-Department": {"7"}})
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}

	s, err := src.FetchSettings(context.Background())
	if err != nil {
		t.Fatalf("FetchSettings: %v", err)
	}
	if s.Enabled || !s.TTSEnabled || s.Version != 9 || s.Sounds[KeyClose] != "/custom/close.wav" {
		t.Fatalf("settings = %+v", s)
	}

	clip, err := src.Fetch(context.Background(), soundRef(s, KeyClose), "tok1")
	if err != nil || string(clip) != "RIFF" {
		t.Fatalf("Fetch = %q, %v", clip, err)
	}
	if _, err := src.Fetch(context.Background(), soundRef(s, KeyDispatchFire), "tok2"); !errors.Is(err, ErrNoClip) {
		t.Fatalf("missing sound err = %v, want ErrNoClip", err)
	}

	if len(tokens) != 3 || tokens[0] == "" || tokens[1] != "tok1" || tokens[2] != "tok2" {
		t.Fatalf("cache-bust tokens = %v", tokens)
	}
}

func TestNewHTTPSourceRejectsSocketURL(t *testing.T) {
	if _, err := NewHTTPSource("ws://station/alerts", http.DefaultClient, nil); err == nil {
		t.Fatal("ws scheme accepted")
	}
}
