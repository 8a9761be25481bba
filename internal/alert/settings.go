package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// SoundKey names one klaxon.
type SoundKey string

const (
	KeyDispatchFire SoundKey = "dispatch_fire"
	KeyDispatchEMS  SoundKey = "dispatch_ems"
	KeyClose        SoundKey = "close"
)

// Keys lists every klaxon in playback-routing order.
var Keys = []SoundKey{KeyDispatchFire, KeyDispatchEMS, KeyClose}

func (k SoundKey) Valid() bool {
	switch k {
	case KeyDispatchFire, KeyDispatchEMS, KeyClose:
		return true
	}
	return false
}

const (
	settingsPath = "/api/alerts/settings"
	soundsPath   = "/api/alerts/sounds/"
	maxClipBytes = 16 << 20
)

// ErrNoClip means the server has no custom clip at the ref; the built-in
// klaxon applies.
var ErrNoClip = errors.New("no custom clip")

var errNotFound = errors.New("not found")

// Settings is the department-wide alert configuration.
type Settings struct {
	Enabled    bool `json:"enabled"`
	TTSEnabled bool `json:"tts_enabled"`
	Version    int  `json:"settings_version"`

	// Sounds maps a key to a custom clip URL, absolute or relative to the
	// configuration server. Keys without an entry are looked up at the
	// server's per-key sound endpoint.
	Sounds map[SoundKey]string `json:"sounds"`
}

// DefaultSettings is used until a configuration has been fetched.
func DefaultSettings() Settings {
	return Settings{Enabled: true, TTSEnabled: true}
}

// Source fetches configuration and clips.
type Source interface {
	FetchSettings(ctx context.Context) (Settings, error)

	// Fetch downloads a clip. A non-empty token is appended as a
	// cache-defeating query parameter. It returns ErrNoClip when the
	// server has nothing at ref.
	Fetch(ctx context.Context, ref, token string) ([]byte, error)
}

// HTTPSource reads configuration from the department server.
type HTTPSource struct {
	base   *url.URL
	client *http.Client
	header http.Header
}

// NewHTTPSource creates a source rooted at baseURL. header is sent with
// every request (typically the department's authorization).
func NewHTTPSource(baseURL string, client *http.Client, header http.Header) (*HTTPSource, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse alert config url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("alert config url %q: scheme must be http or https", baseURL)
	}
	return &HTTPSource{base: base, client: client, header: header}, nil
}

func (s *HTTPSource) FetchSettings(ctx context.Context) (Settings, error) {
	body, err := s.get(ctx, settingsPath, newToken())
	if err != nil {
		return Settings{}, fmt.Errorf("fetch alert settings: %w", err)
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(body, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode alert settings: %w", err)
	}
	return settings, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, ref, token string) ([]byte, error) {
	body, err := s.get(ctx, ref, token)
	if errors.Is(err, errNotFound) {
		return nil, ErrNoClip
	}
	if err != nil {
		return nil, fmt.Errorf("fetch clip %s: %w", ref, err)
	}
	return body, nil
}

func (s *HTTPSource) get(ctx context.Context, ref, token string) ([]byte, error) {
	u, err := s.base.Parse(ref)
	if err != nil {
		return nil, err
	}
	if token != "" {
		q := u.Query()
		q.Set("_", token)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range s.header {
		req.Header[k] = v
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxClipBytes))
}

// soundRef is where a key's custom clip lives: the configured URL or the
// server's per-key endpoint.
func soundRef(settings Settings, key SoundKey) string {
	if ref := strings.TrimSpace(settings.Sounds[key]); ref != "" {
		return ref
	}
	return soundsPath + string(key)
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
