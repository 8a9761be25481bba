package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hubenschmidt/station-notify/internal/audio"
	"github.com/hubenschmidt/station-notify/internal/metrics"
)

// Asset is the clip currently bound to a klaxon key.
type Asset struct {
	Key     SoundKey `json:"key"`
	URL     string   `json:"url,omitempty"`
	Token   string   `json:"token,omitempty"`
	Builtin bool     `json:"builtin"`
	Clip    []byte   `json:"-"`
}

var builtins = sync.OnceValue(func() map[SoundKey][]byte {
	return map[SoundKey][]byte{
		KeyDispatchFire: audio.FireKlaxon(),
		KeyDispatchEMS:  audio.EMSKlaxon(),
		KeyClose:        audio.CloseChime(),
	}
})

func builtinAsset(key SoundKey) *Asset {
	return &Asset{Key: key, Builtin: true, Clip: builtins()[key]}
}

// assetCache holds one Asset per key.
type assetCache struct {
	source Source
	log    *slog.Logger

	mu     sync.RWMutex
	assets map[SoundKey]*Asset
}

func newAssetCache(source Source, log *slog.Logger) *assetCache {
	c := &assetCache{source: source, log: log}
	c.useBuiltins()
	return c
}

func (c *assetCache) get(key SoundKey) *Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assets[key]
}

func (c *assetCache) snapshot() []Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Asset, 0, len(Keys))
	for _, k := range Keys {
		out = append(out, *c.assets[k])
	}
	return out
}

func (c *assetCache) useBuiltins() {
	assets := make(map[SoundKey]*Asset, len(Keys))
	for _, k := range Keys {
		assets[k] = builtinAsset(k)
	}
	c.mu.Lock()
	c.assets = assets
	c.mu.Unlock()
}

// rebuild replaces every asset from settings. Each key is fetched from its
// configured URL or the per-key sound endpoint; a key the server has no
// clip for, or whose fetch fails, gets its built-in klaxon.
func (c *assetCache) rebuild(ctx context.Context, settings Settings) {
	assets := make(map[SoundKey]*Asset, len(Keys))
	for _, k := range Keys {
		a, err := c.fetch(ctx, k, soundRef(settings, k))
		switch {
		case errors.Is(err, ErrNoClip):
			assets[k] = builtinAsset(k)
		case err != nil:
			c.log.Warn("sound fetch failed, using built-in", "key", k, "error", err)
			assets[k] = builtinAsset(k)
		default:
			assets[k] = a
		}
	}

	c.mu.Lock()
	c.assets = assets
	c.mu.Unlock()
	metrics.SettingsReloads.WithLabelValues("full").Inc()
}

// reload replaces one asset with a fresh fetch. A removed custom clip
// reverts to the built-in; any other failure keeps the previous clip.
func (c *assetCache) reload(ctx context.Context, settings Settings, key SoundKey) {
	a, err := c.fetch(ctx, key, soundRef(settings, key))
	if errors.Is(err, ErrNoClip) {
		a, err = builtinAsset(key), nil
	}
	if err != nil {
		c.log.Warn("sound reload failed, keeping previous", "key", key, "error", err)
		return
	}
	c.mu.Lock()
	c.assets[key] = a
	c.mu.Unlock()
	metrics.SettingsReloads.WithLabelValues("single").Inc()
}

func (c *assetCache) fetch(ctx context.Context, key SoundKey, ref string) (*Asset, error) {
	token := newToken()
	clip, err := c.source.Fetch(ctx, ref, token)
	if err != nil {
		return nil, err
	}
	return &Asset{Key: key, URL: ref, Token: token, Clip: clip}, nil
}
