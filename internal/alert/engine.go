// Package alert turns alert-feed events into klaxons and spoken
// announcements, following the department's alert configuration as it
// changes.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hubenschmidt/station-notify/internal/audio"
	"github.com/hubenschmidt/station-notify/internal/feed"
	"github.com/hubenschmidt/station-notify/internal/metrics"
)

const (
	DefaultSpeechRate = audio.ToneRate

	fetchTimeout  = 10 * time.Second
	unlockTimeout = 2 * time.Second
	controlQueue  = 32
)

var ErrInvalidConfig = errors.New("invalid alert engine configuration")

// Synthesizer renders announcement text locally.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Feed is the alert-feed connection the engine gates.
type Feed interface {
	Connect()
	Close()
	Subscribe(fn feed.Handler) func()
}

// Options configures an Engine.
type Options struct {
	Source Source
	Output audio.Output

	// Speech renders tts_text when an event has no usable audio_url. Nil
	// disables local synthesis.
	Speech Synthesizer

	// SpeechRate is the sample rate local speech is normalized to.
	SpeechRate int

	Logger *slog.Logger
}

// Status is a snapshot for the status endpoint.
type Status struct {
	Enabled           bool    `json:"enabled"`
	UserEnabled       bool    `json:"user_enabled"`
	DepartmentEnabled bool    `json:"department_enabled"`
	TTSEnabled        bool    `json:"tts_enabled"`
	SettingsVersion   int     `json:"settings_version"`
	Assets            []Asset `json:"assets"`
}

// Engine plays alerts. Alerts are heard only while the station has enabled
// them and the department configuration allows them.
type Engine struct {
	opts   Options
	log    *slog.Logger
	assets *assetCache

	userEnabled atomic.Bool
	unlocked    atomic.Bool

	mu          sync.RWMutex
	settings    Settings
	feed        Feed
	unsubscribe func()
	closed      bool

	klaxons map[SoundKey]*lane
	speech  lane

	control   chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	loops     sync.WaitGroup
	playing   sync.WaitGroup
	closeOnce sync.Once
}

// New creates a disabled Engine with the built-in sound set loaded.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil || opts.Output == nil {
		return nil, fmt.Errorf("%w: source and output are required", ErrInvalidConfig)
	}
	if opts.SpeechRate <= 0 {
		opts.SpeechRate = DefaultSpeechRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With("component", "alert")

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:     opts,
		log:      log,
		assets:   newAssetCache(opts.Source, log),
		settings: DefaultSettings(),
		klaxons:  make(map[SoundKey]*lane, len(Keys)),
		control:  make(chan func(), controlQueue),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, k := range Keys {
		e.klaxons[k] = &lane{}
	}

	e.loops.Add(1)
	go e.controlLoop()
	return e, nil
}

// Attach subscribes the engine to f and gates it. f should be built with
// Enabled as its connect gate.
func (e *Engine) Attach(f Feed) {
	unsubscribe := f.Subscribe(e.HandleMessage)
	e.mu.Lock()
	e.feed = f
	e.unsubscribe = unsubscribe
	e.mu.Unlock()
}

// Enabled reports whether alerts may connect and play. It is read at
// connect time by the feed and before every playback.
func (e *Engine) Enabled() bool {
	if !e.userEnabled.Load() {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings.Enabled
}

// Enable turns alerts on for this station. The first call also opens the
// audio output. Every call refetches the configuration, then connects the
// feed if the department allows alerts.
func (e *Engine) Enable(ctx context.Context) error {
	e.userEnabled.Store(true)
	if e.unlocked.CompareAndSwap(false, true) {
		e.unlock(ctx)
	}
	return e.do(ctx, func() {
		e.reloadSettings()
		e.applyGate()
	})
}

// Disable turns alerts off for this station: the feed is closed and any
// playback stops.
func (e *Engine) Disable() {
	e.userEnabled.Store(false)
	e.applyGate()
	e.stopPlayback()
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	settings := e.settings
	e.mu.RUnlock()
	user := e.userEnabled.Load()
	return Status{
		Enabled:           user && settings.Enabled,
		UserEnabled:       user,
		DepartmentEnabled: settings.Enabled,
		TTSEnabled:        settings.TTSEnabled,
		SettingsVersion:   settings.Version,
		Assets:            e.assets.snapshot(),
	}
}

// Close stops playback and background work and detaches from the feed. It
// does not close the feed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		unsubscribe := e.unsubscribe
		e.unsubscribe = nil
		e.closed = true
		e.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		e.cancel()
		e.loops.Wait()
		e.playing.Wait()
	})
	return nil
}

// HandleMessage processes one alert-feed frame. Frames must be delivered in
// arrival order; playback and reloads run in the background.
func (e *Engine) HandleMessage(msg feed.Message) {
	switch msg.Type {
	case feed.TypeSoundUpdated:
		var m soundUpdated
		if err := msg.Decode(&m); err != nil || !m.SoundType.Valid() {
			e.log.Warn("sound_updated dropped", "sound_type", m.SoundType, "error", err)
			return
		}
		e.enqueue(func() { e.reloadSound(m.SoundType) })

	case feed.TypeSettingsUpdated:
		var m settingsUpdated
		if err := msg.Decode(&m); err != nil {
			e.log.Warn("settings_updated dropped", "error", err)
			return
		}
		if m.Enabled != nil && !*m.Enabled {
			e.mu.Lock()
			e.settings.Enabled = false
			e.mu.Unlock()
			e.applyGate()
		}
		e.enqueue(func() {
			e.reloadSettings()
			e.applyGate()
		})

	case "":
		e.handleEvent(msg)

	default:
		e.log.Debug("alert feed frame ignored", "type", msg.Type)
	}
}

func (e *Engine) handleEvent(msg feed.Message) {
	ev, err := decodeEvent(msg)
	if err != nil {
		e.log.Warn("alert event dropped", "error", err)
		return
	}
	if !e.Enabled() {
		metrics.AlertsSuppressed.Inc()
		return
	}

	if key, ok := Route(ev); ok {
		asset := e.assets.get(key)
		_, run := e.klaxons[key].take(e.ctx)
		e.background(func() {
			err := run(func(ctx context.Context) error {
				if !e.Enabled() {
					return nil
				}
				metrics.AlertsPlayed.WithLabelValues(string(key)).Inc()
				return e.opts.Output.Play(ctx, asset.Clip)
			})
			if err != nil {
				metrics.PlaybackErrors.WithLabelValues("klaxon").Inc()
				e.log.Warn("klaxon playback failed", "key", key, "error", err)
			}
		})
	}

	e.mu.RLock()
	tts := e.settings.TTSEnabled
	e.mu.RUnlock()
	if !ev.Speaks() || !tts || (ev.AudioURL == "" && ev.TTSText == "") {
		return
	}
	_, run := e.speech.take(e.ctx)
	e.background(func() {
		if err := run(func(ctx context.Context) error { return e.announce(ctx, ev) }); err != nil {
			metrics.PlaybackErrors.WithLabelValues("speech").Inc()
			e.log.Warn("announcement failed", "event_type", ev.EventType, "error", err)
		}
	})
}

// announce plays the server-rendered clip when there is one and falls back
// to local synthesis if it cannot be played.
func (e *Engine) announce(ctx context.Context, ev Event) error {
	if !e.Enabled() {
		return nil
	}
	if ev.AudioURL != "" {
		err := e.playRemote(ctx, ev.AudioURL)
		if err == nil {
			metrics.Speech.WithLabelValues("audio_url").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.PlaybackErrors.WithLabelValues("audio_url").Inc()
		e.log.Warn("audio_url playback failed, speaking locally", "error", err)
	}

	if ev.TTSText == "" || e.opts.Speech == nil {
		return nil
	}
	clip, err := e.opts.Speech.Synthesize(ctx, ev.TTSText)
	if err != nil {
		return fmt.Errorf("synthesize announcement: %w", err)
	}
	if err := e.opts.Output.Play(ctx, audio.Normalize(clip, e.opts.SpeechRate)); err != nil {
		return err
	}
	metrics.Speech.WithLabelValues("local").Inc()
	return nil
}

func (e *Engine) playRemote(ctx context.Context, ref string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	clip, err := e.opts.Source.Fetch(fetchCtx, ref, "")
	cancel()
	if err != nil {
		return err
	}
	return e.opts.Output.Play(ctx, clip)
}

// unlock opens the output device. Failure is not an error: the first
// alert will try again by playing.
func (e *Engine) unlock(ctx context.Context) {
	u, ok := e.opts.Output.(audio.Unlocker)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, unlockTimeout)
	defer cancel()
	if err := u.Unlock(ctx); err != nil {
		e.log.Debug("audio unlock failed", "error", err)
	}
}

// reloadSettings refetches the configuration and rebuilds every asset. When
// the fetch fails the built-in sound set is used and the last known flags
// are kept.
func (e *Engine) reloadSettings() {
	ctx, cancel := context.WithTimeout(e.ctx, fetchTimeout)
	defer cancel()

	settings, err := e.opts.Source.FetchSettings(ctx)
	if err != nil {
		metrics.SettingsFetchErrors.Inc()
		e.log.Warn("alert settings unavailable, using built-in sounds", "error", err)
		e.assets.useBuiltins()
		return
	}

	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()
	e.assets.rebuild(ctx, settings)
	e.log.Info("alert settings loaded",
		"version", settings.Version, "enabled", settings.Enabled, "tts_enabled", settings.TTSEnabled)
}

func (e *Engine) reloadSound(key SoundKey) {
	ctx, cancel := context.WithTimeout(e.ctx, fetchTimeout)
	defer cancel()

	e.mu.RLock()
	settings := e.settings
	e.mu.RUnlock()
	e.assets.reload(ctx, settings, key)
}

// applyGate connects the feed while alerts are enabled and closes it
// otherwise. Closing is explicit, so no reconnect follows.
func (e *Engine) applyGate() {
	e.mu.RLock()
	f := e.feed
	e.mu.RUnlock()
	if f == nil {
		return
	}
	if e.Enabled() {
		f.Connect()
		return
	}
	f.Close()
}

func (e *Engine) stopPlayback() {
	for _, l := range e.klaxons {
		l.stop()
	}
	e.speech.stop()
}

func (e *Engine) controlLoop() {
	defer e.loops.Done()
	for {
		select {
		case fn := <-e.control:
			fn()
		case <-e.ctx.Done():
			return
		}
	}
}

// enqueue schedules fn on the control goroutine, which runs reloads one at
// a time in arrival order.
func (e *Engine) enqueue(fn func()) {
	select {
	case e.control <- fn:
	case <-e.ctx.Done():
	}
}

// do runs fn on the control goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	e.enqueue(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return errors.New("alert engine closed")
	}
}

// background starts fn unless the engine is closed. The closed check and
// the Add share e.mu with Close so no Add follows its Wait.
func (e *Engine) background(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.playing.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.playing.Done()
		fn()
	}()
}
