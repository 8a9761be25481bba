package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hubenschmidt/station-notify/internal/feed"
)

type fakeSource struct {
	mu          sync.Mutex
	settings    Settings
	settingsErr error
	settingsN   int
	fetches     []string // ref + "?" + token
	failRefs    map[string]bool
	uploaded    map[SoundKey]bool
}

func (s *fakeSource) FetchSettings(context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settingsN++
	if s.settingsErr != nil {
		return Settings{}, s.settingsErr
	}
	return s.settings, nil
}

func (s *fakeSource) Fetch(_ context.Context, ref, token string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, ref+"?"+token)
	if s.failRefs[ref] {
		return nil, errors.New("502")
	}
	if key, ok := strings.CutPrefix(ref, soundsPath); ok && !s.uploaded[SoundKey(key)] {
		return nil, ErrNoClip
	}
	return []byte("clip:" + ref), nil
}

// upload puts a custom clip behind the per-key sound endpoint.
func (s *fakeSource) upload(key SoundKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploaded == nil {
		s.uploaded = map[SoundKey]bool{}
	}
	s.uploaded[key] = true
}

func (s *fakeSource) set(settings Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

func (s *fakeSource) fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetches...)
}

// recorder logs start and stop of every playback. With block set, a clip
// plays until its context is cancelled.
type recorder struct {
	block   bool
	mu      sync.Mutex
	log     []string
	unlocks int
}

func (r *recorder) Play(ctx context.Context, clip []byte) error {
	name := label(clip)
	r.add("start " + name)
	if r.block {
		<-ctx.Done()
		r.add("stop " + name)
		return ctx.Err()
	}
	return nil
}

func (r *recorder) Unlock(context.Context) error {
	r.mu.Lock()
	r.unlocks++
	r.mu.Unlock()
	return errors.New("no output device")
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.log = append(r.log, s)
	r.mu.Unlock()
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev := r.events(); len(ev) >= n {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("recorded %v, want %d events", r.events(), n)
	return nil
}

func label(clip []byte) string {
	for k, b := range builtins() {
		if bytes.Equal(clip, b) {
			return "builtin:" + string(k)
		}
	}
	return string(clip)
}

type fakeSpeech struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSpeech) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return []byte("tts:" + text), nil
}

type fakeFeed struct {
	mu       sync.Mutex
	connects int
	closes   int
	handler  feed.Handler
}

func (f *fakeFeed) Connect() { f.mu.Lock(); f.connects++; f.mu.Unlock() }
func (f *fakeFeed) Close()   { f.mu.Lock(); f.closes++; f.mu.Unlock() }

func (f *fakeFeed) Subscribe(fn feed.Handler) func() {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
	return func() {}
}

func (f *fakeFeed) counts() (connects, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.closes
}

type rig struct {
	engine *Engine
	source *fakeSource
	out    *recorder
	speech *fakeSpeech
	feed   *fakeFeed
}

func newRig(t *testing.T, settings Settings, block bool) *rig {
	t.Helper()
	r := &rig{
		source: &fakeSource{settings: settings},
		out:    &recorder{block: block},
		speech: &fakeSpeech{},
		feed:   &fakeFeed{},
	}
	var err error
	r.engine, err = New(Options{Source: r.source, Output: r.out, Speech: r.speech})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.engine.Attach(r.feed)
	t.Cleanup(func() { r.engine.Close() })
	if err := r.engine.Enable(context.Background()); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	return r
}

func (r *rig) send(t *testing.T, frame string) {
	t.Helper()
	msg, err := feed.ParseMessage([]byte(frame))
	if err != nil {
		t.Fatalf("ParseMessage(%s): %v", frame, err)
	}
	r.feed.handler(msg)
}

// settle waits for queued reloads and started playbacks.
func (r *rig) settle(t *testing.T) {
	t.Helper()
	if err := r.engine.do(context.Background(), func() {}); err != nil {
		t.Fatalf("flush: %v", err)
	}
	r.engine.playing.Wait()
}

var enabled = Settings{Enabled: true, TTSEnabled: true, Version: 1}

func TestRouteTable(t *testing.T) {
	cases := []struct {
		ev     Event
		key    SoundKey
		routed bool
		speaks bool
	}{
		{Event{EventType: "dispatch", CallCategory: "FIRE"}, KeyDispatchFire, true, true},
		{Event{EventType: "dispatch", CallCategory: "EMS"}, KeyDispatchEMS, true, true},
		{Event{EventType: "dispatch"}, "", false, true},
		{Event{EventType: "close"}, KeyClose, true, false},
		{Event{EventType: "announcement"}, "", false, true},
		{Event{EventType: "unknown"}, "", false, false},
	}
	for _, tc := range cases {
		key, ok := Route(tc.ev)
		if key != tc.key || ok != tc.routed || tc.ev.Speaks() != tc.speaks {
			t.Fatalf("%+v: Route = %q,%v Speaks = %v", tc.ev, key, ok, tc.ev.Speaks())
		}
	}
}

func TestEnableUnlocksOnceAndConnects(t *testing.T) {
	r := newRig(t, enabled, false)
	if err := r.engine.Enable(context.Background()); err != nil {
		t.Fatalf("second Enable: %v", err)
	}
	if r.out.unlocks != 1 {
		t.Fatalf("unlocks = %d, want 1", r.out.unlocks)
	}
	if connects, _ := r.feed.counts(); connects != 2 {
		t.Fatalf("connects = %d, want 2", connects)
	}
	if !r.engine.Enabled() {
		t.Fatal("engine not enabled")
	}
}

func TestDispatchPlaysKlaxonAndSpeaks(t *testing.T) {
	r := newRig(t, enabled, false)
	r.send(t, `{"event_type":"dispatch","call_category":"EMS","tts_text":"Medic 3, chest pain","audio_url":null}`)
	r.settle(t)

	got := r.out.events()
	want := map[string]bool{"start builtin:dispatch_ems": true, "start tts:Medic 3, chest pain": true}
	if len(got) != 2 || !want[got[0]] || !want[got[1]] {
		t.Fatalf("plays = %v", got)
	}
}

func TestAnnouncementSpeaksWithoutKlaxon(t *testing.T) {
	r := newRig(t, enabled, false)
	r.send(t, `{"event_type":"announcement","call_category":null,"tts_text":"Shift change"}`)
	r.settle(t)
	if got := r.out.events(); len(got) != 1 || got[0] != "start tts:Shift change" {
		t.Fatalf("plays = %v", got)
	}
}

func TestTTSDisabledPlaysKlaxonOnly(t *testing.T) {
	r := newRig(t, Settings{Enabled: true, TTSEnabled: false}, false)
	r.send(t, `{"event_type":"dispatch","call_category":"FIRE","tts_text":"Engine 7"}`)
	r.send(t, `{"event_type":"announcement","tts_text":"Shift change"}`)
	r.settle(t)
	if got := r.out.events(); len(got) != 1 || got[0] != "start builtin:dispatch_fire" {
		t.Fatalf("plays = %v", got)
	}
}

func TestAudioURLPreferredOverLocalSpeech(t *testing.T) {
	r := newRig(t, enabled, false)
	r.send(t, `{"event_type":"announcement","tts_text":"local","audio_url":"/speech/42.mp3"}`)
	r.settle(t)
	if got := r.out.events(); len(got) != 1 || got[0] != "start clip:/speech/42.mp3" {
		t.Fatalf("plays = %v", got)
	}
	if len(r.speech.texts) != 0 {
		t.Fatalf("local synthesis ran: %v", r.speech.texts)
	}
}

func TestAudioURLFailureFallsBackToLocal(t *testing.T) {
	r := newRig(t, enabled, false)
	r.source.failRefs = map[string]bool{"/speech/gone.mp3": true}
	r.send(t, `{"event_type":"announcement","tts_text":"fallback","audio_url":"/speech/gone.mp3"}`)
	r.settle(t)
	if got := r.out.events(); len(got) != 1 || got[0] != "start tts:fallback" {
		t.Fatalf("plays = %v", got)
	}
}

func TestSoundUpdatedReloadsOneAsset(t *testing.T) {
	r := newRig(t, enabled, false)
	base := len(r.source.fetched())
	if base != len(Keys) {
		t.Fatalf("fetches after enable = %d, want one per key", base)
	}

	r.source.upload(KeyDispatchFire)
	r.send(t, `{"type":"sound_updated","sound_type":"dispatch_fire"}`)
	r.settle(t)
	if n := len(r.source.fetched()) - base; n != 1 {
		t.Fatalf("fetches for one update = %d, want exactly one", n)
	}
	r.send(t, `{"type":"sound_updated","sound_type":"dispatch_fire"}`)
	r.settle(t)
	all := r.source.fetched()[base:]
	if len(all) != 2 || all[0] == all[1] {
		t.Fatalf("fetches = %v, want two with distinct tokens", all)
	}

	for _, a := range r.engine.Status().Assets {
		if custom := !a.Builtin; custom != (a.Key == KeyDispatchFire) {
			t.Fatalf("asset %s builtin=%v", a.Key, a.Builtin)
		}
	}

	r.send(t, `{"event_type":"dispatch","call_category":"FIRE"}`)
	r.settle(t)
	if got := r.out.events(); len(got) != 1 || got[0] != "start clip:/api/alerts/sounds/dispatch_fire" {
		t.Fatalf("plays = %v", got)
	}
}

func TestUploadedSoundSurvivesSettingsUpdate(t *testing.T) {
	r := newRig(t, enabled, false)
	r.source.upload(KeyClose)
	r.send(t, `{"type":"sound_updated","sound_type":"close"}`)
	r.settle(t)
	r.send(t, `{"event_type":"close"}`)
	r.settle(t)

	r.source.set(Settings{Enabled: true, TTSEnabled: true, Version: 2})
	r.send(t, `{"type":"settings_updated","settings_version":2}`)
	r.settle(t)
	r.send(t, `{"event_type":"close"}`)
	r.settle(t)

	want := "start clip:/api/alerts/sounds/close"
	if got := r.out.events(); len(got) != 2 || got[0] != want || got[1] != want {
		t.Fatalf("plays = %v, want the uploaded clip both times", got)
	}
}

func TestEnableLoadsUploadedSounds(t *testing.T) {
	src := &fakeSource{settings: enabled}
	src.upload(KeyDispatchEMS)
	out := &recorder{}
	e, err := New(Options{Source: src, Output: out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	if err := e.Enable(context.Background()); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	for _, a := range e.Status().Assets {
		if a.Builtin != (a.Key != KeyDispatchEMS) {
			t.Fatalf("asset %s builtin=%v", a.Key, a.Builtin)
		}
	}
}

func TestRemovedSoundRevertsToBuiltin(t *testing.T) {
	r := newRig(t, enabled, false)
	r.source.upload(KeyClose)
	r.send(t, `{"type":"sound_updated","sound_type":"close"}`)
	r.settle(t)

	r.source.mu.Lock()
	delete(r.source.uploaded, KeyClose)
	r.source.mu.Unlock()
	r.send(t, `{"type":"sound_updated","sound_type":"close"}`)
	r.settle(t)
	r.send(t, `{"event_type":"close"}`)
	r.settle(t)
	if got := r.out.events(); len(got) != 1 || got[0] != "start builtin:close" {
		t.Fatalf("plays = %v", got)
	}
}

func TestSettingsUpdatedRebuildsEveryAsset(t *testing.T) {
	r := newRig(t, enabled, false)
	base := len(r.source.fetched())
	r.source.set(Settings{Enabled: true, TTSEnabled: true, Version: 2, Sounds: map[SoundKey]string{
		KeyDispatchEMS: "/custom/ems.wav",
		KeyClose:       "/custom/close.wav",
	}})

	r.send(t, `{"type":"settings_updated","settings_version":2}`)
	r.settle(t)

	st := r.engine.Status()
	if st.SettingsVersion != 2 {
		t.Fatalf("version = %d", st.SettingsVersion)
	}
	if n := len(r.source.fetched()) - base; n != len(Keys) {
		t.Fatalf("fetches = %d, want one per key", n)
	}
	for _, a := range st.Assets {
		if a.Builtin != (a.Key == KeyDispatchFire) {
			t.Fatalf("asset %s builtin=%v", a.Key, a.Builtin)
		}
	}
}

func TestSettingsDisabledTearsDownFeed(t *testing.T) {
	r := newRig(t, enabled, false)
	r.source.set(Settings{Enabled: false, TTSEnabled: true, Version: 3})

	r.send(t, `{"type":"settings_updated","settings_version":3,"enabled":false}`)
	if _, closes := r.feed.counts(); closes == 0 {
		t.Fatal("feed not closed by the inline enabled flag")
	}
	if r.engine.Enabled() {
		t.Fatal("still enabled")
	}
	r.settle(t)

	r.send(t, `{"event_type":"dispatch","call_category":"FIRE","tts_text":"Engine 7"}`)
	r.settle(t)
	if got := r.out.events(); len(got) != 0 {
		t.Fatalf("plays while disabled = %v", got)
	}
	if connects, _ := r.feed.counts(); connects != 1 {
		t.Fatalf("connects = %d, want only the initial one", connects)
	}
}

func TestSettingsFetchFailureUsesBuiltins(t *testing.T) {
	r := &rig{source: &fakeSource{settingsErr: errors.New("503")}, out: &recorder{}, speech: &fakeSpeech{}, feed: &fakeFeed{}}
	e, err := New(Options{Source: r.source, Output: r.out, Speech: r.speech})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	r.engine = e
	e.Attach(r.feed)

	if err := e.Enable(context.Background()); err != nil {
		t.Fatalf("Enable with failing config: %v", err)
	}
	if !e.Enabled() {
		t.Fatal("defaults should leave alerts enabled")
	}
	r.send(t, `{"event_type":"close"}`)
	r.settle(t)
	if got := r.out.events(); len(got) != 1 || got[0] != "start builtin:close" {
		t.Fatalf("plays = %v", got)
	}
}

func TestSameKeyReplayInterrupts(t *testing.T) {
	r := newRig(t, enabled, true)
	r.send(t, `{"event_type":"close"}`)
	r.out.waitFor(t, 1)
	r.send(t, `{"event_type":"close"}`)

	got := r.out.waitFor(t, 3)
	want := []string{"start builtin:close", "stop builtin:close", "start builtin:close"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestDifferentKeysOverlap(t *testing.T) {
	r := newRig(t, enabled, true)
	r.send(t, `{"event_type":"close"}`)
	r.send(t, `{"event_type":"dispatch","call_category":"FIRE"}`)
	got := r.out.waitFor(t, 2)
	for _, ev := range got[:2] {
		if ev[:5] != "start" {
			t.Fatalf("events = %v, want two concurrent starts", got)
		}
	}
}

func TestLatestSpeechWins(t *testing.T) {
	r := newRig(t, enabled, true)
	r.send(t, `{"event_type":"announcement","tts_text":"first"}`)
	r.out.waitFor(t, 1)
	r.send(t, `{"event_type":"announcement","tts_text":"second"}`)

	got := r.out.waitFor(t, 3)
	if got[1] != "stop tts:first" || got[2] != "start tts:second" {
		t.Fatalf("events = %v", got)
	}
}

func TestDisableClosesFeedAndStopsPlayback(t *testing.T) {
	r := newRig(t, enabled, true)
	r.send(t, `{"event_type":"close"}`)
	r.out.waitFor(t, 1)

	r.engine.Disable()
	got := r.out.waitFor(t, 2)
	if got[1] != "stop builtin:close" {
		t.Fatalf("events = %v", got)
	}
	if _, closes := r.feed.counts(); closes != 1 {
		t.Fatalf("closes = %d", closes)
	}
	if r.engine.Enabled() {
		t.Fatal("enabled after Disable")
	}
}

func TestCloseWhileEventsArrive(t *testing.T) {
	r := newRig(t, enabled, false)
	msg, err := feed.ParseMessage([]byte(`{"event_type":"close"}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			r.feed.handler(msg)
		}
	}()
	r.engine.Close()
	<-done

	before := len(r.out.events())
	r.send(t, `{"event_type":"dispatch","call_category":"FIRE"}`)
	r.engine.playing.Wait()
	if after := len(r.out.events()); after != before {
		t.Fatalf("playback started after Close: %v", r.out.events()[before:])
	}
}

func TestNewRequiresSourceAndOutput(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
}

func ExampleRoute() {
	key, _ := Route(Event{EventType: EventDispatch, CallCategory: "EMS"})
	fmt.Println(key)
	// Output: dispatch_ems
}
