// Package tts turns announcement text into a playable clip. Backends are
// HTTP speech servers on the station network (piper, OpenAI-compatible,
// MeloTTS), the ElevenLabs cloud API, or a local espeak binary.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/hubenschmidt/station-notify/internal/metrics"
)

// Engine names accepted by the router.
const (
	EnginePiper      = "piper"
	EngineOpenAI     = "openai"
	EngineElevenLabs = "elevenlabs"
	EngineMelo       = "melo"
	EngineEspeak     = "espeak"
)

const maxClipBytes = 16 << 20

// Voice holds per-call tuning. Zero values take the backend's defaults.
type Voice struct {
	Name  string
	Speed float64
}

// Synthesizer produces a clip from text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

// Speaker routes announcements to the configured engine and records
// latency and failures. When the engine fails, the fallback engine gets
// one try.
type Speaker struct {
	router   *Router[Synthesizer]
	engine   string
	fallback string
	voice    Voice
}

// NewSpeaker creates a Speaker using engine, falling back to fallback when
// engine is not registered or returns an error.
func NewSpeaker(backends map[string]Synthesizer, engine, fallback string, voice Voice) *Speaker {
	return &Speaker{router: NewRouter(backends, fallback), engine: engine, fallback: fallback, voice: voice}
}

// Synthesize renders text with the configured engine.
func (s *Speaker) Synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()

	backend, err := s.router.Route(s.engine)
	if err != nil {
		return nil, err
	}
	clip, err := backend.Synthesize(ctx, text, s.voice)
	if err != nil {
		metrics.TTSErrors.WithLabelValues(s.engine).Inc()
		clip, err = s.retry(ctx, text, err)
		if err != nil {
			return nil, err
		}
	}
	metrics.TTSDuration.Observe(time.Since(start).Seconds())
	return clip, nil
}

// retry hands text to the fallback engine after the primary failed with
// cause. Routing already fell back when the engine is unregistered.
func (s *Speaker) retry(ctx context.Context, text string, cause error) ([]byte, error) {
	_, registered := s.router.backends[s.engine]
	if !registered || s.engine == s.fallback || ctx.Err() != nil {
		return nil, cause
	}
	backend, ok := s.router.backends[s.fallback]
	if !ok {
		return nil, cause
	}
	slog.Warn("speech engine failed, using fallback", "engine", s.engine, "fallback", s.fallback, "error", cause)
	clip, err := backend.Synthesize(ctx, text, s.voice)
	if err != nil {
		metrics.TTSErrors.WithLabelValues(s.fallback).Inc()
		return nil, fmt.Errorf("%s: %w; fallback %s: %w", s.engine, cause, s.fallback, err)
	}
	return clip, nil
}

// Engines lists the registered engine names.
func (s *Speaker) Engines() []string { return s.router.Engines() }

// --- piper (local neural TTS server, returns WAV) ---

type piperSynthesizer struct {
	url    string
	voice  string
	client *http.Client
}

func NewPiper(url, voice string, client *http.Client) Synthesizer {
	return &piperSynthesizer{url: url, voice: voice, client: client}
}

func (p *piperSynthesizer) Synthesize(ctx context.Context, text string, v Voice) ([]byte, error) {
	body, err := json.Marshal(struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}{Text: text, Voice: pick(v.Name, p.voice)})
	if err != nil {
		return nil, fmt.Errorf("marshal piper request: %w", err)
	}
	return postJSON(ctx, p.client, p.url+"/synthesize", body, nil)
}

// --- OpenAI-compatible (any server exposing /v1/audio/speech) ---

type openaiSynthesizer struct {
	url    string
	model  string
	voice  string
	apiKey string
	client *http.Client
}

func NewOpenAI(url, model, voice, apiKey string, client *http.Client) Synthesizer {
	return &openaiSynthesizer{url: url, model: model, voice: voice, apiKey: apiKey, client: client}
}

func (o *openaiSynthesizer) Synthesize(ctx context.Context, text string, v Voice) ([]byte, error) {
	body, err := json.Marshal(struct {
		Input          string  `json:"input"`
		Model          string  `json:"model"`
		Voice          string  `json:"voice"`
		Speed          float64 `json:"speed,omitempty"`
		ResponseFormat string  `json:"response_format"`
	}{Input: text, Model: o.model, Voice: pick(v.Name, o.voice), Speed: v.Speed, ResponseFormat: "wav"})
	if err != nil {
		return nil, fmt.Errorf("marshal openai speech request: %w", err)
	}
	var headers map[string]string
	if o.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + o.apiKey}
	}
	return postJSON(ctx, o.client, o.url+"/v1/audio/speech", body, headers)
}

// --- ElevenLabs (cloud API, returns MP3) ---

type elevenlabsSynthesizer struct {
	apiKey  string
	voiceID string
	modelID string
	client  *http.Client
}

func NewElevenLabs(apiKey, voiceID, modelID string, client *http.Client) Synthesizer {
	return &elevenlabsSynthesizer{apiKey: apiKey, voiceID: voiceID, modelID: modelID, client: client}
}

func (e *elevenlabsSynthesizer) Synthesize(ctx context.Context, text string, _ Voice) ([]byte, error) {
	body, err := json.Marshal(struct {
		Text    string `json:"text"`
		ModelID string `json:"model_id"`
	}{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}
	url := "https://api.elevenlabs.io/v1/text-to-speech/" + e.voiceID
	return postJSON(ctx, e.client, url, body, map[string]string{
		"xi-api-key": e.apiKey,
		"Accept":     "audio/mpeg",
	})
}

// --- MeloTTS (self-hosted, /convert/tts) ---

type meloSynthesizer struct {
	url    string
	client *http.Client
}

func NewMelo(url string, client *http.Client) Synthesizer {
	return &meloSynthesizer{url: url, client: client}
}

func (m *meloSynthesizer) Synthesize(ctx context.Context, text string, v Voice) ([]byte, error) {
	speed := v.Speed
	if speed <= 0 {
		speed = 1.0
	}
	body, err := json.Marshal(struct {
		Text      string  `json:"text"`
		Speed     float64 `json:"speed"`
		Language  string  `json:"language"`
		SpeakerID string  `json:"speaker_id"`
	}{Text: text, Speed: speed, Language: "EN", SpeakerID: pick(v.Name, "EN-Default")})
	if err != nil {
		return nil, fmt.Errorf("marshal melo request: %w", err)
	}
	return postJSON(ctx, m.client, m.url+"/convert/tts", body, nil)
}

// --- espeak (local binary, no network) ---

type espeakSynthesizer struct {
	bin string
}

// NewEspeak runs bin (espeak-ng or espeak) once per announcement.
func NewEspeak(bin string) Synthesizer {
	return &espeakSynthesizer{bin: bin}
}

func (e *espeakSynthesizer) Synthesize(ctx context.Context, text string, v Voice) ([]byte, error) {
	args := []string{"--stdout"}
	if v.Name != "" {
		args = append(args, "-v", v.Name)
	}
	if v.Speed > 0 {
		args = append(args, "-s", fmt.Sprint(int(175*v.Speed)))
	}
	cmd := exec.CommandContext(ctx, e.bin, append(args, "--", text)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", e.bin, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

// --- shared HTTP helper ---

func postJSON(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxClipBytes))
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
