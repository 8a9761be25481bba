package alert

import (
	"encoding/json"
	"strings"

	"github.com/hubenschmidt/station-notify/internal/feed"
)

// Alert event types.
const (
	EventDispatch     = "dispatch"
	EventClose        = "close"
	EventAnnouncement = "announcement"
)

// Event is one alert-feed event. It is handled once and never stored.
type Event struct {
	EventType    string          `json:"event_type"`
	CallCategory string          `json:"call_category"`
	TTSText      string          `json:"tts_text"`
	AudioURL     string          `json:"audio_url"`
	Raw          json.RawMessage `json:"-"`
}

// Route returns the klaxon for ev, if any.
func Route(ev Event) (SoundKey, bool) {
	switch ev.EventType {
	case EventDispatch:
		switch strings.ToUpper(ev.CallCategory) {
		case "FIRE":
			return KeyDispatchFire, true
		case "EMS":
			return KeyDispatchEMS, true
		}
	case EventClose:
		return KeyClose, true
	}
	return "", false
}

// Speaks reports whether ev may carry an announcement.
func (ev Event) Speaks() bool {
	return ev.EventType == EventDispatch || ev.EventType == EventAnnouncement
}

func decodeEvent(msg feed.Message) (Event, error) {
	var ev Event
	if err := msg.Decode(&ev); err != nil {
		return Event{}, err
	}
	ev.Raw = msg.Raw
	return ev, nil
}

type soundUpdated struct {
	SoundType SoundKey `json:"sound_type"`
}

// settingsUpdated may carry the new enabled flag inline; the full
// configuration is refetched either way.
type settingsUpdated struct {
	Version int   `json:"settings_version"`
	Enabled *bool `json:"enabled"`
}
