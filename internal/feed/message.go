package feed

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types understood on both feeds.
const (
	TypePing            = "ping"
	TypePong            = "pong"
	TypeConnected       = "connected"
	TypeRegister        = "register"
	TypeIncidentCreated = "incident_created"
	TypeIncidentUpdated = "incident_updated"
	TypeIncidentClosed  = "incident_closed"
	TypeSoundUpdated    = "sound_updated"
	TypeSettingsUpdated = "settings_updated"
)

// DefaultDeviceType is announced in the register frame.
const DefaultDeviceType = "browser"

var ErrMalformed = errors.New("malformed frame")

// Message is one decoded inbound frame. Raw is the frame exactly as it
// arrived; subscribers decode the fields they care about from it. Alert
// frames carry event_type instead of type.
type Message struct {
	Type      string
	EventType string
	Raw       json.RawMessage
}

// ParseMessage decodes the envelope of a text frame. Anything that is not a
// JSON object carrying type or event_type is malformed.
func ParseMessage(data []byte) (Message, error) {
	var env struct {
		Type      string `json:"type"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" && env.EventType == "" {
		return Message{}, fmt.Errorf("%w: untyped frame", ErrMalformed)
	}
	return Message{
		Type:      env.Type,
		EventType: env.EventType,
		Raw:       append(json.RawMessage(nil), data...),
	}, nil
}

// Decode unmarshals the raw frame into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// ID accepts identifiers the server sends either as strings or numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Connected is the metadata of the server's connected frame.
type Connected struct {
	Feed         string `json:"-"`
	Tenant       ID     `json:"tenant"`
	ConnectionID ID     `json:"connection_id"`
}

type registerFrame struct {
	Type       string `json:"type"`
	DeviceType string `json:"device_type"`
	Name       string `json:"name"`
}

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)

// metricLabel bounds the type label to frames this package knows.
func metricLabel(m Message) string {
	switch m.Type {
	case TypePing, TypePong, TypeConnected, TypeIncidentCreated, TypeIncidentUpdated,
		TypeIncidentClosed, TypeSoundUpdated, TypeSettingsUpdated:
		return m.Type
	case "":
		return "alert"
	}
	return "other"
}
