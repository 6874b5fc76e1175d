package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire frame: one event type and its JSON payload.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode builds a wire frame for the given event type and payload. A nil
// payload produces a frame with the payload field omitted.
func Encode(eventType EventType, payload any) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", eventType, err)
	}
	return data, nil
}

// Decode parses a wire frame. Unknown event types are returned as errors so
// handler switches only ever see protocol members.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Type.Known() {
		return Envelope{}, fmt.Errorf("unknown event type %q", string(env.Type))
	}
	return env, nil
}

// Bind unmarshals the envelope payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s event has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// MustEncode is Encode for payloads built from internal structs, where a
// marshal failure is a programming error.
func MustEncode(eventType EventType, payload any) []byte {
	data, err := Encode(eventType, payload)
	if err != nil {
		panic(err)
	}
	return data
}
