// ABOUTME: JSON envelope codec for the vigil wire protocol.
// ABOUTME: Every message on an agent or console socket is an Envelope.

package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the framing for every message exchanged with an agent or
// console: a named event plus an event-specific JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Make builds an Envelope for the given event, marshaling the payload.
func Make(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	return Envelope{Event: event, Payload: data}, nil
}

// MustMake is Make for payloads built from internal types that cannot fail
// to marshal. It panics on error and is intended for core-originated events.
func MustMake(event string, payload any) Envelope {
	env, err := Make(event, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Event, err)
	}
	return nil
}
