package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// MaxFrameSize is the maximum allowed size of one inbound event (64 KB).
	// Outbound history replies are not limited.
	MaxFrameSize = 64 * 1024
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size (64 KB)")
	ErrMissingEvent   = errors.New("frame has no event name")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Envelope is a single event on the wire.
// Format: one websocket text message holding {"event": "<name>", "data": <payload>}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent marshals an event name and payload into a wire frame
func EncodeEvent(event string, payload interface{}) ([]byte, error) {
	if event == "" {
		return nil, ErrMissingEvent
	}

	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		env.Data = data
	}

	return json.Marshal(&env)
}

// DecodeEnvelope parses a wire frame without decoding its payload
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	if len(frame) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	env := &Envelope{}
	if err := json.Unmarshal(frame, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	return env, nil
}

// DecodePayload decodes the envelope's data into v.
// An absent payload leaves v at its zero value.
func (e *Envelope) DecodePayload(v interface{}) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return nil
	}

	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
