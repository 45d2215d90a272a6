package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingKind  = errors.New("envelope has no kind")
	ErrKindMismatch = errors.New("event kind does not match descriptor")
)

// Event is a received event as kept by the store and handed to consumers.
// Payload is shared between the store and every consumer and must be
// treated as read-only.
type Event struct {
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Size returns the payload size in bytes.
func (e Event) Size() int { return len(e.Payload) }

// Envelope is the frame format in both directions.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals payload and wraps it in an envelope. A payload that is
// already a json.RawMessage or []byte is used as is.
func Encode(kind string, payload any) ([]byte, error) {
	if kind == "" {
		return nil, ErrMissingKind
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		raw = b
	}

	return json.Marshal(Envelope{Kind: kind, Payload: raw})
}

// DecodeEnvelope parses a frame received from the server.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Kind == "" {
		return Envelope{}, ErrMissingKind
	}
	return env, nil
}

// Kind describes one event or command kind and its payload type.
type Kind[P any] struct {
	Name string
}

// Decode unmarshals ev's payload into P.
func (k Kind[P]) Decode(ev Event) (P, error) {
	var p P
	if ev.Kind != k.Name {
		return p, fmt.Errorf("%w: got %q, want %q", ErrKindMismatch, ev.Kind, k.Name)
	}
	if len(ev.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", k.Name, err)
	}
	return p, nil
}

// Encode builds the wire frame for payload.
func (k Kind[P]) Encode(payload P) ([]byte, error) {
	return Encode(k.Name, payload)
}

func (k Kind[P]) String() string { return k.Name }
