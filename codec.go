package quizzly

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ============================================================================
// Wire Envelope
// ============================================================================

// Message types used by the session protocol.
const (
	TypeSessionJoined   = "session.joined"
	TypeSessionRejected = "session.rejected"
	TypePing            = "ping"
	TypePong            = "pong"
)

// Envelope is the wire format for every realtime message. Payload holds the
// codec-encoded body.
type Envelope struct {
	Type      string
	RequestID string
	Payload   []byte
}

// SessionJoinedPayload acknowledges a session join.
type SessionJoinedPayload struct {
	SessionID SessionID `json:"quizId" cbor:"quizId"`
	PlayerID  string    `json:"playerId,omitempty" cbor:"playerId,omitempty"`
}

// SessionRejectedPayload explains a refused join.
type SessionRejectedPayload struct {
	Reason string `json:"reason" cbor:"reason"`
}

// ============================================================================
// Codecs
// ============================================================================

// Codec encodes envelopes for one WebSocket subprotocol.
type Codec interface {
	// Name is the negotiated subprotocol.
	Name() string
	// Binary reports whether frames are binary rather than text.
	Binary() bool
	Encode(env Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
	MarshalPayload(v any) ([]byte, error)
	UnmarshalPayload(data []byte, v any) error
}

// Subprotocol names.
const (
	SubprotocolJSON = "quizzly.json.v1"
	SubprotocolCBOR = "quizzly.cbor.v1"
)

// CodecByName resolves "json", "cbor", "quizzly.json", "quizzly.cbor" or a
// full subprotocol name. Empty means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json", "quizzly.json", SubprotocolJSON:
		return JSONCodec{}, nil
	case "cbor", "quizzly.cbor", SubprotocolCBOR:
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// JSONCodec uses text frames carrying JSON.
type JSONCodec struct{}

func (JSONCodec) Name() string { return SubprotocolJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(env Envelope) ([]byte, error) {
	return json.Marshal(jsonEnvelope{Type: env.Type, RequestID: env.RequestID, Payload: env.Payload})
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var w jsonEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if w.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return Envelope{Type: w.Type, RequestID: w.RequestID, Payload: w.Payload}, nil
}

func (JSONCodec) MarshalPayload(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (JSONCodec) UnmarshalPayload(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

type cborEnvelope struct {
	Type      string          `cbor:"type"`
	RequestID string          `cbor:"requestId,omitempty"`
	Payload   cbor.RawMessage `cbor:"payload,omitempty"`
}

// CBORCodec uses binary frames carrying CBOR.
type CBORCodec struct{}

func (CBORCodec) Name() string { return SubprotocolCBOR }
func (CBORCodec) Binary() bool { return true }

func (CBORCodec) Encode(env Envelope) ([]byte, error) {
	return cbor.Marshal(cborEnvelope{Type: env.Type, RequestID: env.RequestID, Payload: env.Payload})
}

func (CBORCodec) Decode(data []byte) (Envelope, error) {
	var w cborEnvelope
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if w.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return Envelope{Type: w.Type, RequestID: w.RequestID, Payload: w.Payload}, nil
}

func (CBORCodec) MarshalPayload(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return cbor.Marshal(v)
}

func (CBORCodec) UnmarshalPayload(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return cbor.Unmarshal(data, v)
}
