package quizzly

import (
	"bytes"
	"testing"
)

// ============================================================================
// Codecs
// ============================================================================

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]string{
		"":              SubprotocolJSON,
		"json":          SubprotocolJSON,
		SubprotocolJSON: SubprotocolJSON,
		"quizzly.json":  SubprotocolJSON,
		"cbor":          SubprotocolCBOR,
		"quizzly.cbor":  SubprotocolCBOR,
		SubprotocolCBOR: SubprotocolCBOR,
	} {
		codec, err := CodecByName(name)
		if err != nil {
			t.Fatalf("CodecByName(%q): %v", name, err)
		}
		if codec.Name() != want {
			t.Fatalf("CodecByName(%q) = %s, want %s", name, codec.Name(), want)
		}
	}
	for _, name := range []string{"protobuf", "quizzly", "quizzly.cbor.v2", "CBOR"} {
		if _, err := CodecByName(name); err == nil {
			t.Fatalf("expected error for unknown codec %q", name)
		}
	}
}

func TestJSONCodec(t *testing.T) {
	codec := JSONCodec{}

	t.Run("wire format", func(t *testing.T) {
		data, err := codec.Encode(Envelope{Type: TypePing, RequestID: "r1"})
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if string(data) != `{"type":"ping","requestId":"r1"}` {
			t.Fatalf("unexpected wire form %s", data)
		}
	})

	t.Run("payload kept raw", func(t *testing.T) {
		env, err := codec.Decode([]byte(`{"type":"question.started","payload":{"question":2}}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if env.Type != "question.started" || string(env.Payload) != `{"question":2}` {
			t.Fatalf("unexpected envelope %+v", env)
		}
		var q struct{ Question int }
		if err := codec.UnmarshalPayload(env.Payload, &q); err != nil || q.Question != 2 {
			t.Fatalf("UnmarshalPayload: %v %+v", err, q)
		}
	})

	t.Run("missing type", func(t *testing.T) {
		if _, err := codec.Decode([]byte(`{"payload":{}}`)); err == nil {
			t.Fatal("expected error for missing type")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := codec.Decode([]byte(`not json`)); err == nil {
			t.Fatal("expected error for malformed frame")
		}
	})

	t.Run("nil payload", func(t *testing.T) {
		data, err := codec.MarshalPayload(nil)
		if err != nil || data != nil {
			t.Fatalf("MarshalPayload(nil) = %q, %v", data, err)
		}
		if err := codec.UnmarshalPayload(nil, &struct{}{}); err != nil {
			t.Fatalf("UnmarshalPayload(nil): %v", err)
		}
	})
}

func TestCBORCodec(t *testing.T) {
	codec := CBORCodec{}
	if !codec.Binary() {
		t.Fatal("CBOR frames must be binary")
	}

	payload, err := codec.MarshalPayload(SessionJoinedPayload{SessionID: 12, PlayerID: "p"})
	if err != nil {
		t.Fatalf("MarshalPayload: %v", err)
	}
	data, err := codec.Encode(Envelope{Type: TypeSessionJoined, Payload: payload})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeSessionJoined || !bytes.Equal(env.Payload, payload) {
		t.Fatalf("unexpected envelope %+v", env)
	}

	var joined SessionJoinedPayload
	if err := codec.UnmarshalPayload(env.Payload, &joined); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if joined.SessionID != 12 || joined.PlayerID != "p" {
		t.Fatalf("unexpected payload %+v", joined)
	}

	if _, err := codec.Decode([]byte{0xff}); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
