package codec

import (
	"reflect"
	"testing"

	"github.com/bx-d/bus/message"
)

// roundTrip encodes and decodes one envelope through the given codec.
func roundTrip(t *testing.T, c Codec, env *Envelope) *Envelope {
	t.Helper()
	data, err := c.Encode(env)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := c.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return decoded
}

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		c    Codec
	}{
		{"json", &JSONCodec{}},
		{"binary", &BinaryCodec{}},
	}

	rpc := message.NewRpcMessage("", "auth", "get_user", map[string]interface{}{"username": "admin"}, "reply-1")
	env := &Envelope{Metadata: rpc.GetMetadata(), Kwargs: rpc.GetKwargs()}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded := roundTrip(t, tt.c, env)

			rebuilt := message.RpcMessageFromDict(decoded.Metadata, decoded.Kwargs)
			if rebuilt.ID() != rpc.ID() {
				t.Fatalf("id mismatch: got %q, want %q", rebuilt.ID(), rpc.ID())
			}
			if rebuilt.APIName != "auth" || rebuilt.ProcedureName != "get_user" {
				t.Fatalf("name mismatch: got %s", rebuilt.CanonicalName())
			}
			if rebuilt.ReturnPath != "reply-1" {
				t.Fatalf("return path mismatch: got %q", rebuilt.ReturnPath)
			}
			if rebuilt.Kwargs["username"] != "admin" {
				t.Fatalf("kwargs mismatch: got %v", rebuilt.Kwargs)
			}
		})
	}
}

func TestCodecEmptyKwargs(t *testing.T) {
	evt := message.NewEventMessage("", "auth", "logged_out", nil)
	env := &Envelope{Metadata: evt.GetMetadata(), Kwargs: evt.GetKwargs()}

	for _, c := range []Codec{&JSONCodec{}, &BinaryCodec{}} {
		decoded := roundTrip(t, c, env)
		if len(decoded.Kwargs) != 0 {
			t.Fatalf("%T: expected empty kwargs, got %v", c, decoded.Kwargs)
		}
		if !reflect.DeepEqual(decoded.Metadata, env.Metadata) {
			t.Fatalf("%T: metadata mismatch: got %v, want %v", c, decoded.Metadata, env.Metadata)
		}
	}
}

func TestBinaryCodecRejectsTruncatedBody(t *testing.T) {
	c := &BinaryCodec{}
	if _, err := c.Decode([]byte{0, 0}); err == nil {
		t.Fatal("expected error for truncated envelope")
	}
	if _, err := c.Decode([]byte{0, 0, 0, 200, 'x', 0, 0, 0, 0}); err == nil {
		t.Fatal("expected error for metadata length exceeding body")
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Fatal("expected JSON codec")
	}
	if GetCodec(CodecTypeBinary).Type() != CodecTypeBinary {
		t.Fatal("expected binary codec")
	}
}
