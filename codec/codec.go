// Package codec provides the serialization layer for bus messages.
//
// A serializer never sees a concrete message type — it consumes the
// metadata/kwargs split every message exposes (message.GetMetadata /
// message.GetKwargs) and produces the bytes a transport frames onto the
// wire. Reconstruction goes the other way: the transport hands the decoded
// split back to the matching FromDict factory.
//
// Two implementations are provided:
//   - JSONCodec:   human-readable, easy to debug, slower
//   - BinaryCodec: length-prefixed binary envelope that keeps the two
//     halves separable without re-parsing the whole body
//
// The codec type is stored in the frame header so the receiver knows which
// codec to use for deserialization.
package codec

// CodecType identifies the serialization format, stored as 1 byte in the frame header.
type CodecType byte

const (
	CodecTypeJSON   CodecType = 0 // JSON serialization (encoding/json)
	CodecTypeBinary CodecType = 1 // Custom binary envelope
)

// Envelope is the wire form of any bus message: the metadata/kwargs split,
// kept apart so transports that carry structured headers can serialize the
// two halves independently.
type Envelope struct {
	Metadata map[string]interface{} `json:"metadata"`
	Kwargs   map[string]interface{} `json:"kwargs"`
}

// Codec is the interface for serialization/deserialization.
// Implementing this interface allows adding new formats (e.g., Protobuf)
// without changing any other layer — this is the Strategy Pattern.
type Codec interface {
	Encode(env *Envelope) ([]byte, error)  // Serialize an envelope to bytes
	Decode(data []byte) (*Envelope, error) // Deserialize bytes back to an envelope
	Type() CodecType                       // Return the codec type identifier
}

// GetCodec is a factory function that returns the appropriate codec by type.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}
