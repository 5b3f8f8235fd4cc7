package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
)

// BinaryCodec implements a custom binary envelope for bus messages.
//
// Binary format:
//
//	┌────────────────┬────────────────┬───────────────┬──────────────┐
//	│ MetadataLen(4) │ Metadata bytes │ KwargsLen(4)  │ Kwargs bytes │
//	└────────────────┴────────────────┴───────────────┴──────────────┘
//
// Note: the two halves themselves are still JSON-encoded. The point of the
// binary framing is that a receiver can peel off the metadata half —
// routing fields like api_name and return_path — without parsing kwargs,
// which may be arbitrarily large.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(env *Envelope) ([]byte, error) {
	metadata, err := json.Marshal(env.Metadata)
	if err != nil {
		return nil, err
	}
	kwargs, err := json.Marshal(env.Kwargs)
	if err != nil {
		return nil, err
	}

	// Pre-calculate total buffer size to avoid multiple allocations
	total := 4 + len(metadata) + 4 + len(kwargs)
	buf := make([]byte, total)

	offset := 0

	// Metadata: 4-byte length prefix + JSON bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(metadata)))
	offset += 4
	copy(buf[offset:offset+len(metadata)], metadata)
	offset += len(metadata)

	// Kwargs: 4-byte length prefix + JSON bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(kwargs)))
	offset += 4
	copy(buf[offset:offset+len(kwargs)], kwargs)

	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte) (*Envelope, error) {
	if len(data) < 8 {
		return nil, errors.New("BinaryCodec: envelope too short")
	}

	offset := 0

	// Read metadata half
	metadataLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if offset+int(metadataLen) > len(data) {
		return nil, errors.New("BinaryCodec: metadata length exceeds body")
	}
	metadataRaw := data[offset : offset+int(metadataLen)]
	offset += int(metadataLen)

	// Read kwargs half
	if offset+4 > len(data) {
		return nil, errors.New("BinaryCodec: truncated kwargs length")
	}
	kwargsLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if offset+int(kwargsLen) > len(data) {
		return nil, errors.New("BinaryCodec: kwargs length exceeds body")
	}
	kwargsRaw := data[offset : offset+int(kwargsLen)]

	env := &Envelope{}
	if err := json.Unmarshal(metadataRaw, &env.Metadata); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(kwargsRaw, &env.Kwargs); err != nil {
		return nil, err
	}
	return env, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
