package registry

import (
	"encoding/binary"
	"fmt"
)

const (
	magicByte  byte = 0
	headerSize      = 5
)

// Frame prefixes payload with the registry wire header: a zero magic byte
// followed by the schema id as a 4-byte big-endian integer.
func Frame(schemaID int, payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:headerSize], uint32(schemaID))
	copy(out[headerSize:], payload)
	return out
}

// Unframe splits a framed record into its schema id and payload.
func Unframe(data []byte) (int, []byte, error) {
	if len(data) < headerSize {
		return 0, nil, fmt.Errorf("record too short for registry header: %d bytes", len(data))
	}
	if data[0] != magicByte {
		return 0, nil, fmt.Errorf("unknown magic byte %d", data[0])
	}
	id := binary.BigEndian.Uint32(data[1:headerSize])
	return int(id), data[headerSize:], nil
}
