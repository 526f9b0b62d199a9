package protocol

import (
	"encoding/binary"
	"fmt"
)

// Decode parses one encoded message and verifies its checksum.
//
// Unknown type codes are not rejected here; receivers decide what to do with them.
func Decode(b []byte) (Message, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Message{}, err
	}
	available := len(b) - HeaderSize
	if uint64(h.PayloadLen) != uint64(available) {
		return Message{}, fmt.Errorf("%w: declared=%d available=%d", ErrLengthMismatch, h.PayloadLen, available)
	}
	payload := make([]byte, available)
	copy(payload, b[HeaderSize:])
	if got := Checksum(payload); got != h.Checksum {
		return Message{}, fmt.Errorf("%w: seq=%d want=%08x got=%08x", ErrIntegrity, h.Sequence, h.Checksum, got)
	}
	return Message{
		Version:     h.Version,
		Type:        h.Type,
		Sequence:    h.Sequence,
		TimestampMS: h.TimestampMS,
		Payload:     payload,
		Checksum:    h.Checksum,
	}, nil
}

// ParseHeader decodes and validates the fixed header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}
	h := Header{
		Version:     b[0],
		Type:        MessageType(b[1]),
		Sequence:    binary.BigEndian.Uint32(b[2:6]),
		TimestampMS: binary.BigEndian.Uint64(b[6:14]),
		PayloadLen:  binary.BigEndian.Uint32(b[14:18]),
		Checksum:    binary.BigEndian.Uint32(b[18:22]),
		Reserved:    binary.BigEndian.Uint16(b[22:24]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}
