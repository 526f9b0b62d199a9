package protocol

import (
	"encoding/binary"
	"math"
)

// Encode builds the fixed header for payload followed by the raw payload bytes.
func Encode(t MessageType, seq uint32, timestampMS uint64, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf[:HeaderSize], Header{
		Version:     Version,
		Type:        t,
		Sequence:    seq,
		TimestampMS: timestampMS,
		PayloadLen:  uint32(len(payload)),
		Checksum:    Checksum(payload),
	})
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodeMessage encodes msg, recomputing length and checksum from its payload.
func EncodeMessage(msg Message) ([]byte, error) {
	return Encode(msg.Type, msg.Sequence, msg.TimestampMS, msg.Payload)
}

func putHeader(buf []byte, h Header) {
	buf[0] = h.Version
	buf[1] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[2:6], h.Sequence)
	binary.BigEndian.PutUint64(buf[6:14], h.TimestampMS)
	binary.BigEndian.PutUint32(buf[14:18], h.PayloadLen)
	binary.BigEndian.PutUint32(buf[18:22], h.Checksum)
	binary.BigEndian.PutUint16(buf[22:24], h.Reserved)
}
