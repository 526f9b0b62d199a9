package protocol

import (
	"crypto/md5"
	"encoding/binary"
)

// Checksum returns the first four bytes of the MD5 digest of payload.
// It detects corruption only; it offers no protection against tampering.
func Checksum(payload []byte) uint32 {
	sum := md5.Sum(payload)
	return binary.BigEndian.Uint32(sum[:4])
}
