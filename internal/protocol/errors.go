package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat marks malformed headers or framing. Fatal to the connection.
	ErrFormat = errors.New("protocol: malformed message")
	// ErrIntegrity marks a checksum mismatch. Receivers drop the message silently.
	ErrIntegrity = errors.New("protocol: checksum mismatch")

	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrFormat)
	ErrTruncated          = fmt.Errorf("%w: truncated header", ErrFormat)
	ErrLengthMismatch     = fmt.Errorf("%w: payload length mismatch", ErrFormat)
	ErrPayloadTooLarge    = errors.New("protocol: payload too large")
	ErrPayloadType        = errors.New("protocol: payload does not match message type")
)
