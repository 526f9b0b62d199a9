package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/chatwire/internal/protocol"
)

const LengthPrefixSize = 4

var (
	// ErrConnectionClosed reports a clean end of stream at a frame boundary.
	ErrConnectionClosed = errors.New("frame: connection closed")
	ErrTruncated        = fmt.Errorf("%w: truncated frame", protocol.ErrFormat)
	ErrFrameTooLarge    = fmt.Errorf("%w: frame too large", protocol.ErrFormat)
)

// Limits constrains frame read/write memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 1024 * 1024,
	}
}

// Frame prepends the 4-byte big-endian length of encoded.
func Frame(encoded []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(encoded))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(encoded)))
	copy(buf[LengthPrefixSize:], encoded)
	return buf
}

// WriteFrame frames encoded and writes it fully to w.
func WriteFrame(w io.Writer, encoded []byte, limits Limits) error {
	if limits.MaxFrameBytes > 0 && uint64(len(encoded)) > uint64(limits.MaxFrameBytes) {
		return ErrFrameTooLarge
	}
	return WriteFull(w, Frame(encoded))
}

// WriteFull writes buf to w, continuing after short writes.
func WriteFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// ReadFrame blocks until one complete frame is read from r and returns the
// encoded message it carries.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		switch {
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: length prefix", ErrTruncated)
		case errors.Is(err, io.EOF):
			return nil, ErrConnectionClosed
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if limits.MaxFrameBytes > 0 && n > limits.MaxFrameBytes {
		return nil, fmt.Errorf("%w: declared=%d max=%d", ErrFrameTooLarge, n, limits.MaxFrameBytes)
	}

	body := make([]byte, n)
	if n == 0 {
		return body, nil
	}
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: want=%d", ErrTruncated, n)
		}
		return nil, err
	}
	return body, nil
}
