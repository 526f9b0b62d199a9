package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/danmuck/chatwire/internal/protocol"
	"github.com/danmuck/chatwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	encoded, err := protocol.Encode(protocol.TypeChat, 42, 1700000000000, []byte(`{"username":"A","message":"hi"}`))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, encoded, DefaultLimits()))
	require.NoError(t, WriteFrame(&buf, encoded, DefaultLimits()))

	for i := 0; i < 2; i++ {
		out, err := ReadFrame(&buf, DefaultLimits())
		require.NoError(t, err)
		assert.Equal(t, encoded, out)
	}
	_, err = ReadFrame(&buf, DefaultLimits())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestFramePrefix(t *testing.T) {
	testlog.Start(t)
	out := Frame([]byte{0xaa, 0xbb, 0xcc})
	assert.Equal(t, []byte{0, 0, 0, 3, 0xaa, 0xbb, 0xcc}, out)
}

func TestReadFrameToleratesPartialReads(t *testing.T) {
	testlog.Start(t)
	encoded := bytes.Repeat([]byte{7}, 300)
	r := iotest.OneByteReader(bytes.NewReader(Frame(encoded)))
	out, err := ReadFrame(r, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, encoded, out)
}

func TestReadFrameTruncatedPrefix(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}), DefaultLimits())
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, err, protocol.ErrFormat)
	assert.False(t, errors.Is(err, ErrConnectionClosed))
}

func TestReadFrameTruncatedBody(t *testing.T) {
	testlog.Start(t)
	full := Frame([]byte("hello world"))
	_, err := ReadFrame(bytes.NewReader(full[:len(full)-3]), DefaultLimits())
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, err, protocol.ErrFormat)
}

func TestReadFrameTooLarge(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 1, 0}), Limits{MaxFrameBytes: 16})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.ErrorIs(t, WriteFrame(io.Discard, make([]byte, 17), Limits{MaxFrameBytes: 16}), ErrFrameTooLarge)
}

func TestReadFramePassesTransportErrors(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("connection reset")
	_, err := ReadFrame(iotest.ErrReader(boom), DefaultLimits())
	assert.ErrorIs(t, err, boom)
}

type shortWriter struct {
	buf bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return w.buf.Write(p)
}

func TestWriteFrameToleratesShortWrites(t *testing.T) {
	testlog.Start(t)
	w := &shortWriter{}
	require.NoError(t, WriteFrame(w, []byte("0123456789"), DefaultLimits()))
	out, err := ReadFrame(&w.buf, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(out))
}
