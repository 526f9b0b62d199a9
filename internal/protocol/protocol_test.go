package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/chatwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripEncodeDecode(t *testing.T) {
	testlog.Start(t)
	payloads := [][]byte{
		nil,
		[]byte("{}"),
		[]byte(`{"username":"A","message":"hi"}`),
		make([]byte, 64*1024),
	}
	for ty := TypeConnect; ty <= TypeHeartbeatAck; ty++ {
		for i, payload := range payloads {
			seq := uint32(i*1000) + uint32(ty)
			ts := uint64(1700000000000 + i)
			raw, err := Encode(ty, seq, ts, payload)
			require.NoError(t, err)
			require.Len(t, raw, HeaderSize+len(payload))

			msg, err := Decode(raw)
			require.NoError(t, err, "type=%s payload=%d", ty, i)
			assert.Equal(t, Version, msg.Version)
			assert.Equal(t, ty, msg.Type)
			assert.Equal(t, seq, msg.Sequence)
			assert.Equal(t, ts, msg.TimestampMS)
			assert.Equal(t, len(payload), len(msg.Payload))
			assert.Equal(t, Checksum(payload), msg.Checksum)
		}
	}
}

func TestEncodeHeaderLayout(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`{"username":"A","message":"hi"}`)
	raw, err := Encode(TypeChat, 7, 0x0102030405060708, payload)
	require.NoError(t, err)

	assert.Equal(t, byte(1), raw[0])
	assert.Equal(t, byte(4), raw[1])
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(raw[2:6]))
	assert.Equal(t, uint64(0x0102030405060708), binary.BigEndian.Uint64(raw[6:14]))
	assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(raw[14:18]))
	assert.Equal(t, Checksum(payload), binary.BigEndian.Uint32(raw[18:22]))
	assert.Equal(t, []byte{0, 0}, raw[22:24])
	assert.Equal(t, payload, raw[24:])
}

func TestChecksumIsMD5Prefix(t *testing.T) {
	testlog.Start(t)
	// md5("") = d41d8cd98f00b204e9800998ecf8427e
	assert.Equal(t, uint32(0xd41d8cd9), Checksum(nil))
}

func TestDecodeDetectsEverySingleBitFlip(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`{"username":"Bob","message":"Test message"}`)
	raw, err := Encode(TypeChat, 1, 1700000000000, payload)
	require.NoError(t, err)

	for i := HeaderSize; i < len(raw); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), raw...)
			corrupted[i] ^= 1 << bit
			_, err := Decode(corrupted)
			require.ErrorIs(t, err, ErrIntegrity, "byte=%d bit=%d", i, bit)
			assert.False(t, errors.Is(err, ErrFormat))
		}
	}
}

func TestDecodeChecksumFieldCorruption(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(TypeChat, 1, 1, []byte("x"))
	require.NoError(t, err)
	raw[20] ^= 0x10
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(TypeConnect, 1, 1, []byte(`{"username":"a"}`))
	require.NoError(t, err)
	raw[0] = 2
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeTruncatedHeader(t *testing.T) {
	testlog.Start(t)
	_, err := Decode([]byte{1, 4, 0, 0})
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeLengthMismatch(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(TypeChat, 3, 1, []byte("hello"))
	require.NoError(t, err)

	_, err = Decode(raw[:len(raw)-1])
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Decode(append(raw, 0))
	assert.ErrorIs(t, err, ErrLengthMismatch)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeUnknownTypeIsLenient(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(MessageType(99), 5, 1, nil)
	require.NoError(t, err)
	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.False(t, msg.Type.Valid())
	assert.Equal(t, "UNKNOWN(99)", msg.Type.String())
}

func TestAckTypeMapping(t *testing.T) {
	testlog.Start(t)
	assert.Equal(t, TypeConnectAck, TypeConnect.AckType())
	assert.Equal(t, TypeChatAck, TypeChat.AckType())
	assert.Equal(t, TypeBroadcastAck, TypeBroadcast.AckType())
	assert.Equal(t, TypePrivateAck, TypePrivate.AckType())
	assert.Equal(t, TypeHeartbeatAck, TypeHeartbeat.AckType())
	assert.Equal(t, TypeChatAck, TypeDisconnect.AckType())
	assert.True(t, TypeHeartbeatAck.IsAck())
	assert.False(t, TypeNack.IsAck())
	assert.Equal(t, MessageType(13), TypeHeartbeatAck)
}

func TestAckedSequence(t *testing.T) {
	testlog.Start(t)
	ackBody, err := MarshalPayload(NewAckPayload(7))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), AckedSequence(Message{Type: TypeChatAck, Sequence: 99, Payload: ackBody}))

	nackBody, err := MarshalPayload(NewNackPayload(8, "Username already taken"))
	require.NoError(t, err)
	assert.Equal(t, uint32(8), AckedSequence(Message{Type: TypeNack, Sequence: 99, Payload: nackBody}))

	assert.Equal(t, uint32(5), AckedSequence(Message{Type: TypeChatAck, Sequence: 5, Payload: []byte("{}")}))
}

func TestUnmarshalPayload(t *testing.T) {
	testlog.Start(t)
	body, err := MarshalPayload(PrivatePayload{Sender: "a", Recipient: "b", Message: "hi", Private: true})
	require.NoError(t, err)
	var p PrivatePayload
	require.NoError(t, UnmarshalPayload(Message{Type: TypePrivate, Payload: body}, &p))
	assert.Equal(t, "b", p.Recipient)
	require.NoError(t, p.Validate())

	err = UnmarshalPayload(Message{Type: TypeChat, Payload: []byte("not json")}, &p)
	assert.ErrorIs(t, err, ErrPayloadType)
	err = UnmarshalPayload(Message{Type: TypeChat}, &p)
	assert.ErrorIs(t, err, ErrPayloadType)
}
