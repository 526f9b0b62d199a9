package protocol

import "fmt"

const (
	Version    uint8 = 1
	HeaderSize       = 24
)

// MessageType is the one-byte type code carried in header byte 1.
type MessageType uint8

const (
	TypeConnect MessageType = iota + 1
	TypeConnectAck
	TypeDisconnect
	TypeChat
	TypeChatAck
	TypeBroadcast
	TypeBroadcastAck
	TypePrivate
	TypePrivateAck
	TypeNack
	TypeError
	TypeHeartbeat
	TypeHeartbeatAck
)

var typeNames = map[MessageType]string{
	TypeConnect:      "CONNECT",
	TypeConnectAck:   "CONNECT_ACK",
	TypeDisconnect:   "DISCONNECT",
	TypeChat:         "CHAT_MSG",
	TypeChatAck:      "CHAT_ACK",
	TypeBroadcast:    "BROADCAST",
	TypeBroadcastAck: "BROADCAST_ACK",
	TypePrivate:      "PRIVATE_MSG",
	TypePrivateAck:   "PRIVATE_ACK",
	TypeNack:         "NACK",
	TypeError:        "ERROR",
	TypeHeartbeat:    "HEARTBEAT",
	TypeHeartbeatAck: "HEARTBEAT_ACK",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Valid reports whether t is one of the defined type codes 1..13.
func (t MessageType) Valid() bool {
	return t >= TypeConnect && t <= TypeHeartbeatAck
}

// IsAck reports whether t is a positive acknowledgment type.
func (t MessageType) IsAck() bool {
	switch t {
	case TypeConnectAck, TypeChatAck, TypeBroadcastAck, TypePrivateAck, TypeHeartbeatAck:
		return true
	}
	return false
}

// AckType returns the acknowledgment type answering t. Types without a
// dedicated ack (DISCONNECT) are answered with CHAT_ACK.
func (t MessageType) AckType() MessageType {
	switch t {
	case TypeConnect:
		return TypeConnectAck
	case TypeBroadcast:
		return TypeBroadcastAck
	case TypePrivate:
		return TypePrivateAck
	case TypeHeartbeat:
		return TypeHeartbeatAck
	default:
		return TypeChatAck
	}
}

// Header is the fixed 24-byte wire header.
type Header struct {
	Version     uint8
	Type        MessageType
	Sequence    uint32
	TimestampMS uint64
	PayloadLen  uint32
	Checksum    uint32
	Reserved    uint16
}

// Message is one decoded wire message.
type Message struct {
	Version     uint8
	Type        MessageType
	Sequence    uint32
	TimestampMS uint64
	Payload     []byte
	Checksum    uint32
}
