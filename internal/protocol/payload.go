package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"

	// ServerName is the sender name used for server-originated notices.
	ServerName = "SERVER"
)

// ConnectPayload is carried by CONNECT and DISCONNECT.
type ConnectPayload struct {
	Username string `json:"username"`
	Action   string `json:"action"`
}

func (p ConnectPayload) Validate() error {
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("%w: missing username", ErrPayloadType)
	}
	return nil
}

// ChatPayload is carried by CHAT_MSG and BROADCAST.
type ChatPayload struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Broadcast bool   `json:"broadcast,omitempty"`
}

// PrivatePayload is carried by PRIVATE_MSG.
type PrivatePayload struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Private   bool   `json:"private"`
}

func (p PrivatePayload) Validate() error {
	if strings.TrimSpace(p.Recipient) == "" {
		return fmt.Errorf("%w: missing recipient", ErrPayloadType)
	}
	return nil
}

// AckPayload is carried by every *_ACK type.
type AckPayload struct {
	AckFor uint32 `json:"ack_for"`
	Status string `json:"status"`
}

// NackPayload is carried by NACK.
type NackPayload struct {
	NackFor uint32 `json:"nack_for"`
	Reason  string `json:"reason"`
	Status  string `json:"status"`
}

// ErrorPayload is carried by ERROR.
type ErrorPayload struct {
	Error string `json:"error"`
}

// HeartbeatPayload is carried by HEARTBEAT.
type HeartbeatPayload struct {
	Type string `json:"type"`
}

func NewAckPayload(seq uint32) AckPayload {
	return AckPayload{AckFor: seq, Status: StatusSuccess}
}

func NewNackPayload(seq uint32, reason string) NackPayload {
	return NackPayload{NackFor: seq, Reason: reason, Status: StatusFailure}
}

// MarshalPayload encodes v as the structured text payload.
func MarshalPayload(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	if raw, ok := v.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// UnmarshalPayload decodes msg.Payload into v.
func UnmarshalPayload(msg Message, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: empty payload for %s", ErrPayloadType, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPayloadType, msg.Type, err)
	}
	return nil
}

// AckedSequence returns the sequence number an ACK or NACK refers to.
// The payload field wins; the header sequence is the fallback.
func AckedSequence(msg Message) uint32 {
	switch {
	case msg.Type == TypeNack:
		var p struct {
			NackFor *uint32 `json:"nack_for"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err == nil && p.NackFor != nil {
			return *p.NackFor
		}
	case msg.Type.IsAck():
		var p struct {
			AckFor *uint32 `json:"ack_for"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err == nil && p.AckFor != nil {
			return *p.AckFor
		}
	}
	return msg.Sequence
}
