package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type MessageType uint32

const (
	MessageTypeAuth MessageType = iota + 1
	MessageTypeAuthEcho
	MessageTypeUpdate
	MessageTypeSyncRequest
	MessageTypeSnapshot
	MessageTypePresence
	MessageTypePing
)

func (self MessageType) String() string {
	switch self {
	case MessageTypeAuth:
		return "Auth"
	case MessageTypeAuthEcho:
		return "AuthEcho"
	case MessageTypeUpdate:
		return "Update"
	case MessageTypeSyncRequest:
		return "SyncRequest"
	case MessageTypeSnapshot:
		return "Snapshot"
	case MessageTypePresence:
		return "Presence"
	case MessageTypePing:
		return "Ping"
	default:
		return fmt.Sprintf("MessageType(%d)", uint32(self))
	}
}

// Frame is the envelope for every message on the replication channel.
// The envelope is a two-field protobuf message encoded by hand:
//
//	1: message_type (varint)
//	2: message_bytes (bytes)
//
// The body encoding is owned by the message type (see messages.go).
type Frame struct {
	MessageType  MessageType
	MessageBytes []byte
}

func EncodeFrame(messageType MessageType, messageBytes []byte) []byte {
	b := make([]byte, 0, len(messageBytes)+8)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(messageType))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, messageBytes)
	return b
}

func DecodeFrame(b []byte) (*Frame, error) {
	frame := &Frame{}
	for 0 < len(b) {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			if typ != protowire.VarintType {
				return nil, fmt.Errorf("Bad wire type for message_type: %v", typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			frame.MessageType = MessageType(v)
			b = b[n:]
		case 2:
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("Bad wire type for message_bytes: %v", typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			frame.MessageBytes = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if frame.MessageType == 0 {
		return nil, fmt.Errorf("Frame missing message type.")
	}
	return frame, nil
}
