package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// message bodies are cbor. Ids are raw 16-byte values so that this package
// does not depend on the core id type.

type Auth struct {
	ByJwt      string `cbor:"1,keyasint"`
	InstanceId []byte `cbor:"2,keyasint"`
	AppVersion string `cbor:"3,keyasint,omitempty"`
}

type Update struct {
	PageId      []byte `cbor:"1,keyasint"`
	UpdateBytes []byte `cbor:"2,keyasint"`
}

// SyncRequest asks a peer for all updates not covered by the sender's
// version vector. Keys are the uuid-formatted client ids.
type SyncRequest struct {
	PageId        []byte            `cbor:"1,keyasint"`
	VersionVector map[string]uint64 `cbor:"2,keyasint"`
}

type Snapshot struct {
	PageId        []byte `cbor:"1,keyasint"`
	SnapshotBytes []byte `cbor:"2,keyasint"`
}

// Presence is ephemeral per-user state scoped to one page room.
// It is fanned out to room members and never persisted.
type Presence struct {
	PageId     []byte             `cbor:"1,keyasint"`
	UserId     []byte             `cbor:"2,keyasint"`
	ClientId   []byte             `cbor:"3,keyasint"`
	Active     bool               `cbor:"4,keyasint"`
	Cursor     *PresenceCursor    `cbor:"5,keyasint,omitempty"`
	Selection  *PresenceSelection `cbor:"6,keyasint,omitempty"`
	UnixMillis int64              `cbor:"7,keyasint"`
	Disconnect bool               `cbor:"8,keyasint,omitempty"`
}

type PresenceCursor struct {
	ItemId []byte `cbor:"1,keyasint"`
	Offset int    `cbor:"2,keyasint"`
	Active bool   `cbor:"3,keyasint"`
}

type PresenceSelection struct {
	StartItemId    []byte `cbor:"1,keyasint"`
	StartOffset    int    `cbor:"2,keyasint"`
	EndItemId      []byte `cbor:"3,keyasint"`
	EndOffset      int    `cbor:"4,keyasint"`
	IsReversed     bool   `cbor:"5,keyasint,omitempty"`
	IsBoxSelection bool   `cbor:"6,keyasint,omitempty"`
}

type Ping struct{}

func ToFrame(message any) ([]byte, error) {
	var messageType MessageType
	switch message.(type) {
	case *Auth:
		messageType = MessageTypeAuth
	case *Update:
		messageType = MessageTypeUpdate
	case *SyncRequest:
		messageType = MessageTypeSyncRequest
	case *Snapshot:
		messageType = MessageTypeSnapshot
	case *Presence:
		messageType = MessageTypePresence
	case *Ping:
		messageType = MessageTypePing
	default:
		return nil, fmt.Errorf("Unknown message type: %T", message)
	}
	messageBytes, err := cbor.Marshal(message)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(messageType, messageBytes), nil
}

func RequireToFrame(message any) []byte {
	b, err := ToFrame(message)
	if err != nil {
		panic(err)
	}
	return b
}

func FromFrame(b []byte) (any, error) {
	frame, err := DecodeFrame(b)
	if err != nil {
		return nil, err
	}
	var message any
	switch frame.MessageType {
	case MessageTypeAuth:
		message = &Auth{}
	case MessageTypeUpdate:
		message = &Update{}
	case MessageTypeSyncRequest:
		message = &SyncRequest{}
	case MessageTypeSnapshot:
		message = &Snapshot{}
	case MessageTypePresence:
		message = &Presence{}
	case MessageTypePing:
		message = &Ping{}
	default:
		return nil, fmt.Errorf("Unknown message type: %s", frame.MessageType)
	}
	if err := cbor.Unmarshal(frame.MessageBytes, message); err != nil {
		return nil, err
	}
	return message, nil
}
