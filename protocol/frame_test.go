package protocol

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFrameRoundTrip(t *testing.T) {
	frameBytes := EncodeFrame(MessageTypeUpdate, []byte("body"))
	frame, err := DecodeFrame(frameBytes)
	assert.Equal(t, err, nil)
	assert.Equal(t, frame.MessageType, MessageTypeUpdate)
	assert.Equal(t, frame.MessageBytes, []byte("body"))
}

func TestDecodeFrameErrors(t *testing.T) {
	_, err := DecodeFrame([]byte{0xff})
	assert.NotEqual(t, err, nil)

	// a frame with no message type field is rejected
	_, err = DecodeFrame(EncodeFrame(0, nil))
	assert.NotEqual(t, err, nil)
}

func TestMessageRoundTrip(t *testing.T) {
	pageId := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	messages := []any{
		&Auth{
			ByJwt:      "jwt",
			InstanceId: pageId,
			AppVersion: "0.0.1",
		},
		&Update{
			PageId:      pageId,
			UpdateBytes: []byte("update"),
		},
		&SyncRequest{
			PageId: pageId,
			VersionVector: map[string]uint64{
				"client-a": 7,
				"client-b": 11,
			},
		},
		&Snapshot{
			PageId:        pageId,
			SnapshotBytes: []byte("snapshot"),
		},
		&Presence{
			PageId:     pageId,
			UserId:     pageId,
			ClientId:   pageId,
			Active:     true,
			UnixMillis: 1700000000000,
			Cursor: &PresenceCursor{
				ItemId: pageId,
				Offset: 3,
				Active: true,
			},
			Selection: &PresenceSelection{
				StartItemId:    pageId,
				StartOffset:    1,
				EndItemId:      pageId,
				EndOffset:      2,
				IsBoxSelection: true,
			},
		},
		&Ping{},
	}
	for _, message := range messages {
		decoded, err := FromFrame(RequireToFrame(message))
		assert.Equal(t, err, nil)
		assert.Equal(t, decoded, message)
	}
}

func TestUnknownMessageType(t *testing.T) {
	_, err := ToFrame(&struct{}{})
	assert.NotEqual(t, err, nil)

	_, err = FromFrame(EncodeFrame(MessageType(99), nil))
	assert.NotEqual(t, err, nil)
}
