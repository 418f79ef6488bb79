package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMinimalPayload(t *testing.T) {
	var p InboundPayload
	err := json.Unmarshal([]byte(`{"message":"hi"}`), &p)
	assert.NoError(t, err)

	p.Normalize()
	assert.Equal(t, string(TypeMessage), p.Type)
	assert.Equal(t, "hi", p.Message)
	assert.Empty(t, p.RoomID)
}

func TestNormalizeExtendedPayload(t *testing.T) {
	var p InboundPayload
	err := json.Unmarshal([]byte(`{"type":"message","message":"hi","room_id":"general"}`), &p)
	assert.NoError(t, err)

	p.Normalize()
	assert.Equal(t, "message", p.Type)
	assert.Equal(t, "general", p.RoomID)
}

func TestFrameFromMessage(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Message{
		RoomID:         "general",
		Seq:            7,
		UserID:         "u-1",
		SenderUsername: "alice",
		MessageType:    TypeMessage,
		Body:           "hi",
		Timestamp:      ts,
	}

	f := FrameFromMessage(m)
	assert.Equal(t, "alice", f.Username)
	assert.Equal(t, "hi", f.Message)
	assert.Equal(t, TypeMessage, f.MessageType)
	assert.Equal(t, ts, f.Timestamp)
}

func TestFrameWireShape(t *testing.T) {
	f := Frame{
		Username:    "alice",
		Message:     "hi",
		MessageType: TypeMessage,
		Timestamp:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(f)
	assert.NoError(t, err)

	var raw map[string]any
	assert.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "alice", raw["username"])
	assert.Equal(t, "message", raw["message_type"])
	assert.Equal(t, "2025-03-01T12:00:00Z", raw["timestamp"])
}

func TestMessageWireShape(t *testing.T) {
	m := Message{
		RoomID:         "general",
		Seq:            3,
		UserID:         "u-1",
		SenderUsername: "alice",
		MessageType:    TypeMessage,
		Body:           "hi",
		Timestamp:      time.Now().UTC(),
	}
	b, err := json.Marshal(m)
	assert.NoError(t, err)

	var raw map[string]any
	assert.NoError(t, json.Unmarshal(b, &raw))
	// the history endpoint serves this shape; sender_username is the contract
	assert.Equal(t, "alice", raw["sender_username"])
	assert.Equal(t, float64(3), raw["event_id"])
	assert.NotContains(t, raw, "UserID")
}
