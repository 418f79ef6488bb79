package models

import (
	"time"
)

// MessageType classifies a chat event.
type MessageType string

const (
	TypeMessage    MessageType = "message"
	TypeUserJoin   MessageType = "user_join"
	TypeUserLeave  MessageType = "user_leave"
	TypeSystem     MessageType = "system"
	TypeRoomUpdate MessageType = "room_update"
)

// Identity is the verified user bound to a connection. It is derived once
// from the token at upgrade time and never changes for the connection's life.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// RoomInfo is the room metadata the external room service maintains.
// The gateway only reads it, never writes it.
type RoomInfo struct {
	Name      string `json:"room_name"`
	Owner     string `json:"owner"`
	CreatedAt string `json:"created_at"`
}

// Message is a persisted chat event. Seq is monotonically increasing per
// room and is the only ordering guarantee the gateway makes.
type Message struct {
	ID             uint        `gorm:"primaryKey" json:"-"`
	RoomID         string      `gorm:"size:100;index:idx_room_seq,unique" json:"room_id"`
	Seq            int64       `gorm:"index:idx_room_seq,unique" json:"event_id"`
	UserID         string      `gorm:"size:64;index" json:"-"`
	SenderUsername string      `gorm:"size:100" json:"sender_username"`
	MessageType    MessageType `gorm:"size:20" json:"message_type"`
	Body           string      `gorm:"type:text" json:"message"`
	Timestamp      time.Time   `json:"timestamp"`
}

// UserSnapshot is a local copy of auth-service user data, kept fresh by the
// snapshot consumer so history rows carry a username without a cross-service call.
type UserSnapshot struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"`
	Username  string    `gorm:"size:100" json:"username"`
	Email     string    `gorm:"size:255" json:"email"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Frame is the outbound shape, one JSON object per websocket frame.
type Frame struct {
	Username    string      `json:"username"`
	Message     string      `json:"message"`
	MessageType MessageType `json:"message_type"`
	Timestamp   time.Time   `json:"timestamp"`
}

// InboundPayload tolerates both observed client shapes: the minimal
// {"message": ...} and the extended {"type", "message", "room_id"} form.
type InboundPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	RoomID  string `json:"room_id"`
}

// Normalize fills the default type for the minimal payload shape.
func (p *InboundPayload) Normalize() {
	if p.Type == "" {
		p.Type = string(TypeMessage)
	}
}

// FrameFromMessage converts a stored event into its live broadcast shape.
func FrameFromMessage(m Message) Frame {
	return Frame{
		Username:    m.SenderUsername,
		Message:     m.Body,
		MessageType: m.MessageType,
		Timestamp:   m.Timestamp,
	}
}
