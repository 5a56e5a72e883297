package models

import "time"

// Message represents a chat message. EncryptedContent is what gets persisted;
// Content is only populated after decryption and is never written back.
type Message struct {
	ID               int64     `db:"id" json:"id"`
	ChatID           int64     `db:"chat_id" json:"chat_id"`
	SenderID         int64     `db:"sender_id" json:"sender_id"`
	RecipientID      int64     `db:"recipient_id" json:"recipient_id"`
	EncryptedContent string    `db:"encrypted_content" json:"-"`
	Content          *string   `db:"-" json:"content"`
	IsRead           bool      `db:"is_read" json:"is_read"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// ChatEvent is broadcasted through websockets.
type ChatEvent struct {
	Type       string   `json:"type"`
	ChatID     int64    `json:"chat_id"`
	Message    *Message `json:"message,omitempty"`
	MessageID  int64    `json:"message_id,omitempty"`
	MessageIDs []int64  `json:"message_ids,omitempty"`
	ReaderID   int64    `json:"reader_id,omitempty"`
}

// Chat event types.
const (
	EventMessage        = "message"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventMessagesRead   = "messages_read"
)
