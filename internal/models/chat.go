package models

import "time"

// Chat represents a private chat between exactly two users.
// UserAID is always the smaller user id of the pair.
type Chat struct {
	ID             int64     `db:"id" json:"id"`
	UserAID        int64     `db:"user_a_id" json:"user_a_id"`
	UserBID        int64     `db:"user_b_id" json:"user_b_id"`
	CreatedBy      int64     `db:"created_by" json:"created_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
}

// HasParticipant reports whether userID occupies either slot of the chat.
func (c Chat) HasParticipant(userID int64) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// Counterpart returns the other participant of the chat.
func (c Chat) Counterpart(userID int64) int64 {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}

// ChatSummary provides API-friendly view of a chat for a user.
type ChatSummary struct {
	ChatID              int64     `json:"chat_id"`
	CounterpartID       int64     `json:"counterpart_id"`
	CounterpartUsername string    `json:"counterpart_username,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	LastActivityAt      time.Time `json:"last_activity_at"`
	UnreadCount         int       `json:"unread_count"`
}

// ChatUnread is the unread count of a single chat.
type ChatUnread struct {
	ChatID      int64 `json:"chat_id"`
	UnreadCount int   `json:"unread_count"`
}

// UnreadInfo aggregates unread messages addressed to a user.
type UnreadInfo struct {
	TotalUnread int          `json:"total_unread"`
	PerChat     []ChatUnread `json:"per_chat"`
}
