package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"marketplace-chat/internal/models"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrSelfChat     = errors.New("cannot create chat with self")
)

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	GetOrCreateChat(ctx context.Context, initiatorID int64, otherID int64) (models.Chat, error)
	GetChat(ctx context.Context, chatID int64) (models.Chat, error)
	ListChatsForUser(ctx context.Context, userID int64) ([]models.Chat, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// CanonicalPair orders two user ids smallest first.
func CanonicalPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

const chatColumns = `id, user_a_id, user_b_id, created_by, created_at, last_activity_at`

// GetOrCreateChat returns the chat between the two users, creating it on first contact.
// Concurrent first contacts converge on the UNIQUE(user_a_id, user_b_id) constraint.
func (r *ChatRepo) GetOrCreateChat(ctx context.Context, initiatorID int64, otherID int64) (models.Chat, error) {
	if initiatorID == otherID {
		return models.Chat{}, ErrSelfChat
	}
	userA, userB := CanonicalPair(initiatorID, otherID)

	if _, err := r.db.ExecContext(ctx, `INSERT INTO chats (user_a_id, user_b_id, created_by) VALUES ($1, $2, $3)
        ON CONFLICT (user_a_id, user_b_id) DO NOTHING`, userA, userB, initiatorID); err != nil {
		return models.Chat{}, err
	}

	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE user_a_id=$1 AND user_b_id=$2`, userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int64) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// ListChatsForUser returns chats the user participates in, most recently active first.
func (r *ChatRepo) ListChatsForUser(ctx context.Context, userID int64) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.SelectContext(ctx, &chats, `SELECT `+chatColumns+` FROM chats
        WHERE user_a_id=$1 OR user_b_id=$1
        ORDER BY last_activity_at DESC, id DESC`, userID)
	return chats, err
}
