package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"marketplace-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	// AppendAndMarkIncomingRead stores msg and, in the same transaction, marks
	// every unread message addressed to msg.SenderID in that chat as read.
	// It returns the stored message and the ids that were marked.
	AppendAndMarkIncomingRead(ctx context.Context, msg models.Message) (models.Message, []int64, error)
	ListChatMessages(ctx context.Context, chatID int64) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	UpdateMessageContent(ctx context.Context, messageID int64, encryptedContent string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
	MarkRead(ctx context.Context, messageID int64) error
	// MarkAllRead marks the unread messages of chatID addressed to recipientID
	// as read. Nothing is written when there are none.
	MarkAllRead(ctx context.Context, chatID int64, recipientID int64) ([]int64, error)
	CountUnreadByChat(ctx context.Context, recipientID int64) (map[int64]int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, recipient_id, encrypted_content, is_read, created_at, updated_at`

// AppendAndMarkIncomingRead serializes on the chat row so that a concurrent
// MarkAllRead on the same chat cannot interleave with it. Timestamps are read
// with clock_timestamp() after the lock is held, so created_at follows append order.
func (r *MessageRepo) AppendAndMarkIncomingRead(ctx context.Context, msg models.Message) (stored models.Message, marked []int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = lockChat(ctx, tx, msg.ChatID); err != nil {
		return models.Message{}, nil, err
	}

	if err = tx.GetContext(ctx, &stored, `INSERT INTO messages (chat_id, sender_id, recipient_id, encrypted_content, created_at, updated_at)
        VALUES ($1, $2, $3, $4, clock_timestamp(), clock_timestamp()) RETURNING `+messageColumns,
		msg.ChatID, msg.SenderID, msg.RecipientID, msg.EncryptedContent); err != nil {
		return models.Message{}, nil, err
	}

	if err = tx.SelectContext(ctx, &marked, `UPDATE messages SET is_read = TRUE
        WHERE chat_id=$1 AND recipient_id=$2 AND is_read = FALSE AND id <> $3
        RETURNING id`, msg.ChatID, msg.SenderID, stored.ID); err != nil {
		return models.Message{}, nil, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE chats SET last_activity_at=GREATEST(last_activity_at, $2) WHERE id=$1`, msg.ChatID, stored.CreatedAt); err != nil {
		return models.Message{}, nil, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, nil, err
	}
	return stored, marked, nil
}

// ListChatMessages returns the chat's messages in creation order.
func (r *MessageRepo) ListChatMessages(ctx context.Context, chatID int64) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE chat_id=$1
        ORDER BY created_at ASC, id ASC`, chatID)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateMessageContent replaces the stored ciphertext. The read flag is left untouched.
func (r *MessageRepo) UpdateMessageContent(ctx context.Context, messageID int64, encryptedContent string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET encrypted_content=$2, updated_at=GREATEST(created_at, clock_timestamp())
        WHERE id=$1 RETURNING `+messageColumns, messageID, encryptedContent)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage removes a message permanently.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkRead sets the read flag. Marking an already read message is a no-op.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkAllRead collects the unread set under the chat row lock and marks exactly that set.
func (r *MessageRepo) MarkAllRead(ctx context.Context, chatID int64, recipientID int64) (marked []int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = lockChat(ctx, tx, chatID); err != nil {
		return nil, err
	}

	var unread []int64
	if err = tx.SelectContext(ctx, &unread, `SELECT id FROM messages
        WHERE chat_id=$1 AND recipient_id=$2 AND is_read = FALSE
        ORDER BY id`, chatID, recipientID); err != nil {
		return nil, err
	}
	if len(unread) == 0 {
		err = tx.Rollback()
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE id = ANY($1)`, pq.Array(unread)); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return unread, nil
}

// CountUnreadByChat returns, per chat, the number of unread messages addressed to recipientID.
// Chats without unread messages are absent from the map.
func (r *MessageRepo) CountUnreadByChat(ctx context.Context, recipientID int64) (map[int64]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT chat_id, COUNT(*) FROM messages
        WHERE recipient_id=$1 AND is_read = FALSE
        GROUP BY chat_id`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[int64]int{}
	for rows.Next() {
		var chatID int64
		var count int
		if err := rows.Scan(&chatID, &count); err != nil {
			return nil, err
		}
		counts[chatID] = count
	}
	return counts, rows.Err()
}

func lockChat(ctx context.Context, tx *sqlx.Tx, chatID int64) error {
	var id int64
	err := tx.GetContext(ctx, &id, `SELECT id FROM chats WHERE id=$1 FOR UPDATE`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrChatNotFound
	}
	return err
}
