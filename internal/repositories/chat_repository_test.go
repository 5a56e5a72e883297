package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chatRowColumns = []string{"id", "user_a_id", "user_b_id", "created_by", "created_at", "last_activity_at"}

func TestCanonicalPair(t *testing.T) {
	a, b := CanonicalPair(9, 4)
	assert.Equal(t, int64(4), a)
	assert.Equal(t, int64(9), b)

	a, b = CanonicalPair(4, 9)
	assert.Equal(t, int64(4), a)
	assert.Equal(t, int64(9), b)
}

func TestGetOrCreateChatInsertsThenSelectsCanonicalPair(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatRepo(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO chats \(user_a_id, user_b_id, created_by\) VALUES \(\$1, \$2, \$3\)\s+ON CONFLICT \(user_a_id, user_b_id\) DO NOTHING`).
		WithArgs(int64(2), int64(5), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`FROM chats WHERE user_a_id=$1 AND user_b_id=$2`)).
		WithArgs(int64(2), int64(5)).
		WillReturnRows(sqlmock.NewRows(chatRowColumns).AddRow(int64(11), int64(2), int64(5), int64(2), now, now))

	chat, err := repo.GetOrCreateChat(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(11), chat.ID)
	assert.Equal(t, int64(2), chat.UserAID)
	assert.Equal(t, int64(5), chat.UserBID)
	assert.Equal(t, int64(2), chat.CreatedBy)
}

func TestGetOrCreateChatRejectsSelfWithoutQuerying(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewChatRepo(db)

	_, err := repo.GetOrCreateChat(context.Background(), 3, 3)
	assert.ErrorIs(t, err, ErrSelfChat)
}

func TestGetChatNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatRepo(db)

	mock.ExpectQuery(q(`FROM chats WHERE id=$1`)).WithArgs(int64(8)).WillReturnRows(sqlmock.NewRows(chatRowColumns))

	_, err := repo.GetChat(context.Background(), 8)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestListChatsForUserOrdersByActivity(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatRepo(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE user_a_id=\$1 OR user_b_id=\$1\s+ORDER BY last_activity_at DESC, id DESC`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(chatRowColumns).
			AddRow(int64(12), int64(2), int64(7), int64(7), now, now.Add(time.Hour)).
			AddRow(int64(11), int64(1), int64(2), int64(1), now, now))

	chats, err := repo.ListChatsForUser(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, int64(12), chats[0].ID)
	assert.Equal(t, int64(11), chats[1].ID)
}
