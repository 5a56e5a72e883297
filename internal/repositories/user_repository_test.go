package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUsersExpandsAndRebindsIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(q(`SELECT id, username, created_at FROM users WHERE id IN ($1, $2)`)).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at"}).
			AddRow(int64(1), "alice", now).
			AddRow(int64(2), "bob", now))

	users, err := repo.GetUsers(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[1].Username)
	assert.Equal(t, "bob", users[2].Username)
}

func TestGetUsersEmptySkipsQuery(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewUserRepo(db)

	users, err := repo.GetUsers(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestFindByUsername(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(q(`FROM users WHERE username=$1`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at"}).AddRow(int64(1), "alice", time.Now()))
	mock.ExpectQuery(q(`FROM users WHERE username=$1`)).
		WithArgs("mallory").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at"}))

	user, err := repo.FindByUsername(context.Background(), "  alice ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)

	_, err = repo.FindByUsername(context.Background(), "mallory")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
