package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-chat/internal/encryption"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/storage/memory"
)

type env struct {
	store     *memory.Store
	cipher    *encryption.Cipher
	messaging *MessagingService
	unread    *UnreadAggregator
	alice     models.User
	bob       models.User
	carol     models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	cipher, err := encryption.NewCipher([]byte("service-test-secret"))
	require.NoError(t, err)
	return &env{
		store:     store,
		cipher:    cipher,
		messaging: NewMessagingService(store, store, store, cipher, nil),
		unread:    NewUnreadAggregator(store, store),
		alice:     store.AddUser("alice"),
		bob:       store.AddUser("bob"),
		carol:     store.AddUser("carol"),
	}
}

func (e *env) chat(t *testing.T, a, b models.User) models.Chat {
	t.Helper()
	chat, err := e.messaging.GetOrCreateChat(context.Background(), a, b)
	require.NoError(t, err)
	return chat
}

func (e *env) send(t *testing.T, chatID int64, from models.User, text string) models.Message {
	t.Helper()
	sent, err := e.messaging.SendMessage(context.Background(), from, chatID, from.Username, text)
	require.NoError(t, err)
	return sent.Message
}

func contents(t *testing.T, msgs []models.Message) []string {
	t.Helper()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		require.NotNil(t, m.Content)
		out = append(out, *m.Content)
	}
	return out
}

func TestEndToEndConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	chat := e.chat(t, e.alice, e.bob)
	m1 := e.send(t, chat.ID, e.alice, "hi")
	assert.False(t, m1.IsRead)
	assert.Equal(t, e.bob.ID, m1.RecipientID)

	msgs, err := e.messaging.GetMessagesForChat(ctx, e.bob, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, contents(t, msgs))

	info, err := e.unread.UnreadInfo(ctx, e.bob, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, info.TotalUnread)

	_, err = e.messaging.MarkMessageAsRead(ctx, e.bob, m1.ID)
	require.NoError(t, err)
	info, err = e.unread.UnreadInfo(ctx, e.bob, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, info.TotalUnread)
	assert.Empty(t, info.PerChat)

	e.send(t, chat.ID, e.bob, "hello back")
	msgs, err = e.messaging.GetMessagesForChat(ctx, e.alice, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello back"}, contents(t, msgs))
}

func TestGetOrCreateChatSymmetry(t *testing.T) {
	e := newEnv(t)

	ab := e.chat(t, e.alice, e.bob)
	ba := e.chat(t, e.bob, e.alice)
	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, e.alice.ID, ab.CreatedBy)
	assert.Less(t, ab.UserAID, ab.UserBID)
	assert.Equal(t, ab.LastActivityAt, ba.LastActivityAt)
}

func TestGetOrCreateChatRejectsSelf(t *testing.T) {
	e := newEnv(t)

	_, err := e.messaging.GetOrCreateChat(context.Background(), e.alice, e.alice)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.messaging.StartChat(context.Background(), e.alice, "alice")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStartChatByUsername(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	chat, err := e.messaging.StartChat(ctx, e.alice, " bob ")
	require.NoError(t, err)
	assert.True(t, chat.HasParticipant(e.bob.ID))

	_, err = e.messaging.StartChat(ctx, e.alice, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.messaging.StartChat(ctx, e.alice, "  ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConcurrentChatCreationYieldsOneChat(t *testing.T) {
	e := newEnv(t)

	const workers = 32
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := e.alice, e.bob
			if i%2 == 1 {
				a, b = b, a
			}
			chat, err := e.messaging.GetOrCreateChat(context.Background(), a, b)
			assert.NoError(t, err)
			ids[i] = chat.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	chats, err := e.store.ListChatsForUser(context.Background(), e.alice.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestSendMessageMarksIncomingRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	chat := e.chat(t, e.alice, e.bob)

	b1 := e.send(t, chat.ID, e.bob, "one")
	b2 := e.send(t, chat.ID, e.bob, "two")

	sent, err := e.messaging.SendMessage(ctx, e.alice, chat.ID, "alice", "reply")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{b1.ID, b2.ID}, sent.MarkedRead)
	assert.False(t, sent.Message.IsRead)

	for _, id := range []int64{b1.ID, b2.ID} {
		msg, err := e.store.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.True(t, msg.IsRead)
	}

	// Nothing is left to mark on a second reply.
	sent, err = e.messaging.SendMessage(ctx, e.alice, chat.ID, "alice", "again")
	require.NoError(t, err)
	assert.Empty(t, sent.MarkedRead)
}

func TestSendMessageValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	chat := e.chat(t, e.alice, e.bob)

	_, err := e.messaging.SendMessage(ctx, e.alice, chat.ID, "bob", "spoof")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = e.messaging.SendMessage(ctx, e.carol, chat.ID, "carol", "intrude")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = e.messaging.SendMessage(ctx, e.alice, 999, "alice", "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.messaging.SendMessage(ctx, e.alice, chat.ID, "alice", " \n\t")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	msgs, err := e.store.ListChatMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStoredContentIsEncrypted(t *testing.T) {
	e := newEnv(t)
	chat := e.chat(t, e.alice, e.bob)
	sent := e.send(t, chat.ID, e.alice, "secret offer")

	stored, err := e.store.GetMessage(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.EncryptedContent, "secret offer")
	plain, err := e.cipher.Decrypt(stored.EncryptedContent)
	require.NoError(t, err)
	assert.Equal(t, "secret offer", plain)
}

func TestGetMessagesForChatToleratesUndecryptable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	chat := e.chat(t, e.alice, e.bob)

	e.send(t, chat.ID, e.alice, "first")
	_, _, err := e.store.AppendAndMarkIncomingRead(ctx, models.Message{
		ChatID:           chat.ID,
		SenderID:         e.bob.ID,
		RecipientID:      e.alice.ID,
		EncryptedContent: "legacy-plaintext",
	})
	require.NoError(t, err)
	e.send(t, chat.ID, e.alice, "third")

	msgs, err := e.messaging.GetMessagesForChat(ctx, e.bob, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.NotNil(t, msgs[0].Content)
	assert.Equal(t, "first", *msgs[0].Content)
	assert.Nil(t, msgs[1].Content)
	require.NotNil(t, msgs[2].Content)
	assert.Equal(t, "third", *msgs[2].Content)

	_, err = e.messaging.GetMessagesForChat(ctx, e.carol, chat.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

type failingCipher struct {
	ContentCipher
}

func (failingCipher) Decrypt(string) (string, error) {
	return "", errors.New("hsm unavailable")
}

func TestGetMessagesForChatToleratesCipherErrors(t *testing.T) {
	e := newEnv(t)
	chat := e.chat(t, e.alice, e.bob)
	e.send(t, chat.ID, e.alice, "hello")

	svc := NewMessagingService(e.store, e.store, e.store, failingCipher{ContentCipher: e.cipher}, nil)
	msgs, err := svc.GetMessagesForChat(context.Background(), e.alice, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Content)
}

func TestMarkMessageAsRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	chat := e.chat(t, e.alice, e.bob)
	msg := e.send(t, chat.ID, e.alice, "hi")

	_, err := e.messaging.MarkMessageAsRead(ctx, e.alice, msg.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = e.messaging.MarkMessageAsRead(ctx, e.carol, msg.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = e.messaging.MarkMessageAsRead(ctx, e.bob, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	read, err := e.messaging.MarkMessageAsRead(ctx, e.bob, msg.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	again, err := e.messaging.MarkMessageAsRead(ctx, e.bob, msg.ID)
	require.NoError(t, err)
	assert.True(t, again.IsRead)
}

func TestMarkAllMessagesAsRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	chat := e.chat(t, e.alice, e.bob)
	m1 := e.send(t, chat.ID, e.alice, "a")
	m2 := e.send(t, chat.ID, e.alice, "b")

	_, err := e.messaging.MarkAllMessagesAsRead(ctx, e.carol, chat.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = e.messaging.MarkAllMessagesAsRead(ctx, e.bob, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	marked, err := e.messaging.MarkAllMessagesAsRead(ctx, e.alice, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, marked)

	marked, err = e.messaging.MarkAllMessagesAsRead(ctx, e.bob, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{m1.ID, m2.ID}, marked)

	marked, err = e.messaging.MarkAllMessagesAsRead(ctx, e.bob, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, marked)
}

func TestUpdateMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	chat := e.chat(t, e.alice, e.bob)
	msg := e.send(t, chat.ID, e.alice, "price 10")

	_, err := e.messaging.UpdateMessage(ctx, e.bob, msg.ID, "price 1")
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = e.messaging.UpdateMessage(ctx, e.alice, msg.ID, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.messaging.UpdateMessage(ctx, e.alice, 404, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.messaging.MarkMessageAsRead(ctx, e.bob, msg.ID)
	require.NoError(t, err)

	updated, err := e.messaging.UpdateMessage(ctx, e.alice, msg.ID, "price 12")
	require.NoError(t, err)
	require.NotNil(t, updated.Content)
	assert.Equal(t, "price 12", *updated.Content)
	assert.True(t, updated.IsRead)
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))

	msgs, err := e.messaging.GetMessagesForChat(ctx, e.bob, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"price 12"}, contents(t, msgs))
}

func TestDeleteMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	chat := e.chat(t, e.alice, e.bob)
	keep := e.send(t, chat.ID, e.alice, "keep")
	drop := e.send(t, chat.ID, e.alice, "drop")

	_, err := e.messaging.DeleteMessage(ctx, e.bob, drop.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	deleted, err := e.messaging.DeleteMessage(ctx, e.alice, drop.ID)
	require.NoError(t, err)
	assert.Equal(t, drop.ID, deleted.ID)

	_, err = e.messaging.DeleteMessage(ctx, e.alice, drop.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := e.messaging.GetMessagesForChat(ctx, e.bob, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, keep.ID, msgs[0].ID)

	info, err := e.unread.UnreadInfo(ctx, e.bob, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, info.TotalUnread)
}

func TestListChatsSummaries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ab := e.chat(t, e.alice, e.bob)
	ac := e.chat(t, e.carol, e.alice)
	e.send(t, ab.ID, e.bob, "from bob")
	e.send(t, ac.ID, e.carol, "from carol 1")
	e.send(t, ac.ID, e.carol, "from carol 2")

	chats, err := e.messaging.ListChats(ctx, e.alice)
	require.NoError(t, err)
	require.Len(t, chats, 2)

	byID := map[int64]models.ChatSummary{}
	for _, c := range chats {
		byID[c.ChatID] = c
	}
	assert.Equal(t, "bob", byID[ab.ID].CounterpartUsername)
	assert.Equal(t, 1, byID[ab.ID].UnreadCount)
	assert.Equal(t, "carol", byID[ac.ID].CounterpartUsername)
	assert.Equal(t, 2, byID[ac.ID].UnreadCount)
	assert.False(t, chats[0].LastActivityAt.Before(chats[1].LastActivityAt))
}

func TestReadMonotonicityUnderConcurrentSendAndMarkAll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	chat := e.chat(t, e.alice, e.bob)

	const rounds = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	markedSeen := map[int64]bool{}

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := e.messaging.SendMessage(ctx, e.alice, chat.ID, "alice", "ping")
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			marked, err := e.messaging.MarkAllMessagesAsRead(ctx, e.bob, chat.ID)
			assert.NoError(t, err)
			mu.Lock()
			for _, id := range marked {
				assert.False(t, markedSeen[id], "message %d marked twice", id)
				markedSeen[id] = true
			}
			mu.Unlock()
		}
	}()
	wg.Wait()

	msgs, err := e.store.ListChatMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, rounds)
	unread := 0
	for _, m := range msgs {
		if m.IsRead {
			assert.True(t, markedSeen[m.ID])
		} else {
			unread++
		}
	}

	info, err := e.unread.UnreadInfo(ctx, e.bob, "bob")
	require.NoError(t, err)
	assert.Equal(t, unread, info.TotalUnread)
	assert.Equal(t, rounds, unread+len(markedSeen))
}
