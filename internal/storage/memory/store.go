// Package memory keeps chats, messages and users in process memory.
// It implements the repository interfaces for dev mode and tests and is not
// meant for production: nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/repositories"
)

type pairKey struct {
	a, b int64
}

// Store serializes every operation behind one mutex, which gives the same
// guarantees as the postgres unique constraint and chat row locks.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	users      map[int64]models.User
	byUsername map[string]int64
	chats      map[int64]models.Chat
	byPair     map[pairKey]int64
	messages   map[int64]models.Message
	chatMsgs   map[int64][]int64

	nextUserID    int64
	nextChatID    int64
	nextMessageID int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		now:        time.Now,
		users:      make(map[int64]models.User),
		byUsername: make(map[string]int64),
		chats:      make(map[int64]models.Chat),
		byPair:     make(map[pairKey]int64),
		messages:   make(map[int64]models.Message),
		chatMsgs:   make(map[int64][]int64),
	}
}

// AddUser registers a user, returning the existing one when the username is taken.
func (s *Store) AddUser(username string) models.User {
	username = strings.TrimSpace(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byUsername[username]; ok {
		return s.users[id]
	}
	s.nextUserID++
	user := models.User{ID: s.nextUserID, Username: username, CreatedAt: s.now().UTC()}
	s.users[user.ID] = user
	s.byUsername[username] = user.ID
	return user
}

func (s *Store) FindByUsername(ctx context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[strings.TrimSpace(username)]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUsers(ctx context.Context, ids []int64) (map[int64]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int64]models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}

func (s *Store) GetOrCreateChat(ctx context.Context, initiatorID int64, otherID int64) (models.Chat, error) {
	if initiatorID == otherID {
		return models.Chat{}, repositories.ErrSelfChat
	}
	userA, userB := repositories.CanonicalPair(initiatorID, otherID)
	key := pairKey{a: userA, b: userB}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[key]; ok {
		return s.chats[id], nil
	}
	s.nextChatID++
	now := s.now().UTC()
	chat := models.Chat{
		ID:             s.nextChatID,
		UserAID:        userA,
		UserBID:        userB,
		CreatedBy:      initiatorID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.chats[chat.ID] = chat
	s.byPair[key] = chat.ID
	return chat, nil
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return chat, nil
}

func (s *Store) ListChatsForUser(ctx context.Context, userID int64) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chats []models.Chat
	for _, chat := range s.chats {
		if chat.HasParticipant(userID) {
			chats = append(chats, chat)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].LastActivityAt.Equal(chats[j].LastActivityAt) {
			return chats[i].LastActivityAt.After(chats[j].LastActivityAt)
		}
		return chats[i].ID > chats[j].ID
	})
	return chats, nil
}

func (s *Store) AppendAndMarkIncomingRead(ctx context.Context, msg models.Message) (models.Message, []int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[msg.ChatID]
	if !ok {
		return models.Message{}, nil, repositories.ErrChatNotFound
	}

	s.nextMessageID++
	now := s.now().UTC()
	stored := models.Message{
		ID:               s.nextMessageID,
		ChatID:           msg.ChatID,
		SenderID:         msg.SenderID,
		RecipientID:      msg.RecipientID,
		EncryptedContent: msg.EncryptedContent,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	marked := s.markUnreadLocked(msg.ChatID, msg.SenderID)
	s.messages[stored.ID] = stored
	s.chatMsgs[msg.ChatID] = append(s.chatMsgs[msg.ChatID], stored.ID)
	chat.LastActivityAt = now
	s.chats[chat.ID] = chat
	return stored, marked, nil
}

func (s *Store) ListChatMessages(ctx context.Context, chatID int64) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.chatMsgs[chatID]
	msgs := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, s.messages[id])
	}
	return msgs, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, messageID int64, encryptedContent string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	msg.EncryptedContent = encryptedContent
	msg.UpdatedAt = s.now().UTC()
	s.messages[messageID] = msg
	return msg, nil
}

func (s *Store) DeleteMessage(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return repositories.ErrMessageNotFound
	}
	delete(s.messages, messageID)
	ids := s.chatMsgs[msg.ChatID]
	for i, id := range ids {
		if id == messageID {
			s.chatMsgs[msg.ChatID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return repositories.ErrMessageNotFound
	}
	msg.IsRead = true
	s.messages[messageID] = msg
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, chatID int64, recipientID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return nil, repositories.ErrChatNotFound
	}
	return s.markUnreadLocked(chatID, recipientID), nil
}

func (s *Store) CountUnreadByChat(ctx context.Context, recipientID int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[int64]int{}
	for _, msg := range s.messages {
		if msg.RecipientID == recipientID && !msg.IsRead {
			counts[msg.ChatID]++
		}
	}
	return counts, nil
}

func (s *Store) markUnreadLocked(chatID int64, recipientID int64) []int64 {
	var marked []int64
	for _, id := range s.chatMsgs[chatID] {
		msg := s.messages[id]
		if msg.RecipientID != recipientID || msg.IsRead {
			continue
		}
		msg.IsRead = true
		s.messages[id] = msg
		marked = append(marked, id)
	}
	return marked
}

var (
	_ repositories.ChatRepository    = (*Store)(nil)
	_ repositories.MessageRepository = (*Store)(nil)
	_ repositories.UserRepository    = (*Store)(nil)
)
