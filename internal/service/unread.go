package service

import (
	"context"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/repositories"
)

// UnreadAggregator computes unread views on demand; nothing is cached, so the
// result always reflects the persisted read flags.
type UnreadAggregator struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
}

// NewUnreadAggregator builds an UnreadAggregator.
func NewUnreadAggregator(chats repositories.ChatRepository, messages repositories.MessageRepository) *UnreadAggregator {
	return &UnreadAggregator{chats: chats, messages: messages}
}

// CountUnreadChats returns how many chats hold at least one unread message for username.
func (a *UnreadAggregator) CountUnreadChats(ctx context.Context, actor models.User, username string) (int, error) {
	info, err := a.UnreadInfo(ctx, actor, username)
	if err != nil {
		return 0, err
	}
	return len(info.PerChat), nil
}

// UnreadInfo returns the per-chat unread counts for username, in chat list
// order, and their total. Chats with nothing unread are omitted.
func (a *UnreadAggregator) UnreadInfo(ctx context.Context, actor models.User, username string) (models.UnreadInfo, error) {
	ctx, span := tracer.Start(ctx, "UnreadAggregator.UnreadInfo")
	defer span.End()

	if actor.Username != username {
		return models.UnreadInfo{}, accessDenied("unread counts are private")
	}
	chats, err := a.chats.ListChatsForUser(ctx, actor.ID)
	if err != nil {
		return models.UnreadInfo{}, err
	}
	counts, err := a.messages.CountUnreadByChat(ctx, actor.ID)
	if err != nil {
		return models.UnreadInfo{}, err
	}

	info := models.UnreadInfo{PerChat: []models.ChatUnread{}}
	for _, chat := range chats {
		n := counts[chat.ID]
		if n == 0 {
			continue
		}
		info.PerChat = append(info.PerChat, models.ChatUnread{ChatID: chat.ID, UnreadCount: n})
		info.TotalUnread += n
	}
	return info, nil
}
