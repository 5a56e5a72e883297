// Package service implements direct messaging between two marketplace users:
// chat lookup and creation, message send/edit/delete, read-state transitions
// and the unread views derived from them.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"marketplace-chat/internal/encryption"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/repositories"
)

var tracer = otel.Tracer("marketplace-chat/service")

// ContentCipher encrypts message bodies before they reach storage.
type ContentCipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(text string) (string, error)
}

// SentMessage is the outcome of SendMessage.
type SentMessage struct {
	Message models.Message
	// MarkedRead lists the sender's previously unread incoming messages
	// that were marked read by sending.
	MarkedRead []int64
}

// MessagingService orchestrates chats, messages and the content cipher.
type MessagingService struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	cipher   ContentCipher
	logger   *slog.Logger
}

// NewMessagingService builds a MessagingService.
func NewMessagingService(chats repositories.ChatRepository, messages repositories.MessageRepository, users repositories.UserRepository, cipher ContentCipher, logger *slog.Logger) *MessagingService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MessagingService{
		chats:    chats,
		messages: messages,
		users:    users,
		cipher:   cipher,
		logger:   logger,
	}
}

// GetOrCreateChat returns the unique chat between initiator and other.
func (s *MessagingService) GetOrCreateChat(ctx context.Context, initiator models.User, other models.User) (models.Chat, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.GetOrCreateChat")
	defer span.End()

	if initiator.ID == other.ID {
		return models.Chat{}, invalidArgument("cannot open a chat with yourself")
	}
	chat, err := s.chats.GetOrCreateChat(ctx, initiator.ID, other.ID)
	if err != nil {
		return models.Chat{}, classify(err)
	}
	span.SetAttributes(attribute.Int64("chat.id", chat.ID))
	return chat, nil
}

// StartChat resolves the counterpart by username and returns the chat with them.
func (s *MessagingService) StartChat(ctx context.Context, actor models.User, otherUsername string) (models.Chat, error) {
	otherUsername = strings.TrimSpace(otherUsername)
	if otherUsername == "" {
		return models.Chat{}, invalidArgument("recipient is required")
	}
	other, err := s.users.FindByUsername(ctx, otherUsername)
	if err != nil {
		return models.Chat{}, classify(err)
	}
	return s.GetOrCreateChat(ctx, actor, other)
}

// GetChat returns a chat the actor participates in.
func (s *MessagingService) GetChat(ctx context.Context, actor models.User, chatID int64) (models.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, classify(err)
	}
	if !chat.HasParticipant(actor.ID) {
		return models.Chat{}, accessDenied("not a chat participant")
	}
	return chat, nil
}

// ListChats returns the actor's chats with counterpart names and unread counts.
func (s *MessagingService) ListChats(ctx context.Context, actor models.User) ([]models.ChatSummary, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.ListChats")
	defer span.End()

	chats, err := s.chats.ListChatsForUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	counts, err := s.messages.CountUnreadByChat(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	counterpartIDs := make([]int64, 0, len(chats))
	for _, chat := range chats {
		counterpartIDs = append(counterpartIDs, chat.Counterpart(actor.ID))
	}
	users, err := s.users.GetUsers(ctx, counterpartIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		counterpart := chat.Counterpart(actor.ID)
		summaries = append(summaries, models.ChatSummary{
			ChatID:              chat.ID,
			CounterpartID:       counterpart,
			CounterpartUsername: users[counterpart].Username,
			CreatedAt:           chat.CreatedAt,
			LastActivityAt:      chat.LastActivityAt,
			UnreadCount:         counts[chat.ID],
		})
	}
	return summaries, nil
}

// SendMessage appends a message from actor to the other participant of the chat.
// Sending is taken as proof the actor has seen the conversation, so the actor's
// unread incoming messages in this chat are marked read in the same transaction.
func (s *MessagingService) SendMessage(ctx context.Context, actor models.User, chatID int64, senderUsername string, text string) (SentMessage, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.SendMessage", trace.WithAttributes(attribute.Int64("chat.id", chatID)))
	defer span.End()

	if actor.Username != senderUsername {
		return SentMessage{}, accessDenied("sender does not match caller")
	}
	if strings.TrimSpace(text) == "" {
		return SentMessage{}, invalidArgument("content must not be blank")
	}
	chat, err := s.GetChat(ctx, actor, chatID)
	if err != nil {
		return SentMessage{}, err
	}

	encrypted, err := s.cipher.Encrypt(text)
	if err != nil {
		return SentMessage{}, err
	}

	stored, marked, err := s.messages.AppendAndMarkIncomingRead(ctx, models.Message{
		ChatID:           chat.ID,
		SenderID:         actor.ID,
		RecipientID:      chat.Counterpart(actor.ID),
		EncryptedContent: encrypted,
	})
	if err != nil {
		return SentMessage{}, classify(err)
	}
	stored.Content = &text

	observability.IncMessagesSent()
	observability.AddMessagesRead(len(marked))
	s.logger.Debug("message sent", "chat_id", chat.ID, "message_id", stored.ID, "marked_read", len(marked))
	return SentMessage{Message: stored, MarkedRead: marked}, nil
}

// GetMessagesForChat returns the chat history in creation order. A message
// that cannot be decrypted is returned with nil Content instead of failing the list.
func (s *MessagingService) GetMessagesForChat(ctx context.Context, actor models.User, chatID int64) ([]models.Message, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.GetMessagesForChat", trace.WithAttributes(attribute.Int64("chat.id", chatID)))
	defer span.End()

	if _, err := s.GetChat(ctx, actor, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListChatMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	for i := range msgs {
		s.decryptInto(&msgs[i])
	}
	return msgs, nil
}

// MarkMessageAsRead marks a single message read. Only its recipient may do so.
func (s *MessagingService) MarkMessageAsRead(ctx context.Context, actor models.User, messageID int64) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.MarkMessageAsRead", trace.WithAttributes(attribute.Int64("message.id", messageID)))
	defer span.End()

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, classify(err)
	}
	if msg.RecipientID != actor.ID {
		return models.Message{}, accessDenied("only the recipient can mark a message read")
	}
	if !msg.IsRead {
		if err := s.messages.MarkRead(ctx, messageID); err != nil {
			return models.Message{}, classify(err)
		}
		msg.IsRead = true
		observability.AddMessagesRead(1)
	}
	s.decryptInto(&msg)
	return msg, nil
}

// MarkAllMessagesAsRead marks every unread message addressed to actor in the
// chat as read and returns their ids.
func (s *MessagingService) MarkAllMessagesAsRead(ctx context.Context, actor models.User, chatID int64) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.MarkAllMessagesAsRead", trace.WithAttributes(attribute.Int64("chat.id", chatID)))
	defer span.End()

	if _, err := s.GetChat(ctx, actor, chatID); err != nil {
		return nil, err
	}
	marked, err := s.messages.MarkAllRead(ctx, chatID, actor.ID)
	if err != nil {
		return nil, classify(err)
	}
	observability.AddMessagesRead(len(marked))
	return marked, nil
}

// UpdateMessage re-encrypts a message with new content. Only its sender may edit it.
func (s *MessagingService) UpdateMessage(ctx context.Context, actor models.User, messageID int64, newText string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.UpdateMessage", trace.WithAttributes(attribute.Int64("message.id", messageID)))
	defer span.End()

	msg, err := s.ownMessage(ctx, actor, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if strings.TrimSpace(newText) == "" {
		return models.Message{}, invalidArgument("content must not be blank")
	}

	encrypted, err := s.cipher.Encrypt(newText)
	if err != nil {
		return models.Message{}, err
	}
	updated, err := s.messages.UpdateMessageContent(ctx, msg.ID, encrypted)
	if err != nil {
		return models.Message{}, classify(err)
	}
	updated.Content = &newText
	return updated, nil
}

// DeleteMessage permanently removes a message. Only its sender may delete it.
// The deleted message is returned without content.
func (s *MessagingService) DeleteMessage(ctx context.Context, actor models.User, messageID int64) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.DeleteMessage", trace.WithAttributes(attribute.Int64("message.id", messageID)))
	defer span.End()

	msg, err := s.ownMessage(ctx, actor, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.messages.DeleteMessage(ctx, msg.ID); err != nil {
		return models.Message{}, classify(err)
	}
	return msg, nil
}

func (s *MessagingService) ownMessage(ctx context.Context, actor models.User, messageID int64) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, classify(err)
	}
	if msg.SenderID != actor.ID {
		return models.Message{}, accessDenied("only the sender can modify a message")
	}
	return msg, nil
}

func (s *MessagingService) decryptInto(msg *models.Message) {
	plain, err := s.cipher.Decrypt(msg.EncryptedContent)
	if err != nil {
		msg.Content = nil
		observability.IncDecryptFailure()
		if errors.Is(err, encryption.ErrDecryptionFailed) {
			s.logger.Warn("message content could not be decrypted", "message_id", msg.ID, "chat_id", msg.ChatID)
		} else {
			s.logger.Error("message decrypt error", "message_id", msg.ID, "chat_id", msg.ChatID, "error", err)
		}
		return
	}
	msg.Content = &plain
}
