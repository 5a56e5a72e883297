package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marketplace-chat/internal/middleware"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/obs"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/service"
	"marketplace-chat/internal/telemetry"
)

// Broadcaster delivers live chat events to connected participants.
type Broadcaster interface {
	Broadcast(chatID int64, event models.ChatEvent)
}

// ChatHandler manages direct chat endpoints.
type ChatHandler struct {
	messaging *service.MessagingService
	hub       Broadcaster
	audit     *telemetry.AuditEmitter
	logger    *slog.Logger
}

// NewChatHandler builds a ChatHandler. hub and audit may be nil.
func NewChatHandler(messaging *service.MessagingService, hub Broadcaster, audit *telemetry.AuditEmitter, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ChatHandler{
		messaging: messaging,
		hub:       hub,
		audit:     audit,
		logger:    logger,
	}
}

// ListChats returns the chats visible to the authenticated user.
func (h *ChatHandler) ListChats(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	chats, err := h.messaging.ListChats(c.Request.Context(), actor)
	if err != nil {
		respondError(c, h.logger, err, "failed to load chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// StartChat creates or returns the chat between the caller and recipient.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		Recipient string `json:"recipient" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, ok := mustActor(c)
	if !ok {
		return
	}
	chat, err := h.messaging.StartChat(c.Request.Context(), actor, req.Recipient)
	if err != nil {
		respondError(c, h.logger, err, "could not create chat")
		return
	}
	c.JSON(http.StatusOK, chat)
}

// GetChatMessages returns the chat history in send order.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	msgs, err := h.messaging.GetMessagesForChat(c.Request.Context(), actor, chatID)
	if err != nil {
		respondError(c, h.logger, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostChatMessage stores a chat message and broadcasts it.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, ok := mustActor(c)
	if !ok {
		return
	}
	sent, err := h.messaging.SendMessage(c.Request.Context(), actor, chatID, c.Param("username"), req.Content)
	if err != nil {
		respondError(c, h.logger, err, "failed to store message")
		return
	}

	msg := sent.Message
	h.broadcast(chatID, models.ChatEvent{Type: models.EventMessage, Message: &msg})
	h.publish(c, observability.RoutingMessageSent, "message_sent", messagePayload(msg))
	if len(sent.MarkedRead) > 0 {
		h.broadcast(chatID, models.ChatEvent{Type: models.EventMessagesRead, MessageIDs: sent.MarkedRead, ReaderID: actor.ID})
		h.publish(c, observability.RoutingMessagesRead, "messages_read", readPayload(chatID, actor.ID, sent.MarkedRead))
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkChatRead marks every unread message addressed to the caller in a chat as read.
func (h *ChatHandler) MarkChatRead(c *gin.Context) {
	chatID, ok := parseID(c, "chat_id")
	if !ok {
		return
	}
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	marked, err := h.messaging.MarkAllMessagesAsRead(c.Request.Context(), actor, chatID)
	if err != nil {
		respondError(c, h.logger, err, "failed to mark messages read")
		return
	}
	if len(marked) > 0 {
		h.broadcast(chatID, models.ChatEvent{Type: models.EventMessagesRead, MessageIDs: marked, ReaderID: actor.ID})
		h.publish(c, observability.RoutingMessagesRead, "messages_read", readPayload(chatID, actor.ID, marked))
	}
	if marked == nil {
		marked = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// MarkMessageRead marks a single message addressed to the caller as read.
func (h *ChatHandler) MarkMessageRead(c *gin.Context) {
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	msg, err := h.messaging.MarkMessageAsRead(c.Request.Context(), actor, messageID)
	if err != nil {
		respondError(c, h.logger, err, "failed to mark message read")
		return
	}
	ids := []int64{msg.ID}
	h.broadcast(msg.ChatID, models.ChatEvent{Type: models.EventMessagesRead, MessageIDs: ids, ReaderID: actor.ID})
	h.publish(c, observability.RoutingMessagesRead, "messages_read", readPayload(msg.ChatID, actor.ID, ids))
	c.JSON(http.StatusOK, msg)
}

// UpdateMessage replaces the content of a message sent by the caller.
func (h *ChatHandler) UpdateMessage(c *gin.Context) {
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, ok := mustActor(c)
	if !ok {
		return
	}
	msg, err := h.messaging.UpdateMessage(c.Request.Context(), actor, messageID, req.Content)
	if err != nil {
		respondError(c, h.logger, err, "could not update message")
		return
	}

	h.broadcast(msg.ChatID, models.ChatEvent{Type: models.EventMessageUpdated, Message: &msg})
	h.publish(c, observability.RoutingMessageUpdated, "message_updated", messagePayload(msg))
	h.emitAudit(c, actor, "message_updated", msg)
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage permanently removes a message sent by the caller.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	msg, err := h.messaging.DeleteMessage(c.Request.Context(), actor, messageID)
	if err != nil {
		respondError(c, h.logger, err, "could not delete message")
		return
	}

	h.broadcast(msg.ChatID, models.ChatEvent{Type: models.EventMessageDeleted, MessageID: msg.ID})
	h.publish(c, observability.RoutingMessageDeleted, "message_deleted", messagePayload(msg))
	h.emitAudit(c, actor, "message_deleted", msg)
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) broadcast(chatID int64, event models.ChatEvent) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(chatID, event)
}

// respondError maps service error kinds to HTTP statuses.
func respondError(c *gin.Context, logger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		logger.Error(fallback, "error", err, "path", c.FullPath(), "request_id", obs.RequestIDFrom(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return id, true
}

func mustActor(c *gin.Context) (models.User, bool) {
	actor, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller"})
		return models.User{}, false
	}
	return actor, true
}
