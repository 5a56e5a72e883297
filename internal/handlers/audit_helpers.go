package handlers

import (
	"github.com/gin-gonic/gin"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/obs"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/telemetry"
)

func (h *ChatHandler) emitAudit(c *gin.Context, actor models.User, action string, msg models.Message) {
	h.audit.Emit(c.Request.Context(), obs.RequestIDFrom(c), actor.ID, telemetry.AuditPayload{
		Action:    action,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
	})
}

// publish sends a domain event. Broker failures never fail the request.
func (h *ChatHandler) publish(c *gin.Context, routingKey, eventName string, payload map[string]interface{}) {
	ctx := c.Request.Context()
	envelope := observability.NewEnvelope("chat_events", eventName, payload)
	envelope.RequestID = obs.RequestIDFrom(c)
	envelope.TraceID = observability.TraceIDFromContext(ctx)
	if err := observability.PublishEvent(ctx, routingKey, envelope); err != nil {
		h.logger.Warn("domain event publish failed", "routing_key", routingKey, "error", err)
	}
}

func messagePayload(msg models.Message) map[string]interface{} {
	return map[string]interface{}{
		"chat_id":      msg.ChatID,
		"message_id":   msg.ID,
		"sender_id":    msg.SenderID,
		"recipient_id": msg.RecipientID,
	}
}

func readPayload(chatID, readerID int64, ids []int64) map[string]interface{} {
	return map[string]interface{}{
		"chat_id":     chatID,
		"reader_id":   readerID,
		"message_ids": ids,
	}
}
