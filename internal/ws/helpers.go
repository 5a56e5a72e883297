package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketplace-chat/internal/observability"
)

func newConnID() string {
	return uuid.NewString()
}

func publishConnEvent(ctx context.Context, event string, chatID int64, info ConnInfo, reason string) {
	envelope := observability.NewEnvelope("ws_events", event, map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "chat",
			"resource_id": chatID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id": info.UserID,
			"ip":      info.IP,
		},
	})
	envelope.RequestID = info.RequestID
	envelope.TraceID = info.TraceID
	_ = observability.PublishEvent(ctx, observability.RoutingWSChats, envelope)
	observability.IncWSEvent("chat", event)
}
