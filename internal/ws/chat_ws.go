package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/obs"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/service"
)

// Authenticator resolves a bearer token to the caller.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.User, error)
}

// ChatAccess checks that the caller may observe a chat.
type ChatAccess interface {
	GetChat(ctx context.Context, actor models.User, chatID int64) (models.Chat, error)
}

// ChatWebSocketHandler handles chat websocket connections.
type ChatWebSocketHandler struct {
	hub   *Hub
	chats ChatAccess
	auth  Authenticator
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, chats ChatAccess, auth Authenticator) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{hub: hub, chats: chats, auth: auth}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client with the chat room.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	ctx, span := otel.Tracer("marketplace-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat.id", chatID))
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if token == "" {
		token, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	actor, err := h.auth.Authenticate(ctx, strings.TrimSpace(token))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if _, err := h.chats.GetChat(ctx, actor, chatID); err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		case errors.Is(err, service.ErrAccessDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for chat"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		}
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      actor.ID,
		IP:          observability.ClientIP(c.Request),
		RequestID:   obs.RequestIDFrom(c),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddChatClient(chatID, conn, info)

	observability.IncWSActive("chat")
	publishConnEvent(ctx, "ws_connect", chatID, info, "")

	// Clients only listen; reading drives ping/close handling until the peer goes away.
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveChatClient(chatID, conn)
			observability.DecWSActive("chat")
			publishConnEvent(context.Background(), "ws_disconnect", chatID, info, closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					publishConnEvent(context.Background(), "ws_error", chatID, info, closeReason)
				}
				return
			}
		}
	}()
}
