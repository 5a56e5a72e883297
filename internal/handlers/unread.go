package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-chat/internal/service"
)

// UnreadHandler exposes the unread views of a user.
type UnreadHandler struct {
	unread *service.UnreadAggregator
	logger *slog.Logger
}

func NewUnreadHandler(unread *service.UnreadAggregator, logger *slog.Logger) *UnreadHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &UnreadHandler{unread: unread, logger: logger}
}

func (h *UnreadHandler) UnreadInfo(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	info, err := h.unread.UnreadInfo(c.Request.Context(), actor, c.Param("username"))
	if err != nil {
		respondError(c, h.logger, err, "failed to count unread messages")
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *UnreadHandler) CountUnreadChats(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	n, err := h.unread.CountUnreadChats(c.Request.Context(), actor, c.Param("username"))
	if err != nil {
		respondError(c, h.logger, err, "failed to count unread chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_chats": n})
}
