package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketplace-chat/internal/models"
)

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (cl *client) write(payload []byte) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains active websocket rooms, one per chat.
type Hub struct {
	chatRooms map[int64]map[*websocket.Conn]*client
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		chatRooms: make(map[int64]map[*websocket.Conn]*client),
		logger:    logger,
	}
}

// AddChatClient registers a websocket connection to a chat room.
func (h *Hub) AddChatClient(chatID int64, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.chatRooms[chatID]; !ok {
		h.chatRooms[chatID] = make(map[*websocket.Conn]*client)
	}
	h.chatRooms[chatID][conn] = &client{conn: conn, info: info}
}

// RemoveChatClient removes a chat websocket connection.
func (h *Hub) RemoveChatClient(chatID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.chatRooms[chatID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.chatRooms, chatID)
		}
	}
}

// ClientCount returns the number of connections subscribed to a chat.
func (h *Hub) ClientCount(chatID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chatRooms[chatID])
}

// Broadcast sends event to all clients in a chat. Connections that fail to
// receive it are dropped.
func (h *Hub) Broadcast(chatID int64, event models.ChatEvent) {
	if h == nil {
		return
	}
	event.ChatID = chatID
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("websocket event encode failed", "chat_id", chatID, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.chatRooms[chatID]))
	for _, cl := range h.chatRooms[chatID] {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.write(payload); err != nil {
			h.logger.Warn("websocket write error", "chat_id", chatID, "conn_id", cl.info.ConnID, "error", err)
			cl.conn.Close()
			h.RemoveChatClient(chatID, cl.conn)
			publishConnEvent(context.Background(), "ws_error", chatID, cl.info, err.Error())
		}
	}
}

// CloseAll disconnects every client. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	rooms := h.chatRooms
	h.chatRooms = make(map[int64]map[*websocket.Conn]*client)
	h.mu.Unlock()

	for _, conns := range rooms {
		for conn, cl := range conns {
			cl.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
			cl.mu.Unlock()
			conn.Close()
		}
	}
}
