package handlers

import "github.com/gin-gonic/gin"

// RegisterUserRoutes mounts the per-user chat API. The group is expected to
// carry authentication and the path-username guard.
func RegisterUserRoutes(users gin.IRoutes, chats *ChatHandler, unread *UnreadHandler) {
	users.GET("/chats", chats.ListChats)
	users.POST("/chats", chats.StartChat)
	users.GET("/chats/:chat_id/messages", chats.GetChatMessages)
	users.POST("/chats/:chat_id/messages", chats.PostChatMessage)
	users.POST("/chats/:chat_id/read", chats.MarkChatRead)
	users.POST("/messages/:message_id/read", chats.MarkMessageRead)
	users.PUT("/messages/:message_id", chats.UpdateMessage)
	users.DELETE("/messages/:message_id", chats.DeleteMessage)
	users.GET("/unread", unread.UnreadInfo)
	users.GET("/unread/chats", unread.CountUnreadChats)
}
