package ws

// MessageType discriminates WebSocket messages.
type MessageType string

// MessageOnlineUsers carries the current presence list.
const MessageOnlineUsers MessageType = "online_users"

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    MessageType `json:"type"`
	UserIDs []string    `json:"userIds"`
}
