package models

import "time"

// Message roles as sent to the chat-completions API
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single message stored in a chat's context window.
// Serialized to JSON and kept in a Redis list, one entry per message.
type ChatMessage struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	MessageID int64     `json:"message_id"`
	FromBot   bool      `json:"from_bot,omitempty"`
}

// PromptMessage is one role-tagged entry of a chat-completions request.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIResponse is the result of a generation call.
type AIResponse struct {
	Content    string
	TokensUsed int
	Model      string
}

// ChatUsage holds per-chat accounting counters (backed by SQLite).
type ChatUsage struct {
	ChatID       int64
	MessagesSeen int64
	RepliesSent  int64
	TokensUsed   int64
	LastSeenAt   time.Time
}
