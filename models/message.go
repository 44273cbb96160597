package models

import "time"

const (
	MessageTypeUser = "user-message"
	MessageTypeBot  = "bot-message"
)

// Message is one side of a web chat turn.
type Message struct {
	ID             int64     `json:"id" db:"id"`
	Content        string    `json:"content" db:"content"`
	Type           string    `json:"type" db:"type"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	UserID         *int64    `json:"user_id,omitempty" db:"user_id"`
	ConversationID *string   `json:"conversation_id,omitempty" db:"conversation_id"`
}

// ChatMessage is a role/content pair handed to the language model as context.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
