package models

import "time"

// Conversation summarises the messages a user sent under one conversation id.
type Conversation struct {
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	MessageCount   int64     `json:"message_count" db:"message_count"`
	LastActivity   time.Time `json:"last_activity" db:"last_activity"`
}
