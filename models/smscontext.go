package models

import "time"

const (
	SMSRoleUser      = "user"
	SMSRoleAssistant = "assistant"
)

// SMSContext is a stored SMS turn. A row with AwaitingConfirmation set is a
// placeholder holding OriginalMessage until the sender answers y or n.
type SMSContext struct {
	ID                   int64     `json:"id" db:"id"`
	PhoneNumber          string    `json:"phone_number" db:"phone_number"`
	Role                 string    `json:"role" db:"role"`
	Content              string    `json:"content" db:"content"`
	Timestamp            time.Time `json:"timestamp" db:"timestamp"`
	AwaitingConfirmation bool      `json:"awaiting_confirmation" db:"awaiting_confirmation"`
	OriginalMessage      *string   `json:"original_message,omitempty" db:"original_message"`
	UserID               *int64    `json:"user_id,omitempty" db:"user_id"`
}

func (s *SMSContext) ChatMessage() ChatMessage {
	return ChatMessage{Role: s.Role, Content: s.Content}
}
