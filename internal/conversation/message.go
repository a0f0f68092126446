package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role tells who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Message is one transcript entry. It is never modified after Append.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	ModelID   string    `json:"model_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage stamps a message with a fresh id and the current time.
func NewMessage(role Role, text, modelID string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		ModelID:   modelID,
		CreatedAt: time.Now().UTC(),
	}
}
