package voxlive

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one finalized conversation turn. Immutable once created;
// history is insertion-ordered and survives disconnects until the caller
// clears it.
type Message struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
	// Truncated marks an assistant message cut short by an interruption.
	Truncated bool
}

func newMessage(role Role, text string, truncated bool) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
		Truncated: truncated,
	}
}
