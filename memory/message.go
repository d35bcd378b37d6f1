// Package memory implements the four-tier agent memory of the wellness
// assistant: the short-term conversation log, user-scoped episodic facts,
// shared semantic knowledge and procedural tool-sequence patterns, plus the
// coordinator that composes them into one context bundle per turn.
//
// Retrieval across tiers is best-effort — a failing tier degrades to an
// empty slice — while storage is strict: write failures surface to the
// caller per tier.
package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the short-term log. Messages are immutable after
// append.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the message is well-formed.
func (m Message) Validate() error {
	if m.Content == "" {
		return fmt.Errorf("%w: empty message content", ErrInvalidInput)
	}
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, m.Role)
	}
	return nil
}

// marshalMessage serializes a message for the backend log.
func marshalMessage(m Message) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	return string(raw), nil
}

// unmarshalMessage deserializes one log entry.
func unmarshalMessage(raw string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return m, nil
}
