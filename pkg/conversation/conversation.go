// Package conversation keeps a bounded message history per (tenant, user).
package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultCap is the number of messages retained per thread.
const DefaultCap = 10

// Roles stored in a thread.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is an immutable entry of a conversation thread.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store appends to and reads from conversation threads. Threads are keyed by
// the composite (tenant, user) and never exceed the store's cap; the oldest
// messages are evicted first.
type Store interface {
	Append(ctx context.Context, tenantID uuid.UUID, userID, role, content string) error
	// AppendTurn appends the user message and the reply together.
	AppendTurn(ctx context.Context, tenantID uuid.UUID, userID, userText, reply string) error
	// Recent returns up to limit most recent messages, oldest first.
	Recent(ctx context.Context, tenantID uuid.UUID, userID string, limit int) ([]Message, error)
}
