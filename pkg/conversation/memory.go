package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type threadKey struct {
	tenant uuid.UUID
	user   string
}

// MemoryStore is an in-process Store, used in development mode and tests.
type MemoryStore struct {
	mu      sync.Mutex
	cap     int
	threads map[threadKey][]Message
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore retaining capacity messages per thread.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &MemoryStore{
		cap:     capacity,
		threads: make(map[threadKey][]Message),
		now:     time.Now,
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, tenantID uuid.UUID, userID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(threadKey{tenantID, userID}, role, content)
	return nil
}

// AppendTurn implements Store.
func (s *MemoryStore) AppendTurn(_ context.Context, tenantID uuid.UUID, userID, userText, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := threadKey{tenantID, userID}
	s.appendLocked(k, RoleUser, userText)
	s.appendLocked(k, RoleAssistant, reply)
	return nil
}

func (s *MemoryStore) appendLocked(k threadKey, role, content string) {
	thread := append(s.threads[k], Message{Role: role, Content: content, CreatedAt: s.now()})
	if over := len(thread) - s.cap; over > 0 {
		thread = append([]Message(nil), thread[over:]...)
	}
	s.threads[k] = thread
}

// Recent implements Store.
func (s *MemoryStore) Recent(_ context.Context, tenantID uuid.UUID, userID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.threads[threadKey{tenantID, userID}]
	if limit <= 0 || limit > len(thread) {
		limit = len(thread)
	}
	out := make([]Message, limit)
	copy(out, thread[len(thread)-limit:])
	return out, nil
}
