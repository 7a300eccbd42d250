// Package customer keeps the per-tenant profile (name, age) a customer gives
// while booking.
package customer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no profile exists for the customer.
var ErrNotFound = errors.New("customer: not found")

// Profile is what the business knows about a customer.
type Profile struct {
	TenantID  uuid.UUID
	UserID    string
	Name      string
	Age       int
	UpdatedAt time.Time
}

// Store reads and upserts profiles. Save keeps existing fields that the new
// profile leaves empty.
type Store interface {
	Get(ctx context.Context, tenantID uuid.UUID, userID string) (Profile, error)
	Save(ctx context.Context, p Profile) error
}

type memoryKey struct {
	tenantID uuid.UUID
	userID   string
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[memoryKey]Profile
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[memoryKey]Profile)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, tenantID uuid.UUID, userID string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[memoryKey{tenantID, userID}]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{p.TenantID, p.UserID}
	s.profiles[k] = merge(s.profiles[k], p)
	return nil
}

func merge(cur, next Profile) Profile {
	cur.TenantID, cur.UserID = next.TenantID, next.UserID
	if name := strings.TrimSpace(next.Name); name != "" {
		cur.Name = name
	}
	if next.Age > 0 {
		cur.Age = next.Age
	}
	cur.UpdatedAt = time.Now()
	return cur
}
