package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore is a bounded, time-limited claim set. Entries expire after ttl
// and the least recently claimed entry is evicted once max is reached.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	order   *list.List // front = most recent
	entries map[string]*list.Element
	now     func() time.Time
}

type memoryEntry struct {
	key       string
	claimedAt time.Time
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(ttl time.Duration, max int) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if max <= 0 {
		max = 10000
	}
	return &MemoryStore{
		ttl:     ttl,
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Claim implements Claimer. It never returns an error.
func (s *MemoryStore) Claim(_ context.Context, channel, messageID string) (bool, error) {
	key := channel + ":" + messageID
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*memoryEntry)
		if now.Sub(e.claimedAt) < s.ttl {
			return false, nil
		}
		s.order.Remove(el)
		delete(s.entries, key)
	}

	s.evictExpired(now)
	for s.order.Len() >= s.max {
		s.removeOldest()
	}

	s.entries[key] = s.order.PushFront(&memoryEntry{key: key, claimedAt: now})
	return true, nil
}

// Len returns the number of tracked ids.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// evictExpired drops expired entries from the back of the list.
func (s *MemoryStore) evictExpired(now time.Time) {
	for {
		el := s.order.Back()
		if el == nil || now.Sub(el.Value.(*memoryEntry).claimedAt) < s.ttl {
			return
		}
		s.removeOldest()
	}
}

func (s *MemoryStore) removeOldest() {
	el := s.order.Back()
	if el == nil {
		return
	}
	s.order.Remove(el)
	delete(s.entries, el.Value.(*memoryEntry).key)
}
