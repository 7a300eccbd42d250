package calendar

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/slotowl/pkg/tenant"
)

// Memory is an in-process Calendar used in tests and local development.
type Memory struct {
	mu     sync.Mutex
	events map[string]Event
}

// NewMemory creates an empty Memory calendar.
func NewMemory() *Memory {
	return &Memory{events: make(map[string]Event)}
}

// List implements Calendar.
func (m *Memory) List(_ context.Context, from, to time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, ev := range m.events {
		if ev.Confirmed() && ev.Start.Before(to) && from.Before(ev.End) {
			out = append(out, clone(ev))
		}
	}
	slices.SortFunc(out, func(a, b Event) int { return a.Start.Compare(b.Start) })
	return out, nil
}

// Insert implements Calendar.
func (m *Memory) Insert(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = uuid.NewString()
	ev.Status = StatusConfirmed
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events[ev.ID] = clone(ev)
	return ev, nil
}

// Update implements Calendar.
func (m *Memory) Update(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.events[ev.ID]
	if !ok || !cur.Confirmed() {
		return Event{}, ErrNotFound
	}
	ev.Status = cur.Status
	ev.CreatedAt = cur.CreatedAt
	m.events[ev.ID] = clone(ev)
	return ev, nil
}

// Cancel implements Calendar.
func (m *Memory) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.events[id]
	if !ok || !cur.Confirmed() {
		return ErrNotFound
	}
	cur.Status = StatusCanceled
	m.events[id] = cur
	return nil
}

// Len returns the number of confirmed events.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Confirmed() {
			n++
		}
	}
	return n
}

func clone(ev Event) Event {
	ev.Metadata = maps.Clone(ev.Metadata)
	return ev
}

// MemoryProvider hands out one Memory calendar per tenant.
type MemoryProvider struct {
	mu   sync.Mutex
	cals map[uuid.UUID]*Memory
}

// NewMemoryProvider creates a MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{cals: make(map[uuid.UUID]*Memory)}
}

// ForTenant implements Provider.
func (p *MemoryProvider) ForTenant(_ context.Context, t *tenant.Tenant) (Calendar, error) {
	return p.Calendar(t.ID), nil
}

// Calendar returns the tenant's Memory calendar, creating it on first use.
func (p *MemoryProvider) Calendar(tenantID uuid.UUID) *Memory {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.cals[tenantID]
	if !ok {
		m = NewMemory()
		p.cals[tenantID] = m
	}
	return m
}
