// Package events publishes appointment lifecycle events.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeScheduled   = "appointment.scheduled"
	TypeRescheduled = "appointment.rescheduled"
	TypeCanceled    = "appointment.canceled"
)

// Event describes a change to an appointment.
type Event struct {
	ID            uuid.UUID  `json:"id"`
	Type          string     `json:"type"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	AppointmentID string     `json:"appointment_id"`
	UserID        string     `json:"user_id"`
	Summary       string     `json:"summary"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	PreviousStart *time.Time `json:"previous_start,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop discards events. It is used when no broker is configured.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
