// Package calendar stores appointments as events in a tenant's calendar.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/wisbric/slotowl/pkg/tenant"
)

var (
	// ErrUnauthorized is returned when the calendar rejects or cannot obtain credentials.
	ErrUnauthorized = errors.New("calendar: unauthorized")
	// ErrNotFound is returned when an event does not exist or is already canceled.
	ErrNotFound = errors.New("calendar: event not found")
)

// Event statuses.
const (
	StatusConfirmed = "confirmed"
	StatusCanceled  = "canceled"
)

// Event is an appointment as stored in a calendar.
type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Status      string
	UserID      string
	CreatedAt   time.Time
	Metadata    map[string]string
}

// Confirmed reports whether the event holds capacity.
func (e Event) Confirmed() bool {
	return e.Status == "" || e.Status == StatusConfirmed
}

// Calendar is a single tenant's calendar.
type Calendar interface {
	// List returns confirmed events overlapping [from, to), ordered by start.
	List(ctx context.Context, from, to time.Time) ([]Event, error)
	Insert(ctx context.Context, ev Event) (Event, error)
	// Update replaces the mutable fields of a confirmed event.
	Update(ctx context.Context, ev Event) (Event, error)
	Cancel(ctx context.Context, id string) error
}

// Provider opens the calendar configured for a tenant.
type Provider interface {
	ForTenant(ctx context.Context, t *tenant.Tenant) (Calendar, error)
}
