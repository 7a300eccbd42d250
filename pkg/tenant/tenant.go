// Package tenant resolves channel addresses to tenant configuration.
package tenant

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a channel is unknown or its tenant is inactive.
var ErrNotFound = errors.New("tenant: not found")

// Calendar providers.
const (
	CalendarGoogle = "google"
	CalendarLocal  = "local"
)

// Tenant is a read-only snapshot of a business account's configuration.
type Tenant struct {
	ID                 uuid.UUID
	Name               string
	Active             bool
	Timezone           string
	Settings           Settings
	PromptTemplate     string
	CalendarProvider   string
	CalendarID         string
	CalendarCredential string // vault ciphertext, never plaintext

	// Loc is the parsed Timezone. When nil, Location loads it by name.
	Loc *time.Location
}

// Location returns the tenant's time zone, falling back to UTC when the
// configured zone cannot be loaded.
func (t *Tenant) Location() *time.Location {
	if t.Loc != nil {
		return t.Loc
	}
	if t.Timezone != "" {
		if loc, err := time.LoadLocation(t.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// MaxConcurrent returns the number of appointments allowed to overlap.
func (t *Tenant) MaxConcurrent() int {
	if t.Settings.MaxConcurrent > 0 {
		return t.Settings.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

// DefaultDuration returns the appointment length used when none is given.
func (t *Tenant) DefaultDuration() time.Duration {
	if t.Settings.DefaultDurationMinutes > 0 {
		return time.Duration(t.Settings.DefaultDurationMinutes) * time.Minute
	}
	return time.Duration(DefaultDurationMinutes) * time.Minute
}

// MinAdvance returns how far ahead of now a booking must start.
func (t *Tenant) MinAdvance() time.Duration {
	return time.Duration(t.Settings.MinAdvanceHours) * time.Hour
}
