// Package scheduling books, moves and cancels appointments while keeping
// every tenant within its concurrent-appointment capacity.
package scheduling

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/wisbric/slotowl/pkg/calendar"
	"github.com/wisbric/slotowl/pkg/tenant"
)

// Errors returned by Engine. Match them with errors.Is.
var (
	ErrInPast               = errors.New("scheduling: start time is in the past")
	ErrTooSoon              = errors.New("scheduling: start time is sooner than the minimum advance")
	ErrClosed               = errors.New("scheduling: business is closed that day")
	ErrOutsideBusinessHours = errors.New("scheduling: outside business hours")
	ErrCapacityExceeded     = errors.New("scheduling: capacity exceeded")
	ErrDuplicateSuppressed  = errors.New("scheduling: duplicate booking suppressed")
	ErrNotFound             = errors.New("scheduling: no matching upcoming appointment")
	ErrCalendarUnavailable  = errors.New("scheduling: calendar unavailable")
	ErrInvalidDuration      = errors.New("scheduling: invalid duration")
)

// Slot is a bookable window.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Appointment is a booked calendar event.
type Appointment struct {
	ID          string
	UserID      string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Status      string
	CreatedAt   time.Time
	Metadata    map[string]string
}

func fromEvent(ev calendar.Event) Appointment {
	return Appointment{
		ID:          ev.ID,
		UserID:      ev.UserID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       ev.Start,
		End:         ev.End,
		Status:      ev.Status,
		CreatedAt:   ev.CreatedAt,
		Metadata:    maps.Clone(ev.Metadata),
	}
}

// Request describes a new booking. A zero Duration uses the tenant default.
type Request struct {
	UserID      string
	Start       time.Time
	Duration    time.Duration
	Summary     string
	Description string
	Location    string
	Metadata    map[string]string
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// CapacityError is returned when a window already holds the tenant's
// maximum number of appointments. Alternatives lists free slots the same day.
type CapacityError struct {
	Start        time.Time
	End          time.Time
	Capacity     int
	Alternatives []Slot
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("scheduling: capacity exceeded: %d appointments already overlap %s", e.Capacity, e.Start.Format("2006-01-02 15:04"))
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// HoursError is returned when a request falls on a closed day or outside the
// opening window. Err is ErrClosed or ErrOutsideBusinessHours.
type HoursError struct {
	Err     error
	Weekday time.Weekday
	Window  tenant.Window
}

func (e *HoursError) Error() string {
	day := tenant.WeekdayKey(e.Weekday)
	if errors.Is(e.Err, ErrClosed) {
		return fmt.Sprintf("closed on %s", day)
	}
	return fmt.Sprintf("outside business hours: %s opens %s", day, e.Window)
}

func (e *HoursError) Unwrap() error { return e.Err }

// TimeRange narrows candidate slots to part of the day.
type TimeRange string

const (
	RangeAll       TimeRange = "all"
	RangeMorning   TimeRange = "morning"
	RangeAfternoon TimeRange = "afternoon"
	RangeEvening   TimeRange = "evening"
)

// ParseTimeRange accepts English and Spanish names. Empty input is RangeAll.
func ParseTimeRange(s string) (TimeRange, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "any", "todo", "todos", "cualquiera":
		return RangeAll, nil
	case "morning", "mañana", "manana":
		return RangeMorning, nil
	case "afternoon", "tarde":
		return RangeAfternoon, nil
	case "evening", "night", "noche":
		return RangeEvening, nil
	}
	return "", fmt.Errorf("unknown time range %q", s)
}

// bounds returns the [from, to) offsets from midnight a slot start must fall in.
func (r TimeRange) bounds() (from, to time.Duration) {
	switch r {
	case RangeMorning:
		return 8 * time.Hour, 12 * time.Hour
	case RangeAfternoon:
		return 12 * time.Hour, 17 * time.Hour
	case RangeEvening:
		return 17 * time.Hour, 20 * time.Hour
	}
	return 0, 24 * time.Hour
}
