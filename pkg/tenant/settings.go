package tenant

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied when a tenant leaves a setting unset.
const (
	DefaultMaxConcurrent   = 2
	DefaultDurationMinutes = 60
	defaultOpen            = 8 * time.Hour
	defaultClose           = 19 * time.Hour
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Weekdays lists the business-hours keys in display order.
var Weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// Settings is the JSONB configuration stored in tenants.settings.
type Settings struct {
	BusinessHours          map[string]DayHours `json:"business_hours"`
	Services               []Service           `json:"services" validate:"dive"`
	MaxConcurrent          int                 `json:"max_concurrent" validate:"gte=0,lte=100"`
	MinAdvanceHours        int                 `json:"min_advance_hours" validate:"gte=0,lte=720"`
	DefaultDurationMinutes int                 `json:"default_duration_minutes" validate:"gte=0,lte=1440"`
	Address                string              `json:"address"`
	Phone                  string              `json:"phone"`
	Staff                  []string            `json:"staff"`
	PaymentMethods         []string            `json:"payment_methods"`
	Promotions             []string            `json:"promotions"`
	Currency               string              `json:"currency"`
}

// DayHours is a weekday's opening window. Open is "closed" on closed days.
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// Closed reports whether the business is closed for the day.
func (d DayHours) Closed() bool {
	return strings.EqualFold(strings.TrimSpace(d.Open), "closed")
}

// Service is an entry of the tenant's service catalog.
type Service struct {
	Name            string  `json:"name" validate:"required"`
	Price           float64 `json:"price" validate:"gte=0"`
	DurationMinutes int     `json:"duration_minutes" validate:"gte=0,lte=1440"`
}

// Window is an opening window expressed as offsets from local midnight.
type Window struct {
	Open  time.Duration
	Close time.Duration
}

// String formats the window as "HH:MM-HH:MM".
func (w Window) String() string {
	return FormatClock(w.Open) + "-" + FormatClock(w.Close)
}

// FormatClock formats an offset from midnight as "HH:MM".
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// WeekdayKey returns the business-hours key for a weekday ("monday", ...).
func WeekdayKey(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// Hours returns the opening window for a weekday. ok is false when the
// business is closed that day. Days missing from the table use 08:00-19:00.
func (s Settings) Hours(d time.Weekday) (w Window, ok bool, err error) {
	dh, found := s.BusinessHours[WeekdayKey(d)]
	if !found {
		return Window{Open: defaultOpen, Close: defaultClose}, true, nil
	}
	if dh.Closed() {
		return Window{}, false, nil
	}

	open := defaultOpen
	if dh.Open != "" {
		if open, err = ParseClock(dh.Open); err != nil {
			return Window{}, false, fmt.Errorf("%s open: %w", WeekdayKey(d), err)
		}
	}
	closeAt := defaultClose
	if dh.Close != "" {
		if closeAt, err = ParseClock(dh.Close); err != nil {
			return Window{}, false, fmt.Errorf("%s close: %w", WeekdayKey(d), err)
		}
	}
	if closeAt <= open {
		return Window{}, false, fmt.Errorf("%s: close %s is not after open %s", WeekdayKey(d), dh.Close, dh.Open)
	}
	return Window{Open: open, Close: closeAt}, true, nil
}

// FindService looks up a service by case-insensitive name.
func (s Settings) FindService(name string) (Service, bool) {
	name = strings.TrimSpace(name)
	for _, svc := range s.Services {
		if strings.EqualFold(svc.Name, name) {
			return svc, true
		}
	}
	return Service{}, false
}

// Validate checks field constraints and that every business-hours entry parses.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	for key := range s.BusinessHours {
		d, ok := parseWeekdayKey(key)
		if !ok {
			return fmt.Errorf("invalid settings: unknown weekday %q", key)
		}
		if _, _, err := s.Hours(d); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" (or "HH") into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	hh, mm, found := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	m := 0
	if found {
		m, err = strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("invalid clock time %q", s)
		}
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func parseWeekdayKey(key string) (time.Weekday, bool) {
	for _, d := range Weekdays {
		if WeekdayKey(d) == strings.ToLower(key) {
			return d, true
		}
	}
	return 0, false
}
