package scheduling

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/wisbric/slotowl/internal/keylock"
	"github.com/wisbric/slotowl/internal/telemetry"
	"github.com/wisbric/slotowl/pkg/calendar"
	"github.com/wisbric/slotowl/pkg/events"
	"github.com/wisbric/slotowl/pkg/tenant"
	"github.com/wisbric/slotowl/pkg/vault"
)

const (
	defaultDuplicateWindow = 5 * time.Minute
	defaultHorizon         = 180 * 24 * time.Hour
	maxRangeDays           = 31
	maxAlternatives        = 3
	duplicateTolerance     = time.Minute
)

// Alerter is notified when a tenant's calendar cannot be used because of a
// credential problem.
type Alerter interface {
	CalendarUnavailable(ctx context.Context, t *tenant.Tenant, err error)
}

// Options configures an Engine.
type Options struct {
	Calendars calendar.Provider
	Locker    keylock.Locker
	Publisher events.Publisher
	Alerter   Alerter
	Now       func() time.Time
	// DuplicateWindow is how recently an identical booking must have been
	// created to be treated as a retry.
	DuplicateWindow time.Duration
	// Horizon bounds how far ahead upcoming appointments are searched.
	Horizon time.Duration
	Logger  *slog.Logger
}

// Engine implements availability search and the booking operations. The
// check-and-commit step of Schedule and Reschedule runs under a per-tenant
// lock, so concurrent bookings never push a window past capacity.
type Engine struct {
	calendars calendar.Provider
	locker    keylock.Locker
	publisher events.Publisher
	alerter   Alerter
	now       func() time.Time
	dupWindow time.Duration
	horizon   time.Duration
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		calendars: opts.Calendars,
		locker:    opts.Locker,
		publisher: opts.Publisher,
		alerter:   opts.Alerter,
		now:       opts.Now,
		dupWindow: opts.DuplicateWindow,
		horizon:   opts.Horizon,
		logger:    opts.Logger,
	}
	if e.locker == nil {
		e.locker = keylock.NewLocal()
	}
	if e.publisher == nil {
		e.publisher = events.Noop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.dupWindow <= 0 {
		e.dupWindow = defaultDuplicateWindow
	}
	if e.horizon <= 0 {
		e.horizon = defaultHorizon
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "scheduling")
	return e
}

// AvailableSlots returns the free slots of one day in the tenant's time zone.
// Busy intervals are fetched once; the returned sequence can be iterated any
// number of times. A closed day yields a *HoursError wrapping ErrClosed.
func (e *Engine) AvailableSlots(ctx context.Context, t *tenant.Tenant, day time.Time, r TimeRange) (iter.Seq[Slot], error) {
	d := midnight(day.In(t.Location()))
	w, open, err := t.Settings.Hours(d.Weekday())
	if err != nil {
		return nil, fmt.Errorf("reading business hours: %w", err)
	}
	if !open {
		return nil, &HoursError{Err: ErrClosed, Weekday: d.Weekday()}
	}

	cal, err := e.calendar(ctx, t)
	if err != nil {
		return nil, err
	}
	busy, err := cal.List(ctx, at(d, w.Open), at(d, w.Close))
	if err != nil {
		return nil, e.calendarErr(ctx, t, "listing events", err)
	}

	earliest := e.now().Add(t.MinAdvance())
	return daySlots(t, d, w, r, busy, earliest, ""), nil
}

// AvailableSlotsRange returns free slots for every open day from `from` up
// to `to`, at most 31 days.
func (e *Engine) AvailableSlotsRange(ctx context.Context, t *tenant.Tenant, from, to time.Time, r TimeRange) (iter.Seq[Slot], error) {
	loc := t.Location()
	first := midnight(from.In(loc))
	if limit := first.AddDate(0, 0, maxRangeDays); to.After(limit) {
		to = limit
	}
	if !to.After(from) {
		return func(func(Slot) bool) {}, nil
	}

	type openDay struct {
		day time.Time
		w   tenant.Window
	}
	var days []openDay
	for d := first; d.Before(to); d = d.AddDate(0, 0, 1) {
		w, open, err := t.Settings.Hours(d.Weekday())
		if err != nil {
			return nil, fmt.Errorf("reading business hours: %w", err)
		}
		if open {
			days = append(days, openDay{day: d, w: w})
		}
	}

	cal, err := e.calendar(ctx, t)
	if err != nil {
		return nil, err
	}
	busy, err := cal.List(ctx, first, to)
	if err != nil {
		return nil, e.calendarErr(ctx, t, "listing events", err)
	}

	earliest := e.now().Add(t.MinAdvance())
	if from.After(earliest) {
		earliest = from
	}
	return func(yield func(Slot) bool) {
		for _, od := range days {
			for s := range daySlots(t, od.day, od.w, r, busy, earliest, "") {
				if s.End.After(to) {
					return
				}
				if !yield(s) {
					return
				}
			}
		}
	}, nil
}

// Schedule books a new appointment. A retry of a booking the same user made
// within the duplicate window returns the existing appointment together with
// ErrDuplicateSuppressed. A full window returns a *CapacityError.
func (e *Engine) Schedule(ctx context.Context, t *tenant.Tenant, req Request) (appt Appointment, err error) {
	defer func() { e.observe("schedule", err) }()

	dur := req.Duration
	if dur == 0 {
		dur = t.DefaultDuration()
	}
	if dur < 0 || dur > 24*time.Hour {
		return Appointment{}, ErrInvalidDuration
	}
	start := req.Start.In(t.Location())
	end := start.Add(dur)
	if err := e.validate(t, start, end); err != nil {
		return Appointment{}, err
	}

	cal, err := e.calendar(ctx, t)
	if err != nil {
		return Appointment{}, err
	}

	unlock, err := e.locker.Lock(ctx, lockKey(t))
	if err != nil {
		return Appointment{}, fmt.Errorf("acquiring tenant lock: %w", err)
	}
	defer unlock()

	day := midnight(start)
	existing, err := cal.List(ctx, day, later(day.AddDate(0, 0, 1), end))
	if err != nil {
		return Appointment{}, e.calendarErr(ctx, t, "listing events", err)
	}

	now := e.now()
	if dup, ok := e.findDuplicate(existing, req.UserID, start, end, now); ok {
		e.logger.Info("duplicate booking suppressed",
			"tenant_id", t.ID, "user_hash", telemetry.HashID(req.UserID), "appointment_id", dup.ID)
		return fromEvent(dup), ErrDuplicateSuppressed
	}

	if n := countOverlapping(existing, start, end, ""); n >= t.MaxConcurrent() {
		return Appointment{}, e.capacityError(t, start, end, existing, now, "")
	}

	ev, err := cal.Insert(ctx, calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Start:       start,
		End:         end,
		Status:      calendar.StatusConfirmed,
		UserID:      req.UserID,
		CreatedAt:   now,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return Appointment{}, e.calendarErr(ctx, t, "inserting event", err)
	}
	appt = fromEvent(ev)

	e.publish(ctx, t, events.TypeScheduled, appt, nil)
	e.logger.Info("appointment scheduled",
		"tenant_id", t.ID, "user_hash", telemetry.HashID(req.UserID), "appointment_id", appt.ID, "start", appt.Start)
	return appt, nil
}

// Reschedule moves the user's appointment matched by selector to newStart.
// A zero duration keeps the appointment's current length. The moved
// appointment does not count against its own new window.
func (e *Engine) Reschedule(ctx context.Context, t *tenant.Tenant, userID, selector string, newStart time.Time, duration time.Duration) (appt Appointment, err error) {
	defer func() { e.observe("reschedule", err) }()

	cal, err := e.calendar(ctx, t)
	if err != nil {
		return Appointment{}, err
	}

	unlock, err := e.locker.Lock(ctx, lockKey(t))
	if err != nil {
		return Appointment{}, fmt.Errorf("acquiring tenant lock: %w", err)
	}
	defer unlock()

	now := e.now()
	upcoming, err := e.upcoming(ctx, t, cal, userID, now)
	if err != nil {
		return Appointment{}, err
	}
	target, ok := selectAppointment(upcoming, selector, now.In(t.Location()))
	if !ok {
		return Appointment{}, ErrNotFound
	}

	dur := duration
	if dur == 0 {
		dur = target.End.Sub(target.Start)
	}
	if dur <= 0 || dur > 24*time.Hour {
		return Appointment{}, ErrInvalidDuration
	}
	start := newStart.In(t.Location())
	end := start.Add(dur)
	if err := e.validate(t, start, end); err != nil {
		return Appointment{}, err
	}

	day := midnight(start)
	existing, err := cal.List(ctx, day, later(day.AddDate(0, 0, 1), end))
	if err != nil {
		return Appointment{}, e.calendarErr(ctx, t, "listing events", err)
	}
	if n := countOverlapping(existing, start, end, target.ID); n >= t.MaxConcurrent() {
		return Appointment{}, e.capacityError(t, start, end, existing, now, target.ID)
	}

	ev, err := cal.Update(ctx, calendar.Event{
		ID:          target.ID,
		Summary:     target.Summary,
		Description: target.Description,
		Location:    target.Location,
		Start:       start,
		End:         end,
		Status:      calendar.StatusConfirmed,
		UserID:      target.UserID,
		CreatedAt:   target.CreatedAt,
		Metadata:    target.Metadata,
	})
	if err != nil {
		if errors.Is(err, calendar.ErrNotFound) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, e.calendarErr(ctx, t, "updating event", err)
	}
	appt = fromEvent(ev)

	prev := target.Start
	e.publish(ctx, t, events.TypeRescheduled, appt, &prev)
	e.logger.Info("appointment rescheduled",
		"tenant_id", t.ID, "user_hash", telemetry.HashID(userID), "appointment_id", appt.ID, "from", prev, "to", appt.Start)
	return appt, nil
}

// Cancel cancels the user's appointment matched by selector and returns it.
func (e *Engine) Cancel(ctx context.Context, t *tenant.Tenant, userID, selector string) (appt Appointment, err error) {
	defer func() { e.observe("cancel", err) }()

	cal, err := e.calendar(ctx, t)
	if err != nil {
		return Appointment{}, err
	}

	unlock, err := e.locker.Lock(ctx, lockKey(t))
	if err != nil {
		return Appointment{}, fmt.Errorf("acquiring tenant lock: %w", err)
	}
	defer unlock()

	now := e.now()
	upcoming, err := e.upcoming(ctx, t, cal, userID, now)
	if err != nil {
		return Appointment{}, err
	}
	target, ok := selectAppointment(upcoming, selector, now.In(t.Location()))
	if !ok {
		return Appointment{}, ErrNotFound
	}

	if err := cal.Cancel(ctx, target.ID); err != nil {
		if errors.Is(err, calendar.ErrNotFound) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, e.calendarErr(ctx, t, "canceling event", err)
	}
	target.Status = calendar.StatusCanceled

	e.publish(ctx, t, events.TypeCanceled, target, nil)
	e.logger.Info("appointment canceled",
		"tenant_id", t.ID, "user_hash", telemetry.HashID(userID), "appointment_id", target.ID)
	return target, nil
}

// Upcoming lists the user's confirmed appointments that start after now,
// soonest first.
func (e *Engine) Upcoming(ctx context.Context, t *tenant.Tenant, userID string) ([]Appointment, error) {
	cal, err := e.calendar(ctx, t)
	if err != nil {
		return nil, err
	}
	return e.upcoming(ctx, t, cal, userID, e.now())
}

func (e *Engine) upcoming(ctx context.Context, t *tenant.Tenant, cal calendar.Calendar, userID string, now time.Time) ([]Appointment, error) {
	evs, err := cal.List(ctx, now, now.Add(e.horizon))
	if err != nil {
		return nil, e.calendarErr(ctx, t, "listing events", err)
	}
	var out []Appointment
	for _, ev := range evs {
		if ev.Confirmed() && ev.UserID == userID && ev.Start.After(now) {
			out = append(out, fromEvent(ev))
		}
	}
	slices.SortFunc(out, func(a, b Appointment) int { return a.Start.Compare(b.Start) })
	return out, nil
}

// validate checks a window against the clock, the tenant's minimum advance
// and its business hours.
func (e *Engine) validate(t *tenant.Tenant, start, end time.Time) error {
	now := e.now()
	if !start.After(now) {
		return ErrInPast
	}
	if start.Before(now.Add(t.MinAdvance())) {
		return ErrTooSoon
	}

	day := midnight(start)
	w, open, err := t.Settings.Hours(day.Weekday())
	if err != nil {
		return fmt.Errorf("reading business hours: %w", err)
	}
	if !open {
		return &HoursError{Err: ErrClosed, Weekday: day.Weekday()}
	}
	if start.Before(at(day, w.Open)) || end.After(at(day, w.Close)) {
		return &HoursError{Err: ErrOutsideBusinessHours, Weekday: day.Weekday(), Window: w}
	}
	return nil
}

func (e *Engine) findDuplicate(existing []calendar.Event, userID string, start, end, now time.Time) (calendar.Event, bool) {
	for _, ev := range existing {
		if !ev.Confirmed() || ev.UserID != userID || ev.CreatedAt.IsZero() {
			continue
		}
		if absDur(ev.Start.Sub(start)) <= duplicateTolerance &&
			absDur(ev.End.Sub(end)) <= duplicateTolerance &&
			now.Sub(ev.CreatedAt) <= e.dupWindow {
			return ev, true
		}
	}
	return calendar.Event{}, false
}

// capacityError builds a *CapacityError with up to three free slots the same
// day, nearest to the requested start first.
func (e *Engine) capacityError(t *tenant.Tenant, start, end time.Time, existing []calendar.Event, now time.Time, skipID string) *CapacityError {
	ce := &CapacityError{Start: start, End: end, Capacity: t.MaxConcurrent()}

	day := midnight(start)
	w, open, err := t.Settings.Hours(day.Weekday())
	if err != nil || !open {
		return ce
	}
	var free []Slot
	for s := range daySlots(t, day, w, RangeAll, existing, now.Add(t.MinAdvance()), skipID) {
		if !s.Start.Equal(start) {
			free = append(free, s)
		}
	}
	slices.SortStableFunc(free, func(a, b Slot) int {
		return cmp.Compare(absDur(a.Start.Sub(start)), absDur(b.Start.Sub(start)))
	})
	if len(free) > maxAlternatives {
		free = free[:maxAlternatives]
	}
	slices.SortFunc(free, func(a, b Slot) int { return a.Start.Compare(b.Start) })
	ce.Alternatives = free
	return ce
}

func (e *Engine) calendar(ctx context.Context, t *tenant.Tenant) (calendar.Calendar, error) {
	cal, err := e.calendars.ForTenant(ctx, t)
	if err != nil {
		return nil, e.calendarErr(ctx, t, "opening calendar", err)
	}
	return cal, nil
}

// calendarErr maps credential failures to ErrCalendarUnavailable and alerts
// the operator. Other errors are wrapped unchanged.
func (e *Engine) calendarErr(ctx context.Context, t *tenant.Tenant, op string, err error) error {
	if errors.Is(err, calendar.ErrUnauthorized) || errors.Is(err, vault.ErrDecrypt) {
		e.logger.Error("calendar unavailable", "tenant_id", t.ID, "op", op, "error", err)
		if e.alerter != nil {
			e.alerter.CalendarUnavailable(ctx, t, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrCalendarUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Engine) publish(ctx context.Context, t *tenant.Tenant, typ string, appt Appointment, prev *time.Time) {
	ev := events.Event{
		Type:          typ,
		TenantID:      t.ID,
		AppointmentID: appt.ID,
		UserID:        appt.UserID,
		Summary:       appt.Summary,
		Start:         appt.Start,
		End:           appt.End,
		PreviousStart: prev,
		OccurredAt:    e.now(),
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("publishing appointment event", "type", typ, "appointment_id", appt.ID, "error", err)
	}
}

func (e *Engine) observe(op string, err error) {
	telemetry.AppointmentsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateSuppressed):
		return "duplicate"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCalendarUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInPast), errors.Is(err, ErrTooSoon), errors.Is(err, ErrClosed),
		errors.Is(err, ErrOutsideBusinessHours), errors.Is(err, ErrInvalidDuration):
		return "rejected"
	}
	return "error"
}

// daySlots yields the day's candidate windows, stepped by the tenant's
// default duration, that start in r, no earlier than earliest, and still
// have capacity. Events with id skipID are ignored.
func daySlots(t *tenant.Tenant, day time.Time, w tenant.Window, r TimeRange, busy []calendar.Event, earliest time.Time, skipID string) iter.Seq[Slot] {
	step := t.DefaultDuration()
	capacity := t.MaxConcurrent()
	from, to := r.bounds()

	return func(yield func(Slot) bool) {
		for off := w.Open; off+step <= w.Close; off += step {
			if off < from || off >= to {
				continue
			}
			s := Slot{Start: at(day, off), End: at(day, off+step)}
			if s.Start.Before(earliest) {
				continue
			}
			if countOverlapping(busy, s.Start, s.End, skipID) >= capacity {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

func countOverlapping(evs []calendar.Event, start, end time.Time, skipID string) int {
	n := 0
	for _, ev := range evs {
		if ev.Confirmed() && ev.ID != skipID && Overlaps(ev.Start, ev.End, start, end) {
			n++
		}
	}
	return n
}

// selectAppointment picks from upcoming (sorted soonest first). The selector
// is "latest" (or empty) for the next appointment, "today"/"tomorrow" for the
// first appointment that day, or otherwise a case-insensitive substring of
// the summary.
func selectAppointment(upcoming []Appointment, selector string, now time.Time) (Appointment, bool) {
	if len(upcoming) == 0 {
		return Appointment{}, false
	}
	sel := strings.ToLower(strings.TrimSpace(selector))

	var day time.Time
	switch sel {
	case "", "latest", "next", "última", "ultima", "próxima", "proxima":
		return upcoming[0], true
	case "today", "hoy":
		day = midnight(now)
	case "tomorrow", "mañana", "manana":
		day = midnight(now).AddDate(0, 0, 1)
	}

	for _, a := range upcoming {
		if !day.IsZero() {
			if midnight(a.Start.In(now.Location())).Equal(day) {
				return a, true
			}
			continue
		}
		if strings.Contains(strings.ToLower(a.Summary), sel) {
			return a, true
		}
	}
	return Appointment{}, false
}

func lockKey(t *tenant.Tenant) string {
	return "tenant:" + t.ID.String()
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// at returns the wall-clock time off after midnight of day.
func at(day time.Time, off time.Duration) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, int(off/time.Minute), 0, 0, day.Location())
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
