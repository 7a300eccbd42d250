package tools

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/wisbric/slotowl/internal/telemetry"
	"github.com/wisbric/slotowl/pkg/customer"
	"github.com/wisbric/slotowl/pkg/providers"
	"github.com/wisbric/slotowl/pkg/scheduling"
	"github.com/wisbric/slotowl/pkg/tenant"
	"github.com/wisbric/slotowl/pkg/timeparse"
)

// Tool names.
const (
	GetAvailableSlots     = "get_available_slots"
	ScheduleAppointment   = "schedule_appointment"
	RescheduleAppointment = "reschedule_appointment"
	CancelAppointment     = "cancel_appointment"
	ListMyAppointments    = "list_my_appointments"
)

const maxListedSlots = 12

// Scheduler is the booking surface the scheduling tools drive.
// *scheduling.Engine satisfies it.
type Scheduler interface {
	AvailableSlots(ctx context.Context, t *tenant.Tenant, day time.Time, r scheduling.TimeRange) (iter.Seq[scheduling.Slot], error)
	Schedule(ctx context.Context, t *tenant.Tenant, req scheduling.Request) (scheduling.Appointment, error)
	Reschedule(ctx context.Context, t *tenant.Tenant, userID, selector string, newStart time.Time, duration time.Duration) (scheduling.Appointment, error)
	Cancel(ctx context.Context, t *tenant.Tenant, userID, selector string) (scheduling.Appointment, error)
	Upcoming(ctx context.Context, t *tenant.Tenant, userID string) ([]scheduling.Appointment, error)
}

// SchedulingTools implements the appointment tools.
type SchedulingTools struct {
	scheduler Scheduler
	customers customer.Store
	logger    *slog.Logger
}

// RegisterScheduling registers the appointment tools on r.
func RegisterScheduling(r *Registry, s Scheduler, customers customer.Store, logger *slog.Logger) error {
	st := &SchedulingTools{scheduler: s, customers: customers, logger: logger.With("component", "tools")}

	for _, t := range []Tool{
		{Definition: getSlotsDefinition, Handler: Typed(st.getAvailableSlots)},
		{Definition: scheduleDefinition, Handler: Typed(st.schedule)},
		{Definition: rescheduleDefinition, Handler: Typed(st.reschedule)},
		{Definition: cancelDefinition, Handler: Typed(st.cancel)},
		{Definition: listDefinition, Handler: Typed(st.list)},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

const timeHint = "Use local ISO time (2025-01-16T10:00) or a phrase such as \"tomorrow 10am\" or \"mañana a las 3\"."

var getSlotsDefinition = providers.ToolDefinition{
	Name:        GetAvailableSlots,
	Description: "List free appointment slots for one day. Never offer times that this tool did not return.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date": map[string]any{
				"type":        "string",
				"description": "Day to check: YYYY-MM-DD, today, tomorrow, a weekday name. Defaults to tomorrow.",
			},
			"time_range": map[string]any{
				"type":        "string",
				"enum":        []string{"all", "morning", "afternoon", "evening"},
				"description": "Part of the day. Defaults to all.",
			},
		},
	},
}

var scheduleDefinition = providers.ToolDefinition{
	Name:        ScheduleAppointment,
	Description: "Book an appointment for the current customer.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"start_time":       map[string]any{"type": "string", "description": "Start time. " + timeHint},
			"duration_minutes": map[string]any{"type": "integer", "description": "Length in minutes. Defaults to the service duration."},
			"service":          map[string]any{"type": "string", "description": "Service name from the catalog."},
			"customer_name":    map[string]any{"type": "string", "description": "Customer's name."},
			"customer_age":     map[string]any{"type": "integer", "description": "Customer's age, if given."},
			"notes":            map[string]any{"type": "string", "description": "Anything else the business should know."},
		},
		"required": []string{"start_time"},
	},
}

var rescheduleDefinition = providers.ToolDefinition{
	Name:        RescheduleAppointment,
	Description: "Move one of the customer's upcoming appointments to a new time.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"appointment_selector": map[string]any{"type": "string", "description": "\"latest\" for the next appointment, \"today\", \"tomorrow\", or part of the service name."},
			"new_start_time":       map[string]any{"type": "string", "description": "New start time. " + timeHint},
			"duration_minutes":     map[string]any{"type": "integer", "description": "New length in minutes. Defaults to the current length."},
		},
		"required": []string{"new_start_time"},
	},
}

var cancelDefinition = providers.ToolDefinition{
	Name:        CancelAppointment,
	Description: "Cancel one of the customer's upcoming appointments.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"appointment_selector": map[string]any{"type": "string", "description": "\"latest\" for the next appointment, \"today\", \"tomorrow\", or part of the service name."},
		},
	},
}

var listDefinition = providers.ToolDefinition{
	Name:        ListMyAppointments,
	Description: "List the customer's upcoming appointments.",
	Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
}

type getSlotsArgs struct {
	Date      string `json:"date"`
	TimeRange string `json:"time_range" validate:"max=20"`
}

func (st *SchedulingTools) getAvailableSlots(ctx context.Context, inv Invocation, args getSlotsArgs) *Result {
	loc := inv.Tenant.Location()
	day, err := timeparse.ParseDate(args.Date, inv.Now, loc)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Could not understand the date %q. Use YYYY-MM-DD, today, tomorrow or a weekday name.", args.Date)).WithError(err)
	}
	tr, err := scheduling.ParseTimeRange(args.TimeRange)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	seq, err := st.scheduler.AvailableSlots(ctx, inv.Tenant, day, tr)
	if err != nil {
		return st.failure(inv, GetAvailableSlots, err)
	}

	var times []string
	total := 0
	for s := range seq {
		total++
		if len(times) < maxListedSlots {
			times = append(times, s.Start.In(loc).Format("15:04"))
		}
	}

	label := formatDay(day)
	if tr != scheduling.RangeAll {
		label += " (" + string(tr) + ")"
	}
	if total == 0 {
		return NewResult(fmt.Sprintf("No available slots on %s.", label))
	}
	msg := fmt.Sprintf("Available %d-minute slots on %s: %s.",
		int(inv.Tenant.DefaultDuration().Minutes()), label, strings.Join(times, ", "))
	if total > len(times) {
		msg += fmt.Sprintf(" (%d more later in the day)", total-len(times))
	}
	return NewResult(msg)
}

type scheduleArgs struct {
	StartTime       string `json:"start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0,lte=480"`
	Service         string `json:"service" validate:"max=100"`
	CustomerName    string `json:"customer_name" validate:"max=100"`
	CustomerAge     int    `json:"customer_age" validate:"gte=0,lte=120"`
	Notes           string `json:"notes" validate:"max=500"`
}

func (st *SchedulingTools) schedule(ctx context.Context, inv Invocation, args scheduleArgs) *Result {
	t := inv.Tenant
	start, err := timeparse.Parse(args.StartTime, inv.Now, t.Location())
	if err != nil {
		return unparsedTime(args.StartTime, err)
	}

	dur := time.Duration(args.DurationMinutes) * time.Minute
	serviceName := strings.TrimSpace(args.Service)
	if svc, ok := t.Settings.FindService(serviceName); ok {
		serviceName = svc.Name
		if dur == 0 && svc.DurationMinutes > 0 {
			dur = time.Duration(svc.DurationMinutes) * time.Minute
		}
	}

	name := strings.TrimSpace(args.CustomerName)
	if name == "" {
		if p, err := st.customers.Get(ctx, t.ID, inv.UserID); err == nil {
			name = p.Name
		}
	}

	summary := serviceName
	if summary == "" {
		summary = "Appointment"
	}
	if name != "" {
		summary += " - " + name
	}

	var desc []string
	if name != "" {
		line := "Customer: " + name
		if args.CustomerAge > 0 {
			line += fmt.Sprintf(" (%d)", args.CustomerAge)
		}
		desc = append(desc, line)
	}
	if serviceName != "" {
		desc = append(desc, "Service: "+serviceName)
	}
	if n := strings.TrimSpace(args.Notes); n != "" {
		desc = append(desc, "Notes: "+n)
	}

	meta := map[string]string{}
	if serviceName != "" {
		meta["service"] = serviceName
	}
	if name != "" {
		meta["customer_name"] = name
	}

	appt, err := st.scheduler.Schedule(ctx, t, scheduling.Request{
		UserID:      inv.UserID,
		Start:       start,
		Duration:    dur,
		Summary:     summary,
		Description: strings.Join(desc, "\n"),
		Location:    t.Settings.Address,
		Metadata:    meta,
	})
	switch {
	case errors.Is(err, scheduling.ErrDuplicateSuppressed):
		return NewResult("This appointment is already booked: " + describeAppointment(t, appt))
	case err != nil:
		return st.failure(inv, ScheduleAppointment, err)
	}

	if name != "" || args.CustomerAge > 0 {
		if err := st.customers.Save(ctx, customer.Profile{TenantID: t.ID, UserID: inv.UserID, Name: name, Age: args.CustomerAge}); err != nil {
			st.logger.Warn("saving customer profile", "tenant_id", t.ID, "user_hash", telemetry.HashID(inv.UserID), "error", err)
		}
	}

	msg := "Appointment confirmed: " + describeAppointment(t, appt)
	if appt.Location != "" {
		msg += " Location: " + appt.Location + "."
	}
	return NewResult(msg)
}

type rescheduleArgs struct {
	Selector        string `json:"appointment_selector" validate:"max=100"`
	NewStartTime    string `json:"new_start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0,lte=480"`
}

func (st *SchedulingTools) reschedule(ctx context.Context, inv Invocation, args rescheduleArgs) *Result {
	start, err := timeparse.Parse(args.NewStartTime, inv.Now, inv.Tenant.Location())
	if err != nil {
		return unparsedTime(args.NewStartTime, err)
	}
	appt, err := st.scheduler.Reschedule(ctx, inv.Tenant, inv.UserID, args.Selector, start,
		time.Duration(args.DurationMinutes)*time.Minute)
	if err != nil {
		return st.failure(inv, RescheduleAppointment, err)
	}
	return NewResult("Appointment moved: " + describeAppointment(inv.Tenant, appt))
}

type cancelArgs struct {
	Selector string `json:"appointment_selector" validate:"max=100"`
}

func (st *SchedulingTools) cancel(ctx context.Context, inv Invocation, args cancelArgs) *Result {
	appt, err := st.scheduler.Cancel(ctx, inv.Tenant, inv.UserID, args.Selector)
	if err != nil {
		return st.failure(inv, CancelAppointment, err)
	}
	return NewResult("Appointment canceled: " + describeAppointment(inv.Tenant, appt))
}

type listArgs struct{}

func (st *SchedulingTools) list(ctx context.Context, inv Invocation, _ listArgs) *Result {
	appts, err := st.scheduler.Upcoming(ctx, inv.Tenant, inv.UserID)
	if err != nil {
		return st.failure(inv, ListMyAppointments, err)
	}
	if len(appts) == 0 {
		return NewResult("The customer has no upcoming appointments.")
	}
	lines := make([]string, 0, len(appts))
	for i, a := range appts {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, describeAppointment(inv.Tenant, a)))
	}
	return NewResult("Upcoming appointments:\n" + strings.Join(lines, "\n"))
}

// failure turns a scheduling error into model-facing guidance.
func (st *SchedulingTools) failure(inv Invocation, tool string, err error) *Result {
	loc := inv.Tenant.Location()

	var ce *scheduling.CapacityError
	var he *scheduling.HoursError
	switch {
	case errors.As(err, &ce):
		msg := fmt.Sprintf("That time is fully booked (%d appointments already at %s).", ce.Capacity, ce.Start.In(loc).Format("15:04"))
		if len(ce.Alternatives) > 0 {
			alts := make([]string, 0, len(ce.Alternatives))
			for _, s := range ce.Alternatives {
				alts = append(alts, s.Start.In(loc).Format("15:04"))
			}
			msg += " Free times the same day: " + strings.Join(alts, ", ") + "."
		} else {
			msg += " There are no other free times that day."
		}
		return ErrorResult(msg).WithError(err)
	case errors.As(err, &he):
		msg := "The business is " + he.Error() + "."
		if errors.Is(err, scheduling.ErrClosed) {
			msg += " Opening hours: " + openingHours(inv.Tenant) + "."
		}
		return ErrorResult(msg).WithError(err)
	case errors.Is(err, scheduling.ErrNotFound):
		return ErrorResult("No upcoming appointment found for this customer. Ask which appointment they mean or offer to book a new one.").WithError(err)
	case errors.Is(err, scheduling.ErrInPast):
		return ErrorResult("That time is in the past. Ask for a future time.").WithError(err)
	case errors.Is(err, scheduling.ErrTooSoon):
		return ErrorResult(fmt.Sprintf("Appointments must be booked at least %d hours in advance.", inv.Tenant.Settings.MinAdvanceHours)).WithError(err)
	case errors.Is(err, scheduling.ErrInvalidDuration):
		return ErrorResult("The duration is not valid.").WithError(err)
	case errors.Is(err, scheduling.ErrCalendarUnavailable):
		return ErrorResult("Booking is temporarily unavailable. Apologize and ask the customer to try again later.").WithError(err)
	}

	st.logger.Error("tool failed", "tool", tool, "tenant_id", inv.Tenant.ID, "user_hash", telemetry.HashID(inv.UserID), "error", err)
	return ErrorResult("Something went wrong while talking to the calendar. Please try again.").WithError(err)
}

func unparsedTime(text string, err error) *Result {
	if errors.Is(err, timeparse.ErrMissingTime) {
		return ErrorResult(fmt.Sprintf("%q names a day but no time. Ask the customer for a time.", text)).WithError(err)
	}
	return ErrorResult(fmt.Sprintf("Could not understand the time %q. %s", text, timeHint)).WithError(err)
}

func describeAppointment(t *tenant.Tenant, a scheduling.Appointment) string {
	loc := t.Location()
	start, end := a.Start.In(loc), a.End.In(loc)
	summary := a.Summary
	if summary == "" {
		summary = "Appointment"
	}
	return fmt.Sprintf("%s on %s %s from %s to %s (%s).",
		summary, start.Weekday(), start.Format("2006-01-02"), start.Format("15:04"), end.Format("15:04"), loc)
}

func formatDay(d time.Time) string {
	return d.Weekday().String() + " " + d.Format("2006-01-02")
}

func openingHours(t *tenant.Tenant) string {
	var parts []string
	for _, d := range tenant.Weekdays {
		w, open, err := t.Settings.Hours(d)
		if err != nil || !open {
			continue
		}
		parts = append(parts, tenant.WeekdayKey(d)+" "+w.String())
	}
	if len(parts) == 0 {
		return "none configured"
	}
	return strings.Join(parts, ", ")
}
