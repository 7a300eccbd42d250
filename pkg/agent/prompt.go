package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/wisbric/slotowl/pkg/tenant"
)

const defaultPrompt = `You are a friendly virtual assistant for the business.

You help customers with:
- information about services and prices
- booking, rescheduling and cancelling appointments
- frequently asked questions

Keep a professional, warm tone and answer in the customer's language.

IMPORTANT RULES:
- Check availability with get_available_slots before confirming an appointment.
- Never invent availability, prices or opening hours.
- Always confirm the date, exact time, service and customer name.
- Collect the customer's name and age naturally before booking.`

// PromptContext is the per-turn information merged into the system prompt.
type PromptContext struct {
	UserID       string
	CustomerName string
	Now          time.Time
}

// BuildPrompt assembles the system prompt: the tenant's template (or the
// default one), a CONTEXT section and a BUSINESS INFO section.
func BuildPrompt(t *tenant.Tenant, pc PromptContext) string {
	base := strings.TrimSpace(t.PromptTemplate)
	if base == "" {
		base = defaultPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n---\n\n")
	writeContext(&b, t, pc)
	b.WriteString("\n---\n\n")
	writeBusinessInfo(&b, t)
	return strings.TrimRight(b.String(), "\n")
}

func writeContext(b *strings.Builder, t *tenant.Tenant, pc PromptContext) {
	loc := t.Location()
	now := pc.Now.In(loc)

	name := pc.CustomerName
	if name == "" {
		name = "unknown (ask for it before booking)"
	}

	b.WriteString("### CONTEXT\n\n")
	fmt.Fprintf(b, "Business: %s\n", t.Name)
	fmt.Fprintf(b, "Timezone: %s\n", loc)
	fmt.Fprintf(b, "Max concurrent appointments: %d\n", t.MaxConcurrent())
	fmt.Fprintf(b, "Customer ID: %s\n", pc.UserID)
	fmt.Fprintf(b, "Customer name: %s\n", name)
	fmt.Fprintf(b, "Current date: %s (%s)\n", now.Format("2006-01-02"), strings.ToLower(now.Weekday().String()))
	fmt.Fprintf(b, "Current time: %s\n", now.Format("15:04"))
	b.WriteString("\nTool arguments take ISO local times (2006-01-02T15:04) or natural phrases such as \"tomorrow 3pm\". ")
	b.WriteString("Only offer times returned by get_available_slots.\n")
}

func writeBusinessInfo(b *strings.Builder, t *tenant.Tenant) {
	s := t.Settings
	b.WriteString("### BUSINESS INFO\n")

	if len(s.Services) > 0 {
		b.WriteString("\nServices:\n")
		for _, svc := range s.Services {
			line := "- " + svc.Name
			if svc.Price > 0 {
				line += ": " + formatPrice(svc.Price, s.Currency)
			}
			if svc.DurationMinutes > 0 {
				line += fmt.Sprintf(" (%d min)", svc.DurationMinutes)
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\nBusiness hours:\n")
	for _, day := range tenant.Weekdays {
		key := tenant.WeekdayKey(day)
		w, open, err := s.Hours(day)
		switch {
		case err != nil:
			fmt.Fprintf(b, "- %s: not configured\n", key)
		case !open:
			fmt.Fprintf(b, "- %s: closed\n", key)
		default:
			fmt.Fprintf(b, "- %s: %s\n", key, w)
		}
	}

	writeList(b, "Staff", s.Staff)
	if s.Address != "" {
		fmt.Fprintf(b, "\nLocation: %s\n", s.Address)
	}
	if s.Phone != "" {
		fmt.Fprintf(b, "Phone: %s\n", s.Phone)
	}
	writeList(b, "Payment methods", s.PaymentMethods)
	writeList(b, "Promotions", s.Promotions)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}

func formatPrice(p float64, currency string) string {
	var s string
	if p == float64(int64(p)) {
		s = fmt.Sprintf("%d", int64(p))
	} else {
		s = fmt.Sprintf("%.2f", p)
	}
	if currency != "" {
		return "$" + s + " " + currency
	}
	return "$" + s
}
