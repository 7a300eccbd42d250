package agent

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/slotowl/pkg/tenant"
)

func TestBuildPrompt(t *testing.T) {
	tn := &tenant.Tenant{
		ID:   uuid.New(),
		Name: "Barbería Central",
		Loc:  cot,
		Settings: tenant.Settings{
			BusinessHours: map[string]tenant.DayHours{
				"monday": {Open: "09:00", Close: "18:00"},
				"sunday": {Open: "closed"},
			},
			Services: []tenant.Service{
				{Name: "Corte", Price: 25000, DurationMinutes: 45},
				{Name: "Barba", Price: 12.5},
			},
			MaxConcurrent:  3,
			Address:        "Calle 10 #5-20",
			Staff:          []string{"Luis"},
			PaymentMethods: []string{"cash", "nequi"},
			Currency:       "COP",
		},
	}

	got := BuildPrompt(tn, PromptContext{UserID: "573001", Now: baseNow})

	for _, want := range []string{
		"virtual assistant",
		"### CONTEXT",
		"Business: Barbería Central",
		"Max concurrent appointments: 3",
		"Customer ID: 573001",
		"Customer name: unknown",
		"Current date: 2025-01-15 (wednesday)",
		"Current time: 08:00",
		"### BUSINESS INFO",
		"- Corte: $25000 COP (45 min)",
		"- Barba: $12.50 COP",
		"- monday: 09:00-18:00",
		"- tuesday: 08:00-19:00",
		"- sunday: closed",
		"Staff:\n- Luis",
		"Location: Calle 10 #5-20",
		"Payment methods:\n- cash\n- nequi",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q\n%s", want, got)
		}
	}
	if strings.Contains(got, "Promotions") {
		t.Error("empty promotions should be omitted")
	}
}

func TestBuildPrompt_TenantTemplate(t *testing.T) {
	tn := &tenant.Tenant{Name: "Spa", Loc: cot, PromptTemplate: "  Eres la recepcionista del Spa.  "}
	got := BuildPrompt(tn, PromptContext{UserID: "1", CustomerName: "Ana", Now: baseNow})

	if !strings.HasPrefix(got, "Eres la recepcionista del Spa.\n\n---") {
		t.Errorf("template not used as prefix:\n%s", got)
	}
	if strings.Contains(got, "virtual assistant") {
		t.Error("default prompt should not be included with a tenant template")
	}
	if !strings.Contains(got, "Customer name: Ana") {
		t.Error("customer name missing")
	}
}
