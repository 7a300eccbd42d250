package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/slotowl/internal/audit"
	"github.com/wisbric/slotowl/internal/telemetry"
	"github.com/wisbric/slotowl/pkg/conversation"
	"github.com/wisbric/slotowl/pkg/customer"
	"github.com/wisbric/slotowl/pkg/providers"
	"github.com/wisbric/slotowl/pkg/tenant"
	"github.com/wisbric/slotowl/pkg/tools"
)

var (
	cot     = time.FixedZone("COT", -5*3600)
	baseNow = time.Date(2025, 1, 15, 8, 0, 0, 0, cot)
)

// scriptedProvider returns its responses in order, repeating the last one.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.ChatResponse
	err       error
	block     bool
	requests  []providers.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	i := min(n-1, len(p.responses)-1)
	return p.responses[i], nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type sent struct {
	channel, to, text string
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sent
}

func (d *recordingDispatcher) Deliver(_ context.Context, channel, to, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{channel, to, text})
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAuditor) Log(e audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

type harness struct {
	orch       *Orchestrator
	provider   *scriptedProvider
	history    *conversation.MemoryStore
	customers  *customer.MemoryStore
	dispatcher *recordingDispatcher
	auditor    *recordingAuditor
	tenant     *tenant.Tenant
	toolInvs   []tools.Invocation
}

func newHarness(t *testing.T, p *scriptedProvider, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		provider:   p,
		history:    conversation.NewMemoryStore(10),
		customers:  customer.NewMemoryStore(),
		dispatcher: &recordingDispatcher{},
		auditor:    &recordingAuditor{},
		tenant: &tenant.Tenant{
			ID:       uuid.New(),
			Name:     "Barbería Central",
			Active:   true,
			Timezone: "America/Bogota",
			Loc:      cot,
		},
	}

	reg := tools.NewRegistry()
	err := reg.Register(tools.Tool{
		Definition: providers.ToolDefinition{
			Name:       "lookup",
			Parameters: map[string]any{"type": "object"},
		},
		Handler: func(_ context.Context, inv tools.Invocation, args json.RawMessage) *tools.Result {
			h.toolInvs = append(h.toolInvs, inv)
			if strings.Contains(string(args), "fail") {
				return tools.ErrorResult("lookup failed")
			}
			return tools.NewResult("slot 10:00 free")
		},
	})
	if err != nil {
		t.Fatalf("registering tool: %v", err)
	}

	h.orch = NewOrchestrator(Options{
		Provider:    p,
		Model:       "test-model",
		Tools:       reg,
		History:     h.history,
		Customers:   h.customers,
		Dispatcher:  h.dispatcher,
		Auditor:     h.auditor,
		TurnTimeout: timeout,
		Now:         func() time.Time { return baseNow },
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func (h *harness) turn(text string) Turn {
	return Turn{Tenant: h.tenant, UserID: "573001112233", Channel: "phone-1", MessageID: "wamid.1", Text: text}
}

func TestHandleMessage_PlainReply(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "  Hello! How can I help?  "}}}
	h := newHarness(t, p, time.Second)

	reply, err := h.orch.HandleMessage(context.Background(), h.turn("hola"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "Hello! How can I help?" {
		t.Errorf("reply = %q", reply)
	}

	msgs, _ := h.history.Recent(context.Background(), h.tenant.ID, "573001112233", 10)
	if len(msgs) != 2 || msgs[0].Content != "hola" || msgs[1].Role != conversation.RoleAssistant {
		t.Errorf("history = %+v", msgs)
	}
	if len(h.dispatcher.sent) != 1 || h.dispatcher.sent[0] != (sent{"phone-1", "573001112233", reply}) {
		t.Errorf("dispatched = %+v", h.dispatcher.sent)
	}

	req := p.requests[0]
	if req.Model != "test-model" || len(req.Tools) != 1 {
		t.Errorf("request model=%q tools=%d", req.Model, len(req.Tools))
	}
	if req.Messages[0].Role != providers.RoleSystem || !strings.Contains(req.Messages[0].Content, "Barbería Central") {
		t.Errorf("first message should be the system prompt: %+v", req.Messages[0])
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != providers.RoleUser || last.Content != "hola" {
		t.Errorf("last message = %+v", last)
	}
}

func TestHandleMessage_ToolLoop(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{
			{ID: "call_1", Name: "lookup", Arguments: `{"day":"tomorrow"}`},
			{ID: "call_2", Name: "missing", Arguments: `{}`},
		}},
		{Content: "Tomorrow at 10:00 is free."},
	}}
	h := newHarness(t, p, time.Second)

	reply, err := h.orch.HandleMessage(context.Background(), h.turn("any slot tomorrow?"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "Tomorrow at 10:00 is free." {
		t.Errorf("reply = %q", reply)
	}
	if p.calls() != 2 {
		t.Fatalf("model calls = %d, want 2", p.calls())
	}

	second := p.requests[1].Messages
	n := len(second)
	if second[n-3].Role != providers.RoleAssistant || len(second[n-3].ToolCalls) != 2 {
		t.Errorf("assistant tool-call message missing: %+v", second[n-3])
	}
	if second[n-2].ToolCallID != "call_1" || second[n-2].Content != "slot 10:00 free" {
		t.Errorf("tool result = %+v", second[n-2])
	}
	if second[n-1].ToolCallID != "call_2" || !strings.Contains(second[n-1].Content, "unknown tool") {
		t.Errorf("unknown tool result = %+v", second[n-1])
	}

	if len(h.toolInvs) != 1 || h.toolInvs[0].Tenant != h.tenant || h.toolInvs[0].UserID != "573001112233" {
		t.Errorf("tool invocation = %+v", h.toolInvs)
	}
	if len(h.auditor.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(h.auditor.entries))
	}
	if e := h.auditor.entries[1]; e.Tool != "missing" || !e.IsError || e.TenantID != h.tenant.ID {
		t.Errorf("audit entry = %+v", e)
	}
}

func TestHandleMessage_KeepsPersonalDataOutOfLogsAndAudit(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{
			{ID: "call_1", Name: "lookup", Arguments: `{"customer_name":"Ana Gómez","day":"tomorrow"}`},
		}},
		{Content: "Booked."},
	}}
	h := newHarness(t, p, time.Second)
	var logs bytes.Buffer
	h.orch.logger = slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if _, err := h.orch.HandleMessage(context.Background(), h.turn("book me, I'm Ana Gómez")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	out := logs.String()
	for _, leak := range []string{"573001112233", "Ana"} {
		if strings.Contains(out, leak) {
			t.Errorf("logs contain %q:\n%s", leak, out)
		}
	}
	if !strings.Contains(out, telemetry.HashID("573001112233")) {
		t.Errorf("logs should carry the user hash:\n%s", out)
	}

	if len(h.auditor.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(h.auditor.entries))
	}
	args := string(h.auditor.entries[0].Arguments)
	if strings.Contains(args, "Ana") || !strings.Contains(args, "tomorrow") {
		t.Errorf("audited arguments = %s", args)
	}
}

func TestHandleMessage_Fallbacks(t *testing.T) {
	loop := &providers.ChatResponse{ToolCalls: []providers.ToolCall{{ID: "c", Name: "lookup", Arguments: `{}`}}}

	tests := []struct {
		name      string
		provider  *scriptedProvider
		timeout   time.Duration
		wantCalls int
	}{
		{"iteration cap", &scriptedProvider{responses: []*providers.ChatResponse{loop}}, time.Second, DefaultMaxIterations},
		{"model error", &scriptedProvider{err: errors.New("upstream 500")}, time.Second, 1},
		{"turn timeout", &scriptedProvider{block: true}, 20 * time.Millisecond, 1},
		{"empty reply", &scriptedProvider{responses: []*providers.ChatResponse{{Content: "   "}}}, time.Second, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.provider, tt.timeout)

			reply, err := h.orch.HandleMessage(context.Background(), h.turn("book me"))
			if err != nil {
				t.Fatalf("HandleMessage: %v", err)
			}
			if reply != FallbackReply {
				t.Errorf("reply = %q, want fallback", reply)
			}
			if got := tt.provider.calls(); got != tt.wantCalls {
				t.Errorf("model calls = %d, want %d", got, tt.wantCalls)
			}
			if len(h.dispatcher.sent) != 1 || h.dispatcher.sent[0].text != FallbackReply {
				t.Errorf("dispatched = %+v", h.dispatcher.sent)
			}
			msgs, _ := h.history.Recent(context.Background(), h.tenant.ID, "573001112233", 10)
			if len(msgs) != 0 {
				t.Errorf("fallback turn was persisted: %+v", msgs)
			}
		})
	}
}

func TestHandleMessage_HistoryAndCustomerName(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "ok"}}}
	h := newHarness(t, p, time.Second)
	ctx := context.Background()

	if err := h.customers.Save(ctx, customer.Profile{TenantID: h.tenant.ID, UserID: "573001112233", Name: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.HandleMessage(ctx, h.turn("first")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.HandleMessage(ctx, h.turn("second")); err != nil {
		t.Fatal(err)
	}

	msgs := p.requests[1].Messages
	if !strings.Contains(msgs[0].Content, "Customer name: Ana") {
		t.Errorf("system prompt lacks customer name:\n%s", msgs[0].Content)
	}
	var roles []string
	for _, m := range msgs[1:] {
		roles = append(roles, m.Role+":"+m.Content)
	}
	want := []string{"user:first", "assistant:ok", "user:second"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Errorf("messages = %v, want %v", roles, want)
	}
}

func TestHandleMessage_RequiresTenant(t *testing.T) {
	h := newHarness(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x"}}}, time.Second)
	if _, err := h.orch.HandleMessage(context.Background(), Turn{UserID: "u", Text: "hi"}); err == nil {
		t.Error("expected error for a turn without tenant")
	}
}
