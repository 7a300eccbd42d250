package whatsapp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/slotowl/pkg/agent"
	"github.com/wisbric/slotowl/pkg/dedup"
	"github.com/wisbric/slotowl/pkg/tenant"
)

const testSecret = "app-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeResolver struct {
	tenants map[string]*tenant.Tenant
	err     error
}

func (f *fakeResolver) Resolve(_ context.Context, address string) (*tenant.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tenants[address]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return t, nil
}

type recordingRunner struct {
	mu    sync.Mutex
	turns []agent.Turn
}

func (r *recordingRunner) HandleMessage(_ context.Context, turn agent.Turn) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn)
	return "ok", nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

type fixture struct {
	handler *Handler
	router  http.Handler
	runner  *recordingRunner
	tenant  *tenant.Tenant
}

func newFixture(secret string) *fixture {
	t := &tenant.Tenant{ID: uuid.New(), Name: "Barbería", Active: true}
	f := &fixture{runner: &recordingRunner{}, tenant: t}
	f.handler = NewHandler(HandlerOptions{
		VerifyToken:   "verify-me",
		AppSecret:     secret,
		Dedup:         dedup.NewMemoryStore(0, 0),
		Tenants:       &fakeResolver{tenants: map[string]*tenant.Tenant{"phone-1": t}},
		Runner:        f.runner,
		MaxConcurrent: 4,
		Logger:        testLogger(),
	})
	f.router = f.handler.Routes()
	return f
}

func messageBody(channel, id, text string) string {
	return fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp",
		"metadata":{"display_phone_number":"15550001","phone_number_id":%q},
		"contacts":[{"wa_id":"573001112233","profile":{"name":"Ana"}}],
		"messages":[{"from":"573001112233","id":%q,"timestamp":"1736950000","type":"text","text":{"body":%q}}]}}]}]}`,
		channel, id, text)
}

func (f *fixture) post(body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+hex.EncodeToString(Sign(secret, []byte(body))))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestVerifyHandshake(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"ok", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", http.StatusOK, "1158201444"},
		{"token mismatch", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden, "verification_failed"},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", http.StatusForbidden, "verification_failed"},
		{"missing challenge", "hub.mode=subscribe&hub.verify_token=verify-me", http.StatusBadRequest, "missing_parameter"},
		{"no params", "", http.StatusBadRequest, "missing_parameter"},
	}

	f := newFixture("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleEvent_DispatchesTurn(t *testing.T) {
	f := newFixture(testSecret)

	rec := f.post(messageBody("phone-1", "wamid.A", "quiero una cita mañana"), testSecret)
	f.handler.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.runner.count() != 1 {
		t.Fatalf("turns = %d, want 1", f.runner.count())
	}
	turn := f.runner.turns[0]
	if turn.Tenant != f.tenant || turn.UserID != "573001112233" || turn.Channel != "phone-1" ||
		turn.MessageID != "wamid.A" || turn.Text != "quiero una cita mañana" {
		t.Errorf("turn = %+v", turn)
	}
}

func TestHandleEvent_DuplicateDeliveries(t *testing.T) {
	f := newFixture("")
	body := messageBody("phone-1", "wamid.DUP", "hola")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rec := f.post(body, ""); rec.Code != http.StatusOK {
				t.Errorf("status = %d", rec.Code)
			}
		}()
	}
	wg.Wait()
	f.handler.Wait()

	if f.runner.count() != 1 {
		t.Errorf("turns = %d, want exactly 1", f.runner.count())
	}
}

func TestHandleEvent_Dropped(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown channel", messageBody("phone-9", "wamid.X", "hola")},
		{"status update", `{"entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"phone-1"},"statuses":[{"id":"wamid.S","status":"read"}]}}]}]}`},
		{"non-text message", `{"entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"phone-1"},"messages":[{"from":"1","id":"wamid.I","type":"image"}]}}]}]}`},
		{"malformed json", `{"entry":[`},
		{"empty entry", `{"entry":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("")
			rec := f.post(tt.body, "")
			f.handler.Wait()

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
				t.Errorf("body = %q", rec.Body.String())
			}
			if f.runner.count() != 0 {
				t.Errorf("turns = %d, want 0", f.runner.count())
			}
		})
	}
}

type failingClaimer struct{}

func (failingClaimer) Claim(context.Context, string, string) (bool, error) {
	return false, errors.New("store unavailable")
}

func TestHandleEvent_TransientFailureLeavesMessageUnclaimed(t *testing.T) {
	tests := []struct {
		name      string
		breakDeps func(f *fixture) (restore func())
	}{
		{
			name: "resolver error",
			breakDeps: func(f *fixture) func() {
				orig := f.handler.tenants
				f.handler.tenants = &fakeResolver{err: errors.New("db down")}
				return func() { f.handler.tenants = orig }
			},
		},
		{
			name: "claim error",
			breakDeps: func(f *fixture) func() {
				orig := f.handler.dedup
				f.handler.dedup = failingClaimer{}
				return func() { f.handler.dedup = orig }
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("")
			body := messageBody("phone-1", "wamid.E", "hola")

			restore := tt.breakDeps(f)
			rec := f.post(body, "")
			f.handler.Wait()
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("first delivery status = %d, want 503", rec.Code)
			}
			if f.runner.count() != 0 {
				t.Fatalf("turns = %d after failed delivery, want 0", f.runner.count())
			}

			restore()
			rec = f.post(body, "")
			f.handler.Wait()
			if rec.Code != http.StatusOK {
				t.Errorf("redelivery status = %d, want 200", rec.Code)
			}
			if f.runner.count() != 1 {
				t.Errorf("turns = %d after redelivery, want 1", f.runner.count())
			}
		})
	}
}

func TestHandleEvent_SaturatedPoolRedelivery(t *testing.T) {
	f := newFixture("")
	body := messageBody("phone-1", "wamid.NEW", "hola")

	if err := f.handler.slots.Acquire(context.Background(), 4); err != nil {
		t.Fatalf("filling pool: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("saturated delivery status = %d, want 503", rec.Code)
	}
	if f.runner.count() != 0 {
		t.Fatalf("turns = %d while saturated, want 0", f.runner.count())
	}

	f.handler.slots.Release(4)
	rec = f.post(body, "")
	f.handler.Wait()

	if rec.Code != http.StatusOK {
		t.Errorf("redelivery status = %d, want 200", rec.Code)
	}
	if f.runner.count() != 1 {
		t.Errorf("turns = %d after redelivery, want 1", f.runner.count())
	}
}

func TestHandleEvent_UnknownTenantIsNotClaimed(t *testing.T) {
	f := newFixture("")
	body := messageBody("phone-2", "wamid.LATE", "hola")

	if rec := f.post(body, ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	f.handler.tenants = &fakeResolver{tenants: map[string]*tenant.Tenant{"phone-2": f.tenant}}
	f.post(body, "")
	f.handler.Wait()

	if f.runner.count() != 1 {
		t.Errorf("turns = %d once the channel is provisioned, want 1", f.runner.count())
	}
}

func TestHandleEvent_BadSignature(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"missing", ""},
		{"wrong secret", "other-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(testSecret)
			rec := f.post(messageBody("phone-1", "wamid.B", "hola"), tt.secret)
			f.handler.Wait()

			if rec.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", rec.Code)
			}
			if f.runner.count() != 0 {
				t.Error("unsigned request must not be processed")
			}
		})
	}
}
