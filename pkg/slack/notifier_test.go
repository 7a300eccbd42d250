package slack

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goslack "github.com/slack-go/slack"

	"github.com/wisbric/slotowl/pkg/tenant"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type slackAPI struct {
	mu    sync.Mutex
	posts []string
}

func (s *slackAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	s.mu.Lock()
	s.posts = append(s.posts, r.URL.Path+" "+r.Form.Get("channel")+" "+r.Form.Get("text"))
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1736950000.000100"}`))
}

func (s *slackAPI) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func TestNotifier_Disabled(t *testing.T) {
	n := NewNotifier("", "#ops", testLogger())
	if n.IsEnabled() {
		t.Fatal("notifier without token should be disabled")
	}
	ch, ts, err := n.PostAlert(context.Background(), AlertInfo{Title: "x"})
	if err != nil || ch != "" || ts != "" {
		t.Errorf("PostAlert = (%q, %q, %v), want noop", ch, ts, err)
	}
}

func TestNotifier_PostAlert(t *testing.T) {
	api := &slackAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	n := NewNotifier("xoxb-test", "#ops", testLogger(), goslack.OptionAPIURL(srv.URL+"/"))
	ch, ts, err := n.PostAlert(context.Background(), AlertInfo{Title: "Calendar unavailable", Severity: "critical"})
	if err != nil {
		t.Fatalf("PostAlert: %v", err)
	}
	if ch != "C123" || ts == "" {
		t.Errorf("PostAlert = (%q, %q)", ch, ts)
	}
	if api.count() != 1 || !strings.HasPrefix(api.posts[0], "/chat.postMessage #ops 🔴 Calendar unavailable") {
		t.Errorf("posts = %q", api.posts)
	}
}

func TestAlerter_Throttles(t *testing.T) {
	api := &slackAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	n := NewNotifier("xoxb-test", "#ops", testLogger(), goslack.OptionAPIURL(srv.URL+"/"))
	a := NewAlerter(n, time.Hour, testLogger())
	now := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	t1 := &tenant.Tenant{ID: uuid.New(), Name: "A", CalendarProvider: tenant.CalendarGoogle}
	t2 := &tenant.Tenant{ID: uuid.New(), Name: "B", CalendarProvider: tenant.CalendarGoogle}
	failure := errors.New("oauth2: invalid_grant")

	a.CalendarUnavailable(context.Background(), t1, failure)
	a.CalendarUnavailable(context.Background(), t1, failure)
	a.CalendarUnavailable(context.Background(), t2, failure)
	if api.count() != 2 {
		t.Fatalf("posts = %d, want 2 (one per tenant)", api.count())
	}

	now = now.Add(2 * time.Hour)
	a.CalendarUnavailable(context.Background(), t1, failure)
	if api.count() != 3 {
		t.Errorf("posts = %d, want 3 after the interval elapsed", api.count())
	}
}
