package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestEncode(t *testing.T) {
	tenantID := uuid.New()
	start := time.Date(2025, 1, 16, 15, 0, 0, 0, time.UTC)
	ev := Event{
		Type:          TypeScheduled,
		TenantID:      tenantID,
		AppointmentID: "e1",
		UserID:        "573001",
		Start:         start,
		End:           start.Add(time.Hour),
	}

	msg, err := encode(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}

	if string(msg.Key) != tenantID.String() {
		t.Errorf("key = %s, want tenant id", msg.Key)
	}
	c := &headerCarrier{headers: msg.Headers}
	if c.Get("event_type") != TypeScheduled {
		t.Errorf("event_type header = %q", c.Get("event_type"))
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ID == uuid.Nil {
		t.Error("event id should be assigned")
	}
	if c.Get("event_id") != decoded.ID.String() {
		t.Errorf("event_id header = %q, want %s", c.Get("event_id"), decoded.ID)
	}
	if decoded.OccurredAt.IsZero() || !decoded.Start.Equal(start) {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestHeaderCarrier_InjectsTraceContext(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	c := &headerCarrier{}
	propagation.TraceContext{}.Inject(ctx, c)

	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got := c.Get("traceparent"); got != want {
		t.Errorf("traceparent = %q, want %q", got, want)
	}

	c.Set("traceparent", "x")
	if len(c.Keys()) != 1 {
		t.Errorf("Set should overwrite, keys = %v", c.Keys())
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	_ = r.Publish(context.Background(), Event{Type: TypeCanceled})
	got := r.Events()
	if len(got) != 1 || got[0].Type != TypeCanceled {
		t.Errorf("events = %+v", got)
	}
}
