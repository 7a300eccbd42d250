package tenant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeLookup struct {
	mu      sync.Mutex
	tenants map[string]*Tenant
	calls   atomic.Int32
	delay   time.Duration
	err     error
}

func (f *fakeLookup) LookupByChannel(_ context.Context, address string) (*Tenant, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[address]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolver_CachesHits(t *testing.T) {
	acme := &Tenant{ID: uuid.New(), Name: "Acme", Active: true}
	lookup := &fakeLookup{tenants: map[string]*Tenant{"111": acme}}
	r := NewResolver(lookup, time.Minute, testLogger())
	ctx := context.Background()

	for range 3 {
		got, err := r.Resolve(ctx, "111")
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if got.ID != acme.ID {
			t.Errorf("Resolve() tenant = %v, want %v", got.ID, acme.ID)
		}
	}
	if n := lookup.calls.Load(); n != 1 {
		t.Errorf("lookups = %d, want 1", n)
	}
}

func TestResolver_NotFound(t *testing.T) {
	lookup := &fakeLookup{tenants: map[string]*Tenant{}}
	r := NewResolver(lookup, time.Minute, testLogger())

	for range 2 {
		if _, err := r.Resolve(context.Background(), "999"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}
	if n := lookup.calls.Load(); n != 1 {
		t.Errorf("negative result should be cached, lookups = %d", n)
	}

	if _, err := r.Resolve(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty address err = %v, want ErrNotFound", err)
	}
}

func TestResolver_ExpiresEntries(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lookup := &fakeLookup{tenants: map[string]*Tenant{"111": {ID: uuid.New()}}}
	r := NewResolver(lookup, time.Minute, testLogger())
	r.now = func() time.Time { return now }

	_, _ = r.Resolve(context.Background(), "111")
	now = now.Add(2 * time.Minute)
	_, _ = r.Resolve(context.Background(), "111")

	if n := lookup.calls.Load(); n != 2 {
		t.Errorf("lookups = %d, want 2 after expiry", n)
	}
}

func TestResolver_LookupErrorNotCached(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("db down")}
	r := NewResolver(lookup, time.Minute, testLogger())

	if _, err := r.Resolve(context.Background(), "111"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want infrastructure error", err)
	}

	lookup.err = nil
	lookup.tenants = map[string]*Tenant{"111": {ID: uuid.New()}}
	if _, err := r.Resolve(context.Background(), "111"); err != nil {
		t.Errorf("Resolve after recovery err = %v", err)
	}
}

func TestResolver_CollapsesConcurrentMisses(t *testing.T) {
	lookup := &fakeLookup{
		tenants: map[string]*Tenant{"111": {ID: uuid.New()}},
		delay:   20 * time.Millisecond,
	}
	r := NewResolver(lookup, time.Minute, testLogger())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background(), "111"); err != nil {
				t.Errorf("Resolve error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := lookup.calls.Load(); n != 1 {
		t.Errorf("lookups = %d, want 1", n)
	}
}

func TestResolver_Invalidate(t *testing.T) {
	id := uuid.New()
	lookup := &fakeLookup{tenants: map[string]*Tenant{"111": {ID: id}, "222": {ID: id}}}
	r := NewResolver(lookup, time.Minute, testLogger())
	ctx := context.Background()

	_, _ = r.Resolve(ctx, "111")
	_, _ = r.Resolve(ctx, "222")

	r.Invalidate(id.String())

	_, _ = r.Resolve(ctx, "111")
	_, _ = r.Resolve(ctx, "222")
	if n := lookup.calls.Load(); n != 4 {
		t.Errorf("lookups = %d, want 4 after tenant invalidation", n)
	}

	r.Invalidate("111")
	_, _ = r.Resolve(ctx, "111")
	if n := lookup.calls.Load(); n != 5 {
		t.Errorf("lookups = %d, want 5 after address invalidation", n)
	}
}
