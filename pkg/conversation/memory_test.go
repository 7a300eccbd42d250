package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStore_RecentOrderAndBound(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	tenantID := uuid.New()

	for i := range 25 {
		if err := s.Append(ctx, tenantID, "u1", RoleUser, fmt.Sprintf("m%02d", i)); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	got, err := s.Recent(ctx, tenantID, "u1", 10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	for i, m := range got {
		want := fmt.Sprintf("m%02d", 15+i)
		if m.Content != want {
			t.Errorf("got[%d] = %q, want %q", i, m.Content, want)
		}
	}
}

func TestMemoryStore_RecentLimit(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	tenantID := uuid.New()

	for i := range 5 {
		_ = s.Append(ctx, tenantID, "u1", RoleUser, fmt.Sprint(i))
	}

	got, _ := s.Recent(ctx, tenantID, "u1", 3)
	if len(got) != 3 || got[0].Content != "2" || got[2].Content != "4" {
		t.Errorf("Recent(3) = %+v", got)
	}

	empty, _ := s.Recent(ctx, tenantID, "nobody", 10)
	if len(empty) != 0 {
		t.Errorf("unknown thread should be empty, got %d", len(empty))
	}
}

func TestMemoryStore_TenantIsolation(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	_ = s.Append(ctx, a, "u1", RoleUser, "for a")
	_ = s.Append(ctx, b, "u1", RoleUser, "for b")

	got, _ := s.Recent(ctx, a, "u1", 10)
	if len(got) != 1 || got[0].Content != "for a" {
		t.Errorf("tenant a thread = %+v", got)
	}
}

func TestMemoryStore_AppendTurn(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	tenantID := uuid.New()

	_ = s.AppendTurn(ctx, tenantID, "u1", "hola", "¡Hola! ¿En qué te ayudo?")

	got, _ := s.Recent(ctx, tenantID, "u1", 10)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Role != RoleUser || got[1].Role != RoleAssistant {
		t.Errorf("roles = %q, %q", got[0].Role, got[1].Role)
	}
}

func TestMemoryStore_ConcurrentBurstStaysBounded(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	tenantID := uuid.New()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(ctx, tenantID, "u1", RoleUser, fmt.Sprint(i))
		}()
	}
	wg.Wait()

	got, _ := s.Recent(ctx, tenantID, "u1", 50)
	if len(got) != 10 {
		t.Errorf("len = %d, want 10", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Errorf("messages not in chronological order at %d", i)
		}
	}
}
