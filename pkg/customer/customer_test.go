package customer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStore_SaveMerges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tenantID := uuid.New()

	if _, err := s.Get(ctx, tenantID, "573001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store error = %v, want ErrNotFound", err)
	}

	_ = s.Save(ctx, Profile{TenantID: tenantID, UserID: "573001", Name: " Ana ", Age: 31})
	_ = s.Save(ctx, Profile{TenantID: tenantID, UserID: "573001", Name: ""})

	p, err := s.Get(ctx, tenantID, "573001")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Ana" || p.Age != 31 {
		t.Errorf("profile = %+v, want name Ana age 31 kept", p)
	}

	if _, err := s.Get(ctx, uuid.New(), "573001"); !errors.Is(err, ErrNotFound) {
		t.Error("profiles must be scoped per tenant")
	}
}
