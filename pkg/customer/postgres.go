package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/slotowl/internal/platform"
)

// PostgresStore keeps profiles in the customers table.
type PostgresStore struct {
	db platform.DBTX
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db platform.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, tenantID uuid.UUID, userID string) (Profile, error) {
	p := Profile{TenantID: tenantID, UserID: userID}
	err := s.db.QueryRow(ctx,
		`SELECT name, age, updated_at FROM customers WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	).Scan(&p.Name, &p.Age, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("getting customer: %w", err)
	}
	return p, nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, p Profile) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO customers (tenant_id, user_id, name, age, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (tenant_id, user_id) DO UPDATE SET
		   name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE customers.name END,
		   age = CASE WHEN EXCLUDED.age > 0 THEN EXCLUDED.age ELSE customers.age END,
		   updated_at = now()`,
		p.TenantID, p.UserID, strings.TrimSpace(p.Name), p.Age,
	)
	if err != nil {
		return fmt.Errorf("saving customer: %w", err)
	}
	return nil
}
