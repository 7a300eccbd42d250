package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/slotowl/internal/platform"
)

// tenantColumns is the column list for tenant queries, prefixed with t.
const tenantColumns = `t.id, t.name, t.active, t.timezone, t.settings, t.prompt_template,
	t.calendar_provider, t.calendar_id, t.calendar_credential`

// Store reads tenant configuration from Postgres.
type Store struct {
	db     platform.DBTX
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(db platform.DBTX, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// LookupByChannel returns the active tenant bound to an active channel address.
func (s *Store) LookupByChannel(ctx context.Context, address string) (*Tenant, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+tenantColumns+`
		 FROM channels c
		 JOIN tenants t ON t.id = c.tenant_id
		 WHERE c.address = $1 AND c.active AND t.active`,
		address,
	)
	t, err := s.scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up channel %s: %w", address, err)
	}
	return t, nil
}

// Get returns a tenant by id regardless of channel bindings.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants t WHERE t.id = $1`, id)
	t, err := s.scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting tenant %s: %w", id, err)
	}
	return t, nil
}

// UpdateCredential replaces the stored calendar credential ciphertext.
func (s *Store) UpdateCredential(ctx context.Context, id uuid.UUID, ciphertext string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tenants SET calendar_credential = $2, updated_at = now() WHERE id = $1`,
		id, ciphertext,
	)
	if err != nil {
		return fmt.Errorf("updating calendar credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanTenant(row pgx.Row) (*Tenant, error) {
	var (
		t        Tenant
		settings []byte
	)
	if err := row.Scan(
		&t.ID, &t.Name, &t.Active, &t.Timezone, &settings, &t.PromptTemplate,
		&t.CalendarProvider, &t.CalendarID, &t.CalendarCredential,
	); err != nil {
		return nil, err
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("decoding settings for tenant %s: %w", t.ID, err)
		}
	}
	if err := t.Settings.Validate(); err != nil {
		s.logger.Warn("tenant settings failed validation", "tenant_id", t.ID, "error", err)
	}

	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		s.logger.Warn("unknown tenant timezone, using UTC", "tenant_id", t.ID, "timezone", t.Timezone)
		loc = time.UTC
	}
	t.Loc = loc

	return &t, nil
}
