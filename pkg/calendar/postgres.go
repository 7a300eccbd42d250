package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/slotowl/internal/platform"
)

const appointmentColumns = `id, user_id, summary, description, location, start_at, end_at, status, metadata, created_at`

// Local stores a tenant's appointments in the appointments table. It backs
// tenants whose calendar_provider is "local".
type Local struct {
	db       platform.DBTX
	tenantID uuid.UUID
}

// NewLocal creates a Local calendar scoped to one tenant.
func NewLocal(db platform.DBTX, tenantID uuid.UUID) *Local {
	return &Local{db: db, tenantID: tenantID}
}

// List implements Calendar.
func (l *Local) List(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := l.db.Query(ctx,
		`SELECT `+appointmentColumns+`
		 FROM appointments
		 WHERE tenant_id = $1 AND status = 'confirmed' AND start_at < $3 AND end_at > $2
		 ORDER BY start_at`,
		l.tenantID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating appointments: %w", err)
	}
	return out, nil
}

// Insert implements Calendar.
func (l *Local) Insert(ctx context.Context, ev Event) (Event, error) {
	meta, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return Event{}, err
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := l.db.QueryRow(ctx,
		`INSERT INTO appointments (tenant_id, user_id, summary, description, location, start_at, end_at, status, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'confirmed', $8, $9)
		 RETURNING `+appointmentColumns,
		l.tenantID, ev.UserID, ev.Summary, ev.Description, ev.Location, ev.Start, ev.End, meta, createdAt,
	)
	out, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("inserting appointment: %w", err)
	}
	return out, nil
}

// Update implements Calendar.
func (l *Local) Update(ctx context.Context, ev Event) (Event, error) {
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return Event{}, ErrNotFound
	}
	meta, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return Event{}, err
	}

	row := l.db.QueryRow(ctx,
		`UPDATE appointments
		 SET summary = $3, description = $4, location = $5, start_at = $6, end_at = $7, metadata = $8, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND status = 'confirmed'
		 RETURNING `+appointmentColumns,
		l.tenantID, id, ev.Summary, ev.Description, ev.Location, ev.Start, ev.End, meta,
	)
	out, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("updating appointment: %w", err)
	}
	return out, nil
}

// Cancel implements Calendar.
func (l *Local) Cancel(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := l.db.Exec(ctx,
		`UPDATE appointments SET status = 'canceled', updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND status = 'confirmed'`,
		l.tenantID, uid,
	)
	if err != nil {
		return fmt.Errorf("canceling appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev   Event
		id   uuid.UUID
		meta []byte
	)
	if err := row.Scan(&id, &ev.UserID, &ev.Summary, &ev.Description, &ev.Location,
		&ev.Start, &ev.End, &ev.Status, &meta, &ev.CreatedAt); err != nil {
		return Event{}, err
	}
	ev.ID = id.String()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return Event{}, fmt.Errorf("decoding appointment metadata: %w", err)
		}
	}
	return ev, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding appointment metadata: %w", err)
	}
	return b, nil
}
