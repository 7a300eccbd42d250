package seed

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wisbric/slotowl/pkg/tenant"
)

func TestDemoTenant(t *testing.T) {
	req := DemoTenant("100000000000001")

	if err := req.Settings.Validate(); err != nil {
		t.Fatalf("demo settings invalid: %v", err)
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		t.Fatalf("demo timezone: %v", err)
	}
	if req.ChannelAddress != "100000000000001" || req.CalendarProvider != tenant.CalendarLocal {
		t.Errorf("req = %+v", req)
	}
	if _, open, _ := req.Settings.Hours(time.Sunday); open {
		t.Error("demo tenant should be closed on sunday")
	}
	if _, ok := req.Settings.FindService("corte y barba"); !ok {
		t.Error("service lookup should be case-insensitive")
	}
}

type stubRow struct {
	id  uuid.UUID
	err error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*uuid.UUID) = r.id
	return nil
}

// racingTx fails the channel insert the way the partial unique index does
// when another seeder bound the address first.
type racingTx struct{ pgx.Tx }

func (racingTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "INSERT INTO channels") {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (racingTx) Rollback(context.Context) error { return nil }

type racingDB struct {
	winner  uuid.UUID
	lookups int
}

func (d *racingDB) Begin(context.Context) (pgx.Tx, error) { return racingTx{}, nil }

func (d *racingDB) QueryRow(context.Context, string, ...any) pgx.Row {
	d.lookups++
	if d.lookups == 1 {
		return stubRow{err: pgx.ErrNoRows}
	}
	return stubRow{id: d.winner}
}

func TestRun_LosesProvisioningRace(t *testing.T) {
	db := &racingDB{winner: uuid.New()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	id, err := Run(context.Background(), db, nil, Options{ChannelAddress: "100000000000001"}, logger)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if id != db.winner {
		t.Errorf("tenant = %s, want the concurrently seeded %s", id, db.winner)
	}
}

func TestRun_AlreadyBound(t *testing.T) {
	existing := uuid.New()
	db := &racingDB{winner: existing, lookups: 1}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	id, err := Run(context.Background(), db, nil, Options{ChannelAddress: "100000000000001"}, logger)
	if err != nil || id != existing {
		t.Errorf("Run = %s, %v; want %s", id, err, existing)
	}
}
