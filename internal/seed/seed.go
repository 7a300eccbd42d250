// Package seed creates the demo tenant used for local development.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/oauth2"

	"github.com/wisbric/slotowl/pkg/tenant"
	"github.com/wisbric/slotowl/pkg/vault"
)

// DB is the subset of *pgxpool.Pool the seeder needs.
type DB interface {
	tenant.TxBeginner
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Options controls the seeded tenant.
type Options struct {
	ChannelAddress string
	// GoogleRefreshToken switches the demo tenant to the Google calendar
	// provider with an encrypted credential. Empty keeps the local calendar.
	GoogleRefreshToken string
}

// Run provisions the demo barbershop tenant bound to opts.ChannelAddress.
// It is idempotent: when the address already has an active tenant nothing
// is created.
func Run(ctx context.Context, db DB, v *vault.Vault, opts Options, logger *slog.Logger) (uuid.UUID, error) {
	if opts.ChannelAddress == "" {
		return uuid.Nil, errors.New("seed: channel address is required")
	}

	existing, err := boundTenant(ctx, db, opts.ChannelAddress)
	switch {
	case err == nil:
		logger.Info("seed: channel already bound, nothing to do", "channel", opts.ChannelAddress, "tenant_id", existing)
		return existing, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return uuid.Nil, err
	}

	req := DemoTenant(opts.ChannelAddress)
	if opts.GoogleRefreshToken != "" {
		if v == nil {
			return uuid.Nil, errors.New("seed: a vault key is required to store the calendar credential")
		}
		sealed, err := v.SealToken(&oauth2.Token{RefreshToken: opts.GoogleRefreshToken, TokenType: "Bearer"})
		if err != nil {
			return uuid.Nil, fmt.Errorf("sealing calendar credential: %w", err)
		}
		req.CalendarProvider = tenant.CalendarGoogle
		req.CalendarCredential = sealed
	}

	prov := &tenant.Provisioner{DB: db, Logger: logger}
	t, err := prov.Provision(ctx, req)
	if errors.Is(err, tenant.ErrChannelTaken) {
		// Another seeder won the race.
		return boundTenant(ctx, db, opts.ChannelAddress)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("provisioning demo tenant: %w", err)
	}
	logger.Info("seed: provisioned demo tenant",
		"tenant_id", t.ID,
		"channel", opts.ChannelAddress,
		"calendar", t.CalendarProvider,
	)
	return t.ID, nil
}

func boundTenant(ctx context.Context, db DB, address string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.QueryRow(ctx,
		`SELECT tenant_id FROM channels WHERE address = $1 AND active`, address,
	).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("checking channel binding: %w", err)
	}
	return id, err
}

// DemoTenant returns the provisioning request of the demo barbershop.
func DemoTenant(channelAddress string) tenant.ProvisionRequest {
	return tenant.ProvisionRequest{
		Name:     "Barbería Demo",
		Timezone: "America/Bogota",
		Settings: tenant.Settings{
			BusinessHours: map[string]tenant.DayHours{
				"monday":    {Open: "09:00", Close: "19:00"},
				"tuesday":   {Open: "09:00", Close: "19:00"},
				"wednesday": {Open: "09:00", Close: "19:00"},
				"thursday":  {Open: "09:00", Close: "19:00"},
				"friday":    {Open: "09:00", Close: "20:00"},
				"saturday":  {Open: "08:00", Close: "16:00"},
				"sunday":    {Open: "closed"},
			},
			Services: []tenant.Service{
				{Name: "Corte de cabello", Price: 25000, DurationMinutes: 45},
				{Name: "Barba", Price: 15000, DurationMinutes: 30},
				{Name: "Corte y barba", Price: 35000, DurationMinutes: 60},
			},
			MaxConcurrent:          2,
			MinAdvanceHours:        1,
			DefaultDurationMinutes: 60,
			Address:                "Calle 85 #15-20, Bogotá",
			Staff:                  []string{"Carlos", "Andrés"},
			PaymentMethods:         []string{"Efectivo", "Nequi", "Tarjeta"},
			Promotions:             []string{"Martes de barba: 20% de descuento"},
			Currency:               "COP",
		},
		CalendarProvider: tenant.CalendarLocal,
		CalendarID:       "primary",
		ChannelAddress:   channelAddress,
	}
}
