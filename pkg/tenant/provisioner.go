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

// ErrChannelTaken is returned when a concurrent provisioning bound the same
// channel address first.
var ErrChannelTaken = errors.New("tenant: channel address already bound")

// TxBeginner starts a transaction; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ProvisionRequest describes a tenant and its channel binding.
type ProvisionRequest struct {
	Name               string
	Timezone           string
	Settings           Settings
	PromptTemplate     string
	CalendarProvider   string
	CalendarID         string
	CalendarCredential string // vault ciphertext
	ChannelAddress     string
}

// Provisioner creates tenants and binds their channel address. It backs the
// seed mode; regular tenant management lives in the admin surface.
type Provisioner struct {
	DB     TxBeginner
	Logger *slog.Logger
}

// Provision creates the tenant and moves the channel address to it. Any
// previous binding of the address is deactivated in the same transaction so
// that an address never has two active tenants.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*Tenant, error) {
	if err := req.Settings.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", req.Timezone, err)
	}
	if req.CalendarProvider == "" {
		req.CalendarProvider = CalendarLocal
	}
	if req.CalendarID == "" {
		req.CalendarID = "primary"
	}

	settings, err := json.Marshal(req.Settings)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}

	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t := &Tenant{
		ID:                 uuid.New(),
		Name:               req.Name,
		Active:             true,
		Timezone:           req.Timezone,
		Settings:           req.Settings,
		PromptTemplate:     req.PromptTemplate,
		CalendarProvider:   req.CalendarProvider,
		CalendarID:         req.CalendarID,
		CalendarCredential: req.CalendarCredential,
		Loc:                loc,
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO tenants (id, name, active, timezone, settings, prompt_template,
		                      calendar_provider, calendar_id, calendar_credential)
		 VALUES ($1, $2, true, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.Timezone, settings, t.PromptTemplate,
		t.CalendarProvider, t.CalendarID, t.CalendarCredential,
	); err != nil {
		return nil, fmt.Errorf("inserting tenant: %w", err)
	}

	if req.ChannelAddress != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE channels SET active = false WHERE address = $1 AND active`,
			req.ChannelAddress,
		); err != nil {
			return nil, fmt.Errorf("releasing channel %s: %w", req.ChannelAddress, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO channels (address, tenant_id, active) VALUES ($1, $2, true)`,
			req.ChannelAddress, t.ID,
		); err != nil {
			if platform.IsUniqueViolation(err) {
				return nil, fmt.Errorf("binding channel %s: %w", req.ChannelAddress, ErrChannelTaken)
			}
			return nil, fmt.Errorf("binding channel %s: %w", req.ChannelAddress, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing tenant: %w", err)
	}

	p.Logger.Info("tenant provisioned",
		"tenant_id", t.ID,
		"name", t.Name,
		"channel", req.ChannelAddress,
	)
	return t, nil
}
