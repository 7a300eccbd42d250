package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/wisbric/slotowl/internal/platform"
	"github.com/wisbric/slotowl/pkg/tenant"
)

// googleScope grants read/write access to events.
const googleScope = "https://www.googleapis.com/auth/calendar.events"

// TokenSealer seals and opens OAuth2 tokens. *vault.Vault satisfies it.
type TokenSealer interface {
	SealToken(tok *oauth2.Token) (string, error)
	OpenToken(ciphertext string) (*oauth2.Token, error)
}

// CredentialStore persists a re-sealed credential. *tenant.Store satisfies it.
type CredentialStore interface {
	UpdateCredential(ctx context.Context, id uuid.UUID, ciphertext string) error
}

// Options configures TenantCalendars.
type Options struct {
	DB          platform.DBTX
	Sealer      TokenSealer
	Credentials CredentialStore

	ClientID     string
	ClientSecret string
	// TokenURL overrides the Google token endpoint.
	TokenURL string
	APIURL   string

	Transport http.RoundTripper
	Timeout   time.Duration
	Logger    *slog.Logger
}

// TenantCalendars opens the calendar a tenant is configured with: Google
// Calendar through the tenant's vault-sealed OAuth2 token, or the local
// appointments table.
type TenantCalendars struct {
	opts   Options
	oauth  oauth2.Config
	base   http.RoundTripper
	logger *slog.Logger
}

// NewTenantCalendars creates a TenantCalendars provider.
func NewTenantCalendars(opts Options) *TenantCalendars {
	endpoint := endpoints.Google
	if opts.TokenURL != "" {
		endpoint.TokenURL = opts.TokenURL
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TenantCalendars{
		opts: opts,
		oauth: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{googleScope},
		},
		base:   otelhttp.NewTransport(base),
		logger: logger.With("component", "calendar"),
	}
}

// ForTenant implements Provider. Credential problems are returned wrapping
// ErrUnauthorized or vault.ErrDecrypt.
func (p *TenantCalendars) ForTenant(_ context.Context, t *tenant.Tenant) (Calendar, error) {
	switch t.CalendarProvider {
	case tenant.CalendarLocal, "":
		if p.opts.DB == nil {
			return nil, errors.New("calendar: local provider has no database")
		}
		return NewLocal(p.opts.DB, t.ID), nil

	case tenant.CalendarGoogle:
		if t.CalendarCredential == "" {
			return nil, fmt.Errorf("%w: tenant %s has no calendar credential", ErrUnauthorized, t.ID)
		}
		if p.opts.Sealer == nil {
			return nil, fmt.Errorf("%w: no vault configured", ErrUnauthorized)
		}
		tok, err := p.opts.Sealer.OpenToken(t.CalendarCredential)
		if err != nil {
			return nil, fmt.Errorf("opening calendar credential: %w", err)
		}

		// Refreshes outlive any single request; they get their own client.
		refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
			Transport: p.base,
			Timeout:   p.opts.Timeout,
		})
		src := &persistingSource{
			base:     p.oauth.TokenSource(refreshCtx, tok),
			last:     tok.AccessToken,
			tenantID: t.ID,
			sealer:   p.opts.Sealer,
			store:    p.opts.Credentials,
			logger:   p.logger,
		}

		client := &http.Client{
			Transport: &oauth2.Transport{Source: src, Base: p.base},
			Timeout:   p.opts.Timeout,
		}
		return NewGoogle(client, p.opts.APIURL, t.CalendarID, t.Location()), nil

	default:
		return nil, fmt.Errorf("calendar: unknown provider %q for tenant %s", t.CalendarProvider, t.ID)
	}
}

// persistingSource writes refreshed tokens back to the tenant row, sealed.
type persistingSource struct {
	base     oauth2.TokenSource
	tenantID uuid.UUID
	sealer   TokenSealer
	store    CredentialStore
	logger   *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last || s.store == nil {
		return tok, nil
	}
	s.last = tok.AccessToken

	sealed, err := s.sealer.SealToken(tok)
	if err != nil {
		s.logger.Error("sealing refreshed token", "tenant_id", s.tenantID, "error", err)
		return tok, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateCredential(ctx, s.tenantID, sealed); err != nil {
		s.logger.Error("persisting refreshed token", "tenant_id", s.tenantID, "error", err)
		return tok, nil
	}
	s.logger.Info("calendar token refreshed", "tenant_id", s.tenantID)
	return tok, nil
}
