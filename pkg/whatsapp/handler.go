package whatsapp

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/wisbric/slotowl/internal/httpserver"
	"github.com/wisbric/slotowl/internal/telemetry"
	"github.com/wisbric/slotowl/pkg/agent"
	"github.com/wisbric/slotowl/pkg/tenant"
)

// Claimer records processed message ids. The first caller for an id wins.
type Claimer interface {
	Claim(ctx context.Context, channel, messageID string) (bool, error)
}

// Resolver maps a channel address to its tenant.
type Resolver interface {
	Resolve(ctx context.Context, address string) (*tenant.Tenant, error)
}

// TurnRunner handles one inbound user message.
type TurnRunner interface {
	HandleMessage(ctx context.Context, turn agent.Turn) (string, error)
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	VerifyToken   string
	AppSecret     string
	Dedup         Claimer
	Tenants       Resolver
	Runner        TurnRunner
	MaxConcurrent int
	Logger        *slog.Logger
}

// Handler provides the WhatsApp webhook endpoints.
type Handler struct {
	verifyToken string
	appSecret   string
	dedup       Claimer
	tenants     Resolver
	runner      TurnRunner
	slots       *semaphore.Weighted
	inflight    sync.WaitGroup
	logger      *slog.Logger
}

// NewHandler creates a webhook Handler.
func NewHandler(opts HandlerOptions) *Handler {
	n := opts.MaxConcurrent
	if n <= 0 {
		n = 32
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifyToken: opts.VerifyToken,
		appSecret:   opts.AppSecret,
		dedup:       opts.Dedup,
		tenants:     opts.Tenants,
		runner:      opts.Runner,
		slots:       semaphore.NewWeighted(int64(n)),
		logger:      logger.With("component", "whatsapp"),
	}
}

// Routes returns a chi.Router with the webhook routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleVerify)
	r.With(VerifyMiddleware(h.appSecret)).Post("/", h.handleEvent)
	return r
}

// Wait blocks until all in-flight turns have finished.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")
	if mode == "" || token == "" || challenge == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "missing_parameter", "hub.mode, hub.verify_token and hub.challenge are required")
		return
	}
	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		h.logger.Warn("webhook verification failed", "mode", mode)
		httpserver.RespondError(w, http.StatusForbidden, "verification_failed", "verify token mismatch")
		return
	}

	h.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.logger.Warn("reading webhook body", "error", err)
		h.ack(w, KindOther, "invalid")
		return
	}

	ev, err := Parse(body)
	if err != nil {
		h.logger.Warn("dropping malformed webhook payload", "error", err, "body_len", len(body))
		h.ack(w, KindOther, "invalid")
		return
	}

	switch {
	case ev.Kind == KindStatus:
		h.ack(w, KindStatus, "ignored")
		return
	case ev.Kind != KindMessage:
		h.logger.Debug("ignoring webhook change without messages")
		h.ack(w, KindOther, "ignored")
		return
	case !ev.IsText():
		h.logger.Info("dropping non-text message", "channel", ev.Channel, "message_id", ev.MessageID, "type", ev.Type)
		h.ack(w, KindMessage, "unsupported")
		return
	}

	log := h.logger.With("channel", ev.Channel, "message_id", ev.MessageID)
	ctx := r.Context()

	// Nothing is claimed until the turn is certain to run, so a message
	// refused here is processed when the provider redelivers it.
	t, err := h.tenants.Resolve(ctx, ev.Channel)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			log.Info("no active tenant for channel, dropping message")
			h.ack(w, KindMessage, "unknown_tenant")
			return
		}
		log.Error("resolving tenant", "error", err)
		h.retryLater(w, "error")
		return
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		log.Warn("turn pool saturated, asking for redelivery", "tenant_id", t.ID)
		h.retryLater(w, "saturated")
		return
	}

	fresh, err := h.dedup.Claim(ctx, ev.Channel, ev.MessageID)
	if err != nil {
		h.slots.Release(1)
		log.Error("claiming message", "error", err)
		h.retryLater(w, "error")
		return
	}
	if !fresh {
		h.slots.Release(1)
		log.Info("duplicate delivery skipped")
		h.ack(w, KindMessage, "duplicate")
		return
	}

	turn := agent.Turn{
		Tenant:    t,
		UserID:    ev.From,
		Channel:   ev.Channel,
		MessageID: ev.MessageID,
		Text:      ev.Text,
	}
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		defer h.slots.Release(1)
		if _, err := h.runner.HandleMessage(context.WithoutCancel(ctx), turn); err != nil {
			log.Error("running agent turn", "error", err, "tenant_id", t.ID)
		}
	}()

	h.ack(w, KindMessage, "accepted")
}

// retryLater answers 503 so the provider redelivers a message that was not claimed.
func (h *Handler) retryLater(w http.ResponseWriter, outcome string) {
	telemetry.WebhookEventsTotal.WithLabelValues(KindMessage, outcome).Inc()
	httpserver.RespondError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "message not accepted, retry later")
}

func (h *Handler) ack(w http.ResponseWriter, kind, outcome string) {
	telemetry.WebhookEventsTotal.WithLabelValues(kind, outcome).Inc()
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
