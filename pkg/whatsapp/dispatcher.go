package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/wisbric/slotowl/internal/telemetry"
)

// Sender posts a single text message.
type Sender interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Timeout    time.Duration // per part
	RatePerSec float64       // parts per second, 0 means unlimited
	MaxLength  int
	Logger     *slog.Logger
}

// Dispatcher formats, splits and sends replies.
type Dispatcher struct {
	sender    Sender
	limiter   *rate.Limiter
	timeout   time.Duration
	maxLength int
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sender Sender, opts DispatcherOptions) *Dispatcher {
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = MaxMessageLength
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		sender:    sender,
		limiter:   rate.NewLimiter(limit, 1),
		timeout:   opts.Timeout,
		maxLength: opts.MaxLength,
		logger:    opts.Logger.With("component", "dispatcher"),
	}
}

// Send formats text and posts it to the user in order, one part at a time.
// It stops at the first failed part.
func (d *Dispatcher) Send(ctx context.Context, channel, to, text string) error {
	parts := Split(Format(text), d.maxLength)
	for i, part := range parts {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for send rate: %w", err)
		}
		if err := d.sendPart(ctx, channel, to, part); err != nil {
			telemetry.OutboundMessagesTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("sending part %d/%d: %w", i+1, len(parts), err)
		}
		telemetry.OutboundMessagesTotal.WithLabelValues("sent").Inc()
	}
	return nil
}

func (d *Dispatcher) sendPart(ctx context.Context, channel, to, part string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.sender.SendText(ctx, channel, to, part)
	return err
}

// Deliver sends text and logs any failure.
func (d *Dispatcher) Deliver(ctx context.Context, channel, to, text string) {
	if err := d.Send(ctx, channel, to, text); err != nil {
		d.logger.Error("delivering reply", "error", err, "channel", channel, "reply_len", len(text))
	}
}
