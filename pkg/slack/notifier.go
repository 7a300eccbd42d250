// Package slack posts operator alerts to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/wisbric/slotowl/pkg/tenant"
)

// Notifier sends messages to Slack channels.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Slack Notifier. If botToken is empty, the notifier
// will be a noop (logging only).
func NewNotifier(botToken, channel string, logger *slog.Logger, opts ...goslack.Option) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken, opts...)
	}
	return &Notifier{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// IsEnabled returns true if the notifier has a valid Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// PostAlert sends an alert to the configured channel.
// Returns the channel ID and message timestamp.
func (n *Notifier) PostAlert(ctx context.Context, alert AlertInfo) (channelID, ts string, err error) {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping alert post",
			"title", alert.Title,
			"tenant_id", alert.TenantID,
		)
		return "", "", nil
	}

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(AlertBlocks(alert)...),
		goslack.MsgOptionText(headline(alert), false),
	}

	channelID, ts, err = n.client.PostMessageContext(ctx, n.channel, opts...)
	if err != nil {
		return "", "", fmt.Errorf("posting alert to slack: %w", err)
	}

	n.logger.Info("posted alert to slack",
		"tenant_id", alert.TenantID,
		"channel", channelID,
		"ts", ts,
	)
	return channelID, ts, nil
}

// DefaultAlertInterval is the minimum time between two alerts for the same
// tenant and condition.
const DefaultAlertInterval = 15 * time.Minute

// Alerter turns calendar failures into operator alerts. Repeated alerts for
// a tenant are suppressed for the configured interval.
type Alerter struct {
	notifier *Notifier
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewAlerter creates an Alerter. A zero interval uses DefaultAlertInterval.
func NewAlerter(notifier *Notifier, interval time.Duration, logger *slog.Logger) *Alerter {
	if interval <= 0 {
		interval = DefaultAlertInterval
	}
	return &Alerter{
		notifier: notifier,
		interval: interval,
		timeout:  5 * time.Second,
		now:      time.Now,
		logger:   logger,
		last:     make(map[string]time.Time),
	}
}

// CalendarUnavailable reports a tenant whose calendar credential no longer
// works.
func (a *Alerter) CalendarUnavailable(ctx context.Context, t *tenant.Tenant, err error) {
	if !a.allow("calendar:" + t.ID.String()) {
		return
	}

	alert := AlertInfo{
		Title:      "Calendar unavailable",
		Severity:   "critical",
		TenantID:   t.ID.String(),
		TenantName: t.Name,
		Component:  "calendar/" + t.CalendarProvider,
		Detail:     err.Error(),
		Action:     "Re-authorize the tenant's calendar credential. Bookings fail until it is fixed.",
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if _, _, perr := a.notifier.PostAlert(ctx, alert); perr != nil {
		a.logger.Error("sending operator alert", "error", perr, "tenant_id", t.ID)
	}
}

func (a *Alerter) allow(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.last[key]; ok && now.Sub(last) < a.interval {
		return false
	}
	a.last[key] = now
	return true
}
