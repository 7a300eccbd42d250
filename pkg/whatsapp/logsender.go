package whatsapp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"

	"github.com/wisbric/slotowl/internal/telemetry"
)

// LogSender is a Sender for local development: it logs each message instead
// of calling the Graph API.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "whatsapp", "sender", "log")}
}

// SendText implements Sender. It returns a synthetic message id.
func (s *LogSender) SendText(_ context.Context, phoneNumberID, to, body string) (string, error) {
	var b [8]byte
	_, _ = rand.Read(b[:])
	id := "wamid.dev_" + hex.EncodeToString(b[:])

	s.logger.Info("message not sent (dev mode)",
		"channel", phoneNumberID,
		"user_hash", telemetry.HashID(to),
		"message_id", id,
		"body", body,
	)
	return id, nil
}
