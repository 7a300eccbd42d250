package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/slotowl/internal/platform"
)

// PostgresStore persists processed message records. A record, once written,
// is never overwritten.
type PostgresStore struct {
	db platform.DBTX
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db platform.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Claim implements Claimer.
func (s *PostgresStore) Claim(ctx context.Context, channel, messageID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO processed_messages (channel, message_id, processed_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (channel, message_id) DO NOTHING`,
		channel, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("inserting processed message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Purge deletes records processed before cutoff and returns the number removed.
func (s *PostgresStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM processed_messages WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging processed messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
