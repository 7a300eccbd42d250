package conversation

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DB is the pgx surface PostgresStore needs; *pgxpool.Pool satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps threads in conversation_messages. Each append trims
// the thread to cap inside the same transaction.
type PostgresStore struct {
	db  DB
	cap int
}

// NewPostgresStore creates a PostgresStore retaining capacity messages per thread.
func NewPostgresStore(db DB, capacity int) *PostgresStore {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &PostgresStore{db: db, cap: capacity}
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, tenantID uuid.UUID, userID, role, content string) error {
	return s.inTx(ctx, tenantID, userID, func(tx pgx.Tx) error {
		return insertMessage(ctx, tx, tenantID, userID, role, content)
	})
}

// AppendTurn implements Store.
func (s *PostgresStore) AppendTurn(ctx context.Context, tenantID uuid.UUID, userID, userText, reply string) error {
	return s.inTx(ctx, tenantID, userID, func(tx pgx.Tx) error {
		if err := insertMessage(ctx, tx, tenantID, userID, RoleUser, userText); err != nil {
			return err
		}
		return insertMessage(ctx, tx, tenantID, userID, RoleAssistant, reply)
	})
}

func (s *PostgresStore) inTx(ctx context.Context, tenantID uuid.UUID, userID string, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	// Keep only the newest cap rows of the thread.
	if _, err := tx.Exec(ctx,
		`DELETE FROM conversation_messages
		 WHERE tenant_id = $1 AND user_id = $2 AND id NOT IN (
		     SELECT id FROM conversation_messages
		     WHERE tenant_id = $1 AND user_id = $2
		     ORDER BY id DESC
		     LIMIT $3
		 )`,
		tenantID, userID, s.cap,
	); err != nil {
		return fmt.Errorf("trimming conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, userID, role, content string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_messages (tenant_id, user_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		tenantID, userID, role, content,
	); err != nil {
		return fmt.Errorf("inserting %s message: %w", role, err)
	}
	return nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, tenantID uuid.UUID, userID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > s.cap {
		limit = s.cap
	}

	rows, err := s.db.Query(ctx,
		`SELECT role, content, created_at
		 FROM conversation_messages
		 WHERE tenant_id = $1 AND user_id = $2
		 ORDER BY id DESC
		 LIMIT $3`,
		tenantID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.Role, &m.Content, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	slices.Reverse(msgs)
	return msgs, nil
}
