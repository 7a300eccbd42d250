// Package audit records every tool invocation the agent makes.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wisbric/slotowl/internal/platform"
)

// Entry is a single tool invocation.
type Entry struct {
	TenantID  uuid.UUID
	UserID    string
	Tool      string
	Arguments json.RawMessage
	Result    string
	IsError   bool
	Duration  time.Duration
	CreatedAt time.Time
}

// Writer is an async, buffered audit log writer.
// Entries are sent to an internal channel and flushed by a background goroutine.
type Writer struct {
	db      platform.DBTX
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

const (
	bufferSize     = 256
	flushInterval  = 2 * time.Second
	flushBatch     = 32
	maxResultChars = 2000
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(db platform.DBTX, logger *slog.Logger) *Writer {
	return &Writer{
		db:      db,
		logger:  logger.With("component", "audit"),
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes entries to the database.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close flushes pending entries and stops the writer. Entries logged after
// Close are discarded.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// Log enqueues an entry for async writing. It never blocks the caller;
// if the buffer is full the entry is dropped and a warning is logged.
func (w *Writer) Log(entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"tool", entry.Tool, "tenant_id", entry.TenantID)
	}
}

// Purge deletes entries created before cutoff and returns how many were removed.
func (w *Writer) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := w.db.Exec(ctx, `DELETE FROM tool_audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging tool audit log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// run is the background loop that drains the entries channel. Cancelling
// ctx flushes the pending batch early; the loop itself ends only when Close
// closes the channel, so turns still finishing during shutdown are recorded.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	done := ctx.Done()
	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-done:
			done = nil
			flush()
		}
	}
}

// flush writes a batch of entries to the database.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		args := e.Arguments
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		if _, err := w.db.Exec(ctx,
			`INSERT INTO tool_audit_log (tenant_id, user_id, tool, arguments, result, is_error, duration_ms, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.TenantID, e.UserID, e.Tool, []byte(args), truncate(e.Result, maxResultChars), e.IsError,
			e.Duration.Milliseconds(), e.CreatedAt,
		); err != nil {
			w.logger.Error("writing audit log entry", "error", err, "tool", e.Tool, "tenant_id", e.TenantID)
		}
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
