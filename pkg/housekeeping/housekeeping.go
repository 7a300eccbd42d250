// Package housekeeping runs cron-scheduled retention sweeps over the
// service's append-only tables.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/wisbric/slotowl/internal/keylock"
	"github.com/wisbric/slotowl/internal/telemetry"
)

// Purger deletes records older than a cutoff.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// Task is a retention rule for one table.
type Task struct {
	Table     string
	Retention time.Duration
	Purger    Purger
}

// Worker is a background worker that runs the retention tasks on a cron
// schedule.
type Worker struct {
	schedule string
	tasks    []Task
	locker   keylock.Locker
	now      func() time.Time
	logger   *slog.Logger
}

// NewWorker creates a Worker. schedule is a five-field cron expression.
// A nil locker runs the sweep without cross-replica coordination.
func NewWorker(schedule string, tasks []Task, locker keylock.Locker, logger *slog.Logger) (*Worker, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid housekeeping schedule %q", schedule)
	}
	return &Worker{
		schedule: schedule,
		tasks:    tasks,
		locker:   locker,
		now:      time.Now,
		logger:   logger.With("component", "housekeeping"),
	}, nil
}

// Run starts the worker loop. It blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("housekeeping worker started", "schedule", w.schedule, "tasks", len(w.tasks))

	for {
		next, err := w.next()
		if err != nil {
			return err
		}
		w.logger.Debug("next housekeeping run", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("housekeeping worker stopped")
			return nil
		case <-timer.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("housekeeping run", "error", err)
			}
		}
	}
}

func (w *Worker) next() (time.Time, error) {
	next, err := gronx.NextTickAfter(w.schedule, w.now(), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("computing next housekeeping run: %w", err)
	}
	return next, nil
}

// RunOnce executes every task once. A failing task does not stop the
// others; their errors are joined.
func (w *Worker) RunOnce(ctx context.Context) error {
	if w.locker != nil {
		unlock, err := w.locker.Lock(ctx, "housekeeping")
		if err != nil {
			return fmt.Errorf("acquiring housekeeping lock: %w", err)
		}
		defer unlock()
	}

	now := w.now()
	var errs []error
	for _, t := range w.tasks {
		if t.Retention <= 0 {
			continue
		}
		cutoff := now.Add(-t.Retention)
		n, err := t.Purger.Purge(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("purging %s: %w", t.Table, err))
			continue
		}
		telemetry.HousekeepingDeletedTotal.WithLabelValues(t.Table).Add(float64(n))
		w.logger.Info("purged old rows", "table", t.Table, "deleted", n, "cutoff", cutoff)
	}
	return errors.Join(errs...)
}
