// Package store defines the persistence contract of the EverTask execution
// engine (spec §4.5) and its reference backends (store/memory, store/postgres).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/minisource/evertask/internal/models"
)

// ErrNotFound is returned when a lookup by ID/key finds nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence boundary every component upstream of it (the
// dispatcher, the worker pool, the worker service) depends on only through
// this interface — never through a concrete backend.
type Store interface {
	// Persist inserts a brand-new task row under the ID the caller already
	// set on task.
	Persist(ctx context.Context, task *models.Task) error

	// UpdateTask replaces mutable scheduling fields (NextRunUtc,
	// CurrentRunCount, Paused, ...) on an existing task.
	UpdateTask(ctx context.Context, task *models.Task) error

	// GetByID retrieves a single task.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)

	// GetByTaskKey looks up a task by its idempotency key, for dedupe
	// (spec §4.2's "look up by taskKey before persisting").
	GetByTaskKey(ctx context.Context, taskKey string) (*models.Task, error)

	// GetPendingTasks returns every task not yet in a terminal state, used
	// by the worker service's boot recovery (spec §4.8).
	GetPendingTasks(ctx context.Context) ([]models.Task, error)

	// GetDueRecurringTasks returns recurring, non-paused tasks whose
	// NextRunUtc is at or before `before`, ordered by NextRunUtc. Boot
	// recovery does not call it; it uses GetPendingTasks.
	GetDueRecurringTasks(ctx context.Context, before time.Time) ([]models.Task, error)

	// SetStatus records a status transition and appends a StatusAudit row
	// atomically.
	SetStatus(ctx context.Context, id uuid.UUID, status models.Status, exception string) error

	// SetCancelledByUser marks a task cancelled, distinguishing a
	// user-requested cancellation from any other terminal transition.
	SetCancelledByUser(ctx context.Context, id uuid.UUID) error

	// SetPaused flips a recurring task's Paused flag without disturbing its
	// schedule state (SPEC_FULL supplement #2).
	SetPaused(ctx context.Context, id uuid.UUID, paused bool) error

	// RecordRun appends a RunAudit row for one handler invocation attempt
	// and updates the owning task's run counters (CurrentRunCount,
	// LastExecutionUtc, ExecutionTimeMs, ConsecutiveFailures).
	RecordRun(ctx context.Context, run *models.RunAudit) error

	// AppendLogs appends a batch of execution log rows for a task (§4.6).
	AppendLogs(ctx context.Context, logs []models.ExecutionLog) error

	// GetDetail bundles a task with its audit trail and logs, for the
	// monitoring boundary.
	GetDetail(ctx context.Context, id uuid.UUID) (*models.TaskDetail, error)

	// UpsertDailyHistory folds one run's outcome into the task's daily
	// rollup row (SPEC_FULL supplement #3).
	UpsertDailyHistory(ctx context.Context, taskID uuid.UUID, day time.Time, success bool, durationMs int64) error

	// CleanupOlderThan deletes terminal audit/log rows older than the
	// cutoff, preserving the last terminal StatusAudit per task (SPEC_FULL
	// supplement #5, spec §4.5's retention invariant).
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
