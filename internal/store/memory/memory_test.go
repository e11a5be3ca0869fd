package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minisource/evertask/internal/models"
	"github.com/minisource/evertask/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask() *models.Task {
	return &models.Task{
		ID:          uuid.New(),
		RequestType: "email.send",
		HandlerType: "email.SendHandler",
		Status:      models.StatusWaitingQueue,
		QueueName:   "default",
		CreatedAtUtc: time.Now().UTC(),
	}
}

func TestStore_PersistAndGetByID(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask()

	require.NoError(t, s.Persist(ctx, task))

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.RequestType, got.RequestType)

	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_GetByTaskKeyDedupe(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask()
	task.TaskKey = "invoice-2026-01"
	require.NoError(t, s.Persist(ctx, task))

	got, err := s.GetByTaskKey(ctx, "invoice-2026-01")
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
}

func TestStore_SetStatusRecordsAudit(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask()
	require.NoError(t, s.Persist(ctx, task))

	require.NoError(t, s.SetStatus(ctx, task.ID, models.StatusInProgress, ""))
	require.NoError(t, s.SetStatus(ctx, task.ID, models.StatusCompleted, ""))

	detail, err := s.GetDetail(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, detail.Task.Status)
	require.Len(t, detail.StatusAudits, 2)
	assert.Equal(t, models.StatusInProgress, detail.StatusAudits[0].NewStatus)
	assert.Equal(t, models.StatusCompleted, detail.StatusAudits[1].NewStatus)
}

func TestStore_RecordRunUpdatesCounters(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask()
	require.NoError(t, s.Persist(ctx, task))

	require.NoError(t, s.RecordRun(ctx, &models.RunAudit{
		TaskID:          task.ID,
		ExecutedAtUtc:   time.Now().UTC(),
		ExecutionTimeMs: 120,
		Status:          models.RunStatusFailed,
	}))
	require.NoError(t, s.RecordRun(ctx, &models.RunAudit{
		TaskID:          task.ID,
		ExecutedAtUtc:   time.Now().UTC(),
		ExecutionTimeMs: 80,
		Status:          models.RunStatusFailed,
	}))

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CurrentRunCount)
	assert.Equal(t, 2, got.ConsecutiveFailures)

	require.NoError(t, s.RecordRun(ctx, &models.RunAudit{
		TaskID:          task.ID,
		ExecutedAtUtc:   time.Now().UTC(),
		ExecutionTimeMs: 50,
		Status:          models.RunStatusCompleted,
	}))
	got, err = s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveFailures, "a completed run resets the failure streak")
}

func TestStore_GetPendingTasksExcludesTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	pending := newTask()
	done := newTask()
	done.Status = models.StatusCompleted
	require.NoError(t, s.Persist(ctx, pending))
	require.NoError(t, s.Persist(ctx, done))

	got, err := s.GetPendingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)
}

func TestStore_GetDueRecurringTasksSkipsPaused(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	due := newTask()
	due.IsRecurring = true
	due.NextRunUtc = &past

	paused := newTask()
	paused.IsRecurring = true
	paused.Paused = true
	paused.NextRunUtc = &past

	require.NoError(t, s.Persist(ctx, due))
	require.NoError(t, s.Persist(ctx, paused))

	got, err := s.GetDueRecurringTasks(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestStore_UpsertDailyHistory(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask()
	require.NoError(t, s.Persist(ctx, task))

	day := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertDailyHistory(ctx, task.ID, day, true, 100))
	require.NoError(t, s.UpsertDailyHistory(ctx, task.ID, day, true, 300))
	require.NoError(t, s.UpsertDailyHistory(ctx, task.ID, day, false, 0))

	row := s.history[task.ID]["2026-01-15"]
	require.NotNil(t, row)
	assert.Equal(t, int64(2), row.SuccessCount)
	assert.Equal(t, int64(1), row.FailureCount)
	assert.Equal(t, int64(100), row.MinDuration)
	assert.Equal(t, int64(300), row.MaxDuration)
}

func TestStore_CleanupPreservesLastTerminalAudit(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask()
	require.NoError(t, s.Persist(ctx, task))
	require.NoError(t, s.SetStatus(ctx, task.ID, models.StatusCompleted, ""))

	for i := range s.statusAudits[task.ID] {
		s.statusAudits[task.ID][i].UpdatedAtUtc = time.Now().UTC().Add(-48 * time.Hour)
	}

	removed, err := s.CleanupOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	detail, err := s.GetDetail(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, detail.StatusAudits, 1, "the last terminal audit must survive cleanup")
}
