// Package memory is an in-process Store backend (spec §4.5): maps guarded by
// a mutex, suitable for embedding and for tests that don't need a live
// Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minisource/evertask/internal/models"
	"github.com/minisource/evertask/internal/store"
)

// Store is a thread-safe, process-local implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	tasks         map[uuid.UUID]*models.Task
	taskKeyIndex  map[string]uuid.UUID
	statusAudits  map[uuid.UUID][]models.StatusAudit
	runAudits     map[uuid.UUID][]models.RunAudit
	logs          map[uuid.UUID][]models.ExecutionLog
	history       map[uuid.UUID]map[string]*models.RunHistory // taskID -> "YYYY-MM-DD" -> row
}

// New constructs an empty in-process store.
func New() *Store {
	return &Store{
		tasks:        make(map[uuid.UUID]*models.Task),
		taskKeyIndex: make(map[string]uuid.UUID),
		statusAudits: make(map[uuid.UUID][]models.StatusAudit),
		runAudits:    make(map[uuid.UUID][]models.RunAudit),
		logs:         make(map[uuid.UUID][]models.ExecutionLog),
		history:      make(map[uuid.UUID]map[string]*models.RunHistory),
	}
}

func clone(t *models.Task) *models.Task {
	cp := *t
	return &cp
}

func (s *Store) Persist(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = clone(task)
	if task.TaskKey != "" {
		s.taskKeyIndex[task.TaskKey] = task.ID
	}
	return nil
}

func (s *Store) UpdateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return store.ErrNotFound
	}
	s.tasks[task.ID] = clone(task)
	if task.TaskKey != "" {
		s.taskKeyIndex[task.TaskKey] = task.ID
	}
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(t), nil
}

func (s *Store) GetByTaskKey(_ context.Context, taskKey string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.taskKeyIndex[taskKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(s.tasks[id]), nil
}

func (s *Store) GetPendingTasks(_ context.Context) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Task
	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			out = append(out, *clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUtc.Before(out[j].CreatedAtUtc) })
	return out, nil
}

func (s *Store) GetDueRecurringTasks(_ context.Context, before time.Time) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Task
	for _, t := range s.tasks {
		if !t.IsRecurring || t.Paused || t.Status.IsTerminal() {
			continue
		}
		if t.NextRunUtc != nil && !t.NextRunUtc.After(before) {
			out = append(out, *clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunUtc.Before(*out[j].NextRunUtc) })
	return out, nil
}

func (s *Store) SetStatus(_ context.Context, id uuid.UUID, status models.Status, exception string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	t.Exception = exception
	s.statusAudits[id] = append(s.statusAudits[id], models.StatusAudit{
		ID:           uuid.New(),
		TaskID:       id,
		UpdatedAtUtc: timeNowUTC(),
		NewStatus:    status,
		Exception:    exception,
	})
	return nil
}

func (s *Store) SetCancelledByUser(ctx context.Context, id uuid.UUID) error {
	return s.SetStatus(ctx, id, models.StatusCancelled, "cancelled by caller")
}

func (s *Store) SetPaused(_ context.Context, id uuid.UUID, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Paused = paused
	return nil
}

func (s *Store) RecordRun(_ context.Context, run *models.RunAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[run.TaskID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *run
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	s.runAudits[run.TaskID] = append(s.runAudits[run.TaskID], cp)

	t.CurrentRunCount++
	last := cp.ExecutedAtUtc
	t.LastExecutionUtc = &last
	t.ExecutionTimeMs = cp.ExecutionTimeMs
	switch cp.Status {
	case models.RunStatusCompleted:
		t.ConsecutiveFailures = 0
		t.FailureBackoffUntil = nil
	case models.RunStatusFailed, models.RunStatusTimeout:
		t.ConsecutiveFailures++
	}
	return nil
}

func (s *Store) AppendLogs(_ context.Context, logs []models.ExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range logs {
		cp := l
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		s.logs[l.TaskID] = append(s.logs[l.TaskID], cp)
	}
	return nil
}

func (s *Store) GetDetail(_ context.Context, id uuid.UUID) (*models.TaskDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &models.TaskDetail{
		Task:          *clone(t),
		StatusAudits:  append([]models.StatusAudit(nil), s.statusAudits[id]...),
		RunAudits:     append([]models.RunAudit(nil), s.runAudits[id]...),
		ExecutionLogs: append([]models.ExecutionLog(nil), s.logs[id]...),
	}, nil
}

func (s *Store) UpsertDailyHistory(_ context.Context, taskID uuid.UUID, day time.Time, success bool, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dateOnly := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	key := dateOnly.Format("2006-01-02")

	byDay, ok := s.history[taskID]
	if !ok {
		byDay = make(map[string]*models.RunHistory)
		s.history[taskID] = byDay
	}
	row, ok := byDay[key]
	if !ok {
		row = &models.RunHistory{ID: uuid.New(), TaskID: taskID, Date: dateOnly}
		byDay[key] = row
	}
	if success {
		row.SuccessCount++
		row.TotalDuration += durationMs
		if row.MinDuration == 0 || durationMs < row.MinDuration {
			row.MinDuration = durationMs
		}
		if durationMs > row.MaxDuration {
			row.MaxDuration = durationMs
		}
	} else {
		row.FailureCount++
	}
	return nil
}

func (s *Store) CleanupOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, t := range s.tasks {
		if !t.Status.IsTerminal() {
			continue
		}
		audits := s.statusAudits[id]
		if len(audits) == 0 {
			continue
		}
		// Preserve the last (most recent) terminal audit; trim the rest if stale.
		last := audits[len(audits)-1]
		if last.UpdatedAtUtc.After(cutoff) {
			continue
		}
		kept := []models.StatusAudit{last}
		removed += int64(len(audits) - 1)
		s.statusAudits[id] = kept

		var keptLogs []models.ExecutionLog
		for _, l := range s.logs[id] {
			if l.TimestampUtc.After(cutoff) {
				keptLogs = append(keptLogs, l)
			} else {
				removed++
			}
		}
		s.logs[id] = keptLogs
	}
	return removed, nil
}

// timeNowUTC is a seam so tests could substitute a fixed clock if ever
// needed; production always calls time.Now().UTC().
var timeNowUTC = func() time.Time { return time.Now().UTC() }
