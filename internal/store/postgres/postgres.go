// Package postgres is the relational Store backend (spec §4.5, component B),
// adapted from the teacher's job/execution/history repositories into a
// single GORM-backed implementation of store.Store.
package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/minisource/evertask/internal/models"
	"github.com/minisource/evertask/internal/store"
)

// Store is the Postgres-backed implementation of store.Store.
type Store struct {
	db *gorm.DB
}

// New wraps an already-connected *gorm.DB. Migration is the caller's
// responsibility (see database.AutoMigrate), mirroring the teacher's
// `internal/database/postgres.go` split between connect and migrate.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Persist(ctx context.Context, task *models.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	return s.db.WithContext(ctx).Save(task).Error
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *Store) GetByTaskKey(ctx context.Context, taskKey string) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).First(&task, "task_key = ?", taskKey).Error
	if err == gorm.ErrRecordNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *Store) GetPendingTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", terminalStatuses()).
		Order("created_at_utc ASC").
		Find(&tasks).Error
	return tasks, err
}

func (s *Store) GetDueRecurringTasks(ctx context.Context, before time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("is_recurring = ?", true).
		Where("paused = ?", false).
		Where("status NOT IN ?", terminalStatuses()).
		Where("next_run_utc <= ?", before).
		Order("next_run_utc ASC").
		Find(&tasks).Error
	return tasks, err
}

func terminalStatuses() []models.Status {
	return []models.Status{
		models.StatusCompleted, models.StatusFailed,
		models.StatusCancelled, models.StatusServiceStopped,
	}
}

func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status models.Status, exception string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Task{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"status": status, "exception": exception}).Error; err != nil {
			return err
		}
		return tx.Create(&models.StatusAudit{
			ID:           uuid.New(),
			TaskID:       id,
			UpdatedAtUtc: time.Now().UTC(),
			NewStatus:    status,
			Exception:    exception,
		}).Error
	})
}

func (s *Store) SetCancelledByUser(ctx context.Context, id uuid.UUID) error {
	return s.SetStatus(ctx, id, models.StatusCancelled, "cancelled by caller")
}

func (s *Store) SetPaused(ctx context.Context, id uuid.UUID, paused bool) error {
	return s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Update("paused", paused).Error
}

func (s *Store) RecordRun(ctx context.Context, run *models.RunAudit) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"current_run_count": gorm.Expr("current_run_count + 1"),
			"last_execution_utc": run.ExecutedAtUtc,
			"execution_time_ms":  run.ExecutionTimeMs,
		}
		switch run.Status {
		case models.RunStatusCompleted:
			updates["consecutive_failures"] = 0
			updates["failure_backoff_until"] = nil
		case models.RunStatusFailed, models.RunStatusTimeout:
			updates["consecutive_failures"] = gorm.Expr("consecutive_failures + 1")
		}
		return tx.Model(&models.Task{}).Where("id = ?", run.TaskID).Updates(updates).Error
	})
}

func (s *Store) AppendLogs(ctx context.Context, logs []models.ExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}
	for i := range logs {
		if logs[i].ID == uuid.Nil {
			logs[i].ID = uuid.New()
		}
	}
	return s.db.WithContext(ctx).Create(&logs).Error
}

func (s *Store) GetDetail(ctx context.Context, id uuid.UUID) (*models.TaskDetail, error) {
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var statusAudits []models.StatusAudit
	if err := s.db.WithContext(ctx).Where("task_id = ?", id).Order("updated_at_utc ASC").Find(&statusAudits).Error; err != nil {
		return nil, err
	}
	var runAudits []models.RunAudit
	if err := s.db.WithContext(ctx).Where("task_id = ?", id).Order("executed_at_utc ASC").Find(&runAudits).Error; err != nil {
		return nil, err
	}
	var logs []models.ExecutionLog
	if err := s.db.WithContext(ctx).Where("task_id = ?", id).Order("sequence_number ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return &models.TaskDetail{
		Task:          *task,
		StatusAudits:  statusAudits,
		RunAudits:     runAudits,
		ExecutionLogs: logs,
	}, nil
}

func (s *Store) UpsertDailyHistory(ctx context.Context, taskID uuid.UUID, day time.Time, success bool, durationMs int64) error {
	dateOnly := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.RunHistory
		err := tx.Where("task_id = ? AND date = ?", taskID, dateOnly).First(&row).Error
		if err == gorm.ErrRecordNotFound {
			row = models.RunHistory{ID: uuid.New(), TaskID: taskID, Date: dateOnly}
			if success {
				row.SuccessCount, row.TotalDuration, row.MinDuration, row.MaxDuration = 1, durationMs, durationMs, durationMs
			} else {
				row.FailureCount = 1
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if success {
			newTotal := row.TotalDuration + durationMs
			minDuration := row.MinDuration
			if minDuration == 0 || durationMs < minDuration {
				minDuration = durationMs
			}
			maxDuration := row.MaxDuration
			if durationMs > maxDuration {
				maxDuration = durationMs
			}
			updates["success_count"] = gorm.Expr("success_count + 1")
			updates["total_duration_ms"] = newTotal
			updates["min_duration_ms"] = minDuration
			updates["max_duration_ms"] = maxDuration
		} else {
			updates["failure_count"] = gorm.Expr("failure_count + 1")
		}
		return tx.Model(&models.RunHistory{}).Where("id = ?", row.ID).Updates(updates).Error
	})
}

func (s *Store) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Preserve the most recent StatusAudit per task: delete all but the
		// latest row, and only rows older than cutoff.
		result := tx.Exec(`
			DELETE FROM status_audit
			WHERE updated_at_utc < ?
			AND updated_at_utc <> (
				SELECT MAX(sa2.updated_at_utc) FROM status_audit sa2
				WHERE sa2.task_id = status_audit.task_id
			)`, cutoff)
		if result.Error != nil {
			return result.Error
		}
		total += result.RowsAffected

		logResult := tx.Where("timestamp_utc < ?", cutoff).Delete(&models.ExecutionLog{})
		if logResult.Error != nil {
			return logResult.Error
		}
		total += logResult.RowsAffected

		auditResult := tx.Where("executed_at_utc < ?", cutoff).Delete(&models.RunAudit{})
		if auditResult.Error != nil {
			return auditResult.Error
		}
		total += auditResult.RowsAffected

		return nil
	})
	return total, err
}
