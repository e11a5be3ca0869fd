// Package models holds the persisted entities of the EverTask execution
// engine: tasks, and the append-only audit/log rows that track them.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task (spec §3.1, §4.4).
type Status string

const (
	StatusWaitingQueue   Status = "waiting_queue"
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusPending        Status = "pending"
	StatusCancelled      Status = "cancelled"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusServiceStopped Status = "service_stopped"
)

// IsTerminal reports whether status is one of the four terminal states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusServiceStopped:
		return true
	default:
		return false
	}
}

// RunStatus is the outcome recorded on a single RunAudit row.
type RunStatus string

const (
	RunStatusCompleted     RunStatus = "completed"
	RunStatusFailed        RunStatus = "failed"
	RunStatusCancelled     RunStatus = "cancelled"
	RunStatusTimeout       RunStatus = "timeout"
	RunStatusServiceStopped RunStatus = "service_stopped"
)

// Task is the stored unit of work (spec §3.1).
type Task struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	RequestType string    `json:"request_type" gorm:"type:varchar(255);not null;index:idx_tasks_request_type"`
	HandlerType string    `json:"handler_type" gorm:"type:varchar(255);not null"`
	Payload     []byte    `json:"payload" gorm:"type:jsonb"`
	Status      Status    `json:"status" gorm:"type:varchar(20);not null;index:idx_tasks_status"`
	QueueName   string    `json:"queue_name" gorm:"type:varchar(100);not null;default:default"`
	TaskKey     string    `json:"task_key,omitempty" gorm:"type:varchar(255);index:idx_tasks_task_key"`

	CreatedAtUtc           time.Time  `json:"created_at_utc" gorm:"not null"`
	LastExecutionUtc       *time.Time `json:"last_execution_utc,omitempty"`
	ScheduledExecutionUtc  *time.Time `json:"scheduled_execution_utc,omitempty" gorm:"index:idx_tasks_scheduled"`
	NextRunUtc             *time.Time `json:"next_run_utc,omitempty" gorm:"index:idx_tasks_next_run"`
	ExecutionTimeMs        int64      `json:"execution_time_ms"`
	Exception              string     `json:"exception,omitempty" gorm:"type:text"`

	IsRecurring   bool            `json:"is_recurring"`
	RecurringRule json.RawMessage `json:"recurring_rule,omitempty" gorm:"type:jsonb"`
	RecurringInfo string          `json:"recurring_info,omitempty" gorm:"type:text"`
	CurrentRunCount int64         `json:"current_run_count"`
	MaxRuns       *int64          `json:"max_runs,omitempty"`
	RunUntil      *time.Time      `json:"run_until,omitempty"`

	// Priority orders ready items within a single queue (SPEC_FULL supplement
	// #1); it never preempts a task already executing.
	Priority int `json:"priority" gorm:"default:5"`

	// TimeoutMs bounds a single handler invocation; 0 means no deadline
	// beyond the worker service's own shutdown context.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
	// MaxRetries is the number of additional attempts after the first
	// failure, executed in place before the task is marked Failed (spec
	// §4.4's retry-then-advance worker behavior).
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the fixed delay between retry attempts.
	RetryDelayMs int64 `json:"retry_delay_ms,omitempty"`

	// Paused freezes a recurring task in the scheduler without losing its
	// schedule state (SPEC_FULL supplement #2).
	Paused bool `json:"paused"`

	// ConsecutiveFailures and FailureBackoffUntil are monitoring-only hints
	// (SPEC_FULL supplement #4); the engine never auto-disables a schedule.
	ConsecutiveFailures int        `json:"consecutive_failures"`
	FailureBackoffUntil *time.Time `json:"failure_backoff_until,omitempty"`

	AuditLevel AuditLevel `json:"audit_level,omitempty" gorm:"type:varchar(20)"`
}

// TableName names the GORM table (teacher's `TableName()` convention).
func (Task) TableName() string { return "tasks" }

// AuditLevel controls retention of audits/logs for a task (spec §4.5.3).
type AuditLevel string

const (
	AuditLevelMinimal  AuditLevel = "minimal"  // keep only the last terminal audit
	AuditLevelNormal   AuditLevel = "normal"   // default retention
	AuditLevelVerbose  AuditLevel = "verbose"  // keep everything, including logs
)

// StatusAudit is an append-only row recording one status transition.
type StatusAudit struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID        uuid.UUID `json:"task_id" gorm:"type:uuid;not null;index:idx_status_audit_task"`
	UpdatedAtUtc  time.Time `json:"updated_at_utc" gorm:"not null"`
	NewStatus     Status    `json:"new_status" gorm:"type:varchar(20);not null"`
	Exception     string    `json:"exception,omitempty" gorm:"type:text"`
}

// TableName names the GORM table.
func (StatusAudit) TableName() string { return "status_audit" }

// RunAudit is an append-only row recording one handler invocation attempt.
type RunAudit struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID          uuid.UUID `json:"task_id" gorm:"type:uuid;not null;index:idx_run_audit_task"`
	ExecutedAtUtc   time.Time `json:"executed_at_utc" gorm:"not null"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Status          RunStatus `json:"status" gorm:"type:varchar(20);not null"`
	Exception       string    `json:"exception,omitempty" gorm:"type:text"`
}

// TableName names the GORM table.
func (RunAudit) TableName() string { return "runs_audit" }

// LogLevel mirrors zap's level vocabulary for persisted execution logs.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLog is an append-only row captured from a handler's log sink
// (spec §4.6).
type ExecutionLog struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID           uuid.UUID `json:"task_id" gorm:"type:uuid;not null;index:idx_execution_logs_task"`
	TimestampUtc     time.Time `json:"timestamp_utc" gorm:"not null;index:idx_execution_logs_task_ts"`
	Level            LogLevel  `json:"level" gorm:"type:varchar(10)"`
	Message          string    `json:"message" gorm:"type:text"`
	ExceptionDetails string    `json:"exception_details,omitempty" gorm:"type:text"`
	SequenceNumber   int64     `json:"sequence_number"`
}

// TableName names the GORM table.
func (ExecutionLog) TableName() string { return "execution_logs" }

// RunHistory is a daily rollup of run outcomes for a task (SPEC_FULL
// supplement #3, adapted from the teacher's JobHistory).
type RunHistory struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID        uuid.UUID `json:"task_id" gorm:"type:uuid;not null;index:idx_run_history_task"`
	Date          time.Time `json:"date" gorm:"type:date;not null;index:idx_run_history_date"`
	SuccessCount  int64     `json:"success_count"`
	FailureCount  int64     `json:"failure_count"`
	TotalDuration int64     `json:"total_duration_ms"`
	MinDuration   int64     `json:"min_duration_ms"`
	MaxDuration   int64     `json:"max_duration_ms"`
}

// TableName names the GORM table.
func (RunHistory) TableName() string { return "run_history" }

// TaskDetail bundles a task with its audit trail and logs, for the
// monitoring boundary (spec §4.5.8 GetDetail).
type TaskDetail struct {
	Task          Task           `json:"task"`
	StatusAudits  []StatusAudit  `json:"status_audits"`
	RunAudits     []RunAudit     `json:"run_audits"`
	ExecutionLogs []ExecutionLog `json:"execution_logs"`
}
