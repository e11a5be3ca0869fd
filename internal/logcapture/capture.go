// Package logcapture implements the per-task log sink of spec §4.6: every
// record a handler emits during its run is forwarded unconditionally to the
// engine's structured logger (go.uber.org/zap) and also buffered so it can
// be persisted via store.Store.AppendLogs once the run finishes.
package logcapture

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minisource/evertask/internal/models"
)

// maxBufferedRecords bounds memory for a single run's captured logs; beyond
// this, older records are dropped (the zap forward still sees everything —
// only persistence truncates).
const maxBufferedRecords = 2000

// Sink is the per-task, per-run log destination the worker pool passes to
// each worker.HandlerFunc invocation. The HandlerFunc that
// evertask.RegisterHandler builds does not forward it to Handler.Handle.
type Sink struct {
	taskID uuid.UUID
	log    *zap.Logger

	mu      sync.Mutex
	seq     int64
	buf     []models.ExecutionLog
	dropped int
}

// New constructs a Sink for one run of taskID. log is the engine-wide
// structured logger (never nil in production; tests may pass zap.NewNop()).
func New(taskID uuid.UUID, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{taskID: taskID, log: log.With(zap.String("task_id", taskID.String()))}
}

func (s *Sink) record(level models.LogLevel, msg string, exceptionDetails string) {
	s.mu.Lock()
	s.seq++
	rec := models.ExecutionLog{
		TaskID:           s.taskID,
		TimestampUtc:     time.Now().UTC(),
		Level:            level,
		Message:          msg,
		ExceptionDetails: exceptionDetails,
		SequenceNumber:   s.seq,
	}
	if len(s.buf) >= maxBufferedRecords {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.buf = append(s.buf, rec)
	s.mu.Unlock()
}

// Debugf forwards to zap at Debug and buffers the record.
func (s *Sink) Debugf(format string, args ...interface{}) {
	msg := sprintf(format, args...)
	s.log.Sugar().Debugf(format, args...)
	s.record(models.LogLevelDebug, msg, "")
}

// Infof forwards to zap at Info and buffers the record.
func (s *Sink) Infof(format string, args ...interface{}) {
	msg := sprintf(format, args...)
	s.log.Sugar().Infof(format, args...)
	s.record(models.LogLevelInfo, msg, "")
}

// Warnf forwards to zap at Warn and buffers the record.
func (s *Sink) Warnf(format string, args ...interface{}) {
	msg := sprintf(format, args...)
	s.log.Sugar().Warnf(format, args...)
	s.record(models.LogLevelWarn, msg, "")
}

// Errorf forwards to zap at Error and buffers the record with its
// exception details column populated.
func (s *Sink) Errorf(err error, format string, args ...interface{}) {
	msg := sprintf(format, args...)
	details := ""
	if err != nil {
		details = err.Error()
	}
	s.log.Sugar().Errorw(msg, "error", err)
	s.record(models.LogLevelError, msg, details)
}

// Drain returns every buffered record and resets the buffer, for handoff to
// store.Store.AppendLogs once a run completes.
func (s *Sink) Drain() []models.ExecutionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	return out
}

// Dropped reports how many records were evicted for exceeding
// maxBufferedRecords.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
