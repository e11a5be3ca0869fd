package evertask

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minisource/evertask/config"
	"github.com/minisource/evertask/internal/rrule"
	"github.com/minisource/evertask/internal/store/memory"
	"github.com/minisource/evertask/internal/wqueue"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	e := New(st, nil, config.EngineConfig{
		DefaultQueueCapacity: 10,
		DefaultParallelism:   1,
		DefaultTimeout:       time.Second,
		GraceTimeout:         200 * time.Millisecond,
	}, nil)
	return e, st
}

type greetRequest struct {
	Name string `json:"name"`
}

type greetHandler struct {
	mu       sync.Mutex
	greeted  []string
	started  []uuid.UUID
	done     []uuid.UUID
	failures []uuid.UUID
}

func (h *greetHandler) Handle(ctx context.Context, req greetRequest) error {
	h.mu.Lock()
	h.greeted = append(h.greeted, req.Name)
	h.mu.Unlock()
	return nil
}

func (h *greetHandler) OnStarted(taskID uuid.UUID) {
	h.mu.Lock()
	h.started = append(h.started, taskID)
	h.mu.Unlock()
}

func (h *greetHandler) OnCompleted(taskID uuid.UUID) {
	h.mu.Lock()
	h.done = append(h.done, taskID)
	h.mu.Unlock()
}

func (h *greetHandler) OnError(taskID uuid.UUID, exception string) {
	h.mu.Lock()
	h.failures = append(h.failures, taskID)
	h.mu.Unlock()
}

func (h *greetHandler) Timeout() time.Duration { return 5 * time.Second }

// namedQueueGreetHandler additionally implements QueueNameProvider. Kept
// separate from greetHandler because its default queue is never started by
// newTestEngine, so it is only used by tests that check routing, not
// execution.
type namedQueueGreetHandler struct {
	greetHandler
}

func (h *namedQueueGreetHandler) QueueName() string { return "greetings" }

func TestRegisterHandler_DispatchNowRunsAndFiresHooks(t *testing.T) {
	e, _ := newTestEngine(t)
	h := &greetHandler{}
	require.NoError(t, RegisterHandler[greetRequest](e, "greet", h))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop(context.Background())

	id, err := DispatchNow(context.Background(), e, "greet", greetRequest{Name: "ada"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.done) == 1
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"ada"}, h.greeted)
	assert.Equal(t, []uuid.UUID{id}, h.started)
	assert.Equal(t, []uuid.UUID{id}, h.done)
	assert.Empty(t, h.failures)
}

func TestRegisterHandler_RequiresNonEmptyRequestType(t *testing.T) {
	e, _ := newTestEngine(t)
	err := RegisterHandler[greetRequest](e, "", &greetHandler{})
	assert.Error(t, err)
}

func TestDispatchNow_UsesHandlerDefaultQueueName(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, RegisterHandler[greetRequest](e, "greet", &namedQueueGreetHandler{}))

	id, err := DispatchNow(context.Background(), e, "greet", greetRequest{Name: "grace"})
	require.NoError(t, err)

	task, err := e.Store().GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "greetings", task.QueueName)
}

func TestDispatchNow_OptionOverridesHandlerDefault(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, RegisterHandler[greetRequest](e, "greet", &namedQueueGreetHandler{}))

	id, err := DispatchNow(context.Background(), e, "greet", greetRequest{Name: "alan"}, WithQueueName("priority"))
	require.NoError(t, err)

	task, err := e.Store().GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "priority", task.QueueName)
}

func TestCancel_MarksTaskCancelled(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, RegisterHandler[greetRequest](e, "greet", &greetHandler{}))

	id, err := DispatchAt(context.Background(), e, "greet", greetRequest{Name: "later"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), id))

	task, err := e.Store().GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, task.Status)
}

func TestDispatchRecurring_SchedulesFirstRun(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, RegisterHandler[greetRequest](e, "greet", &greetHandler{}))

	rule := rrule.Rule{Interval: rrule.Interval{DayInterval: &rrule.DayInterval{N: 1}}}
	id, err := DispatchRecurring(context.Background(), e, "greet", greetRequest{Name: "recurring"}, rule, time.Now().Add(time.Minute))
	require.NoError(t, err)

	task, err := e.Store().GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, task.IsRecurring)
	assert.NotNil(t, task.NextRunUtc)
}

// TestDispatchRecurring_RunsRepeatedlyUntilMaxRuns drives a recurring task
// through all of its occurrences (not just the first) and counts RunAudit
// rows, guarding against a worker that finalizes a recurring task's row as
// terminal after its first run and silently kills the series.
func TestDispatchRecurring_RunsRepeatedlyUntilMaxRuns(t *testing.T) {
	e, _ := newTestEngine(t)
	h := &greetHandler{}
	require.NoError(t, RegisterHandler[greetRequest](e, "greet", h))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop(context.Background())

	maxRuns := int64(3)
	rule := rrule.Rule{
		Interval: rrule.Interval{SecondInterval: &rrule.SecondInterval{N: 1}},
		MaxRuns:  &maxRuns,
	}
	id, err := DispatchRecurring(context.Background(), e, "greet", greetRequest{Name: "tick"}, rule, time.Now(), WithQueueName(wqueue.DefaultQueueName))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		detail, err := e.Store().GetDetail(context.Background(), id)
		return err == nil && len(detail.RunAudits) >= 3
	}, 6*time.Second, 20*time.Millisecond)

	task, err := e.Store().GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Nil(t, task.NextRunUtc)

	detail, err := e.Store().GetDetail(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, detail.RunAudits, 3)
}

// TestCancel_TaskAlreadyQueuedNeverRunsAndLeavesNoRunAudit cancels a task
// while it is sitting in its queue, not yet dequeued by any worker, then
// starts the pool. The cancellation blacklist must stop execute from ever
// invoking the handler.
func TestCancel_TaskAlreadyQueuedNeverRunsAndLeavesNoRunAudit(t *testing.T) {
	e, _ := newTestEngine(t)
	h := &greetHandler{}
	require.NoError(t, RegisterHandler[greetRequest](e, "greet", h))

	id, err := DispatchNow(context.Background(), e, "greet", greetRequest{Name: "doomed"})
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), id))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop(context.Background())

	require.Eventually(t, func() bool {
		task, err := e.Store().GetByID(context.Background(), id)
		return err == nil && task.Status == StatusCancelled
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	assert.Empty(t, h.greeted)
	h.mu.Unlock()

	detail, err := e.Store().GetDetail(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, detail.RunAudits)
}
