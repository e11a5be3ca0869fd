package main

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/minisource/evertask"
)

// TaskHandler exposes the engine's monitoring surface (spec §4.5.8's
// GetDetail/GetPendingTasks) over HTTP, plus Cancel — adapted from the
// teacher's JobHandler, generalized from "CRUD a job definition" to
// "observe and cancel a task already dispatched by the host application."
// Dispatching new tasks is deliberately not exposed here: a payload type
// only exists as a Go type on the dispatching side, so HTTP dispatch would
// need a per-request-type route the engine itself knows nothing about.
type TaskHandler struct {
	engine *evertask.Engine
}

func NewTaskHandler(engine *evertask.Engine) *TaskHandler {
	return &TaskHandler{engine: engine}
}

// List returns every task not yet in a terminal state.
// @Summary List pending tasks
// @Tags tasks
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/tasks [get]
func (h *TaskHandler) List(c *fiber.Ctx) error {
	tasks, err := h.engine.Store().GetPendingTasks(c.Context())
	if err != nil {
		return InternalError(c, err.Error())
	}
	return Success(c, tasks)
}

// Get returns one task's full detail: status, audit trail, execution logs.
// @Summary Get task detail
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/tasks/{id} [get]
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return BadRequest(c, "invalid task id")
	}

	detail, err := h.engine.Store().GetDetail(c.Context(), id)
	if err != nil {
		return NotFound(c, "task not found")
	}
	return Success(c, detail)
}

// Cancel cooperatively cancels a task.
// @Summary Cancel a task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /api/v1/tasks/{id}/cancel [post]
func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return BadRequest(c, "invalid task id")
	}

	if err := h.engine.Cancel(c.Context(), id); err != nil {
		return BadRequest(c, err.Error())
	}
	return Success(c, map[string]string{"status": "cancelled"})
}

// HealthHandler reports the engine's own liveness/readiness, adapted from
// the teacher's HealthHandler (database ping swapped for engine state,
// since the engine owns its own store connection, not this process).
type HealthHandler struct {
	engine *evertask.Engine
}

func NewHealthHandler(engine *evertask.Engine) *HealthHandler {
	return &HealthHandler{engine: engine}
}

// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} Response
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return Success(c, map[string]string{"status": "healthy"})
}

// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} Response
// @Router /live [get]
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return Success(c, map[string]string{"status": "alive"})
}

// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} Response
// @Router /ready [get]
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if _, err := h.engine.Store().GetPendingTasks(c.Context()); err != nil {
		return ServiceUnavailable(c, "store unreachable")
	}
	return Success(c, map[string]string{"status": "ready"})
}
