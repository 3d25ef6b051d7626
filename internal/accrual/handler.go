package accrual

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/middleware"
	"github.com/microbank/corebank/internal/money"
)

// Handler exposes the scheduler admin endpoints.
type Handler struct {
	scheduler *Scheduler
}

// NewHandler builds the scheduler HTTP handler.
func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

func requireAdmin(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	return actor.RequireRole(domain.RoleAdmin)
}

// Trigger runs one pass now.
func (h *Handler) Trigger(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	pass, err := ParsePass(c.Params("pass"))
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	sum, err := h.scheduler.Trigger(c.UserContext(), pass)
	if errors.Is(err, ErrPassRunning) {
		return fiber.NewError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"pass":      sum.Pass,
		"as_of":     sum.AsOf,
		"processed": sum.Processed,
		"skipped":   sum.Skipped,
		"failed":    sum.Failed,
		"total":     money.Format(sum.Total),
	})
}

// Status reports the scheduler state. Branch managers may read it too.
func (h *Handler) Status(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	if err := actor.RequireRole(domain.RoleAdmin, domain.RoleBranchManager); err != nil {
		return err
	}
	return c.JSON(h.scheduler.Status())
}

// Start starts the cron runner.
func (h *Handler) Start(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	if err := h.scheduler.Start(); err != nil {
		return err
	}
	return c.JSON(h.scheduler.Status())
}

// Stop stops the cron runner and waits for running passes.
func (h *Handler) Stop(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	done := h.scheduler.Stop()
	select {
	case <-done.Done():
	case <-c.UserContext().Done():
		return fiber.NewError(http.StatusAccepted, "scheduler stopping")
	}
	return c.JSON(h.scheduler.Status())
}
