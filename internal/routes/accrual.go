package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/microbank/corebank/internal/accrual"
)

// RegisterAccrualRoutes wires the scheduler admin endpoints. Manual triggers
// are rate limited.
func RegisterAccrualRoutes(r fiber.Router, h *accrual.Handler, limiter fiber.Handler) {
	r.Get("/accrual/status", h.Status)
	r.Post("/accrual/scheduler/start", h.Start)
	r.Post("/accrual/scheduler/stop", h.Stop)
	r.Post("/accrual/:pass", limiter, h.Trigger)
}
