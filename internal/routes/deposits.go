package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/microbank/corebank/internal/deposit"
)

// RegisterDepositRoutes wires fixed deposit endpoints.
func RegisterDepositRoutes(r fiber.Router, h *deposit.Handler, idem fiber.Handler) {
	r.Post("/fixed-deposits", idem, h.Open)
	r.Get("/fixed-deposits/:id", h.Get)
	r.Get("/accounts/:id/fixed-deposits", h.ForAccount)
	r.Get("/fixed-deposit-plans", h.Plans)
	r.Post("/fixed-deposit-plans", h.CreatePlan)
}
