package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/microbank/corebank/internal/account"
)

// RegisterAccountRoutes wires savings account and savings plan endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler, idem fiber.Handler) {
	r.Post("/accounts", idem, h.Open)
	r.Get("/accounts/:id", h.Get)
	r.Delete("/accounts/:id", h.Close)
	r.Post("/savings-plans", h.CreatePlan)
}
