package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/microbank/corebank/internal/ledger"
)

// RegisterLedgerRoutes wires posting and balance endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler, idem fiber.Handler) {
	r.Post("/transactions", idem, h.Post)
	r.Get("/accounts/:id/balance", h.Balance)
	r.Get("/accounts/:id/transactions", h.AccountTransactions)
	r.Get("/holders/:id/transactions", h.HolderTransactions)
}
