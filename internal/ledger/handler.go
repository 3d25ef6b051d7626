package ledger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/middleware"
	"github.com/microbank/corebank/internal/money"
)

// Handler exposes ledger HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type postRequest struct {
	HolderID  int64  `json:"holder_id"`
	AccountID int64  `json:"account_id"`
	Kind      string `json:"kind"`
	Amount    string `json:"amount"`
	Note      string `json:"note"`
}

type transactionResponse struct {
	ID          int64     `json:"id"`
	HolderID    int64     `json:"holder_id"`
	AccountID   int64     `json:"account_id"`
	Kind        string    `json:"kind"`
	Amount      string    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
	RefNumber   string    `json:"ref_number"`
	Description string    `json:"description"`
}

func toResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		HolderID:    t.HolderID,
		AccountID:   t.AccountID,
		Kind:        string(t.Kind),
		Amount:      money.Format(t.Amount),
		Timestamp:   t.Timestamp,
		RefNumber:   t.RefNumber,
		Description: t.Description,
	}
}

func toResponses(txns []domain.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, toResponse(t))
	}
	return out
}

// ParamID reads a positive integer path parameter.
func ParamID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// Post records a deposit or withdrawal entered by an agent or branch manager.
// Interest is credited by the accrual passes only.
func (h *Handler) Post(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	if err := actor.RequireRole(domain.RoleAgent, domain.RoleBranchManager); err != nil {
		return err
	}

	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	kind, err := domain.ParseTransactionKind(req.Kind)
	if err != nil {
		return err
	}
	if kind == domain.KindInterest {
		return fiber.NewError(http.StatusBadRequest, "interest is posted by the accrual scheduler")
	}
	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	txn, err := h.service.Post(c.UserContext(), PostInput{
		HolderID:  req.HolderID,
		AccountID: req.AccountID,
		Kind:      kind,
		Amount:    amount,
		Note:      req.Note,
		Actor:     &actor,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(txn))
}

// Balance returns the account balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	acc, err := h.service.Account(c.UserContext(), actor, accountID)
	if err != nil {
		return err
	}
	balance, err := h.service.Balance(c.UserContext(), acc.ID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id":  acc.ID,
		"balance":     money.Format(balance),
		"min_balance": money.Format(acc.Plan.MinBalance),
		"active":      acc.Active,
		"timestamp":   h.service.clock.Now(),
	})
}

// AccountTransactions lists the account's transactions, newest first.
func (h *Handler) AccountTransactions(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.service.Account(c.UserContext(), actor, accountID); err != nil {
		return err
	}
	txns, err := h.service.AccountTransactions(c.UserContext(), accountID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"account_id": accountID, "transactions": toResponses(txns)})
}

// HolderTransactions lists the transactions of the account a holder belongs to.
func (h *Handler) HolderTransactions(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	holderID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	holder, err := h.service.Holder(c.UserContext(), actor, holderID)
	if err != nil {
		return err
	}
	txns, err := h.service.HolderTransactions(c.UserContext(), holder.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"holder_id":    holder.ID,
		"account_id":   holder.AccountID,
		"transactions": toResponses(txns),
	})
}
