package deposit

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/ledger"
	"github.com/microbank/corebank/internal/middleware"
	"github.com/microbank/corebank/internal/money"
)

// Handler exposes fixed deposit HTTP endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler builds a fixed deposit HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type openRequest struct {
	AccountID  int64  `json:"account_id"`
	PlanID     string `json:"plan_id"`
	Principal  string `json:"principal"`
	PayoutMode string `json:"payout_mode"`
}

type depositResponse struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	PlanID         string    `json:"plan_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Principal      string    `json:"principal"`
	PayoutMode     string    `json:"payout_mode"`
	LastPayoutDate time.Time `json:"last_payout_date"`
	Active         bool      `json:"active"`
}

func toResponse(fd domain.FixedDeposit) depositResponse {
	return depositResponse{
		ID:             fd.ID,
		AccountID:      fd.AccountID,
		PlanID:         fd.PlanID,
		StartDate:      fd.StartDate,
		EndDate:        fd.EndDate,
		Principal:      money.Format(fd.Principal),
		PayoutMode:     string(fd.PayoutMode),
		LastPayoutDate: fd.LastPayoutDate,
		Active:         fd.Active,
	}
}

// Open creates a fixed deposit funded from a savings account.
func (h *Handler) Open(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	principal, err := money.ParseAmount(req.Principal)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	mode, err := domain.ParsePayoutMode(req.PayoutMode)
	if err != nil {
		return err
	}
	fd, err := h.manager.Open(c.UserContext(), actor, OpenInput{
		AccountID:  req.AccountID,
		PlanID:     req.PlanID,
		Principal:  principal,
		PayoutMode: mode,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(fd))
}

// ForAccount lists the deposits linked to an account.
func (h *Handler) ForAccount(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	accountID, err := ledger.ParamID(c, "id")
	if err != nil {
		return err
	}
	deposits, err := h.manager.ForAccount(c.UserContext(), actor, accountID)
	if err != nil {
		return err
	}
	out := make([]depositResponse, 0, len(deposits))
	for _, fd := range deposits {
		out = append(out, toResponse(fd))
	}
	return c.JSON(fiber.Map{"account_id": accountID, "fixed_deposits": out})
}

// Get returns one deposit.
func (h *Handler) Get(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := ledger.ParamID(c, "id")
	if err != nil {
		return err
	}
	fd, err := h.manager.Get(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(fd.FixedDeposit))
}

type planRequest struct {
	ID         string `json:"id"`
	TermMonths int    `json:"term_months"`
	AnnualRate string `json:"annual_rate"`
}

func planResponse(p domain.DepositPlan) fiber.Map {
	return fiber.Map{"id": p.ID, "term_months": p.TermMonths, "annual_rate": p.AnnualRate.String()}
}

// Plans lists the deposit plans.
func (h *Handler) Plans(c *fiber.Ctx) error {
	plans, err := h.manager.Plans(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]fiber.Map, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse(p))
	}
	return c.JSON(fiber.Map{"plans": out})
}

// CreatePlan adds a deposit plan.
func (h *Handler) CreatePlan(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	plan, err := h.manager.CreatePlan(c.UserContext(), actor, PlanInput{ID: req.ID, TermMonths: req.TermMonths, AnnualRate: req.AnnualRate})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(planResponse(plan))
}
