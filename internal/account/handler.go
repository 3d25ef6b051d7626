package account

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/microbank/corebank/internal/ledger"
	"github.com/microbank/corebank/internal/middleware"
	"github.com/microbank/corebank/internal/money"
)

// Handler exposes savings account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	PlanID         string   `json:"plan_id"`
	CustomerIDs    []string `json:"customer_ids"`
	InitialDeposit string   `json:"initial_deposit"`
}

type holderResponse struct {
	ID         int64  `json:"id"`
	CustomerID string `json:"customer_id"`
}

type accountResponse struct {
	ID              int64            `json:"id"`
	PlanID          string           `json:"plan_id"`
	Balance         string           `json:"balance"`
	Active          bool             `json:"active"`
	Joint           bool             `json:"joint"`
	BranchID        string           `json:"branch_id"`
	OwnerEmployeeID string           `json:"owner_employee_id"`
	Holders         []holderResponse `json:"holders"`
}

func toAccountResponse(a Account) accountResponse {
	holders := make([]holderResponse, 0, len(a.Holders))
	for _, h := range a.Holders {
		holders = append(holders, holderResponse{ID: h.ID, CustomerID: h.CustomerID})
	}
	return accountResponse{
		ID:              a.ID,
		PlanID:          a.PlanID,
		Balance:         money.Format(a.Balance),
		Active:          a.Active,
		Joint:           a.Joint(),
		BranchID:        a.BranchID,
		OwnerEmployeeID: a.OwnerEmployeeID,
		Holders:         holders,
	}
}

// Open provisions an account for one or more customers.
func (h *Handler) Open(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	deposit, err := money.ParseAmount(req.InitialDeposit)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acc, err := h.service.Open(c.UserContext(), actor, OpenInput{
		PlanID:         req.PlanID,
		CustomerIDs:    req.CustomerIDs,
		InitialDeposit: deposit,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toAccountResponse(acc))
}

// Get returns account details and holders.
func (h *Handler) Get(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := ledger.ParamID(c, "id")
	if err != nil {
		return err
	}
	acc, err := h.service.Get(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(toAccountResponse(acc))
}

// Close deactivates an account.
func (h *Handler) Close(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := ledger.ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.Close(c.UserContext(), actor, id); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

type planRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AnnualRate string `json:"annual_rate"`
	MinBalance string `json:"min_balance"`
}

// CreatePlan adds a savings plan.
func (h *Handler) CreatePlan(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	plan, err := h.service.CreatePlan(c.UserContext(), actor, PlanInput{
		ID: req.ID, Name: req.Name, AnnualRate: req.AnnualRate, MinBalance: req.MinBalance,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"id":          plan.ID,
		"name":        plan.Name,
		"annual_rate": plan.AnnualRate.String(),
		"min_balance": money.Format(plan.MinBalance),
	})
}
