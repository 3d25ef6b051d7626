// Package account opens and closes savings accounts and manages savings plan
// reference data. Money moves only through the ledger.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/microbank/corebank/internal/clock"
	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/ledger"
	"github.com/microbank/corebank/internal/money"
	"github.com/microbank/corebank/internal/store"
)

// Account is a savings account together with its holders.
type Account struct {
	domain.AccountWithPlan
	Holders []domain.Holder
}

// Joint reports whether more than one customer holds the account.
func (a Account) Joint() bool { return len(a.Holders) > 1 }

// Service exposes savings account operations backed by the ledger.
type Service struct {
	store  store.Store
	ledger *ledger.Service
	clock  clock.Clock
	logger *slog.Logger
}

// NewService builds an account service instance.
func NewService(st store.Store, led *ledger.Service, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{store: st, ledger: led, clock: clk, logger: logger}
}

// OpenInput captures data required to open an account.
type OpenInput struct {
	PlanID         string
	CustomerIDs    []string
	InitialDeposit decimal.Decimal
}

// Open creates an account owned by the calling agent, adds one holder per
// customer and posts the initial deposit through the ledger.
func (s *Service) Open(ctx context.Context, actor domain.Actor, in OpenInput) (Account, error) {
	if err := actor.RequireRole(domain.RoleAgent); err != nil {
		return Account{}, err
	}
	customers, err := normaliseCustomers(in.CustomerIDs)
	if err != nil {
		return Account{}, err
	}
	if !in.InitialDeposit.IsPositive() || !in.InitialDeposit.Equal(money.Round2(in.InitialDeposit)) {
		return Account{}, fmt.Errorf("%w: initial deposit %s", domain.ErrInvalidAmount, in.InitialDeposit)
	}
	plan, err := s.store.GetSavingsPlan(ctx, in.PlanID)
	if err != nil {
		return Account{}, err
	}
	if in.InitialDeposit.LessThan(plan.MinBalance) {
		return Account{}, fmt.Errorf("%w: initial deposit %s below plan minimum %s",
			domain.ErrInsufficientFunds, money.Format(in.InitialDeposit), money.Format(plan.MinBalance))
	}

	now := s.clock.Now()
	var out Account
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		acc, err := tx.InsertAccount(ctx, domain.SavingsAccount{
			OpenDate:        now,
			Balance:         decimal.Zero,
			PlanID:          plan.ID,
			Active:          true,
			BranchID:        actor.BranchID,
			OwnerEmployeeID: actor.EmployeeID,
		})
		if err != nil {
			return err
		}
		holders := make([]domain.Holder, 0, len(customers))
		for _, c := range customers {
			h, err := tx.InsertHolder(ctx, domain.Holder{CustomerID: c, AccountID: acc.ID})
			if err != nil {
				return err
			}
			holders = append(holders, h)
		}
		if _, err := s.ledger.PostTx(ctx, tx, ledger.PostInput{
			HolderID:   holders[0].ID,
			Kind:       domain.KindDeposit,
			Amount:     in.InitialDeposit,
			Note:       "Initial deposit",
			OccurredAt: now,
		}); err != nil {
			return err
		}
		acc.Balance = in.InitialDeposit
		out = Account{AccountWithPlan: domain.AccountWithPlan{SavingsAccount: acc, Plan: plan}, Holders: holders}
		return nil
	})
	if err != nil {
		return Account{}, err
	}

	s.logger.Info("savings account opened",
		slog.Int64("account_id", out.ID),
		slog.String("plan_id", plan.ID),
		slog.Int("holders", len(out.Holders)),
		slog.String("employee_id", actor.EmployeeID),
	)
	return out, nil
}

func normaliseCustomers(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one customer is required", domain.ErrInvalidInput)
	}
	return out, nil
}

// Get returns an account the actor may see, with its holders.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id int64) (Account, error) {
	acc, err := s.ledger.Account(ctx, actor, id)
	if err != nil {
		return Account{}, err
	}
	holders, err := s.store.HoldersForAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	return Account{AccountWithPlan: acc, Holders: holders}, nil
}

// Close deactivates an account. Only the agent who opened it or an admin may
// close it, and never while a fixed deposit is still active on it.
func (s *Service) Close(ctx context.Context, actor domain.Actor, id int64) error {
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		acc, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		if actor.Role != domain.RoleAdmin {
			if err := actor.RequireRole(domain.RoleAgent); err != nil {
				return err
			}
			if err := actor.CanOperateAccount(acc.SavingsAccount); err != nil {
				return err
			}
		}
		if !acc.Active {
			return fmt.Errorf("%w: account %d already closed", domain.ErrAccountNotFound, id)
		}
		fdID, active, err := tx.ActiveDepositForAccount(ctx, id)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: close fixed deposit %d first", domain.ErrDuplicateActiveDeposit, fdID)
		}
		return tx.SetAccountActive(ctx, id, false)
	})
	if err != nil {
		return err
	}
	s.logger.Info("savings account closed", slog.Int64("account_id", id), slog.String("employee_id", actor.EmployeeID))
	return nil
}

// PlanInput captures a new savings plan. AnnualRate accepts "12", "12.5" or "12%".
type PlanInput struct {
	ID         string
	Name       string
	AnnualRate string
	MinBalance string
}

// CreatePlan adds savings plan reference data. Admin only.
func (s *Service) CreatePlan(ctx context.Context, actor domain.Actor, in PlanInput) (domain.SavingsPlan, error) {
	if err := actor.RequireRole(domain.RoleAdmin); err != nil {
		return domain.SavingsPlan{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return domain.SavingsPlan{}, fmt.Errorf("%w: plan id is required", domain.ErrInvalidInput)
	}
	rate, err := money.ParsePercent(in.AnnualRate)
	if err != nil {
		return domain.SavingsPlan{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	minBalance, err := money.ParseAmount(in.MinBalance)
	if err != nil {
		return domain.SavingsPlan{}, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}
	if minBalance.IsNegative() {
		return domain.SavingsPlan{}, fmt.Errorf("%w: minimum balance must not be negative", domain.ErrInvalidAmount)
	}
	plan := domain.SavingsPlan{ID: id, Name: strings.TrimSpace(in.Name), AnnualRate: rate, MinBalance: minBalance}
	if err := s.store.InsertSavingsPlan(ctx, plan); err != nil {
		return domain.SavingsPlan{}, err
	}
	return plan, nil
}
