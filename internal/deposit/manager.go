// Package deposit manages the fixed-deposit lifecycle: open, periodic
// interest accrual and maturity. All money movement goes through the ledger
// against the linked savings account.
package deposit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/microbank/corebank/internal/clock"
	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/ledger"
	"github.com/microbank/corebank/internal/money"
	"github.com/microbank/corebank/internal/period"
	"github.com/microbank/corebank/internal/store"
)

// Manager owns fixed deposit state transitions.
type Manager struct {
	store  store.Store
	ledger *ledger.Service
	clock  clock.Clock
	logger *slog.Logger
}

// NewManager builds a fixed deposit manager.
func NewManager(st store.Store, led *ledger.Service, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{store: st, ledger: led, clock: clk, logger: logger}
}

// OpenInput captures a fixed deposit request.
type OpenInput struct {
	AccountID  int64
	PlanID     string
	Principal  decimal.Decimal
	PayoutMode domain.PayoutMode
}

// Open reserves the principal from the savings account and creates the
// deposit. Every precondition is checked under the account lock before any
// write, and the deposit row and the principal withdrawal commit together.
func (m *Manager) Open(ctx context.Context, actor domain.Actor, in OpenInput) (domain.FixedDeposit, error) {
	if err := actor.RequireRole(domain.RoleAgent, domain.RoleBranchManager); err != nil {
		return domain.FixedDeposit{}, err
	}
	if !in.Principal.IsPositive() || !in.Principal.Equal(money.Round2(in.Principal)) {
		return domain.FixedDeposit{}, fmt.Errorf("%w: principal %s", domain.ErrInvalidAmount, in.Principal)
	}
	mode := in.PayoutMode
	if mode == "" {
		mode = domain.PayoutToAccount
	}

	var out domain.FixedDeposit
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		acc, err := tx.LockAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if !acc.Active {
			return fmt.Errorf("%w: account %d is closed", domain.ErrAccountNotFound, acc.ID)
		}
		if err := actor.CanOperateAccount(acc.SavingsAccount); err != nil {
			return err
		}
		plan, err := tx.GetDepositPlan(ctx, in.PlanID)
		if err != nil {
			return err
		}
		if fdID, exists, err := tx.ActiveDepositForAccount(ctx, acc.ID); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: deposit %d on account %d", domain.ErrDuplicateActiveDeposit, fdID, acc.ID)
		}
		if in.Principal.GreaterThan(acc.Balance) {
			return fmt.Errorf("%w: principal %s exceeds balance %s",
				domain.ErrInsufficientFunds, money.Format(in.Principal), money.Format(acc.Balance))
		}

		start := m.clock.Now()
		fd, err := tx.InsertDeposit(ctx, domain.FixedDeposit{
			AccountID:      acc.ID,
			PlanID:         plan.ID,
			StartDate:      start,
			EndDate:        period.AddMonths(start, plan.TermMonths),
			Principal:      in.Principal,
			PayoutMode:     mode,
			LastPayoutDate: start,
			Active:         true,
		})
		if err != nil {
			return err
		}
		if _, err := m.ledger.PostTx(ctx, tx, ledger.PostInput{
			AccountID:         acc.ID,
			Kind:              domain.KindWithdrawal,
			Amount:            in.Principal,
			Note:              fmt.Sprintf("FD principal deduction - FD %d", fd.ID),
			OccurredAt:        start,
			AllowBelowMinimum: true,
		}); err != nil {
			return err
		}
		out = fd
		return nil
	})
	if err != nil {
		return domain.FixedDeposit{}, err
	}

	m.logger.Info("fixed deposit opened",
		slog.Int64("deposit_id", out.ID),
		slog.Int64("account_id", out.AccountID),
		slog.String("principal", money.Format(out.Principal)),
		slog.Time("end_date", out.EndDate),
	)
	return out, nil
}

// AccrueInterest credits interest for every whole 30-day period elapsed since
// the last payout, capped at the end date. It returns nil when fewer than 30
// days have elapsed. LastPayoutDate moves forward by exactly the credited
// periods so the remainder carries over to the next pass.
func (m *Manager) AccrueInterest(ctx context.Context, depositID int64, asOf time.Time) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		fd, err := tx.LockDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if !fd.Active {
			return fmt.Errorf("%w: deposit %d", domain.ErrAlreadyClosed, fd.ID)
		}

		until := asOf
		if until.After(fd.EndDate) {
			until = fd.EndDate
		}
		periods := period.CompletePeriods(period.DaysBetween(fd.LastPayoutDate, until))
		if periods == 0 {
			return nil
		}
		interest := money.Round2(money.MonthlyInterest(fd.Principal, fd.Plan.AnnualRate, periods))
		if !interest.IsPositive() {
			return nil
		}

		nextPayout := period.AddAccrualPeriods(fd.LastPayoutDate, periods)
		txn, err := m.ledger.PostTx(ctx, tx, ledger.PostInput{
			AccountID:  fd.AccountID,
			Kind:       domain.KindInterest,
			Amount:     interest,
			Note:       fmt.Sprintf("FD interest: %d period(s) - FD %d", periods, fd.ID),
			OccurredAt: asOf,
			PeriodTag:  InterestTag(fd.ID, nextPayout),
			Actor:      systemActor(),
		})
		if err != nil {
			return err
		}
		fd.LastPayoutDate = nextPayout
		if err := tx.UpdateDeposit(ctx, fd.FixedDeposit); err != nil {
			return err
		}
		out = &txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		m.logger.Info("fixed deposit interest credited",
			slog.Int64("deposit_id", depositID),
			slog.String("amount", money.Format(out.Amount)),
		)
	}
	return out, nil
}

// MatureAndClose returns principal plus interest for the days since the last
// payout, computed at the daily rate, and closes the deposit.
func (m *Manager) MatureAndClose(ctx context.Context, depositID int64, asOf time.Time) (domain.Transaction, error) {
	var out domain.Transaction
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		fd, err := tx.LockDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if !fd.Active {
			return fmt.Errorf("%w: deposit %d", domain.ErrAlreadyClosed, fd.ID)
		}
		if !fd.Matured(asOf) {
			return fmt.Errorf("%w: deposit %d ends %s", domain.ErrNotMatured, fd.ID, fd.EndDate.Format(time.DateOnly))
		}

		days := period.DaysBetween(fd.LastPayoutDate, fd.EndDate)
		if days < 0 {
			days = 0
		}
		interest := money.DailyInterest(fd.Principal, fd.Plan.AnnualRate, days)
		total := money.Round2(fd.Principal.Add(interest))

		txn, err := m.ledger.PostTx(ctx, tx, ledger.PostInput{
			AccountID: fd.AccountID,
			Kind:      domain.KindDeposit,
			Amount:    total,
			Note: fmt.Sprintf("FD maturity: principal %s + interest %s - FD %d",
				money.Format(fd.Principal), money.Format(total.Sub(fd.Principal)), fd.ID),
			OccurredAt: asOf,
			PeriodTag:  MaturityTag(fd.ID),
			Actor:      systemActor(),
		})
		if err != nil {
			return err
		}
		fd.Active = false
		if err := tx.UpdateDeposit(ctx, fd.FixedDeposit); err != nil {
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	m.logger.Info("fixed deposit matured",
		slog.Int64("deposit_id", depositID),
		slog.String("amount", money.Format(out.Amount)),
	)
	return out, nil
}

func systemActor() *domain.Actor {
	sys := domain.SystemActor
	return &sys
}

// InterestTag marks the accrual that moved LastPayoutDate to nextPayout.
func InterestTag(depositID int64, nextPayout time.Time) string {
	return fmt.Sprintf("fd-interest:%d:%s", depositID, nextPayout.Format(time.DateOnly))
}

// MaturityTag marks the single maturity posting of a deposit.
func MaturityTag(depositID int64) string {
	return fmt.Sprintf("fd-maturity:%d", depositID)
}

// PlanInput captures a new deposit plan.
type PlanInput struct {
	ID         string
	TermMonths int
	AnnualRate string
}

// CreatePlan adds fixed deposit plan reference data. Admin only.
func (m *Manager) CreatePlan(ctx context.Context, actor domain.Actor, in PlanInput) (domain.DepositPlan, error) {
	if err := actor.RequireRole(domain.RoleAdmin); err != nil {
		return domain.DepositPlan{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return domain.DepositPlan{}, fmt.Errorf("%w: plan id is required", domain.ErrInvalidInput)
	}
	if in.TermMonths <= 0 {
		return domain.DepositPlan{}, fmt.Errorf("%w: term must be at least one month", domain.ErrInvalidInput)
	}
	rate, err := money.ParsePercent(in.AnnualRate)
	if err != nil {
		return domain.DepositPlan{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	plan := domain.DepositPlan{ID: id, TermMonths: in.TermMonths, AnnualRate: rate}
	if err := m.store.InsertDepositPlan(ctx, plan); err != nil {
		return domain.DepositPlan{}, err
	}
	return plan, nil
}

// Plans lists the available deposit plans, shortest term first.
func (m *Manager) Plans(ctx context.Context) ([]domain.DepositPlan, error) {
	return m.store.ListDepositPlans(ctx)
}

// ForAccount lists an account's deposits, newest first.
func (m *Manager) ForAccount(ctx context.Context, actor domain.Actor, accountID int64) ([]domain.FixedDeposit, error) {
	if _, err := m.ledger.Account(ctx, actor, accountID); err != nil {
		return nil, err
	}
	return m.store.DepositsForAccount(ctx, accountID)
}

// Get returns one deposit with its plan.
func (m *Manager) Get(ctx context.Context, actor domain.Actor, depositID int64) (domain.DepositWithPlan, error) {
	fd, err := m.store.GetDeposit(ctx, depositID)
	if err != nil {
		return domain.DepositWithPlan{}, err
	}
	if _, err := m.ledger.Account(ctx, actor, fd.AccountID); err != nil {
		return domain.DepositWithPlan{}, err
	}
	return fd, nil
}
