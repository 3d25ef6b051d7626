// Package ledger is the single mutation path for savings account balances.
// Every posting updates the cached balance and appends an immutable
// transaction row inside one storage transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/microbank/corebank/internal/clock"
	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/money"
	"github.com/microbank/corebank/internal/store"
)

// PostInput describes one posting. Either HolderID or AccountID must be set;
// when only AccountID is given the account's lowest-id holder is used.
type PostInput struct {
	HolderID   int64
	AccountID  int64
	Kind       domain.TransactionKind
	Amount     decimal.Decimal
	Note       string
	OccurredAt time.Time
	PeriodTag  string

	// AllowBelowMinimum lowers the withdrawal floor from the plan minimum to zero.
	AllowBelowMinimum bool

	// Actor, when set, must be allowed to operate the locked account.
	Actor *domain.Actor
}

// Service implements the account ledger.
type Service struct {
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewService builds a ledger service.
func NewService(st store.Store, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{store: st, clock: clk, logger: logger}
}

// Post performs one atomic posting in its own storage transaction.
func (s *Service) Post(ctx context.Context, in PostInput) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = s.PostTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	attrs := []any{
		slog.Int64("transaction_id", out.ID),
		slog.Int64("account_id", out.AccountID),
		slog.String("kind", string(out.Kind)),
		slog.String("amount", money.Format(out.Amount)),
	}
	if in.Actor != nil {
		attrs = append(attrs, slog.String("actor", in.Actor.EmployeeID), slog.String("role", string(in.Actor.Role)))
	}
	s.logger.Info("transaction posted", attrs...)
	return out, nil
}

// PostTx performs the posting inside a caller-owned transaction. The account
// row is locked before its balance is read.
func (s *Service) PostTx(ctx context.Context, tx store.Tx, in PostInput) (domain.Transaction, error) {
	if !in.Kind.Valid() {
		return domain.Transaction{}, fmt.Errorf("%w: %q", domain.ErrInvalidKind, in.Kind)
	}
	if !in.Amount.IsPositive() {
		return domain.Transaction{}, fmt.Errorf("%w: %s must be greater than zero", domain.ErrInvalidAmount, in.Amount)
	}
	if !in.Amount.Equal(money.Round2(in.Amount)) {
		return domain.Transaction{}, fmt.Errorf("%w: %s has more than two decimal places", domain.ErrInvalidAmount, in.Amount)
	}

	holder, err := resolveHolder(ctx, tx, in)
	if err != nil {
		return domain.Transaction{}, err
	}

	acc, err := tx.LockAccount(ctx, holder.AccountID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !acc.Active {
		return domain.Transaction{}, fmt.Errorf("%w: account %d is closed", domain.ErrAccountNotFound, acc.ID)
	}
	if in.Actor != nil {
		if err := in.Actor.CanOperateAccount(acc.SavingsAccount); err != nil {
			return domain.Transaction{}, err
		}
	}

	newBalance := acc.Balance.Add(in.Kind.Signed(in.Amount))
	if in.Kind == domain.KindWithdrawal {
		floor := acc.Plan.MinBalance
		if in.AllowBelowMinimum {
			floor = decimal.Zero
		}
		if newBalance.LessThan(floor) {
			return domain.Transaction{}, fmt.Errorf("%w: balance %s, withdrawal %s, floor %s",
				domain.ErrInsufficientFunds, money.Format(acc.Balance), money.Format(in.Amount), money.Format(floor))
		}
	}

	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock.Now()
	}

	if err := tx.UpdateBalance(ctx, acc.ID, newBalance); err != nil {
		return domain.Transaction{}, err
	}
	return tx.InsertTransaction(ctx, domain.Transaction{
		HolderID:    holder.ID,
		AccountID:   acc.ID,
		Kind:        in.Kind,
		Amount:      in.Amount,
		Timestamp:   occurred.UTC(),
		RefNumber:   uuid.NewString(),
		Description: in.Note,
		PeriodTag:   in.PeriodTag,
	})
}

func resolveHolder(ctx context.Context, tx store.Tx, in PostInput) (domain.Holder, error) {
	if in.HolderID != 0 {
		h, err := tx.HolderByID(ctx, in.HolderID)
		if err != nil {
			if errors.Is(err, domain.ErrHolderNotFound) {
				return domain.Holder{}, fmt.Errorf("%w: holder %d", domain.ErrAccountNotFound, in.HolderID)
			}
			return domain.Holder{}, err
		}
		if in.AccountID != 0 && h.AccountID != in.AccountID {
			return domain.Holder{}, fmt.Errorf("%w: holder %d does not hold account %d", domain.ErrAccountNotFound, h.ID, in.AccountID)
		}
		return h, nil
	}
	if in.AccountID == 0 {
		return domain.Holder{}, fmt.Errorf("%w: no holder or account given", domain.ErrAccountNotFound)
	}

	holders, err := tx.HoldersForAccount(ctx, in.AccountID)
	if err != nil {
		return domain.Holder{}, err
	}
	if len(holders) == 0 {
		// an unknown account has no holders either
		if _, err := tx.GetAccount(ctx, in.AccountID); err != nil {
			return domain.Holder{}, err
		}
		return domain.Holder{}, fmt.Errorf("%w: account %d has no holder", domain.ErrDataIntegrity, in.AccountID)
	}
	return holders[0], nil
}

// Account loads an account the actor is allowed to see.
func (s *Service) Account(ctx context.Context, actor domain.Actor, accountID int64) (domain.AccountWithPlan, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.AccountWithPlan{}, err
	}
	if err := actor.CanViewAccount(acc.SavingsAccount); err != nil {
		return domain.AccountWithPlan{}, err
	}
	return acc, nil
}

// Holder loads a holder whose account the actor is allowed to see.
func (s *Service) Holder(ctx context.Context, actor domain.Actor, holderID int64) (domain.Holder, error) {
	h, err := s.store.HolderByID(ctx, holderID)
	if err != nil {
		return domain.Holder{}, err
	}
	if _, err := s.Account(ctx, actor, h.AccountID); err != nil {
		return domain.Holder{}, err
	}
	return h, nil
}

// Balance returns the cached balance of an account.
func (s *Service) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// AccountTransactions lists every transaction on the account across all
// holders, newest first.
func (s *Service) AccountTransactions(ctx context.Context, accountID int64) ([]domain.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.TransactionsForAccount(ctx, accountID)
}

// HolderTransactions is the account view reached through one holder. Joint
// holders of the same account see the same rows.
func (s *Service) HolderTransactions(ctx context.Context, holderID int64) ([]domain.Transaction, error) {
	h, err := s.store.HolderByID(ctx, holderID)
	if err != nil {
		return nil, err
	}
	return s.store.TransactionsForAccount(ctx, h.AccountID)
}

// Reconcile checks that the cached balance equals the signed sum of the
// account's transactions.
func (s *Service) Reconcile(ctx context.Context, accountID int64) error {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	txns, err := s.store.TransactionsForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	sum := decimal.Zero
	for _, t := range txns {
		sum = sum.Add(t.Kind.Signed(t.Amount))
	}
	if !sum.Equal(acc.Balance) {
		return fmt.Errorf("%w: account %d balance %s, ledger sum %s",
			domain.ErrDataIntegrity, accountID, money.Format(acc.Balance), money.Format(sum))
	}
	return nil
}
