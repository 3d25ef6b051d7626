// Package store is the transactional persistence contract for the ledger core
// together with its PostgreSQL and in-memory implementations.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/microbank/corebank/internal/domain"
)

// Reader exposes consistent reads. Inside a Tx they observe the transaction's
// own writes.
type Reader interface {
	GetAccount(ctx context.Context, id int64) (domain.AccountWithPlan, error)
	ListActiveAccounts(ctx context.Context) ([]domain.AccountWithPlan, error)
	HolderByID(ctx context.Context, id int64) (domain.Holder, error)
	HoldersForAccount(ctx context.Context, accountID int64) ([]domain.Holder, error)
	TransactionsForAccount(ctx context.Context, accountID int64) ([]domain.Transaction, error)

	GetSavingsPlan(ctx context.Context, id string) (domain.SavingsPlan, error)
	GetDepositPlan(ctx context.Context, id string) (domain.DepositPlan, error)
	ListDepositPlans(ctx context.Context) ([]domain.DepositPlan, error)

	GetDeposit(ctx context.Context, id int64) (domain.DepositWithPlan, error)
	DepositsForAccount(ctx context.Context, accountID int64) ([]domain.FixedDeposit, error)
	ListActiveDeposits(ctx context.Context) ([]domain.DepositWithPlan, error)
}

// Tx is a single storage transaction. Lock* methods take an exclusive row lock
// held until commit or rollback.
type Tx interface {
	Reader

	LockAccount(ctx context.Context, id int64) (domain.AccountWithPlan, error)
	LockDeposit(ctx context.Context, id int64) (domain.DepositWithPlan, error)

	UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error)
	HasPeriodTag(ctx context.Context, accountID int64, kind domain.TransactionKind, tag string) (bool, error)

	InsertAccount(ctx context.Context, acc domain.SavingsAccount) (domain.SavingsAccount, error)
	SetAccountActive(ctx context.Context, id int64, active bool) error
	InsertHolder(ctx context.Context, h domain.Holder) (domain.Holder, error)

	ActiveDepositForAccount(ctx context.Context, accountID int64) (int64, bool, error)
	InsertDeposit(ctx context.Context, fd domain.FixedDeposit) (domain.FixedDeposit, error)
	UpdateDeposit(ctx context.Context, fd domain.FixedDeposit) error
}

// Store is the ledger store collaborator.
type Store interface {
	Reader

	// InTx runs fn inside one storage transaction. A non-nil error from fn
	// rolls back every write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	InsertSavingsPlan(ctx context.Context, p domain.SavingsPlan) error
	InsertDepositPlan(ctx context.Context, p domain.DepositPlan) error
}
