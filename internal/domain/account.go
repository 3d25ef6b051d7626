package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SavingsPlan is immutable reference data for savings accounts.
type SavingsPlan struct {
	ID         string
	Name       string
	AnnualRate decimal.Decimal // percent, e.g. 12 for 12%
	MinBalance decimal.Decimal
}

// SavingsAccount is a customer deposit account. Balance is a cache of the
// signed sum of its posted transactions and only the ledger writes it.
type SavingsAccount struct {
	ID              int64
	OpenDate        time.Time
	Balance         decimal.Decimal
	PlanID          string
	Active          bool
	BranchID        string
	OwnerEmployeeID string
}

// AccountWithPlan bundles an account with its plan as loaded under lock.
type AccountWithPlan struct {
	SavingsAccount
	Plan SavingsPlan
}

// Holder is one customer's membership of an account.
type Holder struct {
	ID         int64
	CustomerID string
	AccountID  int64
}
