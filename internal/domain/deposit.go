package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutMode records how the customer chose to receive fixed-deposit interest.
type PayoutMode string

const (
	PayoutCapitalized PayoutMode = "capitalized"
	PayoutToAccount   PayoutMode = "payout"
)

// ParsePayoutMode validates a payout mode string.
func ParsePayoutMode(s string) (PayoutMode, error) {
	switch PayoutMode(strings.ToLower(strings.TrimSpace(s))) {
	case PayoutCapitalized:
		return PayoutCapitalized, nil
	case PayoutToAccount, "":
		return PayoutToAccount, nil
	default:
		return "", fmt.Errorf("%w: unknown payout mode %q", ErrInvalidInput, s)
	}
}

// DepositPlan is immutable reference data for fixed deposits.
type DepositPlan struct {
	ID         string
	TermMonths int
	AnnualRate decimal.Decimal // percent
}

// FixedDeposit is a term deposit funded from, and paid back into, a savings account.
type FixedDeposit struct {
	ID             int64
	AccountID      int64
	PlanID         string
	StartDate      time.Time
	EndDate        time.Time
	Principal      decimal.Decimal
	PayoutMode     PayoutMode
	LastPayoutDate time.Time
	Active         bool
}

// DepositWithPlan bundles a deposit with its plan as loaded under lock.
type DepositWithPlan struct {
	FixedDeposit
	Plan DepositPlan
}

// Matured reports whether the term has ended at asOf.
func (fd FixedDeposit) Matured(asOf time.Time) bool {
	return !asOf.Before(fd.EndDate)
}
