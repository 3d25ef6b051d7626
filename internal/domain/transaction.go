package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the closed set of balance-affecting events.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindInterest   TransactionKind = "interest"
)

// ParseTransactionKind accepts the lowercase names and the legacy capitalized ones.
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch TransactionKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDeposit:
		return KindDeposit, nil
	case KindWithdrawal:
		return KindWithdrawal, nil
	case KindInterest:
		return KindInterest, nil
	default:
		return "", fmt.Errorf("%w: unknown transaction kind %q", ErrInvalidKind, s)
	}
}

// Sign returns +1 for credits and -1 for debits.
func (k TransactionKind) Sign() int {
	switch k {
	case KindDeposit, KindInterest:
		return 1
	case KindWithdrawal:
		return -1
	default:
		panic(fmt.Sprintf("unhandled transaction kind %q", string(k)))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindInterest:
		return true
	default:
		return false
	}
}

// Signed applies the kind's sign to amount.
func (k TransactionKind) Signed(amount decimal.Decimal) decimal.Decimal {
	if k.Sign() < 0 {
		return amount.Neg()
	}
	return amount
}

// Transaction is an immutable ledger row. PeriodTag, when set, marks a
// periodic posting (interest, maturity) and is unique per account and kind.
type Transaction struct {
	ID          int64
	HolderID    int64
	AccountID   int64
	Kind        TransactionKind
	Amount      decimal.Decimal
	Timestamp   time.Time
	RefNumber   string
	Description string
	PeriodTag   string
}
