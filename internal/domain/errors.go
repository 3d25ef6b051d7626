package domain

import "errors"

var (
	// ErrInvalidAmount occurs when a posting amount is zero, negative or finer than a cent.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInput covers malformed reference data and request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidKind occurs when a transaction kind is outside the closed set.
	ErrInvalidKind = errors.New("invalid transaction kind")

	// ErrAccountNotFound covers unknown holders/accounts and inactive accounts.
	ErrAccountNotFound = errors.New("account not found")

	// ErrHolderNotFound indicates an unknown holder reference.
	ErrHolderNotFound = errors.New("holder not found")

	ErrPlanNotFound    = errors.New("plan not found")
	ErrDepositNotFound = errors.New("fixed deposit not found")

	// ErrInsufficientFunds occurs when a debit would breach the account floor.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateActiveDeposit indicates the account already has an open fixed deposit.
	ErrDuplicateActiveDeposit = errors.New("account already has an active fixed deposit")

	ErrUnauthorized = errors.New("operation not permitted for caller")

	// ErrDataIntegrity flags stored state that breaks a structural invariant,
	// e.g. a funded account without any holder.
	ErrDataIntegrity = errors.New("data integrity violation")

	ErrAlreadyClosed = errors.New("fixed deposit already closed")
	ErrNotMatured    = errors.New("fixed deposit has not matured")

	// ErrDuplicatePeriod indicates a periodic posting already exists for the
	// same account, kind and period tag.
	ErrDuplicatePeriod = errors.New("posting already recorded for period")

	// ErrStorageConflict is the only retryable class: lock contention,
	// serialization failure or deadlock reported by the store.
	ErrStorageConflict = errors.New("storage conflict")
)

// Retryable reports whether err may succeed when the same operation is retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageConflict)
}
