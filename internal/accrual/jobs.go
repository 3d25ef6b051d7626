// Package accrual runs the scheduled interest passes: monthly savings interest,
// fixed-deposit interest and fixed-deposit maturity. Every pass is idempotent
// per entity and isolates failures so one bad entity never stops the others.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/microbank/corebank/internal/clock"
	"github.com/microbank/corebank/internal/deposit"
	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/ledger"
	"github.com/microbank/corebank/internal/money"
	"github.com/microbank/corebank/internal/period"
	"github.com/microbank/corebank/internal/store"
)

// Pass names one of the scheduled passes.
type Pass string

const (
	PassSavingsInterest Pass = "savings-interest"
	PassDepositInterest Pass = "deposit-interest"
	PassDepositMaturity Pass = "deposit-maturity"
)

// Passes lists every pass in the order RunAll executes them.
var Passes = []Pass{PassSavingsInterest, PassDepositInterest, PassDepositMaturity}

// ErrUnknownPass is returned for a pass name outside Passes.
var ErrUnknownPass = errors.New("unknown accrual pass")

// ParsePass validates a pass name.
func ParsePass(s string) (Pass, error) {
	p := Pass(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Passes {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPass, s)
}

// Summary reports the outcome of one pass.
type Summary struct {
	Pass      Pass            `json:"pass"`
	AsOf      time.Time       `json:"as_of"`
	Processed int             `json:"processed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Total     decimal.Decimal `json:"total"`
	Duration  time.Duration   `json:"duration_ns"`
}

// Options tunes per-entity parallelism and conflict retries.
type Options struct {
	Workers        int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeProcessed
)

// Jobs contains the logic for all scheduled passes.
type Jobs struct {
	store    store.Store
	ledger   *ledger.Service
	deposits *deposit.Manager
	lock     PassLock
	clock    clock.Clock
	logger   *slog.Logger
	opts     Options
}

// NewJobs creates a new Jobs runner. A nil lock disables cross-process exclusion.
func NewJobs(st store.Store, led *ledger.Service, deposits *deposit.Manager, lock PassLock, clk clock.Clock, logger *slog.Logger, opts Options) *Jobs {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if lock == nil {
		lock = NoopPassLock{}
	}
	return &Jobs{store: st, ledger: led, deposits: deposits, lock: lock, clock: clk, logger: logger, opts: opts}
}

// Run executes one pass as of asOf while holding its pass lock.
func (j *Jobs) Run(ctx context.Context, pass Pass, asOf time.Time) (Summary, error) {
	release, err := j.lock.Acquire(ctx, pass)
	if err != nil {
		return Summary{Pass: pass, AsOf: asOf, Total: decimal.Zero}, err
	}
	defer release()

	switch pass {
	case PassSavingsInterest:
		return j.SavingsInterestPass(ctx, asOf)
	case PassDepositInterest:
		return j.DepositInterestPass(ctx, asOf)
	case PassDepositMaturity:
		return j.MaturityPass(ctx, asOf)
	default:
		return Summary{}, fmt.Errorf("%w: %q", ErrUnknownPass, pass)
	}
}

// RunAll executes every pass in order. A pass that cannot start is logged and
// the remaining passes still run.
func (j *Jobs) RunAll(ctx context.Context, asOf time.Time) []Summary {
	out := make([]Summary, 0, len(Passes))
	for _, p := range Passes {
		sum, err := j.Run(ctx, p, asOf)
		if err != nil {
			j.logger.Error("accrual pass not run", slog.String("pass", string(p)), slog.Any("error", err))
			continue
		}
		out = append(out, sum)
	}
	return out
}

// SavingsInterestPass credits one month of interest to every active account
// whose balance is at least its plan minimum, once per calendar month.
func (j *Jobs) SavingsInterestPass(ctx context.Context, asOf time.Time) (Summary, error) {
	accounts, err := j.store.ListActiveAccounts(ctx)
	if err != nil {
		return Summary{Pass: PassSavingsInterest, AsOf: asOf, Total: decimal.Zero}, fmt.Errorf("list accounts: %w", err)
	}
	ids := make([]int64, 0, len(accounts))
	for _, acc := range accounts {
		ids = append(ids, acc.ID)
	}
	return j.runEntities(ctx, PassSavingsInterest, asOf, ids, func(ctx context.Context, id int64) (outcome, decimal.Decimal, error) {
		return j.creditSavingsInterest(ctx, id, asOf)
	}), nil
}

// SavingsTag is the period tag of the savings interest for asOf's month.
func SavingsTag(asOf time.Time) string {
	return "savings-interest:" + period.MonthTag(asOf)
}

func (j *Jobs) creditSavingsInterest(ctx context.Context, accountID int64, asOf time.Time) (outcome, decimal.Decimal, error) {
	tag := SavingsTag(asOf)
	actor := domain.SystemActor
	result := outcomeSkipped
	amount := decimal.Zero

	err := j.store.InTx(ctx, func(tx store.Tx) error {
		acc, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !acc.Active || acc.Balance.LessThan(acc.Plan.MinBalance) {
			return nil
		}
		// the unique index on the tag backs this check if two passes race
		done, err := tx.HasPeriodTag(ctx, acc.ID, domain.KindInterest, tag)
		if err != nil || done {
			return err
		}
		interest := money.Round2(money.MonthlyInterest(acc.Balance, acc.Plan.AnnualRate, 1))
		if !interest.IsPositive() {
			return nil
		}
		if _, err := j.ledger.PostTx(ctx, tx, ledger.PostInput{
			AccountID:  acc.ID,
			Kind:       domain.KindInterest,
			Amount:     interest,
			Note:       fmt.Sprintf("Monthly savings interest for %02d/%04d", int(asOf.Month()), asOf.Year()),
			OccurredAt: asOf,
			PeriodTag:  tag,
			Actor:      &actor,
		}); err != nil {
			return err
		}
		result, amount = outcomeProcessed, interest
		return nil
	})
	if errors.Is(err, domain.ErrDuplicatePeriod) {
		return outcomeSkipped, decimal.Zero, nil
	}
	if err != nil {
		return outcomeSkipped, decimal.Zero, err
	}
	return result, amount, nil
}

// DepositInterestPass accrues interest on every active deposit that has not
// reached its end date.
func (j *Jobs) DepositInterestPass(ctx context.Context, asOf time.Time) (Summary, error) {
	deposits, err := j.store.ListActiveDeposits(ctx)
	if err != nil {
		return Summary{Pass: PassDepositInterest, AsOf: asOf, Total: decimal.Zero}, fmt.Errorf("list deposits: %w", err)
	}
	ids := make([]int64, 0, len(deposits))
	for _, fd := range deposits {
		if !fd.Matured(asOf) {
			ids = append(ids, fd.ID)
		}
	}
	return j.runEntities(ctx, PassDepositInterest, asOf, ids, func(ctx context.Context, id int64) (outcome, decimal.Decimal, error) {
		txn, err := j.deposits.AccrueInterest(ctx, id, asOf)
		switch {
		case errors.Is(err, domain.ErrAlreadyClosed), errors.Is(err, domain.ErrDuplicatePeriod):
			return outcomeSkipped, decimal.Zero, nil
		case err != nil:
			return outcomeSkipped, decimal.Zero, err
		case txn == nil:
			return outcomeSkipped, decimal.Zero, nil
		}
		return outcomeProcessed, txn.Amount, nil
	}), nil
}

// MaturityPass closes every active deposit whose end date has passed.
func (j *Jobs) MaturityPass(ctx context.Context, asOf time.Time) (Summary, error) {
	deposits, err := j.store.ListActiveDeposits(ctx)
	if err != nil {
		return Summary{Pass: PassDepositMaturity, AsOf: asOf, Total: decimal.Zero}, fmt.Errorf("list deposits: %w", err)
	}
	ids := make([]int64, 0, len(deposits))
	for _, fd := range deposits {
		if fd.Matured(asOf) {
			ids = append(ids, fd.ID)
		}
	}
	return j.runEntities(ctx, PassDepositMaturity, asOf, ids, func(ctx context.Context, id int64) (outcome, decimal.Decimal, error) {
		txn, err := j.deposits.MatureAndClose(ctx, id, asOf)
		switch {
		case errors.Is(err, domain.ErrAlreadyClosed), errors.Is(err, domain.ErrNotMatured), errors.Is(err, domain.ErrDuplicatePeriod):
			return outcomeSkipped, decimal.Zero, nil
		case err != nil:
			return outcomeSkipped, decimal.Zero, err
		}
		return outcomeProcessed, txn.Amount, nil
	}), nil
}

type entityFunc func(ctx context.Context, id int64) (outcome, decimal.Decimal, error)

// runEntities applies fn to every id with bounded parallelism. Entity errors
// are counted and logged, never returned.
func (j *Jobs) runEntities(ctx context.Context, pass Pass, asOf time.Time, ids []int64, fn entityFunc) Summary {
	start := time.Now()
	sum := Summary{Pass: pass, AsOf: asOf, Total: decimal.Zero}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(j.opts.Workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, amount, err := j.withRetry(ctx, pass, id, fn)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				sum.Failed++
				level := slog.LevelWarn
				if errors.Is(err, domain.ErrDataIntegrity) {
					level = slog.LevelError
				}
				j.logger.Log(ctx, level, "accrual entity failed",
					slog.String("pass", string(pass)),
					slog.Int64("entity_id", id),
					slog.Any("error", err),
				)
			case res == outcomeProcessed:
				sum.Processed++
				sum.Total = sum.Total.Add(amount)
			default:
				sum.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = time.Since(start)
	j.logger.Info("accrual pass finished",
		slog.String("pass", string(pass)),
		slog.String("actor", domain.SystemActor.EmployeeID),
		slog.Time("as_of", asOf),
		slog.Int("processed", sum.Processed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed),
		slog.String("total", money.Format(sum.Total)),
		slog.Duration("duration", sum.Duration),
	)
	return sum
}

// withRetry retries a single entity on storage conflicts with exponential
// backoff. Any other error is final.
func (j *Jobs) withRetry(ctx context.Context, pass Pass, id int64, fn entityFunc) (outcome, decimal.Decimal, error) {
	for attempt := 0; ; attempt++ {
		res, amount, err := fn(ctx, id)
		if err == nil || !domain.Retryable(err) || attempt >= j.opts.MaxRetries {
			return res, amount, err
		}
		delay := j.opts.RetryBaseDelay << attempt
		j.logger.Debug("retrying accrual entity",
			slog.String("pass", string(pass)),
			slog.Int64("entity_id", id),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return outcomeSkipped, decimal.Zero, ctx.Err()
		case <-timer.C:
		}
	}
}
