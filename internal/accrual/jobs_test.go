package accrual

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/microbank/corebank/internal/account"
	"github.com/microbank/corebank/internal/clock"
	"github.com/microbank/corebank/internal/deposit"
	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/ledger"
	"github.com/microbank/corebank/internal/logging"
	"github.com/microbank/corebank/internal/store"
)

var (
	agent = domain.Actor{Role: domain.RoleAgent, EmployeeID: "EMP1", BranchID: "BR001"}
	admin = domain.Actor{Role: domain.RoleAdmin, EmployeeID: "ADM1"}
	day0  = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	store    *store.MemoryStore
	clock    *clock.Manual
	ledger   *ledger.Service
	accounts *account.Service
	deposits *deposit.Manager
	jobs     *Jobs
}

// newEnv registers a 12% savings plan with a 500.00 minimum and a 6-month
// 12% deposit plan.
func newEnv(t *testing.T, workers int) env {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	clk := clock.NewManual(day0)
	led := ledger.NewService(st, clk, logging.Discard())
	accounts := account.NewService(st, led, clk, logging.Discard())
	deposits := deposit.NewManager(st, led, clk, logging.Discard())
	jobs := NewJobs(st, led, deposits, nil, clk, logging.Discard(), Options{Workers: workers, MaxRetries: 3, RetryBaseDelay: time.Millisecond})

	if _, err := accounts.CreatePlan(ctx, admin, account.PlanInput{ID: "classic", Name: "Classic", AnnualRate: "12%", MinBalance: "500.00"}); err != nil {
		t.Fatalf("savings plan: %v", err)
	}
	if _, err := deposits.CreatePlan(ctx, admin, deposit.PlanInput{ID: "fd6", TermMonths: 6, AnnualRate: "12%"}); err != nil {
		t.Fatalf("deposit plan: %v", err)
	}
	return env{store: st, clock: clk, ledger: led, accounts: accounts, deposits: deposits, jobs: jobs}
}

func (e env) open(t *testing.T, balance string) int64 {
	t.Helper()
	acc, err := e.accounts.Open(context.Background(), agent, account.OpenInput{PlanID: "classic", CustomerIDs: []string{"C1"}, InitialDeposit: amt(balance)})
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	return acc.ID
}

func (e env) interestRows(t *testing.T, accountID int64) []domain.Transaction {
	t.Helper()
	txns, err := e.ledger.AccountTransactions(context.Background(), accountID)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	var out []domain.Transaction
	for _, txn := range txns {
		if txn.Kind == domain.KindInterest {
			out = append(out, txn)
		}
	}
	return out
}

func TestSavingsInterestOncePerMonth(t *testing.T) {
	e := newEnv(t, 4)
	ctx := context.Background()
	ids := []int64{e.open(t, "1000.00"), e.open(t, "2500.00"), e.open(t, "600.00")}

	asOf := time.Date(2024, 1, 31, 0, 10, 0, 0, time.UTC)
	sum, err := e.jobs.SavingsInterestPass(ctx, asOf)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if sum.Processed != 3 || sum.Failed != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if !sum.Total.Equal(amt("41.00")) {
		t.Fatalf("expected total 41.00, got %s", sum.Total)
	}

	// a second run in the same month is a no-op
	again, err := e.jobs.SavingsInterestPass(ctx, asOf.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if again.Processed != 0 || again.Skipped != 3 {
		t.Fatalf("expected all skipped, got %+v", again)
	}

	rows := e.interestRows(t, ids[0])
	if len(rows) != 1 || !rows[0].Amount.Equal(amt("10.00")) {
		t.Fatalf("expected one 10.00 interest row, got %+v", rows)
	}
	if rows[0].Description != "Monthly savings interest for 01/2024" || rows[0].PeriodTag != "savings-interest:2024-01" {
		t.Fatalf("unexpected interest row %+v", rows[0])
	}
	for _, id := range ids {
		if err := e.ledger.Reconcile(ctx, id); err != nil {
			t.Fatalf("reconcile %d: %v", id, err)
		}
	}

	// the next month pays again
	feb, err := e.jobs.SavingsInterestPass(ctx, time.Date(2024, 2, 29, 0, 10, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("february pass: %v", err)
	}
	if feb.Processed != 3 {
		t.Fatalf("expected 3 processed in February, got %+v", feb)
	}
}

func TestSavingsInterestSkipsBelowMinimum(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	id := e.open(t, "600.00")
	if _, err := e.ledger.Post(ctx, ledger.PostInput{AccountID: id, Kind: domain.KindWithdrawal, Amount: amt("100.00")}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := e.deposits.Open(ctx, agent, deposit.OpenInput{AccountID: id, PlanID: "fd6", Principal: amt("450.00")}); err != nil {
		t.Fatalf("open deposit: %v", err)
	}

	sum, err := e.jobs.SavingsInterestPass(ctx, day0.AddDate(0, 0, 30))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if sum.Processed != 0 || sum.Skipped != 1 {
		t.Fatalf("expected account below minimum to be skipped, got %+v", sum)
	}
	if rows := e.interestRows(t, id); len(rows) != 0 {
		t.Fatalf("expected no interest, got %+v", rows)
	}
}

func TestPassIsolatesFailingEntity(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	good := e.open(t, "1000.00")

	// an account without holders cannot resolve a posting holder
	var orphan int64
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		acc, err := tx.InsertAccount(ctx, domain.SavingsAccount{PlanID: "classic", Balance: amt("800.00"), Active: true, OwnerEmployeeID: "EMP1", BranchID: "BR001"})
		orphan = acc.ID
		return err
	})
	if err != nil {
		t.Fatalf("seed orphan: %v", err)
	}

	sum, err := e.jobs.SavingsInterestPass(ctx, day0)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if sum.Processed != 1 || sum.Failed != 1 {
		t.Fatalf("expected 1 processed and 1 failed, got %+v", sum)
	}
	if rows := e.interestRows(t, good); len(rows) != 1 {
		t.Fatalf("healthy account should be credited, got %d rows", len(rows))
	}
	acc, err := e.store.GetAccount(ctx, orphan)
	if err != nil {
		t.Fatalf("get orphan: %v", err)
	}
	if !acc.Balance.Equal(amt("800.00")) {
		t.Fatalf("failed entity must be untouched, got %s", acc.Balance)
	}
}

func TestConflictIsRetried(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	id := e.open(t, "1000.00")

	e.store.InjectFault(store.OpLockAccount, domain.ErrStorageConflict)
	e.store.InjectFault(store.OpLockAccount, domain.ErrStorageConflict)

	sum, err := e.jobs.SavingsInterestPass(ctx, day0)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if sum.Processed != 1 || sum.Failed != 0 {
		t.Fatalf("expected retried success, got %+v", sum)
	}
	if rows := e.interestRows(t, id); len(rows) != 1 {
		t.Fatalf("expected one interest row, got %d", len(rows))
	}
}

func TestConflictRetriesExhausted(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	e.open(t, "1000.00")

	for i := 0; i < 4; i++ {
		e.store.InjectFault(store.OpLockAccount, domain.ErrStorageConflict)
	}
	sum, err := e.jobs.SavingsInterestPass(ctx, day0)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if sum.Failed != 1 {
		t.Fatalf("expected failure after retries, got %+v", sum)
	}
}

func TestDepositPasses(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	id := e.open(t, "12000.00")
	fd, err := e.deposits.Open(ctx, agent, deposit.OpenInput{AccountID: id, PlanID: "fd6", Principal: amt("10000.00")})
	if err != nil {
		t.Fatalf("open deposit: %v", err)
	}

	sum, err := e.jobs.DepositInterestPass(ctx, day0.AddDate(0, 0, 31))
	if err != nil {
		t.Fatalf("interest pass: %v", err)
	}
	if sum.Processed != 1 || !sum.Total.Equal(amt("100.00")) {
		t.Fatalf("expected 100.00 interest, got %+v", sum)
	}
	again, _ := e.jobs.DepositInterestPass(ctx, day0.AddDate(0, 0, 31))
	if again.Processed != 0 || again.Skipped != 1 {
		t.Fatalf("repeat pass should skip, got %+v", again)
	}

	// before the end date the maturity pass selects nothing
	early, _ := e.jobs.MaturityPass(ctx, day0.AddDate(0, 0, 31))
	if early.Processed+early.Skipped+early.Failed != 0 {
		t.Fatalf("expected no candidates, got %+v", early)
	}

	matured, err := e.jobs.MaturityPass(ctx, fd.EndDate.Add(time.Hour))
	if err != nil {
		t.Fatalf("maturity pass: %v", err)
	}
	if matured.Processed != 1 {
		t.Fatalf("expected one maturity, got %+v", matured)
	}
	got, err := e.store.GetDeposit(ctx, fd.ID)
	if err != nil {
		t.Fatalf("get deposit: %v", err)
	}
	if got.Active {
		t.Fatal("deposit should be closed")
	}
	if err := e.ledger.Reconcile(ctx, id); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// matured deposits are no longer selected by either pass
	post, _ := e.jobs.MaturityPass(ctx, fd.EndDate.AddDate(0, 1, 0))
	if post.Processed != 0 {
		t.Fatalf("closed deposit matured twice: %+v", post)
	}
	interest, _ := e.jobs.DepositInterestPass(ctx, fd.EndDate.AddDate(0, 1, 0))
	if interest.Processed != 0 {
		t.Fatalf("closed deposit accrued: %+v", interest)
	}
}

func TestRunAllAndTriggerUnknownPass(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	e.open(t, "1000.00")

	sums := e.jobs.RunAll(ctx, day0)
	if len(sums) != len(Passes) {
		t.Fatalf("expected %d summaries, got %d", len(Passes), len(sums))
	}
	if sums[0].Pass != PassSavingsInterest || sums[0].Processed != 1 {
		t.Fatalf("unexpected savings summary %+v", sums[0])
	}

	if _, err := ParsePass("weekly-bonus"); !errors.Is(err, ErrUnknownPass) {
		t.Fatalf("expected ErrUnknownPass, got %v", err)
	}
	if p, err := ParsePass(" Deposit-Maturity "); err != nil || p != PassDepositMaturity {
		t.Fatalf("expected deposit-maturity, got %q %v", p, err)
	}
}
