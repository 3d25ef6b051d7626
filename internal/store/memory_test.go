package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/microbank/corebank/internal/domain"
)

func seedAccount(t *testing.T, s *MemoryStore) (domain.SavingsAccount, domain.Holder) {
	t.Helper()
	ctx := context.Background()
	if err := s.InsertSavingsPlan(ctx, domain.SavingsPlan{ID: "basic", Name: "Basic", AnnualRate: decimal.NewFromInt(12), MinBalance: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("insert plan: %v", err)
	}
	var (
		acc    domain.SavingsAccount
		holder domain.Holder
	)
	err := s.InTx(ctx, func(tx Tx) error {
		var err error
		acc, err = tx.InsertAccount(ctx, domain.SavingsAccount{OpenDate: time.Now().UTC(), PlanID: "basic", Active: true, BranchID: "BR1", OwnerEmployeeID: "E1"})
		if err != nil {
			return err
		}
		holder, err = tx.InsertHolder(ctx, domain.Holder{CustomerID: "C1", AccountID: acc.ID})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return acc, holder
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	acc, holder := seedAccount(t, s)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.UpdateBalance(ctx, acc.ID, decimal.NewFromInt(500)); err != nil {
			return err
		}
		if _, err := tx.InsertTransaction(ctx, domain.Transaction{HolderID: holder.ID, AccountID: acc.ID, Kind: domain.KindDeposit, Amount: decimal.NewFromInt(500)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.Balance.IsZero() {
		t.Fatalf("expected rolled back balance 0, got %s", got.Balance)
	}
	txns, _ := s.TransactionsForAccount(ctx, acc.ID)
	if len(txns) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txns))
	}
}

func TestMemoryStoreInjectedFault(t *testing.T) {
	s := NewMemoryStore()
	acc, _ := seedAccount(t, s)
	ctx := context.Background()

	s.InjectFault(OpLockAccount, domain.ErrStorageConflict)
	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.LockAccount(ctx, acc.ID)
		return err
	})
	if !errors.Is(err, domain.ErrStorageConflict) {
		t.Fatalf("expected injected conflict, got %v", err)
	}

	err = s.InTx(ctx, func(tx Tx) error {
		_, err := tx.LockAccount(ctx, acc.ID)
		return err
	})
	if err != nil {
		t.Fatalf("fault should be consumed once, got %v", err)
	}
}

func TestMemoryStorePeriodTagUnique(t *testing.T) {
	s := NewMemoryStore()
	acc, holder := seedAccount(t, s)
	ctx := context.Background()

	insert := func() error {
		return s.InTx(ctx, func(tx Tx) error {
			_, err := tx.InsertTransaction(ctx, domain.Transaction{
				HolderID: holder.ID, AccountID: acc.ID, Kind: domain.KindInterest,
				Amount: decimal.NewFromInt(1), PeriodTag: "savings-interest:2024-01",
			})
			return err
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(); !errors.Is(err, domain.ErrDuplicatePeriod) {
		t.Fatalf("expected ErrDuplicatePeriod, got %v", err)
	}
}

func TestMemoryStoreOneActiveDeposit(t *testing.T) {
	s := NewMemoryStore()
	acc, _ := seedAccount(t, s)
	ctx := context.Background()
	if err := s.InsertDepositPlan(ctx, domain.DepositPlan{ID: "fd6", TermMonths: 6, AnnualRate: decimal.NewFromInt(12)}); err != nil {
		t.Fatalf("insert deposit plan: %v", err)
	}

	open := func() error {
		return s.InTx(ctx, func(tx Tx) error {
			_, err := tx.InsertDeposit(ctx, domain.FixedDeposit{AccountID: acc.ID, PlanID: "fd6", Principal: decimal.NewFromInt(10), Active: true})
			return err
		})
	}
	if err := open(); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if err := open(); !errors.Is(err, domain.ErrDuplicateActiveDeposit) {
		t.Fatalf("expected ErrDuplicateActiveDeposit, got %v", err)
	}
}

func TestMemoryStoreTransactionsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	acc, holder := seedAccount(t, s)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := s.InTx(ctx, func(tx Tx) error {
			_, err := tx.InsertTransaction(ctx, domain.Transaction{HolderID: holder.ID, AccountID: acc.ID, Kind: domain.KindDeposit, Amount: decimal.NewFromInt(int64(i))})
			return err
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	txns, err := s.TransactionsForAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txns) != 3 || txns[0].ID != 3 || txns[2].ID != 1 {
		t.Fatalf("unexpected order: %+v", txns)
	}
}

func TestMemoryStorePlanInsertsDuringReads(t *testing.T) {
	s := NewMemoryStore()
	acc, _ := seedAccount(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if err := s.InsertSavingsPlan(ctx, domain.SavingsPlan{ID: fmt.Sprintf("sp-%d", i), AnnualRate: decimal.NewFromInt(1), MinBalance: decimal.Zero}); err != nil {
				t.Errorf("insert savings plan: %v", err)
				return
			}
			if err := s.InsertDepositPlan(ctx, domain.DepositPlan{ID: fmt.Sprintf("fd-%d", i), TermMonths: 1, AnnualRate: decimal.NewFromInt(1)}); err != nil {
				t.Errorf("insert deposit plan: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if _, err := s.GetAccount(ctx, acc.ID); err != nil {
				t.Errorf("get account: %v", err)
				return
			}
			if _, err := s.ListDepositPlans(ctx); err != nil {
				t.Errorf("list deposit plans: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	plans, err := s.ListDepositPlans(ctx)
	if err != nil {
		t.Fatalf("list deposit plans: %v", err)
	}
	if len(plans) != 500 {
		t.Fatalf("expected 500 deposit plans, got %d", len(plans))
	}
	if _, err := s.GetSavingsPlan(ctx, "sp-499"); err != nil {
		t.Fatalf("last savings plan missing: %v", err)
	}
}
