package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/microbank/corebank/internal/domain"
)

// Op names a MemoryStore write used for fault injection.
type Op string

const (
	OpLockAccount       Op = "lock_account"
	OpLockDeposit       Op = "lock_deposit"
	OpUpdateBalance     Op = "update_balance"
	OpInsertTransaction Op = "insert_transaction"
	OpInsertDeposit     Op = "insert_deposit"
	OpUpdateDeposit     Op = "update_deposit"
)

type memState struct {
	savingsPlans map[string]domain.SavingsPlan
	depositPlans map[string]domain.DepositPlan
	accounts     map[int64]domain.SavingsAccount
	holders      map[int64]domain.Holder
	deposits     map[int64]domain.FixedDeposit
	txns         []domain.Transaction

	nextAccountID int64
	nextHolderID  int64
	nextDepositID int64
	nextTxnID     int64
}

func (s *memState) clone() *memState {
	c := *s
	c.savingsPlans = make(map[string]domain.SavingsPlan, len(s.savingsPlans))
	for k, v := range s.savingsPlans {
		c.savingsPlans[k] = v
	}
	c.depositPlans = make(map[string]domain.DepositPlan, len(s.depositPlans))
	for k, v := range s.depositPlans {
		c.depositPlans[k] = v
	}
	c.accounts = make(map[int64]domain.SavingsAccount, len(s.accounts))
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.holders = make(map[int64]domain.Holder, len(s.holders))
	for k, v := range s.holders {
		c.holders[k] = v
	}
	c.deposits = make(map[int64]domain.FixedDeposit, len(s.deposits))
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	// rows are append-only, so sharing the backing array up to len is safe
	c.txns = s.txns[:len(s.txns):len(s.txns)]
	return &c
}

// MemoryStore is a concurrency-safe in-memory Store for tests and local
// development. Transactions are serialized behind one mutex and stage their
// writes on a copy that replaces the live state only on success.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memState
	faults map[Op][]error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			savingsPlans: make(map[string]domain.SavingsPlan),
			depositPlans: make(map[string]domain.DepositPlan),
			accounts:     make(map[int64]domain.SavingsAccount),
			holders:      make(map[int64]domain.Holder),
			deposits:     make(map[int64]domain.FixedDeposit),
		},
		faults: make(map[Op][]error),
	}
}

// InjectFault makes the next call of op inside a transaction fail with err.
// Multiple injections for the same op are consumed in order.
func (s *MemoryStore) InjectFault(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *MemoryStore) takeFault(op Op) error {
	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	s.faults[op] = queue[1:]
	return queue[0]
}

// InTx implements Store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(&memTx{memReader: memReader{state: staged}, store: s}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// InsertSavingsPlan implements Store.
func (s *MemoryStore) InsertSavingsPlan(_ context.Context, p domain.SavingsPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.savingsPlans[p.ID]; exists {
		return fmt.Errorf("savings plan %s exists", p.ID)
	}
	next := s.state.clone()
	next.savingsPlans[p.ID] = p
	s.state = next
	return nil
}

// InsertDepositPlan implements Store.
func (s *MemoryStore) InsertDepositPlan(_ context.Context, p domain.DepositPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.depositPlans[p.ID]; exists {
		return fmt.Errorf("deposit plan %s exists", p.ID)
	}
	next := s.state.clone()
	next.depositPlans[p.ID] = p
	s.state = next
	return nil
}

func (s *MemoryStore) read() memReader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memReader{state: s.state}
}

func (s *MemoryStore) GetAccount(ctx context.Context, id int64) (domain.AccountWithPlan, error) {
	return s.read().GetAccount(ctx, id)
}

func (s *MemoryStore) ListActiveAccounts(ctx context.Context) ([]domain.AccountWithPlan, error) {
	return s.read().ListActiveAccounts(ctx)
}

func (s *MemoryStore) HolderByID(ctx context.Context, id int64) (domain.Holder, error) {
	return s.read().HolderByID(ctx, id)
}

func (s *MemoryStore) HoldersForAccount(ctx context.Context, accountID int64) ([]domain.Holder, error) {
	return s.read().HoldersForAccount(ctx, accountID)
}

func (s *MemoryStore) TransactionsForAccount(ctx context.Context, accountID int64) ([]domain.Transaction, error) {
	return s.read().TransactionsForAccount(ctx, accountID)
}

func (s *MemoryStore) GetSavingsPlan(ctx context.Context, id string) (domain.SavingsPlan, error) {
	return s.read().GetSavingsPlan(ctx, id)
}

func (s *MemoryStore) GetDepositPlan(ctx context.Context, id string) (domain.DepositPlan, error) {
	return s.read().GetDepositPlan(ctx, id)
}

func (s *MemoryStore) ListDepositPlans(ctx context.Context) ([]domain.DepositPlan, error) {
	return s.read().ListDepositPlans(ctx)
}

func (s *MemoryStore) GetDeposit(ctx context.Context, id int64) (domain.DepositWithPlan, error) {
	return s.read().GetDeposit(ctx, id)
}

func (s *MemoryStore) DepositsForAccount(ctx context.Context, accountID int64) ([]domain.FixedDeposit, error) {
	return s.read().DepositsForAccount(ctx, accountID)
}

func (s *MemoryStore) ListActiveDeposits(ctx context.Context) ([]domain.DepositWithPlan, error) {
	return s.read().ListActiveDeposits(ctx)
}

// memReader reads a state snapshot. The live state is only ever replaced, never
// mutated in place, so a snapshot taken under the lock stays consistent.
type memReader struct {
	state *memState
}

func (r memReader) GetAccount(_ context.Context, id int64) (domain.AccountWithPlan, error) {
	acc, ok := r.state.accounts[id]
	if !ok {
		return domain.AccountWithPlan{}, fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
	}
	plan, ok := r.state.savingsPlans[acc.PlanID]
	if !ok {
		return domain.AccountWithPlan{}, fmt.Errorf("%w: savings plan %s of account %d", domain.ErrPlanNotFound, acc.PlanID, id)
	}
	return domain.AccountWithPlan{SavingsAccount: acc, Plan: plan}, nil
}

func (r memReader) ListActiveAccounts(ctx context.Context) ([]domain.AccountWithPlan, error) {
	out := make([]domain.AccountWithPlan, 0, len(r.state.accounts))
	for id, acc := range r.state.accounts {
		if !acc.Active {
			continue
		}
		awp, err := r.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, awp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReader) HolderByID(_ context.Context, id int64) (domain.Holder, error) {
	h, ok := r.state.holders[id]
	if !ok {
		return domain.Holder{}, fmt.Errorf("%w: %d", domain.ErrHolderNotFound, id)
	}
	return h, nil
}

func (r memReader) HoldersForAccount(_ context.Context, accountID int64) ([]domain.Holder, error) {
	var out []domain.Holder
	for _, h := range r.state.holders {
		if h.AccountID == accountID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReader) TransactionsForAccount(_ context.Context, accountID int64) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for i := len(r.state.txns) - 1; i >= 0; i-- {
		if r.state.txns[i].AccountID == accountID {
			out = append(out, r.state.txns[i])
		}
	}
	return out, nil
}

func (r memReader) GetSavingsPlan(_ context.Context, id string) (domain.SavingsPlan, error) {
	p, ok := r.state.savingsPlans[id]
	if !ok {
		return domain.SavingsPlan{}, fmt.Errorf("%w: savings plan %s", domain.ErrPlanNotFound, id)
	}
	return p, nil
}

func (r memReader) GetDepositPlan(_ context.Context, id string) (domain.DepositPlan, error) {
	p, ok := r.state.depositPlans[id]
	if !ok {
		return domain.DepositPlan{}, fmt.Errorf("%w: deposit plan %s", domain.ErrPlanNotFound, id)
	}
	return p, nil
}

func (r memReader) ListDepositPlans(_ context.Context) ([]domain.DepositPlan, error) {
	out := make([]domain.DepositPlan, 0, len(r.state.depositPlans))
	for _, p := range r.state.depositPlans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TermMonths != out[j].TermMonths {
			return out[i].TermMonths < out[j].TermMonths
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memReader) GetDeposit(_ context.Context, id int64) (domain.DepositWithPlan, error) {
	fd, ok := r.state.deposits[id]
	if !ok {
		return domain.DepositWithPlan{}, fmt.Errorf("%w: %d", domain.ErrDepositNotFound, id)
	}
	plan, ok := r.state.depositPlans[fd.PlanID]
	if !ok {
		return domain.DepositWithPlan{}, fmt.Errorf("%w: deposit plan %s of deposit %d", domain.ErrPlanNotFound, fd.PlanID, id)
	}
	return domain.DepositWithPlan{FixedDeposit: fd, Plan: plan}, nil
}

func (r memReader) DepositsForAccount(_ context.Context, accountID int64) ([]domain.FixedDeposit, error) {
	var out []domain.FixedDeposit
	for _, fd := range r.state.deposits {
		if fd.AccountID == accountID {
			out = append(out, fd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

func (r memReader) ListActiveDeposits(ctx context.Context) ([]domain.DepositWithPlan, error) {
	var out []domain.DepositWithPlan
	for id, fd := range r.state.deposits {
		if !fd.Active {
			continue
		}
		dwp, err := r.GetDeposit(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, dwp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memTx struct {
	memReader
	store *MemoryStore
}

func (t *memTx) LockAccount(ctx context.Context, id int64) (domain.AccountWithPlan, error) {
	if err := t.store.takeFault(OpLockAccount); err != nil {
		return domain.AccountWithPlan{}, err
	}
	return t.GetAccount(ctx, id)
}

func (t *memTx) LockDeposit(ctx context.Context, id int64) (domain.DepositWithPlan, error) {
	if err := t.store.takeFault(OpLockDeposit); err != nil {
		return domain.DepositWithPlan{}, err
	}
	return t.GetDeposit(ctx, id)
}

func (t *memTx) UpdateBalance(_ context.Context, accountID int64, balance decimal.Decimal) error {
	if err := t.store.takeFault(OpUpdateBalance); err != nil {
		return err
	}
	acc, ok := t.state.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, accountID)
	}
	acc.Balance = balance
	t.state.accounts[accountID] = acc
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	if err := t.store.takeFault(OpInsertTransaction); err != nil {
		return domain.Transaction{}, err
	}
	if txn.PeriodTag != "" {
		dup, err := t.HasPeriodTag(ctx, txn.AccountID, txn.Kind, txn.PeriodTag)
		if err != nil {
			return domain.Transaction{}, err
		}
		if dup {
			return domain.Transaction{}, fmt.Errorf("%w: %s", domain.ErrDuplicatePeriod, txn.PeriodTag)
		}
	}
	t.state.nextTxnID++
	txn.ID = t.state.nextTxnID
	t.state.txns = append(t.state.txns, txn)
	return txn, nil
}

func (t *memTx) HasPeriodTag(_ context.Context, accountID int64, kind domain.TransactionKind, tag string) (bool, error) {
	for _, txn := range t.state.txns {
		if txn.AccountID == accountID && txn.Kind == kind && txn.PeriodTag == tag {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertAccount(_ context.Context, acc domain.SavingsAccount) (domain.SavingsAccount, error) {
	if _, ok := t.state.savingsPlans[acc.PlanID]; !ok {
		return domain.SavingsAccount{}, fmt.Errorf("%w: savings plan %s", domain.ErrPlanNotFound, acc.PlanID)
	}
	t.state.nextAccountID++
	acc.ID = t.state.nextAccountID
	t.state.accounts[acc.ID] = acc
	return acc, nil
}

func (t *memTx) SetAccountActive(_ context.Context, id int64, active bool) error {
	acc, ok := t.state.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
	}
	acc.Active = active
	t.state.accounts[id] = acc
	return nil
}

func (t *memTx) InsertHolder(_ context.Context, h domain.Holder) (domain.Holder, error) {
	if _, ok := t.state.accounts[h.AccountID]; !ok {
		return domain.Holder{}, fmt.Errorf("%w: %d", domain.ErrAccountNotFound, h.AccountID)
	}
	for _, existing := range t.state.holders {
		if existing.AccountID == h.AccountID && existing.CustomerID == h.CustomerID {
			return domain.Holder{}, fmt.Errorf("customer %s already holds account %d", h.CustomerID, h.AccountID)
		}
	}
	t.state.nextHolderID++
	h.ID = t.state.nextHolderID
	t.state.holders[h.ID] = h
	return h, nil
}

func (t *memTx) ActiveDepositForAccount(_ context.Context, accountID int64) (int64, bool, error) {
	for id, fd := range t.state.deposits {
		if fd.AccountID == accountID && fd.Active {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (t *memTx) InsertDeposit(ctx context.Context, fd domain.FixedDeposit) (domain.FixedDeposit, error) {
	if err := t.store.takeFault(OpInsertDeposit); err != nil {
		return domain.FixedDeposit{}, err
	}
	if fd.Active {
		if _, exists, _ := t.ActiveDepositForAccount(ctx, fd.AccountID); exists {
			return domain.FixedDeposit{}, fmt.Errorf("%w: account %d", domain.ErrDuplicateActiveDeposit, fd.AccountID)
		}
	}
	t.state.nextDepositID++
	fd.ID = t.state.nextDepositID
	t.state.deposits[fd.ID] = fd
	return fd, nil
}

func (t *memTx) UpdateDeposit(_ context.Context, fd domain.FixedDeposit) error {
	if err := t.store.takeFault(OpUpdateDeposit); err != nil {
		return err
	}
	if _, ok := t.state.deposits[fd.ID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrDepositNotFound, fd.ID)
	}
	t.state.deposits[fd.ID] = fd
	return nil
}
