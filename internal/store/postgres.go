package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/money"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintPeriodTag     = "transactions_period_tag_uq"
	constraintActiveDeposit = "fixed_deposits_one_active_uq"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists the ledger in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
	pgReader
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, pgReader: pgReader{q: db}}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InTx implements Store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{pgReader: pgReader{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// InsertSavingsPlan implements Store.
func (s *PostgresStore) InsertSavingsPlan(ctx context.Context, p domain.SavingsPlan) error {
	_, err := s.db.Exec(ctx, `INSERT INTO savings_plans (id, name, annual_rate, min_balance) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.AnnualRate.String(), p.MinBalance.String())
	return mapError(err)
}

// InsertDepositPlan implements Store.
func (s *PostgresStore) InsertDepositPlan(ctx context.Context, p domain.DepositPlan) error {
	_, err := s.db.Exec(ctx, `INSERT INTO fixed_deposit_plans (id, term_months, annual_rate) VALUES ($1, $2, $3)`,
		p.ID, p.TermMonths, p.AnnualRate.String())
	return mapError(err)
}

// mapError translates driver errors into domain sentinels. Lock contention,
// serialization failures and deadlocks become ErrStorageConflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", domain.ErrStorageConflict, pgErr.Message)
		case "23505":
			switch pgErr.ConstraintName {
			case constraintPeriodTag:
				return fmt.Errorf("%w: %s", domain.ErrDuplicatePeriod, pgErr.Detail)
			case constraintActiveDeposit:
				return fmt.Errorf("%w: %s", domain.ErrDuplicateActiveDeposit, pgErr.Detail)
			}
		}
	}
	return err
}

const (
	accountColumns = `a.id, a.open_date, a.balance::text, a.plan_id, a.active, a.branch_id, a.owner_employee_id,
        p.name, p.annual_rate::text, p.min_balance::text`
	accountFrom = ` FROM savings_accounts a INNER JOIN savings_plans p ON p.id = a.plan_id`

	depositColumns = `d.id, d.saving_account_id, d.plan_id, d.start_date, d.end_date, d.principal::text,
        d.payout_mode, d.last_payout_date, d.active, p.term_months, p.annual_rate::text`
	depositFrom = ` FROM fixed_deposits d INNER JOIN fixed_deposit_plans p ON p.id = d.plan_id`

	txnColumns = `id, holder_id, saving_account_id, kind, amount::text, created_at, ref_number, description, COALESCE(period_tag, '')`
)

type pgReader struct {
	q querier
}

func scanAccount(row pgx.Row) (domain.AccountWithPlan, error) {
	var (
		out                    domain.AccountWithPlan
		balance, rate, minimum string
	)
	if err := row.Scan(&out.ID, &out.OpenDate, &balance, &out.PlanID, &out.Active, &out.BranchID, &out.OwnerEmployeeID,
		&out.Plan.Name, &rate, &minimum); err != nil {
		return domain.AccountWithPlan{}, err
	}
	var err error
	if out.Balance, err = decimal.NewFromString(balance); err != nil {
		return domain.AccountWithPlan{}, fmt.Errorf("%w: account %d balance %q", domain.ErrDataIntegrity, out.ID, balance)
	}
	if out.Plan.AnnualRate, err = money.ParsePercent(rate); err != nil {
		return domain.AccountWithPlan{}, fmt.Errorf("%w: plan %s: %v", domain.ErrDataIntegrity, out.PlanID, err)
	}
	if out.Plan.MinBalance, err = decimal.NewFromString(minimum); err != nil {
		return domain.AccountWithPlan{}, fmt.Errorf("%w: plan %s minimum %q", domain.ErrDataIntegrity, out.PlanID, minimum)
	}
	out.Plan.ID = out.PlanID
	out.OpenDate = out.OpenDate.UTC()
	return out, nil
}

func scanDeposit(row pgx.Row) (domain.DepositWithPlan, error) {
	var (
		out             domain.DepositWithPlan
		principal, rate string
		mode            string
	)
	if err := row.Scan(&out.ID, &out.AccountID, &out.PlanID, &out.StartDate, &out.EndDate, &principal,
		&mode, &out.LastPayoutDate, &out.Active, &out.Plan.TermMonths, &rate); err != nil {
		return domain.DepositWithPlan{}, err
	}
	var err error
	if out.Principal, err = decimal.NewFromString(principal); err != nil {
		return domain.DepositWithPlan{}, fmt.Errorf("%w: deposit %d principal %q", domain.ErrDataIntegrity, out.ID, principal)
	}
	if out.Plan.AnnualRate, err = money.ParsePercent(rate); err != nil {
		return domain.DepositWithPlan{}, fmt.Errorf("%w: deposit plan %s: %v", domain.ErrDataIntegrity, out.PlanID, err)
	}
	if out.PayoutMode, err = domain.ParsePayoutMode(mode); err != nil {
		return domain.DepositWithPlan{}, fmt.Errorf("%w: deposit %d: %v", domain.ErrDataIntegrity, out.ID, err)
	}
	out.Plan.ID = out.PlanID
	out.StartDate = out.StartDate.UTC()
	out.EndDate = out.EndDate.UTC()
	out.LastPayoutDate = out.LastPayoutDate.UTC()
	return out, nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		out    domain.Transaction
		kind   string
		amount string
	)
	if err := row.Scan(&out.ID, &out.HolderID, &out.AccountID, &kind, &amount, &out.Timestamp,
		&out.RefNumber, &out.Description, &out.PeriodTag); err != nil {
		return domain.Transaction{}, err
	}
	var err error
	if out.Kind, err = domain.ParseTransactionKind(kind); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: transaction %d: %v", domain.ErrDataIntegrity, out.ID, err)
	}
	if out.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: transaction %d amount %q", domain.ErrDataIntegrity, out.ID, amount)
	}
	out.Timestamp = out.Timestamp.UTC()
	return out, nil
}

func (r pgReader) queryAccount(ctx context.Context, suffix string, id int64) (domain.AccountWithPlan, error) {
	acc, err := scanAccount(r.q.QueryRow(ctx, `SELECT `+accountColumns+accountFrom+` WHERE a.id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AccountWithPlan{}, fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
		}
		return domain.AccountWithPlan{}, mapError(err)
	}
	return acc, nil
}

func (r pgReader) GetAccount(ctx context.Context, id int64) (domain.AccountWithPlan, error) {
	return r.queryAccount(ctx, "", id)
}

func (r pgReader) ListActiveAccounts(ctx context.Context) ([]domain.AccountWithPlan, error) {
	rows, err := r.q.Query(ctx, `SELECT `+accountColumns+accountFrom+` WHERE a.active ORDER BY a.id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.AccountWithPlan
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, mapError(rows.Err())
}

func (r pgReader) HolderByID(ctx context.Context, id int64) (domain.Holder, error) {
	var h domain.Holder
	err := r.q.QueryRow(ctx, `SELECT id, customer_id, saving_account_id FROM account_holders WHERE id = $1`, id).
		Scan(&h.ID, &h.CustomerID, &h.AccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Holder{}, fmt.Errorf("%w: %d", domain.ErrHolderNotFound, id)
		}
		return domain.Holder{}, mapError(err)
	}
	return h, nil
}

func (r pgReader) HoldersForAccount(ctx context.Context, accountID int64) ([]domain.Holder, error) {
	rows, err := r.q.Query(ctx, `SELECT id, customer_id, saving_account_id FROM account_holders
        WHERE saving_account_id = $1 ORDER BY id`, accountID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Holder
	for rows.Next() {
		var h domain.Holder
		if err := rows.Scan(&h.ID, &h.CustomerID, &h.AccountID); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, mapError(rows.Err())
}

func (r pgReader) TransactionsForAccount(ctx context.Context, accountID int64) ([]domain.Transaction, error) {
	rows, err := r.q.Query(ctx, `SELECT `+txnColumns+` FROM transactions WHERE saving_account_id = $1 ORDER BY id DESC`, accountID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, mapError(rows.Err())
}

func (r pgReader) GetSavingsPlan(ctx context.Context, id string) (domain.SavingsPlan, error) {
	var (
		p             domain.SavingsPlan
		rate, minimum string
	)
	err := r.q.QueryRow(ctx, `SELECT id, name, annual_rate::text, min_balance::text FROM savings_plans WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &rate, &minimum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SavingsPlan{}, fmt.Errorf("%w: savings plan %s", domain.ErrPlanNotFound, id)
		}
		return domain.SavingsPlan{}, mapError(err)
	}
	if p.AnnualRate, err = money.ParsePercent(rate); err != nil {
		return domain.SavingsPlan{}, fmt.Errorf("%w: plan %s: %v", domain.ErrDataIntegrity, id, err)
	}
	if p.MinBalance, err = decimal.NewFromString(minimum); err != nil {
		return domain.SavingsPlan{}, fmt.Errorf("%w: plan %s minimum %q", domain.ErrDataIntegrity, id, minimum)
	}
	return p, nil
}

func scanDepositPlan(row pgx.Row) (domain.DepositPlan, error) {
	var (
		p    domain.DepositPlan
		rate string
	)
	if err := row.Scan(&p.ID, &p.TermMonths, &rate); err != nil {
		return domain.DepositPlan{}, err
	}
	var err error
	if p.AnnualRate, err = money.ParsePercent(rate); err != nil {
		return domain.DepositPlan{}, fmt.Errorf("%w: deposit plan %s: %v", domain.ErrDataIntegrity, p.ID, err)
	}
	return p, nil
}

func (r pgReader) GetDepositPlan(ctx context.Context, id string) (domain.DepositPlan, error) {
	p, err := scanDepositPlan(r.q.QueryRow(ctx, `SELECT id, term_months, annual_rate::text FROM fixed_deposit_plans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DepositPlan{}, fmt.Errorf("%w: deposit plan %s", domain.ErrPlanNotFound, id)
		}
		return domain.DepositPlan{}, mapError(err)
	}
	return p, nil
}

func (r pgReader) ListDepositPlans(ctx context.Context) ([]domain.DepositPlan, error) {
	rows, err := r.q.Query(ctx, `SELECT id, term_months, annual_rate::text FROM fixed_deposit_plans ORDER BY term_months, id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.DepositPlan
	for rows.Next() {
		p, err := scanDepositPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func (r pgReader) queryDeposit(ctx context.Context, suffix string, id int64) (domain.DepositWithPlan, error) {
	fd, err := scanDeposit(r.q.QueryRow(ctx, `SELECT `+depositColumns+depositFrom+` WHERE d.id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DepositWithPlan{}, fmt.Errorf("%w: %d", domain.ErrDepositNotFound, id)
		}
		return domain.DepositWithPlan{}, mapError(err)
	}
	return fd, nil
}

func (r pgReader) GetDeposit(ctx context.Context, id int64) (domain.DepositWithPlan, error) {
	return r.queryDeposit(ctx, "", id)
}

func (r pgReader) DepositsForAccount(ctx context.Context, accountID int64) ([]domain.FixedDeposit, error) {
	rows, err := r.q.Query(ctx, `SELECT `+depositColumns+depositFrom+` WHERE d.saving_account_id = $1 ORDER BY d.start_date DESC`, accountID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.FixedDeposit
	for rows.Next() {
		fd, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fd.FixedDeposit)
	}
	return out, mapError(rows.Err())
}

func (r pgReader) ListActiveDeposits(ctx context.Context) ([]domain.DepositWithPlan, error) {
	rows, err := r.q.Query(ctx, `SELECT `+depositColumns+depositFrom+` WHERE d.active ORDER BY d.id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.DepositWithPlan
	for rows.Next() {
		fd, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, mapError(rows.Err())
}

type pgTx struct {
	pgReader
}

func (t *pgTx) LockAccount(ctx context.Context, id int64) (domain.AccountWithPlan, error) {
	return t.queryAccount(ctx, ` FOR UPDATE OF a`, id)
}

func (t *pgTx) LockDeposit(ctx context.Context, id int64) (domain.DepositWithPlan, error) {
	return t.queryDeposit(ctx, ` FOR UPDATE OF d`, id)
}

func (t *pgTx) UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	tag, err := t.q.Exec(ctx, `UPDATE savings_accounts SET balance = $2 WHERE id = $1`, accountID, balance.String())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, accountID)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	var tag *string
	if txn.PeriodTag != "" {
		tag = &txn.PeriodTag
	}
	err := t.q.QueryRow(ctx, `INSERT INTO transactions
        (holder_id, saving_account_id, kind, amount, created_at, ref_number, description, period_tag)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		txn.HolderID, txn.AccountID, string(txn.Kind), txn.Amount.String(), txn.Timestamp, txn.RefNumber, txn.Description, tag).
		Scan(&txn.ID)
	if err != nil {
		return domain.Transaction{}, mapError(err)
	}
	return txn, nil
}

func (t *pgTx) HasPeriodTag(ctx context.Context, accountID int64, kind domain.TransactionKind, tag string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions
        WHERE saving_account_id = $1 AND kind = $2 AND period_tag = $3)`, accountID, string(kind), tag).Scan(&exists)
	return exists, mapError(err)
}

func (t *pgTx) InsertAccount(ctx context.Context, acc domain.SavingsAccount) (domain.SavingsAccount, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO savings_accounts
        (open_date, balance, plan_id, active, branch_id, owner_employee_id)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		acc.OpenDate, acc.Balance.String(), acc.PlanID, acc.Active, acc.BranchID, acc.OwnerEmployeeID).Scan(&acc.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.SavingsAccount{}, fmt.Errorf("%w: savings plan %s", domain.ErrPlanNotFound, acc.PlanID)
		}
		return domain.SavingsAccount{}, mapError(err)
	}
	return acc, nil
}

func (t *pgTx) SetAccountActive(ctx context.Context, id int64, active bool) error {
	tag, err := t.q.Exec(ctx, `UPDATE savings_accounts SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
	}
	return nil
}

func (t *pgTx) InsertHolder(ctx context.Context, h domain.Holder) (domain.Holder, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO account_holders (customer_id, saving_account_id) VALUES ($1, $2) RETURNING id`,
		h.CustomerID, h.AccountID).Scan(&h.ID)
	if err != nil {
		return domain.Holder{}, mapError(err)
	}
	return h, nil
}

func (t *pgTx) ActiveDepositForAccount(ctx context.Context, accountID int64) (int64, bool, error) {
	var id int64
	err := t.q.QueryRow(ctx, `SELECT id FROM fixed_deposits WHERE saving_account_id = $1 AND active`, accountID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, mapError(err)
	}
	return id, true, nil
}

func (t *pgTx) InsertDeposit(ctx context.Context, fd domain.FixedDeposit) (domain.FixedDeposit, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO fixed_deposits
        (saving_account_id, plan_id, start_date, end_date, principal, payout_mode, last_payout_date, active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		fd.AccountID, fd.PlanID, fd.StartDate, fd.EndDate, fd.Principal.String(), string(fd.PayoutMode), fd.LastPayoutDate, fd.Active).
		Scan(&fd.ID)
	if err != nil {
		return domain.FixedDeposit{}, mapError(err)
	}
	return fd, nil
}

func (t *pgTx) UpdateDeposit(ctx context.Context, fd domain.FixedDeposit) error {
	tag, err := t.q.Exec(ctx, `UPDATE fixed_deposits SET last_payout_date = $2, active = $3 WHERE id = $1`,
		fd.ID, fd.LastPayoutDate, fd.Active)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", domain.ErrDepositNotFound, fd.ID)
	}
	return nil
}
