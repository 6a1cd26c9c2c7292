/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (loan.LoanStore, loan.EMIStore,
  loan.TxStore, ledger.Store, user.Store) using SQLite. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:        Customer identity and KYC status
  accounts:     Ledger accounts with current balance
  transactions: Immutable record of every balance change
  loans:        Loan aggregates with status and repayment counters
  emi_records:  One row per scheduled installment

SCHEDULE UNIQUENESS:
  emi_records carries UNIQUE(loan_id, installment_number), so this store
  cannot accumulate duplicate installment rows. The core still runs its
  duplicate reconciliation before schedule reads and payments; against this
  store that pass is repair for data imported from systems without the
  constraint, not the primary correctness mechanism.

MONEY:
  All monetary columns are TEXT holding decimal strings. SQLite REAL is
  binary floating point and drifts on repeated arithmetic; amounts round
  -trip through shopspring/decimal instead.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus WAL mode. Debits check
  sufficiency and write under the store's write lock, so two concurrent
  withdrawals cannot both pass the balance check. In production with
  PostgreSQL, a conditional UPDATE handles this instead.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

USAGE:
  store, err := sqlite.New("./data/lending.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - loan/store.go: Interface definitions
  - loan/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
	"github.com/warp/lending-engine/user"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ loan.LoanStore = (*Store)(nil)
	_ loan.EMIStore  = (*Store)(nil)
	_ loan.TxStore   = (*Store)(nil)
	_ ledger.Store   = (*Store)(nil)
	_ user.Store     = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases exist per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users (identity + KYC)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		kyc_status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Ledger accounts
	CREATE TABLE IF NOT EXISTS accounts (
		number TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		balance TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner
		ON accounts(owner_id);

	-- Ledger transactions (append-only; no UPDATE or DELETE statements exist
	-- for this table)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		description TEXT,
		reference TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_number, at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference);

	-- Loans
	CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		loan_number TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		linked_account TEXT NOT NULL,
		loan_type TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		tenure_months INTEGER NOT NULL,
		start_date TEXT,
		end_date TEXT,
		status TEXT NOT NULL,
		emi_amount TEXT NOT NULL,
		total_payable TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		recovered_amount TEXT NOT NULL,
		rejection_reason TEXT,
		approved_by TEXT,
		approved_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_user
		ON loans(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_loans_status
		ON loans(status);

	-- EMI schedule rows
	CREATE TABLE IF NOT EXISTS emi_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		loan_id INTEGER NOT NULL,
		installment_number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		remaining_principal TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_date TEXT,
		transaction_ref TEXT NOT NULL DEFAULT ''
	);

	-- CRITICAL: One schedule row per installment per loan. Schedule
	-- regeneration and concurrent approvals cannot create duplicates here.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_loan_installment
		ON emi_records(loan_id, installment_number);

	CREATE INDEX IF NOT EXISTS idx_emi_records_loan_status
		ON emi_records(loan_id, status);

	-- For the overdue sweep (hot path: all PENDING rows past due)
	CREATE INDEX IF NOT EXISTS idx_emi_records_status_due
		ON emi_records(status, due_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the subset of *sql.DB and *sql.Tx the queries need, so the same
// code serves both the plain store and transaction-scoped views.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements the storage interfaces against a dbtx. The Store wraps
// it with locking; WithTx hands out a tx-backed instance.
type queries struct {
	db dbtx
}

// =============================================================================
// LOAN STORE (loan.LoanStore interface)
// =============================================================================

const loanColumns = `id, loan_number, user_id, linked_account, loan_type, principal,
	interest_rate, tenure_months, start_date, end_date, status, emi_amount,
	total_payable, paid_amount, recovered_amount, rejection_reason, approved_by,
	approved_at, created_at`

func (s *Store) CreateLoan(ctx context.Context, l *loan.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreateLoan(ctx, l)
}

func (q queries) CreateLoan(ctx context.Context, l *loan.Loan) error {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO loans
		(loan_number, user_id, linked_account, loan_type, principal, interest_rate,
		 tenure_months, start_date, end_date, status, emi_amount, total_payable,
		 paid_amount, recovered_amount, rejection_reason, approved_by, approved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.LoanNumber, string(l.UserID), l.LinkedAccount, string(l.Type),
		l.Principal.String(), l.InterestRate.String(), l.TenureMonths,
		nullTime(l.StartDate), nullTime(l.EndDate), string(l.Status),
		l.EMIAmount.String(), l.TotalPayable.String(),
		l.PaidAmount.String(), l.RecoveredAmount.String(),
		nullString(l.RejectionReason), nullString(l.ApprovedBy), nullTime(l.ApprovedAt),
		l.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read loan id: %w", err)
	}
	l.ID = loan.LoanID(id)
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id loan.LoanID) (*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetLoan(ctx, id)
}

func (q queries) GetLoan(ctx context.Context, id loan.LoanID) (*loan.Loan, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+loanColumns+" FROM loans WHERE id = ?", int64(id))
	l, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, loan.ErrNotFound
	}
	return l, err
}

func (s *Store) UpdateLoan(ctx context.Context, l *loan.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.UpdateLoan(ctx, l)
}

func (q queries) UpdateLoan(ctx context.Context, l *loan.Loan) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE loans SET
			start_date = ?, end_date = ?, status = ?, emi_amount = ?,
			total_payable = ?, paid_amount = ?, recovered_amount = ?,
			rejection_reason = ?, approved_by = ?, approved_at = ?
		WHERE id = ?`,
		nullTime(l.StartDate), nullTime(l.EndDate), string(l.Status),
		l.EMIAmount.String(), l.TotalPayable.String(),
		l.PaidAmount.String(), l.RecoveredAmount.String(),
		nullString(l.RejectionReason), nullString(l.ApprovedBy), nullTime(l.ApprovedAt),
		int64(l.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loan.ErrNotFound
	}
	return nil
}

func (s *Store) ListLoansByUser(ctx context.Context, userID loan.UserID) ([]*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListLoansByUser(ctx, userID)
}

func (q queries) ListLoansByUser(ctx context.Context, userID loan.UserID) ([]*loan.Loan, error) {
	return q.queryLoans(ctx,
		"SELECT "+loanColumns+" FROM loans WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		string(userID))
}

func (s *Store) ListLoansByStatus(ctx context.Context, status loan.LoanStatus) ([]*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListLoansByStatus(ctx, status)
}

func (q queries) ListLoansByStatus(ctx context.Context, status loan.LoanStatus) ([]*loan.Loan, error) {
	return q.queryLoans(ctx,
		"SELECT "+loanColumns+" FROM loans WHERE status = ? ORDER BY created_at ASC, id ASC",
		string(status))
}

func (s *Store) ExistsByUserAndStatusIn(ctx context.Context, userID loan.UserID, statuses []loan.LoanStatus) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ExistsByUserAndStatusIn(ctx, userID, statuses)
}

func (q queries) ExistsByUserAndStatusIn(ctx context.Context, userID loan.UserID, statuses []loan.LoanStatus) (bool, error) {
	if len(statuses) == 0 {
		return false, nil
	}
	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(statuses)+1)
	args = append(args, string(userID))
	for _, st := range statuses {
		args = append(args, string(st))
	}

	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM loans WHERE user_id = ? AND status IN ("+placeholders+")",
		args...,
	).Scan(&count)
	return count > 0, err
}

func (q queries) queryLoans(ctx context.Context, query string, args ...any) ([]*loan.Loan, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*loan.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (*loan.Loan, error) {
	var (
		l               loan.Loan
		id              int64
		userID          string
		loanType        string
		principal       string
		interestRate    string
		startDate       sql.NullString
		endDate         sql.NullString
		status          string
		emiAmount       string
		totalPayable    string
		paidAmount      string
		recoveredAmount string
		rejectionReason sql.NullString
		approvedBy      sql.NullString
		approvedAt      sql.NullString
		createdAt       string
	)

	err := row.Scan(
		&id, &l.LoanNumber, &userID, &l.LinkedAccount, &loanType, &principal,
		&interestRate, &l.TenureMonths, &startDate, &endDate, &status, &emiAmount,
		&totalPayable, &paidAmount, &recoveredAmount, &rejectionReason, &approvedBy,
		&approvedAt, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan loan: %w", err)
	}

	l.ID = loan.LoanID(id)
	l.UserID = loan.UserID(userID)
	l.Type = loan.LoanType(loanType)
	l.Status = loan.LoanStatus(status)
	l.Principal = parseDecimal(principal)
	l.InterestRate = parseDecimal(interestRate)
	l.EMIAmount = parseDecimal(emiAmount)
	l.TotalPayable = parseDecimal(totalPayable)
	l.PaidAmount = parseDecimal(paidAmount)
	l.RecoveredAmount = parseDecimal(recoveredAmount)
	l.StartDate = parseTimePtr(startDate)
	l.EndDate = parseTimePtr(endDate)
	l.ApprovedAt = parseTimePtr(approvedAt)
	if rejectionReason.Valid {
		l.RejectionReason = &rejectionReason.String
	}
	if approvedBy.Valid {
		l.ApprovedBy = &approvedBy.String
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &l, nil
}

// =============================================================================
// EMI STORE (loan.EMIStore interface)
// =============================================================================

const emiColumns = `id, loan_id, installment_number, due_date, amount, principal,
	interest, remaining_principal, status, payment_date, transaction_ref`

// SaveEMIRecords inserts a schedule batch atomically: either the whole
// schedule lands or none of it does.
func (s *Store) SaveEMIRecords(ctx context.Context, records []*loan.EMIRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (queries{sqlTx}).SaveEMIRecords(ctx, records); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (q queries) SaveEMIRecords(ctx context.Context, records []*loan.EMIRecord) error {
	for _, r := range records {
		res, err := q.db.ExecContext(ctx, `
			INSERT INTO emi_records
			(loan_id, installment_number, due_date, amount, principal, interest,
			 remaining_principal, status, payment_date, transaction_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(r.LoanID), r.Installment, r.DueDate.Format(time.RFC3339),
			r.Amount.String(), r.Principal.String(), r.Interest.String(),
			r.RemainingPrincipal.String(), string(r.Status),
			nullTime(r.PaymentDate), r.TransactionRef,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("installment %d already scheduled for loan %d: %w",
					r.Installment, r.LoanID, err)
			}
			return fmt.Errorf("failed to insert EMI record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read EMI record id: %w", err)
		}
		r.ID = loan.EMIRecordID(id)
	}
	return nil
}

func (s *Store) ListEMIsByLoan(ctx context.Context, loanID loan.LoanID) ([]*loan.EMIRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListEMIsByLoan(ctx, loanID)
}

func (q queries) ListEMIsByLoan(ctx context.Context, loanID loan.LoanID) ([]*loan.EMIRecord, error) {
	return q.queryEMIs(ctx,
		"SELECT "+emiColumns+" FROM emi_records WHERE loan_id = ? ORDER BY installment_number ASC, id ASC",
		int64(loanID))
}

func (s *Store) ListEMIsByLoanAndInstallment(ctx context.Context, loanID loan.LoanID, installment int) ([]*loan.EMIRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListEMIsByLoanAndInstallment(ctx, loanID, installment)
}

func (q queries) ListEMIsByLoanAndInstallment(ctx context.Context, loanID loan.LoanID, installment int) ([]*loan.EMIRecord, error) {
	return q.queryEMIs(ctx,
		"SELECT "+emiColumns+" FROM emi_records WHERE loan_id = ? AND installment_number = ? ORDER BY id ASC",
		int64(loanID), installment)
}

func (s *Store) UpdateEMIRecord(ctx context.Context, r *loan.EMIRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.UpdateEMIRecord(ctx, r)
}

func (q queries) UpdateEMIRecord(ctx context.Context, r *loan.EMIRecord) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE emi_records SET
			status = ?, payment_date = ?, transaction_ref = ?
		WHERE id = ?`,
		string(r.Status), nullTime(r.PaymentDate), r.TransactionRef, int64(r.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update EMI record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loan.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEMIRecord(ctx context.Context, id loan.EMIRecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.DeleteEMIRecord(ctx, id)
}

func (q queries) DeleteEMIRecord(ctx context.Context, id loan.EMIRecordID) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM emi_records WHERE id = ?", int64(id))
	return err
}

func (s *Store) CountEMIsByLoanAndStatus(ctx context.Context, loanID loan.LoanID, status loan.EMIStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.CountEMIsByLoanAndStatus(ctx, loanID, status)
}

func (q queries) CountEMIsByLoanAndStatus(ctx context.Context, loanID loan.LoanID, status loan.EMIStatus) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM emi_records WHERE loan_id = ? AND status = ?",
		int64(loanID), string(status),
	).Scan(&count)
	return count, err
}

func (q queries) queryEMIs(ctx context.Context, query string, args ...any) ([]*loan.EMIRecord, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query EMI records: %w", err)
	}
	defer rows.Close()

	var records []*loan.EMIRecord
	for rows.Next() {
		var (
			r           loan.EMIRecord
			id          int64
			loanID      int64
			dueDate     string
			amount      string
			principal   string
			interest    string
			remaining   string
			status      string
			paymentDate sql.NullString
		)
		if err := rows.Scan(
			&id, &loanID, &r.Installment, &dueDate, &amount, &principal,
			&interest, &remaining, &status, &paymentDate, &r.TransactionRef,
		); err != nil {
			return nil, fmt.Errorf("failed to scan EMI record: %w", err)
		}
		r.ID = loan.EMIRecordID(id)
		r.LoanID = loan.LoanID(loanID)
		r.DueDate, _ = time.Parse(time.RFC3339, dueDate)
		r.Amount = parseDecimal(amount)
		r.Principal = parseDecimal(principal)
		r.Interest = parseDecimal(interest)
		r.RemainingPrincipal = parseDecimal(remaining)
		r.Status = loan.EMIStatus(status)
		r.PaymentDate = parseTimePtr(paymentDate)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// ListOverdueByStatus returns records in a status with a due date strictly
// before cutoff, across all loans. Feeds the overdue sweep.
func (s *Store) ListOverdueByStatus(ctx context.Context, status loan.EMIStatus, cutoff time.Time) ([]*loan.EMIRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.queryEMIs(ctx,
		"SELECT "+emiColumns+" FROM emi_records WHERE status = ? AND due_date < ? ORDER BY due_date ASC, id ASC",
		string(status), cutoff.Format(time.RFC3339))
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreateAccount(ctx, a)
}

func (q queries) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (number, owner_id, balance, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.Number, string(a.OwnerID), a.Balance.String(), string(a.Status),
		a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &loan.ValidationError{Field: "accountNumber", Message: "account number already exists"}
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, number string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetAccount(ctx, number)
}

func (q queries) GetAccount(ctx context.Context, number string) (*ledger.Account, error) {
	var (
		a         ledger.Account
		owner     string
		balance   string
		status    string
		createdAt string
	)
	err := q.db.QueryRowContext(ctx,
		"SELECT number, owner_id, balance, status, created_at FROM accounts WHERE number = ?",
		number,
	).Scan(&a.Number, &owner, &balance, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, loan.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.OwnerID = loan.UserID(owner)
	a.Balance = parseDecimal(balance)
	a.Status = ledger.AccountStatus(status)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

func (s *Store) CreditAccount(ctx context.Context, number string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreditAccount(ctx, number, amount)
}

func (q queries) CreditAccount(ctx context.Context, number string, amount decimal.Decimal) (decimal.Decimal, error) {
	a, err := q.GetAccount(ctx, number)
	if err != nil {
		return decimal.Zero, err
	}
	after := a.Balance.Add(amount)
	return after, q.setBalance(ctx, number, after)
}

// DebitAccount checks sufficiency and writes the new balance. The caller
// holds either the store write lock or a SQL transaction, so the check and
// the write cannot interleave with another debit.
func (s *Store) DebitAccount(ctx context.Context, number string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.DebitAccount(ctx, number, amount)
}

func (q queries) DebitAccount(ctx context.Context, number string, amount decimal.Decimal) (decimal.Decimal, error) {
	a, err := q.GetAccount(ctx, number)
	if err != nil {
		return decimal.Zero, err
	}
	if a.Balance.LessThan(amount) {
		return decimal.Zero, &loan.InsufficientFundsError{
			AccountNumber: number,
			Required:      amount,
			Available:     a.Balance,
		}
	}
	after := a.Balance.Sub(amount)
	return after, q.setBalance(ctx, number, after)
}

func (q queries) setBalance(ctx context.Context, number string, balance decimal.Decimal) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE number = ?",
		balance.String(), number,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loan.ErrNotFound
	}
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.AppendTransaction(ctx, tx)
}

func (q queries) AppendTransaction(ctx context.Context, tx *ledger.Transaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, account_number, tx_type, amount, balance_after, description, reference, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountNumber, string(tx.Type), tx.Amount.String(),
		tx.BalanceAfter.String(), tx.Description, tx.Reference,
		tx.At.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, number string) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListTransactionsByAccount(ctx, number)
}

func (q queries) ListTransactionsByAccount(ctx context.Context, number string) ([]*ledger.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, account_number, tx_type, amount, balance_after, description, reference, at
		FROM transactions
		WHERE account_number = ?
		ORDER BY at DESC, id DESC`,
		number,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*ledger.Transaction
	for rows.Next() {
		var (
			tx     ledger.Transaction
			typ    string
			amount string
			after  string
			at     string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountNumber, &typ, &amount, &after,
			&tx.Description, &tx.Reference, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Type = ledger.TransactionType(typ)
		tx.Amount = parseDecimal(amount)
		tx.BalanceAfter = parseDecimal(after)
		tx.At, _ = time.Parse(time.RFC3339, at)
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// USER STORE (user.Store interface)
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, kyc_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(u.ID), u.Name, u.Email, string(u.Role), string(u.KYC),
		u.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &loan.ValidationError{Field: "email", Message: "email is already registered"}
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id loan.UserID) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUserBy(ctx, "id", string(id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUserBy(ctx, "email", email)
}

func (s *Store) getUserBy(ctx context.Context, column, value string) (*user.User, error) {
	var (
		u         user.User
		id        string
		role      string
		kyc       string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, role, kyc_status, created_at FROM users WHERE "+column+" = ?",
		value,
	).Scan(&id, &u.Name, &u.Email, &role, &kyc, &createdAt)
	if err == sql.ErrNoRows {
		return nil, loan.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.ID = loan.UserID(id)
	u.Role = user.Role(role)
	u.KYC = user.KYCStatus(kyc)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET name = ?, email = ?, role = ?, kyc_status = ? WHERE id = ?",
		u.Name, u.Email, string(u.Role), string(u.KYC), string(u.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loan.ErrNotFound
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (loan.TxStore and ledger.TxStore interfaces)
// =============================================================================

// WithTx executes fn against transaction-scoped stores. The account gateway
// handed to fn is a ledger.Service over the same transaction, so a debit and
// the schedule updates that follow it commit or roll back together.
func (s *Store) WithTx(ctx context.Context, fn func(loan.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	q := queries{sqlTx}
	stores := loan.Stores{
		Loans:    q,
		EMIs:     q,
		Accounts: &ledger.Service{Store: q},
	}
	if err := fn(stores); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Transact executes fn against a transaction-scoped ledger store. Both legs
// of a transfer commit or roll back together.
func (s *Store) Transact(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"emi_records", "loans", "transactions", "accounts", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
