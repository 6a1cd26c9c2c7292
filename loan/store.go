/*
store.go - Persistence interfaces for loans and EMI schedules

PURPOSE:
  Defines the boundary between the lending core and its collaborators.
  The core owns loans and EMI records; account balances and KYC status
  belong to external components reached through narrow gateways.

KEY INTERFACES:
  LoanStore:      Loan persistence and the query shapes the core needs
  EMIStore:       Installment persistence, per-installment lookup, counts
  AccountGateway: Balance reads and atomic debits (ledger-owned)
  KYCOracle:      KYC approval check for origination
  TxStore:        Atomic multi-store operations for payment processing

DUPLICATE ROWS:
  EMIStore.ListByLoanAndInstallment deliberately returns a slice: storage
  layers without a uniqueness constraint can hold duplicate rows for one
  installment, and the core reconciles them (keep earliest, delete rest)
  before reading or paying. SQLite-backed stores add a UNIQUE index on
  (loan_id, installment_number) so reconciliation is repair, not the
  primary correctness mechanism.

IMPLEMENTATIONS:
  - store/sqlite: production store, all interfaces plus TxStore
  - loan/store:   in-memory store for tests and dev mode

SEE ALSO:
  - payment.go: Uses TxStore to close the debit/persist failure window
  - ledger:     Production AccountGateway implementation
*/
package loan

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LOAN STORE
// =============================================================================

type LoanStore interface {
	// CreateLoan persists a new loan and assigns its ID.
	CreateLoan(ctx context.Context, l *Loan) error

	// GetLoan returns the loan or ErrNotFound.
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)

	// UpdateLoan persists mutations to an existing loan.
	UpdateLoan(ctx context.Context, l *Loan) error

	// ListLoansByUser returns all loans owned by a user, newest first.
	ListLoansByUser(ctx context.Context, userID UserID) ([]*Loan, error)

	// ListLoansByStatus returns all loans in a status, oldest first.
	ListLoansByStatus(ctx context.Context, status LoanStatus) ([]*Loan, error)

	// ExistsByUserAndStatusIn reports whether the user holds any loan in the
	// given statuses. Backs the one-active-loan-per-user rule.
	ExistsByUserAndStatusIn(ctx context.Context, userID UserID, statuses []LoanStatus) (bool, error)
}

// =============================================================================
// EMI STORE
// =============================================================================

type EMIStore interface {
	// SaveEMIRecords persists a batch of installment records, assigning
	// IDs. Atomic where the backing store supports it.
	SaveEMIRecords(ctx context.Context, records []*EMIRecord) error

	// ListEMIsByLoan returns all records for a loan ordered by installment
	// number, then by ID (earliest-created first within an installment).
	ListEMIsByLoan(ctx context.Context, loanID LoanID) ([]*EMIRecord, error)

	// ListEMIsByLoanAndInstallment returns every stored record for one
	// installment, earliest-created first. More than one row means the
	// storage layer holds duplicates needing reconciliation.
	ListEMIsByLoanAndInstallment(ctx context.Context, loanID LoanID, installment int) ([]*EMIRecord, error)

	// UpdateEMIRecord persists mutations to an existing record.
	UpdateEMIRecord(ctx context.Context, r *EMIRecord) error

	// DeleteEMIRecord removes a record. Used only by duplicate reconciliation.
	DeleteEMIRecord(ctx context.Context, id EMIRecordID) error

	// CountEMIsByLoanAndStatus counts a loan's records in a status.
	CountEMIsByLoanAndStatus(ctx context.Context, loanID LoanID, status EMIStatus) (int, error)
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// AccountGateway is the ledger boundary. The ledger owns account balances;
// this core only reads them and requests debits. Debit must be atomic
// (read, check sufficiency, write) under concurrent withdrawals.
type AccountGateway interface {
	// FindByNumberAndOwner returns the account or ErrNotFound if it does not
	// exist or is not owned by the user.
	FindByNumberAndOwner(ctx context.Context, number string, owner UserID) (*Account, error)

	// Balance returns the current balance of an account.
	Balance(ctx context.Context, number string) (decimal.Decimal, error)

	// Debit withdraws amount from the account, recording a ledger
	// transaction, and returns its reference. Returns an
	// InsufficientFundsError without mutation if the balance is short.
	Debit(ctx context.Context, number string, amount decimal.Decimal, description string) (ref string, err error)
}

// KYCOracle answers the single question origination asks of the KYC subsystem.
type KYCOracle interface {
	IsApproved(ctx context.Context, userID UserID) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Stores bundles the stores a transactional operation mutates together.
type Stores struct {
	Loans    LoanStore
	EMIs     EMIStore
	Accounts AccountGateway
}

// TxStore executes fn atomically across loans, EMI records, and the ledger.
// If fn returns an error, nothing is committed. Payment processing uses this
// to close the window between the ledger debit and the schedule update.
type TxStore interface {
	WithTx(ctx context.Context, fn func(Stores) error) error
}
