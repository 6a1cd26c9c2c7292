/*
Package loan implements the lending core: loan origination, the approval
workflow, EMI amortization, and installment payments.

PURPOSE:
  This package contains the domain types and algorithms for the loan
  lifecycle. It computes EMIs with the reducing-balance annuity formula,
  generates month-by-month repayment schedules, applies payments against
  those schedules, and drives the loan state machine from PENDING all the
  way to CLOSED.

KEY CONCEPTS IN THIS FILE (types.go):
  - Loan: The aggregate with status, dates, and repayment counters
  - EMIRecord: One installment of the amortization schedule
  - Account: Read-only view of a ledger account (owned elsewhere)
  - Loan/EMI statuses: The two state machines
  - Money helpers: decimal rounding rules shared by all components

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Explicit state: Every transition is guarded; invalid ones error
  3. Type Safety: Strong typing for IDs prevents mixing loan/record IDs
  4. Ownership: This package owns loans and EMI records; account balances
     are owned by the ledger and reached only through AccountGateway

SEE ALSO:
  - emi.go: EMI calculation and schedule generation
  - origination.go: Loan application validation and creation
  - approval.go: PENDING -> DISBURSED / REJECTED transitions
  - payment.go: Installment payments and loan closure
  - store.go: Persistence interfaces
*/
package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LoanID int64
type EMIRecordID int64
type UserID string

// =============================================================================
// LOAN TYPES AND INTEREST RATES
// =============================================================================

type LoanType string

const (
	LoanHome      LoanType = "HOME"
	LoanCar       LoanType = "CAR"
	LoanPersonal  LoanType = "PERSONAL"
	LoanEducation LoanType = "EDUCATION"
	LoanBusiness  LoanType = "BUSINESS"
	LoanOther     LoanType = "OTHER"
)

// InterestRateFor returns the fixed annual rate (percent) for a loan type.
// Rates are a static product table, not risk-derived.
func InterestRateFor(t LoanType) decimal.Decimal {
	switch t {
	case LoanHome:
		return mustDecimal("8.5")
	case LoanCar:
		return mustDecimal("9.5")
	case LoanPersonal:
		return mustDecimal("12.0")
	case LoanEducation:
		return mustDecimal("7.5")
	case LoanBusiness:
		return mustDecimal("11.0")
	default:
		return mustDecimal("10.0")
	}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// STATE MACHINES
// =============================================================================

type LoanStatus string

const (
	StatusPending   LoanStatus = "PENDING"
	StatusApproved  LoanStatus = "APPROVED"
	StatusDisbursed LoanStatus = "DISBURSED"
	StatusRejected  LoanStatus = "REJECTED"
	StatusClosed    LoanStatus = "CLOSED"
)

// ActiveStatuses are the statuses that block a user from applying for
// another loan. Exactly one active-or-pending loan per user at a time.
var ActiveStatuses = []LoanStatus{StatusPending, StatusApproved, StatusDisbursed}

type EMIStatus string

const (
	EMIPending   EMIStatus = "PENDING"
	EMIPaid      EMIStatus = "PAID"
	EMILate      EMIStatus = "LATE"
	EMIDefaulted EMIStatus = "DEFAULTED"
)

// =============================================================================
// LOAN - The aggregate
// =============================================================================

type Loan struct {
	ID LoanID

	// LoanNumber is the externally visible identifier ("LN" + numeric suffix).
	LoanNumber string

	UserID        UserID
	LinkedAccount string // ledger account number, owned by the same user

	Type         LoanType
	Principal    decimal.Decimal
	InterestRate decimal.Decimal // annual, percent
	TenureMonths int

	// Nil until the loan is approved.
	StartDate *time.Time
	EndDate   *time.Time

	Status LoanStatus

	EMIAmount    decimal.Decimal
	TotalPayable decimal.Decimal

	// Repayment counters, updated by the payment processor.
	PaidAmount      decimal.Decimal
	RecoveredAmount decimal.Decimal

	RejectionReason *string
	ApprovedBy      *string
	ApprovedAt      *time.Time

	CreatedAt time.Time
}

// Approve transitions PENDING -> APPROVED and immediately cascades to
// DISBURSED: funds are considered released the moment a loan is approved,
// with no manual disbursement step. The cascade is isolated here so the two
// states can be split later without touching callers.
func (l *Loan) Approve(startDate time.Time, approvedBy string, at time.Time) error {
	if l.Status != StatusPending {
		return &InvalidStateError{Op: "approve", Current: l.Status, Required: StatusPending}
	}
	start := startDate
	end := start.AddDate(0, l.TenureMonths, 0)
	l.Status = StatusApproved
	l.StartDate = &start
	l.EndDate = &end
	l.ApprovedBy = &approvedBy
	l.ApprovedAt = &at

	l.Status = StatusDisbursed
	return nil
}

// Reject transitions PENDING -> REJECTED with a reason.
func (l *Loan) Reject(reason, rejectedBy string, at time.Time) error {
	if l.Status != StatusPending {
		return &InvalidStateError{Op: "reject", Current: l.Status, Required: StatusPending}
	}
	l.Status = StatusRejected
	l.RejectionReason = &reason
	l.ApprovedBy = &rejectedBy
	l.ApprovedAt = &at
	return nil
}

// =============================================================================
// EMI RECORD - One installment of the schedule
// =============================================================================

type EMIRecord struct {
	ID          EMIRecordID
	LoanID      LoanID
	Installment int // 1-based, unique within a loan
	DueDate     time.Time

	Amount             decimal.Decimal // the loan's EMI amount
	Principal          decimal.Decimal
	Interest           decimal.Decimal
	RemainingPrincipal decimal.Decimal

	Status      EMIStatus
	PaymentDate *time.Time

	// TransactionRef links to the ledger transaction that settled this
	// installment, if any.
	TransactionRef string
}

// =============================================================================
// ACCOUNT - Read-only view of a ledger account
// =============================================================================

// Account is what this package sees of a ledger account. The balance is
// owned by the ledger gateway; debits go through AccountGateway only.
type Account struct {
	Number  string
	OwnerID UserID
	Balance decimal.Decimal
	Active  bool
}

// =============================================================================
// MONEY HELPERS - Shared rounding rules
// =============================================================================

// ratePrecision is the internal precision for the monthly rate. Display
// values are rounded to 2 places; the rate keeps 10 to avoid compounding
// rounding error across months.
const ratePrecision = 10

var months12x100 = decimal.NewFromInt(1200)

// MonthlyRate converts an annual percentage rate to a monthly fraction:
// annual / 1200, at 10-digit precision, round-half-up.
func MonthlyRate(annualPercent decimal.Decimal) decimal.Decimal {
	return annualPercent.DivRound(months12x100, ratePrecision)
}

// Round2 rounds a money amount to 2 decimal places, half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// DateOnly truncates a timestamp to its calendar date in UTC. Due dates and
// payment dates are compared at day granularity.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
