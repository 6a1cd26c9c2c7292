/*
origination.go - Loan application validation and creation

PURPOSE:
  Validates a loan application fail-fast, verifies eligibility (single
  active loan, account ownership, approved KYC), resolves the product
  interest rate, computes EMI and total payable, and persists a new loan
  in PENDING state. No partial state: the loan is written only once every
  check has passed.

VALIDATION ORDER (each failure is a distinct error kind):
  1. amount > 0, tenure >= 1, account number present, loan type present
  2. no existing loan in {PENDING, APPROVED, DISBURSED} for the user
  3. referenced account exists and belongs to the applicant
  4. applicant's KYC status is APPROVED

SEE ALSO:
  - emi.go: CalculateEMI / TotalPayable used here
  - approval.go: What happens to the PENDING loan next
*/
package loan

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LOAN NUMBER GENERATOR
// =============================================================================

// LoanNumberGenerator issues unique "LN"-prefixed loan numbers from a
// millisecond timestamp with a monotonic guard for same-instant calls.
// Explicit state, injected where needed; no package-level globals.
type LoanNumberGenerator struct {
	mu   sync.Mutex
	last int64
}

func (g *LoanNumberGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := time.Now().UnixMilli()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return fmt.Sprintf("LN%d", n)
}

// =============================================================================
// APPLICATION REQUEST
// =============================================================================

// Request is a loan application as it arrives from the caller.
type Request struct {
	Amount        decimal.Decimal
	TenureMonths  int
	AccountNumber string
	Type          LoanType
}

// =============================================================================
// SERVICE - Origination and loan reads
// =============================================================================

// Service validates applications and owns loan reads.
type Service struct {
	Loans    LoanStore
	Accounts AccountGateway
	KYC      KYCOracle
	Numbers  *LoanNumberGenerator

	Clock func() time.Time
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Apply processes a loan application for a user and returns the new
// PENDING loan. Any validation failure leaves no persisted state.
func (s *Service) Apply(ctx context.Context, req Request, userID UserID) (*Loan, error) {
	if verr := validateRequest(req); verr != nil {
		return nil, verr
	}

	exists, err := s.Loans.ExistsByUserAndStatusIn(ctx, userID, ActiveStatuses)
	if err != nil {
		return nil, fmt.Errorf("checking existing loans: %w", err)
	}
	if exists {
		return nil, ErrActiveLoanExists
	}

	account, err := s.Accounts.FindByNumberAndOwner(ctx, req.AccountNumber, userID)
	if err != nil {
		return nil, err
	}

	approved, err := s.KYC.IsApproved(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("checking kyc status: %w", err)
	}
	if !approved {
		return nil, ErrKYCNotApproved
	}

	rate := InterestRateFor(req.Type)
	emi := CalculateEMI(req.Amount, rate, req.TenureMonths)

	l := &Loan{
		LoanNumber:      s.Numbers.Next(),
		UserID:          userID,
		LinkedAccount:   account.Number,
		Type:            req.Type,
		Principal:       req.Amount,
		InterestRate:    rate,
		TenureMonths:    req.TenureMonths,
		Status:          StatusPending,
		EMIAmount:       emi,
		TotalPayable:    TotalPayable(emi, req.TenureMonths),
		PaidAmount:      mustDecimal("0"),
		RecoveredAmount: mustDecimal("0"),
		CreatedAt:       s.now(),
	}

	if err := s.Loans.CreateLoan(ctx, l); err != nil {
		return nil, fmt.Errorf("persisting loan: %w", err)
	}
	return l, nil
}

// Get returns a loan after verifying the requester owns it.
func (s *Service) Get(ctx context.Context, id LoanID, userID UserID) (*Loan, error) {
	l, err := s.Loans.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, ErrUnauthorized
	}
	return l, nil
}

// ListByUser returns all of a user's loans.
func (s *Service) ListByUser(ctx context.Context, userID UserID) ([]*Loan, error) {
	return s.Loans.ListLoansByUser(ctx, userID)
}

// ListPending returns all PENDING loans awaiting an admin decision.
func (s *Service) ListPending(ctx context.Context) ([]*Loan, error) {
	return s.Loans.ListLoansByStatus(ctx, StatusPending)
}

func validateRequest(req Request) *ValidationError {
	if !req.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "loan amount must be positive"}
	}
	if req.TenureMonths < 1 {
		return &ValidationError{Field: "tenure_months", Message: "tenure must be at least 1 month"}
	}
	if strings.TrimSpace(req.AccountNumber) == "" {
		return &ValidationError{Field: "account_number", Message: "account number is required"}
	}
	if req.Type == "" {
		return &ValidationError{Field: "loan_type", Message: "loan type is required"}
	}
	return nil
}
