/*
errors.go - Centralized error types for the lending core

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  The HTTP layer maps these kinds to status codes; this package never
  returns a bare generic failure for the conditions enumerated here.

ERROR CATEGORIES:
  1. Validation errors - malformed loan applications
  2. State errors      - operations against the wrong loan/installment state
  3. Lookup errors     - missing loans, accounts, installments
  4. Funds errors      - ledger balance below the required amount
  5. Consistency       - duplicate schedule rows, post-debit write failures

USAGE:
  Callers classify with the helpers:

    if loan.IsNotFound(err) { ... 404 ... }
    var ise *loan.InvalidStateError
    if errors.As(err, &ise) { ... 409 with ise.Current ... }
*/
package loan

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a loan, account, or installment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the requester does not own the loan.
	ErrUnauthorized = errors.New("not authorized")

	// ErrValidation is returned for malformed or missing application input.
	ErrValidation = errors.New("invalid loan request")

	// ErrActiveLoanExists is returned when the user already holds a loan in
	// PENDING, APPROVED, or DISBURSED status.
	ErrActiveLoanExists = errors.New("active or pending loan already exists")

	// ErrKYCNotApproved is returned when the applicant's KYC status is not APPROVED.
	ErrKYCNotApproved = errors.New("kyc verification required")

	// ErrInvalidState is returned when a loan or installment is not in the
	// state an operation requires.
	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyPaid is returned when paying an installment that is already
	// PAID. Retries are rejected, never silently treated as success.
	ErrAlreadyPaid = errors.New("installment already paid")

	// ErrInsufficientFunds is returned when the linked account cannot cover the EMI.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPaymentProcessing is returned when the ledger debit succeeded but
	// this package's own records could not be persisted. The system is
	// inconsistent at that point; the condition is logged at error severity
	// and must not be retried as if no debit occurred.
	ErrPaymentProcessing = errors.New("payment processing failed, contact support")

	// ErrTxStoreRequired is returned when an operation needs a transactional
	// store boundary that the wired store does not provide.
	ErrTxStoreRequired = errors.New("operation requires transactional store")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError identifies which application precondition failed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid loan request: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidStateError names the state an operation found and the one it needed.
type InvalidStateError struct {
	Op       string
	Current  LoanStatus
	Required LoanStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s loan in %s state, requires %s", e.Op, e.Current, e.Required)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InsufficientFundsError reports the shortfall on the linked account.
type InsufficientFundsError struct {
	AccountNumber string
	Required      decimal.Decimal
	Available     decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: required %s, available %s",
		e.AccountNumber, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnauthorized reports whether the error is an ownership denial.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsInvalidState reports whether the error is a state-machine violation,
// including the already-paid rejection.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrAlreadyPaid)
}

// IsClientError reports whether the error is due to invalid client input or
// a condition the caller can resolve (funding the account, fixing the request).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrActiveLoanExists) ||
		errors.Is(err, ErrKYCNotApproved) ||
		errors.Is(err, ErrInsufficientFunds)
}
