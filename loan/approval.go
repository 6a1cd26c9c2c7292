/*
approval.go - The loan decision workflow

PURPOSE:
  Admin decisions on PENDING loans. Approval sets the repayment window
  (start = today, end = start + tenure), records the approver, cascades to
  DISBURSED, and lays down the amortization schedule. Rejection records a
  reason. Both require the loan to still be PENDING.

RETRY SAFETY:
  A retried approval finds the loan no longer PENDING and fails with an
  invalid-state error; even if two approvals race past that check, the
  schedule generator's existence guard and duplicate reconciliation keep
  the stored schedule at exactly one record per installment.

SEE ALSO:
  - types.go: Loan.Approve / Loan.Reject hold the transition rules
  - emi.go: ScheduleGenerator.Persist
*/
package loan

import (
	"context"
	"fmt"
	"time"
)

// ApprovalService decides PENDING loans.
type ApprovalService struct {
	Loans    LoanStore
	Schedule *ScheduleGenerator

	Clock func() time.Time
}

func (s *ApprovalService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Approve transitions a PENDING loan to DISBURSED and persists its
// amortization schedule.
func (s *ApprovalService) Approve(ctx context.Context, id LoanID, approvedBy string) (*Loan, error) {
	l, err := s.Loans.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}

	// Repair any duplicate schedule rows before touching the loan. They can
	// only exist from an earlier bug or race; approval must not build on them.
	if _, err := s.Schedule.CleanupDuplicates(ctx, l); err != nil {
		return nil, fmt.Errorf("reconciling schedule for loan %d: %w", id, err)
	}

	now := s.now()
	if err := l.Approve(DateOnly(now), approvedBy, now); err != nil {
		return nil, err
	}

	// Idempotent: generates only when no records exist yet.
	if err := s.Schedule.Persist(ctx, l); err != nil {
		return nil, fmt.Errorf("persisting schedule for loan %d: %w", id, err)
	}

	if err := s.Loans.UpdateLoan(ctx, l); err != nil {
		return nil, fmt.Errorf("persisting loan %d: %w", id, err)
	}
	return l, nil
}

// Reject transitions a PENDING loan to REJECTED with a reason. No schedule
// work occurs.
func (s *ApprovalService) Reject(ctx context.Context, id LoanID, reason, rejectedBy string) (*Loan, error) {
	l, err := s.Loans.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := l.Reject(reason, rejectedBy, s.now()); err != nil {
		return nil, err
	}

	if err := s.Loans.UpdateLoan(ctx, l); err != nil {
		return nil, fmt.Errorf("persisting loan %d: %w", id, err)
	}
	return l, nil
}
