/*
payment.go - EMI payment processing

PURPOSE:
  Applies a borrower's payment against one installment: validates
  ownership and loan state, reconciles duplicate rows for the installment,
  flags late payment, debits the linked account through the ledger
  gateway, marks the installment PAID, updates the loan's paid/recovered
  counters, and closes the loan once every installment is PAID.

ORDERING:
  validate -> debit ledger -> update installment -> update loan. The steps
  up to the debit perform no mutation, so any failure there leaves all
  state untouched. The debit is the single external mutation; everything
  after it runs inside the store transaction when one is available.

FAILURE WINDOW:
  Without a TxStore the debit and the local writes are separate
  operations. A failure after a successful debit leaves the ledger
  debited and the schedule unpaid; that condition is logged at error
  severity and surfaced as a distinct processing-failed error, never
  silently retried as if no debit occurred.

CONCURRENCY:
  A per-loan mutex serializes payments on the same loan within this
  process, so the already-paid check cannot race a concurrent writer.
  The store transaction is the cross-process backstop.

SEE ALSO:
  - store.go: TxStore and the atomicity contract of AccountGateway.Debit
  - emi.go: Per-installment duplicate reconciliation
*/
package loan

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// PaymentService applies EMI payments and serves schedule reads.
type PaymentService struct {
	Loans    LoanStore
	EMIs     EMIStore
	Accounts AccountGateway
	Schedule *ScheduleGenerator

	// Tx, when set, runs the mutation phase atomically. Optional: without
	// it the service falls back to sequential writes (see FAILURE WINDOW).
	Tx TxStore

	Clock func() time.Time

	mu    sync.Mutex
	locks map[LoanID]*sync.Mutex
}

func (s *PaymentService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *PaymentService) lockLoan(id LoanID) func() {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[LoanID]*sync.Mutex)
	}
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// =============================================================================
// PAY EMI
// =============================================================================

// PayEMI settles one installment of a disbursed loan from its linked
// account and returns a confirmation message.
func (s *PaymentService) PayEMI(ctx context.Context, loanID LoanID, installment int, userID UserID) (string, error) {
	unlock := s.lockLoan(loanID)
	defer unlock()

	l, err := s.Loans.GetLoan(ctx, loanID)
	if err != nil {
		return "", err
	}

	if l.UserID != userID {
		return "", ErrUnauthorized
	}

	if l.Status != StatusDisbursed {
		return "", &InvalidStateError{Op: "pay", Current: l.Status, Required: StatusDisbursed}
	}

	records, err := s.EMIs.ListEMIsByLoanAndInstallment(ctx, loanID, installment)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", fmt.Errorf("installment %d: %w", installment, ErrNotFound)
	}

	rec := records[0]
	if len(records) > 1 {
		rec, err = s.Schedule.CleanupDuplicatesForInstallment(ctx, loanID, installment)
		if err != nil {
			return "", err
		}
	}

	if rec.Status == EMIPaid {
		return "", fmt.Errorf("installment %d: %w", installment, ErrAlreadyPaid)
	}

	today := DateOnly(s.now())
	if rec.DueDate.Before(today) {
		// Informational: late payments are still accepted.
		log.Printf("[Payment] WARN: installment %d of loan %d is overdue (due %s)",
			installment, loanID, rec.DueDate.Format("2006-01-02"))
		rec.Status = EMILate
	}

	balance, err := s.Accounts.Balance(ctx, l.LinkedAccount)
	if err != nil {
		return "", err
	}
	if balance.LessThan(rec.Amount) {
		return "", &InsufficientFundsError{
			AccountNumber: l.LinkedAccount,
			Required:      rec.Amount,
			Available:     balance,
		}
	}

	settle := func(st Stores) error { return s.settle(ctx, st, l, rec, installment, today) }

	if s.Tx != nil {
		err = s.Tx.WithTx(ctx, settle)
	} else {
		err = s.settleSequential(ctx, l, rec, installment, today)
	}
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("EMI payment successful for installment #%d", installment), nil
}

// settle runs the mutation phase: debit, installment update, loan update.
func (s *PaymentService) settle(ctx context.Context, st Stores, l *Loan, rec *EMIRecord, installment int, today time.Time) error {
	desc := fmt.Sprintf("EMI payment for %s (installment #%d)", l.LoanNumber, installment)
	ref, err := st.Accounts.Debit(ctx, l.LinkedAccount, rec.Amount, desc)
	if err != nil {
		return err
	}

	rec.PaymentDate = &today
	rec.Status = EMIPaid
	rec.TransactionRef = ref
	if err := st.EMIs.UpdateEMIRecord(ctx, rec); err != nil {
		return err
	}

	l.PaidAmount = l.PaidAmount.Add(rec.Amount)
	l.RecoveredAmount = l.RecoveredAmount.Add(rec.Principal)

	// Closure counts PAID rows against the tenure. Unpaid installments may
	// sit in LATE or DEFAULTED, and those still owe money.
	paid, err := st.EMIs.CountEMIsByLoanAndStatus(ctx, l.ID, EMIPaid)
	if err != nil {
		return err
	}
	if paid >= l.TenureMonths {
		l.Status = StatusClosed
		log.Printf("[Payment] All installments paid, loan %d is now CLOSED", l.ID)
	}

	return st.Loans.UpdateLoan(ctx, l)
}

// settleSequential is the non-transactional fallback. A failure after the
// debit leaves the system inconsistent; it is reported, not hidden.
func (s *PaymentService) settleSequential(ctx context.Context, l *Loan, rec *EMIRecord, installment int, today time.Time) error {
	st := Stores{Loans: s.Loans, EMIs: s.EMIs, Accounts: s.Accounts}

	desc := fmt.Sprintf("EMI payment for %s (installment #%d)", l.LoanNumber, installment)
	ref, err := st.Accounts.Debit(ctx, l.LinkedAccount, rec.Amount, desc)
	if err != nil {
		return err
	}

	rec.PaymentDate = &today
	rec.Status = EMIPaid
	rec.TransactionRef = ref
	if err := st.EMIs.UpdateEMIRecord(ctx, rec); err != nil {
		log.Printf("[Payment] ERROR: account %s debited %s but installment %d of loan %d not marked paid: %v",
			l.LinkedAccount, rec.Amount.StringFixed(2), installment, l.ID, err)
		return fmt.Errorf("%w: %v", ErrPaymentProcessing, err)
	}

	l.PaidAmount = l.PaidAmount.Add(rec.Amount)
	l.RecoveredAmount = l.RecoveredAmount.Add(rec.Principal)

	paid, cerr := st.EMIs.CountEMIsByLoanAndStatus(ctx, l.ID, EMIPaid)
	if cerr != nil {
		log.Printf("[Payment] WARN: could not count paid installments for loan %d: %v", l.ID, cerr)
	} else if paid >= l.TenureMonths {
		l.Status = StatusClosed
		log.Printf("[Payment] All installments paid, loan %d is now CLOSED", l.ID)
	}

	if err := st.Loans.UpdateLoan(ctx, l); err != nil {
		log.Printf("[Payment] ERROR: installment %d of loan %d paid but loan counters not persisted: %v",
			installment, l.ID, err)
		return fmt.Errorf("%w: %v", ErrPaymentProcessing, err)
	}
	return nil
}

// =============================================================================
// SCHEDULE READ
// =============================================================================

// GetSchedule returns a loan's installments ordered by installment number,
// after verifying ownership and repairing any duplicate rows.
func (s *PaymentService) GetSchedule(ctx context.Context, loanID LoanID, userID UserID) ([]*EMIRecord, error) {
	l, err := s.Loans.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, ErrUnauthorized
	}

	if _, err := s.Schedule.CleanupDuplicates(ctx, l); err != nil {
		return nil, err
	}
	return s.EMIs.ListEMIsByLoan(ctx, loanID)
}
