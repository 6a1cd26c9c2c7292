/*
emi.go - EMI calculation, schedule generation, duplicate reconciliation

PURPOSE:
  The amortization engine. Computes the equated monthly installment with
  the reducing-balance annuity formula, expands it into a month-by-month
  schedule with the principal/interest split per installment, and repairs
  duplicate schedule rows left behind by storage layers without a
  uniqueness constraint.

THE FORMULA:
  monthlyRate = annualRatePercent / 1200        (10-digit precision)
  emi = P * r * (1+r)^n / ((1+r)^n - 1)         (rounded 2dp half-up)

  Zero-rate loans degenerate to an even principal split.

IDEMPOTENCY:
  Persist() is a no-op when any record already exists for the loan, so a
  retried approval can never double the schedule. Duplicate reconciliation
  runs first either way: for each installment with more than one stored
  row, the earliest-created row is kept and the rest are deleted.

SEE ALSO:
  - approval.go: Triggers Persist() when a loan is disbursed
  - payment.go: Reconciles single installments before applying payments
*/
package loan

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EMI CALCULATION
// =============================================================================

// CalculateEMI computes the fixed monthly installment for a principal at an
// annual percentage rate over a tenure in months, rounded to 2dp half-up.
func CalculateEMI(principal, annualRatePercent decimal.Decimal, tenureMonths int) decimal.Decimal {
	r := MonthlyRate(annualRatePercent)
	n := decimal.NewFromInt(int64(tenureMonths))

	if r.IsZero() {
		// Interest-free: even split of the principal.
		return principal.DivRound(n, 2)
	}

	factor := decimal.NewFromInt(1).Add(r).Pow(n)
	numerator := principal.Mul(r).Mul(factor)
	denominator := factor.Sub(decimal.NewFromInt(1))
	return numerator.DivRound(denominator, 2)
}

// TotalPayable is emi * tenure; the invariant totalPayable == emi * tenure
// holds exactly because emi is already rounded.
func TotalPayable(emi decimal.Decimal, tenureMonths int) decimal.Decimal {
	return emi.Mul(decimal.NewFromInt(int64(tenureMonths)))
}

// =============================================================================
// SCHEDULE GENERATOR
// =============================================================================

// ScheduleGenerator produces and persists amortization schedules.
type ScheduleGenerator struct {
	EMIs EMIStore

	// Clock is overridable for tests; defaults to time.Now.
	Clock func() time.Time
}

func (g *ScheduleGenerator) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

// Generate computes the ordered installment list for a loan. Pure: nothing
// is persisted. Due dates count from the loan's start date, or today when
// the loan has not started yet.
func (g *ScheduleGenerator) Generate(l *Loan) []*EMIRecord {
	baseDate := DateOnly(g.now())
	if l.StartDate != nil {
		baseDate = DateOnly(*l.StartDate)
	}

	r := MonthlyRate(l.InterestRate)
	remaining := l.Principal
	schedule := make([]*EMIRecord, 0, l.TenureMonths)

	for i := 1; i <= l.TenureMonths; i++ {
		interest := Round2(remaining.Mul(r))
		principal := l.EMIAmount.Sub(interest)

		remaining = remaining.Sub(principal)
		// Clamp rounding drift: negative mid-schedule, and whatever cents
		// are left after the last installment.
		if remaining.IsNegative() || i == l.TenureMonths {
			remaining = decimal.Zero
		}

		schedule = append(schedule, &EMIRecord{
			LoanID:             l.ID,
			Installment:        i,
			DueDate:            baseDate.AddDate(0, i, 0),
			Amount:             l.EMIAmount,
			Principal:          principal,
			Interest:           interest,
			RemainingPrincipal: remaining,
			Status:             EMIPending,
		})
	}
	return schedule
}

// Persist writes the loan's schedule, idempotently. Reconciles duplicates
// first; if any record already exists for the loan, generation is skipped.
func (g *ScheduleGenerator) Persist(ctx context.Context, l *Loan) error {
	if _, err := g.CleanupDuplicates(ctx, l); err != nil {
		return err
	}

	existing, err := g.EMIs.ListEMIsByLoan(ctx, l.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Printf("[EMI] Schedule already exists for loan %d (%d records), skipping generation", l.ID, len(existing))
		return nil
	}

	schedule := g.Generate(l)
	if err := g.EMIs.SaveEMIRecords(ctx, schedule); err != nil {
		return err
	}
	log.Printf("[EMI] Saved %d installments for loan %d", len(schedule), l.ID)
	return nil
}

// =============================================================================
// DUPLICATE RECONCILIATION
// =============================================================================

// CleanupDuplicates scans every installment of a loan and removes duplicate
// rows, keeping the earliest-created record of each. Returns the number of
// rows removed. Duplicates indicate an earlier bug or race, so each repair
// is logged as a warning.
func (g *ScheduleGenerator) CleanupDuplicates(ctx context.Context, l *Loan) (int, error) {
	all, err := g.EMIs.ListEMIsByLoan(ctx, l.ID)
	if err != nil {
		return 0, err
	}

	byInstallment := make(map[int][]*EMIRecord)
	for _, r := range all {
		byInstallment[r.Installment] = append(byInstallment[r.Installment], r)
	}

	removed := 0
	for i := 1; i <= l.TenureMonths; i++ {
		dupes := byInstallment[i]
		if len(dupes) <= 1 {
			continue
		}
		log.Printf("[EMI] WARN: found %d duplicate records for loan %d installment %d", len(dupes), l.ID, i)
		// ListByLoan orders earliest-created first within an installment;
		// keep the first, delete the rest.
		for _, d := range dupes[1:] {
			if err := g.EMIs.DeleteEMIRecord(ctx, d.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// CleanupDuplicatesForInstallment repairs a single installment and returns
// the surviving canonical record, or ErrNotFound if none exist.
func (g *ScheduleGenerator) CleanupDuplicatesForInstallment(ctx context.Context, loanID LoanID, installment int) (*EMIRecord, error) {
	records, err := g.EMIs.ListEMIsByLoanAndInstallment(ctx, loanID, installment)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	if len(records) > 1 {
		log.Printf("[EMI] WARN: found %d duplicate records for loan %d installment %d, reconciling",
			len(records), loanID, installment)
		for _, d := range records[1:] {
			if err := g.EMIs.DeleteEMIRecord(ctx, d.ID); err != nil {
				return nil, err
			}
		}
	}
	return records[0], nil
}
