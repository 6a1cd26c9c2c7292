package loan_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/loan"
	memstore "github.com/warp/lending-engine/loan/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testDay = time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

// =============================================================================
// EMI FORMULA TESTS
// =============================================================================

func TestCalculateEMI_ReducingBalance(t *testing.T) {
	// 120000 at 12% annual over 12 months: r = 0.01, factor = 1.01^12
	emi := loan.CalculateEMI(dec(t, "120000"), dec(t, "12"), 12)
	assert.Equal(t, "10661.85", emi.StringFixed(2))

	total := loan.TotalPayable(emi, 12)
	assert.Equal(t, "127942.20", total.StringFixed(2))
}

func TestCalculateEMI_ZeroRate_EvenSplit(t *testing.T) {
	emi := loan.CalculateEMI(dec(t, "120000"), decimal.Zero, 12)
	assert.Equal(t, "10000.00", emi.StringFixed(2))
}

func TestCalculateEMI_SingleInstallment(t *testing.T) {
	// One month at 12% annual: the whole principal plus one month's interest.
	emi := loan.CalculateEMI(dec(t, "10000"), dec(t, "12"), 1)
	assert.Equal(t, "10100.00", emi.StringFixed(2))
}

func TestTotalPayable_IsEMITimesTenure(t *testing.T) {
	emi := loan.CalculateEMI(dec(t, "500000"), dec(t, "8.5"), 240)
	total := loan.TotalPayable(emi, 240)
	assert.True(t, total.Equal(emi.Mul(decimal.NewFromInt(240))))
}

func TestMonthlyRate_Precision(t *testing.T) {
	// 12 / 1200 divides exactly; 10 / 1200 does not and keeps 10 digits.
	assert.Equal(t, "0.01", loan.MonthlyRate(dec(t, "12")).String())
	assert.Equal(t, "0.0083333333", loan.MonthlyRate(dec(t, "10")).String())
}

// =============================================================================
// SCHEDULE GENERATION TESTS
// =============================================================================

func scheduleTestLoan(t *testing.T) *loan.Loan {
	t.Helper()
	principal := dec(t, "120000")
	rate := dec(t, "12")
	emi := loan.CalculateEMI(principal, rate, 12)
	start := loan.DateOnly(testDay)
	return &loan.Loan{
		ID:           1,
		LoanNumber:   "LN1700000000001",
		UserID:       "user-1",
		Type:         loan.LoanPersonal,
		Principal:    principal,
		InterestRate: rate,
		TenureMonths: 12,
		StartDate:    &start,
		Status:       loan.StatusDisbursed,
		EMIAmount:    emi,
		TotalPayable: loan.TotalPayable(emi, 12),
	}
}

func TestScheduleGenerator_Generate_FullAmortization(t *testing.T) {
	g := &loan.ScheduleGenerator{Clock: fixedClock(testDay)}
	l := scheduleTestLoan(t)

	schedule := g.Generate(l)
	require.Len(t, schedule, 12)

	// Every installment carries the fixed EMI amount, split into principal
	// and interest, with the interest share shrinking month over month.
	prev := decimal.NewFromInt(1 << 30)
	paidPrincipal := decimal.Zero
	for i, rec := range schedule {
		assert.Equal(t, i+1, rec.Installment)
		assert.Equal(t, loan.EMIPending, rec.Status)
		assert.True(t, rec.Amount.Equal(l.EMIAmount))
		assert.True(t, rec.Principal.Add(rec.Interest).Equal(rec.Amount),
			"installment %d: principal + interest != emi", i+1)
		assert.True(t, rec.Interest.LessThan(prev),
			"installment %d: interest did not decrease", i+1)
		prev = rec.Interest
		paidPrincipal = paidPrincipal.Add(rec.Principal)
	}

	// First month's interest is exactly principal * monthly rate.
	assert.Equal(t, "1200.00", schedule[0].Interest.StringFixed(2))

	// The schedule amortizes the principal down to a cent-level residue,
	// and the final row's remaining principal is clamped to exactly zero.
	residue := l.Principal.Sub(paidPrincipal)
	assert.True(t, residue.Abs().LessThan(dec(t, "0.10")),
		"residue after full schedule: %s", residue)
	assert.True(t, schedule[11].RemainingPrincipal.IsZero())
}

func TestScheduleGenerator_Generate_DueDatesFromStart(t *testing.T) {
	g := &loan.ScheduleGenerator{Clock: fixedClock(testDay)}
	l := scheduleTestLoan(t)

	schedule := g.Generate(l)

	start := loan.DateOnly(testDay)
	for i, rec := range schedule {
		want := start.AddDate(0, i+1, 0)
		assert.True(t, rec.DueDate.Equal(want),
			"installment %d: due %s, want %s", i+1, rec.DueDate, want)
	}
}

func TestScheduleGenerator_Generate_ZeroRate(t *testing.T) {
	g := &loan.ScheduleGenerator{Clock: fixedClock(testDay)}
	principal := dec(t, "12000")
	start := loan.DateOnly(testDay)
	l := &loan.Loan{
		ID:           2,
		Principal:    principal,
		InterestRate: decimal.Zero,
		TenureMonths: 12,
		StartDate:    &start,
		EMIAmount:    loan.CalculateEMI(principal, decimal.Zero, 12),
	}

	schedule := g.Generate(l)
	require.Len(t, schedule, 12)
	for _, rec := range schedule {
		assert.True(t, rec.Interest.IsZero())
		assert.Equal(t, "1000.00", rec.Principal.StringFixed(2))
	}
	assert.True(t, schedule[11].RemainingPrincipal.IsZero())
}

// =============================================================================
// PERSIST IDEMPOTENCY TESTS
// =============================================================================

func TestScheduleGenerator_Persist_Idempotent(t *testing.T) {
	ctx := context.Background()
	mem := memstore.NewMemory()
	g := &loan.ScheduleGenerator{EMIs: mem, Clock: fixedClock(testDay)}
	l := scheduleTestLoan(t)

	// First persist writes the full schedule.
	require.NoError(t, g.Persist(ctx, l))
	first, err := mem.ListEMIsByLoan(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, first, 12)

	// A retried persist is a no-op: same 12 records, same IDs.
	require.NoError(t, g.Persist(ctx, l))
	second, err := mem.ListEMIsByLoan(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, second, 12)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

// =============================================================================
// DUPLICATE RECONCILIATION TESTS
// =============================================================================

func TestScheduleGenerator_CleanupDuplicates_KeepsEarliest(t *testing.T) {
	ctx := context.Background()
	mem := memstore.NewMemory()
	g := &loan.ScheduleGenerator{EMIs: mem, Clock: fixedClock(testDay)}
	l := scheduleTestLoan(t)

	require.NoError(t, g.Persist(ctx, l))
	canonical, err := mem.ListEMIsByLoanAndInstallment(ctx, l.ID, 3)
	require.NoError(t, err)
	require.Len(t, canonical, 1)

	// Inject two duplicate rows for installment 3, as a buggy writer would.
	dupe := *canonical[0]
	dupe.ID = 0
	dupes := []*loan.EMIRecord{}
	for i := 0; i < 2; i++ {
		cp := dupe
		dupes = append(dupes, &cp)
	}
	require.NoError(t, mem.SaveEMIRecords(ctx, dupes))

	removed, err := g.CleanupDuplicates(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// The earliest-created row survives.
	after, err := mem.ListEMIsByLoanAndInstallment(ctx, l.ID, 3)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, canonical[0].ID, after[0].ID)
}

func TestScheduleGenerator_CleanupDuplicatesForInstallment(t *testing.T) {
	ctx := context.Background()
	mem := memstore.NewMemory()
	g := &loan.ScheduleGenerator{EMIs: mem, Clock: fixedClock(testDay)}
	l := scheduleTestLoan(t)

	require.NoError(t, g.Persist(ctx, l))
	canonical, err := mem.ListEMIsByLoanAndInstallment(ctx, l.ID, 5)
	require.NoError(t, err)
	dupe := *canonical[0]
	dupe.ID = 0
	require.NoError(t, mem.SaveEMIRecords(ctx, []*loan.EMIRecord{&dupe}))

	survivor, err := g.CleanupDuplicatesForInstallment(ctx, l.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, canonical[0].ID, survivor.ID)

	// Unknown installment reports not found.
	_, err = g.CleanupDuplicatesForInstallment(ctx, l.ID, 99)
	assert.True(t, loan.IsNotFound(err))
}
