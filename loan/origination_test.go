package loan_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/loan"
	memstore "github.com/warp/lending-engine/loan/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testAccount = "0011234567897"
	testUser    = loan.UserID("user-1")
)

func newOriginationService(t *testing.T) (*loan.Service, *memstore.Memory) {
	t.Helper()
	mem := memstore.NewMemory()
	mem.AddAccount(testAccount, testUser, decimal.NewFromInt(50000))
	mem.SetKYC(testUser, true)
	svc := &loan.Service{
		Loans:    mem,
		Accounts: mem,
		KYC:      mem,
		Numbers:  &loan.LoanNumberGenerator{},
		Clock:    fixedClock(testDay),
	}
	return svc, mem
}

func validRequest(t *testing.T) loan.Request {
	t.Helper()
	return loan.Request{
		Amount:        dec(t, "120000"),
		TenureMonths:  12,
		AccountNumber: testAccount,
		Type:          loan.LoanPersonal,
	}
}

// =============================================================================
// APPLICATION TESTS
// =============================================================================

func TestApply_CreatesPendingLoan(t *testing.T) {
	ctx := context.Background()
	svc, mem := newOriginationService(t)

	l, err := svc.Apply(ctx, validRequest(t), testUser)
	require.NoError(t, err)

	assert.Equal(t, loan.StatusPending, l.Status)
	assert.Equal(t, testUser, l.UserID)
	assert.Equal(t, testAccount, l.LinkedAccount)
	assert.NotEmpty(t, l.LoanNumber)
	assert.Nil(t, l.StartDate, "repayment window is set at approval, not application")

	// Personal loans carry the 12% product rate.
	assert.Equal(t, "12", l.InterestRate.String())
	assert.Equal(t, "10661.85", l.EMIAmount.StringFixed(2))
	assert.Equal(t, "127942.20", l.TotalPayable.StringFixed(2))
	assert.True(t, l.PaidAmount.IsZero())
	assert.True(t, l.RecoveredAmount.IsZero())

	stored, err := mem.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.LoanNumber, stored.LoanNumber)
}

func TestApply_ProductRates(t *testing.T) {
	cases := []struct {
		loanType loan.LoanType
		rate     string
	}{
		{loan.LoanHome, "8.5"},
		{loan.LoanCar, "9.5"},
		{loan.LoanPersonal, "12"},
		{loan.LoanEducation, "7.5"},
		{loan.LoanBusiness, "11"},
		{loan.LoanOther, "10"},
	}
	for _, tc := range cases {
		t.Run(string(tc.loanType), func(t *testing.T) {
			svc, _ := newOriginationService(t)
			req := validRequest(t)
			req.Type = tc.loanType
			l, err := svc.Apply(context.Background(), req, testUser)
			require.NoError(t, err)
			assert.Equal(t, tc.rate, l.InterestRate.String())
		})
	}
}

func TestApply_ValidationFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*loan.Request)
		field  string
	}{
		{"zero amount", func(r *loan.Request) { r.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(r *loan.Request) { r.Amount = decimal.NewFromInt(-1) }, "amount"},
		{"zero tenure", func(r *loan.Request) { r.TenureMonths = 0 }, "tenure_months"},
		{"blank account", func(r *loan.Request) { r.AccountNumber = "  " }, "account_number"},
		{"missing type", func(r *loan.Request) { r.Type = "" }, "loan_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mem := newOriginationService(t)
			req := validRequest(t)
			tc.mutate(&req)

			_, err := svc.Apply(context.Background(), req, testUser)
			var verr *loan.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.True(t, loan.IsClientError(err))

			// No partial state on failure.
			loans, lerr := mem.ListLoansByUser(context.Background(), testUser)
			require.NoError(t, lerr)
			assert.Empty(t, loans)
		})
	}
}

func TestApply_SecondActiveLoanRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newOriginationService(t)

	_, err := svc.Apply(ctx, validRequest(t), testUser)
	require.NoError(t, err)

	// A PENDING loan already blocks a second application.
	_, err = svc.Apply(ctx, validRequest(t), testUser)
	assert.ErrorIs(t, err, loan.ErrActiveLoanExists)
}

func TestApply_ClosedLoanDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	svc, mem := newOriginationService(t)

	l, err := svc.Apply(ctx, validRequest(t), testUser)
	require.NoError(t, err)
	l.Status = loan.StatusClosed
	require.NoError(t, mem.UpdateLoan(ctx, l))

	_, err = svc.Apply(ctx, validRequest(t), testUser)
	assert.NoError(t, err)
}

func TestApply_AccountMustBelongToApplicant(t *testing.T) {
	ctx := context.Background()
	svc, mem := newOriginationService(t)
	mem.AddAccount("0019999999990", "someone-else", decimal.NewFromInt(1000))
	mem.SetKYC(testUser, true)

	req := validRequest(t)
	req.AccountNumber = "0019999999990"
	_, err := svc.Apply(ctx, req, testUser)
	assert.True(t, loan.IsNotFound(err), "foreign account must be indistinguishable from a missing one")

	req.AccountNumber = "does-not-exist"
	_, err = svc.Apply(ctx, req, testUser)
	assert.True(t, loan.IsNotFound(err))
}

func TestApply_RequiresApprovedKYC(t *testing.T) {
	ctx := context.Background()
	svc, mem := newOriginationService(t)
	mem.SetKYC(testUser, false)

	_, err := svc.Apply(ctx, validRequest(t), testUser)
	assert.ErrorIs(t, err, loan.ErrKYCNotApproved)
}

// =============================================================================
// READ PATH TESTS
// =============================================================================

func TestGet_OwnershipEnforced(t *testing.T) {
	ctx := context.Background()
	svc, _ := newOriginationService(t)

	l, err := svc.Apply(ctx, validRequest(t), testUser)
	require.NoError(t, err)

	got, err := svc.Get(ctx, l.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)

	_, err = svc.Get(ctx, l.ID, "intruder")
	assert.True(t, loan.IsUnauthorized(err))

	_, err = svc.Get(ctx, 9999, testUser)
	assert.True(t, loan.IsNotFound(err))
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	svc, mem := newOriginationService(t)
	mem.AddAccount("0015555555558", "user-2", decimal.NewFromInt(1000))
	mem.SetKYC("user-2", true)

	_, err := svc.Apply(ctx, validRequest(t), testUser)
	require.NoError(t, err)
	req := validRequest(t)
	req.AccountNumber = "0015555555558"
	_, err = svc.Apply(ctx, req, "user-2")
	require.NoError(t, err)

	pending, err := svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

// =============================================================================
// LOAN NUMBER GENERATOR TESTS
// =============================================================================

func TestLoanNumberGenerator_UniqueAndMonotonic(t *testing.T) {
	g := &loan.LoanNumberGenerator{}
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		n := g.Next()
		assert.Regexp(t, `^LN\d+$`, n)
		assert.False(t, seen[n], "duplicate loan number %s", n)
		seen[n] = true
	}
}
