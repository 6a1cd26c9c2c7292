package loan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/loan"
	memstore "github.com/warp/lending-engine/loan/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newApprovalFixture(t *testing.T) (*loan.ApprovalService, *memstore.Memory, *loan.Loan) {
	t.Helper()
	svc, mem := newOriginationService(t)
	l, err := svc.Apply(context.Background(), validRequest(t), testUser)
	require.NoError(t, err)

	approvals := &loan.ApprovalService{
		Loans:    mem,
		Schedule: &loan.ScheduleGenerator{EMIs: mem, Clock: fixedClock(testDay)},
		Clock:    fixedClock(testDay),
	}
	return approvals, mem, l
}

// =============================================================================
// APPROVAL TESTS
// =============================================================================

func TestApprove_CascadesToDisbursed(t *testing.T) {
	ctx := context.Background()
	approvals, mem, l := newApprovalFixture(t)

	approved, err := approvals.Approve(ctx, l.ID, "admin-1")
	require.NoError(t, err)

	// Approval releases funds immediately: the caller never observes a
	// resting APPROVED state.
	assert.Equal(t, loan.StatusDisbursed, approved.Status)
	require.NotNil(t, approved.StartDate)
	require.NotNil(t, approved.EndDate)
	assert.True(t, approved.StartDate.Equal(loan.DateOnly(testDay)))
	assert.True(t, approved.EndDate.Equal(loan.DateOnly(testDay).AddDate(0, l.TenureMonths, 0)))
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "admin-1", *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	stored, err := mem.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.StatusDisbursed, stored.Status)
}

func TestApprove_PersistsSchedule(t *testing.T) {
	ctx := context.Background()
	approvals, mem, l := newApprovalFixture(t)

	_, err := approvals.Approve(ctx, l.ID, "admin-1")
	require.NoError(t, err)

	schedule, err := mem.ListEMIsByLoan(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, schedule, l.TenureMonths)

	// The first due date is one month after the start date.
	assert.True(t, schedule[0].DueDate.Equal(loan.DateOnly(testDay).AddDate(0, 1, 0)))
	for _, rec := range schedule {
		assert.Equal(t, loan.EMIPending, rec.Status)
	}
}

func TestApprove_RetryFailsWithInvalidState(t *testing.T) {
	ctx := context.Background()
	approvals, mem, l := newApprovalFixture(t)

	_, err := approvals.Approve(ctx, l.ID, "admin-1")
	require.NoError(t, err)

	_, err = approvals.Approve(ctx, l.ID, "admin-2")
	assert.True(t, loan.IsInvalidState(err))

	// The retry must not have doubled the schedule.
	schedule, err := mem.ListEMIsByLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, schedule, l.TenureMonths)
}

func TestApprove_ReconcilesPreexistingDuplicates(t *testing.T) {
	ctx := context.Background()
	approvals, mem, l := newApprovalFixture(t)

	// A partial earlier run left duplicate rows for installment 1.
	stray := []*loan.EMIRecord{
		{LoanID: l.ID, Installment: 1, DueDate: loan.DateOnly(testDay).AddDate(0, 1, 0),
			Amount: l.EMIAmount, Status: loan.EMIPending},
		{LoanID: l.ID, Installment: 1, DueDate: loan.DateOnly(testDay).AddDate(0, 1, 0),
			Amount: l.EMIAmount, Status: loan.EMIPending},
	}
	require.NoError(t, mem.SaveEMIRecords(ctx, stray))

	_, err := approvals.Approve(ctx, l.ID, "admin-1")
	require.NoError(t, err)

	// Installment 1 kept the earliest of the stray pair rather than
	// generating a fresh row next to it.
	records, err := mem.ListEMIsByLoanAndInstallment(ctx, l.ID, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, stray[0].ID, records[0].ID)
}

func TestApprove_UnknownLoan(t *testing.T) {
	approvals, _, _ := newApprovalFixture(t)
	_, err := approvals.Approve(context.Background(), 9999, "admin-1")
	assert.True(t, loan.IsNotFound(err))
}

// =============================================================================
// REJECTION TESTS
// =============================================================================

func TestReject_RecordsReason(t *testing.T) {
	ctx := context.Background()
	approvals, mem, l := newApprovalFixture(t)

	rejected, err := approvals.Reject(ctx, l.ID, "income not verifiable", "admin-1")
	require.NoError(t, err)

	assert.Equal(t, loan.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "income not verifiable", *rejected.RejectionReason)
	assert.Nil(t, rejected.StartDate)

	// Rejection never creates a schedule.
	schedule, err := mem.ListEMIsByLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, schedule)
}

func TestReject_AfterDecisionFails(t *testing.T) {
	ctx := context.Background()
	approvals, _, l := newApprovalFixture(t)

	_, err := approvals.Approve(ctx, l.ID, "admin-1")
	require.NoError(t, err)

	_, err = approvals.Reject(ctx, l.ID, "changed my mind", "admin-1")
	assert.True(t, loan.IsInvalidState(err))
}
