package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/loan"
	"github.com/warp/lending-engine/user"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testDay = time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) *user.Service {
	t.Helper()
	return &user.Service{
		Store: user.NewMemoryStore(),
		Clock: func() time.Time { return testDay },
	}
}

func adminUser() *user.User {
	return &user.User{ID: "admin-1", Name: "Admin", Role: user.RoleAdmin}
}

// =============================================================================
// REGISTRATION TESTS
// =============================================================================

func TestRegister_CreatesPendingCustomer(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	u, err := svc.Register(ctx, "Ravi Kumar", "  Ravi@Example.COM ")
	require.NoError(t, err)

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "Ravi Kumar", u.Name)
	assert.Equal(t, "ravi@example.com", u.Email, "email is normalized")
	assert.Equal(t, user.RoleCustomer, u.Role)
	assert.Equal(t, user.KYCPending, u.KYC)
	assert.True(t, u.CreatedAt.Equal(testDay))
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	var verr *loan.ValidationError

	_, err := svc.Register(ctx, "  ", "a@b.com")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	_, err = svc.Register(ctx, "Ravi", "not-an-email")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Register(ctx, "Ravi", "ravi@example.com")
	require.NoError(t, err)

	// Case and whitespace variants collide with the normalized original.
	_, err = svc.Register(ctx, "Someone Else", " RAVI@example.com")
	var verr *loan.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)
}

// =============================================================================
// KYC REVIEW TESTS
// =============================================================================

func TestSetKYCStatus_AdminApproves(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	u, err := svc.Register(ctx, "Ravi", "ravi@example.com")
	require.NoError(t, err)

	updated, err := svc.SetKYCStatus(ctx, u.ID, user.KYCApproved, adminUser())
	require.NoError(t, err)
	assert.Equal(t, user.KYCApproved, updated.KYC)

	stored, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, user.KYCApproved, stored.KYC)
}

func TestSetKYCStatus_RequiresAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	u, err := svc.Register(ctx, "Ravi", "ravi@example.com")
	require.NoError(t, err)

	customer := &user.User{ID: "other", Role: user.RoleCustomer}
	_, err = svc.SetKYCStatus(ctx, u.ID, user.KYCApproved, customer)
	assert.True(t, loan.IsUnauthorized(err))

	_, err = svc.SetKYCStatus(ctx, u.ID, user.KYCApproved, nil)
	assert.True(t, loan.IsUnauthorized(err))
}

func TestSetKYCStatus_UnknownStatusRejected(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	u, err := svc.Register(ctx, "Ravi", "ravi@example.com")
	require.NoError(t, err)

	_, err = svc.SetKYCStatus(ctx, u.ID, "MAYBE", adminUser())
	var verr *loan.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSetKYCStatus_RejectedCanBeReReviewed(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	u, err := svc.Register(ctx, "Ravi", "ravi@example.com")
	require.NoError(t, err)

	_, err = svc.SetKYCStatus(ctx, u.ID, user.KYCRejected, adminUser())
	require.NoError(t, err)
	updated, err := svc.SetKYCStatus(ctx, u.ID, user.KYCApproved, adminUser())
	require.NoError(t, err)
	assert.Equal(t, user.KYCApproved, updated.KYC)
}

// =============================================================================
// KYC ORACLE TESTS
// =============================================================================

func TestIsApproved(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	u, err := svc.Register(ctx, "Ravi", "ravi@example.com")
	require.NoError(t, err)

	// PENDING is not approved.
	ok, err := svc.IsApproved(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.SetKYCStatus(ctx, u.ID, user.KYCApproved, adminUser())
	require.NoError(t, err)
	ok, err = svc.IsApproved(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// An unknown user is simply not approved, not an error.
	ok, err = svc.IsApproved(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}
