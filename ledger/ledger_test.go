package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testOwner = loan.UserID("user-1")

var testDay = time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) *ledger.Service {
	t.Helper()
	mem := ledger.NewMemoryStore()
	return &ledger.Service{
		Store:   mem,
		Numbers: ledger.NewNumberGenerator("001"),
		Tx:      mem,
		Clock:   func() time.Time { return testDay },
	}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func luhnValid(number string) bool {
	sum := 0
	alternate := true
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if alternate {
			alternate = false
		} else {
			digit *= 2
			if digit > 9 {
				digit = digit%10 + 1
			}
			alternate = true
		}
		sum += digit
	}
	return sum%10 == 0
}

// =============================================================================
// ACCOUNT NUMBER GENERATOR TESTS
// =============================================================================

func TestNumberGenerator_FormatAndChecksum(t *testing.T) {
	g := ledger.NewNumberGenerator("001")
	for i := 0; i < 100; i++ {
		n := g.Next()
		require.Len(t, n, 14, "branch(3) + body(10) + check(1)")
		assert.Equal(t, "001", n[:3])
		assert.True(t, luhnValid(n), "number %s fails Luhn validation", n)
	}
}

func TestNumberGenerator_BranchCodePrefix(t *testing.T) {
	g := ledger.NewNumberGenerator("042")
	assert.Equal(t, "042", g.Next()[:3])
}

// =============================================================================
// ACCOUNT LIFECYCLE TESTS
// =============================================================================

func TestOpen_CreatesActiveAccount(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	a, err := svc.Open(ctx, testOwner, dec(t, "5000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountActive, a.Status)
	assert.Equal(t, testOwner, a.OwnerID)
	assert.Equal(t, "5000", a.Balance.String())
	assert.True(t, luhnValid(a.Number))

	got, err := svc.Get(ctx, a.Number, testOwner)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(a.Balance))
}

func TestOpen_NegativeOpeningBalance(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Open(context.Background(), testOwner, dec(t, "-1"))
	var verr *loan.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, loan.IsClientError(err))
}

func TestGet_OwnershipEnforced(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, err := svc.Open(ctx, testOwner, dec(t, "100"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, a.Number, "intruder")
	assert.True(t, loan.IsUnauthorized(err))

	_, err = svc.Get(ctx, "does-not-exist", testOwner)
	assert.True(t, loan.IsNotFound(err))
}

// =============================================================================
// DEPOSIT / WITHDRAW TESTS
// =============================================================================

func TestDeposit_CreditsAndRecords(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, err := svc.Open(ctx, testOwner, dec(t, "100"))
	require.NoError(t, err)

	tx, err := svc.Deposit(ctx, a.Number, dec(t, "250.50"), testOwner, "salary")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxDeposit, tx.Type)
	assert.Equal(t, "350.5", tx.BalanceAfter.String())
	assert.Equal(t, "salary", tx.Description)
	assert.Regexp(t, `^TXN-`, tx.Reference)

	balance, err := svc.Balance(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, "350.5", balance.String())
}

func TestWithdraw_DebitsAndRecords(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, err := svc.Open(ctx, testOwner, dec(t, "100"))
	require.NoError(t, err)

	tx, err := svc.Withdraw(ctx, a.Number, dec(t, "40"), testOwner, "groceries")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxWithdrawal, tx.Type)
	assert.Equal(t, "60", tx.BalanceAfter.String())
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, err := svc.Open(ctx, testOwner, dec(t, "100"))
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, a.Number, dec(t, "100.01"), testOwner, "overdraft attempt")
	var ife *loan.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, a.Number, ife.AccountNumber)

	// Balance untouched, nothing recorded.
	balance, err := svc.Balance(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, "100", balance.String())
	txs, err := svc.Statement(ctx, a.Number, testOwner)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestMoveMoney_RejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, err := svc.Open(ctx, testOwner, dec(t, "100"))
	require.NoError(t, err)

	var verr *loan.ValidationError
	_, err = svc.Deposit(ctx, a.Number, decimal.Zero, testOwner, "")
	assert.ErrorAs(t, err, &verr)
	_, err = svc.Withdraw(ctx, a.Number, dec(t, "-5"), testOwner, "")
	assert.ErrorAs(t, err, &verr)
}

// =============================================================================
// TRANSFER TESTS
// =============================================================================

func TestTransfer_MovesMoneyAndRecordsBothLegs(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	src, err := svc.Open(ctx, testOwner, dec(t, "500"))
	require.NoError(t, err)
	dst, err := svc.Open(ctx, "user-2", dec(t, "100"))
	require.NoError(t, err)

	tx, err := svc.Transfer(ctx, src.Number, dst.Number, dec(t, "150.25"), testOwner, "rent")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxTransferOut, tx.Type)
	assert.Equal(t, src.Number, tx.AccountNumber)
	assert.Equal(t, "349.75", tx.BalanceAfter.String())
	assert.Regexp(t, `^TXN-`, tx.Reference)

	srcBalance, err := svc.Balance(ctx, src.Number)
	require.NoError(t, err)
	assert.Equal(t, "349.75", srcBalance.String())
	dstBalance, err := svc.Balance(ctx, dst.Number)
	require.NoError(t, err)
	assert.Equal(t, "250.25", dstBalance.String())

	// Both legs carry the same reference, one per statement.
	dstTxs, err := svc.Statement(ctx, dst.Number, "user-2")
	require.NoError(t, err)
	require.Len(t, dstTxs, 1)
	assert.Equal(t, ledger.TxTransferIn, dstTxs[0].Type)
	assert.Equal(t, tx.Reference, dstTxs[0].Reference)
	assert.Equal(t, "250.25", dstTxs[0].BalanceAfter.String())
}

func TestTransfer_InsufficientFundsLeavesBothUntouched(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	src, err := svc.Open(ctx, testOwner, dec(t, "100"))
	require.NoError(t, err)
	dst, err := svc.Open(ctx, "user-2", dec(t, "100"))
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, src.Number, dst.Number, dec(t, "100.01"), testOwner, "")
	var ife *loan.InsufficientFundsError
	require.ErrorAs(t, err, &ife)

	for _, number := range []string{src.Number, dst.Number} {
		balance, err := svc.Balance(ctx, number)
		require.NoError(t, err)
		assert.Equal(t, "100", balance.String())
	}
	txs, err := svc.Statement(ctx, src.Number, testOwner)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestTransfer_ValidationAndOwnership(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	src, err := svc.Open(ctx, testOwner, dec(t, "500"))
	require.NoError(t, err)
	dst, err := svc.Open(ctx, "user-2", dec(t, "100"))
	require.NoError(t, err)

	var verr *loan.ValidationError
	_, err = svc.Transfer(ctx, src.Number, dst.Number, decimal.Zero, testOwner, "")
	assert.ErrorAs(t, err, &verr)
	_, err = svc.Transfer(ctx, src.Number, src.Number, dec(t, "10"), testOwner, "")
	assert.ErrorAs(t, err, &verr)

	// Source must be owned by the caller, destination must exist.
	_, err = svc.Transfer(ctx, src.Number, dst.Number, dec(t, "10"), "user-2", "")
	assert.True(t, loan.IsUnauthorized(err))
	_, err = svc.Transfer(ctx, src.Number, "0000000000000", dec(t, "10"), testOwner, "")
	assert.True(t, loan.IsNotFound(err))
}

func TestTransfer_RequiresTransactionalStore(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.Tx = nil
	src, err := svc.Open(ctx, testOwner, dec(t, "500"))
	require.NoError(t, err)
	dst, err := svc.Open(ctx, "user-2", dec(t, "100"))
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, src.Number, dst.Number, dec(t, "10"), testOwner, "")
	require.ErrorIs(t, err, loan.ErrTxStoreRequired)
}

// =============================================================================
// STATEMENT TESTS
// =============================================================================

func TestStatement_NewestFirst(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, err := svc.Open(ctx, testOwner, dec(t, "100"))
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, a.Number, dec(t, "10"), testOwner, "first")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, a.Number, dec(t, "20"), testOwner, "second")
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, a.Number, dec(t, "5"), testOwner, "third")
	require.NoError(t, err)

	txs, err := svc.Statement(ctx, a.Number, testOwner)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "third", txs[0].Description)
	assert.Equal(t, "second", txs[1].Description)
	assert.Equal(t, "first", txs[2].Description)
}

// =============================================================================
// LOAN GATEWAY TESTS
// =============================================================================

func TestGateway_FindByNumberAndOwner(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, err := svc.Open(ctx, testOwner, dec(t, "100"))
	require.NoError(t, err)

	found, err := svc.FindByNumberAndOwner(ctx, a.Number, testOwner)
	require.NoError(t, err)
	assert.Equal(t, a.Number, found.Number)
	assert.True(t, found.Active)

	// A foreign owner gets not-found, not a permission error, so callers
	// cannot probe for account existence.
	_, err = svc.FindByNumberAndOwner(ctx, a.Number, "intruder")
	assert.True(t, loan.IsNotFound(err))
}

func TestGateway_Debit_ProducesStatementEntry(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, err := svc.Open(ctx, testOwner, dec(t, "20000"))
	require.NoError(t, err)

	ref, err := svc.Debit(ctx, a.Number, dec(t, "10661.85"), "EMI payment for LN1 (installment #1)")
	require.NoError(t, err)
	assert.Regexp(t, `^TXN-`, ref)

	balance, err := svc.Balance(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, "9338.15", balance.String())

	txs, err := svc.Statement(ctx, a.Number, testOwner)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxWithdrawal, txs[0].Type)
	assert.Equal(t, ref, txs[0].Reference)
}

func TestGateway_Debit_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, err := svc.Open(ctx, testOwner, dec(t, "100"))
	require.NoError(t, err)

	_, err = svc.Debit(ctx, a.Number, dec(t, "500"), "EMI payment")
	var ife *loan.InsufficientFundsError
	assert.ErrorAs(t, err, &ife)
}
