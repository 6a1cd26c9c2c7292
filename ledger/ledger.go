/*
Package ledger owns customer accounts and their transaction history.

PURPOSE:
  The account balance is the one piece of state the lending core consumes
  but must never write directly. This package guards it: deposits,
  withdrawals, and transfers validate the account, mutate the balance
  atomically, and append an immutable transaction record with a unique
  reference number.

ATOMICITY:
  Debit sufficiency is checked by the store in the same operation that
  decrements the balance (a conditional UPDATE in SQLite), so concurrent
  withdrawals from one account cannot both pass the balance check.
  Transfers mutate two accounts and need a TxStore so the debit and
  credit legs commit or roll back together.

GATEWAY:
  Service implements loan.AccountGateway, which is how the lending core
  reaches accounts.

SEE ALSO:
  - loan/store.go: The AccountGateway contract
  - store/sqlite:  Store implementation
*/
package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/loan"
)

// =============================================================================
// TYPES
// =============================================================================

type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
)

type Account struct {
	Number    string
	OwnerID   loan.UserID
	Balance   decimal.Decimal
	Status    AccountStatus
	CreatedAt time.Time
}

type TransactionType string

const (
	TxDeposit     TransactionType = "DEPOSIT"
	TxWithdrawal  TransactionType = "WITHDRAWAL"
	TxTransferIn  TransactionType = "TRANSFER_IN"
	TxTransferOut TransactionType = "TRANSFER_OUT"
)

// Transaction is an immutable record of a balance change. Never updated,
// never deleted.
type Transaction struct {
	ID            string
	AccountNumber string
	Type          TransactionType
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	Reference     string
	At            time.Time
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, number string) (*Account, error)

	// CreditAccount adds amount to the balance and returns the new balance.
	CreditAccount(ctx context.Context, number string, amount decimal.Decimal) (decimal.Decimal, error)

	// DebitAccount subtracts amount if the balance covers it, atomically,
	// and returns the new balance. Returns a loan.InsufficientFundsError
	// without mutation when it does not.
	DebitAccount(ctx context.Context, number string, amount decimal.Decimal) (decimal.Decimal, error)

	AppendTransaction(ctx context.Context, tx *Transaction) error
	ListTransactionsByAccount(ctx context.Context, number string) ([]*Transaction, error)
}

// TxStore runs a function against a transaction-scoped Store. Everything fn
// writes commits or rolls back as one unit.
type TxStore interface {
	Transact(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ACCOUNT NUMBER GENERATOR
// =============================================================================

// NumberGenerator issues account numbers: 3-digit branch code, 10 random
// digits, and a Luhn check digit.
type NumberGenerator struct {
	BranchCode string

	mu  sync.Mutex
	rng *rand.Rand
}

func NewNumberGenerator(branchCode string) *NumberGenerator {
	return &NumberGenerator{
		BranchCode: branchCode,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *NumberGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	body := fmt.Sprintf("%s%010d", g.BranchCode, g.rng.Intn(1_000_000_000))
	return fmt.Sprintf("%s%d", body, luhnCheckDigit(body))
}

func luhnCheckDigit(number string) int {
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if alternate {
			digit *= 2
			if digit > 9 {
				digit = digit%10 + 1
			}
		}
		sum += digit
		alternate = !alternate
	}
	return (10 - sum%10) % 10
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the account ledger: account opening, deposits, withdrawals,
// transfers, and the lending core's gateway into all of it.
type Service struct {
	Store   Store
	Numbers *NumberGenerator

	// Tx is required for transfers, which mutate two accounts in one
	// atomic scope. No other operation uses it.
	Tx TxStore

	Clock func() time.Time
}

var _ loan.AccountGateway = (*Service)(nil)

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Open creates an active account for a user with an opening balance.
func (s *Service) Open(ctx context.Context, owner loan.UserID, opening decimal.Decimal) (*Account, error) {
	if opening.IsNegative() {
		return nil, &loan.ValidationError{Field: "openingBalance", Message: "opening balance cannot be negative"}
	}
	a := &Account{
		Number:    s.Numbers.Next(),
		OwnerID:   owner,
		Balance:   opening,
		Status:    AccountActive,
		CreatedAt: s.now(),
	}
	if err := s.Store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns an account after verifying ownership.
func (s *Service) Get(ctx context.Context, number string, owner loan.UserID) (*Account, error) {
	a, err := s.Store.GetAccount(ctx, number)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != owner {
		return nil, loan.ErrUnauthorized
	}
	return a, nil
}

// Deposit credits an owned account and records the transaction.
func (s *Service) Deposit(ctx context.Context, number string, amount decimal.Decimal, owner loan.UserID, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, &loan.ValidationError{Field: "amount", Message: "deposit amount must be positive"}
	}
	a, err := s.Get(ctx, number, owner)
	if err != nil {
		return nil, err
	}
	if a.Status != AccountActive {
		return nil, &loan.ValidationError{Field: "accountNumber", Message: fmt.Sprintf("account %s is not active", number)}
	}

	after, err := s.Store.CreditAccount(ctx, number, amount)
	if err != nil {
		return nil, err
	}
	return s.record(ctx, number, TxDeposit, amount, after, description)
}

// Withdraw debits an owned account and records the transaction.
func (s *Service) Withdraw(ctx context.Context, number string, amount decimal.Decimal, owner loan.UserID, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, &loan.ValidationError{Field: "amount", Message: "withdrawal amount must be positive"}
	}
	a, err := s.Get(ctx, number, owner)
	if err != nil {
		return nil, err
	}
	if a.Status != AccountActive {
		return nil, &loan.ValidationError{Field: "accountNumber", Message: fmt.Sprintf("account %s is not active", number)}
	}

	after, err := s.Store.DebitAccount(ctx, number, amount)
	if err != nil {
		return nil, err
	}
	return s.record(ctx, number, TxWithdrawal, amount, after, description)
}

// Transfer moves money from an owned account into another account. Both
// legs run in one transactional scope and share a reference, a TRANSFER_OUT
// on the source and a TRANSFER_IN on the destination. Returns the source
// leg.
func (s *Service) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, owner loan.UserID, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, &loan.ValidationError{Field: "amount", Message: "transfer amount must be positive"}
	}
	if from == to {
		return nil, &loan.ValidationError{Field: "toAccount", Message: "cannot transfer to the same account"}
	}
	if s.Tx == nil {
		return nil, loan.ErrTxStoreRequired
	}

	src, err := s.Get(ctx, from, owner)
	if err != nil {
		return nil, err
	}
	if src.Status != AccountActive {
		return nil, &loan.ValidationError{Field: "accountNumber", Message: fmt.Sprintf("account %s is not active", from)}
	}
	dst, err := s.Store.GetAccount(ctx, to)
	if err != nil {
		return nil, err
	}
	if dst.Status != AccountActive {
		return nil, &loan.ValidationError{Field: "toAccount", Message: fmt.Sprintf("account %s is not active", to)}
	}

	ref := "TXN-" + uuid.NewString()[:8]
	at := s.now()
	var out *Transaction
	err = s.Tx.Transact(ctx, func(st Store) error {
		afterFrom, err := st.DebitAccount(ctx, from, amount)
		if err != nil {
			return err
		}
		afterTo, err := st.CreditAccount(ctx, to, amount)
		if err != nil {
			return err
		}
		out = &Transaction{
			ID:            uuid.NewString(),
			AccountNumber: from,
			Type:          TxTransferOut,
			Amount:        amount,
			BalanceAfter:  afterFrom,
			Description:   description,
			Reference:     ref,
			At:            at,
		}
		if err := st.AppendTransaction(ctx, out); err != nil {
			return err
		}
		in := &Transaction{
			ID:            uuid.NewString(),
			AccountNumber: to,
			Type:          TxTransferIn,
			Amount:        amount,
			BalanceAfter:  afterTo,
			Description:   description,
			Reference:     ref,
			At:            at,
		}
		return st.AppendTransaction(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Statement returns an owned account's transactions, newest first.
func (s *Service) Statement(ctx context.Context, number string, owner loan.UserID) ([]*Transaction, error) {
	if _, err := s.Get(ctx, number, owner); err != nil {
		return nil, err
	}
	return s.Store.ListTransactionsByAccount(ctx, number)
}

func (s *Service) record(ctx context.Context, number string, typ TransactionType, amount, after decimal.Decimal, description string) (*Transaction, error) {
	tx := &Transaction{
		ID:            uuid.NewString(),
		AccountNumber: number,
		Type:          typ,
		Amount:        amount,
		BalanceAfter:  after,
		Description:   description,
		Reference:     "TXN-" + uuid.NewString()[:8],
		At:            s.now(),
	}
	if err := s.Store.AppendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// =============================================================================
// LOAN GATEWAY - loan.AccountGateway implementation
// =============================================================================

func (s *Service) FindByNumberAndOwner(ctx context.Context, number string, owner loan.UserID) (*loan.Account, error) {
	a, err := s.Store.GetAccount(ctx, number)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != owner {
		return nil, loan.ErrNotFound
	}
	return &loan.Account{
		Number:  a.Number,
		OwnerID: a.OwnerID,
		Balance: a.Balance,
		Active:  a.Status == AccountActive,
	}, nil
}

func (s *Service) Balance(ctx context.Context, number string) (decimal.Decimal, error) {
	a, err := s.Store.GetAccount(ctx, number)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

// Debit withdraws an EMI payment on behalf of the lending core and returns
// the reference of the ledger transaction it produced.
func (s *Service) Debit(ctx context.Context, number string, amount decimal.Decimal, description string) (string, error) {
	after, err := s.Store.DebitAccount(ctx, number, amount)
	if err != nil {
		return "", err
	}
	tx, err := s.record(ctx, number, TxWithdrawal, amount, after, description)
	if err != nil {
		// Balance moved but the record write failed. Surface loudly; the
		// caller treats this as a processing failure, not a clean error.
		return "", fmt.Errorf("debit recorded no transaction for %s: %w", number, err)
	}
	return tx.Reference, nil
}
