package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/loan"
)

// MemoryStore is a map-backed Store for tests and demo wiring. Debits hold
// the store lock across the sufficiency check and the write, matching the
// atomicity SQLite gives via a conditional UPDATE.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	txs      map[string][]*Transaction
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ TxStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		txs:      make(map[string][]*Transaction),
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.Number]; ok {
		return &loan.ValidationError{Field: "accountNumber", Message: "account number already exists"}
	}
	cp := *a
	m.accounts[a.Number] = &cp
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, number string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[number]
	if !ok {
		return nil, loan.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) CreditAccount(_ context.Context, number string, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[number]
	if !ok {
		return decimal.Zero, loan.ErrNotFound
	}
	a.Balance = a.Balance.Add(amount)
	return a.Balance, nil
}

func (m *MemoryStore) DebitAccount(_ context.Context, number string, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[number]
	if !ok {
		return decimal.Zero, loan.ErrNotFound
	}
	if a.Balance.LessThan(amount) {
		return decimal.Zero, &loan.InsufficientFundsError{
			AccountNumber: number,
			Required:      amount,
			Available:     a.Balance,
		}
	}
	a.Balance = a.Balance.Sub(amount)
	return a.Balance, nil
}

func (m *MemoryStore) AppendTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tx
	m.txs[tx.AccountNumber] = append(m.txs[tx.AccountNumber], &cp)
	return nil
}

// Transact snapshots the store, runs fn against it, and restores the
// snapshot if fn fails. Balances are mutated in place, so accounts are
// copied one by one; transaction records are immutable and only appended,
// so copying the slices is enough.
func (m *MemoryStore) Transact(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	accounts := make(map[string]*Account, len(m.accounts))
	for k, v := range m.accounts {
		cp := *v
		accounts[k] = &cp
	}
	txs := make(map[string][]*Transaction, len(m.txs))
	for k, v := range m.txs {
		txs[k] = append([]*Transaction(nil), v...)
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.accounts = accounts
		m.txs = txs
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) ListTransactionsByAccount(_ context.Context, number string) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.txs[number]
	out := make([]*Transaction, 0, len(list))
	// Newest first.
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}
