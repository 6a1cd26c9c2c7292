/*
Package store provides an in-memory implementation of the loan-facing
persistence interfaces, for tests and dev mode.

PURPOSE:
  Implements loan.LoanStore, loan.EMIStore, loan.AccountGateway,
  loan.KYCOracle, and loan.TxStore against maps. Reads and writes copy
  records, so snapshots taken for WithTx rollback stay intact and callers
  never share memory with the store.

DUPLICATES:
  Unlike the SQLite store, this store does NOT enforce uniqueness on
  (loan, installment). That is deliberate: it stands in for legacy
  storage with duplicate schedule rows, which is what the reconciliation
  logic exists to repair.

TRANSACTIONS:
  WithTx is simulated with a snapshot + rollback on error. Calls to
  WithTx are serialized among themselves.

SEE ALSO:
  - loan/store.go: Interface contracts
  - store/sqlite:  The production implementation
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/loan"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	loans   map[loan.LoanID]*loan.Loan
	loanSeq int64

	emis   map[loan.EMIRecordID]*loan.EMIRecord
	emiSeq int64

	accounts map[string]*memAccount
	kyc      map[loan.UserID]bool

	// FailNextEMIUpdate, when set, makes the next UpdateEMIRecord call
	// return this error. Test hook for post-debit failure behavior.
	FailNextEMIUpdate error
}

type memAccount struct {
	owner   loan.UserID
	balance decimal.Decimal
	active  bool
}

var (
	_ loan.LoanStore       = (*Memory)(nil)
	_ loan.EMIStore        = (*Memory)(nil)
	_ loan.AccountGateway  = (*Memory)(nil)
	_ loan.KYCOracle       = (*Memory)(nil)
	_ loan.TxStore         = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		loans:    make(map[loan.LoanID]*loan.Loan),
		emis:     make(map[loan.EMIRecordID]*loan.EMIRecord),
		accounts: make(map[string]*memAccount),
		kyc:      make(map[loan.UserID]bool),
	}
}

// =============================================================================
// SEEDING - Test and dev setup
// =============================================================================

// AddAccount seeds a ledger account.
func (m *Memory) AddAccount(number string, owner loan.UserID, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[number] = &memAccount{owner: owner, balance: balance, active: true}
}

// SetKYC seeds a user's KYC approval.
func (m *Memory) SetKYC(userID loan.UserID, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kyc[userID] = approved
}

// =============================================================================
// LOAN STORE
// =============================================================================

func (m *Memory) CreateLoan(_ context.Context, l *loan.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loanSeq++
	l.ID = loan.LoanID(m.loanSeq)
	cp := *l
	m.loans[l.ID] = &cp
	return nil
}

func (m *Memory) GetLoan(_ context.Context, id loan.LoanID) (*loan.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, loan.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *Memory) UpdateLoan(_ context.Context, l *loan.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[l.ID]; !ok {
		return loan.ErrNotFound
	}
	cp := *l
	m.loans[l.ID] = &cp
	return nil
}

func (m *Memory) ListLoansByUser(_ context.Context, userID loan.UserID) ([]*loan.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*loan.Loan
	for _, l := range m.loans {
		if l.UserID == userID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) ListLoansByStatus(_ context.Context, status loan.LoanStatus) ([]*loan.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*loan.Loan
	for _, l := range m.loans {
		if l.Status == status {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ExistsByUserAndStatusIn(_ context.Context, userID loan.UserID, statuses []loan.LoanStatus) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.loans {
		if l.UserID != userID {
			continue
		}
		for _, s := range statuses {
			if l.Status == s {
				return true, nil
			}
		}
	}
	return false, nil
}

// =============================================================================
// EMI STORE
// =============================================================================

func (m *Memory) SaveEMIRecords(_ context.Context, records []*loan.EMIRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.emiSeq++
		r.ID = loan.EMIRecordID(m.emiSeq)
		cp := *r
		m.emis[r.ID] = &cp
	}
	return nil
}

func (m *Memory) ListEMIsByLoan(_ context.Context, loanID loan.LoanID) ([]*loan.EMIRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*loan.EMIRecord
	for _, r := range m.emis {
		if r.LoanID == loanID {
			cp := *r
			out = append(out, &cp)
		}
	}
	// Installment order; creation order (ID) within an installment.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Installment != out[j].Installment {
			return out[i].Installment < out[j].Installment
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ListEMIsByLoanAndInstallment(_ context.Context, loanID loan.LoanID, installment int) ([]*loan.EMIRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*loan.EMIRecord
	for _, r := range m.emis {
		if r.LoanID == loanID && r.Installment == installment {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateEMIRecord(_ context.Context, r *loan.EMIRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextEMIUpdate != nil {
		err := m.FailNextEMIUpdate
		m.FailNextEMIUpdate = nil
		return err
	}
	if _, ok := m.emis[r.ID]; !ok {
		return loan.ErrNotFound
	}
	cp := *r
	m.emis[r.ID] = &cp
	return nil
}

func (m *Memory) DeleteEMIRecord(_ context.Context, id loan.EMIRecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.emis, id)
	return nil
}

func (m *Memory) CountEMIsByLoanAndStatus(_ context.Context, loanID loan.LoanID, status loan.EMIStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.emis {
		if r.LoanID == loanID && r.Status == status {
			n++
		}
	}
	return n, nil
}

// ListOverdueByStatus returns records in a status due strictly before cutoff,
// across all loans, ordered by due date then ID.
func (m *Memory) ListOverdueByStatus(_ context.Context, status loan.EMIStatus, cutoff time.Time) ([]*loan.EMIRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*loan.EMIRecord
	for _, r := range m.emis {
		if r.Status == status && r.DueDate.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// ACCOUNT GATEWAY
// =============================================================================

func (m *Memory) FindByNumberAndOwner(_ context.Context, number string, owner loan.UserID) (*loan.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[number]
	if !ok || a.owner != owner {
		return nil, loan.ErrNotFound
	}
	return &loan.Account{Number: number, OwnerID: a.owner, Balance: a.balance, Active: a.active}, nil
}

func (m *Memory) Balance(_ context.Context, number string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[number]
	if !ok {
		return decimal.Zero, loan.ErrNotFound
	}
	return a.balance, nil
}

// Debit atomically checks sufficiency and withdraws.
func (m *Memory) Debit(_ context.Context, number string, amount decimal.Decimal, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[number]
	if !ok {
		return "", loan.ErrNotFound
	}
	if a.balance.LessThan(amount) {
		return "", &loan.InsufficientFundsError{AccountNumber: number, Required: amount, Available: a.balance}
	}
	m.accounts[number] = &memAccount{owner: a.owner, balance: a.balance.Sub(amount), active: a.active}
	return "TXN-" + uuid.NewString(), nil
}

// =============================================================================
// KYC ORACLE
// =============================================================================

func (m *Memory) IsApproved(_ context.Context, userID loan.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kyc[userID], nil
}

// =============================================================================
// TRANSACTIONS - Snapshot and rollback
// =============================================================================

// WithTx executes fn, restoring the pre-call state if it errors. Writes go
// straight to the store; atomicity here means rollback, not isolation.
func (m *Memory) WithTx(_ context.Context, fn func(loan.Stores) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	err := fn(loan.Stores{Loans: m, EMIs: m, Accounts: m})
	if err != nil {
		m.restore(snap)
	}
	return err
}

type memSnapshot struct {
	loans    map[loan.LoanID]*loan.Loan
	emis     map[loan.EMIRecordID]*loan.EMIRecord
	accounts map[string]*memAccount
}

// Stored values are replaced, never mutated in place, so copying the map
// headers is a sufficient snapshot.
func (m *Memory) snapshot() memSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := memSnapshot{
		loans:    make(map[loan.LoanID]*loan.Loan, len(m.loans)),
		emis:     make(map[loan.EMIRecordID]*loan.EMIRecord, len(m.emis)),
		accounts: make(map[string]*memAccount, len(m.accounts)),
	}
	for k, v := range m.loans {
		s.loans[k] = v
	}
	for k, v := range m.emis {
		s.emis[k] = v
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	return s
}

func (m *Memory) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans = s.loans
	m.emis = s.emis
	m.accounts = s.accounts
}
