/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Seeds the store with recognizable demo data so the API can be explored
  without hand-building users, accounts, and loans. Each scenario resets
  the store and rebuilds a known state.

AVAILABLE SCENARIOS:
  fresh-start:   An admin, a funded KYC-approved customer, and a customer
                 still waiting on KYC. No loans.
  mid-repayment: A disbursed 120000 @ 12% x 12 loan started three months
                 ago with the first two installments paid on time.
  overdue:       A disbursed loan started five months ago with nothing
                 paid. Running the sweep flags the overdue installments.

TIME:
  Scenarios that need history run origination and approval through service
  instances whose clocks are pinned in the past, so start dates, due dates,
  and payment dates come out historically plausible instead of all landing
  on "today".

NOTE:
  Scenarios reset the store. Only wire the loader in development/demo
  environments.

SEE ALSO:
  - handlers.go: Scenario endpoints on the Handler
  - cmd/server/main.go: Wiring the loader in demo mode
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
	"github.com/warp/lending-engine/user"
)

// =============================================================================
// LOADER
// =============================================================================

// ScenarioLoader rebuilds the store into a named demo state. It works against
// the raw stores so it can wire service instances with pinned clocks.
type ScenarioLoader struct {
	Users  user.Store
	Ledger ledger.Store
	Loans  loan.LoanStore
	EMIs   loan.EMIStore

	// Reset wipes all data before a scenario loads.
	Reset func(ctx context.Context) error

	mu      sync.Mutex
	current string
}

type scenario struct {
	ScenarioDTO
	load func(l *ScenarioLoader, ctx context.Context) error
}

var scenarios = []scenario{
	{
		ScenarioDTO{
			ID:          "fresh-start",
			Name:        "Fresh Start",
			Description: "An admin, a funded KYC-approved customer, and a customer awaiting KYC. No loans yet.",
		},
		(*ScenarioLoader).loadFreshStart,
	},
	{
		ScenarioDTO{
			ID:          "mid-repayment",
			Name:        "Mid Repayment",
			Description: "A 120000 @ 12% x 12 loan started three months ago with two installments paid.",
		},
		(*ScenarioLoader).loadMidRepayment,
	},
	{
		ScenarioDTO{
			ID:          "overdue",
			Name:        "Overdue Borrower",
			Description: "A loan started five months ago with no payments. Run the sweep to flag it.",
		},
		(*ScenarioLoader).loadOverdue,
	},
}

// List returns the available scenarios.
func (l *ScenarioLoader) List() []ScenarioDTO {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	return out
}

// Current returns the ID of the last loaded scenario, or "".
func (l *ScenarioLoader) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Load wipes the store and builds the named scenario.
func (l *ScenarioLoader) Load(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == id {
			found = &scenarios[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("unknown scenario %q", id)
	}

	if l.Reset != nil {
		if err := l.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset store: %w", err)
		}
	}
	if err := found.load(l, ctx); err != nil {
		return err
	}

	l.current = id
	log.Printf("[Scenario] Loaded %q", id)
	return nil
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// seedUser creates a user directly in the store with a fixed ID so demo
// clients can hardcode X-User-ID values.
func (l *ScenarioLoader) seedUser(ctx context.Context, id, name, email string, role user.Role, kyc user.KYCStatus, at time.Time) (*user.User, error) {
	u := &user.User{
		ID:        loan.UserID(id),
		Name:      name,
		Email:     email,
		Role:      role,
		KYC:       kyc,
		CreatedAt: at,
	}
	return u, l.Users.CreateUser(ctx, u)
}

func (l *ScenarioLoader) seedAccount(ctx context.Context, number string, owner loan.UserID, balance string, at time.Time) error {
	return l.Ledger.CreateAccount(ctx, &ledger.Account{
		Number:    number,
		OwnerID:   owner,
		Balance:   decimal.RequireFromString(balance),
		Status:    ledger.AccountActive,
		CreatedAt: at,
	})
}

// services builds domain services against the loader's stores with a pinned
// clock.
func (l *ScenarioLoader) services(at time.Time) (*loan.Service, *loan.ApprovalService, *loan.PaymentService) {
	clock := clockAt(at)
	accounts := &ledger.Service{Store: l.Ledger, Clock: clock}
	sched := &loan.ScheduleGenerator{EMIs: l.EMIs, Clock: clock}

	origination := &loan.Service{
		Loans:    l.Loans,
		Accounts: accounts,
		KYC:      &user.Service{Store: l.Users},
		Numbers:  &loan.LoanNumberGenerator{},
		Clock:    clock,
	}
	approval := &loan.ApprovalService{Loans: l.Loans, Schedule: sched, Clock: clock}
	payment := &loan.PaymentService{
		Loans:    l.Loans,
		EMIs:     l.EMIs,
		Accounts: accounts,
		Schedule: sched,
		Clock:    clock,
	}
	return origination, approval, payment
}

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// =============================================================================
// SCENARIOS
// =============================================================================

const demoAccount = "0017734120985"

func (l *ScenarioLoader) loadFreshStart(ctx context.Context) error {
	now := time.Now()

	if _, err := l.seedUser(ctx, "admin", "Asha Banerjee", "asha@demo.bank", user.RoleAdmin, user.KYCApproved, now); err != nil {
		return err
	}
	ravi, err := l.seedUser(ctx, "ravi", "Ravi Kumar", "ravi@demo.bank", user.RoleCustomer, user.KYCApproved, now)
	if err != nil {
		return err
	}
	if _, err := l.seedUser(ctx, "meena", "Meena Joshi", "meena@demo.bank", user.RoleCustomer, user.KYCPending, now); err != nil {
		return err
	}

	return l.seedAccount(ctx, demoAccount, ravi.ID, "250000", now)
}

func (l *ScenarioLoader) loadMidRepayment(ctx context.Context) error {
	if err := l.loadFreshStart(ctx); err != nil {
		return err
	}

	threeMonthsAgo := time.Now().AddDate(0, -3, 0)
	origination, approval, payment := l.services(threeMonthsAgo)

	lo, err := origination.Apply(ctx, loan.Request{
		Amount:        decimal.RequireFromString("120000"),
		TenureMonths:  12,
		AccountNumber: demoAccount,
		Type:          loan.LoanPersonal,
	}, "ravi")
	if err != nil {
		return fmt.Errorf("failed to seed loan: %w", err)
	}
	if _, err := approval.Approve(ctx, lo.ID, "admin"); err != nil {
		return fmt.Errorf("failed to approve seed loan: %w", err)
	}

	// Pay the first two installments at their due dates.
	for n := 1; n <= 2; n++ {
		payment.Clock = clockAt(threeMonthsAgo.AddDate(0, n, 0))
		if _, err := payment.PayEMI(ctx, lo.ID, n, "ravi"); err != nil {
			return fmt.Errorf("failed to seed payment %d: %w", n, err)
		}
	}
	return nil
}

func (l *ScenarioLoader) loadOverdue(ctx context.Context) error {
	if err := l.loadFreshStart(ctx); err != nil {
		return err
	}

	fiveMonthsAgo := time.Now().AddDate(0, -5, 0)
	origination, approval, _ := l.services(fiveMonthsAgo)

	lo, err := origination.Apply(ctx, loan.Request{
		Amount:        decimal.RequireFromString("80000"),
		TenureMonths:  24,
		AccountNumber: demoAccount,
		Type:          loan.LoanCar,
	}, "ravi")
	if err != nil {
		return fmt.Errorf("failed to seed loan: %w", err)
	}
	if _, err := approval.Approve(ctx, lo.ID, "admin"); err != nil {
		return fmt.Errorf("failed to approve seed loan: %w", err)
	}
	return nil
}

// =============================================================================
// SCENARIO ENDPOINTS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	if h.Scenarios == nil {
		writeError(w, http.StatusNotFound, "Scenarios not enabled", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Scenarios.List())
}

// GetCurrentScenario returns the last loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.Scenarios == nil {
		writeError(w, http.StatusNotFound, "Scenarios not enabled", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current": h.Scenarios.Current()})
}

// LoadScenario wipes the store and loads a named scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Scenarios == nil {
		writeError(w, http.StatusNotFound, "Scenarios not enabled", nil)
		return
	}

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Scenarios.Load(r.Context(), req.ID); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ID})
}

// ResetDatabase wipes all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Scenarios == nil || h.Scenarios.Reset == nil {
		writeError(w, http.StatusNotFound, "Reset not enabled", nil)
		return
	}

	if err := h.Scenarios.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
