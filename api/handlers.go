/*
handlers.go - HTTP API handlers for the lending engine

PURPOSE:
  Exposes the lending engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Users:
    POST   /api/users                     Register (KYC starts PENDING)
    GET    /api/users/me                  Current user profile

  Accounts:
    POST   /api/accounts                  Open an account
    GET    /api/accounts/{number}         Account details
    POST   /api/accounts/{number}/deposit
    POST   /api/accounts/{number}/withdraw
    POST   /api/accounts/{number}/transfer
    GET    /api/accounts/{number}/transactions

  Loans:
    POST   /api/loans                     Apply for a loan
    GET    /api/loans                     List my loans
    GET    /api/loans/{id}                Loan details
    GET    /api/loans/{id}/schedule       Amortization schedule
    POST   /api/loans/{id}/emis/{n}/pay   Pay installment n

  Admin:
    GET    /api/admin/loans/pending       Loans awaiting review
    POST   /api/admin/loans/{id}/approve
    POST   /api/admin/loans/{id}/reject
    POST   /api/admin/users/{id}/kyc      Set KYC status
    POST   /api/admin/sweep               Run the overdue sweep now

IDENTITY:
  The caller is identified by the X-User-ID header. There is no session or
  token verification; this mirrors an internal service sitting behind a
  gateway that has already authenticated the request. Admin endpoints
  additionally require the identified user to hold the admin role.

ERROR HANDLING:
  Domain error kinds map to HTTP status:
  - 400: Validation errors, KYC not approved, active loan exists,
         insufficient funds
  - 401: Missing or unknown X-User-ID
  - 403: Caller does not own the resource / is not an admin
  - 404: Loan, account, or installment not found
  - 409: State-machine violations (approve a rejected loan, pay a paid EMI)
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
	"github.com/warp/lending-engine/user"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Users     *user.Service
	Accounts  *ledger.Service
	Loans     *loan.Service
	Approvals *loan.ApprovalService
	Payments  *loan.PaymentService
	Sweep     *OverdueScheduler

	// Optional: demo scenario loading (nil in production wiring).
	Scenarios *ScenarioLoader
}

// identify resolves the caller from the X-User-ID header.
func (h *Handler) identify(r *http.Request) (*user.User, error) {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		return nil, errors.New("missing X-User-ID header")
	}
	u, err := h.Users.Get(r.Context(), loan.UserID(id))
	if err != nil {
		if loan.IsNotFound(err) {
			return nil, errors.New("unknown user")
		}
		return nil, err
	}
	return u, nil
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) *user.User {
	u, err := h.identify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", err)
		return nil
	}
	return u
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) *user.User {
	u := h.requireUser(w, r)
	if u == nil {
		return nil
	}
	if !u.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin role required", nil)
		return nil
	}
	return u
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// RegisterUser creates a new customer. No identity header required.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.Users.Register(r.Context(), req.Name, req.Email)
	if err != nil {
		writeDomainError(w, "Failed to register user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// GetCurrentUser returns the caller's profile.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// SetUserKYC moves a user's KYC status. Admin only.
func (h *Handler) SetUserKYC(w http.ResponseWriter, r *http.Request) {
	admin := h.requireAdmin(w, r)
	if admin == nil {
		return
	}

	var req SetKYCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	target := loan.UserID(chi.URLParam(r, "id"))
	u, err := h.Users.SetKYCStatus(r.Context(), target, user.KYCStatus(req.Status), admin)
	if err != nil {
		writeDomainError(w, "Failed to set KYC status", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// OpenAccount opens a ledger account for the caller.
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}

	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	opening, err := parseMoney(req.OpeningBalance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid opening_balance", err)
		return
	}

	a, err := h.Accounts.Open(r.Context(), u.ID, opening)
	if err != nil {
		writeDomainError(w, "Failed to open account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

// GetAccount returns the caller's account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}

	a, err := h.Accounts.Get(r.Context(), chi.URLParam(r, "number"), u.ID)
	if err != nil {
		writeDomainError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// Deposit credits the caller's account.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.moveMoney(w, r, h.Accounts.Deposit)
}

// Withdraw debits the caller's account.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.moveMoney(w, r, h.Accounts.Withdraw)
}

type moveMoneyFn func(ctx context.Context, number string, amount decimal.Decimal, owner loan.UserID, description string) (*ledger.Transaction, error)

func (h *Handler) moveMoney(w http.ResponseWriter, r *http.Request, op moveMoneyFn) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}

	var req MoveMoneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := op(r.Context(), chi.URLParam(r, "number"), amount, u.ID, req.Description)
	if err != nil {
		writeDomainError(w, "Failed to process transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// Transfer moves money from the caller's account into another account.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Accounts.Transfer(r.Context(), chi.URLParam(r, "number"), req.ToAccount, amount, u.ID, req.Description)
	if err != nil {
		writeDomainError(w, "Failed to process transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ListAccountTransactions returns the caller's transaction history, newest
// first.
func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}

	txs, err := h.Accounts.Statement(r.Context(), chi.URLParam(r, "number"), u.ID)
	if err != nil {
		writeDomainError(w, "Failed to get transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ApplyLoan submits a loan application for the caller.
func (h *Handler) ApplyLoan(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}

	var req ApplyLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	l, err := h.Loans.Apply(r.Context(), loan.Request{
		Amount:        amount,
		TenureMonths:  req.TenureMonths,
		AccountNumber: req.AccountNumber,
		Type:          loan.LoanType(req.LoanType),
	}, u.ID)
	if err != nil {
		writeDomainError(w, "Failed to apply for loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(l))
}

// ListMyLoans returns the caller's loans, newest first.
func (h *Handler) ListMyLoans(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}

	loans, err := h.Loans.ListByUser(r.Context(), u.ID)
	if err != nil {
		writeDomainError(w, "Failed to list loans", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTOs(loans))
}

// GetLoan returns one of the caller's loans.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}

	l, err := h.Loans.Get(r.Context(), id, u.ID)
	if err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// GetLoanSchedule returns the amortization schedule of the caller's loan.
func (h *Handler) GetLoanSchedule(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}

	records, err := h.Payments.GetSchedule(r.Context(), id, u.ID)
	if err != nil {
		writeDomainError(w, "Failed to get schedule", err)
		return
	}

	dtos := make([]EMIRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toEMIRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PayEMI pays one installment of the caller's loan from its linked account.
func (h *Handler) PayEMI(w http.ResponseWriter, r *http.Request) {
	u := h.requireUser(w, r)
	if u == nil {
		return
	}
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	installment, err := strconv.Atoi(chi.URLParam(r, "installment"))
	if err != nil || installment < 1 {
		writeError(w, http.StatusBadRequest, "Invalid installment number", err)
		return
	}

	msg, err := h.Payments.PayEMI(r.Context(), id, installment, u.ID)
	if err != nil {
		writeDomainError(w, "Failed to pay EMI", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentResultDTO{
		Message:     msg,
		LoanID:      int64(id),
		Installment: installment,
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListPendingLoans returns loans awaiting review, oldest first. Admin only.
func (h *Handler) ListPendingLoans(w http.ResponseWriter, r *http.Request) {
	if h.requireAdmin(w, r) == nil {
		return
	}

	loans, err := h.Loans.ListPending(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list pending loans", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTOs(loans))
}

// ApproveLoan approves and disburses a pending loan. Admin only.
func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	admin := h.requireAdmin(w, r)
	if admin == nil {
		return
	}
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}

	l, err := h.Approvals.Approve(r.Context(), id, string(admin.ID))
	if err != nil {
		writeDomainError(w, "Failed to approve loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// RejectLoan rejects a pending loan with a reason. Admin only.
func (h *Handler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	admin := h.requireAdmin(w, r)
	if admin == nil {
		return
	}
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}

	var req RejectLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "Rejection reason is required", nil)
		return
	}

	l, err := h.Approvals.Reject(r.Context(), id, req.Reason, string(admin.ID))
	if err != nil {
		writeDomainError(w, "Failed to reject loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// RunSweep triggers the overdue sweep immediately. Admin only.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if h.requireAdmin(w, r) == nil {
		return
	}
	if h.Sweep == nil {
		writeError(w, http.StatusServiceUnavailable, "Sweep not configured", nil)
		return
	}

	marked := h.Sweep.RunNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

// =============================================================================
// HELPERS
// =============================================================================

func loanIDParam(w http.ResponseWriter, r *http.Request) (loan.LoanID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "Invalid loan id", err)
		return 0, false
	}
	return loan.LoanID(id), true
}

func parseMoney(n json.Number) (decimal.Decimal, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return decimal.Zero, errors.New("amount is required")
	}
	return decimal.NewFromString(s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain error kinds to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case loan.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case loan.IsUnauthorized(err):
		writeError(w, http.StatusForbidden, message, err)
	case loan.IsInvalidState(err):
		writeError(w, http.StatusConflict, message, err)
	case loan.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, loan.ErrPaymentProcessing):
		writeError(w, http.StatusInternalServerError, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
