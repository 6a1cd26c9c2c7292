/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ON THE WIRE:
  Monetary values are serialized as strings ("10661.85"), never floats.
  Request amounts accept json.Number, so clients may send either a JSON
  number or a string; both parse through shopspring/decimal.

DATES:
  Dates with day granularity use YYYY-MM-DD. Timestamps use RFC3339.

VALIDATION:
  Validation is done in handlers and domain services, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
	"github.com/warp/lending-engine/user"
)

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the JSON shape of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

const dateLayout = "2006-01-02"

func fmtDate(t time.Time) string { return t.Format(dateLayout) }

func fmtDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// =============================================================================
// USERS
// =============================================================================

type RegisterUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type SetKYCRequest struct {
	Status string `json:"status"` // PENDING, APPROVED, REJECTED
}

type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	KYCStatus string `json:"kyc_status"`
	CreatedAt string `json:"created_at"`
}

func toUserDTO(u *user.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		KYCStatus: string(u.KYC),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type OpenAccountRequest struct {
	OpeningBalance json.Number `json:"opening_balance"`
}

type MoveMoneyRequest struct {
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
}

type TransferRequest struct {
	ToAccount   string      `json:"to_account"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
}

type AccountDTO struct {
	Number    string `json:"number"`
	Balance   string `json:"balance"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func toAccountDTO(a *ledger.Account) AccountDTO {
	return AccountDTO{
		Number:    a.Number,
		Balance:   a.Balance.String(),
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

type TransactionDTO struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balance_after"`
	Description  string `json:"description,omitempty"`
	Reference    string `json:"reference"`
	At           string `json:"at"`
}

func toTransactionDTO(tx *ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           tx.ID,
		Type:         string(tx.Type),
		Amount:       tx.Amount.String(),
		BalanceAfter: tx.BalanceAfter.String(),
		Description:  tx.Description,
		Reference:    tx.Reference,
		At:           tx.At.Format(time.RFC3339),
	}
}

// =============================================================================
// LOANS
// =============================================================================

type ApplyLoanRequest struct {
	Amount        json.Number `json:"amount"`
	TenureMonths  int         `json:"tenure_months"`
	AccountNumber string      `json:"account_number"`
	LoanType      string      `json:"loan_type"`
}

type RejectLoanRequest struct {
	Reason string `json:"reason"`
}

type LoanDTO struct {
	ID              int64  `json:"id"`
	LoanNumber      string `json:"loan_number"`
	UserID          string `json:"user_id"`
	LinkedAccount   string `json:"linked_account"`
	LoanType        string `json:"loan_type"`
	Principal       string `json:"principal"`
	InterestRate    string `json:"interest_rate"`
	TenureMonths    int    `json:"tenure_months"`
	Status          string `json:"status"`
	EMIAmount       string `json:"emi_amount"`
	TotalPayable    string `json:"total_payable"`
	PaidAmount      string `json:"paid_amount"`
	RecoveredAmount string `json:"recovered_amount"`
	StartDate       string `json:"start_date,omitempty"`
	EndDate         string `json:"end_date,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	ApprovedBy      string `json:"approved_by,omitempty"`
	ApprovedAt      string `json:"approved_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toLoanDTO(l *loan.Loan) LoanDTO {
	dto := LoanDTO{
		ID:              int64(l.ID),
		LoanNumber:      l.LoanNumber,
		UserID:          string(l.UserID),
		LinkedAccount:   l.LinkedAccount,
		LoanType:        string(l.Type),
		Principal:       l.Principal.String(),
		InterestRate:    l.InterestRate.String(),
		TenureMonths:    l.TenureMonths,
		Status:          string(l.Status),
		EMIAmount:       l.EMIAmount.String(),
		TotalPayable:    l.TotalPayable.String(),
		PaidAmount:      l.PaidAmount.String(),
		RecoveredAmount: l.RecoveredAmount.String(),
		StartDate:       fmtDatePtr(l.StartDate),
		EndDate:         fmtDatePtr(l.EndDate),
		ApprovedAt:      fmtTimePtr(l.ApprovedAt),
		CreatedAt:       l.CreatedAt.Format(time.RFC3339),
	}
	if l.RejectionReason != nil {
		dto.RejectionReason = *l.RejectionReason
	}
	if l.ApprovedBy != nil {
		dto.ApprovedBy = *l.ApprovedBy
	}
	return dto
}

func toLoanDTOs(loans []*loan.Loan) []LoanDTO {
	dtos := make([]LoanDTO, len(loans))
	for i, l := range loans {
		dtos[i] = toLoanDTO(l)
	}
	return dtos
}

// =============================================================================
// EMI SCHEDULE
// =============================================================================

type EMIRecordDTO struct {
	ID                 int64  `json:"id"`
	Installment        int    `json:"installment"`
	DueDate            string `json:"due_date"`
	Amount             string `json:"amount"`
	Principal          string `json:"principal"`
	Interest           string `json:"interest"`
	RemainingPrincipal string `json:"remaining_principal"`
	Status             string `json:"status"`
	PaymentDate        string `json:"payment_date,omitempty"`
	TransactionRef     string `json:"transaction_ref,omitempty"`
}

func toEMIRecordDTO(r *loan.EMIRecord) EMIRecordDTO {
	return EMIRecordDTO{
		ID:                 int64(r.ID),
		Installment:        r.Installment,
		DueDate:            fmtDate(r.DueDate),
		Amount:             r.Amount.String(),
		Principal:          r.Principal.String(),
		Interest:           r.Interest.String(),
		RemainingPrincipal: r.RemainingPrincipal.String(),
		Status:             string(r.Status),
		PaymentDate:        fmtTimePtr(r.PaymentDate),
		TransactionRef:     r.TransactionRef,
	}
}

type PaymentResultDTO struct {
	Message     string `json:"message"`
	LoanID      int64  `json:"loan_id"`
	Installment int    `json:"installment"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ID string `json:"id"`
}
