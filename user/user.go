/*
Package user holds customer identity and KYC state.

PURPOSE:
  Loan origination is gated on KYC approval. This package owns the user
  record, its role (customer or admin), and the KYC status that the
  lending core consults through loan.KYCOracle.

KYC LIFECYCLE:
  Users register with KYC PENDING. An admin moves the status to APPROVED
  or REJECTED. Only APPROVED lets a loan application through.

SEE ALSO:
  - loan/store.go: The KYCOracle contract
  - api: Registration and admin KYC endpoints
*/
package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warp/lending-engine/loan"
)

// =============================================================================
// TYPES
// =============================================================================

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type KYCStatus string

const (
	KYCPending  KYCStatus = "PENDING"
	KYCApproved KYCStatus = "APPROVED"
	KYCRejected KYCStatus = "REJECTED"
)

type User struct {
	ID        loan.UserID
	Name      string
	Email     string
	Role      Role
	KYC       KYCStatus
	CreatedAt time.Time
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id loan.UserID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
}

// =============================================================================
// SERVICE
// =============================================================================

// Service handles registration and KYC review. It is the production
// loan.KYCOracle.
type Service struct {
	Store Store

	Clock func() time.Time
}

var _ loan.KYCOracle = (*Service)(nil)

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Register creates a customer with KYC PENDING. Email must be unique.
func (s *Service) Register(ctx context.Context, name, email string) (*User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, &loan.ValidationError{Field: "name", Message: "name is required"}
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, &loan.ValidationError{Field: "email", Message: "a valid email is required"}
	}
	if existing, err := s.Store.GetUserByEmail(ctx, email); err == nil && existing != nil {
		return nil, &loan.ValidationError{Field: "email", Message: "email is already registered"}
	} else if err != nil && !loan.IsNotFound(err) {
		return nil, err
	}

	u := &User{
		ID:        loan.UserID(uuid.NewString()),
		Name:      name,
		Email:     email,
		Role:      RoleCustomer,
		KYC:       KYCPending,
		CreatedAt: s.now(),
	}
	if err := s.Store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id loan.UserID) (*User, error) {
	return s.Store.GetUser(ctx, id)
}

// SetKYCStatus is an admin operation moving a user's KYC state. REJECTED
// users can be re-reviewed; there is no terminal KYC state.
func (s *Service) SetKYCStatus(ctx context.Context, id loan.UserID, status KYCStatus, reviewer *User) (*User, error) {
	if reviewer == nil || !reviewer.IsAdmin() {
		return nil, loan.ErrUnauthorized
	}
	switch status {
	case KYCPending, KYCApproved, KYCRejected:
	default:
		return nil, &loan.ValidationError{Field: "status", Message: fmt.Sprintf("unknown KYC status %q", status)}
	}

	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u.KYC = status
	if err := s.Store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// =============================================================================
// KYC ORACLE - loan.KYCOracle implementation
// =============================================================================

func (s *Service) IsApproved(ctx context.Context, id loan.UserID) (bool, error) {
	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		if loan.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return u.KYC == KYCApproved, nil
}
