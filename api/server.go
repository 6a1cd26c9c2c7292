/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/users/*     Registration and profile
  /api/accounts/*  Ledger accounts, deposits, withdrawals
  /api/loans/*     Applications, schedules, EMI payments
  /api/admin/*     Loan review, KYC review, sweep trigger
  /api/scenarios/* Demo scenarios (when enabled)

SECURITY NOTE:
  Identity comes from the X-User-ID header with no verification; this
  service is expected to sit behind an authenticating gateway. Do not
  expose it directly.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.RegisterUser)
			r.Get("/me", h.GetCurrentUser)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.OpenAccount)
			r.Get("/{number}", h.GetAccount)
			r.Post("/{number}/deposit", h.Deposit)
			r.Post("/{number}/withdraw", h.Withdraw)
			r.Post("/{number}/transfer", h.Transfer)
			r.Get("/{number}/transactions", h.ListAccountTransactions)
		})

		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Post("/", h.ApplyLoan)
			r.Get("/", h.ListMyLoans)
			r.Get("/{id}", h.GetLoan)
			r.Get("/{id}/schedule", h.GetLoanSchedule)
			r.Post("/{id}/emis/{installment}/pay", h.PayEMI)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/loans/pending", h.ListPendingLoans)
			r.Post("/loans/{id}/approve", h.ApproveLoan)
			r.Post("/loans/{id}/reject", h.RejectLoan)
			r.Post("/users/{id}/kyc", h.SetUserKYC)
			r.Post("/sweep", h.RunSweep)
		})

		// Scenario routes (demo mode)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
