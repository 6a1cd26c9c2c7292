/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lending engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire domain services (users, ledger, loans)
  4. Start the overdue sweep scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port           HTTP server port (default: 8080)
  -db             SQLite database path (default: lending.db)
                  Use ":memory:" for an in-memory database
  -branch         Branch code prefix for new account numbers (default: 001)
  -sweep-interval How often to run the overdue sweep (default: 1h)
  -sweep-grace    How long past due before an installment defaults (default: 2160h = 90d)
  -demo           Enable demo scenario endpoints (default: false)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/lending.db"

  # Run with in-memory database and demo scenarios
  ./server -db=":memory:" -demo

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/lending-engine/api"
	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
	"github.com/warp/lending-engine/store/sqlite"
	"github.com/warp/lending-engine/user"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "lending.db", "SQLite database path")
	branch := flag.String("branch", "001", "branch code prefix for account numbers")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "overdue sweep interval")
	sweepGrace := flag.Duration("sweep-grace", 90*24*time.Hour, "overdue grace before default")
	demo := flag.Bool("demo", false, "enable demo scenario endpoints")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Domain services
	users := &user.Service{Store: store}
	accounts := &ledger.Service{
		Store:   store,
		Numbers: ledger.NewNumberGenerator(*branch),
		Tx:      store,
	}
	schedule := &loan.ScheduleGenerator{EMIs: store}
	origination := &loan.Service{
		Loans:    store,
		Accounts: accounts,
		KYC:      users,
		Numbers:  &loan.LoanNumberGenerator{},
	}
	approvals := &loan.ApprovalService{Loans: store, Schedule: schedule}
	payments := &loan.PaymentService{
		Loans:    store,
		EMIs:     store,
		Accounts: accounts,
		Schedule: schedule,
		Tx:       store,
	}

	// Overdue sweep
	sweep := api.NewOverdueScheduler(store)
	sweep.CheckInterval = *sweepInterval
	sweep.Grace = *sweepGrace
	sweep.Start()
	defer sweep.Stop()

	handler := &api.Handler{
		Users:     users,
		Accounts:  accounts,
		Loans:     origination,
		Approvals: approvals,
		Payments:  payments,
		Sweep:     sweep,
	}
	if *demo {
		handler.Scenarios = &api.ScenarioLoader{
			Users:  store,
			Ledger: store,
			Loans:  store,
			EMIs:   store,
			Reset:  store.Reset,
		}
		log.Println("Demo scenario endpoints enabled")
	}

	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
