/*
scheduler.go - Automated overdue installment sweep

PURPOSE:
  Periodically scans the EMI schedule for installments whose due date has
  passed without payment and marks them LATE. Installments that stay unpaid
  past the grace window are marked DEFAULTED for the collections workflow.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - PENDING past due          -> LATE
  - PENDING/LATE past grace   -> DEFAULTED
  - Paying a LATE or DEFAULTED installment is still allowed; payment
    processing moves it to PAID regardless of how it got flagged

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Grace: How long past due before DEFAULTED (default: 90 days)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  sweep := NewOverdueScheduler(store)
  sweep.Start()
  // ... later
  sweep.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual trigger)
  - loan/payment.go: The in-payment late marking for single installments
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/lending-engine/loan"
)

// OverdueStore is the slice of the EMI store the sweep needs.
type OverdueStore interface {
	ListOverdueByStatus(ctx context.Context, status loan.EMIStatus, cutoff time.Time) ([]*loan.EMIRecord, error)
	UpdateEMIRecord(ctx context.Context, r *loan.EMIRecord) error
}

// OverdueScheduler flags overdue and defaulted installments on a timer.
type OverdueScheduler struct {
	Store         OverdueStore
	CheckInterval time.Duration
	Grace         time.Duration
	Enabled       bool

	Clock func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueScheduler creates a new scheduler with default settings.
func NewOverdueScheduler(store OverdueStore) *OverdueScheduler {
	return &OverdueScheduler{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Grace:         90 * 24 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

func (sw *OverdueScheduler) now() time.Time {
	if sw.Clock != nil {
		return sw.Clock()
	}
	return time.Now()
}

// Start begins the scheduler.
func (sw *OverdueScheduler) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.Enabled {
		log.Println("[Sweep] Disabled, not starting")
		return
	}

	sw.ticker = time.NewTicker(sw.CheckInterval)
	sw.wg.Add(1)

	go sw.run()

	log.Printf("[Sweep] Started with check interval: %v, grace: %v", sw.CheckInterval, sw.Grace)
}

// Stop stops the scheduler.
func (sw *OverdueScheduler) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.ticker != nil {
		sw.ticker.Stop()
		close(sw.stop)
		sw.wg.Wait()
		log.Println("[Sweep] Stopped")
	}
}

func (sw *OverdueScheduler) run() {
	defer sw.wg.Done()

	// Run immediately on start
	sw.RunNow(context.Background())

	for {
		select {
		case <-sw.ticker.C:
			sw.RunNow(context.Background())
		case <-sw.stop:
			return
		}
	}
}

// RunNow performs one sweep pass and returns the number of records marked.
func (sw *OverdueScheduler) RunNow(ctx context.Context) int {
	today := loan.DateOnly(sw.now())
	defaultCutoff := today.Add(-sw.Grace)
	marked := 0

	// Anything unpaid past the grace window is DEFAULTED outright, whether
	// the previous pass already saw it as LATE or not.
	for _, status := range []loan.EMIStatus{loan.EMIPending, loan.EMILate} {
		records, err := sw.Store.ListOverdueByStatus(ctx, status, defaultCutoff)
		if err != nil {
			log.Printf("[Sweep] ERROR listing %s records: %v", status, err)
			return marked
		}
		for _, r := range records {
			r.Status = loan.EMIDefaulted
			if err := sw.Store.UpdateEMIRecord(ctx, r); err != nil {
				log.Printf("[Sweep] ERROR marking loan %d installment %d DEFAULTED: %v",
					r.LoanID, r.Installment, err)
				continue
			}
			log.Printf("[Sweep] Loan %d installment %d DEFAULTED (due %s)",
				r.LoanID, r.Installment, r.DueDate.Format("2006-01-02"))
			marked++
		}
	}

	// Remaining overdue PENDING records become LATE.
	records, err := sw.Store.ListOverdueByStatus(ctx, loan.EMIPending, today)
	if err != nil {
		log.Printf("[Sweep] ERROR listing overdue records: %v", err)
		return marked
	}
	for _, r := range records {
		r.Status = loan.EMILate
		if err := sw.Store.UpdateEMIRecord(ctx, r); err != nil {
			log.Printf("[Sweep] ERROR marking loan %d installment %d LATE: %v",
				r.LoanID, r.Installment, err)
			continue
		}
		marked++
	}

	if marked > 0 {
		log.Printf("[Sweep] Completed: %d records flagged", marked)
	}
	return marked
}
