/*
scheduler.go - Automated accrual and year-end scheduler

PURPOSE:
  Periodically runs the batch engines (accruals, carryover, expiration)
  for every company. The engines themselves are idempotent, so a tick
  that overlaps a manual run or a restart replays as a no-op.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick walks every company and runs the three batch engines for
    the current date
  - Batch errors are logged, never fatal; the next tick retries

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(handler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Manual run endpoints under /api/admin/runs
  - timeoff/accrual.go, timeoff/carryover.go: The engines
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-ledger/timeoff"
)

// Scheduler drives the periodic batch runs.
type Scheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a new scheduler.
func NewScheduler(handler *Handler, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.log.Info("scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.tick()

	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	now := time.Now()

	companies, err := s.Handler.Store.ListCompanyIDs(ctx)
	if err != nil {
		s.log.Error("scheduler failed to list companies", zap.Error(err))
		return
	}

	for _, companyID := range companies {
		s.runCompany(ctx, companyID, now)
	}
}

func (s *Scheduler) runCompany(ctx context.Context, companyID timeoff.CompanyID, now time.Time) {
	log := s.log.With(zap.String("company_id", string(companyID)))

	if summary, err := s.Handler.Accruals.RunAccruals(ctx, companyID, now); err != nil {
		log.Error("scheduled accrual run failed", zap.Error(err))
	} else if summary.Accrued > 0 || summary.Errors > 0 {
		log.Info("scheduled accrual run",
			zap.Int("processed", summary.Processed),
			zap.Int("accrued", summary.Accrued),
			zap.Int("skipped", summary.Skipped),
			zap.Int("errors", summary.Errors))
	}

	if summary, err := s.Handler.Carryover.RunCarryover(ctx, companyID, now); err != nil {
		log.Error("scheduled carryover run failed", zap.Error(err))
	} else if summary.Carryovers > 0 || summary.Errors > 0 {
		log.Info("scheduled carryover run",
			zap.Int("processed", summary.Processed),
			zap.Int("carryovers", summary.Carryovers),
			zap.Int("errors", summary.Errors))
	}

	if summary, err := s.Handler.Carryover.RunExpiration(ctx, companyID, now); err != nil {
		log.Error("scheduled expiration run failed", zap.Error(err))
	} else if summary.Expired > 0 || summary.Errors > 0 {
		log.Info("scheduled expiration run",
			zap.Int("processed", summary.Processed),
			zap.Int("expired", summary.Expired),
			zap.Int("errors", summary.Errors))
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *Scheduler) RunNow() {
	s.tick()
}
