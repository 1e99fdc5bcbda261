/*
scheduler.go - Background jobs: exemption sweep and audit retention

PURPOSE:
  Runs the date-driven work nobody triggers by hand:
  - Exemption sweep: expires exemptions past fechaFin and activates
    approved ones whose window has started. Every CheckInterval.
  - Audit retention: deletes audit entries older than RetentionDays.
    Once a day.

DESIGN:
  - One background goroutine with a ticker
  - Runs immediately on start, then on every tick
  - A failed run is logged and retried on the next tick

USAGE:
  s := NewScheduler(handler.Exemptions, handler.Trail, cfg, log)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - exemption/service.go: Sweep
  - audit/trail.go: PurgeRetention
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/fee-engine/audit"
	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/exemption"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
)

const retentionEvery = 24 * time.Hour

// Scheduler handles the periodic exemption sweep and audit purge.
type Scheduler struct {
	Exemptions    *exemption.Service
	Trail         *audit.Trail
	CheckInterval time.Duration
	RetentionDays int
	Enabled       bool

	clock     generic.Clock
	log       *logger.Logger
	lastPurge time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler from the engine configuration.
func NewScheduler(exemptions *exemption.Service, trail *audit.Trail, cfg config.EngineConfig, clock generic.Clock, log *logger.Logger) *Scheduler {
	if clock == nil {
		clock = generic.SystemClock
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		Exemptions:    exemptions,
		Trail:         trail,
		CheckInterval: interval,
		RetentionDays: cfg.AuditRetentionDays,
		Enabled:       true,
		clock:         clock,
		log:           logger.OrNop(log).With("component", "scheduler"),
		stop:          make(chan struct{}),
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
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	s.log.Info("scheduler started", "interval", s.CheckInterval.String(), "retentionDays", s.RetentionDays)
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow runs the sweep, and the purge when a day has passed since the
// last one.
func (s *Scheduler) RunNow(ctx context.Context) {
	if _, err := s.Exemptions.Sweep(ctx); err != nil {
		s.log.Error("exemption sweep failed", "error", err)
	}

	now := s.clock()
	if s.RetentionDays <= 0 || (!s.lastPurge.IsZero() && now.Sub(s.lastPurge) < retentionEvery) {
		return
	}
	if _, err := s.Trail.PurgeRetention(ctx, s.RetentionDays, exemption.SystemActor); err != nil {
		s.log.Error("audit retention purge failed", "error", err)
		return
	}
	s.lastPurge = now
}
