/*
scheduler.go - Automated escalation scheduler

PURPOSE:
  Periodically hands overdue pending bills to their alternative approvers
  and records each sweep as an escalation run.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each sweep calls billing.Service.Escalate at the service clock
  - A bill already escalated to the right alternative is skipped, so
    repeated sweeps are harmless
  - Records escalation runs for audit and UI display

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewEscalationScheduler(service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerEscalation endpoint (manual sweep)
  - approval/escalation.go: ResolveEscalation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/billing"
)

// EscalationScheduler handles automated escalation sweeps.
type EscalationScheduler struct {
	Service  *billing.Service
	Runs     approval.EscalationRunStore
	Interval time.Duration
	Enabled  bool

	log *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewEscalationScheduler creates a scheduler that records runs in the
// service's store.
func NewEscalationScheduler(svc *billing.Service, log *zap.Logger) *EscalationScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EscalationScheduler{
		Service:  svc,
		Runs:     svc.Store(),
		Interval: time.Hour,
		Enabled:  true,
		log:      log.Named("escalation"),
	}
}

// Start begins the scheduler. Calling Start on a running scheduler is a
// no-op.
func (es *EscalationScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.log.Info("scheduler disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.Interval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run(es.ticker, es.stop)

	es.log.Info("scheduler started", zap.Duration("interval", es.Interval))
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (es *EscalationScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker == nil {
		return
	}
	es.ticker.Stop()
	close(es.stop)
	es.wg.Wait()
	es.ticker = nil
	es.log.Info("scheduler stopped")
}

func (es *EscalationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer es.wg.Done()

	// Run immediately on start
	es.sweep()

	for {
		select {
		case <-ticker.C:
			es.sweep()
		case <-stop:
			return
		}
	}
}

func (es *EscalationScheduler) sweep() {
	if _, err := es.RunNow(context.Background()); err != nil {
		es.log.Error("escalation sweep failed", zap.Error(err))
	}
}

// RunNow performs one sweep and records it. The returned run is also
// returned on failure, with Status RunFailed.
func (es *EscalationScheduler) RunNow(ctx context.Context) (approval.EscalationRun, error) {
	run := approval.EscalationRun{
		ID:        uuid.NewString(),
		StartedAt: es.Service.Now(),
		Status:    approval.RunRunning,
	}
	es.saveRun(ctx, run)

	n, err := es.Service.Escalate(ctx, run.StartedAt)
	completed := es.Service.Now()
	run.CompletedAt = &completed
	run.Escalated = n
	if err != nil {
		run.Status = approval.RunFailed
		run.Error = err.Error()
		es.saveRun(ctx, run)
		return run, err
	}

	run.Status = approval.RunCompleted
	es.saveRun(ctx, run)

	if n > 0 {
		es.log.Info("escalation sweep completed",
			zap.String("run_id", run.ID),
			zap.Int("escalated", n))
	}
	return run, nil
}

func (es *EscalationScheduler) saveRun(ctx context.Context, run approval.EscalationRun) {
	if es.Runs == nil {
		return
	}
	if err := es.Runs.SaveEscalationRun(ctx, run); err != nil {
		es.log.Warn("failed to record escalation run",
			zap.String("run_id", run.ID), zap.Error(err))
	}
}

// NextRunTime returns when the next scheduled sweep will occur.
func (es *EscalationScheduler) NextRunTime() time.Time {
	return es.Service.Now().Add(es.Interval)
}
