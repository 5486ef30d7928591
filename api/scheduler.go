/*
scheduler.go - Automated recurring payment scheduler

PURPOSE:
  Periodically runs every organization's due payment schedules, the same
  work POST /api/bulk-payment/process-scheduled does for one organization.

DESIGN:
  - robfig/cron drives the trigger from a cron spec (default: @hourly)
  - SkipIfStillRunning: a slow run is never overlapped by the next tick
  - Each organization gets its own run record (see recurring.Processor)
  - Runs are bounded by RunTimeout
  - An optional second entry re-enqueues batches left processing (queue
    full at StartProcessing, worker stopped mid-run); it runs even when
    scheduled payments are disabled

CONFIGURATION:
  - Spec: cron expression or descriptor (CRON_SCHEDULE)
  - Enabled: whether scheduler is active (SCHEDULER_ENABLED)
  - SweepSpec: batch recovery sweep (BATCH_SWEEP_SCHEDULE), set via WithBatchSweep

USAGE:
  scheduler, err := NewRecurringScheduler(processor, "@hourly", logger)
  err = scheduler.WithBatchSweep(batches, "@every 1m")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - recurring/processor.go: ProcessAll
  - handlers.go: ProcessScheduled endpoint (manual run)
  - bulkpay/service.go: RecoverProcessing
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/recurring"
)

// DefaultRunTimeout bounds one scheduled run.
const DefaultRunTimeout = 10 * time.Minute

// BatchRecoverer re-enqueues batches stuck in processing.
type BatchRecoverer interface {
	RecoverProcessing(ctx context.Context) (int, error)
}

// RecurringScheduler triggers recurring.Processor.ProcessAll on a cron spec.
type RecurringScheduler struct {
	Processor  *recurring.Processor
	Spec       string
	Enabled    bool
	RunTimeout time.Duration
	Batches    BatchRecoverer
	SweepSpec  string

	cron    *cron.Cron
	entryID cron.EntryID
	sweepID cron.EntryID
	now     func() time.Time
	log     *logrus.Entry

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewRecurringScheduler creates a scheduler. The spec is validated here so a
// bad CRON_SCHEDULE fails at startup.
func NewRecurringScheduler(processor *recurring.Processor, spec string, logger *logrus.Logger) (*RecurringScheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}

	log := logger.WithField("component", "scheduler")
	cronLog := cron.PrintfLogger(log)

	ctx, cancel := context.WithCancel(context.Background())
	return &RecurringScheduler{
		Processor:  processor,
		Spec:       spec,
		Enabled:    true,
		RunTimeout: DefaultRunTimeout,
		cron:       cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		now:        time.Now,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// WithBatchSweep adds a periodic RecoverProcessing run on spec.
func (rs *RecurringScheduler) WithBatchSweep(batches BatchRecoverer, spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid batch sweep schedule %q: %w", spec, err)
	}
	rs.Batches = batches
	rs.SweepSpec = spec
	return nil
}

// Start begins the scheduler.
func (rs *RecurringScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled && rs.Batches == nil {
		rs.log.Info("Disabled, not starting")
		return nil
	}
	if rs.running {
		return nil
	}

	fields := logrus.Fields{}
	if rs.Enabled {
		id, err := rs.cron.AddFunc(rs.Spec, rs.RunNow)
		if err != nil {
			return fmt.Errorf("failed to schedule run: %w", err)
		}
		rs.entryID = id
		fields["spec"] = rs.Spec
	}
	if rs.Batches != nil {
		id, err := rs.cron.AddFunc(rs.SweepSpec, rs.SweepBatches)
		if err != nil {
			rs.removeEntries()
			return fmt.Errorf("failed to schedule batch sweep: %w", err)
		}
		rs.sweepID = id
		fields["sweep_spec"] = rs.SweepSpec
	}
	rs.cron.Start()
	rs.running = true

	if rs.entryID != 0 {
		fields["next_run"] = rs.cron.Entry(rs.entryID).Next
	}
	rs.log.WithFields(fields).Info("Started")
	return nil
}

func (rs *RecurringScheduler) removeEntries() {
	for _, id := range []cron.EntryID{rs.entryID, rs.sweepID} {
		if id != 0 {
			rs.cron.Remove(id)
		}
	}
	rs.entryID, rs.sweepID = 0, 0
}

// Stop stops the scheduler, cancels an in-flight run and waits for it.
func (rs *RecurringScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.running {
		return
	}
	done := rs.cron.Stop()
	rs.cancel()
	<-done.Done()
	rs.removeEntries()
	rs.running = false
	rs.log.Info("Stopped")
}

// RunNow processes every organization's due schedules immediately.
func (rs *RecurringScheduler) RunNow() {
	ctx := rs.ctx
	if rs.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.RunTimeout)
		defer cancel()
	}

	start := rs.now()
	summary, err := rs.Processor.ProcessAll(ctx, start)
	log := rs.log.WithFields(logrus.Fields{
		"organizations": summary.Organizations,
		"processed":     summary.Processed,
		"failed":        summary.Failed,
		"duration":      time.Since(start).String(),
	})
	if err != nil {
		log.WithError(err).Error("Scheduled run finished with errors")
		return
	}
	if summary.Organizations > 0 {
		log.Info("Scheduled run completed")
	}
}

// SweepBatches re-enqueues batches left processing.
func (rs *RecurringScheduler) SweepBatches() {
	ctx := rs.ctx
	if rs.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.RunTimeout)
		defer cancel()
	}

	n, err := rs.Batches.RecoverProcessing(ctx)
	if err != nil {
		rs.log.WithError(err).WithField("requeued", n).Error("Batch sweep failed")
		return
	}
	if n > 0 {
		rs.log.WithField("requeued", n).Info("Batch sweep completed")
	}
}

// NextRunTime returns when the next scheduled payment run will occur, zero
// if not running or scheduled payments are disabled.
func (rs *RecurringScheduler) NextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.running || rs.entryID == 0 {
		return time.Time{}
	}
	return rs.cron.Entry(rs.entryID).Next
}
