/*
processor.go - Periodic run over due schedules

PURPOSE:
  Finds every due schedule of an organization, creates its payment and
  rolls it forward. Each run is recorded as a Run for audit.

DESIGN:
  - Schedules are processed independently: a failure is logged and
    counted, the remaining schedules still run
  - Payment creation and schedule advance are two writes; the advance and
    its log entry are written together
  - A run is synchronous within its trigger (cron, CLI or HTTP). Two
    processes running against the same schedules at once are not guarded
    against

SEE ALSO:
  - api/scheduler.go: cron trigger
  - cmd/server/main.go: process-scheduled command
*/
package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/factory"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
)

// RunResult is the outcome of one organization's run.
type RunResult struct {
	Run      Run
	Payments []rental.Payment
	Count    int
}

// Summary aggregates ProcessAll across organizations.
type Summary struct {
	Organizations int
	Processed     int
	Failed        int
}

// Processor executes due schedules.
type Processor struct {
	store    Store
	payments rental.PaymentStore
	factory  *factory.PaymentFactory
	newID    func() string
	log      *logrus.Entry
}

// NewProcessor creates a processor.
func NewProcessor(store Store, payments rental.PaymentStore, pf *factory.PaymentFactory, logger *logrus.Logger) *Processor {
	return &Processor{
		store:    store,
		payments: payments,
		factory:  pf,
		newID:    generic.NewID,
		log:      logger.WithField("component", "recurring.processor"),
	}
}

// ProcessDue runs every schedule of the organization that is due at now.
// Per-schedule failures do not fail the run; the error is returned only when
// due schedules cannot be listed.
func (p *Processor) ProcessDue(ctx context.Context, orgID generic.OrganizationID, now time.Time) (*RunResult, error) {
	now = now.UTC()
	log := p.log.WithField("org", orgID)

	run := Run{
		ID:             p.newID(),
		OrganizationID: orgID,
		Status:         RunRunning,
		StartedAt:      now,
	}
	if err := p.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run record: %w", err)
	}

	due, err := p.store.DueSchedules(ctx, orgID, now)
	if err != nil {
		p.finishRun(ctx, log, &run, generic.Tally{}, err)
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}

	results, err := generic.Collect(ctx, due, func(ctx context.Context, s Schedule) (rental.Payment, error) {
		return p.processOne(ctx, s, now)
	})

	payments := make([]rental.Payment, 0, len(results))
	for _, r := range results {
		if r.OK() {
			payments = append(payments, r.Value)
			continue
		}
		log.WithFields(logrus.Fields{"schedule": due[r.Index].ID, "tenant": due[r.Index].TenantID}).
			WithError(r.Err).Warn("Scheduled payment failed")
	}

	tally := generic.Fold(results, generic.Tally{}, generic.Count[rental.Payment])
	p.finishRun(ctx, log, &run, tally, err)

	log.WithFields(logrus.Fields{"due": len(due), "processed": tally.Succeeded, "failed": tally.Failed}).
		Info("Scheduled payments processed")
	return &RunResult{Run: run, Payments: payments, Count: len(payments)}, nil
}

// processOne pays one schedule and advances it.
func (p *Processor) processOne(ctx context.Context, s Schedule, now time.Time) (rental.Payment, error) {
	payment, err := p.factory.FromSchedule(s.OrganizationID, factory.Recurrence{
		ScheduleID: s.ID,
		TenantID:   s.TenantID,
		PropertyID: s.PropertyID,
		UnitID:     s.UnitID,
		Amount:     s.Amount,
		Method:     s.Method,
		Frequency:  s.Frequency,
		CreatedBy:  s.CreatedBy,
	}, now)
	if err != nil {
		return rental.Payment{}, err
	}

	entry, err := s.Advance(payment, now)
	if err != nil {
		return rental.Payment{}, err
	}

	if err := p.payments.CreatePayment(ctx, payment); err != nil {
		return rental.Payment{}, fmt.Errorf("failed to create payment: %w", err)
	}
	if err := p.store.SaveAdvance(ctx, s, entry); err != nil {
		// The payment exists but the schedule did not move; the next run pays it again.
		p.log.WithFields(logrus.Fields{"schedule": s.ID, "payment": payment.ID}).
			WithError(err).Error("Payment created but schedule not advanced")
		return rental.Payment{}, fmt.Errorf("failed to advance schedule: %w", err)
	}

	if s.Status == StatusCompleted {
		p.log.WithField("schedule", s.ID).Info("Schedule completed")
	}
	return payment, nil
}

func (p *Processor) finishRun(ctx context.Context, log *logrus.Entry, run *Run, tally generic.Tally, runErr error) {
	completed := time.Now().UTC()
	run.Processed = tally.Succeeded
	run.Failed = tally.Failed
	run.CompletedAt = &completed
	run.Status = RunCompleted
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.SaveRun(saveCtx, *run); err != nil {
		log.WithError(err).Error("Failed to update run record")
	}
}

// ProcessAll runs ProcessDue for every organization with due schedules.
// One organization's failure does not stop the others; all errors are
// returned joined.
func (p *Processor) ProcessAll(ctx context.Context, now time.Time) (Summary, error) {
	orgs, err := p.store.OrganizationsWithDueSchedules(ctx, now.UTC())
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list organizations: %w", err)
	}

	var (
		sum  Summary
		errs []error
	)
	for _, org := range orgs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := p.ProcessDue(ctx, org, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("organization %s: %w", org, err))
			continue
		}
		sum.Organizations++
		sum.Processed += res.Run.Processed
		sum.Failed += res.Run.Failed
	}
	return sum, errors.Join(errs...)
}
