/*
executor.go - Turns a processing batch into payments

PURPOSE:
  Runs one batch to completion. Every pending item is attempted
  independently; the outcome of each is written back to the store as soon
  as it is known, and the batch gets its counters and terminal status once
  every item has been attempted.

FAILURE MODEL:
  Item failure (invalid reference, validation, payment write rejected):
    Recorded on the item (status failed + error message). The run goes on.

  Run failure (item or batch update cannot be persisted, batch missing,
  execution budget exceeded):
    The run stops. The batch is marked failed, best effort. Items not yet
    attempted stay pending; they are not retried.

  Shutdown (context canceled):
    The run stops and the batch stays processing. RecoverProcessing picks
    it up on next start and resumes with the items still pending.

RESUMPTION:
  Items are marked processing before their payment is written. An item
  found in processing when a run starts was interrupted between those two
  writes; it is failed rather than retried so that no payment is created
  twice.

SEE ALSO:
  - queue.go: Where Execute is called from
  - factory/payment.go: Payment construction and validation
*/
package bulkpay

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

// Executor processes batches.
type Executor struct {
	store    Store
	payments rental.PaymentStore
	factory  *factory.PaymentFactory
	now      func() time.Time
	log      *logrus.Entry
}

// NewExecutor creates an executor.
func NewExecutor(store Store, payments rental.PaymentStore, pf *factory.PaymentFactory, logger *logrus.Logger) *Executor {
	return &Executor{
		store:    store,
		payments: payments,
		factory:  pf,
		now:      time.Now,
		log:      logger.WithField("component", "bulkpay.executor"),
	}
}

// Execute runs the batch identified by ref. It returns an error only for run
// failures; item failures are recorded on the batch.
func (e *Executor) Execute(ctx context.Context, ref Ref) error {
	log := e.log.WithFields(logrus.Fields{"org": ref.OrganizationID, "batch": ref.BatchID})

	batch, err := e.store.GetBatch(ctx, ref.OrganizationID, ref.BatchID)
	if err != nil {
		return e.abort(ctx, log, ref, fmt.Errorf("failed to load batch: %w", err))
	}
	if batch == nil {
		log.Warn("Batch vanished before execution")
		return ErrBatchNotFound
	}
	if batch.Status != StatusProcessing {
		log.WithField("status", batch.Status).Info("Batch not processing, skipping")
		return nil
	}

	tmpl := factory.Template{
		BatchID:     batch.ID,
		Description: batch.Details.Description,
		Method:      batch.Details.Method,
		DueDate:     batch.Details.DueDate,
		AutoProcess: batch.Details.AutoProcess,
		CreatedBy:   batch.CreatedBy,
	}

	pending := batch.PendingItems()
	log.WithFields(logrus.Fields{"pending": len(pending), "total": len(batch.Items)}).Info("Processing batch")

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	results, err := generic.Collect(runCtx, pending, func(ctx context.Context, item Item) (Item, error) {
		done, itemErr, err := e.processItem(ctx, batch.OrganizationID, tmpl, item)
		if err == nil {
			err = e.store.UpdateItem(ctx, batch.ID, done)
		}
		if err != nil {
			stop(fmt.Errorf("failed to persist item %d: %w", item.Index, err))
			return done, err
		}
		return done, itemErr
	})

	for _, r := range results {
		batch.Items[r.Value.Index] = r.Value
		if !r.OK() {
			log.WithFields(logrus.Fields{"item": r.Value.Index, "tenant": r.Value.TenantID}).
				WithError(r.Err).Warn("Batch item failed")
		}
	}

	// Collect only sees cancellation before an item starts; a persist
	// failure on the last item shows up in the cause alone.
	if err != nil || runCtx.Err() != nil {
		return e.abort(ctx, log, ref, context.Cause(runCtx))
	}

	batch.Finish(e.now().UTC())
	ok, err := e.store.CompleteBatch(ctx, *batch)
	if err != nil {
		return e.abort(ctx, log, ref, fmt.Errorf("failed to complete batch: %w", err))
	}
	if !ok {
		log.Warn("Batch left processing during execution, result not written")
		return nil
	}

	log.WithFields(logrus.Fields{
		"status":       batch.Status,
		"successful":   batch.SuccessfulPayments,
		"failed":       batch.FailedPayments,
		"success_rate": batch.Summary.SuccessRate.String(),
	}).Info("Batch processed")
	return nil
}

// processItem attempts one item and returns it carrying its outcome, the
// item failure if any, and a storage error if the processing mark could not
// be written.
func (e *Executor) processItem(ctx context.Context, orgID generic.OrganizationID, tmpl factory.Template, item Item) (Item, error, error) {
	if item.Status == ItemProcessing {
		return e.settle(item, "", errItemInterrupted), errItemInterrupted, nil
	}

	item.Status = ItemProcessing
	if err := e.store.UpdateItem(ctx, tmpl.BatchID, item); err != nil {
		return item, nil, err
	}

	payment, err := e.factory.FromBatchItem(orgID, tmpl, factory.Line{
		TenantID:   item.TenantID,
		PropertyID: item.PropertyID,
		UnitID:     item.UnitID,
		Amount:     item.Amount,
	})
	if err == nil {
		err = e.payments.CreatePayment(ctx, payment)
	}
	if err != nil {
		return e.settle(item, "", err), err, nil
	}
	return e.settle(item, payment.ID, nil), nil, nil
}

func (e *Executor) settle(item Item, paymentID string, err error) Item {
	now := e.now().UTC()
	item.ProcessedAt = &now
	if err != nil {
		item.Status = ItemFailed
		item.ErrorMessage = err.Error()
		item.PaymentID = ""
		return item
	}
	item.Status = ItemSuccess
	item.PaymentID = paymentID
	item.ErrorMessage = ""
	return item
}

// abort handles a run failure. On shutdown the batch is left processing for
// recovery; otherwise it is marked failed, best effort.
func (e *Executor) abort(ctx context.Context, log *logrus.Entry, ref Ref, cause error) error {
	if errors.Is(cause, context.Canceled) {
		log.WithError(cause).Warn("Batch run interrupted, leaving it processing for recovery")
		return cause
	}

	log.WithError(cause).Error("Batch run failed, marking batch failed")

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.store.FailBatch(failCtx, ref.OrganizationID, ref.BatchID, e.now().UTC()); err != nil {
		log.WithError(err).Error("Failed to mark batch failed")
	}
	return cause
}
