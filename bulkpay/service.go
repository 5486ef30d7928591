package bulkpay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// CreateBatchInput is everything needed to create a draft batch.
type CreateBatchInput struct {
	Name    string
	Type    BatchType
	Filters Filters
	Details PaymentDetails
}

// Service is the entry point for batch operations.
type Service struct {
	tenants  rental.TenantStore
	units    rental.UnitStore
	payments rental.PaymentStore
	store    Store
	queue    Enqueuer
	now      func() time.Time
	newID    func() string
	log      *logrus.Entry
}

// NewService creates a batch service.
func NewService(tenants rental.TenantStore, units rental.UnitStore, payments rental.PaymentStore, store Store, queue Enqueuer, logger *logrus.Logger) *Service {
	return &Service{
		tenants:  tenants,
		units:    units,
		payments: payments,
		store:    store,
		queue:    queue,
		now:      time.Now,
		newID:    generic.NewID,
		log:      logger.WithField("component", "bulkpay.service"),
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateBatch expands the filters, materializes one pending item per target
// tenant and stores the batch as draft.
func (s *Service) CreateBatch(ctx context.Context, id generic.Identity, in CreateBatchInput) (*Batch, error) {
	if in.Name == "" {
		return nil, &generic.ValidationError{Field: "batchName", Reason: "is required"}
	}
	if !in.Type.Valid() {
		return nil, &generic.ValidationError{Field: "batchType", Reason: fmt.Sprintf("unknown type %q", in.Type)}
	}
	if in.Details.Method != "" && !in.Details.Method.Valid() {
		return nil, &generic.ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("unknown method %q", in.Details.Method)}
	}
	if in.Details.Amount.Valid && !in.Details.Amount.Decimal.IsPositive() {
		return nil, &generic.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	targets, err := ExpandFilters(ctx, s.tenants, s.units, id.OrganizationID, in.Filters)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	batch := Materialize(Batch{
		ID:             s.newID(),
		OrganizationID: id.OrganizationID,
		Name:           in.Name,
		Type:           in.Type,
		Filters:        in.Filters,
		Details:        in.Details,
		CreatedBy:      id.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, targets)

	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"org":    id.OrganizationID,
		"batch":  batch.ID,
		"items":  batch.TotalPayments,
		"amount": batch.TotalAmount.StringFixed(2),
	}).Info("Batch created")
	return &batch, nil
}

// StartProcessing moves a draft batch to processing and hands it to the
// queue. The returned batch is in processing; execution happens later.
func (s *Service) StartProcessing(ctx context.Context, id generic.Identity, batchID string) (*Batch, error) {
	batch, err := s.store.GetBatch(ctx, id.OrganizationID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	if batch.Status != StatusDraft {
		return nil, ErrBatchNotDraft
	}
	if len(batch.Items) == 0 {
		return nil, ErrEmptyBatch
	}

	now := s.now().UTC()
	ok, err := s.store.StartBatch(ctx, id.OrganizationID, batchID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to start batch: %w", err)
	}
	if !ok {
		return nil, ErrBatchNotDraft
	}
	batch.Status = StatusProcessing
	batch.ProcessingStarted = &now
	batch.UpdatedAt = now

	log := s.log.WithFields(logrus.Fields{"org": id.OrganizationID, "batch": batchID})
	err = s.queue.Enqueue(ctx, Ref{OrganizationID: id.OrganizationID, BatchID: batchID})
	switch {
	case err == nil, errors.Is(err, generic.ErrAlreadyQueued):
		log.Info("Batch processing started")
	case errors.Is(err, generic.ErrQueueFull):
		log.Warn("Queue full, batch waits for the next recovery sweep")
	default:
		// The batch stays processing and is picked up by RecoverProcessing.
		log.WithError(err).Error("Failed to enqueue batch")
	}
	return batch, nil
}

// GetBatch returns a batch with its items.
func (s *Service) GetBatch(ctx context.Context, orgID generic.OrganizationID, batchID string) (*Batch, error) {
	batch, err := s.store.GetBatch(ctx, orgID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	return batch, nil
}

// Payments returns the payments the batch created, oldest first.
func (s *Service) Payments(ctx context.Context, orgID generic.OrganizationID, batchID string) ([]rental.Payment, error) {
	if _, err := s.GetBatch(ctx, orgID, batchID); err != nil {
		return nil, err
	}
	payments, err := s.payments.PaymentsBySource(ctx, orgID, rental.SourceBatch, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch payments: %w", err)
	}
	return payments, nil
}

// ListBatches returns batches most recent first, without items.
func (s *Service) ListBatches(ctx context.Context, orgID generic.OrganizationID, q ListQuery) ([]Batch, error) {
	q.Limit = ClampLimit(q.Limit)
	batches, err := s.store.ListBatches(ctx, orgID, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}

// RecoverProcessing re-enqueues every batch left in processing: batches a
// previous process stopped mid-run, and batches that found the queue full.
// Batches already waiting or running are skipped. When the queue fills up the
// rest wait for the next call. Returns how many were queued.
func (s *Service) RecoverProcessing(ctx context.Context) (int, error) {
	refs, err := s.store.ProcessingBatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processing batches: %w", err)
	}

	queued := 0
	for i, ref := range refs {
		err := s.queue.Enqueue(ctx, ref)
		if errors.Is(err, generic.ErrAlreadyQueued) {
			continue
		}
		if errors.Is(err, generic.ErrQueueFull) {
			s.log.WithFields(logrus.Fields{"queued": queued, "deferred": len(refs) - i}).Warn("Queue full, deferring recovery")
			break
		}
		if err != nil {
			return queued, fmt.Errorf("failed to enqueue batch %s: %w", ref.BatchID, err)
		}
		queued++
	}
	if queued > 0 {
		s.log.WithField("batches", queued).Warn("Resumed processing batches")
	}
	return queued, nil
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
