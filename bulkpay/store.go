package bulkpay

import (
	"context"
	"time"

	"github.com/warp/rent-engine/generic"
)

// ListQuery filters batch listings. Results are most recent first.
type ListQuery struct {
	Status Status // empty = any
	Limit  int
}

// Ref identifies a batch across organizations.
type Ref struct {
	OrganizationID generic.OrganizationID
	BatchID        string
}

// Store persists batches. Every status write is conditional on the current
// status so that transitions stay monotonic.
type Store interface {
	// CreateBatch writes the batch and all its items atomically.
	CreateBatch(ctx context.Context, b Batch) error

	// GetBatch returns nil, nil when the batch does not exist in the organization.
	GetBatch(ctx context.Context, orgID generic.OrganizationID, id string) (*Batch, error)

	// ListBatches returns batches without their items.
	ListBatches(ctx context.Context, orgID generic.OrganizationID, q ListQuery) ([]Batch, error)

	// StartBatch moves a draft batch to processing. Returns false if it was not draft.
	StartBatch(ctx context.Context, orgID generic.OrganizationID, id string, startedAt time.Time) (bool, error)

	// UpdateItem persists one item's status, payment reference, error and timestamp.
	UpdateItem(ctx context.Context, batchID string, item Item) error

	// CompleteBatch writes counters, summary and terminal status of a processing batch.
	// Returns false if the batch was no longer processing.
	CompleteBatch(ctx context.Context, b Batch) (bool, error)

	// FailBatch marks a processing batch failed without touching items.
	FailBatch(ctx context.Context, orgID generic.OrganizationID, id string, completedAt time.Time) error

	// ProcessingBatches lists every batch still in processing, across organizations.
	ProcessingBatches(ctx context.Context) ([]Ref, error)
}
