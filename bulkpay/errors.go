package bulkpay

import (
	"errors"
	"fmt"

	"github.com/warp/rent-engine/generic"
)

var (
	// ErrBatchNotFound is returned when the batch does not exist in the caller's organization.
	ErrBatchNotFound = fmt.Errorf("batch %w", generic.ErrNotFound)

	// ErrBatchNotDraft is returned when processing is requested for a batch that already left draft.
	ErrBatchNotDraft = fmt.Errorf("batch is not in draft: %w", generic.ErrConflict)

	// ErrEmptyBatch is returned when processing is requested for a batch without items.
	ErrEmptyBatch = fmt.Errorf("batch has no items: %w", generic.ErrInvalidInput)

	errItemNotAttempted = errors.New("not attempted")
	errItemInterrupted  = errors.New("interrupted while processing; payment state unknown")
)

func itemFailure(item Item) error {
	switch item.Status {
	case ItemFailed:
		return &generic.ItemError{Index: item.Index, Err: errors.New(item.ErrorMessage)}
	default:
		return &generic.ItemError{Index: item.Index, Err: errItemNotAttempted}
	}
}
