package recurring

import (
	"context"
	"time"

	"github.com/warp/rent-engine/generic"
)

// ListQuery filters schedule listings. Results are soonest due first.
type ListQuery struct {
	TenantID string // empty = any
	Status   Status // empty = any
	Limit    int
}

// Store persists schedules and run records.
type Store interface {
	CreateSchedule(ctx context.Context, s Schedule) error

	// GetSchedule returns nil, nil when the schedule does not exist in the organization.
	GetSchedule(ctx context.Context, orgID generic.OrganizationID, id string) (*Schedule, error)

	ListSchedules(ctx context.Context, orgID generic.OrganizationID, q ListQuery) ([]Schedule, error)

	// DueSchedules returns active auto-processed schedules with nextDueDate <= now,
	// soonest due first.
	DueSchedules(ctx context.Context, orgID generic.OrganizationID, now time.Time) ([]Schedule, error)

	// SaveAdvance writes the schedule's due date, status and installment plan
	// together with the new log entry, atomically.
	SaveAdvance(ctx context.Context, s Schedule, entry ProcessedPayment) error

	// OrganizationsWithDueSchedules lists organizations that DueSchedules would
	// return something for.
	OrganizationsWithDueSchedules(ctx context.Context, now time.Time) ([]generic.OrganizationID, error)

	CountActiveSchedules(ctx context.Context, orgID generic.OrganizationID) (int, error)

	// SaveRun inserts or updates a run record.
	SaveRun(ctx context.Context, run Run) error

	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, orgID generic.OrganizationID, limit int) ([]Run, error)
}
