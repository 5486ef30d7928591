package bulkpay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-engine/bulkpay"
	"github.com/warp/rent-engine/factory"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
	"github.com/warp/rent-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const org = generic.OrganizationID("org-1")

var (
	caller  = generic.Identity{OrganizationID: org, UserID: "manager-1"}
	testNow = time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	dueDate = time.Date(2024, time.May, 5, 0, 0, 0, 0, time.UTC)
)

// recordingQueue captures enqueued jobs instead of running them.
type recordingQueue struct {
	mu   sync.Mutex
	refs []bulkpay.Ref
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, ref bulkpay.Ref) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.refs = append(q.refs, ref)
	return nil
}

type fixture struct {
	store    *memory.Memory
	queue    *recordingQueue
	service  *bulkpay.Service
	executor *bulkpay.Executor
	log      *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.New()
	queue := &recordingQueue{}
	clock := func() time.Time { return testNow }

	return &fixture{
		store:    store,
		queue:    queue,
		service:  bulkpay.NewService(store, store, store, store, queue, logger).WithClock(clock),
		executor: bulkpay.NewExecutor(store, store, factory.NewPaymentFactory().WithClock(clock), logger),
		log:      logger,
	}
}

func (f *fixture) property(t *testing.T, orgID generic.OrganizationID, id string) {
	t.Helper()
	require.NoError(t, f.store.SaveProperty(context.Background(), rental.Property{ID: id, OrganizationID: orgID, Name: id}))
}

func (f *fixture) tenant(t *testing.T, orgID generic.OrganizationID, id, propertyID string, rent int64, unit string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveTenant(ctx, rental.Tenant{
		ID:             id,
		OrganizationID: orgID,
		PropertyID:     propertyID,
		Name:           id,
		RentAmount:     decimal.NewFromInt(rent),
		Status:         rental.TenantActive,
	}))
	if unit != "" {
		require.NoError(t, f.store.SaveUnit(ctx, rental.Unit{
			ID: "unit-" + id, OrganizationID: orgID, PropertyID: propertyID, TenantID: id, UnitNumber: unit,
		}))
	}
}

// sunset seeds one property with three tenants paying 500, 750 and 1000.
func (f *fixture) sunset(t *testing.T) {
	f.property(t, org, "prop-sunset")
	f.tenant(t, org, "t-1", "prop-sunset", 500, "101")
	f.tenant(t, org, "t-2", "prop-sunset", 750, "102")
	f.tenant(t, org, "t-3", "prop-sunset", 1000, "")
}

func rentInput(filters bulkpay.Filters) bulkpay.CreateBatchInput {
	return bulkpay.CreateBatchInput{
		Name:    "May rent",
		Type:    bulkpay.TypeRentCollection,
		Filters: filters,
		Details: bulkpay.PaymentDetails{
			Description: "May rent",
			Method:      rental.MethodBankTransfer,
			DueDate:     dueDate,
			AutoProcess: true,
		},
	}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateBatch_MaterializesOneItemPerTenant(t *testing.T) {
	// GIVEN: Property with three active tenants (500 / 750 / 1000)
	// WHEN: Creating a rent batch filtered to that property
	// THEN: Draft batch, three pending items, total 2250, one property

	f := newFixture(t)
	f.sunset(t)

	batch, err := f.service.CreateBatch(context.Background(), caller,
		rentInput(bulkpay.Filters{PropertyIDs: []string{"prop-sunset"}}))
	require.NoError(t, err)

	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, bulkpay.StatusDraft, batch.Status)
	require.Len(t, batch.Items, 3)
	for _, item := range batch.Items {
		assert.Equal(t, bulkpay.ItemPending, item.Status)
	}
	assert.Equal(t, "2250", batch.TotalAmount.String())
	assert.Equal(t, 3, batch.TotalPayments)
	assert.Equal(t, 1, batch.Summary.TotalProperties)
	assert.Equal(t, "750.00", batch.Summary.AvgPaymentAmount.StringFixed(2))
	assert.Equal(t, generic.UserID("manager-1"), batch.CreatedBy)
	assert.Equal(t, testNow, batch.CreatedAt)

	assert.Equal(t, "unit-t-1", batch.Items[0].UnitID)
	assert.Empty(t, batch.Items[2].UnitID, "tenant without unit keeps an empty unit ref")

	stored, err := f.service.GetBatch(context.Background(), org, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.TotalAmount.String(), stored.TotalAmount.String())
	assert.Len(t, stored.Items, 3)
}

func TestCreateBatch_FilterNarrowing(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)
	f.property(t, org, "prop-harbor")
	f.tenant(t, org, "t-4", "prop-harbor", 1200, "A1")
	require.NoError(t, f.store.SaveTenant(context.Background(), rental.Tenant{
		ID: "t-gone", OrganizationID: org, PropertyID: "prop-harbor", RentAmount: decimal.NewFromInt(900), Status: rental.TenantInactive,
	}))
	f.property(t, "org-2", "prop-other")
	f.tenant(t, "org-2", "t-other", "prop-other", 800, "")

	tests := []struct {
		name    string
		filters bulkpay.Filters
		want    []string
	}{
		{"no filters selects every active tenant of the org", bulkpay.Filters{}, []string{"t-1", "t-2", "t-3", "t-4"}},
		{"property filter", bulkpay.Filters{PropertyIDs: []string{"prop-harbor"}}, []string{"t-4"}},
		{"tenant filter", bulkpay.Filters{TenantIDs: []string{"t-3", "t-1"}}, []string{"t-1", "t-3"}},
		{"both filters intersect", bulkpay.Filters{PropertyIDs: []string{"prop-sunset"}, TenantIDs: []string{"t-2", "t-4"}}, []string{"t-2"}},
		{"inactive tenant never selected", bulkpay.Filters{TenantIDs: []string{"t-gone"}}, nil},
		{"other organization never selected", bulkpay.Filters{TenantIDs: []string{"t-other"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := f.service.CreateBatch(context.Background(), caller, rentInput(tt.filters))
			require.NoError(t, err)

			var got []string
			for _, item := range batch.Items {
				got = append(got, item.TenantID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateBatch_AmountOverride(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)

	in := rentInput(bulkpay.Filters{})
	in.Type = bulkpay.TypeLateFees
	in.Details.Amount = decimal.NewNullDecimal(decimal.NewFromInt(25))

	batch, err := f.service.CreateBatch(context.Background(), caller, in)
	require.NoError(t, err)
	assert.Equal(t, "75", batch.TotalAmount.String())
}

func TestCreateBatch_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*bulkpay.CreateBatchInput)
		field  string
	}{
		{"empty name", func(in *bulkpay.CreateBatchInput) { in.Name = "" }, "batchName"},
		{"unknown type", func(in *bulkpay.CreateBatchInput) { in.Type = "refunds" }, "batchType"},
		{"unknown method", func(in *bulkpay.CreateBatchInput) { in.Details.Method = "barter" }, "paymentMethod"},
		{"zero amount", func(in *bulkpay.CreateBatchInput) {
			in.Details.Amount = decimal.NewNullDecimal(decimal.Zero)
		}, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := rentInput(bulkpay.Filters{})
			tt.mutate(&in)

			_, err := f.service.CreateBatch(context.Background(), caller, in)
			var verr *generic.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

// =============================================================================
// START PROCESSING
// =============================================================================

func TestStartProcessing_ClaimsAndEnqueues(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)

	started, err := f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, bulkpay.StatusProcessing, started.Status)
	require.NotNil(t, started.ProcessingStarted)
	assert.Equal(t, []bulkpay.Ref{{OrganizationID: org, BatchID: batch.ID}}, f.queue.refs)

	// Nothing is paid until the queued job runs.
	assert.Empty(t, f.store.Payments())
}

func TestStartProcessing_SecondTriggerConflicts(t *testing.T) {
	// GIVEN: A batch already moved to processing
	// WHEN: Triggering processing again
	// THEN: ErrBatchNotDraft (409), and no second job is queued

	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)

	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	assert.ErrorIs(t, err, bulkpay.ErrBatchNotDraft)
	assert.True(t, generic.IsConflict(err))
	assert.Len(t, f.queue.refs, 1)
}

func TestStartProcessing_NotFoundAcrossOrganizations(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)

	_, err = f.service.StartProcessing(ctx, generic.Identity{OrganizationID: "org-2", UserID: "u"}, batch.ID)
	assert.ErrorIs(t, err, bulkpay.ErrBatchNotFound)

	_, err = f.service.StartProcessing(ctx, caller, "missing")
	assert.True(t, generic.IsNotFound(err))
}

func TestStartProcessing_EmptyBatchRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	require.Empty(t, batch.Items)

	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	assert.ErrorIs(t, err, bulkpay.ErrEmptyBatch)
	assert.True(t, generic.IsClientError(err))

	stored, err := f.service.GetBatch(ctx, org, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, bulkpay.StatusDraft, stored.Status)
}

func TestStartProcessing_EnqueueFailureLeavesBatchRecoverable(t *testing.T) {
	// GIVEN: A queue that refuses jobs
	// WHEN: Starting processing, then recovering
	// THEN: The caller still gets the processing batch; recovery re-enqueues it

	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)

	f.queue.err = generic.ErrQueueClosed
	started, err := f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, bulkpay.StatusProcessing, started.Status)
	assert.Empty(t, f.queue.refs)

	f.queue.err = nil
	n, err := f.service.RecoverProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []bulkpay.Ref{{OrganizationID: org, BatchID: batch.ID}}, f.queue.refs)
}

// gatedRunner holds every job until the gate opens, then runs the executor.
type gatedRunner struct {
	gate    chan struct{}
	next    bulkpay.Runner
	mu      sync.Mutex
	started int
}

func (r *gatedRunner) Execute(ctx context.Context, ref bulkpay.Ref) error {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()

	select {
	case <-r.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.next.Execute(ctx, ref)
}

func (r *gatedRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func TestStartProcessing_FullQueueAnswersAtOnceAndBatchRunsLater(t *testing.T) {
	// GIVEN: A single worker busy with one batch and a second batch filling the buffer
	// WHEN: A third batch is started
	// THEN: StartProcessing returns at once with the batch processing, and the
	//       next recovery sweep runs it once the queue drains

	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	runner := &gatedRunner{gate: make(chan struct{}), next: f.executor}
	queue := bulkpay.NewQueue(runner, 1, 1, 0, f.log)
	queue.Start(ctx)
	defer queue.Stop()
	service := bulkpay.NewService(f.store, f.store, f.store, f.store, queue, f.log).
		WithClock(func() time.Time { return testNow })

	var ids []string
	for i := 0; i < 3; i++ {
		b, err := service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	_, err := service.StartProcessing(ctx, caller, ids[0])
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)
	_, err = service.StartProcessing(ctx, caller, ids[1])
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	started, err := service.StartProcessing(reqCtx, caller, ids[2])
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, bulkpay.StatusProcessing, started.Status)

	completed := func(id string) func() bool {
		return func() bool {
			b, err := service.GetBatch(ctx, org, id)
			return err == nil && b.Status == bulkpay.StatusCompleted
		}
	}

	close(runner.gate)
	require.Eventually(t, completed(ids[0]), time.Second, 5*time.Millisecond)
	require.Eventually(t, completed(ids[1]), time.Second, 5*time.Millisecond)

	n, err := service.RecoverProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Eventually(t, completed(ids[2]), time.Second, 5*time.Millisecond)
	assert.Len(t, f.store.Payments(), 9)
}

func TestRecoverProcessing_SkipsQueuedAndStopsWhenFull(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)
	f.queue.refs = nil

	for _, queueErr := range []error{generic.ErrAlreadyQueued, generic.ErrQueueFull} {
		f.queue.err = queueErr
		n, err := f.service.RecoverProcessing(ctx)
		require.NoError(t, err, queueErr)
		assert.Zero(t, n, queueErr)
	}

	f.queue.err = generic.ErrQueueClosed
	_, err = f.service.RecoverProcessing(ctx)
	assert.ErrorIs(t, err, generic.ErrQueueClosed)
}

func TestPayments_ListsWhatTheBatchCreated(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, bulkpay.Ref{OrganizationID: org, BatchID: batch.ID}))

	payments, err := f.service.Payments(ctx, org, batch.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	for i, p := range payments {
		assert.Equal(t, rental.SourceBatch, p.SourceType)
		assert.Equal(t, batch.ID, p.SourceID)
		assert.Equal(t, batch.Items[i].TenantID, p.TenantID)
	}

	_, err = f.service.Payments(ctx, "org-2", batch.ID)
	assert.ErrorIs(t, err, bulkpay.ErrBatchNotFound)
}

// =============================================================================
// LISTING
// =============================================================================

func TestListBatches_MostRecentFirstAndReadOnly(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	first, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	second, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{TenantIDs: []string{"t-1"}}))
	require.NoError(t, err)
	_, err = f.service.StartProcessing(ctx, caller, first.ID)
	require.NoError(t, err)

	before, err := f.service.ListBatches(ctx, org, bulkpay.ListQuery{})
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, second.ID, before[0].ID)
	assert.Equal(t, first.ID, before[1].ID)
	assert.Nil(t, before[0].Items, "listings omit items")

	processing, err := f.service.ListBatches(ctx, org, bulkpay.ListQuery{Status: bulkpay.StatusProcessing})
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, first.ID, processing[0].ID)

	after, err := f.service.ListBatches(ctx, org, bulkpay.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	limited, err := f.service.ListBatches(ctx, org, bulkpay.ListQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, bulkpay.DefaultListLimit, bulkpay.ClampLimit(0))
	assert.Equal(t, 5, bulkpay.ClampLimit(5))
	assert.Equal(t, bulkpay.MaxListLimit, bulkpay.ClampLimit(1000))
}

// =============================================================================
// EXECUTION
// =============================================================================

// processed creates a batch over every tenant, starts it and runs it inline.
func (f *fixture) processed(t *testing.T) *bulkpay.Batch {
	t.Helper()
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)

	_ = f.executor.Execute(ctx, bulkpay.Ref{OrganizationID: org, BatchID: batch.ID})

	done, err := f.service.GetBatch(ctx, org, batch.ID)
	require.NoError(t, err)
	return done
}

func TestExecute_AllSucceed(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)

	batch := f.processed(t)

	assert.Equal(t, bulkpay.StatusCompleted, batch.Status)
	assert.Equal(t, 3, batch.ProcessedPayments)
	assert.Equal(t, 3, batch.SuccessfulPayments)
	assert.Equal(t, 0, batch.FailedPayments)
	assert.Equal(t, "100.00", batch.Summary.SuccessRate.StringFixed(2))
	require.NotNil(t, batch.ProcessingCompleted)

	payments := f.store.Payments()
	require.Len(t, payments, 3)
	for i, item := range batch.Items {
		assert.Equal(t, bulkpay.ItemSuccess, item.Status)
		assert.Equal(t, payments[i].ID, item.PaymentID)
		assert.NotNil(t, item.ProcessedAt)
		assert.Equal(t, rental.SourceBatch, payments[i].SourceType)
		assert.Equal(t, batch.ID, payments[i].SourceID)
		assert.Equal(t, rental.PaymentCompleted, payments[i].Status)
		assert.Equal(t, dueDate, payments[i].PaymentDate)
	}
}

func TestExecute_InvalidPropertyGivesPartial(t *testing.T) {
	// GIVEN: Three tenants where the second references a property that does not exist
	// WHEN: Processing the batch
	// THEN: 2 succeed, 1 fails, partial, 66.67%, total amount unchanged

	f := newFixture(t)
	f.property(t, org, "prop-sunset")
	f.tenant(t, org, "t-1", "prop-sunset", 500, "")
	f.tenant(t, org, "t-2", "prop-demolished", 750, "")
	f.tenant(t, org, "t-3", "prop-sunset", 1000, "")

	batch := f.processed(t)

	assert.Equal(t, bulkpay.StatusPartial, batch.Status)
	assert.Equal(t, 2, batch.SuccessfulPayments)
	assert.Equal(t, 1, batch.FailedPayments)
	assert.InDelta(t, 66.67, batch.Summary.SuccessRate.InexactFloat64(), 0.01)
	assert.Equal(t, "2250", batch.TotalAmount.String())

	failed := batch.Items[1]
	assert.Equal(t, bulkpay.ItemFailed, failed.Status)
	assert.Empty(t, failed.PaymentID)
	assert.Contains(t, failed.ErrorMessage, "not found")
	assert.NotNil(t, failed.ProcessedAt)
}

func TestExecute_FailureIsolation(t *testing.T) {
	// GIVEN: Five tenants where the payment write for one is rejected
	// WHEN: Processing
	// THEN: Every other item still reaches a terminal state; none stays pending

	f := newFixture(t)
	f.property(t, org, "p")
	for _, id := range []string{"t-1", "t-2", "t-3", "t-4", "t-5"} {
		f.tenant(t, org, id, "p", 100, "")
	}
	f.store.FailPaymentsFor("t-3", errors.New("payment gateway rejected"))

	batch := f.processed(t)

	for _, item := range batch.Items {
		assert.True(t, item.Status.Done(), "item %d is %s", item.Index, item.Status)
	}
	assert.Equal(t, 4, batch.SuccessfulPayments)
	assert.Equal(t, 1, batch.FailedPayments)
	assert.Equal(t, "payment gateway rejected", batch.Items[2].ErrorMessage)
}

func TestExecute_AllFail(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)
	boom := errors.New("rejected")
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		f.store.FailPaymentsFor(id, boom)
	}

	batch := f.processed(t)

	assert.Equal(t, bulkpay.StatusFailed, batch.Status)
	assert.Equal(t, 0, batch.SuccessfulPayments)
	assert.Equal(t, 3, batch.FailedPayments)
	assert.True(t, batch.Summary.SuccessRate.IsZero())
	assert.Equal(t, "2250", batch.TotalAmount.String())
}

func TestExecute_StatusMatchesCounters(t *testing.T) {
	// Every processed batch: completed iff no failures, failed iff no successes, else partial.
	for failing := 0; failing <= 3; failing++ {
		f := newFixture(t)
		f.sunset(t)
		for i, id := range []string{"t-1", "t-2", "t-3"} {
			if i < failing {
				f.store.FailPaymentsFor(id, errors.New("rejected"))
			}
		}

		b := f.processed(t)

		switch {
		case b.FailedPayments == 0:
			assert.Equal(t, bulkpay.StatusCompleted, b.Status)
		case b.SuccessfulPayments == 0:
			assert.Equal(t, bulkpay.StatusFailed, b.Status)
		default:
			assert.Equal(t, bulkpay.StatusPartial, b.Status)
		}
		assert.Equal(t, b.TotalPayments, b.SuccessfulPayments+b.FailedPayments)
	}
}

func TestExecute_PersistFailureAbortsAndFailsBatch(t *testing.T) {
	// GIVEN: Item writes start failing after the first item is fully recorded
	// WHEN: Processing
	// THEN: The run stops, the batch is failed, later items stay pending

	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)

	// Item 0 takes two writes (processing mark, outcome); the third write fails.
	dbDown := errors.New("disk I/O error")
	f.store.FailItemUpdates(2, dbDown)

	err = f.executor.Execute(ctx, bulkpay.Ref{OrganizationID: org, BatchID: batch.ID})
	assert.ErrorIs(t, err, dbDown)

	done, err := f.service.GetBatch(ctx, org, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, bulkpay.StatusFailed, done.Status)
	assert.Equal(t, 1, done.SuccessfulPayments)
	assert.Equal(t, bulkpay.ItemSuccess, done.Items[0].Status)
	assert.Equal(t, bulkpay.ItemPending, done.Items[1].Status)
	assert.Equal(t, bulkpay.ItemPending, done.Items[2].Status)
	assert.Len(t, f.store.Payments(), 1)
}

func TestExecute_CancelledRunStaysProcessingAndResumes(t *testing.T) {
	// GIVEN: A run cancelled before it starts (process shutting down)
	// WHEN: Executing, then executing again with a live context
	// THEN: The first run leaves the batch processing; the second completes it

	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)
	ref := bulkpay.Ref{OrganizationID: org, BatchID: batch.ID}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = f.executor.Execute(cancelled, ref)
	assert.ErrorIs(t, err, context.Canceled)

	mid, err := f.service.GetBatch(ctx, org, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, bulkpay.StatusProcessing, mid.Status)

	require.NoError(t, f.executor.Execute(ctx, ref))
	done, err := f.service.GetBatch(ctx, org, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, bulkpay.StatusCompleted, done.Status)
	assert.Len(t, f.store.Payments(), 3)
}

// cancellingPayments cancels the run once the first payment is recorded.
type cancellingPayments struct {
	rental.PaymentStore
	cancel context.CancelFunc
}

func (p *cancellingPayments) CreatePayment(ctx context.Context, payment rental.Payment) error {
	err := p.PaymentStore.CreatePayment(ctx, payment)
	p.cancel()
	return err
}

func TestExecute_CancelledBetweenItemsStopsBeforeNextItem(t *testing.T) {
	// GIVEN: A run whose context is cancelled while the first item is recorded
	// WHEN: Executing
	// THEN: The remaining items are never started and the batch stays processing

	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)
	ref := bulkpay.Ref{OrganizationID: org, BatchID: batch.ID}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	executor := bulkpay.NewExecutor(f.store, &cancellingPayments{PaymentStore: f.store, cancel: cancel},
		factory.NewPaymentFactory().WithClock(func() time.Time { return testNow }), f.log)

	err = executor.Execute(runCtx, ref)
	assert.ErrorIs(t, err, context.Canceled)

	mid, err := f.service.GetBatch(ctx, org, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, bulkpay.StatusProcessing, mid.Status)
	assert.Equal(t, bulkpay.ItemSuccess, mid.Items[0].Status)
	assert.Equal(t, bulkpay.ItemPending, mid.Items[1].Status)
	assert.Equal(t, bulkpay.ItemPending, mid.Items[2].Status)
	assert.Len(t, f.store.Payments(), 1)

	require.NoError(t, f.executor.Execute(ctx, ref))
	done, err := f.service.GetBatch(ctx, org, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, bulkpay.StatusCompleted, done.Status)
	assert.Len(t, f.store.Payments(), 3)
}

func TestExecute_InterruptedItemIsFailedNotRetried(t *testing.T) {
	// GIVEN: An item left in processing by a crashed run
	// WHEN: The batch is resumed
	// THEN: That item fails without a second payment; the rest succeed

	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)
	_, err = f.service.StartProcessing(ctx, caller, batch.ID)
	require.NoError(t, err)

	stuck := batch.Items[0]
	stuck.Status = bulkpay.ItemProcessing
	require.NoError(t, f.store.UpdateItem(ctx, batch.ID, stuck))

	require.NoError(t, f.executor.Execute(ctx, bulkpay.Ref{OrganizationID: org, BatchID: batch.ID}))

	done, err := f.service.GetBatch(ctx, org, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, bulkpay.StatusPartial, done.Status)
	assert.Equal(t, bulkpay.ItemFailed, done.Items[0].Status)
	assert.Contains(t, done.Items[0].ErrorMessage, "interrupted")
	assert.Len(t, f.store.Payments(), 2)
}

func TestExecute_SkipsBatchNotProcessing(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)
	ctx := context.Background()

	batch, err := f.service.CreateBatch(ctx, caller, rentInput(bulkpay.Filters{}))
	require.NoError(t, err)

	require.NoError(t, f.executor.Execute(ctx, bulkpay.Ref{OrganizationID: org, BatchID: batch.ID}))
	assert.Empty(t, f.store.Payments())

	err = f.executor.Execute(ctx, bulkpay.Ref{OrganizationID: org, BatchID: "missing"})
	assert.ErrorIs(t, err, bulkpay.ErrBatchNotFound)
}

func TestExecute_TerminalStatusWrittenOnce(t *testing.T) {
	f := newFixture(t)
	f.sunset(t)

	batch := f.processed(t)
	require.Equal(t, bulkpay.StatusCompleted, batch.Status)

	// A duplicate job for the same batch is a no-op.
	require.NoError(t, f.executor.Execute(context.Background(), bulkpay.Ref{OrganizationID: org, BatchID: batch.ID}))
	assert.Len(t, f.store.Payments(), 3)
}
