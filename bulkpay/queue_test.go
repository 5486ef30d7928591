package bulkpay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-engine/generic"
)

type fakeRunner struct {
	mu    sync.Mutex
	ran   []Ref
	block bool
	errs  []error
}

func (r *fakeRunner) Execute(ctx context.Context, ref Ref) error {
	r.mu.Lock()
	r.ran = append(r.ran, ref)
	block := r.block
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		r.mu.Lock()
		r.errs = append(r.errs, ctx.Err())
		r.mu.Unlock()
		return ctx.Err()
	}
	return nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func (r *fakeRunner) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func TestQueue_RunsEnqueuedJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	runner := &fakeRunner{}
	q := NewQueue(runner, 4, 2, 0, logger)
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"b-1", "b-2", "b-3"} {
		require.NoError(t, q.Enqueue(context.Background(), Ref{OrganizationID: "org", BatchID: id}))
	}

	assert.Eventually(t, func() bool { return runner.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestQueue_JobOutlivesRequestContext(t *testing.T) {
	// GIVEN: A queue started from a context that is later cancelled
	// WHEN: A job is enqueued with a request context that is cancelled right after
	// THEN: The job still runs
	logger, _ := test.NewNullLogger()
	runner := &fakeRunner{}
	startCtx, cancelStart := context.WithCancel(context.Background())
	q := NewQueue(runner, 1, 1, 0, logger)
	q.Start(startCtx)
	cancelStart()
	defer q.Stop()

	reqCtx, cancelReq := context.WithCancel(context.Background())
	require.NoError(t, q.Enqueue(reqCtx, Ref{OrganizationID: "org", BatchID: "b-1"}))
	cancelReq()

	assert.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestQueue_StopCancelsInFlightAndRejectsNewJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	runner := &fakeRunner{block: true}
	q := NewQueue(runner, 1, 1, 0, logger)
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Ref{OrganizationID: "org", BatchID: "b-1"}))
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)

	q.Stop()

	require.Len(t, runner.errors(), 1)
	assert.ErrorIs(t, runner.errors()[0], context.Canceled)

	err := q.Enqueue(context.Background(), Ref{OrganizationID: "org", BatchID: "b-2"})
	assert.ErrorIs(t, err, generic.ErrQueueClosed)

	q.Stop() // idempotent
}

func TestQueue_BudgetBoundsEachJob(t *testing.T) {
	logger, _ := test.NewNullLogger()
	runner := &fakeRunner{block: true}
	q := NewQueue(runner, 1, 1, 20*time.Millisecond, logger)
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(context.Background(), Ref{OrganizationID: "org", BatchID: "b-1"}))

	require.Eventually(t, func() bool { return len(runner.errors()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, runner.errors()[0], context.DeadlineExceeded)
}

func TestQueue_EnqueueFailsFastWhenFull(t *testing.T) {
	// GIVEN: A queue whose only buffer slot is taken and nothing drains it
	// WHEN: Enqueueing another job with a caller context that never expires
	// THEN: Enqueue returns ErrQueueFull right away
	logger, _ := test.NewNullLogger()
	q := NewQueue(&fakeRunner{}, 1, 1, 0, logger) // never started, so nothing drains

	require.NoError(t, q.Enqueue(context.Background(), Ref{BatchID: "b-1"}))

	start := time.Now()
	err := q.Enqueue(context.Background(), Ref{BatchID: "b-2"})
	assert.ErrorIs(t, err, generic.ErrQueueFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, Ref{BatchID: "b-3"}), context.Canceled)
}

func TestQueue_BatchQueuedOnceUntilItFinishes(t *testing.T) {
	// GIVEN: A job that is running
	// WHEN: The same batch is enqueued again, before and after the job ends
	// THEN: The first attempt is refused, the second runs the batch again
	logger, _ := test.NewNullLogger()
	runner := &fakeRunner{block: true}
	q := NewQueue(runner, 2, 1, 30*time.Millisecond, logger)
	q.Start(context.Background())
	defer q.Stop()

	ref := Ref{OrganizationID: "org", BatchID: "b-1"}
	require.NoError(t, q.Enqueue(context.Background(), ref))
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, q.Enqueue(context.Background(), ref), generic.ErrAlreadyQueued)

	// The budget ends the blocked job, which frees the batch.
	require.Eventually(t, func() bool {
		return q.Enqueue(context.Background(), ref) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return runner.count() == 2 }, time.Second, 5*time.Millisecond)
}
