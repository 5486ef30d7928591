/*
queue.go - Background handoff for batch execution

PURPOSE:
  StartProcessing must answer the caller right away while the batch runs
  for as long as it needs. The queue is that handoff: the request enqueues
  a job and returns, a worker picks the job up and runs the executor.

DESIGN:
  - Buffered channel of jobs consumed by a fixed number of workers
  - Enqueue never waits: a full buffer is ErrQueueFull, and the batch stays
    processing until the next RecoverProcessing sweep picks it up
  - A batch is queued at most once at a time (waiting or running), so
    sweeps never run a batch twice concurrently
  - Each job runs under the queue's own context (never the request's),
    bounded by the execution budget
  - Stop cancels in-flight jobs and waits for workers; batches interrupted
    this way stay processing and are resumed by RecoverProcessing

USAGE:
  q := bulkpay.NewQueue(executor, 64, 2, 10*time.Minute, logger)
  q.Start(ctx)
  defer q.Stop()
  err := q.Enqueue(ctx, bulkpay.Ref{OrganizationID: org, BatchID: id})

SEE ALSO:
  - executor.go: What a job does
  - service.go: StartProcessing and RecoverProcessing
*/
package bulkpay

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/generic"
)

// Runner executes one batch job.
type Runner interface {
	Execute(ctx context.Context, ref Ref) error
}

// Enqueuer accepts batch jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, ref Ref) error
}

// Queue runs batch jobs on a pool of workers.
type Queue struct {
	runner  Runner
	jobs    chan Ref
	workers int
	budget  time.Duration
	log     *logrus.Entry

	mu      sync.Mutex
	pending map[Ref]struct{}
	started bool
	closed  bool
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue creates a queue. A non-positive budget means no time limit.
func NewQueue(runner Runner, size, workers int, budget time.Duration, logger *logrus.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		runner:  runner,
		jobs:    make(chan Ref, size),
		workers: workers,
		budget:  budget,
		log:     logger.WithField("component", "bulkpay.queue"),
		pending: make(map[Ref]struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the workers. Jobs run under a context derived from ctx
// with its cancellation detached; only Stop cancels them.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(base, i)
	}
	q.log.WithFields(logrus.Fields{"workers": q.workers, "budget": q.budget}).Info("Queue started")
}

// Enqueue hands a job to the workers without waiting. It fails with
// ErrQueueFull when the buffer is full and ErrAlreadyQueued when the batch
// is still waiting or running.
func (q *Queue) Enqueue(ctx context.Context, ref Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return generic.ErrQueueClosed
	}
	if _, ok := q.pending[ref]; ok {
		return generic.ErrAlreadyQueued
	}

	select {
	case q.jobs <- ref:
		q.pending[ref] = struct{}{}
		q.log.WithFields(logrus.Fields{"org": ref.OrganizationID, "batch": ref.BatchID}).Debug("Job enqueued")
		return nil
	default:
		return generic.ErrQueueFull
	}
}

// Stop cancels running jobs and waits for the workers to exit. Jobs still
// buffered are dropped; their batches stay processing.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.log.WithField("dropped", len(q.jobs)).Info("Queue stopped")
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case ref := <-q.jobs:
			q.run(ctx, id, ref)
		}
	}
}

func (q *Queue) run(ctx context.Context, worker int, ref Ref) {
	defer q.release(ref)

	if q.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.budget)
		defer cancel()
	}

	log := q.log.WithFields(logrus.Fields{"worker": worker, "org": ref.OrganizationID, "batch": ref.BatchID})
	start := time.Now()
	if err := q.runner.Execute(ctx, ref); err != nil {
		log.WithError(err).Error("Batch job failed")
		return
	}
	log.WithField("duration", time.Since(start)).Debug("Batch job done")
}

func (q *Queue) release(ref Ref) {
	q.mu.Lock()
	delete(q.pending, ref)
	q.mu.Unlock()
}
