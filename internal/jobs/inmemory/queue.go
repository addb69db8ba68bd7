// Package inmemory runs ingestion jobs on goroutines inside the API process.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/invoice-ingest/internal/jobs"
	"github.com/dvloznov/invoice-ingest/internal/logger"
)

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// Queue distributes jobs to a fixed set of workers over a buffered channel.
// Stop hands every job that will not run again (buffered, or waiting for a
// retry) to the abandon callback. Jobs are still lost if the process dies
// without Stop, and their uploads stay in processing.
type Queue struct {
	pending   chan *jobs.IngestJob
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	retryMu sync.Mutex
	retries map[*jobs.IngestJob]*time.Timer

	store      jobs.JobStore
	abandon    jobs.AbandonFunc
	workers    int
	maxRetries int
	backoff    time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent workers (default 5).
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithMaxRetries sets the retry budget given to jobs published without one.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// WithBackoff sets the base delay between retries; the n-th retry waits n times this.
func WithBackoff(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.backoff = d
		}
	}
}

// WithAbandon sets the callback run for jobs the queue gives up on at Stop or
// when a retry cannot be re-enqueued.
func WithAbandon(fn jobs.AbandonFunc) Option {
	return func(q *Queue) {
		q.abandon = fn
	}
}

// NewQueue creates a queue holding up to bufferSize waiting jobs. store may
// be nil when job status is not queried.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		pending: make(chan *jobs.IngestJob, bufferSize),
		done:    make(chan struct{}),
		retries: make(map[*jobs.IngestJob]*time.Timer),
		store:   store,
		workers: 5,
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishIngest records the job as pending and hands it to a worker. It
// blocks while the buffer is full.
func (q *Queue) PublishIngest(ctx context.Context, job *jobs.IngestJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.maxRetries
	}
	job.Status = jobs.JobStatusPending

	if err := q.save(ctx, job); err != nil {
		return fmt.Errorf("PublishIngest: save job: %w", err)
	}

	select {
	case q.pending <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

// Start launches the workers. It returns immediately.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, handler)
	}
	return nil
}

func (q *Queue) work(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case job := <-q.pending:
			select {
			case <-q.done:
				q.giveUp(ctx, job, fmt.Errorf("job never started: %w", ErrQueueClosed))
				return
			default:
			}
			q.run(ctx, job, handler)
		}
	}
}

// run executes one attempt and records its outcome.
func (q *Queue) run(ctx context.Context, job *jobs.IngestJob, handler jobs.JobHandler) {
	started := time.Now().UTC()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	job.CompletedAt = nil
	_ = q.save(ctx, job)

	err := handler(ctx, job)

	finished := time.Now().UTC()
	job.CompletedAt = &finished

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case job.CanRetry(err):
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		// Saved before rescheduling so a fast retry is never overwritten.
		_ = q.save(ctx, job)
		q.retryLater(ctx, job)
		return
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
	}
	_ = q.save(ctx, job)
}

// retryLater re-publishes job after a linear backoff. The pending retry is
// tracked so Stop can abandon it instead of dropping it.
func (q *Queue) retryLater(ctx context.Context, job *jobs.IngestJob) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.giveUp(ctx, job, fmt.Errorf("retry not scheduled: %w", ErrQueueClosed))
		return
	}

	delay := time.Duration(job.RetryCount) * q.backoff
	q.wg.Add(1)
	q.retryMu.Lock()
	defer q.retryMu.Unlock()
	q.retries[job] = time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.retryMu.Lock()
		delete(q.retries, job)
		q.retryMu.Unlock()

		if err := q.PublishIngest(ctx, job); err != nil {
			q.giveUp(ctx, job, fmt.Errorf("retry not enqueued: %w", err))
		}
	})
}

// giveUp marks job failed and passes it to the abandon callback.
func (q *Queue) giveUp(ctx context.Context, job *jobs.IngestJob, cause error) {
	if job.Error != "" {
		cause = fmt.Errorf("%w (last error: %s)", cause, job.Error)
	}

	finished := time.Now().UTC()
	job.Status = jobs.JobStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &finished
	_ = q.save(ctx, job)

	log := logger.FromContext(ctx)
	log.Warn().
		Err(cause).
		Str("job_id", job.JobID).
		Str("upload_id", job.UploadID).
		Msg("Job abandoned")

	if q.abandon != nil {
		q.abandon(ctx, job, cause)
	}
}

func (q *Queue) save(ctx context.Context, job *jobs.IngestJob) error {
	if q.store == nil {
		return nil
	}
	return q.store.SaveJob(ctx, job)
}

// Stop closes the queue and waits for in-flight jobs, or for ctx. Jobs that
// were still buffered or waiting for a retry are abandoned.
func (q *Queue) Stop(ctx context.Context) error {
	// done is closed first so a publisher blocked on a full buffer lets go.
	q.closeOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.retryMu.Lock()
	for job, timer := range q.retries {
		if timer.Stop() {
			delete(q.retries, job)
			q.giveUp(ctx, job, fmt.Errorf("retry cancelled: %w", ErrQueueClosed))
			q.wg.Done()
		}
	}
	q.retryMu.Unlock()

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = ctx.Err()
	}

	for {
		select {
		case job := <-q.pending:
			q.giveUp(ctx, job, fmt.Errorf("job never started: %w", ErrQueueClosed))
		default:
			return err
		}
	}
}

// Close stops the queue without a deadline.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
