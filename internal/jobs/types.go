// Package jobs runs ingestion asynchronously: the upload record is created by
// the request, the extraction and commit happen on a worker.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/invoice-ingest/internal/pipeline"
)

// JobStatus is the state of an ingestion job. It is separate from the upload
// status: a failed job always leaves its upload in error.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IngestJob runs the pipeline for an upload whose record already exists in processing.
type IngestJob struct {
	JobID    string    `json:"jobId"`
	UploadID string    `json:"uploadId"`
	HouseID  string    `json:"houseId"`
	Status   JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// Error holds the last failure, cleared on success.
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retryCount"`
	MaxRetries int    `json:"maxRetries"`

	// Result is set once the pipeline finished.
	Result *pipeline.IngestResponse `json:"result,omitempty"`

	// Run is the prepared upload. It is not exposed.
	Run *pipeline.Run `json:"-"`
}

// CanRetry reports whether err leaves the job another attempt.
func (j *IngestJob) CanRetry(err error) bool {
	return err != nil && !IsPermanent(err) && j.RetryCount < j.MaxRetries
}

// Publisher enqueues ingestion jobs.
type Publisher interface {
	PublishIngest(ctx context.Context, job *IngestJob) error
	Close() error
}

// Consumer runs a handler over published jobs until stopped.
type Consumer interface {
	Start(ctx context.Context, handler JobHandler) error
	// Stop waits for in-flight jobs to finish.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. Errors wrapped with Permanent are not retried.
type JobHandler func(ctx context.Context, job *IngestJob) error

// AbandonFunc is called for a job the queue will never run again.
type AbandonFunc func(ctx context.Context, job *IngestJob, cause error)

// JobStore keeps job state for status queries.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestJob) error
	GetJob(ctx context.Context, jobID string) (*IngestJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestJob, error)
}

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	UploadID string
	HouseID  string
	Status   JobStatus
	Limit    int
	Offset   int
}

// ErrJobNotFound is returned by stores for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
