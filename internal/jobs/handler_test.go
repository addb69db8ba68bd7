package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/pipeline"
)

type fakeRunner struct {
	err      error
	resp     *pipeline.IngestResponse
	attempts int
	failed   error
}

func (f *fakeRunner) Attempt(ctx context.Context, run *pipeline.Run) (*pipeline.IngestResponse, error) {
	f.attempts++
	return f.resp, f.err
}

func (f *fakeRunner) Fail(ctx context.Context, run *pipeline.Run, cause error) {
	f.failed = cause
}

func newJob(retryCount, maxRetries int) *IngestJob {
	return &IngestJob{
		JobID:      "job-1",
		UploadID:   "u-1",
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		Run:        &pipeline.Run{Upload: &domain.Upload{ID: "u-1"}},
	}
}

func TestIngestHandler_Success(t *testing.T) {
	runner := &fakeRunner{resp: &pipeline.IngestResponse{UploadID: "u-1", ItemsCount: 3}}
	job := newJob(0, 0)

	require.NoError(t, NewIngestHandler(runner)(context.Background(), job))
	require.NotNil(t, job.Result)
	assert.Equal(t, 3, job.Result.ItemsCount)
	assert.Nil(t, runner.failed)
}

func TestIngestHandler_Failures(t *testing.T) {
	rateLimited := &domain.ExtractionError{Kind: domain.ErrRateLimited}
	quota := &domain.ExtractionError{Kind: domain.ErrQuotaExceeded}

	tests := []struct {
		name          string
		err           error
		retryCount    int
		maxRetries    int
		wantPermanent bool
	}{
		{"transient with retries left", rateLimited, 0, 2, false},
		{"transient on last attempt", rateLimited, 2, 2, true},
		{"transient without retries", rateLimited, 0, 0, true},
		{"quota is never retried", quota, 0, 2, true},
		{"parse error is never retried", &domain.ParseError{Reason: "no json"}, 0, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.err}
			err := NewIngestHandler(runner)(context.Background(), newJob(tt.retryCount, tt.maxRetries))

			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, IsPermanent(err))
			assert.ErrorIs(t, err, tt.err)
			if tt.wantPermanent {
				assert.Equal(t, tt.err, runner.failed)
			} else {
				assert.Nil(t, runner.failed)
			}
		})
	}
}

func TestIngestHandler_MissingRun(t *testing.T) {
	runner := &fakeRunner{}
	err := NewIngestHandler(runner)(context.Background(), &IngestJob{JobID: "job-1"})

	assert.True(t, IsPermanent(err))
	assert.Zero(t, runner.attempts)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("boom")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}

func TestIngestJob_CanRetry(t *testing.T) {
	job := &IngestJob{RetryCount: 1, MaxRetries: 2}
	transient := errors.New("unavailable")

	assert.True(t, job.CanRetry(transient))
	assert.False(t, job.CanRetry(nil))
	assert.False(t, job.CanRetry(Permanent(transient)))

	job.RetryCount = 2
	assert.False(t, job.CanRetry(transient))
}

func TestAbandonHandler(t *testing.T) {
	runner := &fakeRunner{}
	abandon := NewAbandonHandler(runner)
	cause := errors.New("queue is closed")

	abandon(context.Background(), newJob(1, 3), cause)
	assert.Equal(t, cause, runner.failed)

	runner.failed = nil
	abandon(context.Background(), &IngestJob{JobID: "job-2"}, cause)
	assert.Nil(t, runner.failed)
}
