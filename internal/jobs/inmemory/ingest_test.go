package inmemory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/extraction"
	"github.com/dvloznov/invoice-ingest/internal/jobs"
	"github.com/dvloznov/invoice-ingest/internal/pipeline"
	"github.com/dvloznov/invoice-ingest/internal/store/memory"
)

type extractFunc func(ctx context.Context, content []byte, kind domain.FileKind) (*extraction.Result, error)

type ingestFixture struct {
	repo    *memory.Store
	manager *pipeline.Manager
	jobs    *Store
	queue   *Queue
}

// newIngestFixture runs a queue over a real Manager and memory store, wired
// the way cmd/api wires them.
func newIngestFixture(t *testing.T, extract extractFunc, opts ...Option) *ingestFixture {
	t.Helper()

	repo := memory.NewStore()
	repo.AddHouse(domain.House{ID: "house-1", OwnerID: "user-1", Name: "Home"})
	repo.AddCard(domain.Card{ID: "card-1", HouseID: "house-1", Name: "Visa", ClosingDay: 20})

	manager := pipeline.NewManager(repo, &extraction.MockExtractor{ExtractFunc: extract}, nil, pipeline.Options{})
	jobStore := NewStore()

	opts = append([]Option{WithBackoff(time.Millisecond), WithAbandon(jobs.NewAbandonHandler(manager))}, opts...)
	q := NewQueue(10, jobStore, opts...)
	require.NoError(t, q.Start(context.Background(), jobs.NewIngestHandler(manager)))
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	return &ingestFixture{repo: repo, manager: manager, jobs: jobStore, queue: q}
}

// enqueue prepares an upload and publishes it, returning the upload id.
func (f *ingestFixture) enqueue(t *testing.T, jobID string) string {
	t.Helper()
	ctx := context.Background()

	run, err := f.manager.Prepare(ctx, pipeline.IngestRequest{
		FileContent:  "date;description;amount",
		FileKind:     "csv",
		Filename:     jobID + ".csv",
		CardID:       "card-1",
		HouseID:      "house-1",
		InvoiceMonth: "2024-03",
		UserID:       "user-1",
	})
	require.NoError(t, err)

	require.NoError(t, f.queue.PublishIngest(ctx, &jobs.IngestJob{
		JobID:    jobID,
		UploadID: run.Upload.ID,
		HouseID:  run.Upload.HouseID,
		Run:      run,
	}))
	return run.Upload.ID
}

func (f *ingestFixture) uploadStatus(t *testing.T, uploadID string) domain.UploadStatus {
	t.Helper()
	upload, err := f.repo.GetUpload(context.Background(), uploadID)
	require.NoError(t, err)
	return upload.Status
}

func oneCandidate() *extraction.Result {
	return &extraction.Result{Candidates: []domain.Candidate{{
		Description: "FARMACIA",
		Date:        civil.Date{Year: 2024, Month: time.March, Day: 3},
		Amount:      decimal.NewFromInt(40),
	}}}
}

func TestIngestJob_Completes(t *testing.T) {
	f := newIngestFixture(t, func(ctx context.Context, content []byte, kind domain.FileKind) (*extraction.Result, error) {
		return oneCandidate(), nil
	})

	uploadID := f.enqueue(t, "job-1")

	job := waitForStatus(t, f.jobs, "job-1", jobs.JobStatusCompleted)
	require.NotNil(t, job.Result)
	assert.Equal(t, 1, job.Result.ItemsCount)
	assert.Equal(t, domain.StatusCompleted, f.uploadStatus(t, uploadID))
}

func TestIngestJob_PermanentFailureMarksUploadError(t *testing.T) {
	var attempts int32
	f := newIngestFixture(t, func(ctx context.Context, content []byte, kind domain.FileKind) (*extraction.Result, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, &domain.ExtractionError{Kind: domain.ErrQuotaExceeded}
	}, WithMaxRetries(3))

	uploadID := f.enqueue(t, "job-1")

	job := waitForStatus(t, f.jobs, "job-1", jobs.JobStatusFailed)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, domain.StatusError, f.uploadStatus(t, uploadID))
}

func TestIngestJob_RetriesExhaustedMarkUploadError(t *testing.T) {
	var attempts int32
	f := newIngestFixture(t, func(ctx context.Context, content []byte, kind domain.FileKind) (*extraction.Result, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, &domain.ExtractionError{Kind: domain.ErrRateLimited}
	}, WithMaxRetries(2))

	uploadID := f.enqueue(t, "job-1")

	job := waitForStatus(t, f.jobs, "job-1", jobs.JobStatusFailed)
	assert.Equal(t, 2, job.RetryCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, domain.StatusError, f.uploadStatus(t, uploadID))
}

func TestIngestJob_StopDuringRetryMarksUploadError(t *testing.T) {
	f := newIngestFixture(t, func(ctx context.Context, content []byte, kind domain.FileKind) (*extraction.Result, error) {
		return nil, &domain.ExtractionError{Kind: domain.ErrRateLimited}
	}, WithMaxRetries(3), WithBackoff(time.Hour))

	uploadID := f.enqueue(t, "job-1")
	waitForStatus(t, f.jobs, "job-1", jobs.JobStatusRetrying)
	assert.Equal(t, domain.StatusProcessing, f.uploadStatus(t, uploadID))

	require.NoError(t, f.queue.Stop(context.Background()))

	assert.Equal(t, domain.StatusError, f.uploadStatus(t, uploadID))
	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
}

func TestIngestJob_StopMarksBufferedUploadsError(t *testing.T) {
	release := make(chan struct{})
	f := newIngestFixture(t, func(ctx context.Context, content []byte, kind domain.FileKind) (*extraction.Result, error) {
		<-release
		return oneCandidate(), nil
	}, WithWorkers(1))

	first := f.enqueue(t, "job-1")
	waitForStatus(t, f.jobs, "job-1", jobs.JobStatusRunning)
	second := f.enqueue(t, "job-2")

	stopped := make(chan error, 1)
	go func() { stopped <- f.queue.Stop(context.Background()) }()
	<-f.queue.done
	close(release)
	require.NoError(t, <-stopped)

	assert.Equal(t, domain.StatusCompleted, f.uploadStatus(t, first))
	assert.Equal(t, domain.StatusError, f.uploadStatus(t, second))
}
