package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/pipeline"
)

// IngestRunner is the part of pipeline.Manager used by workers.
type IngestRunner interface {
	Attempt(ctx context.Context, run *pipeline.Run) (*pipeline.IngestResponse, error)
	Fail(ctx context.Context, run *pipeline.Run, cause error)
}

// NewIngestHandler returns a JobHandler running ingestion jobs.
// A failure is retried only when the extraction service may recover and the
// job has retries left; otherwise the upload is moved to error and the job
// fails permanently.
func NewIngestHandler(runner IngestRunner) JobHandler {
	return func(ctx context.Context, job *IngestJob) error {
		if job.Run == nil {
			return Permanent(fmt.Errorf("job %s has no prepared upload", job.JobID))
		}

		log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
			"job_id":      job.JobID,
			"upload_id":   job.UploadID,
			"retry_count": job.RetryCount,
		})
		ctx = logger.WithContext(ctx, log)

		resp, err := runner.Attempt(ctx, job.Run)
		if err != nil {
			if pipeline.Retryable(err) && job.CanRetry(err) {
				log.Warn().Err(err).Msg("Ingestion attempt failed, will retry")
				return err
			}
			runner.Fail(ctx, job.Run, err)
			return Permanent(err)
		}

		job.Result = resp
		return nil
	}
}

// NewAbandonHandler returns an AbandonFunc that moves the job's upload to error.
func NewAbandonHandler(runner IngestRunner) AbandonFunc {
	return func(ctx context.Context, job *IngestJob, cause error) {
		if job.Run != nil {
			runner.Fail(ctx, job.Run, cause)
		}
	}
}
