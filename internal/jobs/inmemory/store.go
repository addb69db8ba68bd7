package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/invoice-ingest/internal/jobs"
)

// Store keeps job snapshots in a map. Callers always get copies, so workers
// can keep mutating their job while it is being read.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]jobs.IngestJob
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]jobs.IngestJob)}
}

// SaveJob stores a snapshot of job.
func (s *Store) SaveJob(ctx context.Context, job *jobs.IngestJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = *job
	return nil
}

// GetJob returns the latest snapshot of a job.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob: %w: %s", jobs.ErrJobNotFound, jobID)
	}
	return &job, nil
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.IngestJob, error) {
	s.mu.RLock()
	result := []*jobs.IngestJob{}
	for _, job := range s.jobs {
		if matches(filter, job) {
			job := job
			result = append(result, &job)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.IngestJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matches(f jobs.JobFilter, job jobs.IngestJob) bool {
	return (f.UploadID == "" || job.UploadID == f.UploadID) &&
		(f.HouseID == "" || job.HouseID == f.HouseID) &&
		(f.Status == "" || job.Status == f.Status)
}

var _ jobs.JobStore = (*Store)(nil)
