// Package bigquery implements store.Repository on top of BigQuery.
//
// Writes that must be atomic (CommitUpload, UndoUpload) run as a single
// multi-statement transaction script. Other writes use DML so rows are
// visible to the very next query.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/store"
)

const (
	housesTable       = "houses"
	cardsTable        = "cards"
	uploadsTable      = "uploads"
	transactionsTable = "transactions"
	modelOutputsTable = "model_outputs"
)

// stateConflictMarker is raised by the transaction scripts when the upload is
// not in one of the expected statuses.
const stateConflictMarker = "upload_state_conflict"

// Repository is the BigQuery implementation of store.Repository. It holds a
// shared client to avoid creating a new connection for each operation.
type Repository struct {
	client    *bigquery.Client
	projectID string
	dataset   string
}

// NewRepository creates a repository with its own client.
func NewRepository(ctx context.Context, projectID, dataset string) (*Repository, error) {
	if projectID == "" || dataset == "" {
		return nil, fmt.Errorf("NewRepository: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, projectID, dataset), nil
}

// NewRepositoryWithClient wraps an existing client. Close closes it.
func NewRepositoryWithClient(client *bigquery.Client, projectID, dataset string) *Repository {
	return &Repository{client: client, projectID: projectID, dataset: dataset}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// table returns the fully qualified, quoted name of a table.
func (r *Repository) table(name string) string {
	return tableRef(r.projectID, r.dataset, name)
}

func tableRef(projectID, dataset, name string) string {
	return "`" + projectID + "." + dataset + "." + name + "`"
}

// exec runs a statement and waits for it to finish.
func (r *Repository) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) (*bigquery.Job, error) {
	q := r.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("job error: %w", err)
	}
	return job, nil
}

// isStateConflict reports whether err was raised by a status guard.
func isStateConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), stateConflictMarker)
}

// conflictError turns a failed status guard into the error the store contract
// promises: NotFound when the upload is gone, StateError otherwise.
func (r *Repository) conflictError(ctx context.Context, uploadID, action string) error {
	upload, err := r.GetUpload(ctx, uploadID)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return err
		}
		return &domain.PersistenceError{Op: action, Err: err}
	}
	return &domain.StateError{UploadID: uploadID, Status: upload.Status, Action: action}
}

var _ store.Repository = (*Repository)(nil)
