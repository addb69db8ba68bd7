// Package store defines the persistence contract of the ingestion pipeline.
//
// Implementations live in internal/store/memory, internal/infra/bigquery and
// internal/infra/postgres. Missing entities are reported as *domain.NotFoundError,
// and a conditional status update that finds the record in another state
// returns *domain.StateError.
package store

import (
	"context"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// Commit describes the single atomic write that ends an ingestion run or a review.
type Commit struct {
	UploadID string
	// Rows are inserted together with the status update, or not at all.
	Rows []domain.Transaction
	// Status is the new upload status.
	Status domain.UploadStatus
	// AddItems is added to the upload's items_count.
	AddItems int
	// ArchiveURI, when set, is recorded on the upload.
	ArchiveURI string
	// From lists the statuses the upload must currently be in.
	From []domain.UploadStatus
}

// Allows reports whether the commit may be applied to an upload in status s.
func (c Commit) Allows(s domain.UploadStatus) bool {
	for _, from := range c.From {
		if from == s {
			return true
		}
	}
	return false
}

// HouseholdReader reads houses and cards.
type HouseholdReader interface {
	// GetHouse retrieves a house by id.
	GetHouse(ctx context.Context, houseID string) (*domain.House, error)

	// GetCard retrieves a card by id.
	GetCard(ctx context.Context, cardID string) (*domain.Card, error)
}

// UploadRepository manages upload records and their transactions.
type UploadRepository interface {
	// CreateUpload inserts a new upload record. The record must be in processing.
	CreateUpload(ctx context.Context, upload *domain.Upload) error

	// GetUpload retrieves an upload record by id.
	GetUpload(ctx context.Context, uploadID string) (*domain.Upload, error)

	// ListUploads returns the uploads of a house, newest first.
	ListUploads(ctx context.Context, houseID string) ([]*domain.Upload, error)

	// MarkUploadFailed moves a processing upload to error with the given message.
	// Uploads in any other state are left untouched.
	MarkUploadFailed(ctx context.Context, uploadID, message string) error

	// CommitUpload inserts rows and updates the upload status in one atomic step.
	CommitUpload(ctx context.Context, commit Commit) error

	// UndoUpload deletes every transaction of the upload and marks it undone in
	// one atomic step. It returns the number of deleted rows.
	UndoUpload(ctx context.Context, uploadID string) (int, error)

	// SaveModelOutput stores the raw extractor response of an upload.
	SaveModelOutput(ctx context.Context, output *domain.ModelOutput) error
}

// TransactionReader reads stored transactions.
type TransactionReader interface {
	// ListCardTransactions returns the rows of a card ordered by date, then id.
	ListCardTransactions(ctx context.Context, cardID string) ([]domain.Transaction, error)

	// ListCategorizedTransactions returns the rows of a house whose category is
	// neither empty nor unclassified.
	ListCategorizedTransactions(ctx context.Context, houseID string) ([]domain.Transaction, error)

	// ListHouseTransactions returns every row of a house ordered by date, then id.
	ListHouseTransactions(ctx context.Context, houseID string) ([]domain.Transaction, error)
}

// Repository is the full persistence contract.
type Repository interface {
	HouseholdReader
	UploadRepository
	TransactionReader

	// Close releases the underlying connection.
	Close() error
}
