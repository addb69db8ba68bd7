package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/store"
)

const uploadColumns = `
	upload_id, house_id, card_id, IFNULL(filename, '') AS filename,
	IFNULL(file_kind, '') AS file_kind, billing_month, items_count, status,
	error_message, archive_uri, IFNULL(created_by, '') AS created_by,
	created_ts, updated_ts`

// CreateUpload inserts a new upload record. Uses DML INSERT to avoid
// streaming buffer issues with the UPDATE that follows.
func (r *Repository) CreateUpload(ctx context.Context, upload *domain.Upload) error {
	if upload.Status != domain.StatusProcessing {
		return &domain.StateError{UploadID: upload.ID, Status: upload.Status, Action: "create"}
	}
	row := uploadToRow(upload)

	_, err := r.exec(ctx, `
		INSERT INTO `+r.table(uploadsTable)+` (
			upload_id, house_id, card_id, filename, file_kind,
			billing_month, items_count, status, error_message, archive_uri,
			created_by, created_ts, updated_ts
		)
		VALUES (
			@upload_id, @house_id, @card_id, @filename, @file_kind,
			@billing_month, @items_count, @status, @error_message, @archive_uri,
			@created_by, @created_ts, @updated_ts
		)
	`, []bigquery.QueryParameter{
		{Name: "upload_id", Value: row.UploadID},
		{Name: "house_id", Value: row.HouseID},
		{Name: "card_id", Value: row.CardID},
		{Name: "filename", Value: row.Filename},
		{Name: "file_kind", Value: row.FileKind},
		{Name: "billing_month", Value: row.BillingMonth},
		{Name: "items_count", Value: row.ItemsCount},
		{Name: "status", Value: row.Status},
		{Name: "error_message", Value: row.ErrorMessage},
		{Name: "archive_uri", Value: row.ArchiveURI},
		{Name: "created_by", Value: row.CreatedBy},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
	})
	if err != nil {
		return fmt.Errorf("CreateUpload: %w", err)
	}
	return nil
}

// GetUpload retrieves an upload record by id.
func (r *Repository) GetUpload(ctx context.Context, uploadID string) (*domain.Upload, error) {
	q := r.client.Query(`
		SELECT ` + uploadColumns + `
		FROM ` + r.table(uploadsTable) + `
		WHERE upload_id = @upload_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "upload_id", Value: uploadID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetUpload: query read: %w", err)
	}

	var row UploadRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, &domain.NotFoundError{Entity: "upload", ID: uploadID}
	}
	if err != nil {
		return nil, fmt.Errorf("GetUpload: iter next: %w", err)
	}
	return row.toDomain(), nil
}

// ListUploads returns the uploads of a house, newest first.
func (r *Repository) ListUploads(ctx context.Context, houseID string) ([]*domain.Upload, error) {
	q := r.client.Query(`
		SELECT ` + uploadColumns + `
		FROM ` + r.table(uploadsTable) + `
		WHERE house_id = @house_id
		ORDER BY created_ts DESC, upload_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "house_id", Value: houseID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListUploads: query read: %w", err)
	}

	uploads := []*domain.Upload{}
	for {
		var row UploadRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListUploads: iter next: %w", err)
		}
		uploads = append(uploads, row.toDomain())
	}
	return uploads, nil
}

// MarkUploadFailed moves a processing upload to error. Errors are logged and
// returned; callers on a failure path usually only log them again.
func (r *Repository) MarkUploadFailed(ctx context.Context, uploadID, message string) error {
	_, err := r.exec(ctx, `
		UPDATE `+r.table(uploadsTable)+`
		SET
			status = 'error',
			error_message = @error_message,
			updated_ts = @updated_ts
		WHERE upload_id = @upload_id
		  AND status = 'processing'
	`, []bigquery.QueryParameter{
		{Name: "upload_id", Value: uploadID},
		{Name: "error_message", Value: message},
		{Name: "updated_ts", Value: time.Now().UTC()},
	})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Str("upload_id", uploadID).
			Msg("MarkUploadFailed: update failed")
		return fmt.Errorf("MarkUploadFailed: %w", err)
	}
	return nil
}

// commitScript inserts the rows and moves the upload in one transaction.
// The guard raises when the upload is not in one of the @from statuses.
func commitScript(uploads, transactions string) string {
	return `
BEGIN
  BEGIN TRANSACTION;

  IF NOT EXISTS (
    SELECT 1 FROM ` + uploads + `
    WHERE upload_id = @upload_id AND status IN UNNEST(@from_statuses)
  ) THEN
    RAISE USING MESSAGE = '` + stateConflictMarker + `';
  END IF;

  INSERT INTO ` + transactions + ` (
    transaction_id, house_id, card_id, upload_id, description,
    transaction_date, amount, type, installment, category,
    billing_month, recurrence_group, created_ts
  )
  SELECT
    r.transaction_id, r.house_id, NULLIF(r.card_id, ''), NULLIF(r.upload_id, ''), r.description,
    r.transaction_date, r.amount, r.type, NULLIF(r.installment, ''), r.category,
    r.billing_month, NULLIF(r.recurrence_group, ''), r.created_ts
  FROM UNNEST(@rows) AS r;

  UPDATE ` + uploads + `
  SET
    status = @status,
    items_count = items_count + @add_items,
    archive_uri = COALESCE(NULLIF(@archive_uri, ''), archive_uri),
    updated_ts = @updated_ts
  WHERE upload_id = @upload_id;

  COMMIT TRANSACTION;
EXCEPTION WHEN ERROR THEN
  ROLLBACK TRANSACTION;
  RAISE USING MESSAGE = @@error.message;
END;
`
}

// undoScript deletes the upload's rows, marks it undone and returns the
// number of deleted rows as deleted_rows.
func undoScript(uploads, transactions string) string {
	return `
DECLARE deleted INT64 DEFAULT 0;

BEGIN
  BEGIN TRANSACTION;

  IF NOT EXISTS (
    SELECT 1 FROM ` + uploads + `
    WHERE upload_id = @upload_id AND status IN UNNEST(@from_statuses)
  ) THEN
    RAISE USING MESSAGE = '` + stateConflictMarker + `';
  END IF;

  DELETE FROM ` + transactions + ` WHERE upload_id = @upload_id;
  SET deleted = @@row_count;

  UPDATE ` + uploads + `
  SET
    status = 'undone',
    updated_ts = @updated_ts
  WHERE upload_id = @upload_id;

  COMMIT TRANSACTION;
EXCEPTION WHEN ERROR THEN
  ROLLBACK TRANSACTION;
  RAISE USING MESSAGE = @@error.message;
END;

SELECT deleted AS deleted_rows;
`
}

// CommitUpload inserts the commit's rows and updates the upload status in
// one transaction.
func (r *Repository) CommitUpload(ctx context.Context, commit store.Commit) error {
	_, err := r.exec(ctx, commitScript(r.table(uploadsTable), r.table(transactionsTable)), []bigquery.QueryParameter{
		{Name: "upload_id", Value: commit.UploadID},
		{Name: "from_statuses", Value: statusStrings(commit.From)},
		{Name: "rows", Value: transactionsToRows(commit.Rows)},
		{Name: "status", Value: string(commit.Status)},
		{Name: "add_items", Value: int64(commit.AddItems)},
		{Name: "archive_uri", Value: commit.ArchiveURI},
		{Name: "updated_ts", Value: time.Now().UTC()},
	})
	if isStateConflict(err) {
		return r.conflictError(ctx, commit.UploadID, "commit")
	}
	if err != nil {
		return &domain.PersistenceError{Op: "commit upload", Err: fmt.Errorf("CommitUpload: %w", err)}
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("upload_id", commit.UploadID).
		Int("rows", len(commit.Rows)).
		Str("status", string(commit.Status)).
		Msg("Upload committed")
	return nil
}

// UndoUpload deletes every transaction of the upload and marks it undone.
func (r *Repository) UndoUpload(ctx context.Context, uploadID string) (int, error) {
	job, err := r.exec(ctx, undoScript(r.table(uploadsTable), r.table(transactionsTable)), []bigquery.QueryParameter{
		{Name: "upload_id", Value: uploadID},
		{Name: "from_statuses", Value: statusStrings([]domain.UploadStatus{domain.StatusCompleted, domain.StatusPendingReview})},
		{Name: "updated_ts", Value: time.Now().UTC()},
	})
	if isStateConflict(err) {
		return 0, r.conflictError(ctx, uploadID, "undo")
	}
	if err != nil {
		return 0, &domain.PersistenceError{Op: "undo upload", Err: fmt.Errorf("UndoUpload: %w", err)}
	}

	it, err := job.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("UndoUpload: read result: %w", err)
	}
	var result struct {
		DeletedRows int64 `bigquery:"deleted_rows"`
	}
	if err := it.Next(&result); err != nil && err != iterator.Done {
		return 0, fmt.Errorf("UndoUpload: iter next: %w", err)
	}
	return int(result.DeletedRows), nil
}
