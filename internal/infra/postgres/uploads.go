package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/lib/pq"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/store"
)

const uploadColumns = `upload_id, house_id, card_id, filename, file_kind, billing_month,
	items_count, status, COALESCE(error_message, ''), COALESCE(archive_uri, ''),
	created_by, created_at, updated_at`

// transactionCopyColumns is the column order used by the bulk insert.
var transactionCopyColumns = []string{
	"transaction_id", "house_id", "card_id", "upload_id", "description",
	"transaction_date", "amount", "type", "installment", "category",
	"billing_month", "recurrence_group", "created_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(s rowScanner) (*domain.Upload, error) {
	var (
		u            domain.Upload
		kind, status string
		billingMonth time.Time
	)
	err := s.Scan(&u.ID, &u.HouseID, &u.CardID, &u.Filename, &kind, &billingMonth,
		&u.ItemsCount, &status, &u.ErrorMessage, &u.ArchiveURI,
		&u.CreatedBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.FileKind = domain.FileKind(kind)
	u.Status = domain.UploadStatus(status)
	u.BillingMonth = civil.DateOf(billingMonth)
	return &u, nil
}

// CreateUpload inserts a new upload record.
func (r *Repository) CreateUpload(ctx context.Context, u *domain.Upload) error {
	if u.Status != domain.StatusProcessing {
		return &domain.StateError{UploadID: u.ID, Status: u.Status, Action: "create"}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO uploads (
			upload_id, house_id, card_id, filename, file_kind, billing_month,
			items_count, status, error_message, archive_uri,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.HouseID, u.CardID, u.Filename, string(u.FileKind), dateValue(u.BillingMonth),
		u.ItemsCount, string(u.Status), nullIfEmpty(u.ErrorMessage), nullIfEmpty(u.ArchiveURI),
		u.CreatedBy, u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("CreateUpload: %w", err)
	}
	return nil
}

// GetUpload retrieves an upload record by id.
func (r *Repository) GetUpload(ctx context.Context, uploadID string) (*domain.Upload, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE upload_id = $1`, uploadID)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "upload", ID: uploadID}
	}
	if err != nil {
		return nil, fmt.Errorf("GetUpload: %w", err)
	}
	return u, nil
}

// ListUploads returns the uploads of a house, newest first.
func (r *Repository) ListUploads(ctx context.Context, houseID string) ([]*domain.Upload, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE house_id = $1 ORDER BY created_at DESC, upload_id`,
		houseID)
	if err != nil {
		return nil, fmt.Errorf("ListUploads: query: %w", err)
	}
	defer rows.Close()

	uploads := []*domain.Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("ListUploads: scan: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListUploads: rows: %w", err)
	}
	return uploads, nil
}

// MarkUploadFailed moves a processing upload to error.
func (r *Repository) MarkUploadFailed(ctx context.Context, uploadID, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE uploads
		SET status = 'error', error_message = $2, updated_at = $3
		WHERE upload_id = $1 AND status = 'processing'`,
		uploadID, message, time.Now().UTC(),
	)
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

// lockUpload locks the upload row for the rest of tx and checks its status.
func lockUpload(ctx context.Context, tx *sql.Tx, uploadID, action string, from []domain.UploadStatus) error {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM uploads WHERE upload_id = $1 FOR UPDATE`, uploadID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Entity: "upload", ID: uploadID}
	}
	if err != nil {
		return fmt.Errorf("lock upload: %w", err)
	}

	current := domain.UploadStatus(status)
	if !(store.Commit{From: from}).Allows(current) {
		return &domain.StateError{UploadID: uploadID, Status: current, Action: action}
	}
	return nil
}

// copyTransactions bulk inserts rows with COPY.
func copyTransactions(ctx context.Context, tx *sql.Tx, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("transactions", transactionCopyColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	defer stmt.Close()

	for _, t := range txs {
		if _, err := stmt.ExecContext(ctx, transactionValues(t)...); err != nil {
			return fmt.Errorf("copy %s: %w", t.ID, err)
		}
	}
	// An empty Exec flushes the buffered rows.
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush copy: %w", err)
	}
	return nil
}

func transactionValues(t domain.Transaction) []any {
	return []any{
		t.ID, t.HouseID, nullIfEmpty(t.CardID), nullIfEmpty(t.UploadID), t.Description,
		dateValue(t.Date), t.Amount.String(), string(t.Type), nullIfEmpty(t.Installment), t.Category,
		dateValue(t.BillingMonth), nullIfEmpty(t.RecurrenceGroup), t.CreatedAt.UTC(),
	}
}

// CommitUpload inserts rows and updates the upload status in one transaction.
func (r *Repository) CommitUpload(ctx context.Context, commit store.Commit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.PersistenceError{Op: "commit upload", Err: fmt.Errorf("CommitUpload: begin: %w", err)}
	}
	defer tx.Rollback()

	if err := lockUpload(ctx, tx, commit.UploadID, "commit", commit.From); err != nil {
		return err
	}

	if err := copyTransactions(ctx, tx, commit.Rows); err != nil {
		if isUniqueViolation(err) {
			return &domain.PersistenceError{Op: "commit upload", Err: fmt.Errorf("CommitUpload: duplicate transaction id: %w", err)}
		}
		return &domain.PersistenceError{Op: "commit upload", Err: fmt.Errorf("CommitUpload: %w", err)}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE uploads
		SET status = $2, items_count = items_count + $3, updated_at = $4,
			archive_uri = COALESCE(NULLIF($5, ''), archive_uri)
		WHERE upload_id = $1`,
		commit.UploadID, string(commit.Status), commit.AddItems, time.Now().UTC(), commit.ArchiveURI,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "commit upload", Err: fmt.Errorf("CommitUpload: update status: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "commit upload", Err: fmt.Errorf("CommitUpload: commit: %w", err)}
	}
	return nil
}

// UndoUpload deletes the upload's rows and marks it undone in one transaction.
func (r *Repository) UndoUpload(ctx context.Context, uploadID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "undo upload", Err: fmt.Errorf("UndoUpload: begin: %w", err)}
	}
	defer tx.Rollback()

	from := []domain.UploadStatus{domain.StatusCompleted, domain.StatusPendingReview}
	if err := lockUpload(ctx, tx, uploadID, "undo", from); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE upload_id = $1`, uploadID)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "undo upload", Err: fmt.Errorf("UndoUpload: delete: %w", err)}
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.PersistenceError{Op: "undo upload", Err: fmt.Errorf("UndoUpload: rows affected: %w", err)}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE uploads SET status = 'undone', updated_at = $2
		WHERE upload_id = $1 AND status = ANY($3)`,
		uploadID, time.Now().UTC(), statusArray(from),
	)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "undo upload", Err: fmt.Errorf("UndoUpload: update status: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return 0, &domain.PersistenceError{Op: "undo upload", Err: fmt.Errorf("UndoUpload: commit: %w", err)}
	}
	return int(deleted), nil
}
