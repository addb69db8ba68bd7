// Package postgres implements store.Repository on PostgreSQL through lib/pq.
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
	"github.com/dvloznov/invoice-ingest/internal/store"
)

// uniqueViolation is the SQLSTATE of a duplicate key.
const uniqueViolation = "23505"

// Repository is the PostgreSQL implementation of store.Repository.
type Repository struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("Open: ping database: %w", err)
	}
	return NewRepository(db), nil
}

// NewRepository wraps an open database handle. Close closes it.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close closes the database handle.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetHouse retrieves a house by id.
func (r *Repository) GetHouse(ctx context.Context, houseID string) (*domain.House, error) {
	var h domain.House
	err := r.db.QueryRowContext(ctx,
		`SELECT house_id, owner_id, name FROM houses WHERE house_id = $1`,
		houseID,
	).Scan(&h.ID, &h.OwnerID, &h.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "house", ID: houseID}
	}
	if err != nil {
		return nil, fmt.Errorf("GetHouse: %w", err)
	}
	return &h, nil
}

// GetCard retrieves a card by id.
func (r *Repository) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	var (
		c          domain.Card
		closingDay sql.NullInt64
		dueDay     sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT card_id, house_id, name, closing_day, due_day FROM cards WHERE card_id = $1`,
		cardID,
	).Scan(&c.ID, &c.HouseID, &c.Name, &closingDay, &dueDay)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "card", ID: cardID}
	}
	if err != nil {
		return nil, fmt.Errorf("GetCard: %w", err)
	}
	c.ClosingDay = int(closingDay.Int64)
	c.DueDay = int(dueDay.Int64)
	return &c, nil
}

// SaveModelOutput stores the raw extractor response of an upload.
func (r *Repository) SaveModelOutput(ctx context.Context, o *domain.ModelOutput) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO model_outputs (
			output_id, upload_id, model_name, raw_text,
			tokens_input, tokens_output, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.UploadID, o.Model, o.RawText, o.TokensInput, o.TokensOutput, o.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("SaveModelOutput: %w", err)
	}
	return nil
}

// dateValue converts a civil date to a value lib/pq can bind to a DATE column.
func dateValue(d civil.Date) any {
	if !d.IsValid() {
		return nil
	}
	return d.In(time.UTC)
}

// nullIfEmpty maps an empty string to SQL NULL.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func statusArray(statuses []domain.UploadStatus) pq.StringArray {
	out := make(pq.StringArray, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// isUniqueViolation reports whether err is a duplicate key error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

var _ store.Repository = (*Repository)(nil)
