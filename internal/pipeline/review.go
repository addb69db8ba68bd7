package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/store"
)

// ReviewRequest carries the possible duplicates the user decided to keep.
// An empty list discards them all.
type ReviewRequest struct {
	UploadID             string             `json:"uploadId"`
	ApprovedTransactions []domain.Candidate `json:"approvedTransactions"`

	UserID string `json:"-"`
}

// UndoRequest identifies the upload to roll back.
type UndoRequest struct {
	UploadID string `json:"uploadId"`

	UserID string `json:"-"`
}

// Review persists the approved items through the same path as fresh rows and
// completes the upload. Uploads that already failed or were undone are left
// alone and reported as is.
func (m *Manager) Review(ctx context.Context, req ReviewRequest) (*IngestResponse, error) {
	if strings.TrimSpace(req.UploadID) == "" {
		return nil, fmt.Errorf("Review: %w", &domain.ValidationError{Field: "uploadId", Reason: "is required"})
	}
	approved, err := validateApproved(req.ApprovedTransactions)
	if err != nil {
		return nil, fmt.Errorf("Review: %w", err)
	}

	upload, err := m.loadOwnedUpload(ctx, req.UploadID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("Review: %w", err)
	}

	log := logger.FromContext(ctx).With().Str("upload_id", upload.ID).Logger()

	switch upload.Status {
	case domain.StatusProcessing:
		return nil, fmt.Errorf("Review: %w", &domain.StateError{UploadID: upload.ID, Status: upload.Status, Action: "review"})
	case domain.StatusError, domain.StatusUndone:
		log.Info().Str("status", string(upload.Status)).Msg("Review ignored for finished upload")
		return &IngestResponse{
			UploadID:           upload.ID,
			Status:             upload.Status,
			PossibleDuplicates: []domain.PossibleDuplicate{},
			Message:            fmt.Sprintf("Upload is %s; nothing was imported.", upload.Status),
		}, nil
	}

	card, err := m.repo.GetCard(ctx, upload.CardID)
	if err != nil {
		return nil, fmt.Errorf("Review: %w", err)
	}

	candidates, fromHistory, err := m.categorize(ctx, upload.HouseID, approved)
	if err != nil {
		return nil, fmt.Errorf("Review: %w", err)
	}
	rows, projected, deferred := m.buildRows(upload, card, candidates)

	err = m.repo.CommitUpload(ctx, store.Commit{
		UploadID: upload.ID,
		Rows:     rows,
		Status:   domain.StatusCompleted,
		AddItems: len(candidates),
		From:     []domain.UploadStatus{domain.StatusPendingReview, domain.StatusCompleted},
	})
	if err != nil {
		return nil, fmt.Errorf("Review: %w", persistenceError("commit review", err))
	}

	resp := &IngestResponse{
		UploadID:               upload.ID,
		Status:                 domain.StatusCompleted,
		ItemsCount:             len(candidates),
		PossibleDuplicates:     []domain.PossibleDuplicate{},
		CategorizedFromHistory: fromHistory,
		ProjectedCount:         projected,
		DeferredCount:          deferred,
	}
	resp.Message = reviewMessage(resp)

	log.Info().
		Int("items_count", resp.ItemsCount).
		Int("projections", projected).
		Msg("Review applied")

	return resp, nil
}

// Undo deletes every transaction of the upload and marks it undone.
// Undoing an upload that is already undone, or that failed, succeeds without
// changes.
func (m *Manager) Undo(ctx context.Context, req UndoRequest) (bool, error) {
	if strings.TrimSpace(req.UploadID) == "" {
		return false, fmt.Errorf("Undo: %w", &domain.ValidationError{Field: "uploadId", Reason: "is required"})
	}

	upload, err := m.loadOwnedUpload(ctx, req.UploadID, req.UserID)
	if err != nil {
		return false, fmt.Errorf("Undo: %w", err)
	}

	log := logger.FromContext(ctx).With().Str("upload_id", upload.ID).Logger()

	if upload.Status.Terminal() {
		log.Info().Str("status", string(upload.Status)).Msg("Undo is a no-op")
		return true, nil
	}
	if upload.Status == domain.StatusProcessing {
		return false, fmt.Errorf("Undo: %w", &domain.StateError{UploadID: upload.ID, Status: upload.Status, Action: "undo"})
	}

	deleted, err := m.repo.UndoUpload(ctx, upload.ID)
	if err != nil {
		// A concurrent undo may have won the race.
		var stateErr *domain.StateError
		if errors.As(err, &stateErr) {
			if current, getErr := m.repo.GetUpload(ctx, upload.ID); getErr == nil && current.Status.Terminal() {
				return true, nil
			}
		}
		return false, fmt.Errorf("Undo: %w", persistenceError("undo upload", err))
	}

	log.Info().Int("deleted_rows", deleted).Msg("Upload undone")
	return true, nil
}

func (m *Manager) loadOwnedUpload(ctx context.Context, uploadID, userID string) (*domain.Upload, error) {
	upload, err := m.repo.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if _, err := m.authorize(ctx, upload.HouseID, userID); err != nil {
		return nil, err
	}
	return upload, nil
}

// AuthorizeHouse returns an AuthorizationError unless userID owns houseID.
func (m *Manager) AuthorizeHouse(ctx context.Context, houseID, userID string) error {
	if _, err := m.authorize(ctx, houseID, userID); err != nil {
		return fmt.Errorf("AuthorizeHouse: %w", err)
	}
	return nil
}

// Uploads lists the uploads of a house owned by userID.
func (m *Manager) Uploads(ctx context.Context, houseID, userID string) ([]*domain.Upload, error) {
	if _, err := m.authorize(ctx, houseID, userID); err != nil {
		return nil, fmt.Errorf("Uploads: %w", err)
	}
	uploads, err := m.repo.ListUploads(ctx, houseID)
	if err != nil {
		return nil, fmt.Errorf("Uploads: %w", persistenceError("list uploads", err))
	}
	return uploads, nil
}

// Upload returns one upload owned by userID.
func (m *Manager) Upload(ctx context.Context, uploadID, userID string) (*domain.Upload, error) {
	upload, err := m.loadOwnedUpload(ctx, uploadID, userID)
	if err != nil {
		return nil, fmt.Errorf("Upload: %w", err)
	}
	return upload, nil
}
