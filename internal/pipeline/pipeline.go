// Package pipeline runs the upload lifecycle: an upload record is created in
// processing, the file is extracted, categorized and reconciled, and the result
// is committed together with the final status. Review and undo act on finished
// uploads.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/invoice-ingest/internal/billing"
	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/extraction"
	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/reconcile"
	"github.com/dvloznov/invoice-ingest/internal/store"
)

// maxErrorMessageLength caps the error text stored on an upload record.
const maxErrorMessageLength = 2000

// Options tune a Manager.
type Options struct {
	// ExtractionTimeout bounds the extractor call. Zero means no deadline
	// beyond the caller's context.
	ExtractionTimeout time.Duration
	// DefaultClosingDay is used for cards without a valid closing day.
	DefaultClosingDay int
	// Archive, when set, receives a copy of every uploaded file.
	Archive Archive
}

// Manager orchestrates ingestion, review and undo.
type Manager struct {
	repo       store.Repository
	extractor  extraction.Extractor
	reconciler *reconcile.Reconciler
	opts       Options

	now   func() time.Time
	newID func() string
}

// NewManager creates a Manager. A nil reconciler uses the default threshold.
func NewManager(repo store.Repository, extractor extraction.Extractor, reconciler *reconcile.Reconciler, opts Options) *Manager {
	if reconciler == nil {
		reconciler = reconcile.New(reconcile.DefaultThreshold, reconcile.DefaultMinLength)
	}
	if opts.DefaultClosingDay == 0 {
		opts.DefaultClosingDay = billing.DefaultClosingDay
	}
	return &Manager{
		repo:       repo,
		extractor:  extractor,
		reconciler: reconciler,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// IngestRequest is one invoice file to import.
type IngestRequest struct {
	FileContent  string `json:"fileContent"`
	FileKind     string `json:"fileKind"`
	Filename     string `json:"filename"`
	CardID       string `json:"cardId"`
	HouseID      string `json:"houseId"`
	InvoiceMonth string `json:"invoiceMonth"`

	// UserID is the authenticated caller.
	UserID string `json:"-"`
}

// IngestResponse reports the outcome of an ingestion or a review.
type IngestResponse struct {
	UploadID               string                     `json:"uploadId"`
	Status                 domain.UploadStatus        `json:"status"`
	ItemsCount             int                        `json:"itemsCount"`
	PossibleDuplicates     []domain.PossibleDuplicate `json:"possibleDuplicates"`
	CategorizedFromHistory int                        `json:"categorizedFromHistory"`
	ProjectedCount         int                        `json:"projectedCount"`
	DeferredCount          int                        `json:"deferredCount"`
	Message                string                     `json:"message"`
}

// Run is an upload whose record exists in processing and whose file is ready
// to be extracted.
type Run struct {
	Upload  *domain.Upload
	House   *domain.House
	Card    *domain.Card
	Content []byte
}

// Ingest validates the request, creates the upload record and runs the pipeline.
func (m *Manager) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	run, err := m.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.Execute(ctx, run)
}

// Prepare validates and authorizes the request, creates the upload record in
// processing and archives the file. Validation and authorization failures leave
// no trace in the store.
func (m *Manager) Prepare(ctx context.Context, req IngestRequest) (*Run, error) {
	valid, err := validateIngestRequest(req)
	if err != nil {
		return nil, fmt.Errorf("Prepare: %w", err)
	}

	house, err := m.authorize(ctx, req.HouseID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("Prepare: %w", err)
	}
	card, err := m.repo.GetCard(ctx, req.CardID)
	if err != nil {
		return nil, fmt.Errorf("Prepare: %w", err)
	}
	if card.HouseID != house.ID {
		return nil, fmt.Errorf("Prepare: card %s: %w", card.ID, &domain.AuthorizationError{HouseID: card.HouseID, UserID: req.UserID})
	}

	now := m.now()
	upload := &domain.Upload{
		ID:           m.newID(),
		HouseID:      house.ID,
		CardID:       card.ID,
		Filename:     req.Filename,
		FileKind:     valid.kind,
		BillingMonth: valid.billingMonth,
		Status:       domain.StatusProcessing,
		CreatedBy:    req.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	log := logger.FromContext(ctx).With().
		Str("upload_id", upload.ID).
		Str("house_id", house.ID).
		Str("card_id", card.ID).
		Logger()

	if err := m.repo.CreateUpload(ctx, upload); err != nil {
		return nil, fmt.Errorf("Prepare: %w", persistenceError("create upload", err))
	}

	// The URI is persisted by the commit that ends the run.
	if m.opts.Archive != nil {
		uri, err := m.opts.Archive.Store(ctx, house.ID, upload.ID, req.Filename, valid.kind, valid.content)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to archive upload, continuing without a copy")
		} else {
			upload.ArchiveURI = uri
		}
	}

	log.Info().
		Str("file_kind", string(valid.kind)).
		Str("billing_month", valid.billingMonth.String()).
		Int("size_bytes", len(valid.content)).
		Msg("Upload created")

	return &Run{Upload: upload, House: house, Card: card, Content: valid.content}, nil
}

// Execute runs the pipeline for a prepared upload. On failure the upload is
// moved to error before the error is returned.
func (m *Manager) Execute(ctx context.Context, run *Run) (*IngestResponse, error) {
	resp, err := m.Attempt(ctx, run)
	if err != nil {
		m.Fail(ctx, run, err)
		return nil, err
	}
	return resp, nil
}

// Attempt runs the pipeline once without touching the upload status on failure.
// Callers that retry use it and call Fail after the last attempt.
func (m *Manager) Attempt(ctx context.Context, run *Run) (*IngestResponse, error) {
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).With().Str("upload_id", run.Upload.ID).Logger())

	state := &IngestState{Run: run}
	if err := m.newIngestPipeline().Execute(ctx, state); err != nil {
		return nil, err
	}

	resp := &IngestResponse{
		UploadID:               run.Upload.ID,
		Status:                 state.Status,
		ItemsCount:             len(state.Fresh),
		PossibleDuplicates:     state.Duplicates,
		CategorizedFromHistory: state.CategorizedFromHistory,
		ProjectedCount:         state.Projected,
		DeferredCount:          state.Deferred,
	}
	if resp.PossibleDuplicates == nil {
		resp.PossibleDuplicates = []domain.PossibleDuplicate{}
	}
	resp.Message = ingestMessage(resp, len(state.Candidates))

	log := logger.FromContext(ctx)
	log.Info().
		Str("status", string(resp.Status)).
		Int("items_count", resp.ItemsCount).
		Int("duplicates", len(resp.PossibleDuplicates)).
		Int("projections", resp.ProjectedCount).
		Int("categorized_from_history", resp.CategorizedFromHistory).
		Msg("Upload processed")

	return resp, nil
}

// Fail moves the upload to error. It logs instead of returning an error so the
// original failure reaches the caller. It runs even when ctx is cancelled.
func (m *Manager) Fail(ctx context.Context, run *Run, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)

	msg := cause.Error()
	if len(msg) > maxErrorMessageLength {
		msg = msg[:maxErrorMessageLength]
	}

	if err := m.repo.MarkUploadFailed(ctx, run.Upload.ID, msg); err != nil {
		log.Error().
			Err(err).
			Str("upload_id", run.Upload.ID).
			Msg("Failed to mark upload as failed")
		return
	}

	log.Warn().
		Err(cause).
		Str("upload_id", run.Upload.ID).
		Msg("Upload failed")
}

// Retryable reports whether an ingestion failure may succeed on a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrUnavailable)
}

// authorize loads the house and checks that userID owns it.
func (m *Manager) authorize(ctx context.Context, houseID, userID string) (*domain.House, error) {
	house, err := m.repo.GetHouse(ctx, houseID)
	if err != nil {
		return nil, err
	}
	if userID == "" || house.OwnerID != userID {
		return nil, &domain.AuthorizationError{HouseID: houseID, UserID: userID}
	}
	return house, nil
}

func (m *Manager) modelOutput(uploadID string, result *extraction.Result) *domain.ModelOutput {
	return &domain.ModelOutput{
		ID:           m.newID(),
		UploadID:     uploadID,
		Model:        result.Model,
		RawText:      result.Raw,
		TokensInput:  result.TokensInput,
		TokensOutput: result.TokensOutput,
		CreatedAt:    m.now(),
	}
}

// saveModelOutput stores a response on a path that is already failing.
func (m *Manager) saveModelOutput(ctx context.Context, uploadID string, result *extraction.Result) {
	if err := m.repo.SaveModelOutput(context.WithoutCancel(ctx), m.modelOutput(uploadID, result)); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("upload_id", uploadID).Msg("Failed to store model output")
	}
}

// persistenceError wraps store failures that are not already typed.
func persistenceError(op string, err error) error {
	var (
		notFound *domain.NotFoundError
		state    *domain.StateError
		persist  *domain.PersistenceError
	)
	if errors.As(err, &notFound) || errors.As(err, &state) || errors.As(err, &persist) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
