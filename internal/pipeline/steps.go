package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/invoice-ingest/internal/categorize"
	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/extraction"
	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/store"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *IngestState) error
}

// IngestState holds the shared state across all pipeline steps.
type IngestState struct {
	Run *Run

	Result                 *extraction.Result
	Candidates             []domain.Candidate
	CategorizedFromHistory int
	Fresh                  []domain.Candidate
	Duplicates             []domain.PossibleDuplicate
	Rows                   []domain.Transaction
	Projected              int
	Deferred               int
	Status                 domain.UploadStatus
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *IngestState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// newIngestPipeline creates the standard pipeline run after the upload record exists.
// Nothing is written to the transactions table before the last step.
func (m *Manager) newIngestPipeline() *Pipeline {
	return NewPipeline(
		&ExtractStep{m: m},
		&StoreModelOutputStep{m: m},
		&CategorizeStep{m: m},
		&ReconcileStep{m: m},
		&BuildRowsStep{m: m},
		&CommitStep{m: m},
	)
}

// ExtractStep calls the extractor with a deadline.
type ExtractStep struct{ m *Manager }

func (s *ExtractStep) Execute(ctx context.Context, state *IngestState) error {
	callCtx := ctx
	if s.m.opts.ExtractionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.m.opts.ExtractionTimeout)
		defer cancel()
	}

	run := state.Run
	result, err := s.m.extractor.Extract(callCtx, run.Content, run.Upload.FileKind)
	if err != nil {
		// Keep whatever the service answered so a parse failure can be audited.
		if result != nil && result.Raw != "" {
			s.m.saveModelOutput(ctx, run.Upload.ID, result)
		}
		return fmt.Errorf("ExtractStep: %w", err)
	}
	state.Result = result
	state.Candidates = result.Candidates
	return nil
}

// StoreModelOutputStep stores the raw extractor response.
type StoreModelOutputStep struct{ m *Manager }

func (s *StoreModelOutputStep) Execute(ctx context.Context, state *IngestState) error {
	if err := s.m.repo.SaveModelOutput(ctx, s.m.modelOutput(state.Run.Upload.ID, state.Result)); err != nil {
		return fmt.Errorf("StoreModelOutputStep: %w", persistenceError("save model output", err))
	}
	return nil
}

// CategorizeStep applies categories learned from the household's history.
type CategorizeStep struct{ m *Manager }

func (s *CategorizeStep) Execute(ctx context.Context, state *IngestState) error {
	candidates, fromHistory, err := s.m.categorize(ctx, state.Run.House.ID, state.Candidates)
	if err != nil {
		return fmt.Errorf("CategorizeStep: %w", err)
	}
	state.Candidates = candidates
	state.CategorizedFromHistory = fromHistory
	return nil
}

// ReconcileStep splits candidates into fresh rows and possible duplicates
// against a snapshot of the card's stored transactions.
type ReconcileStep struct{ m *Manager }

func (s *ReconcileStep) Execute(ctx context.Context, state *IngestState) error {
	card := state.Run.Card
	existing, err := s.m.repo.ListCardTransactions(ctx, card.ID)
	if err != nil {
		return fmt.Errorf("ReconcileStep: %w", persistenceError("list card transactions", err))
	}

	state.Fresh, state.Duplicates = s.m.reconciler.Partition(card.ID, state.Candidates, existing)

	log := logger.FromContext(ctx)
	for _, d := range state.Duplicates {
		log.Debug().
			Str("description", d.Transaction.Description).
			Str("existing_id", d.ExistingMatch.ID).
			Float64("similarity", d.Similarity).
			Msg("Possible duplicate")
	}
	return nil
}

// BuildRowsStep assigns billing months and projects future installments.
type BuildRowsStep struct{ m *Manager }

func (s *BuildRowsStep) Execute(ctx context.Context, state *IngestState) error {
	state.Rows, state.Projected, state.Deferred = s.m.buildRows(state.Run.Upload, state.Run.Card, state.Fresh)
	return nil
}

// CommitStep inserts the rows and moves the upload out of processing in one write.
// An upload whose every candidate is a possible duplicate waits for review.
type CommitStep struct{ m *Manager }

func (s *CommitStep) Execute(ctx context.Context, state *IngestState) error {
	state.Status = domain.StatusCompleted
	if len(state.Fresh) == 0 && len(state.Duplicates) > 0 {
		state.Status = domain.StatusPendingReview
	}

	err := s.m.repo.CommitUpload(ctx, store.Commit{
		UploadID:   state.Run.Upload.ID,
		Rows:       state.Rows,
		Status:     state.Status,
		AddItems:   len(state.Fresh),
		ArchiveURI: state.Run.Upload.ArchiveURI,
		From:       []domain.UploadStatus{domain.StatusProcessing},
	})
	if err != nil {
		return fmt.Errorf("CommitStep: %w", persistenceError("commit upload", err))
	}
	return nil
}

// categorize resolves candidate categories from the house's labeled history.
func (m *Manager) categorize(ctx context.Context, houseID string, candidates []domain.Candidate) ([]domain.Candidate, int, error) {
	history, err := m.repo.ListCategorizedTransactions(ctx, houseID)
	if err != nil {
		return nil, 0, persistenceError("list categorized transactions", err)
	}
	out, fromHistory := categorize.Apply(categorize.BuildLookup(history), candidates)
	return out, fromHistory, nil
}
