// Package extraction turns invoice files into candidate transactions using an
// external text-understanding service.
package extraction

import (
	"context"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// Extractor converts file content of a given kind into candidate transactions.
// Failures wrap one of domain.ErrRateLimited, domain.ErrQuotaExceeded,
// domain.ErrUnavailable or domain.ErrMalformedResponse. An empty list is not an error.
type Extractor interface {
	Extract(ctx context.Context, content []byte, kind domain.FileKind) (*Result, error)
}

// Result is what one extraction call produced.
type Result struct {
	Candidates []domain.Candidate
	// Raw is the unmodified service response, kept for auditing.
	Raw          string
	Model        string
	TokensInput  int64
	TokensOutput int64
	// Skipped counts rows dropped because they were incomplete or invalid.
	Skipped int
}

// MockExtractor is a function-backed Extractor for tests.
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, content []byte, kind domain.FileKind) (*Result, error)
}

// Extract calls ExtractFunc.
func (m *MockExtractor) Extract(ctx context.Context, content []byte, kind domain.FileKind) (*Result, error) {
	return m.ExtractFunc(ctx, content, kind)
}
