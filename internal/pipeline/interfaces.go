package pipeline

import (
	"context"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// Archive keeps a copy of the raw uploaded file.
// Store returns a URI identifying the stored object.
type Archive interface {
	Store(ctx context.Context, houseID, uploadID, filename string, kind domain.FileKind, content []byte) (string, error)
}

// MockArchive is a function-backed Archive for tests.
type MockArchive struct {
	StoreFunc func(ctx context.Context, houseID, uploadID, filename string, kind domain.FileKind, content []byte) (string, error)
}

// Store calls StoreFunc.
func (m *MockArchive) Store(ctx context.Context, houseID, uploadID, filename string, kind domain.FileKind, content []byte) (string, error) {
	return m.StoreFunc(ctx, houseID, uploadID, filename, kind, content)
}
