// Package memory is an in-memory implementation of store.Repository.
// It is safe for concurrent use. Data is lost on restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/store"
)

// Store keeps houses, cards, uploads and transactions in maps guarded by one lock,
// so every CommitUpload and UndoUpload is atomic.
type Store struct {
	mu           sync.RWMutex
	houses       map[string]domain.House
	cards        map[string]domain.Card
	uploads      map[string]domain.Upload
	transactions map[string]domain.Transaction
	outputs      map[string][]domain.ModelOutput

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		houses:       make(map[string]domain.House),
		cards:        make(map[string]domain.Card),
		uploads:      make(map[string]domain.Upload),
		transactions: make(map[string]domain.Transaction),
		outputs:      make(map[string][]domain.ModelOutput),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Seed is the JSON layout accepted by LoadSeedFile.
type Seed struct {
	Houses       []domain.House       `json:"houses"`
	Cards        []domain.Card        `json:"cards"`
	Transactions []domain.Transaction `json:"transactions"`
}

// LoadSeedFile reads houses, cards and transactions from a JSON file.
func (s *Store) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("LoadSeedFile: read %s: %w", path, err)
	}

	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("LoadSeedFile: decode %s: %w", path, err)
	}

	for _, h := range seed.Houses {
		s.AddHouse(h)
	}
	for _, c := range seed.Cards {
		s.AddCard(c)
	}
	s.AddTransactions(seed.Transactions...)
	return nil
}

// AddHouse stores or replaces a house.
func (s *Store) AddHouse(h domain.House) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.houses[h.ID] = h
}

// AddCard stores or replaces a card.
func (s *Store) AddCard(c domain.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.ID] = c
}

// AddTransactions stores rows directly, bypassing any upload.
func (s *Store) AddTransactions(rows ...domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range rows {
		s.transactions[tx.ID] = tx
	}
}

func (s *Store) GetHouse(ctx context.Context, houseID string) (*domain.House, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.houses[houseID]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "house", ID: houseID}
	}
	return &h, nil
}

func (s *Store) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[cardID]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "card", ID: cardID}
	}
	return &c, nil
}

func (s *Store) CreateUpload(ctx context.Context, upload *domain.Upload) error {
	if upload.ID == "" {
		return fmt.Errorf("CreateUpload: upload ID is required")
	}
	if upload.Status != domain.StatusProcessing {
		return fmt.Errorf("CreateUpload: new uploads must be %s, got %s", domain.StatusProcessing, upload.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.uploads[upload.ID]; exists {
		return fmt.Errorf("CreateUpload: upload %s already exists", upload.ID)
	}
	s.uploads[upload.ID] = *upload
	return nil
}

func (s *Store) GetUpload(ctx context.Context, uploadID string) (*domain.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.uploads[uploadID]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "upload", ID: uploadID}
	}
	return &u, nil
}

func (s *Store) ListUploads(ctx context.Context, houseID string) ([]*domain.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Upload
	for _, u := range s.uploads {
		if u.HouseID != houseID {
			continue
		}
		upload := u
		result = append(result, &upload)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) MarkUploadFailed(ctx context.Context, uploadID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[uploadID]
	if !ok {
		return &domain.NotFoundError{Entity: "upload", ID: uploadID}
	}
	if u.Status != domain.StatusProcessing {
		return nil
	}

	u.Status = domain.StatusError
	u.ErrorMessage = message
	u.UpdatedAt = s.now()
	s.uploads[uploadID] = u
	return nil
}

func (s *Store) CommitUpload(ctx context.Context, commit store.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[commit.UploadID]
	if !ok {
		return &domain.NotFoundError{Entity: "upload", ID: commit.UploadID}
	}
	if !commit.Allows(u.Status) {
		return &domain.StateError{UploadID: u.ID, Status: u.Status, Action: "commit"}
	}

	for _, tx := range commit.Rows {
		if _, exists := s.transactions[tx.ID]; exists {
			return &domain.PersistenceError{Op: "insert transactions", Err: fmt.Errorf("duplicate transaction id %s", tx.ID)}
		}
	}
	for _, tx := range commit.Rows {
		s.transactions[tx.ID] = tx
	}

	u.Status = commit.Status
	u.ItemsCount += commit.AddItems
	if commit.ArchiveURI != "" {
		u.ArchiveURI = commit.ArchiveURI
	}
	u.UpdatedAt = s.now()
	s.uploads[u.ID] = u
	return nil
}

func (s *Store) UndoUpload(ctx context.Context, uploadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[uploadID]
	if !ok {
		return 0, &domain.NotFoundError{Entity: "upload", ID: uploadID}
	}
	if !u.Status.CanTransition(domain.StatusUndone) {
		return 0, &domain.StateError{UploadID: u.ID, Status: u.Status, Action: "undo"}
	}

	deleted := 0
	for id, tx := range s.transactions {
		if tx.UploadID == uploadID {
			delete(s.transactions, id)
			deleted++
		}
	}

	u.Status = domain.StatusUndone
	u.UpdatedAt = s.now()
	s.uploads[uploadID] = u
	return deleted, nil
}

func (s *Store) SaveModelOutput(ctx context.Context, output *domain.ModelOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uploads[output.UploadID]; !ok {
		return &domain.NotFoundError{Entity: "upload", ID: output.UploadID}
	}
	s.outputs[output.UploadID] = append(s.outputs[output.UploadID], *output)
	return nil
}

// ModelOutputs returns the stored extractor responses of an upload.
func (s *Store) ModelOutputs(uploadID string) []domain.ModelOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ModelOutput(nil), s.outputs[uploadID]...)
}

func (s *Store) ListCardTransactions(ctx context.Context, cardID string) ([]domain.Transaction, error) {
	return s.filter(func(tx domain.Transaction) bool { return tx.CardID == cardID }), nil
}

func (s *Store) ListCategorizedTransactions(ctx context.Context, houseID string) ([]domain.Transaction, error) {
	return s.filter(func(tx domain.Transaction) bool {
		return tx.HouseID == houseID && tx.Category != "" && tx.Category != domain.Unclassified
	}), nil
}

func (s *Store) ListHouseTransactions(ctx context.Context, houseID string) ([]domain.Transaction, error) {
	return s.filter(func(tx domain.Transaction) bool { return tx.HouseID == houseID }), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// filter returns matching rows ordered by date, then id.
func (s *Store) filter(keep func(domain.Transaction) bool) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Transaction{}
	for _, tx := range s.transactions {
		if keep(tx) {
			result = append(result, tx)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Ensure Store implements the Repository interface.
var _ store.Repository = (*Store)(nil)
