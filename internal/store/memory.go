package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"commission-reconciliation-service/internal/models"
)

// MemoryStore is a thread-safe in-memory Store. It keeps insertion order and
// does not implement AtomicWriter.
type MemoryStore struct {
	mu       sync.RWMutex
	order    []string
	txns     map[string]*models.Transaction
	mappings map[string]models.ColumnMapping
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txns:     make(map[string]*models.Transaction),
		mappings: make(map[string]models.ColumnMapping),
	}
}

// ListTransactions returns copies of every row in insertion order
func (s *MemoryStore) ListTransactions(ctx context.Context) ([]*models.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Transaction, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.txns[id].Clone())
	}
	return result, nil
}

// GetTransaction returns a copy of one row
func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.txns[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "transaction %s", id)
	}
	return txn.Clone(), nil
}

// InsertTransaction stores a copy of txn
func (s *MemoryStore) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := txn.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txns[txn.ID]; exists {
		return errors.Wrapf(ErrDuplicateID, "transaction %s", txn.ID)
	}
	s.txns[txn.ID] = txn.Clone()
	s.order = append(s.order, txn.ID)
	return nil
}

// ListByBatch returns the entries tagged with batchID
func (s *MemoryStore) ListByBatch(ctx context.Context, batchID string) ([]*models.Transaction, error) {
	return s.filter(ctx, func(t *models.Transaction) bool {
		return !t.IsOriginal() && t.BatchID == batchID
	})
}

// ListVoidsOf returns VOID entries referencing batchID
func (s *MemoryStore) ListVoidsOf(ctx context.Context, batchID string) ([]*models.Transaction, error) {
	return s.filter(ctx, func(t *models.Transaction) bool {
		return t.Kind == models.KindVoid && t.VoidsBatchID == batchID
	})
}

func (s *MemoryStore) filter(ctx context.Context, keep func(*models.Transaction) bool) ([]*models.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Transaction
	for _, id := range s.order {
		if t := s.txns[id]; keep(t) {
			result = append(result, t.Clone())
		}
	}
	return result, nil
}

// ResetReconciliation clears the reconciliation status of originals
func (s *MemoryStore) ResetReconciliation(ctx context.Context, ids []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if t, ok := s.txns[id]; ok && t.IsOriginal() {
			t.ReconciliationStatus = models.StatusUnreconciled
			t.ReconciledAt = nil
			t.BatchID = ""
		}
	}
	return nil
}

// SaveColumnMapping stores or replaces a named mapping
func (s *MemoryStore) SaveColumnMapping(ctx context.Context, name string, mapping models.ColumnMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("mapping name cannot be empty")
	}
	if err := mapping.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[name] = mapping.Clone()
	return nil
}

// GetColumnMapping returns a named mapping
func (s *MemoryStore) GetColumnMapping(ctx context.Context, name string) (models.ColumnMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	mapping, ok := s.mappings[strings.TrimSpace(name)]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "mapping %s", name)
	}
	return mapping.Clone(), nil
}

// ListColumnMappings returns saved mapping names sorted
func (s *MemoryStore) ListColumnMappings(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.mappings))
	for name := range s.mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
