// Package store persists policy transactions, reconciliation audit entries
// and saved statement column mappings.
//
// Audit entries are append-only: a store never updates the financial fields
// of a row once inserted. The only mutation it supports is resetting the
// reconciliation status fields of originals when a batch is voided.
package store

import (
	"context"

	"github.com/pkg/errors"

	"commission-reconciliation-service/internal/models"
)

var (
	// ErrNotFound is returned when a transaction or mapping does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when inserting a transaction whose id is taken
	ErrDuplicateID = errors.New("duplicate transaction id")
)

// Reader reads transactions
type Reader interface {
	ListTransactions(ctx context.Context) ([]*models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
}

// Store is the persistence contract used by the reconciler
type Store interface {
	Reader

	InsertTransaction(ctx context.Context, txn *models.Transaction) error

	// ListByBatch returns the entries tagged with batchID in insertion order
	ListByBatch(ctx context.Context, batchID string) ([]*models.Transaction, error)

	// ListVoidsOf returns VOID entries that reference batchID
	ListVoidsOf(ctx context.Context, batchID string) ([]*models.Transaction, error)

	// ResetReconciliation marks originals unreconciled and clears their
	// batch linkage. Ids that are not originals are ignored.
	ResetReconciliation(ctx context.Context, ids []string) error

	SaveColumnMapping(ctx context.Context, name string, mapping models.ColumnMapping) error
	GetColumnMapping(ctx context.Context, name string) (models.ColumnMapping, error)
	ListColumnMappings(ctx context.Context) ([]string, error)

	Close() error
}

// Tx is the view of a store inside an atomic unit of work
type Tx interface {
	ListTransactions(ctx context.Context) ([]*models.Transaction, error)
	InsertTransactions(ctx context.Context, txns []*models.Transaction) error
}

// AtomicWriter is implemented by stores that can write several rows as one
// unit. Stores without it are written row by row.
type AtomicWriter interface {
	// InsertTransactions inserts every row or none
	InsertTransactions(ctx context.Context, txns []*models.Transaction) error

	// WithinTransaction runs fn in one database transaction, committing
	// when fn returns nil and rolling back otherwise
	WithinTransaction(ctx context.Context, fn func(tx Tx) error) error
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}
	return ctx.Err()
}
