package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commission-reconciliation-service/internal/models"
)

var effective = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func createSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, createSQLiteStore(t)) })
}

func testOriginal(id, policy string) *models.Transaction {
	txn := models.NewOriginal(id, "Acme Inc", policy, effective, models.TypeNew)
	txn.PremiumSold = decimal.RequireFromString("1200.50")
	txn.CommissionPercent = decimal.RequireFromString("12.5")
	txn.AgentEstimatedCommission = decimal.RequireFromString("75.03")
	txn.CarrierName = "Citizens"
	txn.CreatedAt = time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	return txn
}

func testEntry(id, batchID string, kind models.Kind, ref *models.Transaction, amount string) *models.Transaction {
	return &models.Transaction{
		ID:                   id,
		Kind:                 kind,
		Customer:             ref.Customer,
		PolicyNumber:         ref.PolicyNumber,
		EffectiveDate:        ref.EffectiveDate,
		TransactionType:      models.TransactionType(kind.Marker()),
		AgentPaidAmount:      decimal.RequireFromString(amount),
		StatementDate:        time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		BatchID:              batchID,
		ReferenceID:          ref.ID,
		ReconciliationStatus: models.StatusReconciled,
		CreatedAt:            time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestInsertAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		original := testOriginal("ABC1234", "POL-1")
		require.NoError(t, s.InsertTransaction(ctx, original))

		got, err := s.GetTransaction(ctx, "ABC1234")
		require.NoError(t, err)
		assert.Equal(t, models.KindOriginal, got.Kind)
		assert.Equal(t, "Acme Inc", got.Customer)
		assert.True(t, got.PremiumSold.Equal(original.PremiumSold))
		assert.True(t, got.AgentEstimatedCommission.Equal(original.AgentEstimatedCommission))
		assert.True(t, got.EffectiveDate.Equal(effective))
		assert.True(t, got.StatementDate.IsZero())
		assert.Equal(t, models.StatusUnreconciled, got.ReconciliationStatus)
		assert.Nil(t, got.ReconciledAt)
		assert.True(t, got.CreatedAt.Equal(original.CreatedAt))
	})
}

func TestGetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetTransaction(context.Background(), "NOPE")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDuplicateID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertTransaction(ctx, testOriginal("ABC1234", "POL-1")))
		err := s.InsertTransaction(ctx, testOriginal("ABC1234", "POL-2"))
		assert.ErrorIs(t, err, ErrDuplicateID)
	})
}

func TestInsertRejectsInvalidRows(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		orphan := testEntry("XYZ9876-STMT-20240630", "B", models.KindStatement, testOriginal("A", "P"), "10")
		orphan.ReferenceID = ""
		assert.Error(t, s.InsertTransaction(ctx, orphan))

		txns, err := s.ListTransactions(ctx)
		require.NoError(t, err)
		assert.Empty(t, txns)
	})
}

func TestListKeepsInsertionOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"ZZZ1111", "AAA2222", "MMM3333"} {
			require.NoError(t, s.InsertTransaction(ctx, testOriginal(id, "POL-"+id)))
		}

		txns, err := s.ListTransactions(ctx)
		require.NoError(t, err)
		require.Len(t, txns, 3)
		assert.Equal(t, "ZZZ1111", txns[0].ID)
		assert.Equal(t, "AAA2222", txns[1].ID)
		assert.Equal(t, "MMM3333", txns[2].ID)
	})
}

func TestBatchQueries(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := testOriginal("AAA1111", "POL-1")
		b := testOriginal("BBB2222", "POL-2")
		require.NoError(t, s.InsertTransaction(ctx, a))
		require.NoError(t, s.InsertTransaction(ctx, b))

		batch := "QRS1234-STMT-20240630"
		require.NoError(t, s.InsertTransaction(ctx, testEntry("E1A2B3C-STMT-20240630", batch, models.KindStatement, a, "50")))
		require.NoError(t, s.InsertTransaction(ctx, testEntry("F4D5E6F-STMT-20240630", batch, models.KindStatement, b, "25.03")))

		void := testEntry("G7H8I9J-VOID-20240701", "VVV0001-VOID-20240701", models.KindVoid, a, "-50")
		void.VoidsBatchID = batch
		require.NoError(t, s.InsertTransaction(ctx, void))

		entries, err := s.ListByBatch(ctx, batch)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "AAA1111", entries[0].ReferenceID)
		assert.Equal(t, models.KindStatement, entries[1].Kind)
		assert.True(t, entries[1].AgentPaidAmount.Equal(decimal.RequireFromString("25.03")))

		voids, err := s.ListVoidsOf(ctx, batch)
		require.NoError(t, err)
		require.Len(t, voids, 1)
		assert.True(t, voids[0].AgentPaidAmount.IsNegative())

		none, err := s.ListVoidsOf(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestResetReconciliation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		at := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

		original := testOriginal("AAA1111", "POL-1")
		original.ReconciliationStatus = models.StatusReconciled
		original.ReconciledAt = &at
		original.BatchID = "QRS1234-STMT-20240630"
		require.NoError(t, s.InsertTransaction(ctx, original))

		entry := testEntry("E1A2B3C-STMT-20240630", "QRS1234-STMT-20240630", models.KindStatement, original, "50")
		require.NoError(t, s.InsertTransaction(ctx, entry))

		got, err := s.GetTransaction(ctx, "AAA1111")
		require.NoError(t, err)
		require.NotNil(t, got.ReconciledAt)
		assert.True(t, got.ReconciledAt.Equal(at))

		require.NoError(t, s.ResetReconciliation(ctx, []string{"AAA1111", "E1A2B3C-STMT-20240630", "missing"}))

		got, err = s.GetTransaction(ctx, "AAA1111")
		require.NoError(t, err)
		assert.Equal(t, models.StatusUnreconciled, got.ReconciliationStatus)
		assert.Nil(t, got.ReconciledAt)
		assert.Empty(t, got.BatchID)

		untouched, err := s.GetTransaction(ctx, "E1A2B3C-STMT-20240630")
		require.NoError(t, err)
		assert.Equal(t, models.StatusReconciled, untouched.ReconciliationStatus)
		assert.Equal(t, "QRS1234-STMT-20240630", untouched.BatchID)
	})
}

func TestColumnMappings(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mapping := models.ColumnMapping{
			models.FieldCustomer:        "Insured",
			models.FieldAgentPaidAmount: "Commission Paid",
		}

		require.NoError(t, s.SaveColumnMapping(ctx, "citizens", mapping))
		require.NoError(t, s.SaveColumnMapping(ctx, "allstate", mapping))

		mapping[models.FieldPolicyNumber] = "Policy #"
		require.NoError(t, s.SaveColumnMapping(ctx, "citizens", mapping))

		got, err := s.GetColumnMapping(ctx, "citizens")
		require.NoError(t, err)
		assert.Equal(t, "Policy #", got[models.FieldPolicyNumber])

		names, err := s.ListColumnMappings(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"allstate", "citizens"}, names)

		_, err = s.GetColumnMapping(ctx, "unknown")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.Error(t, s.SaveColumnMapping(ctx, " ", mapping))
		assert.Error(t, s.SaveColumnMapping(ctx, "bad", models.ColumnMapping{models.FieldCustomer: "Insured"}))
	})
}

func TestCanceledContext(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.ListTransactions(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSQLiteAtomicInsert(t *testing.T) {
	s := createSQLiteStore(t)
	ctx := context.Background()
	original := testOriginal("AAA1111", "POL-1")
	require.NoError(t, s.InsertTransaction(ctx, original))

	entries := []*models.Transaction{
		testEntry("E1A2B3C-STMT-20240630", "B1", models.KindStatement, original, "10"),
		testEntry("AAA1111", "B1", models.KindStatement, original, "20"),
	}
	err := s.InsertTransactions(ctx, entries)
	assert.ErrorIs(t, err, ErrDuplicateID)

	txns, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 1, "failed batch must not leave partial rows")
}

func TestSQLiteWithinTransactionRollback(t *testing.T) {
	s := createSQLiteStore(t)
	ctx := context.Background()
	original := testOriginal("AAA1111", "POL-1")
	require.NoError(t, s.InsertTransaction(ctx, original))

	err := s.WithinTransaction(ctx, func(tx Tx) error {
		txns, err := tx.ListTransactions(ctx)
		require.NoError(t, err)
		require.Len(t, txns, 1)

		if err := tx.InsertTransactions(ctx, []*models.Transaction{
			testEntry("E1A2B3C-STMT-20240630", "B1", models.KindStatement, original, "10"),
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	txns, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestSQLiteReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.InsertTransaction(ctx, testOriginal("AAA1111", "POL-1")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var version int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)

	txns, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
	assert.Equal(t, path, s.Path())
}

func TestSQLiteInMemory(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), MemoryDSN)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertTransaction(context.Background(), testOriginal("AAA1111", "POL-1")))
	txns, err := s.ListTransactions(context.Background())
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.InsertTransaction(ctx, testOriginal("AAA1111", "POL-1")))

	got, err := s.GetTransaction(ctx, "AAA1111")
	require.NoError(t, err)
	got.Customer = "changed"

	again, err := s.GetTransaction(ctx, "AAA1111")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", again.Customer)
}
