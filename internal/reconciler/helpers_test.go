package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"commission-reconciliation-service/internal/ledger"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/logger"
)

var (
	effective     = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	statementDate = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	fixedNow      = time.Date(2024, 4, 2, 9, 30, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func policy(id, customer, number, owed string) *models.Transaction {
	txn := models.NewOriginal(id, customer, number, effective, models.TypeNew)
	txn.AgentEstimatedCommission = dec(owed)
	txn.CreatedAt = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	return txn
}

func createSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, store.NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, createSQLiteStore(t)) })
}

func newTestService(t *testing.T, st store.Store, seed ...*models.Transaction) *Service {
	t.Helper()
	config := DefaultConfig()
	config.ProgressReporting = false
	svc, err := NewService(st, config)
	require.NoError(t, err)
	svc.WithLogger(logger.Discard()).WithClock(func() time.Time { return fixedNow })

	for _, txn := range seed {
		require.NoError(t, st.InsertTransaction(context.Background(), txn))
	}
	return svc
}

// sequenceIDs returns a generator whose n-th id differs from every other
// n-th id, restarting from zero for each generator
func sequenceIDs() *models.IDGenerator {
	next := 0
	return models.NewIDGeneratorWithEntropy(func() [16]byte {
		var b [16]byte
		b[0] = byte(next)
		b[3] = byte(next / 26)
		next++
		return b
	})
}

func outstanding(t *testing.T, svc *Service, id string) decimal.Decimal {
	t.Helper()
	balances, err := svc.Balances(context.Background())
	require.NoError(t, err)
	bal, ok := balances.Get(id)
	require.True(t, ok, "no balance for %s", id)
	return bal.Outstanding
}

func snapshot(txns ...*models.Transaction) *ledger.Balances {
	return ledger.NewCalculator(ledger.KeyPolicyAndDate).Compute(txns)
}
