package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
)

var testMapping = models.ColumnMapping{
	models.FieldCustomer:        "Insured",
	models.FieldPolicyNumber:    "Policy",
	models.FieldEffectiveDate:   "Eff",
	models.FieldAgentPaidAmount: "Paid",
}

func statementRow(n int, customer, number, eff, paid string) models.RawRow {
	return models.RawRow{Number: n, Values: map[string]string{
		"Insured": customer,
		"Policy":  number,
		"Eff":     eff,
		"Paid":    paid,
	}}
}

func TestNewService(t *testing.T) {
	_, err := NewService(nil, nil)
	assert.True(t, errors.HasCode(err, errors.CodeMissingConfig), "got %v", err)

	config := DefaultConfig()
	config.MaxIDAttempts = 0
	_, err = NewService(store.NewMemoryStore(), config)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfig), "got %v", err)

	config = DefaultConfig()
	config.Matching = nil
	_, err = NewService(store.NewMemoryStore(), config)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	svc, err := NewService(store.NewMemoryStore(), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIDAttempts, svc.Config().MaxIDAttempts)
	assert.NotNil(t, svc.Committer())
}

func TestImportPolicies(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		svc := newTestService(t, st, policy("P1", "Barboun LLC", "PN-1", "150.00"))
		svc.WithIDGenerator(sequenceIDs())

		blank := policy("", "Smith Bakery", "PN-2", "80.00")
		blank.ReconciliationStatus = ""
		result, err := svc.ImportPolicies(ctx, []*models.Transaction{
			policy("P1", "Barboun LLC", "PN-1", "150.00"),
			blank,
			policy("P3", "Zenith Marine", "PN-3", "25.00"),
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"P1"}, result.Duplicates)
		require.Len(t, result.Imported, 2)
		assert.Len(t, result.Imported[0], models.IDLength)
		assert.Equal(t, "P3", result.Imported[1])
		assert.Empty(t, result.Failed)

		stored, err := st.GetTransaction(ctx, result.Imported[0])
		require.NoError(t, err)
		assert.Equal(t, models.StatusUnreconciled, stored.ReconciliationStatus)
		assert.True(t, outstanding(t, svc, result.Imported[0]).Equal(dec("80")))
	})
}

func TestImportPoliciesRejectsAuditEntries(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	entry := policy("E1", "Barboun LLC", "PN-1", "0")
	entry.Kind = models.KindStatement

	_, err := svc.ImportPolicies(context.Background(), []*models.Transaction{entry})
	assert.True(t, errors.HasCode(err, errors.CodeNotOriginal), "got %v", err)
}

func TestNewBatchValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore())

	_, err := svc.NewBatch(ctx, time.Time{}, dec("10"))
	assert.True(t, errors.HasCode(err, errors.CodeMissingField))

	_, err = svc.NewBatch(ctx, statementDate, dec("0"))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidAmount))

	batch, err := svc.NewBatch(ctx, statementDate.Add(15*time.Hour), dec("10"))
	require.NoError(t, err)
	assert.Equal(t, statementDate, batch.StatementDate())
}

func TestBatchFromMatches(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore(),
		policy("P1", "Barboun LLC", "PN-1", "150.00"),
		policy("P2", "Smith Bakery", "PN-2", "150.00"),
		policy("P3", "Zenith Marine", "PN-3", "40.00"),
	)

	match, err := svc.MatchStatement(ctx, []models.RawRow{
		statementRow(2, "Barboun LLC", "PN-1", "01/15/2024", "150.00"),
		statementRow(3, "Smith Bakery", "PN-2", "01/15/2024", "160.00"),
		statementRow(4, "Zenith Marine", "PN-3", "01/15/2024", "40.00"),
	}, testMapping, statementDate)
	require.NoError(t, err)
	require.Len(t, match.Matched, 3)

	batch, rejected, err := svc.BatchFromMatches(ctx, match, dec("190"))
	require.NoError(t, err)

	require.Len(t, rejected, 1)
	assert.Equal(t, 3, rejected[0].Row)
	assert.Equal(t, "P2", rejected[0].TransactionID)
	assert.True(t, errors.HasCode(rejected[0].Reason, errors.CodeAmountExceedsBalance))

	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, BatchBalanced, batch.Status())
	assert.Equal(t, 2, batch.Items()[0].StatementRow)
}

func TestMappings(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		svc := newTestService(t, st)

		err := svc.SaveMapping(ctx, "acme", models.ColumnMapping{models.FieldCustomer: "Insured"})
		assert.True(t, errors.HasCode(err, errors.CodeInvalidMapping), "got %v", err)

		err = svc.SaveMapping(ctx, "  ", testMapping)
		assert.True(t, errors.HasCode(err, errors.CodeMissingField), "got %v", err)

		require.NoError(t, svc.SaveMapping(ctx, "acme", testMapping))
		require.NoError(t, svc.SaveMapping(ctx, "citizens", testMapping))

		got, err := svc.Mapping(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, testMapping, got)

		_, err = svc.Mapping(ctx, "unknown")
		assert.True(t, errors.HasCode(err, errors.CodeMappingNotFound), "got %v", err)

		names, err := svc.Mappings(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"acme", "citizens"}, names)
	})
}

func TestHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		svc := newTestService(t, st,
			policy("P1", "Barboun LLC", "PN-1", "150.00"),
			policy("P2", "Smith Bakery", "PN-2", "150.00"),
		)

		march := commitBatch(t, svc, "100", map[string]string{"P1": "100"})

		batch, err := svc.NewBatch(ctx, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), dec("150"))
		require.NoError(t, err)
		require.NoError(t, batch.Add("P2", dec("150")))
		february, err := svc.Commit(ctx, batch)
		require.NoError(t, err)

		voided, err := svc.Void(ctx, february.BatchID, "posted twice")
		require.NoError(t, err)

		history, err := svc.History(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, history, 3)

		// the void is dated when it was recorded, after both statements
		assert.Equal(t, voided.VoidBatchID, history[0].BatchID)
		assert.Equal(t, models.KindVoid, history[0].Kind)
		assert.Equal(t, february.BatchID, history[0].VoidsBatchID)
		assert.Equal(t, "posted twice", history[0].Notes)
		assert.True(t, history[0].AgentPaid.Equal(dec("-150")))

		assert.Equal(t, march.BatchID, history[1].BatchID)
		assert.False(t, history[1].Voided)
		assert.Equal(t, 1, history[1].Entries)

		assert.Equal(t, february.BatchID, history[2].BatchID)
		assert.True(t, history[2].Voided)
		assert.Equal(t, voided.VoidBatchID, history[2].VoidedBy)

		ranged, err := svc.History(ctx, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), statementDate)
		require.NoError(t, err)
		require.Len(t, ranged, 1)
		assert.Equal(t, march.BatchID, ranged[0].BatchID)
	})
}
