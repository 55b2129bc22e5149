package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/logger"
)

// MemoryDSN opens a private in-memory database
const MemoryDSN = ":memory:"

// SQLiteStore implements Store and AtomicWriter on a SQLite database
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

// NewSQLiteStore opens (creating if needed) and migrates the database at path
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path cannot be empty")
	}

	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// one connection keeps writes serialized and an in-memory database alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.GetGlobalLogger().WithComponent("store"),
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database location
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

const transactionColumns = `id, kind, customer, policy_number, policy_type, carrier_name,
	effective_date, origination_date, transaction_type, premium_sold, commission_percent,
	agency_estimated_commission, agent_estimated_commission, agent_paid_amount,
	agency_commission_received, statement_date, batch_id, voids_batch_id, reference_id,
	reconciliation_status, reconciled_at, notes, created_at`

// ListTransactions returns every row in insertion order
func (s *SQLiteStore) ListTransactions(ctx context.Context) ([]*models.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return queryTransactions(ctx, s.db, "ORDER BY seq")
}

// GetTransaction returns one row by id
func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	txns, err := queryTransactions(ctx, s.db, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "transaction %s", id)
	}
	return txns[0], nil
}

// ListByBatch returns the audit entries tagged with batchID
func (s *SQLiteStore) ListByBatch(ctx context.Context, batchID string) ([]*models.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return queryTransactions(ctx, s.db, "WHERE batch_id = ? AND kind != ? ORDER BY seq", batchID, models.KindOriginal.String())
}

// ListVoidsOf returns VOID entries referencing batchID
func (s *SQLiteStore) ListVoidsOf(ctx context.Context, batchID string) ([]*models.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return queryTransactions(ctx, s.db, "WHERE voids_batch_id = ? AND kind = ? ORDER BY seq", batchID, models.KindVoid.String())
}

// InsertTransaction inserts one row
func (s *SQLiteStore) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return insertTransactions(ctx, s.db, []*models.Transaction{txn})
}

// InsertTransactions inserts all rows in one database transaction
func (s *SQLiteStore) InsertTransactions(ctx context.Context, txns []*models.Transaction) error {
	return s.WithinTransaction(ctx, func(tx Tx) error {
		return tx.InsertTransactions(ctx, txns)
	})
}

// WithinTransaction runs fn inside one database transaction
func (s *SQLiteStore) WithinTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) ListTransactions(ctx context.Context) ([]*models.Transaction, error) {
	return queryTransactions(ctx, t.tx, "ORDER BY seq")
}

func (t *sqliteTx) InsertTransactions(ctx context.Context, txns []*models.Transaction) error {
	return insertTransactions(ctx, t.tx, txns)
}

// ResetReconciliation clears the reconciliation status of originals
func (s *SQLiteStore) ResetReconciliation(ctx context.Context, ids []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, string(models.StatusUnreconciled), models.KindOriginal.String())
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET reconciliation_status = ?, reconciled_at = NULL, batch_id = ''
		WHERE kind = ? AND id IN (`+placeholders+`)`, args...)
	return errors.Wrap(err, "failed to reset reconciliation status")
}

// SaveColumnMapping stores or replaces a named mapping
func (s *SQLiteStore) SaveColumnMapping(ctx context.Context, name string, mapping models.ColumnMapping) error {
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

	data, err := json.Marshal(mapping)
	if err != nil {
		return errors.Wrap(err, "failed to encode mapping")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO column_mappings (name, mapping, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET mapping = excluded.mapping, updated_at = excluded.updated_at`,
		name, string(data), time.Now().UTC().Format(time.RFC3339))
	return errors.Wrapf(err, "failed to save mapping %s", name)
}

// GetColumnMapping returns a named mapping
func (s *SQLiteStore) GetColumnMapping(ctx context.Context, name string) (models.ColumnMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT mapping FROM column_mappings WHERE name = ?`, strings.TrimSpace(name)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "mapping %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read mapping %s", name)
	}

	var mapping models.ColumnMapping
	if err := json.Unmarshal([]byte(data), &mapping); err != nil {
		return nil, errors.Wrapf(err, "failed to decode mapping %s", name)
	}
	return mapping, nil
}

// ListColumnMappings returns saved mapping names sorted
func (s *SQLiteStore) ListColumnMappings(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM column_mappings`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list mappings")
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "failed to scan mapping name")
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rows.Err()
}

func insertTransactions(ctx context.Context, q queryer, txns []*models.Transaction) error {
	stmt, err := q.PrepareContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare insert")
	}
	defer func() { _ = stmt.Close() }()

	for _, t := range txns {
		if err := t.Validate(); err != nil {
			return err
		}

		created := t.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		var reconciledAt interface{}
		if t.ReconciledAt != nil {
			reconciledAt = t.ReconciledAt.UTC().Format(time.RFC3339)
		}

		_, err := stmt.ExecContext(ctx,
			t.ID, t.Kind.String(), t.Customer, t.PolicyNumber, t.PolicyType, t.CarrierName,
			models.FormatDate(t.EffectiveDate), models.FormatDate(t.OriginationDate), string(t.TransactionType),
			t.PremiumSold.String(), t.CommissionPercent.String(),
			t.AgencyEstimatedCommission.String(), t.AgentEstimatedCommission.String(), t.AgentPaidAmount.String(),
			t.AgencyCommissionReceived.String(), models.FormatDate(t.StatementDate),
			t.BatchID, t.VoidsBatchID, t.ReferenceID,
			string(t.ReconciliationStatus), reconciledAt, t.Notes, created.UTC().Format(time.RFC3339),
		)
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrDuplicateID, "transaction %s", t.ID)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to insert transaction %s", t.ID)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func queryTransactions(ctx context.Context, q queryer, clause string, args ...interface{}) ([]*models.Transaction, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions `+clause, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transactions")
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, errors.Wrap(rows.Err(), "failed to iterate transactions")
}

func scanTransaction(rows *sql.Rows) (*models.Transaction, error) {
	var (
		t                                     models.Transaction
		kind, txType, status, createdAt       string
		effective, origination, statement     string
		premium, percent, agencyEst, agentEst string
		agentPaid, agencyReceived             string
		reconciledAt                          sql.NullString
	)

	err := rows.Scan(
		&t.ID, &kind, &t.Customer, &t.PolicyNumber, &t.PolicyType, &t.CarrierName,
		&effective, &origination, &txType, &premium, &percent,
		&agencyEst, &agentEst, &agentPaid, &agencyReceived, &statement,
		&t.BatchID, &t.VoidsBatchID, &t.ReferenceID, &status, &reconciledAt, &t.Notes, &createdAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan transaction")
	}

	if t.Kind, err = models.ParseKind(kind); err != nil {
		return nil, errors.Wrapf(err, "transaction %s", t.ID)
	}
	t.TransactionType = models.TransactionType(txType)
	t.ReconciliationStatus = models.ReconciliationStatus(status)

	dates := []struct {
		value  string
		target *time.Time
	}{
		{effective, &t.EffectiveDate},
		{origination, &t.OriginationDate},
		{statement, &t.StatementDate},
	}
	for _, d := range dates {
		if *d.target, err = models.ParseOptionalDate(d.value); err != nil {
			return nil, errors.Wrapf(err, "transaction %s", t.ID)
		}
	}

	amounts := []struct {
		value  string
		target *decimal.Decimal
	}{
		{premium, &t.PremiumSold},
		{percent, &t.CommissionPercent},
		{agencyEst, &t.AgencyEstimatedCommission},
		{agentEst, &t.AgentEstimatedCommission},
		{agentPaid, &t.AgentPaidAmount},
		{agencyReceived, &t.AgencyCommissionReceived},
	}
	for _, a := range amounts {
		if *a.target, err = decimal.NewFromString(a.value); err != nil {
			return nil, errors.Wrapf(err, "transaction %s: invalid amount %q", t.ID, a.value)
		}
	}

	if reconciledAt.Valid {
		at, err := time.Parse(time.RFC3339, reconciledAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "transaction %s: invalid reconciled_at", t.ID)
		}
		t.ReconciledAt = &at
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "transaction %s: invalid created_at", t.ID)
	}
	return &t, nil
}
