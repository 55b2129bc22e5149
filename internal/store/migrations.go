package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"commission-reconciliation-service/pkg/logger"
)

// SchemaVersion is the schema version this build expects
const SchemaVersion = 2

// Migration is one schema step recorded in PRAGMA user_version
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Transactions ledger",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS transactions (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT NOT NULL UNIQUE,
					kind TEXT NOT NULL,
					customer TEXT NOT NULL DEFAULT '',
					policy_number TEXT NOT NULL DEFAULT '',
					policy_type TEXT NOT NULL DEFAULT '',
					carrier_name TEXT NOT NULL DEFAULT '',
					effective_date TEXT NOT NULL DEFAULT '',
					origination_date TEXT NOT NULL DEFAULT '',
					transaction_type TEXT NOT NULL DEFAULT '',
					premium_sold TEXT NOT NULL DEFAULT '0',
					commission_percent TEXT NOT NULL DEFAULT '0',
					agency_estimated_commission TEXT NOT NULL DEFAULT '0',
					agent_estimated_commission TEXT NOT NULL DEFAULT '0',
					agent_paid_amount TEXT NOT NULL DEFAULT '0',
					agency_commission_received TEXT NOT NULL DEFAULT '0',
					statement_date TEXT NOT NULL DEFAULT '',
					batch_id TEXT NOT NULL DEFAULT '',
					voids_batch_id TEXT NOT NULL DEFAULT '',
					reference_id TEXT NOT NULL DEFAULT '',
					reconciliation_status TEXT NOT NULL DEFAULT 'unreconciled',
					reconciled_at TEXT,
					notes TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_batch ON transactions(batch_id)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_voids ON transactions(voids_batch_id)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_policy ON transactions(policy_number, effective_date)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Saved statement column mappings",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS column_mappings (
					name TEXT PRIMARY KEY,
					mapping TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return errors.Wrapf(err, "failed to execute query '%s'", query)
		}
	}
	return nil
}

// Migrate applies pending migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return errors.Wrap(err, "failed to get schema version")
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin migration")
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "migration %d failed", m.Version)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "failed to update schema version")
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration %d", m.Version)
		}

		s.logger.WithFields(logger.Fields{
			"version":     m.Version,
			"description": m.Description,
		}).Info("Applied migration")
	}

	var final int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&final); err != nil {
		return errors.Wrap(err, "failed to verify schema version")
	}
	if final != SchemaVersion {
		return errors.Errorf("database schema version mismatch: expected %d, got %d", SchemaVersion, final)
	}
	return nil
}
