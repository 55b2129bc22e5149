// Package reconciler ties the balance calculator, the statement matcher and
// the committer together over a store.
//
// A typical statement run:
//  1. MatchStatement routes statement rows to matched, needs-review and
//     can-create outcomes
//  2. BatchFromMatches seeds a Batch from the matched rows; the caller adds
//     reviewed rows and checks Status until the batch balances
//  3. Commit writes one STMT audit entry per item under a new batch id
//
// Example usage:
//
//	svc, err := reconciler.NewService(st, reconciler.DefaultConfig())
//	result, err := svc.MatchStatement(ctx, rows, mapping, statementDate)
//	batch, rejected, err := svc.BatchFromMatches(ctx, result, statementTotal)
//	if batch.CanCommit() {
//		committed, err := svc.Commit(ctx, batch)
//	}
package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"commission-reconciliation-service/internal/ledger"
	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// Config holds configuration options for the reconciliation service
type Config struct {
	// Matching thresholds and the balance key mode
	Matching *matcher.MatchingConfig

	// MaxIDAttempts bounds id regeneration on collisions
	MaxIDAttempts int

	// ProgressReporting logs progress while importing policies
	ProgressReporting bool
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Matching:          matcher.DefaultMatchingConfig(),
		MaxIDAttempts:     DefaultMaxIDAttempts,
		ProgressReporting: true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}
	if c.MaxIDAttempts <= 0 {
		return fmt.Errorf("max id attempts must be positive, got %d", c.MaxIDAttempts)
	}
	return nil
}

// Service is the entry point for statement reconciliation
type Service struct {
	store     store.Store
	config    *Config
	matcher   *matcher.Matcher
	committer *Committer
	ids       *models.IDGenerator
	logger    logger.Logger
}

// NewService creates a service over st
func NewService(st store.Store, config *Config) (*Service, error) {
	if st == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store", nil, fmt.Errorf("store is required"))
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}

	m := matcher.NewMatcher(config.Matching)
	committer := NewCommitter(st, m.Calculator())
	committer.maxIDAttempts = config.MaxIDAttempts

	return &Service{
		store:     st,
		config:    config,
		matcher:   m,
		committer: committer,
		ids:       models.NewIDGenerator(),
		logger:    logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// WithLogger replaces the logger of the service and its components
func (s *Service) WithLogger(log logger.Logger) *Service {
	s.logger = log.WithComponent("reconciler")
	s.matcher.WithLogger(log)
	s.committer.WithLogger(log)
	return s
}

// WithIDGenerator replaces the id source used for new rows
func (s *Service) WithIDGenerator(ids *models.IDGenerator) *Service {
	s.ids = ids
	s.committer.WithIDGenerator(ids)
	return s
}

// WithClock replaces the time source used for audit entries
func (s *Service) WithClock(now func() time.Time) *Service {
	s.committer.WithClock(now)
	return s
}

// Config returns the configuration in use
func (s *Service) Config() *Config {
	return s.config
}

// Committer returns the committer
func (s *Service) Committer() *Committer {
	return s.committer
}

func (s *Service) transactions(ctx context.Context, operation string) ([]*models.Transaction, error) {
	txns, err := s.store.ListTransactions(ctx)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, operation, nil, nil, err)
	}
	return txns, nil
}

// Balances computes the outstanding balance of every original
func (s *Service) Balances(ctx context.Context) (*ledger.Balances, error) {
	txns, err := s.transactions(ctx, "balances")
	if err != nil {
		return nil, err
	}
	return s.matcher.Calculator().Compute(txns), nil
}

// MatchStatement matches statement rows against current balances. Nothing
// is written.
func (s *Service) MatchStatement(ctx context.Context, rows []models.RawRow, mapping models.ColumnMapping, statementDate time.Time) (*matcher.MatchResult, error) {
	txns, err := s.transactions(ctx, "match")
	if err != nil {
		return nil, err
	}
	return s.matcher.Match(rows, mapping, txns, statementDate)
}

// NewBatch starts an empty batch against a fresh balance snapshot
func (s *Service) NewBatch(ctx context.Context, statementDate time.Time, statementTotal decimal.Decimal) (*Batch, error) {
	if statementDate.IsZero() {
		return nil, errors.ValidationError(errors.CodeMissingField, "statement_date", nil, nil)
	}
	if !statementTotal.IsPositive() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "statement_total", statementTotal.StringFixed(2), nil)
	}

	balances, err := s.Balances(ctx)
	if err != nil {
		return nil, err
	}
	return newBatch(balances, models.DateOnly(statementDate), statementTotal), nil
}

// RejectedRow is a matched row that could not be added to a batch
type RejectedRow struct {
	Row           int    `json:"row"`
	TransactionID string `json:"transaction_id"`
	Reason        error  `json:"-"`
}

// BatchFromMatches starts a batch seeded with every matched row of result.
// Rows the batch refuses, such as amounts above the outstanding balance,
// are returned instead of failing the whole batch.
func (s *Service) BatchFromMatches(ctx context.Context, result *matcher.MatchResult, statementTotal decimal.Decimal) (*Batch, []RejectedRow, error) {
	batch, err := s.NewBatch(ctx, result.StatementDate, statementTotal)
	if err != nil {
		return nil, nil, err
	}

	var rejected []RejectedRow
	for _, m := range result.Matched {
		id := m.Balance.Transaction.ID
		err := batch.Add(id, m.Row.AgentPaidAmount,
			WithAgencyAmount(m.Row.AgencyCommissionReceived),
			WithStatementRow(m.Row.Row),
			WithNotes(m.Row.Notes),
		)
		if err != nil {
			rejected = append(rejected, RejectedRow{Row: m.Row.Row, TransactionID: id, Reason: err})
		}
	}

	s.logger.WithFields(logger.Fields{
		"added":    batch.Len(),
		"rejected": len(rejected),
		"status":   batch.Status().String(),
	}).Debug("Batch seeded from matches")
	return batch, rejected, nil
}

// Commit writes the batch
func (s *Service) Commit(ctx context.Context, batch *Batch) (*CommitResult, error) {
	return s.committer.Commit(ctx, batch)
}

// Void reverses a committed batch
func (s *Service) Void(ctx context.Context, batchID, reason string) (*VoidResult, error) {
	return s.committer.Void(ctx, batchID, reason)
}

// Adjust records a manual adjustment against an original
func (s *Service) Adjust(ctx context.Context, originalID string, amount decimal.Decimal, reason string) (*AdjustResult, error) {
	return s.committer.Adjust(ctx, originalID, amount, reason)
}

// SaveMapping stores a named column mapping after validating it
func (s *Service) SaveMapping(ctx context.Context, name string, mapping models.ColumnMapping) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.ValidationError(errors.CodeMissingField, "mapping_name", nil, nil)
	}
	if err := mapping.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidMapping, "mapping", mapping.String(), err)
	}
	if err := s.store.SaveColumnMapping(ctx, name, mapping); err != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "save mapping", nil, nil, err)
	}
	s.logger.WithFields(logger.Fields{"mapping": name, "fields": len(mapping)}).Info("Column mapping saved")
	return nil
}

// Mapping loads a saved column mapping by name
func (s *Service) Mapping(ctx context.Context, name string) (models.ColumnMapping, error) {
	mapping, err := s.store.GetColumnMapping(ctx, strings.TrimSpace(name))
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.NotFoundError(errors.CodeMappingNotFound, name, err)
	}
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "load mapping", nil, nil, err)
	}
	return mapping, nil
}

// Mappings lists the names of saved column mappings
func (s *Service) Mappings(ctx context.Context) ([]string, error) {
	names, err := s.store.ListColumnMappings(ctx)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "list mappings", nil, nil, err)
	}
	return names, nil
}

// ImportResult reports a policy import
type ImportResult struct {
	Imported   []string             `json:"imported"`
	Duplicates []string             `json:"duplicates,omitempty"`
	Failed     []errors.ItemFailure `json:"failed,omitempty"`
}

// ImportPolicies stores original transactions. Rows without an id get a
// generated one; rows whose id already exists are reported as duplicates.
func (s *Service) ImportPolicies(ctx context.Context, txns []*models.Transaction) (*ImportResult, error) {
	result := &ImportResult{}

	var tracker *logger.ProgressTracker
	if s.config.ProgressReporting {
		tracker = logger.NewProgressTracker(logger.ProgressConfig{
			Operation: "policy import",
			Total:     int64(len(txns)),
			Logger:    s.logger,
		})
	}

	for _, txn := range txns {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !txn.IsOriginal() {
			return result, errors.ValidationError(errors.CodeNotOriginal, "transaction_id", txn.ID, nil)
		}
		if strings.TrimSpace(txn.ID) == "" {
			txn.ID = s.ids.TransactionID()
		}
		if txn.ReconciliationStatus == "" {
			txn.ReconciliationStatus = models.StatusUnreconciled
		}

		err := s.store.InsertTransaction(ctx, txn)
		switch {
		case err == nil:
			result.Imported = append(result.Imported, txn.ID)
		case stderrors.Is(err, store.ErrDuplicateID):
			result.Duplicates = append(result.Duplicates, txn.ID)
		default:
			result.Failed = append(result.Failed, errors.ItemFailure{TransactionID: txn.ID, Message: err.Error()})
		}

		if tracker != nil {
			if err != nil {
				tracker.Fail()
			} else {
				tracker.Increment()
			}
		}
	}

	if tracker != nil {
		tracker.Complete()
	}
	return result, nil
}

// BatchSummary describes one audit batch in the reconciliation history
type BatchSummary struct {
	BatchID        string          `json:"batch_id"`
	Kind           models.Kind     `json:"kind"`
	StatementDate  time.Time       `json:"statement_date"`
	Entries        int             `json:"entries"`
	AgentPaid      decimal.Decimal `json:"agent_paid"`
	AgencyReceived decimal.Decimal `json:"agency_received"`
	Voided         bool            `json:"voided"`
	VoidedBy       string          `json:"voided_by,omitempty"`
	VoidsBatchID   string          `json:"voids_batch_id,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// History groups audit entries by batch, newest statement date first. Zero
// from or to leave that side of the range open.
func (s *Service) History(ctx context.Context, from, to time.Time) ([]*BatchSummary, error) {
	txns, err := s.transactions(ctx, "history")
	if err != nil {
		return nil, err
	}

	voidedBy := make(map[string]string)
	for _, t := range txns {
		if t.Kind == models.KindVoid {
			voidedBy[t.VoidsBatchID] = t.BatchID
		}
	}

	from, to = models.DateOnly(from), models.DateOnly(to)
	byID := make(map[string]*BatchSummary)
	var summaries []*BatchSummary
	for _, t := range txns {
		if t.IsOriginal() || t.BatchID == "" {
			continue
		}
		if !from.IsZero() && t.StatementDate.Before(from) {
			continue
		}
		if !to.IsZero() && t.StatementDate.After(to) {
			continue
		}

		summary, ok := byID[t.BatchID]
		if !ok {
			summary = &BatchSummary{
				BatchID:       t.BatchID,
				Kind:          t.Kind,
				StatementDate: t.StatementDate,
				VoidsBatchID:  t.VoidsBatchID,
				CreatedAt:     t.CreatedAt,
			}
			if by, voided := voidedBy[t.BatchID]; voided {
				summary.Voided = true
				summary.VoidedBy = by
			}
			if t.Kind != models.KindStatement {
				summary.Notes = t.Notes
			}
			byID[t.BatchID] = summary
			summaries = append(summaries, summary)
		}
		summary.Entries++
		summary.AgentPaid = summary.AgentPaid.Add(t.AgentPaidAmount)
		summary.AgencyReceived = summary.AgencyReceived.Add(t.AgencyCommissionReceived)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].StatementDate.After(summaries[j].StatementDate)
	})
	return summaries, nil
}
