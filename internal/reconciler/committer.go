package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"commission-reconciliation-service/internal/ledger"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

var requestValidator = validator.New()

// DefaultMaxIDAttempts bounds retries when a generated id is already taken
const DefaultMaxIDAttempts = 10

// VoidRequest identifies a statement batch to reverse
type VoidRequest struct {
	BatchID string `validate:"required,max=64"`
	Reason  string `validate:"required,max=500"`
}

// AdjustRequest describes a manual correction against an original
type AdjustRequest struct {
	OriginalID string `validate:"required,max=64"`
	Amount     decimal.Decimal
	Reason     string `validate:"required,max=500"`
}

// CommitResult describes a committed statement batch
type CommitResult struct {
	BatchID       string                `json:"batch_id"`
	StatementDate time.Time             `json:"statement_date"`
	Entries       []*models.Transaction `json:"entries"`
	Total         decimal.Decimal       `json:"total"`
	AgencyTotal   decimal.Decimal       `json:"agency_total"`
	CommittedAt   time.Time             `json:"committed_at"`
}

// VoidResult describes a reversed batch
type VoidResult struct {
	VoidBatchID     string                `json:"void_batch_id"`
	VoidedBatchID   string                `json:"voided_batch_id"`
	Reason          string                `json:"reason"`
	Entries         []*models.Transaction `json:"entries"`
	ResetOriginals  []string              `json:"reset_originals"`
	StillReconciled []string              `json:"still_reconciled,omitempty"`
	VoidedAt        time.Time             `json:"voided_at"`
}

// AdjustResult describes a recorded adjustment
type AdjustResult struct {
	AdjustmentID string              `json:"adjustment_id"`
	Entry        *models.Transaction `json:"entry"`
	Outstanding  decimal.Decimal     `json:"outstanding"`
}

// Committer writes reconciliation audit entries. Entries are only ever
// inserted; committed rows are never edited.
type Committer struct {
	store         store.Store
	calculator    *ledger.Calculator
	ids           *models.IDGenerator
	now           func() time.Time
	logger        logger.Logger
	maxIDAttempts int
}

// NewCommitter creates a committer over st
func NewCommitter(st store.Store, calculator *ledger.Calculator) *Committer {
	return &Committer{
		store:         st,
		calculator:    calculator,
		ids:           models.NewIDGenerator(),
		now:           time.Now,
		logger:        logger.GetGlobalLogger().WithComponent("committer"),
		maxIDAttempts: DefaultMaxIDAttempts,
	}
}

// WithIDGenerator replaces the id source
func (c *Committer) WithIDGenerator(ids *models.IDGenerator) *Committer {
	c.ids = ids
	return c
}

// WithClock replaces the time source
func (c *Committer) WithClock(now func() time.Time) *Committer {
	c.now = now
	return c
}

// WithLogger replaces the committer's logger
func (c *Committer) WithLogger(log logger.Logger) *Committer {
	c.logger = log.WithComponent("committer")
	return c
}

// Commit writes one STMT entry per batch item under a fresh batch id.
//
// The ledger is re-read first and the commit is refused with stale_balance
// if any item's outstanding balance moved since the batch was built. On an
// AtomicWriter store the check and the inserts share one database
// transaction; otherwise entries are written one by one and a partial
// failure is reported with the entries that were and were not written.
func (c *Committer) Commit(ctx context.Context, batch *Batch) (*CommitResult, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	now := c.now()
	result := &CommitResult{
		StatementDate: models.DateOnly(batch.StatementDate()),
		Total:         batch.Total(),
		AgencyTotal:   batch.AgencyTotal(),
		CommittedAt:   now,
	}
	op := logger.NewOperationLogger("commit", c.logger).WithFields(logger.Fields{
		"items":          batch.Len(),
		"total":          result.Total.StringFixed(2),
		"statement_date": models.FormatDate(result.StatementDate),
	})

	entries, err := c.persist(ctx, "commit", func(existing []*models.Transaction) ([]*models.Transaction, error) {
		if err := c.checkBalances(batch, existing); err != nil {
			return nil, err
		}

		taken := takenIDs(existing)
		batchID, err := c.newID(models.KindStatement, result.StatementDate, taken)
		if err != nil {
			return nil, err
		}
		result.BatchID = batchID

		entries := make([]*models.Transaction, 0, batch.Len())
		for _, item := range batch.Items() {
			id, err := c.newID(models.KindStatement, result.StatementDate, taken)
			if err != nil {
				return nil, err
			}
			entries = append(entries, statementEntry(id, batchID, item, result.StatementDate, now))
		}
		return entries, nil
	})
	if err != nil {
		op.Error(err, "Commit failed")
		return nil, err
	}

	result.Entries = entries
	batch.Discard()
	op.WithFields(logger.Fields{"batch_id": result.BatchID}).Success("Batch committed")
	return result, nil
}

// Void reverses a committed statement batch by writing one negated VOID
// entry per STMT entry. The voided entries stay untouched. Originals are
// reset to unreconciled unless another batch that is not voided still
// covers them.
func (c *Committer) Void(ctx context.Context, batchID, reason string) (*VoidResult, error) {
	req := VoidRequest{BatchID: strings.TrimSpace(batchID), Reason: strings.TrimSpace(reason)}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	targets, err := c.statementEntries(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	voids, err := c.store.ListVoidsOf(ctx, req.BatchID)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "void", nil, nil, err)
	}
	if len(voids) > 0 {
		return nil, alreadyVoided(req.BatchID, voids[0].BatchID)
	}

	now := c.now()
	result := &VoidResult{VoidedBatchID: req.BatchID, Reason: req.Reason, VoidedAt: now}
	op := logger.NewOperationLogger("void", c.logger).WithFields(logger.Fields{
		"voided_batch_id": req.BatchID,
		"entries":         len(targets),
	})

	var ledgerAfter []*models.Transaction
	entries, err := c.persist(ctx, "void", func(existing []*models.Transaction) ([]*models.Transaction, error) {
		for _, t := range existing {
			if t.Kind == models.KindVoid && t.VoidsBatchID == req.BatchID {
				return nil, alreadyVoided(req.BatchID, t.BatchID)
			}
		}

		taken := takenIDs(existing)
		voidBatchID, err := c.newID(models.KindVoid, now, taken)
		if err != nil {
			return nil, err
		}
		result.VoidBatchID = voidBatchID

		entries := make([]*models.Transaction, 0, len(targets))
		for _, target := range targets {
			id, err := c.newID(models.KindVoid, now, taken)
			if err != nil {
				return nil, err
			}
			entries = append(entries, voidEntry(id, voidBatchID, target, req.Reason, now))
		}
		ledgerAfter = append(append([]*models.Transaction(nil), existing...), entries...)
		return entries, nil
	})
	if err != nil {
		op.Error(err, "Void failed")
		return nil, err
	}
	result.Entries = entries

	result.ResetOriginals, result.StillReconciled = originalsToReset(req.BatchID, targets, ledgerAfter)
	if err := c.store.ResetReconciliation(ctx, result.ResetOriginals); err != nil {
		op.Error(err, "Void written but status reset failed")
		return result, errors.PersistenceError(errors.CodeWriteFailed, "void status reset", nil, nil, err).
			WithContext("void_batch_id", result.VoidBatchID)
	}

	op.WithFields(logger.Fields{
		"void_batch_id": result.VoidBatchID,
		"reset":         len(result.ResetOriginals),
	}).Success("Batch voided")
	return result, nil
}

// Adjust records a free-standing ADJ entry against an original. A positive
// amount counts as paid and lowers the outstanding balance.
func (c *Committer) Adjust(ctx context.Context, originalID string, amount decimal.Decimal, reason string) (*AdjustResult, error) {
	req := AdjustRequest{OriginalID: strings.TrimSpace(originalID), Amount: amount, Reason: strings.TrimSpace(reason)}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Amount.IsZero() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "amount", req.Amount.String(), nil)
	}

	original, err := c.store.GetTransaction(ctx, req.OriginalID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.NotFoundError(errors.CodeTransactionNotFound, req.OriginalID, err)
	}
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "adjust", nil, nil, err)
	}
	if !original.IsOriginal() {
		return nil, errors.ValidationError(errors.CodeNotOriginal, "transaction_id", req.OriginalID, nil)
	}

	now := c.now()
	result := &AdjustResult{}
	entries, err := c.persist(ctx, "adjust", func(existing []*models.Transaction) ([]*models.Transaction, error) {
		id, err := c.newID(models.KindAdjustment, now, takenIDs(existing))
		if err != nil {
			return nil, err
		}
		entry := adjustmentEntry(id, original, req.Amount, req.Reason, now)

		after := c.calculator.Compute(append(append([]*models.Transaction(nil), existing...), entry))
		result.Outstanding = after.Outstanding(original.ID)
		return []*models.Transaction{entry}, nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("transaction_id", req.OriginalID).Error("Adjustment failed")
		return nil, err
	}

	result.Entry = entries[0]
	result.AdjustmentID = result.Entry.ID
	c.logger.WithFields(logger.Fields{
		"adjustment_id":  result.AdjustmentID,
		"transaction_id": original.ID,
		"amount":         req.Amount.StringFixed(2),
	}).Info("Adjustment recorded")
	return result, nil
}

// persist reads the current ledger, lets build derive the rows to insert
// from it and writes them. build may refuse with an error.
func (c *Committer) persist(ctx context.Context, operation string, build func([]*models.Transaction) ([]*models.Transaction, error)) ([]*models.Transaction, error) {
	if atomic, ok := c.store.(store.AtomicWriter); ok {
		var entries []*models.Transaction
		err := atomic.WithinTransaction(ctx, func(tx store.Tx) error {
			existing, err := tx.ListTransactions(ctx)
			if err != nil {
				return errors.PersistenceError(errors.CodeReadFailed, operation, nil, nil, err)
			}
			if entries, err = build(existing); err != nil {
				return err
			}
			if err := tx.InsertTransactions(ctx, entries); err != nil {
				return errors.PersistenceError(errors.CodeWriteFailed, operation, nil, failuresOf(entries, err), err)
			}
			return nil
		})
		if err != nil {
			return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, operation+" failed")
		}
		return entries, nil
	}

	existing, err := c.store.ListTransactions(ctx)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, operation, nil, nil, err)
	}
	entries, err := build(existing)
	if err != nil {
		return nil, err
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: operation,
		Total:     int64(len(entries)),
		Logger:    c.logger,
	})
	var succeeded []string
	var failed []errors.ItemFailure
	for _, entry := range entries {
		if err := c.store.InsertTransaction(ctx, entry); err != nil {
			failed = append(failed, errors.ItemFailure{EntryID: entry.ID, TransactionID: entry.ReferenceID, Message: err.Error()})
			tracker.Fail()
			continue
		}
		succeeded = append(succeeded, entry.ID)
		tracker.Increment()
	}
	tracker.Complete()

	if len(failed) > 0 {
		code := errors.CodePartialWrite
		if len(succeeded) == 0 {
			code = errors.CodeWriteFailed
		}
		return nil, errors.PersistenceError(code, operation, succeeded, failed, nil)
	}
	return entries, nil
}

// checkBalances refuses the batch when any item's outstanding balance in the
// current ledger differs from the batch snapshot
func (c *Committer) checkBalances(batch *Batch, existing []*models.Transaction) error {
	current := c.calculator.Compute(existing)

	var stale []string
	var detail string
	for _, item := range batch.Items() {
		id := item.TransactionID()
		now, ok := current.Get(id)
		if ok && now.Outstanding.Equal(item.Balance.Outstanding) {
			continue
		}
		if detail == "" {
			if ok {
				detail = fmt.Sprintf("was %s, now %s", item.Balance.Outstanding.StringFixed(2), now.Outstanding.StringFixed(2))
			} else {
				detail = "transaction no longer exists"
			}
		}
		stale = append(stale, id)
	}

	if len(stale) == 0 {
		return nil
	}
	return errors.ValidationError(errors.CodeStaleBalance, stale[0], detail, nil).
		WithContext("transactions", stale)
}

func (c *Committer) statementEntries(ctx context.Context, batchID string) ([]*models.Transaction, error) {
	entries, err := c.store.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "void", nil, nil, err)
	}

	var stmts []*models.Transaction
	for _, e := range entries {
		if e.Kind == models.KindStatement {
			stmts = append(stmts, e)
		}
	}
	if len(stmts) == 0 {
		return nil, errors.NotFoundError(errors.CodeBatchNotFound, batchID, nil)
	}
	return stmts, nil
}

// newID returns a reconciliation id not present in taken and records it
func (c *Committer) newID(kind models.Kind, date time.Time, taken map[string]bool) (string, error) {
	for attempt := 0; attempt < c.maxIDAttempts; attempt++ {
		id := c.ids.ReconciliationID(kind, date)
		if !taken[id] {
			taken[id] = true
			return id, nil
		}
	}
	return "", errors.InternalError(errors.CodeUnexpectedError, "id generation",
		fmt.Errorf("no free %s id after %d attempts", kind.Marker(), c.maxIDAttempts))
}

func takenIDs(existing []*models.Transaction) map[string]bool {
	taken := make(map[string]bool, len(existing))
	for _, t := range existing {
		taken[t.ID] = true
		if t.BatchID != "" {
			taken[t.BatchID] = true
		}
	}
	return taken
}

func statementEntry(id, batchID string, item *BatchItem, statementDate, now time.Time) *models.Transaction {
	original := item.Balance.Transaction
	reconciledAt := now
	return &models.Transaction{
		ID:                       id,
		Kind:                     models.KindStatement,
		Customer:                 original.Customer,
		PolicyNumber:             original.PolicyNumber,
		PolicyType:               original.PolicyType,
		CarrierName:              original.CarrierName,
		EffectiveDate:            original.EffectiveDate,
		TransactionType:          models.TypeStatement,
		AgentPaidAmount:          item.Amount,
		AgencyCommissionReceived: item.AgencyAmount,
		StatementDate:            statementDate,
		BatchID:                  batchID,
		ReferenceID:              original.ID,
		ReconciliationStatus:     models.StatusReconciled,
		ReconciledAt:             &reconciledAt,
		Notes:                    item.Notes,
		CreatedAt:                now,
	}
}

func voidEntry(id, voidBatchID string, target *models.Transaction, reason string, now time.Time) *models.Transaction {
	return &models.Transaction{
		ID:                       id,
		Kind:                     models.KindVoid,
		Customer:                 target.Customer,
		PolicyNumber:             target.PolicyNumber,
		PolicyType:               target.PolicyType,
		CarrierName:              target.CarrierName,
		EffectiveDate:            target.EffectiveDate,
		TransactionType:          models.TypeVoid,
		PremiumSold:              target.PremiumSold.Neg(),
		CommissionPercent:        target.CommissionPercent.Neg(),
		AgentPaidAmount:          target.AgentPaidAmount.Neg(),
		AgencyCommissionReceived: target.AgencyCommissionReceived.Neg(),
		StatementDate:            models.DateOnly(now),
		BatchID:                  voidBatchID,
		VoidsBatchID:             target.BatchID,
		ReferenceID:              target.ReferenceID,
		ReconciliationStatus:     models.StatusVoid,
		Notes:                    reason,
		CreatedAt:                now,
	}
}

func adjustmentEntry(id string, original *models.Transaction, amount decimal.Decimal, reason string, now time.Time) *models.Transaction {
	return &models.Transaction{
		ID:                   id,
		Kind:                 models.KindAdjustment,
		Customer:             original.Customer,
		PolicyNumber:         original.PolicyNumber,
		PolicyType:           original.PolicyType,
		CarrierName:          original.CarrierName,
		EffectiveDate:        original.EffectiveDate,
		TransactionType:      models.TypeAdjustment,
		AgentPaidAmount:      amount,
		StatementDate:        models.DateOnly(now),
		BatchID:              id,
		ReferenceID:          original.ID,
		ReconciliationStatus: models.StatusAdjusted,
		Notes:                reason,
		CreatedAt:            now,
	}
}

// originalsToReset splits the originals of a voided batch into those to mark
// unreconciled and those still covered by another batch that is not voided
func originalsToReset(voidedBatchID string, targets, ledgerAfter []*models.Transaction) (reset, kept []string) {
	voided := make(map[string]bool)
	for _, t := range ledgerAfter {
		if t.Kind == models.KindVoid {
			voided[t.VoidsBatchID] = true
		}
	}

	covered := make(map[string]bool)
	for _, t := range ledgerAfter {
		if t.Kind == models.KindStatement && t.BatchID != voidedBatchID && !voided[t.BatchID] {
			covered[t.ReferenceID] = true
		}
	}

	seen := make(map[string]bool)
	for _, t := range targets {
		if seen[t.ReferenceID] {
			continue
		}
		seen[t.ReferenceID] = true
		if covered[t.ReferenceID] {
			kept = append(kept, t.ReferenceID)
		} else {
			reset = append(reset, t.ReferenceID)
		}
	}
	return reset, kept
}

func failuresOf(entries []*models.Transaction, err error) []errors.ItemFailure {
	failed := make([]errors.ItemFailure, len(entries))
	for i, e := range entries {
		failed[i] = errors.ItemFailure{EntryID: e.ID, TransactionID: e.ReferenceID, Message: err.Error()}
	}
	return failed
}

func alreadyVoided(batchID, voidBatchID string) error {
	return errors.ValidationError(errors.CodeAlreadyVoided, "batch_id", batchID, nil).
		WithContext("void_batch_id", voidBatchID)
}

// validateRequest runs struct validation and reports the first failing field
func validateRequest(req interface{}) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.ValidationError(errors.CodeInvalidData, "request", nil, err)
	}

	fe := fieldErrs[0]
	code := errors.CodeOutOfRange
	if fe.Tag() == "required" {
		code = errors.CodeMissingField
	}
	return errors.ValidationError(code, toSnake(fe.Field()), fe.Value(), err)
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
