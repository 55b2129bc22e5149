package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/parsers"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// Selection assigns a statement row to an original transaction by hand,
// typically a needs-review row after the user picked a candidate
type Selection struct {
	Row           int    `json:"row"`
	TransactionID string `json:"transaction_id"`
}

// StatementRequest describes one statement run from file to commit
type StatementRequest struct {
	StatementFile string               `json:"statement_file"`
	Sheet         string               `json:"sheet,omitempty"`
	Mapping       models.ColumnMapping `json:"mapping,omitempty"`
	MappingName   string               `json:"mapping_name,omitempty"`
	StatementDate time.Time            `json:"statement_date"`

	// StatementTotal is the total printed on the statement. A zero total
	// skips batch building, which is what a plain match needs.
	StatementTotal decimal.Decimal `json:"statement_total"`

	Selections []Selection `json:"selections,omitempty"`

	// Commit writes the batch when it balances; otherwise the run is a dry run
	Commit bool `json:"commit"`
}

// StatementRunResult collects what each step of a run produced
type StatementRunResult struct {
	Source      string               `json:"source"`
	Mapping     models.ColumnMapping `json:"mapping"`
	Match       *matcher.MatchResult `json:"match"`
	Batch       *BatchReport         `json:"batch,omitempty"`
	Rejected    []RejectedRow        `json:"rejected,omitempty"`
	Commit      *CommitResult        `json:"commit,omitempty"`
	ElapsedTime time.Duration        `json:"elapsed_time"`
	Warnings    []string             `json:"warnings,omitempty"`
}

// BatchReport is a read-only view of a batch for reports
type BatchReport struct {
	StatementDate time.Time       `json:"statement_date"`
	Target        decimal.Decimal `json:"statement_total"`
	Total         decimal.Decimal `json:"batch_total"`
	Difference    decimal.Decimal `json:"difference"`
	Status        BatchStatus     `json:"status"`
	Items         []*BatchItem    `json:"items"`
}

// NewBatchReport snapshots a batch
func NewBatchReport(b *Batch) *BatchReport {
	return &BatchReport{
		StatementDate: b.StatementDate(),
		Target:        b.Target(),
		Total:         b.Total(),
		Difference:    b.Difference(),
		Status:        b.Status(),
		Items:         b.Items(),
	}
}

// RunProgress tracks the progress of a statement run
type RunProgress struct {
	TotalSteps         int           `json:"total_steps"`
	CompletedSteps     int           `json:"completed_steps"`
	CurrentStep        string        `json:"current_step"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// ProgressCallback is called to report run progress
type ProgressCallback func(*RunProgress)

const runSteps = 6

// StatementOrchestrator runs a statement through loading, matching, batch
// building and, when asked, commit.
//
// Example usage:
//
//	orchestrator, err := reconciler.NewStatementOrchestrator(svc)
//	orchestrator.AddProgressCallback(func(p *reconciler.RunProgress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.CurrentStep)
//	})
//	result, err := orchestrator.Run(ctx, &reconciler.StatementRequest{...})
type StatementOrchestrator struct {
	service *Service
	logger  logger.Logger

	progressCallbacks []ProgressCallback
	currentProgress   *RunProgress
	progressMutex     sync.Mutex
}

// NewStatementOrchestrator creates an orchestrator over service
func NewStatementOrchestrator(service *Service) (*StatementOrchestrator, error) {
	if service == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "service", nil, nil).
			WithSuggestion("provide a reconciliation service")
	}
	return &StatementOrchestrator{
		service:         service,
		logger:          service.logger.WithComponent("orchestrator"),
		currentProgress: &RunProgress{TotalSteps: runSteps},
	}, nil
}

// AddProgressCallback adds a progress callback function
func (so *StatementOrchestrator) AddProgressCallback(callback ProgressCallback) {
	so.progressCallbacks = append(so.progressCallbacks, callback)
}

// Run executes a statement request. Rejected matches and the batch status
// are reported in the result; a batch that does not balance is an error
// only when Commit is set.
func (so *StatementOrchestrator) Run(ctx context.Context, req *StatementRequest) (*StatementRunResult, error) {
	startTime := time.Now()
	so.initializeProgress(startTime)

	so.updateProgress("Validating request", 0, startTime)
	if err := so.validate(req); err != nil {
		return nil, err
	}

	result := &StatementRunResult{Source: req.StatementFile}
	defer func() {
		result.ElapsedTime = time.Since(startTime)
	}()

	so.updateProgress("Resolving column mapping", 1, startTime)
	mapping, err := so.resolveMapping(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Mapping = mapping

	so.updateProgress("Loading statement", 2, startTime)
	table, err := parsers.LoadStatement(ctx, req.StatementFile, parsers.StatementOptions{
		Mapping: mapping,
		Sheet:   req.Sheet,
	})
	if err != nil {
		return nil, err
	}

	so.updateProgress("Matching statement rows", 3, startTime)
	match, err := so.service.MatchStatement(ctx, table.Rows, mapping, req.StatementDate)
	if err != nil {
		return nil, err
	}
	result.Match = match

	if !req.StatementTotal.IsPositive() {
		so.updateProgress("Completed", runSteps, startTime)
		return result, nil
	}

	so.updateProgress("Building batch", 4, startTime)
	batch, rejected, err := so.service.BatchFromMatches(ctx, match, req.StatementTotal)
	if err != nil {
		return nil, err
	}
	result.Rejected = rejected
	for _, r := range rejected {
		result.Warnings = append(result.Warnings, fmt.Sprintf("row %d not added to batch: %v", r.Row, r.Reason))
	}
	if err := so.applySelections(batch, match, req.Selections); err != nil {
		return nil, err
	}
	result.Batch = NewBatchReport(batch)

	if !req.Commit {
		so.updateProgress("Completed", runSteps, startTime)
		so.logger.WithFields(logger.Fields{
			"status":     batch.Status().String(),
			"difference": batch.Difference().StringFixed(2),
		}).Info("Dry run finished")
		return result, nil
	}

	so.updateProgress("Committing batch", 5, startTime)
	committed, err := so.service.Commit(ctx, batch)
	if err != nil {
		return result, err
	}
	result.Commit = committed

	so.updateProgress("Completed", runSteps, startTime)
	return result, nil
}

func (so *StatementOrchestrator) validate(req *StatementRequest) error {
	if req == nil {
		return errors.ValidationError(errors.CodeMissingField, "request", nil, nil)
	}
	if req.StatementFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "statement_file", nil, nil)
	}
	if req.StatementDate.IsZero() {
		return errors.ValidationError(errors.CodeMissingField, "statement_date", nil, nil)
	}
	if req.Mapping == nil && req.MappingName == "" {
		return errors.ValidationError(errors.CodeMissingField, "mapping", nil, nil).
			WithSuggestion("pass a column mapping or the name of a saved one")
	}
	if req.StatementTotal.IsNegative() {
		return errors.ValidationError(errors.CodeInvalidAmount, "statement_total", req.StatementTotal.StringFixed(2), nil)
	}
	if req.Commit && !req.StatementTotal.IsPositive() {
		return errors.ValidationError(errors.CodeMissingField, "statement_total", nil, nil).
			WithSuggestion("a commit needs the statement total")
	}
	return nil
}

func (so *StatementOrchestrator) resolveMapping(ctx context.Context, req *StatementRequest) (models.ColumnMapping, error) {
	if req.Mapping != nil {
		return req.Mapping, nil
	}
	return so.service.Mapping(ctx, req.MappingName)
}

// applySelections adds hand-picked rows to the batch. A row that was
// auto-matched to a different transaction is moved. Picking a transaction
// another row already pays is a duplicate_entry error.
func (so *StatementOrchestrator) applySelections(batch *Batch, match *matcher.MatchResult, selections []Selection) error {
	for _, sel := range selections {
		row, ok := match.FindRow(sel.Row)
		if !ok {
			return errors.ValidationError(errors.CodeOutOfRange, "row", sel.Row, nil).
				WithSuggestion("select a row listed as matched, needs review or can create")
		}

		for _, item := range batch.Items() {
			if item.StatementRow == sel.Row && item.TransactionID() != sel.TransactionID {
				batch.Remove(item.TransactionID())
			}
		}
		if existing, ok := batch.Item(sel.TransactionID); ok {
			if existing.StatementRow == sel.Row {
				continue
			}
			return errors.ValidationError(errors.CodeDuplicateEntry, sel.TransactionID, sel.Row, nil).
				WithContext("batch_row", existing.StatementRow).
				WithSuggestion(fmt.Sprintf("transaction %s is already paid by row %d; pick another transaction for row %d",
					sel.TransactionID, existing.StatementRow, sel.Row))
		}

		err := batch.Add(sel.TransactionID, row.AgentPaidAmount,
			WithAgencyAmount(row.AgencyCommissionReceived),
			WithStatementRow(row.Row),
			WithNotes(row.Notes),
		)
		if err != nil {
			return err
		}
		so.logger.WithFields(logger.Fields{
			"row":            sel.Row,
			"transaction_id": sel.TransactionID,
		}).Debug("Applied selection")
	}
	return nil
}

func (so *StatementOrchestrator) initializeProgress(start time.Time) {
	so.progressMutex.Lock()
	defer so.progressMutex.Unlock()

	so.currentProgress = &RunProgress{TotalSteps: runSteps, StartTime: start}
}

func (so *StatementOrchestrator) updateProgress(step string, completed int, start time.Time) {
	so.progressMutex.Lock()
	defer so.progressMutex.Unlock()

	elapsed := time.Since(start)
	p := so.currentProgress
	p.CurrentStep = step
	p.CompletedSteps = completed
	p.ElapsedTime = elapsed
	p.PercentComplete = float64(completed) / float64(p.TotalSteps) * 100
	p.EstimatedRemaining = 0
	if completed > 0 && completed < p.TotalSteps {
		p.EstimatedRemaining = elapsed / time.Duration(completed) * time.Duration(p.TotalSteps-completed)
	}

	snapshot := *p
	for _, callback := range so.progressCallbacks {
		callback(&snapshot)
	}
}
