package reporter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"commission-reconciliation-service/internal/ledger"
	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/parsers"
	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/pkg/errors"
)

// Tone marks summary values that deserve attention
type Tone int

const (
	ToneNormal Tone = iota
	ToneGood
	ToneWarn
)

// Field is one labelled summary value
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Tone  Tone   `json:"-"`
}

// Table is a titled grid of strings
type Table struct {
	Title   string     `json:"title"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// AddRow appends a row to the table
func (t *Table) AddRow(values ...string) {
	t.Rows = append(t.Rows, values)
}

// Document is the format-neutral form of a report
type Document struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	Summary  []Field  `json:"summary"`
	Tables   []*Table `json:"tables"`
	Notes    []string `json:"notes,omitempty"`

	// Payload is the result the document was built from
	Payload interface{} `json:"-"`
}

func (d *Document) field(label, value string) {
	d.Summary = append(d.Summary, Field{Label: label, Value: value})
}

func (d *Document) toned(label, value string, tone Tone) {
	d.Summary = append(d.Summary, Field{Label: label, Value: value, Tone: tone})
}

func (d *Document) table(title string, headers ...string) *Table {
	t := &Table{Title: title, Headers: headers}
	d.Tables = append(d.Tables, t)
	return t
}

// BalanceReport lists outstanding balances
type BalanceReport struct {
	Mode     string            `json:"key_mode"`
	Summary  ledger.Summary    `json:"summary"`
	Balances []*ledger.Balance `json:"balances"`
}

// NewBalanceReport snapshots balances; openOnly keeps reconcilable ones
func NewBalanceReport(balances *ledger.Balances, mode ledger.KeyMode, openOnly bool) *BalanceReport {
	report := &BalanceReport{Mode: mode.String(), Summary: balances.Summary()}
	if openOnly {
		report.Balances = balances.Reconcilable()
	} else {
		report.Balances = balances.All()
	}
	return report
}

// ImportReport describes a policy import
type ImportReport struct {
	Source string                   `json:"source"`
	Stats  *parsers.ParseStats      `json:"stats,omitempty"`
	Result *reconciler.ImportResult `json:"result"`
}

// HistoryReport lists committed batches
type HistoryReport struct {
	From    time.Time                  `json:"from,omitempty"`
	To      time.Time                  `json:"to,omitempty"`
	Batches []*reconciler.BatchSummary `json:"batches"`
}

// Build converts a supported result into a document
func (rg *ReportGenerator) Build(result interface{}) (*Document, error) {
	var doc *Document
	switch r := result.(type) {
	case *reconciler.StatementRunResult:
		if r == nil {
			break
		}
		doc = rg.runDocument(r)
	case *matcher.MatchResult:
		if r == nil {
			break
		}
		doc = rg.runDocument(&reconciler.StatementRunResult{Match: r})
		doc.Payload = r
	case *BalanceReport:
		if r == nil {
			break
		}
		doc = rg.balanceDocument(r)
	case *reconciler.CommitResult:
		if r == nil {
			break
		}
		doc = rg.commitDocument(r)
	case *reconciler.VoidResult:
		if r == nil {
			break
		}
		doc = rg.voidDocument(r)
	case *reconciler.AdjustResult:
		if r == nil {
			break
		}
		doc = rg.adjustDocument(r)
	case *ImportReport:
		if r == nil {
			break
		}
		doc = rg.importDocument(r)
	case *HistoryReport:
		if r == nil {
			break
		}
		doc = rg.historyDocument(r)
	default:
		if result == nil {
			break
		}
		return nil, errors.ValidationError(errors.CodeInvalidData, "result_type", fmt.Sprintf("%T", result), nil).
			WithSuggestion("report a statement run, balances, commit, void, adjustment, import or history")
	}

	if doc == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "result", nil, nil)
	}
	if doc.Payload == nil {
		doc.Payload = result
	}
	return doc, nil
}

func (rg *ReportGenerator) runDocument(r *reconciler.StatementRunResult) *Document {
	doc := &Document{Title: "Statement reconciliation", Subtitle: r.Source}
	if m := r.Match; m != nil {
		s := m.Summary
		if !m.StatementDate.IsZero() {
			doc.field("Statement date", formatDate(m.StatementDate))
		}
		doc.field("Rows", strconv.Itoa(s.TotalRows))
		doc.toned("Matched", fmt.Sprintf("%d (%.1f%%)", s.Matched, percentage(s.Matched, s.TotalRows)), ToneGood)
		doc.toned("Needs review", strconv.Itoa(s.NeedsReview), warnIf(s.NeedsReview > 0))
		doc.field("Can create", strconv.Itoa(s.CanCreate))
		doc.field("Skipped", strconv.Itoa(s.Skipped))
		doc.toned("Invalid", strconv.Itoa(s.Invalid), warnIf(s.Invalid > 0))
		doc.field("Statement amount", money(s.StatementAmount))
		doc.field("Matched amount", money(s.MatchedAmount))
	}

	if b := r.Batch; b != nil {
		doc.field("Statement total", money(b.Target))
		doc.field("Batch total", money(b.Total))
		tone := ToneWarn
		if b.Status == reconciler.BatchBalanced {
			tone = ToneGood
		}
		doc.toned("Batch status", fmt.Sprintf("%s (difference %s)", b.Status, money(b.Difference)), tone)
	}
	if c := r.Commit; c != nil {
		doc.toned("Committed batch", c.BatchID, ToneGood)
	}

	if m := r.Match; m != nil {
		if rg.config.IncludeMatched {
			t := doc.table("Matched", "Row", "Customer", "Policy", "Effective", "Paid", "Transaction", "Outstanding", "Match", "Confidence")
			for _, mr := range m.Matched {
				t.AddRow(strconv.Itoa(mr.Row.Row), mr.Row.Customer, mr.Row.PolicyNumber, formatDate(mr.Row.EffectiveDate),
					money(mr.Row.AgentPaidAmount), mr.Balance.Transaction.ID, money(mr.Balance.Outstanding),
					mr.MatchType, strconv.Itoa(mr.Confidence))
			}
		}

		t := doc.table("Needs review", "Row", "Customer", "Policy", "Paid", "Reason", "Candidates")
		for _, rr := range m.NeedsReview {
			t.AddRow(strconv.Itoa(rr.Row.Row), rr.Row.Customer, rr.Row.PolicyNumber, money(rr.Row.AgentPaidAmount),
				rr.Reason, describeCandidates(rr.Candidates))
		}

		t = doc.table("Can create", "Row", "Customer", "Policy", "Effective", "Paid", "Reason", "Suggested customer")
		for _, cr := range m.CanCreate {
			t.AddRow(strconv.Itoa(cr.Row.Row), cr.Row.Customer, cr.Row.PolicyNumber, formatDate(cr.Row.EffectiveDate),
				money(cr.Row.AgentPaidAmount), cr.Reason, cr.SuggestedCustomer)
		}

		if len(m.Invalid) > 0 {
			t = doc.table("Invalid rows", "Row", "Column", "Value", "Error")
			for _, e := range m.Invalid {
				row, column, value := "", "", ""
				if e.Location != nil {
					row, column, value = strconv.Itoa(e.Location.Row), e.Location.Column, e.Location.Value
				}
				t.AddRow(row, column, value, e.Message)
			}
		}

		if rg.config.IncludeSkipped && len(m.Skipped) > 0 {
			t = doc.table("Skipped", "Row", "Reason")
			for _, sr := range m.Skipped {
				t.AddRow(strconv.Itoa(sr.Row), sr.Reason)
			}
		}
	}

	if b := r.Batch; b != nil {
		t := doc.table("Batch", "Row", "Transaction", "Customer", "Policy", "Amount", "Agency amount", "Outstanding")
		for _, item := range b.Items {
			txn := item.Balance.Transaction
			t.AddRow(rowNumber(item.StatementRow), txn.ID, txn.Customer, txn.PolicyNumber,
				money(item.Amount), money(item.AgencyAmount), money(item.Balance.Outstanding))
		}
	}

	for _, rej := range r.Rejected {
		doc.Notes = append(doc.Notes, fmt.Sprintf("row %d (%s) left out of the batch: %s", rej.Row, rej.TransactionID, errorMessage(rej.Reason)))
	}
	if len(r.Rejected) == 0 {
		doc.Notes = append(doc.Notes, r.Warnings...)
	}
	return doc
}

func (rg *ReportGenerator) balanceDocument(r *BalanceReport) *Document {
	doc := &Document{Title: "Outstanding balances", Subtitle: "grouped by " + r.Mode}
	doc.field("Originals", strconv.Itoa(r.Summary.Originals))
	doc.toned("Open", strconv.Itoa(r.Summary.Reconcilable), warnIf(r.Summary.Reconcilable > 0))
	doc.field("Commission owed", money(r.Summary.Owed))
	doc.field("Paid", money(r.Summary.Paid))
	doc.field("Outstanding", money(r.Summary.Outstanding))

	balances := r.Balances
	if rg.config.OnlyOutstanding {
		balances = nil
		for _, b := range r.Balances {
			if b.IsReconcilable() {
				balances = append(balances, b)
			}
		}
	}

	t := doc.table("Balances", "Transaction", "Customer", "Policy", "Effective", "Owed", "Paid", "Outstanding", "Status")
	for _, b := range balances {
		txn := b.Transaction
		t.AddRow(txn.ID, txn.Customer, txn.PolicyNumber, formatDate(txn.EffectiveDate),
			money(b.Owed), money(b.Paid), money(b.Outstanding), string(txn.ReconciliationStatus))
	}
	return doc
}

func (rg *ReportGenerator) commitDocument(r *reconciler.CommitResult) *Document {
	doc := &Document{Title: "Batch committed", Subtitle: r.BatchID}
	doc.field("Statement date", formatDate(r.StatementDate))
	doc.field("Entries", strconv.Itoa(len(r.Entries)))
	doc.toned("Agent paid", money(r.Total), ToneGood)
	doc.field("Agency received", money(r.AgencyTotal))
	doc.field("Committed at", r.CommittedAt.Format(time.RFC3339))
	rg.entryTable(doc, r.Entries)
	return doc
}

func (rg *ReportGenerator) voidDocument(r *reconciler.VoidResult) *Document {
	doc := &Document{Title: "Batch voided", Subtitle: r.VoidedBatchID}
	doc.toned("Void batch", r.VoidBatchID, ToneWarn)
	doc.field("Reason", r.Reason)
	doc.field("Entries", strconv.Itoa(len(r.Entries)))
	doc.field("Reset originals", strings.Join(r.ResetOriginals, ", "))
	if len(r.StillReconciled) > 0 {
		doc.field("Still reconciled", strings.Join(r.StillReconciled, ", "))
	}
	doc.field("Voided at", r.VoidedAt.Format(time.RFC3339))
	rg.entryTable(doc, r.Entries)
	return doc
}

func (rg *ReportGenerator) adjustDocument(r *reconciler.AdjustResult) *Document {
	doc := &Document{Title: "Adjustment recorded", Subtitle: r.AdjustmentID}
	if e := r.Entry; e != nil {
		doc.field("Transaction", e.ReferenceID)
		doc.field("Customer", e.Customer)
		doc.field("Amount", money(e.AgentPaidAmount))
		doc.field("Reason", e.Notes)
	}
	doc.toned("Outstanding", money(r.Outstanding), warnIf(ledger.IsOutstanding(r.Outstanding)))
	return doc
}

func (rg *ReportGenerator) importDocument(r *ImportReport) *Document {
	doc := &Document{Title: "Policy import", Subtitle: r.Source}
	if r.Result != nil {
		doc.toned("Imported", strconv.Itoa(len(r.Result.Imported)), ToneGood)
		doc.toned("Duplicates", strconv.Itoa(len(r.Result.Duplicates)), warnIf(len(r.Result.Duplicates) > 0))
		doc.toned("Failed", strconv.Itoa(len(r.Result.Failed)), warnIf(len(r.Result.Failed) > 0))
	}
	if r.Stats != nil {
		doc.field("Rows read", strconv.Itoa(r.Stats.RecordsParsed))
		doc.toned("Row errors", fmt.Sprintf("%d (%.1f%%)", r.Stats.ErrorCount(), r.Stats.ErrorRate()), warnIf(r.Stats.ErrorCount() > 0))

		if len(r.Stats.Errors) > 0 {
			t := doc.table("Row errors", "Row", "Column", "Value", "Error")
			for _, e := range r.Stats.Errors {
				row, column, value := "", "", ""
				if e.Location != nil {
					row, column, value = strconv.Itoa(e.Location.Row), e.Location.Column, e.Location.Value
				}
				t.AddRow(row, column, value, e.Message)
			}
		}
	}
	if r.Result != nil {
		if len(r.Result.Duplicates) > 0 {
			t := doc.table("Duplicates", "Transaction")
			for _, id := range r.Result.Duplicates {
				t.AddRow(id)
			}
		}
		if len(r.Result.Failed) > 0 {
			t := doc.table("Failed", "Transaction", "Error")
			for _, f := range r.Result.Failed {
				t.AddRow(f.TransactionID, f.Message)
			}
		}
	}
	return doc
}

func (rg *ReportGenerator) historyDocument(r *HistoryReport) *Document {
	doc := &Document{Title: "Reconciliation history"}
	if !r.From.IsZero() || !r.To.IsZero() {
		doc.Subtitle = fmt.Sprintf("%s to %s", openDate(r.From), openDate(r.To))
	}

	active := 0
	paid := decimal.Zero
	for _, b := range r.Batches {
		if b.Kind == models.KindStatement && !b.Voided {
			active++
		}
		paid = paid.Add(b.AgentPaid)
	}
	doc.field("Batches", strconv.Itoa(len(r.Batches)))
	doc.field("Active statement batches", strconv.Itoa(active))
	doc.field("Net agent paid", money(paid))

	t := doc.table("Batches", "Batch", "Kind", "Statement date", "Entries", "Agent paid", "Agency received", "Status", "Notes")
	for _, b := range r.Batches {
		status := "active"
		switch {
		case b.Voided:
			status = "voided by " + b.VoidedBy
		case b.VoidsBatchID != "":
			status = "voids " + b.VoidsBatchID
		}
		t.AddRow(b.BatchID, b.Kind.String(), formatDate(b.StatementDate), strconv.Itoa(b.Entries),
			money(b.AgentPaid), money(b.AgencyReceived), status, b.Notes)
	}
	return doc
}

func (rg *ReportGenerator) entryTable(doc *Document, entries []*models.Transaction) {
	if !rg.config.IncludeEntries {
		return
	}
	sorted := append([]*models.Transaction(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ReferenceID < sorted[j].ReferenceID })

	t := doc.table("Entries", "Entry", "Transaction", "Customer", "Policy", "Agent paid", "Agency received")
	for _, e := range sorted {
		t.AddRow(e.ID, e.ReferenceID, e.Customer, e.PolicyNumber, money(e.AgentPaidAmount), money(e.AgencyCommissionReceived))
	}
}

func describeCandidates(candidates []matcher.ReviewCandidate) string {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids := make([]string, 0, len(c.Transactions))
		for _, b := range c.Transactions {
			ids = append(ids, fmt.Sprintf("%s %s", b.Transaction.ID, money(b.Outstanding)))
		}
		parts = append(parts, fmt.Sprintf("%s [%s %d]: %s", c.Customer, c.Match, c.Score, strings.Join(ids, ", ")))
	}
	return strings.Join(parts, "; ")
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return models.FormatDate(t)
}

func openDate(t time.Time) string {
	if t.IsZero() {
		return "any"
	}
	return models.FormatDate(t)
}

func rowNumber(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func warnIf(cond bool) Tone {
	if cond {
		return ToneWarn
	}
	return ToneNormal
}

func errorMessage(err error) string {
	if re, ok := errors.AsReconcilerError(err); ok {
		return re.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
