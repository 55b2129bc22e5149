package reconciler

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"commission-reconciliation-service/internal/ledger"
	"commission-reconciliation-service/pkg/errors"
)

// BatchStatus describes how a batch total compares with the statement total
type BatchStatus int

const (
	BatchEmpty BatchStatus = iota
	BatchUnder
	BatchOver
	BatchBalanced
)

// String returns a string representation of the status
func (s BatchStatus) String() string {
	switch s {
	case BatchEmpty:
		return "empty"
	case BatchUnder:
		return "under"
	case BatchOver:
		return "over"
	case BatchBalanced:
		return "balanced"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s BatchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BatchItem is one original transaction selected for reconciliation
type BatchItem struct {
	Balance      *ledger.Balance `json:"balance"`
	Amount       decimal.Decimal `json:"amount"`
	AgencyAmount decimal.Decimal `json:"agency_amount"`
	StatementRow int             `json:"statement_row,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

// TransactionID returns the id of the original the item reconciles
func (bi *BatchItem) TransactionID() string {
	return bi.Balance.Transaction.ID
}

// ItemOption sets optional fields on a batch item
type ItemOption func(*BatchItem)

// WithAgencyAmount records the agency commission received for the item
func WithAgencyAmount(amount decimal.Decimal) ItemOption {
	return func(bi *BatchItem) { bi.AgencyAmount = amount }
}

// WithStatementRow records the statement row the item came from
func WithStatementRow(row int) ItemOption {
	return func(bi *BatchItem) { bi.StatementRow = row }
}

// WithNotes attaches a note copied to the audit entry
func WithNotes(notes string) ItemOption {
	return func(bi *BatchItem) { bi.Notes = notes }
}

// Batch is an in-progress selection of transactions to reconcile against a
// statement total. It is built against a fixed balance snapshot; Commit
// rejects it if those balances changed before it is written.
type Batch struct {
	snapshot      *ledger.Balances
	statementDate time.Time
	target        decimal.Decimal
	items         []*BatchItem
	index         map[string]int
	discarded     bool
}

func newBatch(snapshot *ledger.Balances, statementDate time.Time, target decimal.Decimal) *Batch {
	return &Batch{
		snapshot:      snapshot,
		statementDate: statementDate,
		target:        target,
		index:         make(map[string]int),
	}
}

// Add selects an original transaction with the amount to reconcile
func (b *Batch) Add(transactionID string, amount decimal.Decimal, opts ...ItemOption) error {
	if b.discarded {
		return errors.ValidationError(errors.CodeBatchDiscarded, "batch", nil, nil)
	}
	if !amount.IsPositive() {
		return errors.ValidationError(errors.CodeInvalidAmount, "amount", amount.StringFixed(2), nil)
	}
	if _, exists := b.index[transactionID]; exists {
		return errors.ValidationError(errors.CodeDuplicateEntry, transactionID, nil, nil)
	}

	bal, ok := b.snapshot.Get(transactionID)
	if !ok {
		return errors.NotFoundError(errors.CodeTransactionNotFound, transactionID, nil)
	}
	if remaining := b.remaining(bal); amount.GreaterThan(remaining) {
		return errors.ValidationError(errors.CodeAmountExceedsBalance, transactionID,
			fmt.Sprintf("%s > %s", amount.StringFixed(2), remaining.StringFixed(2)), nil)
	}

	item := &BatchItem{Balance: bal, Amount: amount}
	for _, opt := range opts {
		opt(item)
	}

	b.index[transactionID] = len(b.items)
	b.items = append(b.items, item)
	return nil
}

// remaining returns how much more the batch can pay toward bal. Items on
// the same balance key are paid to every original under that key, so the
// limit is the smallest outstanding among them less what they already take.
func (b *Batch) remaining(bal *ledger.Balance) decimal.Decimal {
	key, keyed := b.snapshot.KeyOf(bal.Transaction)
	if !keyed {
		return bal.Outstanding
	}

	limit := bal.Outstanding
	taken := decimal.Zero
	for _, item := range b.items {
		if k, ok := b.snapshot.KeyOf(item.Balance.Transaction); !ok || k != key {
			continue
		}
		taken = taken.Add(item.Amount)
		limit = decimal.Min(limit, item.Balance.Outstanding)
	}
	return limit.Sub(taken)
}

// Remove drops a transaction from the batch and reports whether it was present
func (b *Batch) Remove(transactionID string) bool {
	i, ok := b.index[transactionID]
	if !ok || b.discarded {
		return false
	}

	b.items = append(b.items[:i], b.items[i+1:]...)
	delete(b.index, transactionID)
	for j := i; j < len(b.items); j++ {
		b.index[b.items[j].TransactionID()] = j
	}
	return true
}

// Item returns the batch item for an original transaction
func (b *Batch) Item(transactionID string) (*BatchItem, bool) {
	i, ok := b.index[transactionID]
	if !ok {
		return nil, false
	}
	return b.items[i], true
}

// Items returns the selected items in the order they were added
func (b *Batch) Items() []*BatchItem {
	items := make([]*BatchItem, len(b.items))
	copy(items, b.items)
	return items
}

// Len returns the number of items
func (b *Batch) Len() int {
	return len(b.items)
}

// Contains reports whether a transaction is already selected
func (b *Batch) Contains(transactionID string) bool {
	_, ok := b.index[transactionID]
	return ok
}

// StatementDate returns the statement date the batch is recorded under
func (b *Batch) StatementDate() time.Time {
	return b.statementDate
}

// Target returns the statement total
func (b *Batch) Target() decimal.Decimal {
	return b.target
}

// Total sums the item amounts
func (b *Batch) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range b.items {
		total = total.Add(item.Amount)
	}
	return total
}

// AgencyTotal sums the agency amounts received
func (b *Batch) AgencyTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range b.items {
		total = total.Add(item.AgencyAmount)
	}
	return total
}

// Difference returns statement total minus batch total. Positive means the
// batch is short.
func (b *Batch) Difference() decimal.Decimal {
	return b.target.Sub(b.Total())
}

// Status compares the batch total with the statement total exactly
func (b *Batch) Status() BatchStatus {
	if len(b.items) == 0 {
		return BatchEmpty
	}
	switch b.Total().Cmp(b.target) {
	case -1:
		return BatchUnder
	case 1:
		return BatchOver
	default:
		return BatchBalanced
	}
}

// CanCommit reports whether the batch is non-empty, has a positive target
// and totals exactly to it
func (b *Batch) CanCommit() bool {
	return b.Validate() == nil
}

// Validate returns the reason the batch cannot be committed, or nil
func (b *Batch) Validate() error {
	if b.discarded {
		return errors.ValidationError(errors.CodeBatchDiscarded, "batch", nil, nil)
	}
	if len(b.items) == 0 {
		return errors.ValidationError(errors.CodeEmptyBatch, "batch", nil, nil)
	}
	if !b.target.IsPositive() {
		return errors.ValidationError(errors.CodeInvalidAmount, "statement_total", b.target.StringFixed(2), nil)
	}
	if !b.Total().Equal(b.target) {
		return errors.ValidationError(errors.CodeTotalMismatch, "total",
			fmt.Sprintf("batch %s, statement %s, difference %s",
				b.Total().StringFixed(2), b.target.StringFixed(2), b.Difference().StringFixed(2)), nil).
			WithContext("status", b.Status().String())
	}
	return nil
}

// Discard releases the batch. Later Add and Commit calls fail.
func (b *Batch) Discard() {
	b.discarded = true
	b.items = nil
	b.index = make(map[string]int)
}

// Discarded reports whether the batch was discarded or committed
func (b *Batch) Discarded() bool {
	return b.discarded
}
