// Package ledger derives outstanding commission balances from the ledger
// of original transactions and their reconciliation entries.
package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"commission-reconciliation-service/internal/models"
)

// Epsilon is the smallest balance still considered outstanding
var Epsilon = decimal.NewFromFloat(0.01)

// KeyMode selects how audit entries are attributed to originals
type KeyMode int

const (
	// KeyPolicyAndDate attributes by policy number and effective date
	KeyPolicyAndDate KeyMode = iota
	// KeyPolicy attributes by policy number alone
	KeyPolicy
)

// String returns the configuration name of the mode
func (m KeyMode) String() string {
	if m == KeyPolicy {
		return "policy"
	}
	return "policy_date"
}

// ParseKeyMode parses a configuration value
func ParseKeyMode(s string) (KeyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "policy_date", "policy+date":
		return KeyPolicyAndDate, nil
	case "policy":
		return KeyPolicy, nil
	default:
		return 0, fmt.Errorf("invalid balance key mode '%s': must be policy or policy_date", s)
	}
}

// Key identifies the originals an audit entry applies to
type Key struct {
	PolicyNumber  string
	EffectiveDate string
}

// String renders the key for logs
func (k Key) String() string {
	if k.EffectiveDate == "" {
		return k.PolicyNumber
	}
	return k.PolicyNumber + "@" + k.EffectiveDate
}

// Balance is the outstanding state of one original transaction
type Balance struct {
	Transaction *models.Transaction `json:"transaction"`
	Owed        decimal.Decimal     `json:"commission_owed"`
	Paid        decimal.Decimal     `json:"paid"`
	Outstanding decimal.Decimal     `json:"outstanding"`
}

// IsReconcilable reports whether the balance is still open
func (b *Balance) IsReconcilable() bool {
	return IsOutstanding(b.Outstanding)
}

// IsOutstanding reports whether an amount exceeds Epsilon
func IsOutstanding(amount decimal.Decimal) bool {
	return amount.GreaterThan(Epsilon)
}

// Summary totals a set of balances
type Summary struct {
	Originals    int             `json:"originals"`
	Reconcilable int             `json:"reconcilable"`
	Owed         decimal.Decimal `json:"owed"`
	Paid         decimal.Decimal `json:"paid"`
	Outstanding  decimal.Decimal `json:"outstanding"`
}

// Balances holds one Balance per original, in input order
type Balances struct {
	mode    KeyMode
	order   []string
	byID    map[string]*Balance
	byKey   map[Key][]*Balance
	entries int
}

// Calculator computes balances. It holds no state between calls.
type Calculator struct {
	mode KeyMode
}

// NewCalculator creates a calculator for the given key mode
func NewCalculator(mode KeyMode) *Calculator {
	return &Calculator{mode: mode}
}

// Mode returns the key mode in use
func (c *Calculator) Mode() KeyMode {
	return c.mode
}

// KeyOf returns the attribution key of a transaction under the calculator's mode
func (c *Calculator) KeyOf(txn *models.Transaction) Key {
	return keyOf(c.mode, txn.PolicyNumber, models.FormatDate(txn.EffectiveDate))
}

func keyOf(mode KeyMode, policy, effective string) Key {
	k := Key{PolicyNumber: strings.ToUpper(strings.TrimSpace(policy))}
	if mode == KeyPolicyAndDate {
		k.EffectiveDate = effective
	}
	return k
}

// Compute partitions txns into originals and reconciliation entries and
// returns commission owed minus the sum paid for every original. Every
// reconciliation kind contributes its agent paid amount, so void entries
// (negated) restore what their batch took. Entries without a policy number
// are credited to the original they reference.
func (c *Calculator) Compute(txns []*models.Transaction) *Balances {
	paid := make(map[Key]decimal.Decimal)
	paidByRef := make(map[string]decimal.Decimal)
	balances := &Balances{
		mode:  c.mode,
		byID:  make(map[string]*Balance),
		byKey: make(map[Key][]*Balance),
	}

	for _, txn := range txns {
		if !txn.Kind.IsReconciliation() {
			continue
		}
		balances.entries++
		if txn.PolicyNumber == "" {
			paidByRef[txn.ReferenceID] = paidByRef[txn.ReferenceID].Add(txn.AgentPaidAmount)
			continue
		}
		k := c.KeyOf(txn)
		paid[k] = paid[k].Add(txn.AgentPaidAmount)
	}

	for _, txn := range txns {
		if !txn.IsOriginal() {
			continue
		}
		if _, dup := balances.byID[txn.ID]; dup {
			continue
		}

		b := &Balance{Transaction: txn, Owed: txn.CommissionOwed()}
		if txn.PolicyNumber != "" {
			k := c.KeyOf(txn)
			b.Paid = paid[k]
			balances.byKey[k] = append(balances.byKey[k], b)
		} else {
			b.Paid = paidByRef[txn.ID]
		}
		b.Outstanding = b.Owed.Sub(b.Paid)

		balances.byID[txn.ID] = b
		balances.order = append(balances.order, txn.ID)
	}

	return balances
}

// Get returns the balance of an original transaction
func (b *Balances) Get(id string) (*Balance, bool) {
	bal, ok := b.byID[id]
	return bal, ok
}

// Outstanding returns the outstanding amount of an original, or zero
func (b *Balances) Outstanding(id string) decimal.Decimal {
	if bal, ok := b.byID[id]; ok {
		return bal.Outstanding
	}
	return decimal.Zero
}

// All returns every original's balance in input order
func (b *Balances) All() []*Balance {
	result := make([]*Balance, 0, len(b.order))
	for _, id := range b.order {
		result = append(result, b.byID[id])
	}
	return result
}

// Reconcilable returns the originals whose outstanding balance exceeds Epsilon
func (b *Balances) Reconcilable() []*Balance {
	var result []*Balance
	for _, id := range b.order {
		if bal := b.byID[id]; bal.IsReconcilable() {
			result = append(result, bal)
		}
	}
	return result
}

// KeyOf returns the attribution key of an original. ok is false for
// originals without a policy number, which are credited by id alone.
func (b *Balances) KeyOf(txn *models.Transaction) (Key, bool) {
	if txn.PolicyNumber == "" {
		return Key{}, false
	}
	return keyOf(b.mode, txn.PolicyNumber, models.FormatDate(txn.EffectiveDate)), true
}

// ReconcilableByKey returns open balances sharing a policy number and effective date
func (b *Balances) ReconcilableByKey(policyNumber, effectiveDate string) []*Balance {
	var result []*Balance
	for _, bal := range b.byKey[keyOf(b.mode, policyNumber, effectiveDate)] {
		if bal.IsReconcilable() {
			result = append(result, bal)
		}
	}
	return result
}

// Len returns the number of originals
func (b *Balances) Len() int {
	return len(b.order)
}

// ReconciliationEntries returns how many audit entries were applied
func (b *Balances) ReconciliationEntries() int {
	return b.entries
}

// Summary totals every original
func (b *Balances) Summary() Summary {
	s := Summary{Originals: len(b.order)}
	for _, id := range b.order {
		bal := b.byID[id]
		s.Owed = s.Owed.Add(bal.Owed)
		s.Paid = s.Paid.Add(bal.Paid)
		s.Outstanding = s.Outstanding.Add(bal.Outstanding)
		if bal.IsReconcilable() {
			s.Reconcilable++
		}
	}
	return s
}
