package matcher

import (
	"strings"

	"commission-reconciliation-service/internal/ledger"
)

// CustomerIndex provides customer-name lookups over a balance snapshot
type CustomerIndex struct {
	names        []string
	reconcilable map[string][]*ledger.Balance
	byLower      map[string]string
}

// NewCustomerIndex indexes every original's customer and the open balances
// under each name. Names keep first-seen order.
func NewCustomerIndex(balances *ledger.Balances) *CustomerIndex {
	idx := &CustomerIndex{
		reconcilable: make(map[string][]*ledger.Balance),
		byLower:      make(map[string]string),
	}

	for _, bal := range balances.All() {
		name := strings.TrimSpace(bal.Transaction.Customer)
		if name == "" {
			continue
		}
		if _, ok := idx.reconcilable[name]; !ok {
			idx.names = append(idx.names, name)
			idx.reconcilable[name] = nil
		}
		lower := lowerKey(name)
		if _, ok := idx.byLower[lower]; !ok {
			idx.byLower[lower] = name
		}
		if bal.IsReconcilable() {
			idx.reconcilable[name] = append(idx.reconcilable[name], bal)
		}
	}

	return idx
}

// Names returns the distinct known customer names
func (ci *CustomerIndex) Names() []string {
	return ci.names
}

// Reconcilable returns the open balances recorded under a customer name
func (ci *CustomerIndex) Reconcilable(name string) []*ledger.Balance {
	return ci.reconcilable[strings.TrimSpace(name)]
}

// ExactName finds a known customer equal to query ignoring case and spacing
func (ci *CustomerIndex) ExactName(query string) (string, bool) {
	name, ok := ci.byLower[lowerKey(query)]
	return name, ok
}

// Len returns the number of distinct customers
func (ci *CustomerIndex) Len() int {
	return len(ci.names)
}

func lowerKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
