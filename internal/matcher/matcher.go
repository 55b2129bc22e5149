package matcher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"commission-reconciliation-service/internal/ledger"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// MatchPolicyDate labels matches found by policy number and effective date
const MatchPolicyDate = "Policy + Date"

// MatchedRow is a statement row resolved to one original transaction
type MatchedRow struct {
	Row        *models.StatementRow `json:"row"`
	Balance    *ledger.Balance      `json:"balance"`
	Confidence int                  `json:"confidence"`
	MatchType  string               `json:"match_type"`
	NameMatch  *NameCandidate       `json:"name_match,omitempty"`
}

// ReviewCandidate is one customer offered for manual resolution
type ReviewCandidate struct {
	Customer     string            `json:"customer"`
	Match        string            `json:"match"`
	Score        int               `json:"score"`
	Transactions []*ledger.Balance `json:"transactions"`
}

// ReviewRow is a statement row that needs a person to pick the transaction
type ReviewRow struct {
	Row        *models.StatementRow `json:"row"`
	Reason     string               `json:"reason"`
	Candidates []ReviewCandidate    `json:"candidates"`
}

// CreateRow is a statement row with no existing transaction to reconcile
type CreateRow struct {
	Row               *models.StatementRow `json:"row"`
	Reason            string               `json:"reason"`
	SuggestedCustomer string               `json:"suggested_customer,omitempty"`
}

// SkippedRow is a summary or blank row ignored by matching
type SkippedRow struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// MatchSummary totals a match run
type MatchSummary struct {
	TotalRows       int             `json:"total_rows"`
	Matched         int             `json:"matched"`
	NeedsReview     int             `json:"needs_review"`
	CanCreate       int             `json:"can_create"`
	Skipped         int             `json:"skipped"`
	Invalid         int             `json:"invalid"`
	StatementAmount decimal.Decimal `json:"statement_amount"`
	MatchedAmount   decimal.Decimal `json:"matched_amount"`
}

// MatchResult holds the three disjoint outcome lists in statement order
type MatchResult struct {
	StatementDate time.Time          `json:"statement_date"`
	Matched       []*MatchedRow      `json:"matched"`
	NeedsReview   []*ReviewRow       `json:"needs_review"`
	CanCreate     []*CreateRow       `json:"can_create"`
	Skipped       []SkippedRow       `json:"skipped"`
	Invalid       []*errors.RowError `json:"invalid"`
	Summary       MatchSummary       `json:"summary"`
	ProcessedAt   time.Time          `json:"processed_at"`
}

// Matcher routes statement rows to matched, needs-review or can-create
type Matcher struct {
	config     *MatchingConfig
	names      *NameMatcher
	calculator *ledger.Calculator
	logger     logger.Logger
}

// NewMatcher creates a matcher; a nil config uses DefaultMatchingConfig
func NewMatcher(config *MatchingConfig) *Matcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &Matcher{
		config:     config,
		names:      NewNameMatcher(),
		calculator: ledger.NewCalculator(config.BalanceKey),
		logger:     logger.GetGlobalLogger().WithComponent("matcher"),
	}
}

// WithLogger replaces the matcher's logger
func (m *Matcher) WithLogger(log logger.Logger) *Matcher {
	m.logger = log.WithComponent("matcher")
	return m
}

// Config returns the configuration in use
func (m *Matcher) Config() *MatchingConfig {
	return m.config
}

// Calculator returns the balance calculator the matcher uses
func (m *Matcher) Calculator() *ledger.Calculator {
	return m.calculator
}

// Match maps raw statement rows, computes balances from existing and routes
// every row. It does not write anything.
func (m *Matcher) Match(rows []models.RawRow, mapping models.ColumnMapping, existing []*models.Transaction, statementDate time.Time) (*MatchResult, error) {
	if err := m.config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", m.config.String(), err)
	}
	if err := mapping.Validate(); err != nil {
		return nil, errors.MatchingError(errors.CodeInvalidMapping, "statement matching", err).
			WithContext("mapping", mapping.String())
	}

	balances := m.calculator.Compute(existing)
	return m.MatchRows(rows, mapping, balances, statementDate), nil
}

// MatchRows routes rows against a precomputed balance snapshot
func (m *Matcher) MatchRows(rows []models.RawRow, mapping models.ColumnMapping, balances *ledger.Balances, statementDate time.Time) *MatchResult {
	result := &MatchResult{
		StatementDate: models.DateOnly(statementDate),
		ProcessedAt:   time.Now(),
	}
	customers := NewCustomerIndex(balances)
	skip := m.config.skipPattern()

	for _, raw := range rows {
		result.Summary.TotalRows++

		customer := mapping.Value(raw, models.FieldCustomer)
		policy := mapping.Value(raw, models.FieldPolicyNumber)
		if customer == "" && policy == "" {
			result.Skipped = append(result.Skipped, SkippedRow{Row: raw.Number, Reason: "no customer or policy number"})
			continue
		}
		if skip != nil && skip.MatchString(customer) {
			result.Skipped = append(result.Skipped, SkippedRow{Row: raw.Number, Reason: "summary row"})
			continue
		}

		row, rowErr := models.MapStatementRow(raw, mapping)
		if rowErr != nil {
			result.Invalid = append(result.Invalid, rowErr)
			continue
		}
		result.Summary.StatementAmount = result.Summary.StatementAmount.Add(row.AgentPaidAmount)

		m.route(result, row, balances, customers)
	}

	m.summarize(result)
	m.logger.WithFields(logger.Fields{
		"rows":         result.Summary.TotalRows,
		"matched":      result.Summary.Matched,
		"needs_review": result.Summary.NeedsReview,
		"can_create":   result.Summary.CanCreate,
		"skipped":      result.Summary.Skipped,
		"invalid":      result.Summary.Invalid,
	}).Info("Statement matched")

	return result
}

func (m *Matcher) route(result *MatchResult, row *models.StatementRow, balances *ledger.Balances, customers *CustomerIndex) {
	if row.HasKey() {
		open := balances.ReconcilableByKey(row.PolicyNumber, models.FormatDate(row.EffectiveDate))
		switch len(open) {
		case 0:
		case 1:
			result.Matched = append(result.Matched, &MatchedRow{
				Row:        row,
				Balance:    open[0],
				Confidence: ConfidencePolicyDate,
				MatchType:  MatchPolicyDate,
			})
			return
		default:
			result.NeedsReview = append(result.NeedsReview, &ReviewRow{
				Row:        row,
				Reason:     "several open transactions share this policy number and effective date",
				Candidates: groupByCustomer(open, MatchPolicyDate, ConfidencePolicyDate),
			})
			return
		}
	}

	var candidates []NameCandidate
	if row.Customer != "" {
		candidates = m.names.FindMatches(row.Customer, customers.Names())
	}

	if len(candidates) == 0 {
		if name, ok := customers.ExactName(row.Customer); ok && row.Customer != "" {
			m.resolveCustomer(result, row, NameCandidate{Name: name, MatchType: NameExact, Score: 100}, customers)
			return
		}
		result.CanCreate = append(result.CanCreate, &CreateRow{Row: row, Reason: "no matching customer"})
		return
	}

	var strong []NameCandidate
	for _, c := range candidates {
		if c.Score >= m.config.AutoMatchScore {
			strong = append(strong, c)
		}
	}

	if len(strong) == 1 {
		m.resolveCustomer(result, row, strong[0], customers)
		return
	}

	reason := "no confident customer match"
	if len(strong) > 1 {
		reason = fmt.Sprintf("%d customers match with score %d or higher", len(strong), m.config.AutoMatchScore)
	}
	if len(candidates) > m.config.MaxReviewCandidates {
		candidates = candidates[:m.config.MaxReviewCandidates]
	}

	review := &ReviewRow{Row: row, Reason: reason}
	for _, c := range candidates {
		review.Candidates = append(review.Candidates, ReviewCandidate{
			Customer:     c.Name,
			Match:        c.MatchType.String(),
			Score:        c.Score,
			Transactions: customers.Reconcilable(c.Name),
		})
	}
	result.NeedsReview = append(result.NeedsReview, review)
}

// resolveCustomer picks a transaction once a single customer is accepted
func (m *Matcher) resolveCustomer(result *MatchResult, row *models.StatementRow, candidate NameCandidate, customers *CustomerIndex) {
	open := customers.Reconcilable(candidate.Name)
	if len(open) == 0 {
		result.CanCreate = append(result.CanCreate, &CreateRow{
			Row:               row,
			Reason:            "customer has no open balance",
			SuggestedCustomer: candidate.Name,
		})
		return
	}

	if best := m.closestAmount(row.AgentPaidAmount, open); best != nil {
		c := candidate
		result.Matched = append(result.Matched, &MatchedRow{
			Row:        row,
			Balance:    best,
			Confidence: ConfidenceAmount,
			MatchType:  candidate.MatchType.String() + " + Amount",
			NameMatch:  &c,
		})
		return
	}

	if len(open) == 1 && m.config.SingleTransactionAutoMatch {
		c := candidate
		result.Matched = append(result.Matched, &MatchedRow{
			Row:        row,
			Balance:    open[0],
			Confidence: ConfidenceSingle,
			MatchType:  candidate.MatchType.String(),
			NameMatch:  &c,
		})
		return
	}

	result.NeedsReview = append(result.NeedsReview, &ReviewRow{
		Row:    row,
		Reason: "amount does not match an open transaction",
		Candidates: []ReviewCandidate{{
			Customer:     candidate.Name,
			Match:        candidate.MatchType.String(),
			Score:        candidate.Score,
			Transactions: open,
		}},
	})
}

// closestAmount returns the open balance nearest to amount within tolerance
func (m *Matcher) closestAmount(amount decimal.Decimal, open []*ledger.Balance) *ledger.Balance {
	var best *ledger.Balance
	var bestDiff decimal.Decimal
	for _, bal := range open {
		if !models.WithinPercent(bal.Outstanding, amount, m.config.AmountTolerancePercent) {
			continue
		}
		diff := bal.Outstanding.Sub(amount).Abs()
		if best == nil || diff.LessThan(bestDiff) {
			best, bestDiff = bal, diff
		}
	}
	return best
}

func groupByCustomer(open []*ledger.Balance, match string, score int) []ReviewCandidate {
	var result []ReviewCandidate
	index := make(map[string]int)
	for _, bal := range open {
		name := bal.Transaction.Customer
		if i, ok := index[name]; ok {
			result[i].Transactions = append(result[i].Transactions, bal)
			continue
		}
		index[name] = len(result)
		result = append(result, ReviewCandidate{Customer: name, Match: match, Score: score, Transactions: []*ledger.Balance{bal}})
	}
	return result
}

func (m *Matcher) summarize(result *MatchResult) {
	s := &result.Summary
	s.Matched = len(result.Matched)
	s.NeedsReview = len(result.NeedsReview)
	s.CanCreate = len(result.CanCreate)
	s.Skipped = len(result.Skipped)
	s.Invalid = len(result.Invalid)
	for _, mr := range result.Matched {
		s.MatchedAmount = s.MatchedAmount.Add(mr.Row.AgentPaidAmount)
	}
}

// MatchedIDs returns the original transaction ids of all matched rows
func (r *MatchResult) MatchedIDs() []string {
	ids := make([]string, len(r.Matched))
	for i, mr := range r.Matched {
		ids[i] = mr.Balance.Transaction.ID
	}
	return ids
}

// FindRow locates a row in any outcome list by its source row number
func (r *MatchResult) FindRow(number int) (*models.StatementRow, bool) {
	for _, mr := range r.Matched {
		if mr.Row.Row == number {
			return mr.Row, true
		}
	}
	for _, rr := range r.NeedsReview {
		if rr.Row.Row == number {
			return rr.Row, true
		}
	}
	for _, cr := range r.CanCreate {
		if cr.Row.Row == number {
			return cr.Row, true
		}
	}
	return nil, false
}
