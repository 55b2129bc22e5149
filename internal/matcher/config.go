// Package matcher matches commission statement rows against the open
// balances of existing policy transactions.
//
// Each statement row is routed to exactly one of three outcomes:
//   - matched: resolved to a single original transaction with a confidence
//   - needs review: ambiguous, returned with ranked candidate customers
//   - can create: no existing customer or transaction fits
//
// Matching runs in stages:
//  1. Exact lookup on policy number plus effective date
//  2. Fuzzy customer name matching through ranked name tiers
//  3. Amount comparison against each candidate's outstanding balance
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.AmountTolerancePercent = 2.5
//
//	m := matcher.NewMatcher(config)
//	result, err := m.Match(rows, mapping, transactions, statementDate)
package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"commission-reconciliation-service/internal/ledger"
)

// MatchingConfig holds the thresholds used by the transaction matcher.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): the production thresholds
//   - StrictMatchingConfig(): only policy/date and amount-confirmed matches
//   - RelaxedMatchingConfig(): wider amount tolerance, lower name threshold
type MatchingConfig struct {
	// AutoMatchScore is the minimum name score for a customer to be
	// accepted without review (0-100).
	AutoMatchScore int `json:"auto_match_score" mapstructure:"auto_match_score"`

	// AmountTolerancePercent is how far, relative to the statement amount,
	// a balance may differ and still count as an amount match.
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" mapstructure:"amount_tolerance_percent"`

	// MaxReviewCandidates caps the candidates attached to a review row.
	MaxReviewCandidates int `json:"max_review_candidates" mapstructure:"max_review_candidates"`

	// SingleTransactionAutoMatch accepts a customer's only open transaction
	// even when the amount does not agree.
	SingleTransactionAutoMatch bool `json:"single_transaction_auto_match" mapstructure:"single_transaction_auto_match"`

	// SkipMarkers are whole words that flag total or summary rows.
	SkipMarkers []string `json:"skip_markers" mapstructure:"skip_markers"`

	// BalanceKey selects how reconciliation entries attach to originals.
	BalanceKey ledger.KeyMode `json:"balance_key" mapstructure:"-"`
}

// Confidence levels reported for matched rows
const (
	ConfidencePolicyDate = 100
	ConfidenceAmount     = 90
	ConfidenceSingle     = 85
)

// DefaultMatchingConfig returns the standard thresholds
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AutoMatchScore:             90,
		AmountTolerancePercent:     5.0,
		MaxReviewCandidates:        5,
		SingleTransactionAutoMatch: true,
		SkipMarkers:                []string{"total", "subtotal", "grand total", "sum"},
		BalanceKey:                 ledger.KeyPolicyAndDate,
	}
}

// StrictMatchingConfig requires amount agreement for every name match
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.AutoMatchScore = 95
	config.AmountTolerancePercent = 1.0
	config.SingleTransactionAutoMatch = false
	return config
}

// RelaxedMatchingConfig accepts looser name and amount agreement
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.AutoMatchScore = 85
	config.AmountTolerancePercent = 10.0
	config.MaxReviewCandidates = 10
	return config
}

// Validate checks the configuration for impossible values
func (mc *MatchingConfig) Validate() error {
	if mc.AutoMatchScore < 0 || mc.AutoMatchScore > 100 {
		return fmt.Errorf("auto match score must be between 0 and 100, got %d", mc.AutoMatchScore)
	}
	if mc.AmountTolerancePercent < 0 || mc.AmountTolerancePercent > 100 {
		return fmt.Errorf("amount tolerance percent must be between 0 and 100, got %.2f", mc.AmountTolerancePercent)
	}
	if mc.MaxReviewCandidates < 1 {
		return fmt.Errorf("max review candidates must be at least 1, got %d", mc.MaxReviewCandidates)
	}
	for _, marker := range mc.SkipMarkers {
		if strings.TrimSpace(marker) == "" {
			return fmt.Errorf("skip markers cannot be empty")
		}
	}
	if mc.BalanceKey != ledger.KeyPolicy && mc.BalanceKey != ledger.KeyPolicyAndDate {
		return fmt.Errorf("invalid balance key mode %d", mc.BalanceKey)
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	clone := *mc
	clone.SkipMarkers = append([]string(nil), mc.SkipMarkers...)
	return &clone
}

// String returns a string representation of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{AutoMatch: %d, AmountTolerance: %.2f%%, MaxCandidates: %d, SingleAuto: %v, Key: %s}",
		mc.AutoMatchScore, mc.AmountTolerancePercent, mc.MaxReviewCandidates, mc.SingleTransactionAutoMatch, mc.BalanceKey)
}

// skipPattern compiles the skip markers into one case-insensitive word match
func (mc *MatchingConfig) skipPattern() *regexp.Regexp {
	if len(mc.SkipMarkers) == 0 {
		return nil
	}
	quoted := make([]string, len(mc.SkipMarkers))
	for i, marker := range mc.SkipMarkers {
		quoted[i] = regexp.QuoteMeta(strings.TrimSpace(marker))
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}
