package parsers

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// Policy export fields a PolicyConfig maps to file columns
const (
	PolicyID                = "transaction_id"
	PolicyCustomer          = "customer"
	PolicyNumber            = "policy_number"
	PolicyType              = "policy_type"
	PolicyCarrier           = "carrier_name"
	PolicyEffectiveDate     = "effective_date"
	PolicyOriginationDate   = "origination_date"
	PolicyTransactionType   = "transaction_type"
	PolicyPremiumSold       = "premium_sold"
	PolicyCommissionPercent = "commission_percent"
	PolicyAgencyEstimate    = "agency_estimated_comm"
	PolicyAgentEstimate     = "agent_estimated_comm"
	PolicyNotes             = "notes"
)

// PolicyConfig describes the layout of a policy export
type PolicyConfig struct {
	Columns       map[string]string `json:"columns" mapstructure:"columns"`
	ColumnAliases map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
	Sheet         string            `json:"sheet,omitempty" mapstructure:"sheet"`
	MaxErrors     int               `json:"max_errors" mapstructure:"max_errors"`
}

// DefaultPolicyConfig returns the column names of the agency management export
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		Columns: map[string]string{
			PolicyID:                "Transaction ID",
			PolicyCustomer:          "Customer",
			PolicyNumber:            "Policy Number",
			PolicyType:              "Policy Type",
			PolicyCarrier:           "Carrier Name",
			PolicyEffectiveDate:     "Effective Date",
			PolicyOriginationDate:   "Policy Origination Date",
			PolicyTransactionType:   "Transaction Type",
			PolicyPremiumSold:       "Premium Sold",
			PolicyCommissionPercent: "Policy Gross Comm %",
			PolicyAgencyEstimate:    "Agency Estimated Comm/Revenue (CRM)",
			PolicyAgentEstimate:     "Agent Estimated Comm $",
			PolicyNotes:             "NOTES",
		},
		MaxErrors: 100,
	}
}

// Validate checks if the policy configuration is valid
func (pc *PolicyConfig) Validate() error {
	if strings.TrimSpace(pc.GetColumnName(PolicyCustomer)) == "" && strings.TrimSpace(pc.GetColumnName(PolicyNumber)) == "" {
		return fmt.Errorf("customer or policy number column must be configured")
	}
	if strings.TrimSpace(pc.GetColumnName(PolicyEffectiveDate)) == "" {
		return fmt.Errorf("effective date column cannot be empty")
	}
	if pc.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative")
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (pc *PolicyConfig) GetColumnName(field string) string {
	if alias, exists := pc.ColumnAliases[field]; exists {
		return alias
	}
	return pc.Columns[field]
}

// required returns the configured columns a policy file must contain
func (pc *PolicyConfig) required() []string {
	var columns []string
	for _, f := range []string{PolicyCustomer, PolicyNumber, PolicyEffectiveDate} {
		if c := pc.GetColumnName(f); c != "" {
			columns = append(columns, c)
		}
	}
	return columns
}

// LoadPolicies reads original policy transactions. Rows that fail to parse
// are reported in the stats; loading stops once MaxErrors rows failed.
func LoadPolicies(ctx context.Context, path string, config *PolicyConfig) ([]*models.Transaction, *ParseStats, error) {
	if config == nil {
		config = DefaultPolicyConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "policy_config", nil, err)
	}

	log := logger.GetGlobalLogger().WithComponent("policy_parser")
	table, err := ReadTable(ctx, path, TableOptions{Sheet: config.Sheet})
	if err != nil {
		return nil, nil, err
	}
	if err := table.CheckColumns(config.required()); err != nil {
		return nil, nil, err
	}

	stats := &ParseStats{Source: path, TotalLines: len(table.Rows) + 1}
	collector := errors.NewRowErrorCollector(config.MaxErrors)
	var txns []*models.Transaction

	for _, raw := range table.Rows {
		stats.RecordsParsed++
		txn, rowErr := config.parseRow(path, raw)
		if rowErr != nil {
			if !collector.Add(rowErr) {
				log.WithField("max_errors", config.MaxErrors).Warn("Too many invalid rows, stopping")
				break
			}
			continue
		}
		stats.RecordsValid++
		txns = append(txns, txn)
	}
	stats.Errors = collector.Errors()

	log.WithFields(logger.Fields{
		"file_path": path,
		"valid":     stats.RecordsValid,
		"errors":    stats.ErrorCount(),
	}).Info("Loaded policies")
	return txns, stats, nil
}

func (pc *PolicyConfig) value(raw models.RawRow, field string) string {
	column := pc.GetColumnName(field)
	if column == "" {
		return ""
	}
	return raw.Get(column)
}

func (pc *PolicyConfig) parseRow(source string, raw models.RawRow) (*models.Transaction, *errors.RowError) {
	customer := pc.value(raw, PolicyCustomer)
	policy := pc.value(raw, PolicyNumber)
	if customer == "" && policy == "" {
		return nil, errors.EmptyValueError(source, raw.Number, pc.GetColumnName(PolicyCustomer))
	}

	effectiveValue := pc.value(raw, PolicyEffectiveDate)
	effective, err := models.ParseOptionalDate(effectiveValue)
	if err != nil {
		return nil, errors.InvalidDateError(source, raw.Number, pc.GetColumnName(PolicyEffectiveDate), effectiveValue)
	}

	txn := models.NewOriginal(pc.value(raw, PolicyID), customer, policy, effective,
		models.ParseTransactionType(pc.value(raw, PolicyTransactionType)))
	txn.PolicyType = pc.value(raw, PolicyType)
	txn.CarrierName = pc.value(raw, PolicyCarrier)
	txn.Notes = pc.value(raw, PolicyNotes)

	originationValue := pc.value(raw, PolicyOriginationDate)
	if txn.OriginationDate, err = models.ParseOptionalDate(originationValue); err != nil {
		return nil, errors.InvalidDateError(source, raw.Number, pc.GetColumnName(PolicyOriginationDate), originationValue)
	}

	amounts := []struct {
		field  string
		target *decimal.Decimal
	}{
		{PolicyPremiumSold, &txn.PremiumSold},
		{PolicyCommissionPercent, &txn.CommissionPercent},
		{PolicyAgencyEstimate, &txn.AgencyEstimatedCommission},
		{PolicyAgentEstimate, &txn.AgentEstimatedCommission},
	}
	for _, a := range amounts {
		value := strings.TrimSuffix(pc.value(raw, a.field), "%")
		parsed, err := models.ParseOptionalDecimal(value)
		if err != nil {
			return nil, errors.InvalidAmountError(source, raw.Number, pc.GetColumnName(a.field), value)
		}
		*a.target = parsed
	}

	return txn, nil
}
