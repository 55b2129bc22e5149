package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"commission-reconciliation-service/pkg/errors"
)

// System field names a statement column can be mapped to
const (
	FieldCustomer                 = "Customer"
	FieldPolicyNumber             = "Policy Number"
	FieldEffectiveDate            = "Effective Date"
	FieldAgentPaidAmount          = "Agent Paid Amount (STMT)"
	FieldAgencyCommissionReceived = "Agency Comm Received (STMT)"
	FieldPolicyType               = "Policy Type"
	FieldTransactionType          = "Transaction Type"
	FieldPremiumSold              = "Premium Sold"
	FieldExpirationDate           = "X-DATE"
	FieldNotes                    = "NOTES"
)

// StatementFields lists every field a mapping may target
var StatementFields = []string{
	FieldCustomer,
	FieldPolicyNumber,
	FieldEffectiveDate,
	FieldAgentPaidAmount,
	FieldAgencyCommissionReceived,
	FieldPolicyType,
	FieldTransactionType,
	FieldPremiumSold,
	FieldExpirationDate,
	FieldNotes,
}

// ColumnMapping maps system field names to statement column names. It is
// always supplied by the user; nothing infers it.
type ColumnMapping map[string]string

// Validate checks that the mapping targets known fields and covers the
// required ones.
func (m ColumnMapping) Validate() error {
	known := make(map[string]bool, len(StatementFields))
	for _, f := range StatementFields {
		known[f] = true
	}

	for field, column := range m {
		if !known[field] {
			return fmt.Errorf("unknown field '%s' in column mapping", field)
		}
		if strings.TrimSpace(column) == "" {
			return fmt.Errorf("field '%s' is mapped to an empty column name", field)
		}
	}

	if m[FieldAgentPaidAmount] == "" {
		return fmt.Errorf("column mapping must include '%s'", FieldAgentPaidAmount)
	}
	if m[FieldCustomer] == "" && m[FieldPolicyNumber] == "" {
		return fmt.Errorf("column mapping must include '%s' or '%s'", FieldCustomer, FieldPolicyNumber)
	}
	return nil
}

// Columns returns the mapped statement column names in field order
func (m ColumnMapping) Columns() []string {
	var columns []string
	for _, f := range StatementFields {
		if c, ok := m[f]; ok {
			columns = append(columns, c)
		}
	}
	return columns
}

// Clone returns a copy of the mapping
func (m ColumnMapping) Clone() ColumnMapping {
	c := make(ColumnMapping, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// String renders the mapping in a stable order
func (m ColumnMapping) String() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, m[k])
	}
	return strings.Join(parts, ", ")
}

// Value returns the raw value for a system field, or "" if the field is
// unmapped or the column is absent.
func (m ColumnMapping) Value(row RawRow, field string) string {
	column, ok := m[field]
	if !ok {
		return ""
	}
	return row.Get(column)
}

// RawRow is one record of a statement file keyed by header name
type RawRow struct {
	Number int               `json:"row"`
	Values map[string]string `json:"values"`
}

// Get looks up a column by exact name, then case-insensitively
func (r RawRow) Get(column string) string {
	if v, ok := r.Values[column]; ok {
		return strings.TrimSpace(v)
	}
	want := strings.ToLower(strings.TrimSpace(column))
	for k, v := range r.Values {
		if strings.ToLower(strings.TrimSpace(k)) == want {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// StatementRow is a statement record after column mapping
type StatementRow struct {
	Row                      int             `json:"row"`
	Customer                 string          `json:"customer" validate:"required_without=PolicyNumber,max=256"`
	PolicyNumber             string          `json:"policy_number" validate:"required_without=Customer,max=128"`
	EffectiveDate            time.Time       `json:"effective_date"`
	AgentPaidAmount          decimal.Decimal `json:"agent_paid_amount"`
	AgencyCommissionReceived decimal.Decimal `json:"agency_comm_received"`
	PolicyType               string          `json:"policy_type,omitempty"`
	TransactionType          TransactionType `json:"transaction_type,omitempty"`
	PremiumSold              decimal.Decimal `json:"premium_sold"`
	ExpirationDate           time.Time       `json:"expiration_date,omitempty"`
	Notes                    string          `json:"notes,omitempty"`
	Raw                      RawRow          `json:"-"`
}

// HasKey reports whether the row carries both policy number and effective date
func (s *StatementRow) HasKey() bool {
	return s.PolicyNumber != "" && !s.EffectiveDate.IsZero()
}

// Validate checks that the row names a customer or a policy
func (s *StatementRow) Validate() error {
	return validate.Struct(s)
}

// MapStatementRow applies a mapping to one raw row. Parse and validation
// failures come back as row errors naming the offending column.
func MapStatementRow(raw RawRow, mapping ColumnMapping) (*StatementRow, *errors.RowError) {
	row := &StatementRow{
		Row:             raw.Number,
		Customer:        mapping.Value(raw, FieldCustomer),
		PolicyNumber:    mapping.Value(raw, FieldPolicyNumber),
		PolicyType:      mapping.Value(raw, FieldPolicyType),
		TransactionType: ParseTransactionType(mapping.Value(raw, FieldTransactionType)),
		Notes:           mapping.Value(raw, FieldNotes),
		Raw:             raw,
	}
	if err := row.Validate(); err != nil {
		return nil, statementRowError(raw, mapping, err)
	}

	paid := mapping.Value(raw, FieldAgentPaidAmount)
	if paid == "" {
		return nil, errors.EmptyValueError("", raw.Number, mapping[FieldAgentPaidAmount])
	}
	amount, err := ParseDecimalFromString(paid)
	if err != nil {
		return nil, errors.InvalidAmountError("", raw.Number, mapping[FieldAgentPaidAmount], paid)
	}
	row.AgentPaidAmount = amount

	decimals := []struct {
		field  string
		target *decimal.Decimal
	}{
		{FieldAgencyCommissionReceived, &row.AgencyCommissionReceived},
		{FieldPremiumSold, &row.PremiumSold},
	}
	for _, d := range decimals {
		value := mapping.Value(raw, d.field)
		parsed, err := ParseOptionalDecimal(value)
		if err != nil {
			return nil, errors.InvalidAmountError("", raw.Number, mapping[d.field], value)
		}
		*d.target = parsed
	}

	dates := []struct {
		field  string
		target *time.Time
	}{
		{FieldEffectiveDate, &row.EffectiveDate},
		{FieldExpirationDate, &row.ExpirationDate},
	}
	for _, d := range dates {
		value := mapping.Value(raw, d.field)
		parsed, err := ParseOptionalDate(value)
		if err != nil {
			return nil, errors.InvalidDateError("", raw.Number, mapping[d.field], value)
		}
		*d.target = parsed
	}

	return row, nil
}

var statementFields = map[string]string{
	"Customer":     FieldCustomer,
	"PolicyNumber": FieldPolicyNumber,
}

func statementRowError(raw RawRow, mapping ColumnMapping, err error) *errors.RowError {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return errors.NewRowError(errors.CategoryValidation, errors.CodeInvalidData,
			&errors.RowContext{Row: raw.Number}, "invalid statement row", err)
	}

	fe := fieldErrs[0]
	column := mapping[statementFields[fe.Field()]]
	if fe.Tag() == "required_without" {
		return errors.EmptyValueError("", raw.Number, column)
	}
	location := &errors.RowContext{Row: raw.Number, Column: column, Value: fmt.Sprint(fe.Value()), Expected: fe.Tag() + "=" + fe.Param()}
	return errors.NewRowError(errors.CategoryValidation, errors.CodeInvalidData, location,
		fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()), nil)
}
