package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"commission-reconciliation-service/pkg/errors"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestKind(t *testing.T) {
	tests := []struct {
		kind           Kind
		name           string
		marker         string
		reconciliation bool
	}{
		{KindOriginal, "original", "", false},
		{KindStatement, "statement", "STMT", true},
		{KindVoid, "void", "VOID", true},
		{KindAdjustment, "adjustment", "ADJ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.kind.String() != tt.name {
				t.Errorf("expected name %s, got %s", tt.name, tt.kind.String())
			}
			if tt.kind.Marker() != tt.marker {
				t.Errorf("expected marker %q, got %q", tt.marker, tt.kind.Marker())
			}
			if tt.kind.IsReconciliation() != tt.reconciliation {
				t.Errorf("expected IsReconciliation %v", tt.reconciliation)
			}

			parsed, err := ParseKind(strings.ToUpper(tt.name))
			if err != nil || parsed != tt.kind {
				t.Errorf("expected ParseKind to return %v, got %v (%v)", tt.kind, parsed, err)
			}
		})
	}

	if _, err := ParseKind("stmt"); err == nil {
		t.Error("expected error for unknown kind name")
	}
}

func TestKindJSON(t *testing.T) {
	txn := &Transaction{ID: "T1", Kind: KindVoid, Customer: "Acme", ReferenceID: "T0"}
	data, err := json.Marshal(txn)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"kind":"void"`) {
		t.Errorf("expected kind encoded by name, got %s", data)
	}

	var back Transaction
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.Kind != KindVoid {
		t.Errorf("expected void kind, got %v", back.Kind)
	}
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		txn     Transaction
		wantErr bool
	}{
		{"original with policy", Transaction{ID: "A1", Customer: "Acme", PolicyNumber: "P1"}, false},
		{"original with customer only", Transaction{ID: "A1", Customer: "Acme"}, false},
		{"missing id", Transaction{Customer: "Acme"}, true},
		{"missing customer and policy", Transaction{ID: "A1"}, true},
		{"statement entry without reference", Transaction{ID: "A1", Kind: KindStatement, PolicyNumber: "P1"}, true},
		{"adjustment with reference", Transaction{ID: "A1", Kind: KindAdjustment, PolicyNumber: "P1", ReferenceID: "A0"}, false},
		{"invalid kind", Transaction{ID: "A1", Kind: Kind(9), PolicyNumber: "P1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.txn.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseTransactionType(t *testing.T) {
	if ParseTransactionType(" bor ") != TypeBrokerOfRecord {
		t.Error("expected bor to parse as BoR")
	}
	if ParseTransactionType("rewrite") != TypeRewrite {
		t.Error("expected rewrite to parse as REWRITE")
	}
	if got := ParseTransactionType("Audit"); got != "Audit" || got.IsKnown() {
		t.Errorf("expected unknown type kept verbatim, got %q", got)
	}
}

func TestCommissionOwed(t *testing.T) {
	tests := []struct {
		name     string
		txn      Transaction
		expected string
	}{
		{
			name:     "stored estimate wins",
			txn:      Transaction{TransactionType: TypeNew, AgentEstimatedCommission: d("123.45"), AgencyEstimatedCommission: d("1000")},
			expected: "123.45",
		},
		{
			name:     "new business at half",
			txn:      Transaction{TransactionType: TypeNew, AgencyEstimatedCommission: d("200")},
			expected: "100",
		},
		{
			name:     "renewal at quarter",
			txn:      Transaction{TransactionType: TypeRenewal, AgencyEstimatedCommission: d("200")},
			expected: "50",
		},
		{
			name:     "cancellation owes nothing",
			txn:      Transaction{TransactionType: TypeCancel, AgencyEstimatedCommission: d("200")},
			expected: "0",
		},
		{
			name: "endorsement on origination date",
			txn: Transaction{TransactionType: TypeEndorsement, AgencyEstimatedCommission: d("200"),
				OriginationDate: date("2024-01-01"), EffectiveDate: date("2024-01-01")},
			expected: "100",
		},
		{
			name: "endorsement mid term",
			txn: Transaction{TransactionType: TypeEndorsement, AgencyEstimatedCommission: d("200"),
				OriginationDate: date("2024-01-01"), EffectiveDate: date("2024-03-15")},
			expected: "50",
		},
		{
			name:     "revenue from premium and percent",
			txn:      Transaction{TransactionType: TypeNewBusiness, PremiumSold: d("1200"), CommissionPercent: d("15")},
			expected: "90",
		},
		{
			name:     "unknown type at default rate",
			txn:      Transaction{TransactionType: "AUDIT", AgencyEstimatedCommission: d("100")},
			expected: "25",
		},
		{
			name:     "audit entry owes nothing",
			txn:      Transaction{Kind: KindStatement, AgentEstimatedCommission: d("100")},
			expected: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.txn.CommissionOwed()
			if !got.Equal(d(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"100.00", "100", false},
		{"$1,234.56", "1234.56", false},
		{"(50.25)", "-50.25", false},
		{"-$20", "-20", false},
		{"  7 ", "7", false},
		{"", "", true},
		{"abc", "", true},
		{"(-5)", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(d(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	inputs := []string{"2024-06-30", "06/30/2024", "6/30/2024", "6/30/24", "06-30-2024", "Jun 30, 2024", "2024-06-30T10:15:00Z"}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			got, err := ParseDate(input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if FormatDate(got) != "2024-06-30" {
				t.Errorf("expected 2024-06-30, got %s", FormatDate(got))
			}
		})
	}

	if _, err := ParseDate("30th of June"); err == nil {
		t.Error("expected error for unparseable date")
	}
	if got, err := ParseOptionalDate(""); err != nil || !got.IsZero() {
		t.Error("expected blank optional date to be zero")
	}
}

func TestWithinPercent(t *testing.T) {
	tests := []struct {
		actual, expected string
		pct              float64
		want             bool
	}{
		{"104", "100", 5, true},
		{"105", "100", 5, true},
		{"105.01", "100", 5, false},
		{"95", "100", 5, true},
		{"10", "0", 5, false},
	}

	for _, tt := range tests {
		if got := WithinPercent(d(tt.actual), d(tt.expected), tt.pct); got != tt.want {
			t.Errorf("WithinPercent(%s, %s, %.0f) = %v, want %v", tt.actual, tt.expected, tt.pct, got, tt.want)
		}
	}
}

func TestColumnMappingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mapping ColumnMapping
		wantErr bool
	}{
		{"customer and amount", ColumnMapping{FieldCustomer: "Insured", FieldAgentPaidAmount: "Commission"}, false},
		{"policy and amount", ColumnMapping{FieldPolicyNumber: "Policy", FieldAgentPaidAmount: "Commission"}, false},
		{"missing amount", ColumnMapping{FieldCustomer: "Insured"}, true},
		{"missing customer and policy", ColumnMapping{FieldAgentPaidAmount: "Commission"}, true},
		{"unknown field", ColumnMapping{FieldCustomer: "Insured", FieldAgentPaidAmount: "Commission", "Color": "c"}, true},
		{"empty column", ColumnMapping{FieldCustomer: " ", FieldAgentPaidAmount: "Commission"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mapping.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestMapStatementRow(t *testing.T) {
	mapping := ColumnMapping{
		FieldCustomer:        "Insured Name",
		FieldPolicyNumber:    "Policy #",
		FieldEffectiveDate:   "Eff Date",
		FieldAgentPaidAmount: "Agent Comm",
	}

	raw := RawRow{Number: 3, Values: map[string]string{
		"insured name": " Acme Inc ",
		"Policy #":     "P-100",
		"Eff Date":     "01/15/2024",
		"Agent Comm":   "$1,050.00",
	}}

	row, rowErr := MapStatementRow(raw, mapping)
	if rowErr != nil {
		t.Fatalf("unexpected row error: %v", rowErr)
	}
	if row.Customer != "Acme Inc" {
		t.Errorf("expected case-insensitive header lookup, got %q", row.Customer)
	}
	if !row.AgentPaidAmount.Equal(d("1050")) {
		t.Errorf("expected 1050, got %s", row.AgentPaidAmount)
	}
	if !row.HasKey() || FormatDate(row.EffectiveDate) != "2024-01-15" {
		t.Errorf("expected policy/date key, got %q %s", row.PolicyNumber, FormatDate(row.EffectiveDate))
	}

	raw.Values["Agent Comm"] = "n/a"
	if _, rowErr := MapStatementRow(raw, mapping); rowErr == nil || rowErr.Location.Column != "Agent Comm" {
		t.Errorf("expected invalid amount error on Agent Comm, got %v", rowErr)
	}

	raw.Values["Agent Comm"] = ""
	if _, rowErr := MapStatementRow(raw, mapping); rowErr == nil {
		t.Error("expected missing amount error")
	}
}

func TestMapStatementRowValidation(t *testing.T) {
	mapping := ColumnMapping{
		FieldCustomer:        "Insured Name",
		FieldPolicyNumber:    "Policy #",
		FieldAgentPaidAmount: "Agent Comm",
	}

	tests := []struct {
		name     string
		customer string
		policy   string
		code     errors.ErrorCode
		column   string
	}{
		{name: "customer only", customer: "Acme Inc"},
		{name: "policy only", policy: "P-100"},
		{name: "neither", code: errors.CodeMissingField, column: "Insured Name"},
		{name: "customer too long", customer: strings.Repeat("a", 257), code: errors.CodeInvalidData, column: "Insured Name"},
		{name: "policy too long", customer: "Acme Inc", policy: strings.Repeat("9", 129), code: errors.CodeInvalidData, column: "Policy #"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := RawRow{Number: 4, Values: map[string]string{
				"Insured Name": tt.customer,
				"Policy #":     tt.policy,
				"Agent Comm":   "10.00",
			}}

			row, rowErr := MapStatementRow(raw, mapping)
			if tt.code == "" {
				if rowErr != nil {
					t.Fatalf("unexpected row error: %v", rowErr)
				}
				if err := row.Validate(); err != nil {
					t.Errorf("expected mapped row to validate, got %v", err)
				}
				return
			}
			if rowErr == nil {
				t.Fatal("expected a row error")
			}
			if rowErr.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, rowErr.Code)
			}
			if rowErr.Location == nil || rowErr.Location.Column != tt.column || rowErr.Location.Row != 4 {
				t.Errorf("expected error on row 4 column %q, got %+v", tt.column, rowErr.Location)
			}
		})
	}
}

func TestTransactionID(t *testing.T) {
	gen := NewIDGenerator()
	seen := make(map[string]bool)

	for i := 0; i < 200; i++ {
		id := gen.TransactionID()
		if len(id) != IDLength {
			t.Fatalf("expected length %d, got %q", IDLength, id)
		}

		letters, digits := 0, 0
		for _, r := range id {
			switch {
			case unicode.IsUpper(r):
				letters++
			case unicode.IsDigit(r):
				digits++
			default:
				t.Fatalf("unexpected character %q in %q", r, id)
			}
		}
		if letters < 3 || digits < 3 {
			t.Errorf("expected at least 3 letters and 3 digits, got %q", id)
		}
		seen[id] = true
	}

	if len(seen) < 195 {
		t.Errorf("expected ids to be mostly unique, got %d distinct of 200", len(seen))
	}
}

func TestReconciliationID(t *testing.T) {
	fixed := NewIDGeneratorWithEntropy(func() [16]byte { return [16]byte{} })

	id := fixed.ReconciliationID(KindStatement, date("2024-06-30"))
	if id != "AA000AA-STMT-20240630" {
		t.Errorf("expected deterministic id, got %q", id)
	}
	if !IsReconciliationID(id) {
		t.Errorf("expected %q to be a reconciliation id", id)
	}
	if IsReconciliationID("AAA000A") {
		t.Error("expected bare transaction id not to match")
	}
	if got := ReconciliationID("abc1234", KindVoid, date("2024-07-01")); got != "ABC1234-VOID-20240701" {
		t.Errorf("unexpected void id %q", got)
	}
}
