package parsers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
)

// Helper function to create a temporary file with the given content
func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

// Helper function to create a workbook whose named sheet holds rows
func createTempXLSX(t *testing.T, sheet string, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		if _, err := f.NewSheet(sheet); err != nil {
			t.Fatalf("Failed to create sheet: %v", err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("Failed to build cell name: %v", err)
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatalf("Failed to write row: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "statement.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("Failed to save workbook: %v", err)
	}
	return path
}

func statementMapping() models.ColumnMapping {
	return models.ColumnMapping{
		models.FieldCustomer:        "Insured",
		models.FieldPolicyNumber:    "Policy #",
		models.FieldEffectiveDate:   "Eff Date",
		models.FieldAgentPaidAmount: "Commission",
	}
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.TrimLeadingSpace {
		t.Error("Expected TrimLeadingSpace to be true")
	}
	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
	if !config.ValidateEncoding {
		t.Error("Expected ValidateEncoding to be true")
	}
}

func TestParseContext_GetColumnIndex(t *testing.T) {
	parseCtx := NewParseContext(context.Background(), "test.csv")
	parseCtx.SetHeaders([]string{"\uFEFFInsured", " Policy # ", "Commission"})

	if index := parseCtx.GetColumnIndex("Insured"); index != 0 {
		t.Errorf("Expected index 0 for BOM-prefixed header, got %d", index)
	}
	if index := parseCtx.GetColumnIndex("Policy #"); index != 1 {
		t.Errorf("Expected index 1 for trimmed header, got %d", index)
	}
	if index := parseCtx.GetColumnIndex("COMMISSION"); index != 2 {
		t.Errorf("Expected index 2 for 'COMMISSION' (case insensitive), got %d", index)
	}
	if index := parseCtx.GetColumnIndex("nonexistent"); index != -1 {
		t.Errorf("Expected -1 for nonexistent column, got %d", index)
	}
}

func TestLoadStatement_CSV(t *testing.T) {
	content := "\uFEFFInsured,Policy #,Eff Date,Commission\n" +
		"Barboun LLC,PN-1,01/15/2024,\"$1,250.00\"\n" +
		",,,\n" +
		"Smith Bakery,PN-2,2024-02-01,80\n" +
		"Short Row,PN-3\n"
	path := createTempFile(t, "statement.csv", content)

	table, err := LoadStatement(context.Background(), path, StatementOptions{Mapping: statementMapping()})
	if err != nil {
		t.Fatalf("LoadStatement failed: %v", err)
	}

	if len(table.Headers) != 4 || table.Headers[0] != "Insured" {
		t.Errorf("Expected 4 cleaned headers starting with Insured, got %v", table.Headers)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("Expected 3 rows (empty row skipped), got %d", len(table.Rows))
	}

	first := table.Rows[0]
	if first.Number != 2 {
		t.Errorf("Expected first data row to be row 2, got %d", first.Number)
	}
	if got := first.Get("Commission"); got != "$1,250.00" {
		t.Errorf("Expected quoted amount to survive, got %q", got)
	}
	if table.Rows[1].Number != 4 {
		t.Errorf("Expected row numbers to count skipped rows, got %d", table.Rows[1].Number)
	}
	if got := table.Rows[2].Get("Commission"); got != "" {
		t.Errorf("Expected missing trailing column to be empty, got %q", got)
	}

	row, rowErr := models.MapStatementRow(first, statementMapping())
	if rowErr != nil {
		t.Fatalf("MapStatementRow failed: %v", rowErr)
	}
	if row.AgentPaidAmount.StringFixed(2) != "1250.00" {
		t.Errorf("Expected 1250.00, got %s", row.AgentPaidAmount.StringFixed(2))
	}
}

func TestLoadStatement_MissingColumns(t *testing.T) {
	path := createTempFile(t, "statement.csv", "Insured,Commission\nBarboun LLC,10\n")

	_, err := LoadStatement(context.Background(), path, StatementOptions{Mapping: statementMapping()})
	if err == nil {
		t.Fatal("Expected missing column error")
	}
	if !errors.HasCode(err, errors.CodeMissingColumn) {
		t.Errorf("Expected missing_column code, got %v", err)
	}
	if !strings.Contains(err.Error(), "Policy #") || !strings.Contains(err.Error(), "Eff Date") {
		t.Errorf("Expected error to name the missing columns, got %q", err.Error())
	}
}

func TestLoadStatement_InvalidMapping(t *testing.T) {
	path := createTempFile(t, "statement.csv", "Insured,Commission\nBarboun LLC,10\n")
	mapping := models.ColumnMapping{models.FieldCustomer: "Insured"}

	_, err := LoadStatement(context.Background(), path, StatementOptions{Mapping: mapping})
	if !errors.HasCode(err, errors.CodeInvalidMapping) {
		t.Errorf("Expected invalid_mapping, got %v", err)
	}
}

func TestLoadStatement_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		code errors.ErrorCode
	}{
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.csv") },
			code: errors.CodeFileNotFound,
		},
		{
			name: "unsupported extension",
			path: func(t *testing.T) string { return createTempFile(t, "statement.pdf", "x") },
			code: errors.CodeUnsupportedFile,
		},
		{
			name: "invalid utf-8",
			path: func(t *testing.T) string { return createTempFile(t, "statement.csv", "Insured\n\xff\xfe\n") },
			code: errors.CodeInvalidFormat,
		},
		{
			name: "empty file",
			path: func(t *testing.T) string { return createTempFile(t, "statement.csv", "") },
			code: errors.CodeMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadStatement(context.Background(), tt.path(t), StatementOptions{})
			if !errors.HasCode(err, tt.code) {
				t.Errorf("Expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestLoadStatement_CanceledContext(t *testing.T) {
	path := createTempFile(t, "statement.csv", "Insured,Commission\nBarboun LLC,10\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := LoadStatement(ctx, path, StatementOptions{}); err == nil {
		t.Error("Expected error for canceled context")
	}
}

func TestLoadStatement_XLSX(t *testing.T) {
	path := createTempXLSX(t, "March", [][]interface{}{
		{"Carrier statement March 2024"},
		{},
		{"Insured", "Policy #", "Eff Date", "Commission"},
		{"Barboun LLC", "PN-1", "2024-01-15", "150.00"},
		{},
		{"Smith Bakery", "PN-2", "2024-02-01", "75.50"},
	})

	t.Run("named sheet", func(t *testing.T) {
		table, err := LoadStatement(context.Background(), path, StatementOptions{Sheet: "March"})
		if err != nil {
			t.Fatalf("LoadStatement failed: %v", err)
		}
		// the title line is the first non-empty row, so it becomes the header
		if len(table.Rows) != 3 {
			t.Fatalf("Expected 3 rows below the title, got %d", len(table.Rows))
		}
	})

	t.Run("missing sheet", func(t *testing.T) {
		_, err := LoadStatement(context.Background(), path, StatementOptions{Sheet: "April"})
		if !errors.HasCode(err, errors.CodeInvalidFormat) {
			t.Errorf("Expected invalid_format for unknown sheet, got %v", err)
		}
	})
}

func TestLoadStatement_XLSXFirstSheet(t *testing.T) {
	path := createTempXLSX(t, "Sheet1", [][]interface{}{
		{"Insured", "Policy #", "Eff Date", "Commission"},
		{"Barboun LLC", "PN-1", "2024-01-15", 150.5},
		{"Smith Bakery", "PN-2", "2024-02-01", "75.50"},
	})

	table, err := LoadStatement(context.Background(), path, StatementOptions{Mapping: statementMapping()})
	if err != nil {
		t.Fatalf("LoadStatement failed: %v", err)
	}
	if table.Sheet != "Sheet1" {
		t.Errorf("Expected first sheet, got %q", table.Sheet)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(table.Rows))
	}
	if table.Rows[0].Number != 2 || table.Rows[1].Number != 3 {
		t.Errorf("Expected worksheet row numbers 2 and 3, got %d and %d", table.Rows[0].Number, table.Rows[1].Number)
	}
	if got := table.Rows[0].Get("Commission"); got != "150.5" {
		t.Errorf("Expected numeric cell 150.5, got %q", got)
	}
}

func TestPolicyConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*PolicyConfig)
		wantErr bool
	}{
		{name: "default", modify: func(*PolicyConfig) {}},
		{
			name: "no customer or policy",
			modify: func(pc *PolicyConfig) {
				delete(pc.Columns, PolicyCustomer)
				delete(pc.Columns, PolicyNumber)
			},
			wantErr: true,
		},
		{
			name:    "no effective date",
			modify:  func(pc *PolicyConfig) { pc.Columns[PolicyEffectiveDate] = "" },
			wantErr: true,
		},
		{
			name: "alias restores a column",
			modify: func(pc *PolicyConfig) {
				pc.Columns[PolicyEffectiveDate] = ""
				pc.ColumnAliases = map[string]string{PolicyEffectiveDate: "Eff"}
			},
		},
		{
			name:    "negative max errors",
			modify:  func(pc *PolicyConfig) { pc.MaxErrors = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultPolicyConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPolicies(t *testing.T) {
	content := strings.Join([]string{
		"Transaction ID,Customer,Policy Number,Carrier Name,Effective Date,Policy Origination Date,Transaction Type,Premium Sold,Policy Gross Comm %,Agent Estimated Comm $",
		"T1,Barboun LLC,pn-1,Acme,01/15/2024,01/15/2024,NEW,1200,10%,",
		",Smith Bakery,PN-2,Acme,2024-02-01,,RWL,1000,12,30.00",
		"T3,Broken Date,PN-3,Acme,31/31/2024,,NEW,100,10,",
		"T4,Broken Amount,PN-4,Acme,2024-02-01,,NEW,abc,10,",
		"T5,,,Acme,2024-02-01,,NEW,100,10,",
	}, "\n")
	path := createTempFile(t, "policies.csv", content)

	txns, stats, err := LoadPolicies(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	if len(txns) != 2 {
		t.Fatalf("Expected 2 valid policies, got %d", len(txns))
	}
	if stats.RecordsParsed != 5 || stats.RecordsValid != 2 || stats.ErrorCount() != 3 {
		t.Errorf("Unexpected stats: %s", stats)
	}

	first := txns[0]
	if first.ID != "T1" || !first.IsOriginal() || first.ReconciliationStatus != models.StatusUnreconciled {
		t.Errorf("Unexpected first policy: %s", first)
	}
	if first.CarrierName != "Acme" {
		t.Errorf("Expected carrier Acme, got %q", first.CarrierName)
	}
	// 1200 * 10% = 120 agency revenue, NEW earns half
	if got := first.CommissionOwed().StringFixed(2); got != "60.00" {
		t.Errorf("Expected derived commission 60.00, got %s", got)
	}

	second := txns[1]
	if second.ID != "" {
		t.Errorf("Expected blank id to be left for the importer, got %q", second.ID)
	}
	if got := second.CommissionOwed().StringFixed(2); got != "30.00" {
		t.Errorf("Expected recorded estimate 30.00, got %s", got)
	}

	wantCodes := []errors.ErrorCode{errors.CodeInvalidDate, errors.CodeInvalidAmount, errors.CodeMissingField}
	for i, code := range wantCodes {
		if stats.Errors[i].Code != code {
			t.Errorf("Error %d: expected %s, got %s", i, code, stats.Errors[i].Code)
		}
		if stats.Errors[i].Location.Row != i+4 {
			t.Errorf("Error %d: expected row %d, got %d", i, i+4, stats.Errors[i].Location.Row)
		}
	}
}

func TestLoadPolicies_MaxErrors(t *testing.T) {
	lines := []string{"Customer,Policy Number,Effective Date"}
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("Customer %d,PN-%d,not-a-date", i, i))
	}
	path := createTempFile(t, "policies.csv", strings.Join(lines, "\n"))

	config := DefaultPolicyConfig()
	config.MaxErrors = 3
	txns, stats, err := LoadPolicies(context.Background(), path, config)
	if err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}
	if len(txns) != 0 {
		t.Errorf("Expected no valid policies, got %d", len(txns))
	}
	if stats.ErrorCount() != 3 {
		t.Errorf("Expected loading to stop after 3 errors, got %d", stats.ErrorCount())
	}
}

func TestLoadPolicies_Aliases(t *testing.T) {
	path := createTempFile(t, "policies.csv", "Insured,Policy,Eff\nBarboun LLC,PN-1,2024-01-15\n")

	config := DefaultPolicyConfig()
	config.ColumnAliases = map[string]string{
		PolicyCustomer:      "Insured",
		PolicyNumber:        "Policy",
		PolicyEffectiveDate: "Eff",
	}
	txns, _, err := LoadPolicies(context.Background(), path, config)
	if err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}
	if len(txns) != 1 || txns[0].Customer != "Barboun LLC" {
		t.Fatalf("Expected one aliased policy, got %v", txns)
	}
}

func TestLoadPolicies_MissingColumns(t *testing.T) {
	path := createTempFile(t, "policies.csv", "Customer,Premium\nBarboun LLC,100\n")

	_, _, err := LoadPolicies(context.Background(), path, nil)
	if !errors.HasCode(err, errors.CodeMissingColumn) {
		t.Errorf("Expected missing_column, got %v", err)
	}
}
