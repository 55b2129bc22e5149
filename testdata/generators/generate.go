// Command generators writes a matching pair of sample files: a policy
// export for 'reconciler policies import' and a carrier statement that pays
// part of those policies.
//
//	go run ./testdata/generators -count=200 -match-ratio=0.8 -format=xlsx
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/parsers"
)

// Statement column headers written by the generator
var statementHeaders = []string{"Insured", "Policy #", "Eff Date", "Comm Paid", "Agency Comm"}

var (
	firstWords  = []string{"Barboun", "Smith", "Harbor", "Summit", "Oak", "Blue Ridge", "Cedar", "Lakeside", "Granite", "Pioneer"}
	secondWords = []string{"Bakery", "LLC", "Holdings", "Plumbing", "Dental", "Farms", "Logistics", "Auto", "Roofing", "Cafe"}
	carriers    = []string{"Acme Mutual", "Northwind", "Contoso Casualty"}
	policyTypes = []string{"GL", "WC", "BOP", "AUTO", "UMB"}
	txTypes     = []models.TransactionType{models.TypeNew, models.TypeRenewal, models.TypeEndorsement, models.TypeNewBusiness}
)

// Generator produces policy and statement records
type Generator struct {
	Count         int
	StartDate     time.Time
	EndDate       time.Time
	MinCommission decimal.Decimal
	MaxCommission decimal.Decimal
	MatchRatio    float64 // share of policies paid on the statement
	PartialRatio  float64 // share of paid rows that pay half the commission
	NoPolicyRatio float64 // share of paid rows without a policy number
	Seed          int64

	rng *rand.Rand
	ids *models.IDGenerator
}

// PolicyRecord is one row of the policy export
type PolicyRecord struct {
	ID              string
	Customer        string
	PolicyNumber    string
	PolicyType      string
	Carrier         string
	EffectiveDate   time.Time
	TransactionType models.TransactionType
	Premium         decimal.Decimal
	AgentCommission decimal.Decimal
}

// StatementRecord is one row of the carrier statement
type StatementRecord struct {
	Customer      string
	PolicyNumber  string
	EffectiveDate time.Time
	Paid          decimal.Decimal
	AgencyComm    decimal.Decimal
}

// NewGenerator seeds the random source and the id generator
func NewGenerator(seed int64) *Generator {
	rng := rand.New(rand.NewSource(seed))
	return &Generator{
		Count:         100,
		StartDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		MinCommission: decimal.NewFromInt(25),
		MaxCommission: decimal.NewFromInt(2500),
		MatchRatio:    0.8,
		PartialRatio:  0.1,
		NoPolicyRatio: 0.05,
		Seed:          seed,
		rng:           rng,
		ids: models.NewIDGeneratorWithEntropy(func() [16]byte {
			var b [16]byte
			rng.Read(b[:])
			return b
		}),
	}
}

func main() {
	var (
		outputDir  = flag.String("output-dir", "generated", "output directory")
		count      = flag.Int("count", 100, "number of policies to generate")
		startDate  = flag.String("start-date", "2024-01-01", "earliest effective date (YYYY-MM-DD)")
		endDate    = flag.String("end-date", "2024-12-31", "latest effective date (YYYY-MM-DD)")
		matchRatio = flag.Float64("match-ratio", 0.8, "share of policies paid on the statement (0.0-1.0)")
		format     = flag.String("format", "csv", "statement format: csv or xlsx")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "random seed for reproducible files")
	)
	flag.Parse()

	start, err := time.Parse(models.DateLayout, *startDate)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	end, err := time.Parse(models.DateLayout, *endDate)
	if err != nil {
		log.Fatalf("Invalid end date: %v", err)
	}
	if *matchRatio < 0 || *matchRatio > 1 {
		log.Fatalf("match-ratio must be between 0.0 and 1.0")
	}
	if *format != "csv" && *format != "xlsx" {
		log.Fatalf("format must be csv or xlsx")
	}

	generator := NewGenerator(*seed)
	generator.Count = *count
	generator.StartDate = start
	generator.EndDate = end
	generator.MatchRatio = *matchRatio

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	policies := generator.GeneratePolicies()
	statement, total := generator.GenerateStatement(policies)

	policyPath := filepath.Join(*outputDir, "policies.csv")
	if err := WritePolicies(policyPath, policies); err != nil {
		log.Fatalf("Failed to write policies: %v", err)
	}

	statementPath := filepath.Join(*outputDir, "statement."+*format)
	if *format == "xlsx" {
		err = WriteStatementXLSX(statementPath, statement, total)
	} else {
		err = WriteStatementCSV(statementPath, statement, total)
	}
	if err != nil {
		log.Fatalf("Failed to write statement: %v", err)
	}

	fmt.Printf("Generated %d policies in %s\n", len(policies), policyPath)
	fmt.Printf("Generated %d statement rows in %s (total %s)\n", len(statement), statementPath, total.StringFixed(2))
	fmt.Printf("Seed: %d\n\n", *seed)
	fmt.Println("Try:")
	fmt.Printf("  reconciler policies import %s\n", policyPath)
	fmt.Printf("  reconciler match --file %s --date %s \\\n", statementPath, end.Format(models.DateLayout))
	fmt.Printf("    --map customer=%q --map policy=%q --map effective=%q --map paid=%q --map agency=%q \\\n",
		statementHeaders[0], statementHeaders[1], statementHeaders[2], statementHeaders[3], statementHeaders[4])
	fmt.Printf("    --total %s\n", total.StringFixed(2))
}

// GeneratePolicies creates Count policies with unique policy numbers
func (g *Generator) GeneratePolicies() []PolicyRecord {
	days := int(g.EndDate.Sub(g.StartDate).Hours()/24) + 1
	span := g.MaxCommission.Sub(g.MinCommission)

	policies := make([]PolicyRecord, g.Count)
	for i := range policies {
		commission := g.MinCommission.Add(span.Mul(decimal.NewFromFloat(g.rng.Float64()))).Round(2)
		policies[i] = PolicyRecord{
			ID:              g.ids.TransactionID(),
			Customer:        g.customerName(),
			PolicyNumber:    fmt.Sprintf("%s-%06d", policyTypes[g.rng.Intn(len(policyTypes))], 100000+i),
			PolicyType:      policyTypes[g.rng.Intn(len(policyTypes))],
			Carrier:         carriers[g.rng.Intn(len(carriers))],
			EffectiveDate:   g.StartDate.AddDate(0, 0, g.rng.Intn(days)),
			TransactionType: txTypes[g.rng.Intn(len(txTypes))],
			Premium:         commission.Mul(decimal.NewFromInt(10)),
			AgentCommission: commission,
		}
	}
	return policies
}

// GenerateStatement pays a MatchRatio share of policies and returns the
// rows with the statement total
func (g *Generator) GenerateStatement(policies []PolicyRecord) ([]StatementRecord, decimal.Decimal) {
	var rows []StatementRecord
	total := decimal.Zero

	for _, p := range policies {
		if g.rng.Float64() >= g.MatchRatio {
			continue
		}

		paid := p.AgentCommission
		if g.rng.Float64() < g.PartialRatio {
			paid = paid.Div(decimal.NewFromInt(2)).Round(2)
		}
		row := StatementRecord{
			Customer:      p.Customer,
			PolicyNumber:  p.PolicyNumber,
			EffectiveDate: p.EffectiveDate,
			Paid:          paid,
			AgencyComm:    paid.Mul(decimal.NewFromInt(2)),
		}
		if g.rng.Float64() < g.NoPolicyRatio {
			row.PolicyNumber = ""
			row.Customer = strings.ToUpper(row.Customer)
		}

		rows = append(rows, row)
		total = total.Add(paid)
	}

	g.rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	return rows, total
}

func (g *Generator) customerName() string {
	return firstWords[g.rng.Intn(len(firstWords))] + " " + secondWords[g.rng.Intn(len(secondWords))]
}

// WritePolicies writes the policy export with the default import columns
func WritePolicies(path string, policies []PolicyRecord) error {
	columns := parsers.DefaultPolicyConfig().Columns
	fields := []string{
		parsers.PolicyID, parsers.PolicyCustomer, parsers.PolicyNumber, parsers.PolicyType,
		parsers.PolicyCarrier, parsers.PolicyEffectiveDate, parsers.PolicyTransactionType,
		parsers.PolicyPremiumSold, parsers.PolicyAgentEstimate,
	}

	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = columns[f]
	}

	records := [][]string{header}
	for _, p := range policies {
		records = append(records, []string{
			p.ID, p.Customer, p.PolicyNumber, p.PolicyType, p.Carrier,
			p.EffectiveDate.Format(models.DateLayout), string(p.TransactionType),
			p.Premium.StringFixed(2), p.AgentCommission.StringFixed(2),
		})
	}
	return writeCSV(path, records)
}

// WriteStatementCSV writes statement rows followed by a total line
func WriteStatementCSV(path string, rows []StatementRecord, total decimal.Decimal) error {
	return writeCSV(path, statementRecords(rows, total))
}

// WriteStatementXLSX writes the same layout into the first worksheet
func WriteStatementXLSX(path string, rows []StatementRecord, total decimal.Decimal) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, record := range statementRecords(rows, total) {
		values := make([]interface{}, len(record))
		for j, v := range record {
			values[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func statementRecords(rows []StatementRecord, total decimal.Decimal) [][]string {
	records := [][]string{statementHeaders}
	for _, r := range rows {
		records = append(records, []string{
			r.Customer,
			r.PolicyNumber,
			r.EffectiveDate.Format("01/02/2006"),
			r.Paid.StringFixed(2),
			r.AgencyComm.StringFixed(2),
		})
	}
	return append(records, []string{"Statement Total", "", "", total.StringFixed(2), ""})
}

func writeCSV(path string, records [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	return nil
}
