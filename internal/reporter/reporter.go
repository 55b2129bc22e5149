// Package reporter renders reconciliation results for people and programs.
//
// Every result the service produces (statement runs, balances, commits,
// voids, adjustments, imports and batch history) is first turned into a
// Document: a title, a list of summary fields and a few tables. The
// console, CSV and XLSX writers work from the Document; JSON output
// encodes the original result so no detail is lost.
//
// Supported output formats:
//   - Console: styled text for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one flat file with a leading section column
//   - XLSX: one worksheet per table plus a summary sheet
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = generator.GenerateReport(runResult, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"commission-reconciliation-service/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the format should not be written to a terminal
func (f OutputFormat) IsBinary() bool {
	return f == FormatXLSX
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeMatched  bool `json:"include_matched" mapstructure:"include_matched"`
	IncludeSkipped  bool `json:"include_skipped" mapstructure:"include_skipped"`
	IncludeEntries  bool `json:"include_entries" mapstructure:"include_entries"`
	OnlyOutstanding bool `json:"only_outstanding" mapstructure:"only_outstanding"`

	// Console formatting options
	UseColors bool `json:"use_colors" mapstructure:"use_colors"`
	MaxItems  int  `json:"max_items" mapstructure:"max_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:          FormatConsole,
		IncludeMatched:  true,
		IncludeSkipped:  false,
		IncludeEntries:  true,
		OnlyOutstanding: false,
		UseColors:       true,
		MaxItems:        50,
		CSVDelimiter:    ',',
		CSVHeaders:      true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

type styles struct {
	title   lipgloss.Style
	section lipgloss.Style
	label   lipgloss.Style
	header  lipgloss.Style
	good    lipgloss.Style
	warn    lipgloss.Style
	subtle  lipgloss.Style
}

func newStyles(colors bool) styles {
	if !colors {
		plain := lipgloss.NewStyle()
		return styles{title: plain, section: plain, label: plain, header: plain, good: plain, warn: plain, subtle: plain}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		header:  lipgloss.NewStyle().Bold(true),
		good:    lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4")),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFE66D")),
		subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

// ReportGenerator generates reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	styles styles
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report", string(config.Format), err).
			WithSuggestion("use one of: console, json, csv, xlsx")
	}

	return &ReportGenerator{
		config: config,
		styles: newStyles(config.UseColors),
	}, nil
}

// GenerateReport renders a result and writes it to the provided writer
func (rg *ReportGenerator) GenerateReport(result interface{}, writer io.Writer) error {
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil)
	}
	doc, err := rg.Build(result)
	if err != nil {
		return err
	}
	return rg.Render(doc, writer)
}

// Render writes an already built document
func (rg *ReportGenerator) Render(doc *Document, writer io.Writer) error {
	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(doc, writer)
	case FormatJSON:
		return rg.generateJSONReport(doc, writer)
	case FormatCSV:
		return rg.generateCSVReport(doc, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(doc, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(doc *Document, writer io.Writer) error {
	ew := &errWriter{w: writer}
	s := rg.styles

	ew.printf("%s\n", s.title.Render(strings.ToUpper(doc.Title)))
	if doc.Subtitle != "" {
		ew.printf("%s\n", s.subtle.Render(doc.Subtitle))
	}
	ew.printf("\n")

	if len(doc.Summary) > 0 {
		width := 0
		for _, f := range doc.Summary {
			if len(f.Label) > width {
				width = len(f.Label)
			}
		}
		for _, f := range doc.Summary {
			value := f.Value
			switch f.Tone {
			case ToneGood:
				value = s.good.Render(value)
			case ToneWarn:
				value = s.warn.Render(value)
			}
			ew.printf("%s  %s\n", s.label.Render(fmt.Sprintf("%-*s", width+1, f.Label+":")), value)
		}
		ew.printf("\n")
	}

	for _, table := range doc.Tables {
		ew.printf("%s\n", s.section.Render(fmt.Sprintf("=== %s (%d) ===", strings.ToUpper(table.Title), len(table.Rows))))
		if len(table.Rows) == 0 {
			ew.printf("%s\n\n", s.subtle.Render("  none"))
			continue
		}
		rg.printTable(ew, table)
		ew.printf("\n")
	}

	for _, note := range doc.Notes {
		ew.printf("%s\n", s.warn.Render("! "+note))
	}
	return ew.err
}

func (rg *ReportGenerator) printTable(ew *errWriter, table *Table) {
	tw := tabwriter.NewWriter(ew, 0, 0, 2, ' ', 0)

	headers := make([]string, len(table.Headers))
	for i, h := range table.Headers {
		headers[i] = rg.styles.header.Render(h)
	}
	fmt.Fprintf(tw, "  %s\n", strings.Join(headers, "\t"))

	rows := table.Rows
	limit := rg.config.MaxItems
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "  %s\n", strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil && ew.err == nil {
		ew.err = err
	}

	if len(rows) < len(table.Rows) {
		ew.printf("%s\n", rg.styles.subtle.Render(fmt.Sprintf("  ... and %d more", len(table.Rows)-len(rows))))
	}
}

// generateJSONReport encodes the result behind the document
func (rg *ReportGenerator) generateJSONReport(doc *Document, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	payload := doc.Payload
	if payload == nil {
		payload = doc
	}
	if err := encoder.Encode(payload); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "json report", err)
	}
	return nil
}

// generateCSVReport writes every table into one CSV with a section column
func (rg *ReportGenerator) generateCSVReport(doc *Document, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	for _, table := range doc.Tables {
		if rg.config.CSVHeaders {
			if err := csvWriter.Write(append([]string{"Section"}, table.Headers...)); err != nil {
				return fmt.Errorf("failed to write CSV headers: %w", err)
			}
		}
		for _, row := range table.Rows {
			if err := csvWriter.Write(append([]string{table.Title}, row...)); err != nil {
				return fmt.Errorf("failed to write %s record: %w", table.Title, err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// errWriter keeps the first write error so console output can be written
// without checking every Fprintf
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	fmt.Fprintf(ew, format, args...)
}
