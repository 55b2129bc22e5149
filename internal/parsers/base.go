// Package parsers loads commission statements and policy exports from CSV
// and XLSX files.
//
// Statement files are read as raw tables keyed by header name; the column
// mapping chosen by the user turns them into statement rows later. Policy
// exports are read straight into original transactions with per-row errors
// collected rather than dropped.
//
// Example usage:
//
//	table, err := parsers.LoadStatement(ctx, "march.xlsx", parsers.StatementOptions{Mapping: mapping})
//	policies, stats, err := parsers.LoadPolicies(ctx, "policies.csv", parsers.DefaultPolicyConfig())
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

const utf8BOM = "\uFEFF"

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context for source
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:    source,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// Err returns the cancellation error of the underlying context, if any
func (pc *ParseContext) Err() error {
	return pc.ctx.Err()
}

// SetHeaders records the header row, trimming names and a leading BOM
func (pc *ParseContext) SetHeaders(headers []string) {
	pc.Headers = cleanHeaders(headers)
	pc.HeaderMap = make(map[string]int, len(pc.Headers))
	for i, h := range pc.Headers {
		if _, dup := pc.HeaderMap[h]; !dup {
			pc.HeaderMap[h] = i
		}
	}
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}

	lowerName := strings.ToLower(strings.TrimSpace(name))
	for i, header := range pc.Headers {
		if strings.ToLower(header) == lowerName {
			return i
		}
	}
	return -1
}

// OpenFile opens a CSV file and returns a configured csv.Reader
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := openFile(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")
		return nil, nil, err
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			bp.logger.WithError(err).WithField("file_path", filePath).Error("File encoding validation failed")
			return nil, nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	return file, bp.NewReader(file), nil
}

// NewReader wraps r in a csv.Reader configured for statement files
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

func openFile(filePath string) (*os.File, error) {
	file, err := os.Open(filePath)
	if err == nil {
		return file, nil
	}
	switch {
	case os.IsNotExist(err):
		return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
	case os.IsPermission(err):
		return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
	default:
		return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
}

// validateEncoding checks that the first lines of the file are valid UTF-8
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(errors.CodeInvalidFormat, filePath, lineNum, "encoding", "",
				fmt.Errorf("invalid UTF-8 encoding detected")).
				WithSuggestion("save the statement as UTF-8 CSV or as .xlsx and try again")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	return nil
}

// ReadHeaders reads the header row into parseCtx
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext) error {
	headers, err := reader.Read()
	if err == io.EOF {
		return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
			WithSuggestion("the file must contain a header row and data rows")
	}
	if err != nil {
		return errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, 1, "headers", "", err).
			WithSuggestion("check that the file is a valid CSV")
	}

	parseCtx.LineNumber++
	parseCtx.SetHeaders(headers)
	bp.logger.WithField("headers", parseCtx.Headers).Debug("Read headers")
	return nil
}

// ReadRecord reads the next non-empty record and moves LineNumber to the
// line it starts on. It returns io.EOF at the end of the file.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if err := parseCtx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil, err
		}
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, parseCtx.LineNumber+1, "", "", err)
		}
		parseCtx.LineNumber, _ = reader.FieldPos(0)

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(errors.CodeInvalidData, parseCtx.Source, parseCtx.LineNumber,
						fmt.Sprintf("field_%d", i), field[:50]+"...",
						fmt.Errorf("field exceeds %d bytes", bp.config.MaxFieldSize))
				}
			}
		}
		return record, nil
	}
}

// RecordValues keys a record by header name. Short records leave the
// missing columns empty.
func (pc *ParseContext) RecordValues(record []string) map[string]string {
	values := make(map[string]string, len(pc.Headers))
	for i, h := range pc.Headers {
		if h == "" {
			continue
		}
		if _, seen := values[h]; seen {
			continue
		}
		if i < len(record) {
			values[h] = strings.TrimSpace(record[i])
		} else {
			values[h] = ""
		}
	}
	return values
}

func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		if i == 0 {
			header = strings.TrimPrefix(header, utf8BOM)
		}
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	Source        string             `json:"source"`
	TotalLines    int                `json:"total_lines"`
	RecordsParsed int                `json:"records_parsed"`
	RecordsValid  int                `json:"records_valid"`
	Errors        []*errors.RowError `json:"errors,omitempty"`
}

// ErrorCount returns the number of rows that failed
func (ps *ParseStats) ErrorCount() int {
	return len(ps.Errors)
}

// ErrorRate returns the share of parsed records that failed, as a percentage
func (ps *ParseStats) ErrorRate() float64 {
	if ps.RecordsParsed == 0 {
		return 0
	}
	return float64(len(ps.Errors)) / float64(ps.RecordsParsed) * 100
}

// String returns a one-line summary
func (ps *ParseStats) String() string {
	return fmt.Sprintf("ParseStats{Lines: %d, Parsed: %d, Valid: %d, Errors: %d (%.2f%%)}",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, len(ps.Errors), ps.ErrorRate())
}
