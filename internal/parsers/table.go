package parsers

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// Table is a header row plus the data rows of a CSV file or worksheet
type Table struct {
	Source  string          `json:"source"`
	Sheet   string          `json:"sheet,omitempty"`
	Headers []string        `json:"headers"`
	Rows    []models.RawRow `json:"rows"`
}

// HasColumn reports whether the header contains name, ignoring case
func (t *Table) HasColumn(name string) bool {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, h := range t.Headers {
		if strings.ToLower(h) == want {
			return true
		}
	}
	return false
}

// CheckColumns returns a row error naming every column absent from the header
func (t *Table) CheckColumns(columns []string) error {
	for _, c := range columns {
		if !t.HasColumn(c) {
			return errors.MissingColumnsError(t.Source, columns, t.Headers)
		}
	}
	return nil
}

// TableOptions controls how a file is read into a Table
type TableOptions struct {
	// Sheet selects a worksheet by name; the first sheet is used when empty
	Sheet string

	// Parse configures CSV reading
	Parse *ParseConfig
}

// ReadTable reads a CSV or XLSX file, picking the reader by extension
func ReadTable(ctx context.Context, path string, opts TableOptions) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return readCSVTable(ctx, path, opts.Parse)
	case ".xlsx", ".xlsm":
		return readXLSXTable(ctx, path, opts.Sheet)
	default:
		return nil, errors.FileError(errors.CodeUnsupportedFile, path, nil)
	}
}

func readCSVTable(ctx context.Context, path string, config *ParseConfig) (*Table, error) {
	bp := NewBaseParser(config)
	file, reader, err := bp.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, path)
	if err := bp.ReadHeaders(reader, parseCtx); err != nil {
		return nil, err
	}

	table := &Table{Source: path, Headers: parseCtx.Headers}
	for {
		record, err := bp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		table.Rows = append(table.Rows, models.RawRow{
			Number: parseCtx.LineNumber,
			Values: parseCtx.RecordValues(record),
		})
	}

	bp.logger.WithFields(logger.Fields{
		"file_path": path,
		"rows":      len(table.Rows),
		"columns":   len(table.Headers),
	}).Debug("Read CSV table")
	return table, nil
}
