package parsers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// readXLSXTable reads one worksheet. The first non-empty row is the header;
// row numbers are the worksheet's own, so they match what the user sees.
func readXLSXTable(ctx context.Context, path, sheet string) (*Table, error) {
	log := logger.GetGlobalLogger().WithComponent("parser")

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, fmt.Errorf("workbook has no sheets"))
	}
	if sheet == "" {
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "sheet", sheet,
			fmt.Errorf("sheet %q not found", sheet)).
			WithSuggestion(fmt.Sprintf("available sheets: %s", strings.Join(sheets, ", ")))
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}

	parseCtx := NewParseContext(ctx, path)
	table := &Table{Source: path, Sheet: sheet}
	for i, record := range rows {
		if err := parseCtx.Err(); err != nil {
			return nil, err
		}
		if isEmptyRecord(record) {
			continue
		}
		if table.Headers == nil {
			parseCtx.SetHeaders(record)
			table.Headers = parseCtx.Headers
			continue
		}
		table.Rows = append(table.Rows, models.RawRow{
			Number: i + 1,
			Values: parseCtx.RecordValues(record),
		})
	}

	if table.Headers == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
			WithSuggestion("the sheet must contain a header row and data rows")
	}

	log.WithFields(logger.Fields{
		"file_path": path,
		"sheet":     sheet,
		"rows":      len(table.Rows),
	}).Debug("Read XLSX table")
	return table, nil
}
