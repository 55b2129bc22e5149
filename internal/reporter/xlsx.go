package reporter

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"commission-reconciliation-service/pkg/errors"
)

const (
	summarySheet = "Summary"
	maxSheetName = 31
)

// generateXLSXReport writes a workbook with a summary sheet and one sheet
// per table. Cells that hold amounts or row numbers are written as numbers.
func (rg *ReportGenerator) generateXLSXReport(doc *Document, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return rg.xlsxError(err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return rg.xlsxError(err)
	}

	f.SetCellValue(summarySheet, "A1", doc.Title)
	f.SetCellStyle(summarySheet, "A1", "A1", bold)
	if doc.Subtitle != "" {
		f.SetCellValue(summarySheet, "B1", doc.Subtitle)
	}
	for i, field := range doc.Summary {
		row := i + 3
		f.SetCellValue(summarySheet, "A"+fmt.Sprint(row), field.Label)
		f.SetCellValue(summarySheet, "B"+fmt.Sprint(row), cellValue(field.Value))
	}
	for i, note := range doc.Notes {
		f.SetCellValue(summarySheet, "A"+fmt.Sprint(len(doc.Summary)+4+i), note)
	}

	used := map[string]bool{summarySheet: true}
	for _, table := range doc.Tables {
		name := sheetName(table.Title, used)
		if _, err := f.NewSheet(name); err != nil {
			return rg.xlsxError(err)
		}

		header := make([]interface{}, len(table.Headers))
		for i, h := range table.Headers {
			header[i] = h
		}
		if err := f.SetSheetRow(name, "A1", &header); err != nil {
			return rg.xlsxError(err)
		}
		if len(table.Headers) > 0 {
			last, _ := excelize.CoordinatesToCellName(len(table.Headers), 1)
			f.SetCellStyle(name, "A1", last, bold)
		}

		for i, row := range table.Rows {
			values := make([]interface{}, len(row))
			for j, v := range row {
				values[j] = cellValue(v)
			}
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				return rg.xlsxError(err)
			}
		}
	}

	if err := f.Write(writer); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "xlsx report", err).
			WithSuggestion("write XLSX reports to a file with --output")
	}
	return nil
}

func (rg *ReportGenerator) xlsxError(err error) error {
	return errors.InternalError(errors.CodeUnexpectedError, "xlsx report", err)
}

// cellValue stores plain numbers as numbers so spreadsheets can sum them
func cellValue(v string) interface{} {
	if v == "" || (len(v) > 1 && v[0] == '0' && v[1] != '.') {
		return v
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if d, err := decimal.NewFromString(v); err == nil && !strings.ContainsAny(v, "eE") {
		f, _ := d.Float64()
		return f
	}
	return v
}

// sheetName trims a title to the worksheet name limit and keeps it unique
func sheetName(title string, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '-'
		}
		return r
	}, title)
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	base := name
	for n := 2; used[name]; n++ {
		suffix := fmt.Sprintf(" %d", n)
		if len(base)+len(suffix) > maxSheetName {
			base = base[:maxSheetName-len(suffix)]
		}
		name = base + suffix
	}
	used[name] = true
	return name
}
