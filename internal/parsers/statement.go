package parsers

import (
	"context"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// StatementOptions controls statement loading
type StatementOptions struct {
	// Mapping, when set, is validated and its columns must all be present
	Mapping models.ColumnMapping

	// Sheet selects the worksheet of an XLSX statement
	Sheet string

	// Parse configures CSV reading
	Parse *ParseConfig
}

// LoadStatement reads a carrier statement into raw rows keyed by header.
// Values are not interpreted here; the matcher applies the mapping.
func LoadStatement(ctx context.Context, path string, opts StatementOptions) (*Table, error) {
	log := logger.GetGlobalLogger().WithComponent("parser")

	if opts.Mapping != nil {
		if err := opts.Mapping.Validate(); err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidMapping, "mapping", opts.Mapping.String(), err)
		}
	}

	table, err := ReadTable(ctx, path, TableOptions{Sheet: opts.Sheet, Parse: opts.Parse})
	if err != nil {
		return nil, err
	}

	if opts.Mapping != nil {
		if err := table.CheckColumns(opts.Mapping.Columns()); err != nil {
			log.WithError(err).WithField("file_path", path).Error("Statement is missing mapped columns")
			return nil, err
		}
	}

	log.WithFields(logger.Fields{
		"file_path": path,
		"rows":      len(table.Rows),
	}).Info("Loaded statement")
	return table, nil
}
