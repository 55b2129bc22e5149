package reporter

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, err
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely builds and renders a report. A rendering failure in
// a structured format falls back to console output on the same writer; a
// file that cannot be written falls back to a backup file next to it.
func (srg *SafeReportGenerator) GenerateReportSafely(result interface{}, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("provide a valid output writer")
	}

	doc, err := srg.Build(result)
	if err != nil {
		srg.logger.WithError(err).Error("Report generation failed: invalid result")
		return err
	}

	if err := srg.generateWithFallback(doc, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}

	srg.logger.Debug("Report generation completed")
	return nil
}

// WriteReportFile renders a report into path, creating or truncating it
func (srg *SafeReportGenerator) WriteReportFile(result interface{}, path string) error {
	file, err := os.Create(path)
	if err != nil {
		code := errors.CodeFilePermission
		if os.IsNotExist(err) {
			code = errors.CodeFileNotFound
		}
		return errors.FileError(code, path, err).
			WithSuggestion("check that the output directory exists and is writable")
	}

	genErr := srg.GenerateReportSafely(result, file)
	if closeErr := file.Close(); closeErr != nil && genErr == nil {
		return errors.FileError(errors.CodeFilePermission, path, closeErr)
	}
	if genErr == nil {
		srg.logger.WithField("file", path).Info("Report written")
	}
	return genErr
}

func (srg *SafeReportGenerator) generateWithFallback(doc *Document, writer io.Writer) error {
	err := srg.Render(doc, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.shouldAttemptOutputFallback(err, writer) {
		return srg.generateWithOutputFallback(doc, writer, err)
	}
	if srg.shouldAttemptFormatFallback(err) {
		return srg.generateWithFormatFallback(doc, writer, err)
	}
	return srg.wrapGenerationError(err)
}

// shouldAttemptFormatFallback reports whether console output could still
// be written. Binary formats are never replaced with text.
func (srg *SafeReportGenerator) shouldAttemptFormatFallback(err error) bool {
	if srg.config.Format == FormatConsole || srg.config.Format.IsBinary() {
		return false
	}
	return !isFileError(err)
}

func (srg *SafeReportGenerator) generateWithFormatFallback(doc *Document, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallbackConfig.UseColors = false

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in console format due to an error with %s output\n", srg.config.Format)
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := fallbackGenerator.Render(doc, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated using format fallback")
	return nil
}

func (srg *SafeReportGenerator) shouldAttemptOutputFallback(err error, writer io.Writer) bool {
	if file, ok := writer.(*os.File); ok && file.Name() != "" && file != os.Stdout && file != os.Stderr {
		return isFileError(err)
	}
	return false
}

func (srg *SafeReportGenerator) generateWithOutputFallback(doc *Document, writer io.Writer, originalErr error) error {
	file, ok := writer.(*os.File)
	if !ok {
		return srg.wrapGenerationError(originalErr)
	}

	originalPath := file.Name()
	backupPath := generateBackupPath(originalPath)

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	backupFile, err := os.Create(backupPath)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}
	defer backupFile.Close()

	if err := srg.Render(doc, backupFile); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithField("backup_file", backupPath).Warn("Report saved to backup file")
	fmt.Fprintf(os.Stderr, "Warning: could not write to %s, report saved to %s\n", originalPath, backupPath)
	return nil
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("check the output destination and report format settings")
}

func isFileError(err error) bool {
	if err == nil {
		return false
	}
	if os.IsPermission(err) || os.IsNotExist(err) || os.IsExist(err) {
		return true
	}
	if stderrors.Is(err, syscall.ENOSPC) || stderrors.Is(err, os.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full")
}

// generateBackupPath creates a backup file path next to the original
func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	case nil:
		return "none"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
