package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// maxListedFailures caps the per-entry failures printed for a partial write
const maxListedFailures = 10

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	if out == nil {
		out = os.Stderr
	}
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(h.out, "\nContext:\n")
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if key == "succeeded" || key == "failed" {
				continue
			}
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if succeeded := err.Succeeded(); len(succeeded) > 0 {
		fmt.Fprintf(h.out, "\nWritten before the failure (%d): %s\n", len(succeeded), strings.Join(succeeded, ", "))
	}
	if failures := err.Failures(); len(failures) > 0 {
		fmt.Fprintf(h.out, "\nNot written (%d):\n", len(failures))
		for i, f := range failures {
			if i == maxListedFailures {
				fmt.Fprintf(h.out, "  ... and %d more\n", len(failures)-maxListedFailures)
				break
			}
			fmt.Fprintf(h.out, "  %s (%s): %s\n", f.EntryID, f.TransactionID, f.Message)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := h.getCategoryHelp(err); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles non-ReconcilerError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case h.isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case h.isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case h.isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	// cobra reports unknown flags and bad arguments as plain errors
	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(err *errors.ReconcilerError) string {
	switch err.Category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Statements and policy exports must be .csv or .xlsx
• Use absolute paths if the file is outside the current directory`

	case errors.CategoryParse:
		return `Parse error help:
• Check that the header row names match the column mapping
• Save CSV files in UTF-8 encoding
• Use 'reconciler mapping show NAME' to see which columns a mapping expects`

	case errors.CategoryValidation:
		switch err.Code {
		case errors.CodeTotalMismatch:
			return `Batch help:
• Run 'reconciler match ... --total' to see which rows are in the batch
• Assign needs-review rows with --select ROW=TRANSACTION_ID
• Check the statement total for typos`
		case errors.CodeStaleBalance:
			return `Balance help:
• Another commit changed the balances while this batch was built
• Run the command again to rebuild the batch from current balances`
		}
		return `Validation error help:
• Dates use YYYY-MM-DD or MM/DD/YYYY
• Amounts are decimal numbers; $ and thousands separators are accepted
• Check that all required flags have values`

	case errors.CategoryNotFound:
		return `Not found help:
• Use 'reconciler history' to list batch ids
• Use 'reconciler balances' to list transaction ids
• Use 'reconciler mapping list' to list saved mappings`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• RECONCILER_* environment variables override the config file`

	case errors.CategoryMatching:
		return `Matching error help:
• Check the matching.* settings in the config file
• Try the default thresholds first`

	case errors.CategoryPersistence:
		if err.Code == errors.CodePartialWrite {
			return `Partial write help:
• Some entries were written and others were not
• Use 'reconciler history' to inspect the batch
• Void the batch and commit the statement again once the database is writable`
		}
		return `Database error help:
• Check --database points to a writable location
• Make sure no other process holds the database open for writing`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler COMMAND --help' for command-specific help`
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || stderrors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
