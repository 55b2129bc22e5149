package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"commission-reconciliation-service/cmd/reconciler/config"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/pkg/errors"
)

// statementFlags are the flags that describe one statement run
type statementFlags struct {
	file        string
	sheet       string
	mappingName string
	columns     []string
	date        string
	total       string
	selections  []string
	rf          reportFlags
}

func (sf *statementFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&sf.file, "file", "", "statement file, CSV or XLSX (required)")
	cmd.Flags().StringVar(&sf.sheet, "sheet", "", "worksheet of an XLSX statement (default: first sheet)")
	cmd.Flags().StringVarP(&sf.mappingName, "mapping", "m", "", "name of a saved column mapping")
	cmd.Flags().StringArrayVar(&sf.columns, "map", nil, `column mapping FIELD=COLUMN, repeatable (e.g. --map paid="Comm Paid")`)
	cmd.Flags().StringVarP(&sf.date, "date", "d", "", "statement date (required)")
	cmd.Flags().StringArrayVar(&sf.selections, "select", nil, "assign a statement row to a transaction ROW=TRANSACTION_ID, repeatable")
	sf.rf.register(cmd)
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("date")
}

// validate checks the flags before the database is opened
func (sf *statementFlags) validate() error {
	if err := validateFileExists(sf.file, "statement file"); err != nil {
		return err
	}
	if sf.mappingName == "" && len(sf.columns) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "mapping", nil, nil).
			WithSuggestion("pass --mapping NAME or one --map FIELD=COLUMN per field")
	}
	if sf.mappingName != "" && len(sf.columns) > 0 {
		return errors.ConfigurationError(errors.CodeConfigConflict, "mapping", sf.mappingName, nil).
			WithSuggestion("use either --mapping or --map, not both")
	}
	return sf.rf.validate()
}

// request builds the statement request from the flags
func (sf *statementFlags) request(commit bool) (*reconciler.StatementRequest, error) {
	mapping, err := config.ParseColumnMapping(sf.columns)
	if err != nil {
		return nil, err
	}
	statementDate, err := config.ParseDate("date", sf.date)
	if err != nil {
		return nil, err
	}
	selections, err := config.ParseSelections(sf.selections)
	if err != nil {
		return nil, err
	}

	req := &reconciler.StatementRequest{
		StatementFile: sf.file,
		Sheet:         sf.sheet,
		Mapping:       mapping,
		MappingName:   sf.mappingName,
		StatementDate: statementDate,
		Selections:    selections,
		Commit:        commit,
	}
	if strings.TrimSpace(sf.total) != "" {
		total, err := models.ParseDecimalFromString(sf.total)
		if err != nil || !total.IsPositive() {
			return nil, errors.ValidationError(errors.CodeInvalidAmount, "total", sf.total, err).
				WithSuggestion("pass the statement total as a positive amount, e.g. --total 1250.00")
		}
		req.StatementTotal = total
	}
	return req, nil
}

// runStatement executes a request and writes the run report. The report is
// written before a commit error is returned so the user sees why.
func (a *app) runStatement(cmd *cobra.Command, sf *statementFlags, req *reconciler.StatementRequest) error {
	ctx := cmd.Context()

	service, st, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	orchestrator, err := reconciler.NewStatementOrchestrator(service)
	if err != nil {
		return err
	}
	if a.progress {
		stderr := cmd.ErrOrStderr()
		orchestrator.AddProgressCallback(func(p *reconciler.RunProgress) {
			fmt.Fprintf(stderr, "\r[%d/%d] %s (%.1f%% complete)",
				p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
			if p.CompletedSteps == p.TotalSteps {
				fmt.Fprintln(stderr)
			}
		})
	}

	result, runErr := orchestrator.Run(ctx, req)
	if result == nil {
		return runErr
	}
	if err := a.writeReport(cmd, &sf.rf, result, nil); err != nil {
		return err
	}
	return runErr
}

func (a *app) newMatchCommand() *cobra.Command {
	var sf statementFlags

	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "Match a carrier statement against open balances without writing",
		Long: `Match reads a statement and sorts each row into matched, needs review,
can create, skipped or invalid. Nothing is written to the database.

With --total the matched rows are also assembled into a batch preview that
shows whether the statement would balance.

Examples:
  reconciler match --file statement.csv --mapping acme --date 2024-03-31
  reconciler match --file stmt.xlsx --sheet March --date 03/31/2024 \
    --map customer=Insured --map policy="Policy #" --map effective="Eff Date" --map paid="Comm Paid"
  reconciler match --file statement.csv --mapping acme --date 2024-03-31 --total 1250.00 --format json`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error { return sf.validate() },
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := sf.request(false)
			if err != nil {
				return err
			}
			return a.runStatement(cmd, &sf, req)
		},
	}

	sf.register(matchCmd)
	matchCmd.Flags().StringVar(&sf.total, "total", "", "statement total; builds a batch preview")
	return matchCmd
}

func (a *app) newCommitCommand() *cobra.Command {
	var (
		sf     statementFlags
		dryRun bool
	)

	commitCmd := &cobra.Command{
		Use:   "commit",
		Short: "Reconcile a statement and write its batch",
		Long: `Commit matches a statement, builds a batch from the matched rows and any
--select assignments, and writes one reconciliation entry per item when the
batch total equals the statement total.

Rows that need review are only included when selected:
  --select 14=AB12CD3 assigns statement row 14 to transaction AB12CD3.

Examples:
  reconciler commit --file statement.csv --mapping acme --date 2024-03-31 --total 1250.00
  reconciler commit --file statement.csv --mapping acme --date 2024-03-31 --total 1250.00 \
    --select 14=AB12CD3 --select 22=QW98ER7
  reconciler commit --file statement.csv --mapping acme --date 2024-03-31 --total 1250.00 --dry-run`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(sf.total) == "" {
				return errors.ValidationError(errors.CodeMissingField, "total", nil, nil).
					WithSuggestion("pass the statement total with --total")
			}
			return sf.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := sf.request(!dryRun)
			if err != nil {
				return err
			}
			return a.runStatement(cmd, &sf, req)
		},
	}

	sf.register(commitCmd)
	commitCmd.Flags().StringVar(&sf.total, "total", "", "statement total (required)")
	commitCmd.Flags().BoolVar(&dryRun, "dry-run", false, "build and check the batch without writing it")
	return commitCmd
}

// validateFileExists checks that path names a readable regular file
func validateFileExists(path, description string) error {
	if path == "" {
		return errors.ValidationError(errors.CodeMissingField, description, nil, nil)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, path, err).
			WithSuggestion(fmt.Sprintf("check the %s path", description))
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeUnsupportedFile, path, nil).
			WithSuggestion(fmt.Sprintf("%s is a directory, expected a file", path))
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return file.Close()
}
