package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"commission-reconciliation-service/cmd/reconciler/config"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/pkg/errors"
)

// reportFlags are the output flags shared by reporting commands
type reportFlags struct {
	format  string
	output  string
	noColor bool
}

func (rf *reportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&rf.format, "format", "f", string(reporter.FormatConsole), "output format: console, json, csv, xlsx")
	cmd.Flags().StringVarP(&rf.output, "output", "o", "", "output file path (default: stdout)")
	cmd.Flags().BoolVar(&rf.noColor, "no-color", false, "disable colored console output")
}

// validate checks the output flags before any work is done
func (rf *reportFlags) validate() error {
	format := reporter.OutputFormat(rf.format)
	if !format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", rf.format, nil).
			WithSuggestion("use one of: console, json, csv, xlsx")
	}
	if format.IsBinary() && rf.output == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "output", nil, nil).
			WithSuggestion("xlsx reports are written to a file: add --output report.xlsx")
	}
	if rf.output != "" {
		if dir := filepath.Dir(rf.output); dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, err).
					WithSuggestion("create the output directory first")
			}
		}
	}
	return nil
}

// writeReport renders result to --output or the command's stdout
func (a *app) writeReport(cmd *cobra.Command, rf *reportFlags, result interface{}, tune func(*reporter.ReportConfig)) error {
	reportConfig, err := config.CreateReportConfig(a.v, rf.format)
	if err != nil {
		return err
	}
	if rf.noColor {
		reportConfig.UseColors = false
	}
	if tune != nil {
		tune(reportConfig)
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, a.log)
	if err != nil {
		return err
	}
	if rf.output != "" {
		return generator.WriteReportFile(result, rf.output)
	}
	return generator.GenerateReportSafely(result, cmd.OutOrStdout())
}
