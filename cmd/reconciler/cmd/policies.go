package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"commission-reconciliation-service/cmd/reconciler/config"
	"commission-reconciliation-service/internal/parsers"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/pkg/errors"
)

func (a *app) newPoliciesCommand() *cobra.Command {
	policiesCmd := &cobra.Command{
		Use:   "policies",
		Short: "Manage original policy transactions",
	}
	policiesCmd.AddCommand(a.newPoliciesImportCommand())
	return policiesCmd
}

func (a *app) newPoliciesImportCommand() *cobra.Command {
	var (
		sheet string
		rf    reportFlags
	)

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import original policy transactions from CSV or XLSX",
		Long: `Import reads a policy export and stores every row as an original
transaction. Rows without a transaction id get a generated one; ids that
already exist are reported as duplicates and left untouched.

Column names default to the agency management export and can be changed
under the policies.columns key of the config file.

Examples:
  reconciler policies import policies.csv
  reconciler policies import book.xlsx --sheet Policies --format json`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFileExists(args[0], "policy file"); err != nil {
				return err
			}
			return rf.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			policyConfig, err := config.CreatePolicyConfig(a.v, sheet)
			if err != nil {
				return err
			}

			txns, stats, err := parsers.LoadPolicies(ctx, path, policyConfig)
			if err != nil {
				return err
			}
			if a.verbose && stats.ErrorCount() > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\n", errors.FormatRowErrorsForUser(stats.Errors))
			}

			service, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := service.ImportPolicies(ctx, txns)
			if err != nil {
				return err
			}

			return a.writeReport(cmd, &rf, &reporter.ImportReport{
				Source: path,
				Stats:  stats,
				Result: result,
			}, nil)
		},
	}

	importCmd.Flags().StringVar(&sheet, "sheet", "", "worksheet of an XLSX policy file (default: first sheet)")
	rf.register(importCmd)
	return importCmd
}

func (a *app) newBalancesCommand() *cobra.Command {
	var (
		openOnly bool
		rf       reportFlags
	)

	balancesCmd := &cobra.Command{
		Use:   "balances",
		Short: "Show the outstanding balance of every original transaction",
		Long: `Balances computes what is still owed on each original transaction:
the agent commission owed less everything paid by reconciliation entries
that share its balance key.

Examples:
  reconciler balances
  reconciler balances --open --format csv --output open.csv
  reconciler balances --balance-key policy`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error { return rf.validate() },
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			service, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			balances, err := service.Balances(ctx)
			if err != nil {
				return err
			}

			report := reporter.NewBalanceReport(balances, service.Config().Matching.BalanceKey, openOnly)
			return a.writeReport(cmd, &rf, report, func(rc *reporter.ReportConfig) {
				rc.OnlyOutstanding = openOnly
			})
		},
	}

	balancesCmd.Flags().BoolVar(&openOnly, "open", false, "only show balances that are still outstanding")
	rf.register(balancesCmd)
	return balancesCmd
}
