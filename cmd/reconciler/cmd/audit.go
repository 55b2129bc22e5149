package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"commission-reconciliation-service/cmd/reconciler/config"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/pkg/errors"
)

func (a *app) newVoidCommand() *cobra.Command {
	var (
		reason string
		rf     reportFlags
	)

	voidCmd := &cobra.Command{
		Use:   "void BATCH_ID",
		Short: "Reverse a committed statement batch",
		Long: `Void writes one VOID entry per entry of the batch with the paid amounts
negated, so the batch no longer counts toward any balance. Originals that
no other statement batch still covers go back to unreconciled.

Examples:
  reconciler void 7QX2M4A-STMT-20240331 --reason "carrier reissued the statement"`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(reason) == "" {
				return errors.ValidationError(errors.CodeMissingField, "reason", nil, nil).
					WithSuggestion("explain the void with --reason")
			}
			return rf.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			service, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := service.Void(ctx, args[0], reason)
			if err != nil {
				return err
			}
			return a.writeReport(cmd, &rf, result, nil)
		},
	}

	voidCmd.Flags().StringVar(&reason, "reason", "", "why the batch is voided (required)")
	rf.register(voidCmd)
	return voidCmd
}

func (a *app) newAdjustCommand() *cobra.Command {
	var (
		amount string
		reason string
		rf     reportFlags
	)

	adjustCmd := &cobra.Command{
		Use:   "adjust TRANSACTION_ID",
		Short: "Record a manual adjustment against an original transaction",
		Long: `Adjust writes an ADJ entry that shares the original's balance key. A
positive amount counts as paid and lowers the balance; a negative amount
raises it.

Examples:
  reconciler adjust AB12CD3 --amount 12.50 --reason "carrier chargeback reversed"
  reconciler adjust AB12CD3 --amount -20 --reason "overpayment clawback"`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(amount) == "" {
				return errors.ValidationError(errors.CodeMissingField, "amount", nil, nil).
					WithSuggestion("pass the adjustment with --amount")
			}
			if strings.TrimSpace(reason) == "" {
				return errors.ValidationError(errors.CodeMissingField, "reason", nil, nil).
					WithSuggestion("explain the adjustment with --reason")
			}
			return rf.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			value, err := models.ParseDecimalFromString(amount)
			if err != nil {
				return errors.ValidationError(errors.CodeInvalidAmount, "amount", amount, err)
			}

			service, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := service.Adjust(ctx, args[0], value, reason)
			if err != nil {
				return err
			}
			return a.writeReport(cmd, &rf, result, nil)
		},
	}

	adjustCmd.Flags().StringVar(&amount, "amount", "", "adjustment amount; negative raises the balance (required)")
	adjustCmd.Flags().StringVar(&reason, "reason", "", "why the adjustment is made (required)")
	rf.register(adjustCmd)
	return adjustCmd
}

func (a *app) newHistoryCommand() *cobra.Command {
	var (
		from string
		to   string
		rf   reportFlags
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List committed, voided and adjustment batches",
		Long: `History groups the audit entries by batch, newest statement date first.

Examples:
  reconciler history
  reconciler history --from 2024-01-01 --to 2024-03-31 --format csv --output q1.csv`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error { return rf.validate() },
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			fromDate, err := config.ParseDate("from", from)
			if err != nil {
				return err
			}
			toDate, err := config.ParseDate("to", to)
			if err != nil {
				return err
			}
			if !fromDate.IsZero() && !toDate.IsZero() && fromDate.After(toDate) {
				return errors.ValidationError(errors.CodeOutOfRange, "from", from, nil).
					WithSuggestion("--from cannot be after --to")
			}

			service, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			batches, err := service.History(ctx, fromDate, toDate)
			if err != nil {
				return err
			}
			return a.writeReport(cmd, &rf, &reporter.HistoryReport{
				From:    fromDate,
				To:      toDate,
				Batches: batches,
			}, nil)
		},
	}

	historyCmd.Flags().StringVar(&from, "from", "", "earliest statement date")
	historyCmd.Flags().StringVar(&to, "to", "", "latest statement date")
	rf.register(historyCmd)
	return historyCmd
}
