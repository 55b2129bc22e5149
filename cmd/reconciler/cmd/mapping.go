package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"commission-reconciliation-service/cmd/reconciler/config"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
)

func (a *app) newMappingCommand() *cobra.Command {
	mappingCmd := &cobra.Command{
		Use:   "mapping",
		Short: "Save and inspect named statement column mappings",
		Long: `A column mapping tells the matcher which statement column holds each
field. Save one per carrier layout and pass its name with --mapping.

Fields: ` + fieldList(),
	}
	mappingCmd.AddCommand(
		a.newMappingSaveCommand(),
		a.newMappingShowCommand(),
		a.newMappingListCommand(),
	)
	return mappingCmd
}

func (a *app) newMappingSaveCommand() *cobra.Command {
	var columns []string

	saveCmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Save a column mapping under a name",
		Example: `  reconciler mapping save acme --map customer=Insured --map policy="Policy #" \
    --map effective="Eff Date" --map paid="Comm Paid"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			mapping, err := config.ParseColumnMapping(columns)
			if err != nil {
				return err
			}
			if mapping == nil {
				return errors.ValidationError(errors.CodeMissingField, "map", nil, nil).
					WithSuggestion("pass one --map FIELD=COLUMN per field")
			}

			service, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := service.SaveMapping(ctx, args[0], mapping); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved mapping %q (%d fields)\n", args[0], len(mapping))
			return nil
		},
	}

	saveCmd.Flags().StringArrayVar(&columns, "map", nil, "column mapping FIELD=COLUMN, repeatable")
	return saveCmd
}

func (a *app) newMappingShowCommand() *cobra.Command {
	var asJSON bool

	showCmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Print a saved column mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			service, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			mapping, err := service.Mapping(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(mapping)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, field := range models.StatementFields {
				if column, ok := mapping[field]; ok {
					fmt.Fprintf(tw, "%s\t%s\n", field, column)
				}
			}
			return tw.Flush()
		},
	}

	showCmd.Flags().BoolVar(&asJSON, "json", false, "print the mapping as JSON")
	return showCmd
}

func (a *app) newMappingListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved column mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			service, st, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			names, err := service.Mappings(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No saved mappings")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}

func fieldList() string {
	var s string
	for i, alias := range config.AliasNames() {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s (%s)", alias, config.FieldAliases[alias])
	}
	return s
}
