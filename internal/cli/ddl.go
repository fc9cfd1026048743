package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	sqlschema "github.com/syssam/persist/dialect/sql/schema"
)

// NewDDLCommand creates the ddl command.
func NewDDLCommand(rootOpts *RootOptions) *cobra.Command {
	var drop bool

	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print the statements creating the mapped tables",
		Long: `Print the create table statements of every mapped table for the
configured dialect. Foreign keys are declared with their tables unless a
cycle requires adding them afterwards. With --drop the drop statements
are printed instead. Supported dialects are postgres, mysql and sqlite.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := rootOpts.settings()
			if err != nil {
				return err
			}
			mm, err := settings.Metamodel()
			if err != nil {
				return err
			}
			d, err := settings.SQLDialect()
			if err != nil {
				return err
			}
			tables, err := sqlschema.Tables(mm)
			if err != nil {
				return err
			}
			stmts, err := sqlschema.CreateStatements(d, tables)
			if drop {
				stmts, err = sqlschema.DropStatements(d, tables)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range stmts {
				fmt.Fprintf(out, "%s;\n", s)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&drop, "drop", false, "print the drop statements")

	return cmd
}
