package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/syssam/persist/schema"
)

// NewSchemaActionCommand creates the schema-action command.
func NewSchemaActionCommand(rootOpts *RootOptions) *cobra.Command {
	var legacy bool

	cmd := &cobra.Command{
		Use:   "schema-action [value]",
		Short: "Resolve a schema management setting",
		Long: `Resolve a schema management value the way the session factory does.

The value is read as a jakarta.persistence.schema-generation.database.action
setting, or as hibernate.hbm2ddl.auto with --legacy. Without a value the
schema settings of the configuration are resolved.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				interpret := schema.InterpretJpaSetting
				if legacy {
					interpret = schema.InterpretHbm2ddlSetting
				}
				a, err := interpret(args[0])
				if err != nil {
					return err
				}
				writeAction(out, "action", a)
				return nil
			}
			settings, err := rootOpts.settings()
			if err != nil {
				return err
			}
			g, err := settings.Schema.Actions()
			if err != nil {
				return err
			}
			writeAction(out, "database", g.Database)
			writeAction(out, "scripts", g.Scripts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&legacy, "legacy", false, "read the value as hibernate.hbm2ddl.auto")

	return cmd
}

func writeAction(w io.Writer, label string, a schema.Action) {
	fmt.Fprintf(w, "%s: %s", label, a)
	if n := a.JPAName(); n != "" {
		fmt.Fprintf(w, " jpa=%s", n)
	}
	if n := a.Hbm2ddlName(); n != "" {
		fmt.Fprintf(w, " hbm2ddl=%s", n)
	}
	fmt.Fprintln(w)
}
