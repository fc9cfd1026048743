// Package cli implements the persistctl commands.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syssam/persist/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config   string
	Verbose  bool
	Dialect  string
	Mappings []string
}

// NewRootCommand creates the root command of persistctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "persistctl",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Inspect persist mappings, load plans and settings",
		Long: `persistctl loads entity mappings and session factory settings and
prints what the loader would do with them: the load plan of an entity or
collection, the SQL it renders for the configured dialect, the schema
action a setting resolves to and the tables of the mapping.`,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "settings file (YAML)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log plan building and statements to stderr")
	cmd.PersistentFlags().StringVar(&opts.Dialect, "dialect", "", "SQL dialect (postgres|mysql|sqlite)")
	cmd.PersistentFlags().StringArrayVarP(&opts.Mappings, "mapping", "m", nil, "mapping document, may be repeated")

	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewSchemaActionCommand(opts))
	cmd.AddCommand(NewDDLCommand(opts))

	return cmd
}

// settings resolves the factory settings from the config file and the
// global flags. Flags win over the file.
func (o *RootOptions) settings() (*config.Settings, error) {
	var opts []config.Option
	if o.Dialect != "" {
		opts = append(opts, config.WithDialect(o.Dialect))
	}
	if len(o.Mappings) > 0 {
		opts = append(opts, config.WithMappings(o.Mappings...))
	}
	if o.Config != "" {
		return config.Load(o.Config, opts...)
	}
	return config.New(opts...)
}

// logger returns a debug logger writing to w in verbose mode and a
// discarding one otherwise.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	if !o.Verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
