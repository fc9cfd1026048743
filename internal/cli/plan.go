package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/syssam/persist"
	"github.com/syssam/persist/config"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/loader"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/loadplan/build"
	"github.com/syssam/persist/loadplan/print"
	"github.com/syssam/persist/locking"
	"github.com/syssam/persist/metamodel"
	"github.com/syssam/persist/session"
)

// PlanOptions holds the flags of the plan command.
type PlanOptions struct {
	Collection bool
	Lock       string
	IDs        []string
	DSN        string
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{}

	cmd := &cobra.Command{
		Use:   "plan <entity|role>",
		Short: "Print the load plan and SQL of an entity or collection",
		Long: `Build the load plan of an entity, or of a collection role with
--collection, print its return graph and query spaces, then the select
statement rendered for the configured dialect.

With --dsn the statement is executed through a session and the loaded
state is printed as YAML.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Collection, "collection", false, "treat the argument as a collection role (Owner.attribute)")
	cmd.Flags().StringVarP(&opts.Lock, "lock", "l", persist.LockNone.String(), "lock mode of the root entity")
	cmd.Flags().StringSliceVar(&opts.IDs, "id", []string{"1"}, "identifiers or collection keys to restrict on")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "data source to load from")

	return cmd
}

func runPlan(ctx context.Context, rootOpts *RootOptions, opts *PlanOptions, name string, cmd *cobra.Command) error {
	settings, err := rootOpts.settings()
	if err != nil {
		return err
	}
	mm, err := settings.Metamodel()
	if err != nil {
		return err
	}
	mode, err := persist.ParseLockMode(opts.Lock)
	if err != nil {
		return err
	}
	log := rootOpts.logger(cmd.ErrOrStderr())
	ids := make([]any, len(opts.IDs))
	for i, s := range opts.IDs {
		ids[i] = parseID(s)
	}

	bopts := []build.Option{build.WithLogger(log), build.WithMaxFetchDepth(settings.MaxFetchDepth)}
	var (
		lp   *loadplan.LoadPlan
		r    loader.Restriction
		lock = persist.NoLock()
	)
	if opts.Collection {
		cp, err := mm.Collection(name)
		if err != nil {
			return err
		}
		if lp, err = build.CollectionLoadPlan(mm, cp, bopts...); err != nil {
			return err
		}
		r = loader.KeyRestriction{Keys: ids}
	} else {
		p, err := mm.Entity(name)
		if err != nil {
			return err
		}
		if lp, err = build.EntityLoadPlan(mm, p, append(bopts, build.WithLockMode(mode))...); err != nil {
			return err
		}
		r = loader.IDRestriction{IDs: ids}
		lock = settings.LockOptions(mode)
	}

	out := cmd.OutOrStdout()
	aliases, err := loader.NewAliasResolutionContext(lp.QuerySpaces())
	if err != nil {
		return err
	}
	if err := (print.LoadPlanTreePrinter{}).Write(out, lp, aliases); err != nil {
		return err
	}
	if err := writeSQL(out, settings, mm, lp, aliases, r, lock); err != nil {
		return err
	}
	if opts.DSN == "" {
		return nil
	}
	return load(ctx, out, log, settings, mm, opts.DSN, name, opts.Collection, ids[0], mode)
}

func writeSQL(w io.Writer, settings *config.Settings, mm *metamodel.Metamodel, lp *loadplan.LoadPlan, aliases *loader.AliasResolutionContext, r loader.Restriction, lock persist.LockOptions) error {
	d, err := settings.SQLDialect()
	if err != nil {
		return err
	}
	stmt, err := loader.Lower(lp, aliases, r, lock)
	if err != nil {
		return err
	}
	rendered, err := loader.Translate(stmt, d, locking.WithResolver(mm))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "SQL (%s)\n    %s\n", d.Name(), rendered.SQL)
	fmt.Fprintf(w, "Params\n    %v\n", rendered.Params)
	if rendered.FollowOnLocking {
		fmt.Fprintln(w, "FollowOnLocking")
	}
	return nil
}

// load opens a session on dsn and loads the entity with id, or the
// collection owned by the entity with id.
func load(ctx context.Context, w io.Writer, log *slog.Logger, settings *config.Settings, mm *metamodel.Metamodel, dsn, name string, collection bool, id any, mode persist.LockMode) error {
	drv, err := sql.Open(settings.Dialect, dsn)
	if err != nil {
		return err
	}
	f, err := session.NewFactory(mm, drv, session.WithSettings(settings), session.WithLogger(log))
	if err != nil {
		drv.Close()
		return err
	}
	defer f.Close()
	s := f.OpenSession()
	defer s.Close()

	var doc any
	if collection {
		cp, err := mm.Collection(name)
		if err != nil {
			return err
		}
		owner, err := s.Get(ctx, cp.OwnerEntityName(), id)
		if err != nil {
			return err
		}
		c, ok := owner.Get(cp.AttributeName()).(*engine.PersistentCollection)
		if !ok {
			return fmt.Errorf("persistctl: %s of %s is not a managed collection", cp.AttributeName(), owner)
		}
		if err := s.InitializeCollection(ctx, c); err != nil {
			return err
		}
		doc = loadedCollection{Role: c.Role(), Key: c.Key(), Elements: render(c).([]any)}
	} else {
		e, err := s.GetWithLock(ctx, name, id, mode)
		if err != nil {
			return err
		}
		values := e.Values()
		for k, v := range values {
			values[k] = render(v)
		}
		doc = loadedEntity{Entity: e.Name(), ID: e.ID(), Values: values}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

type loadedEntity struct {
	Entity string         `yaml:"entity"`
	ID     any            `yaml:"id"`
	Values map[string]any `yaml:"values"`
}

type loadedCollection struct {
	Role     string `yaml:"role"`
	Key      any    `yaml:"key"`
	Elements []any  `yaml:"elements"`
}

// render replaces entities by "Name#id" and collections by their
// elements, or "uninitialized".
func render(v any) any {
	switch v := v.(type) {
	case *engine.Entity:
		return v.String()
	case *engine.PersistentCollection:
		if !v.IsInitialized() {
			return "uninitialized"
		}
		elems := v.Elements()
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = render(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = render(e)
		}
		return out
	default:
		return v
	}
}

func parseID(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}
