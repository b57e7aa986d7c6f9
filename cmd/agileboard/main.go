// Agileboard serves the board, backlog and sprint API and administers its database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
	"github.com/ChimfwembeMLF/tekrem-erp-sub005/internal/auth"
	"github.com/ChimfwembeMLF/tekrem-erp-sub005/internal/config"
	"github.com/ChimfwembeMLF/tekrem-erp-sub005/internal/db"
	"github.com/ChimfwembeMLF/tekrem-erp-sub005/internal/logging"
	"github.com/ChimfwembeMLF/tekrem-erp-sub005/internal/notify"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand needs once flags are parsed.
type app struct {
	// Global flags
	configPath string
	dbPath     string
	driver     string
	actor      string
	verbose    bool

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "agileboard",
		Short: "Agile boards, backlogs and sprints",
		Long: `agileboard keeps kanban and scrum boards, product and sprint backlogs, and sprint
statistics consistent. Run "agileboard serve" for the HTTP API, or use the
subcommands to administer the database directly.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultPath+" when present)")
	pf.StringVar(&a.dbPath, "db", "", "database path (overrides config)")
	pf.StringVar(&a.driver, "driver", "", "database driver: sqlite, file or memory (overrides config)")
	pf.StringVar(&a.actor, "as", "", "act as this user")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.serveCmd(),
		a.migrateCmd(),
		a.boardCmd(),
		a.columnCmd(),
		a.cardCmd(),
		a.itemCmd(),
		a.sprintCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	path := a.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.driver != "" {
		cfg.Database.Driver = a.driver
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, a.verbose)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// openStore opens the configured persistence collaborator.
func (a *app) openStore() (agile.Store, func(), error) {
	switch a.cfg.Database.Driver {
	case config.DriverSQLite:
		database, err := db.Open(a.cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.log.Debug("Opened SQLite database", zap.String("path", database.Path()))
		return db.NewStore(database), func() { database.Close() }, nil
	case config.DriverFile:
		state := agile.NewState(a.cfg.Database.Path)
		if err := state.Load(); err != nil {
			return nil, nil, err
		}
		return state, func() {}, nil
	default:
		return agile.NewState(""), func() {}, nil
	}
}

// openEngine wires the engine to its collaborators. Events go to the log (when enabled) and
// to any extra sinks. The returned func drains notifications and closes the store.
func (a *app) openEngine(sinks ...notify.Sink) (*agile.Engine, func(), error) {
	store, closeStore, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}

	authorizer, err := auth.New(a.cfg.Auth, a.log)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	if a.cfg.Notifications.LogEvents {
		sinks = append(sinks, notify.LogSink(a.log.Named("events")))
	}
	dispatcher := notify.NewDispatcher(notify.Options{
		Buffer:  a.cfg.Notifications.Buffer,
		Timeout: a.cfg.Notifications.Timeout,
		Logger:  a.log,
	}, sinks...)

	engine := agile.NewEngine(store,
		agile.WithLogger(a.log),
		agile.WithAuthorizer(authorizer),
		agile.WithNotifier(dispatcher),
		agile.WithTemplates(a.cfg.Boards),
	)
	return engine, func() {
		dispatcher.Close()
		closeStore()
	}, nil
}

// run opens the engine, calls fn with an actor-scoped context and prints its result.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error)) error {
	engine, closeEngine, err := a.openEngine()
	if err != nil {
		return err
	}
	defer closeEngine()

	ctx := cmd.Context()
	if a.actor != "" {
		ctx = agile.WithActor(ctx, a.actor)
	}
	data, warnings, err := fn(ctx, engine)
	if err != nil {
		var ae *agile.Error
		if errors.As(err, &ae) {
			return fmt.Errorf("%s: %w", ae.Kind.Category(), err)
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), data, warnings)
}

func printJSON(w io.Writer, data any, warnings []agile.Warning) error {
	out := struct {
		Data     any             `json:"data"`
		Warnings []agile.Warning `json:"warnings,omitempty"`
	}{data, warnings}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agileboard %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		},
	}
}
