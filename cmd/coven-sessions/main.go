// ABOUTME: Entry point for coven-sessions, the session record-keeper CLI
// ABOUTME: Wires config, logging, metrics and the shared store handle into cobra commands

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/coven-sessions/internal/config"
	"github.com/2389/coven-sessions/internal/legacy"
	"github.com/2389/coven-sessions/internal/logging"
	"github.com/2389/coven-sessions/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the state shared by all commands of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	dbPath     string
	jsonOut    bool

	cfg     *config.Config
	logger  *slog.Logger
	handle  *store.Handle
	metrics *metricsRecorder
}

// run executes one command line and releases the store afterwards.
func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := &app{out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(ctx); err == nil {
		err = closeErr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coven-sessions",
		Short: "Inspect and maintain agent session records",
		Long: `coven-sessions reads and maintains the durable record of agent work sessions:
conversations, tool invocations and the statistics derived from them.

Quick Start:
  coven-sessions list                  # Sessions with messages, newest first
  coven-sessions show <id|name>        # One session and its conversation
  coven-sessions stats                 # Tool statistics of the latest session
  coven-sessions classify shell '{"command":"ls"}'`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default $COVEN_SESSIONS_CONFIG or $XDG_CONFIG_HOME/coven/sessions.yaml)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Database file, overriding database.path")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print JSON instead of text")

	root.AddCommand(
		a.listCmd(),
		a.showCmd(),
		a.statsCmd(),
		a.insightsCmd(),
		a.deleteCmd(),
		a.createCmd(),
		a.appendCmd(),
		a.toolCmd(),
		a.classifyCmd(),
		a.renameCmd(),
		a.migrateCmd(),
	)
	return root
}

// setup loads configuration and prepares the logger and the store handle.
// The database itself is opened lazily by the first command that needs it.
func (a *app) setup() error {
	path := a.configPath
	if path == "" {
		path = config.ConfigPath()
	}

	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	a.cfg = cfg

	a.logger = logging.New(cfg.Logging, a.errOut).With("run_id", uuid.NewString())
	a.logger.Debug("config loaded", "path", path, "database", cfg.Database.Path)

	opts := store.Options{
		Path:        cfg.Database.Path,
		Driver:      cfg.Database.Driver,
		BusyTimeout: cfg.Database.BusyTimeout,
		Logger:      a.logger,
	}
	if cfg.Legacy.ImportOnCreate {
		opts.LegacyDir = cfg.Legacy.Dir
		opts.LegacyLoader = legacy.NewLoader(a.logger)
	}
	if cfg.Metrics.Enabled {
		a.metrics = newMetricsRecorder()
		opts.Meter = a.metrics.meter()
	}

	a.handle = store.NewHandle(opts)
	return nil
}

func (a *app) store(ctx context.Context) (*store.SQLiteStore, error) {
	return a.handle.Get(ctx)
}

// close reports collected metrics and closes the store.
func (a *app) close(ctx context.Context) error {
	if a.metrics != nil {
		if err := a.metrics.report(ctx, a.logger); err != nil {
			a.logger.Warn("collecting metrics", "error", err)
		}
		if err := a.metrics.shutdown(ctx); err != nil {
			a.logger.Warn("shutting down metrics", "error", err)
		}
	}
	if a.handle == nil {
		return nil
	}
	return a.handle.Close()
}

// printJSON writes v as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
