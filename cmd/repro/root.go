package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/engine"
	"github.com/goliatone/go-repository-uow/entity"
	"github.com/goliatone/go-repository-uow/internal/config"
	"github.com/goliatone/go-repository-uow/internal/scenario"
	"github.com/goliatone/go-repository-uow/pkg/di"
	"github.com/goliatone/go-repository-uow/uow"
)

// Exit codes.
const (
	ExitFailure      = 1 // a scenario check failed
	ExitCommandError = 2 // bad flags, configuration or database errors
)

// ExitError carries the exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath string
	Dialect    string
	DSN        string
	Cache      bool
	Reconcile  string
	Debug      bool
	Format     string
}

// ValidFormats are the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the repro command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "repro",
		Short: "Reproduce cached timestamp and cascade save behaviour",
		Long: "repro runs two scenarios against a real database: instants read back " +
			"through the result cache, and foreign keys of a non-cascaded collection on save.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "YAML configuration file")
	flags.StringVar(&opts.Dialect, "dialect", defaults.Dialect, "database dialect (sqlite|postgres)")
	flags.StringVar(&opts.DSN, "dsn", defaults.DSN, "database DSN, overrides "+config.EnvDatabaseURI)
	flags.BoolVar(&opts.Cache, "cache", defaults.Cache, "serve reads through the result cache")
	flags.StringVar(&opts.Reconcile, "reconcile", defaults.Reconcile, "orphan reconciliation for non-cascaded collections (suppress|nullify)")
	flags.BoolVar(&opts.Debug, "debug", false, "log engine activity and SQL")
	flags.StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newScenarioCommand(opts, "timestamps", "Round-trip instants through the result cache", runTimestamps))
	cmd.AddCommand(newScenarioCommand(opts, "cascade", "Save a brand loaded with non-cascaded properties", runCascade))
	cmd.AddCommand(newScenarioCommand(opts, "all", "Run every scenario", runTimestamps, runCascade))

	return cmd
}

// scenarioFunc runs one scenario inside a prepared environment.
type scenarioFunc func(ctx context.Context, env *runEnv) (scenario.Report, error)

// runEnv is what a scenario needs from the command.
type runEnv struct {
	cfg         config.Config
	container   *di.Container
	drv         *driver.BunDriver
	onlyFlagged bool
}

func (env *runEnv) engine(reg *entity.Registry, mode uow.ReconcileMode) *engine.Engine {
	return env.container.NewEngine(reg, env.drv, engine.Options{
		Reconcile:    mode,
		CacheQueries: env.cfg.Cache,
	})
}

func newScenarioCommand(opts *RootOptions, use, short string, scenarios ...scenarioFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "configuration", Err: err}
			}
			return run(cmd, opts, cfg, scenarios)
		},
	}
}

// resolveConfig layers the flags the user set over the file and environment.
func resolveConfig(cmd *cobra.Command, opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("dsn") {
		cfg.DSN = opts.DSN
		if d := config.DialectFromURI(opts.DSN); d != "" {
			cfg.Dialect = string(d)
		}
	}
	if flags.Changed("dialect") {
		cfg.Dialect = opts.Dialect
	}
	if flags.Changed("cache") {
		cfg.Cache = opts.Cache
	}
	if flags.Changed("reconcile") {
		cfg.Reconcile = opts.Reconcile
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.Debug
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *RootOptions, cfg config.Config, scenarios []scenarioFunc) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	container, err := di.NewContainer(cfg.CacheConfig(), di.WithLogger(logger))
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "cache", Err: err}
	}
	defer func() {
		if cerr := container.Close(context.Background()); cerr != nil && err == nil {
			err = &ExitError{Code: ExitCommandError, Message: "close", Err: cerr}
		}
	}()

	drv, err := driver.Open(cfg.DriverConfig())
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "open database", Err: err}
	}
	// The container closes drv with its engines. Close it here too in case
	// no engine was created.
	defer drv.Close()

	env := &runEnv{
		cfg:         cfg,
		container:   container,
		drv:         drv,
		onlyFlagged: cmd.Flags().Changed("reconcile"),
	}
	logger.Debug("repro starting",
		"dialect", cfg.Dialect,
		"cache", cfg.Cache,
		"reconcile", cfg.Reconcile,
	)

	failed := 0
	for _, fn := range scenarios {
		report, err := fn(ctx, env)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "scenario " + report.Scenario, Err: err}
		}
		if err := writeReport(cmd.OutOrStdout(), opts.Format, report); err != nil {
			return &ExitError{Code: ExitCommandError, Message: "write report", Err: err}
		}
		failed += report.Failures()
	}

	if failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d checks failed", failed)}
	}
	return nil
}

func runTimestamps(ctx context.Context, env *runEnv) (scenario.Report, error) {
	reg, err := scenario.BrandRegistry(scenario.ModelOptions{Nullable: true, TablePrefix: "repro_"})
	if err != nil {
		return scenario.Report{Scenario: "timestamps"}, err
	}
	if err := env.drv.CreateTables(ctx, reg); err != nil {
		return scenario.Report{Scenario: "timestamps"}, err
	}
	return scenario.Timestamps(ctx, env.engine(reg, env.cfg.ReconcileMode()), scenario.DefaultInstant)
}

func runCascade(ctx context.Context, env *runEnv) (scenario.Report, error) {
	open := func(ctx context.Context, reg *entity.Registry, mode uow.ReconcileMode) (*engine.Engine, error) {
		return env.engine(reg, mode), nil
	}
	if env.onlyFlagged {
		return scenario.Cascade(ctx, open, env.cfg.ReconcileMode())
	}
	return scenario.Cascade(ctx, open)
}

func writeReport(w io.Writer, format string, r scenario.Report) error {
	if format == "json" {
		return r.WriteJSON(w)
	}
	return r.WriteText(w)
}
