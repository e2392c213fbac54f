package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/growkeeper/internal/config"
	"github.com/roach88/growkeeper/internal/logging"
	"github.com/roach88/growkeeper/internal/settings"
	"github.com/roach88/growkeeper/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string

	// Now overrides the wall clock (for testing).
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the growkeeper CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "growkeeper",
		Short: "growkeeper - grow unit settings store",
		Long: `Manage grow unit thresholds and device schedules in a self-healing store.

A corrupt store file is moved to a quarantine directory next to it,
together with a record of what was found, and a fresh store is created.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./growkeeper.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the store file (overrides database.path)")

	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newUnitCommand(opts))
	cmd.AddCommand(newThresholdsCommand(opts))
	cmd.AddCommand(newScheduleCommand(opts))
	cmd.AddCommand(newActiveCommand(opts))
	cmd.AddCommand(newQuarantineCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// loadConfig reads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Database != "" {
		cfg.Database.Path = o.Database
	}
	return cfg, nil
}

// app is everything a command needs to talk to the store.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	loc   *time.Location
	guard *store.Guard
	svc   *settings.Service
}

func openApp(opts *RootOptions, cmd *cobra.Command, out *OutputFormatter) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	log, err := logging.NewWithWriter(cmd.ErrOrStderr(), level, cfg.Log.Format, "growkeeper")
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	guard := store.NewGuard(cfg.Database.Path,
		store.WithOptions(cfg.StoreOptions()),
		store.WithLogger(log),
		store.WithClock(opts.now),
		store.WithMinFreeBytes(cfg.Database.MinFreeBytes),
	)
	svc := settings.New(guard,
		settings.WithRetryPolicy(cfg.RetryPolicy()),
		settings.WithLocation(loc),
		settings.WithLogger(log),
		settings.WithClock(opts.now),
	)
	out.VerboseLog("Using store %s", cfg.Database.Path)
	return &app{cfg: cfg, log: log, loc: loc, guard: guard, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.guard.Close(); err != nil {
		a.log.Warn("closing store", zap.Error(err))
	}
	_ = a.log.Sync()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withApp opens the store for the duration of fn.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app, out *OutputFormatter) error) error {
	out := newFormatter(opts, cmd)
	a, err := openApp(opts, cmd, out)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(commandContext(cmd), a, out)
}
