package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/trisync/internal/config"
	"github.com/roach88/trisync/internal/engine"
	"github.com/roach88/trisync/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// Now and IDs replace the wall clock and UUIDv7 ids (for testing).
	Now func() time.Time
	IDs engine.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the trisync CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the root command around opts, so tests
// can pin the clock and id source.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trisync",
		Short: "trisync - three-way sync of building elements",
		Long: `Reconcile the origin's export of building elements with a processing
client's edits against a durable ledger of last-agreed baselines.

Settings come from flags, TRISYNC_* environment variables, an optional
YAML config file (--config) and built-in defaults, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, config.KeyConfigFile, "", "YAML config file")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewObjectsCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewPassesCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// addLedgerFlag registers --db. Its value reaches commands through config.
func addLedgerFlag(flags *pflag.FlagSet) {
	flags.String(config.KeyLedger, "", "path to the SQLite ledger (default trisync.db)")
}

// loadConfig layers the command's flags over env, file and defaults.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	v := config.New()
	if o.ConfigFile != "" {
		v.Set(config.KeyConfigFile, o.ConfigFile)
	}
	for _, key := range []string{
		config.KeyLedger, config.KeyStrategy, config.KeyOutput,
		config.KeyCheckpointDir, config.KeyWaitTimeout,
	} {
		if f := cmd.Flags().Lookup(key); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Config{}, WrapExitError(ExitCommandError, "failed to bind flag", err)
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes structured logs to stderr, at debug level when verbose.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *RootOptions) newEngine(st *store.Store, cfg config.Config, logger *slog.Logger) *engine.Engine {
	opts := []engine.EngineOption{
		engine.WithStrategy(cfg.Strategy),
		engine.WithLogger(logger),
	}
	if o.Now != nil {
		opts = append(opts, engine.WithNow(o.Now))
	}
	if o.IDs != nil {
		opts = append(opts, engine.WithIDGenerator(o.IDs))
	}
	return engine.New(st, opts...)
}

// openLedger opens the configured ledger, creating it if needed.
func openLedger(cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.LedgerPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	return st, nil
}

// commandContext returns the command's context, or Background outside
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
