package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/trisync/internal/checkpoint"
	"github.com/roach88/trisync/internal/config"
)

// BackupOptions holds flags for the backup command.
type BackupOptions struct {
	*RootOptions
	Dest string
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy the ledger atomically",
		Long: `Write a consistent copy of the ledger database to --dest.

The destination is replaced only once the copy is complete.

Example:
  trisync backup --db ./trisync.db --dest ./backups/trisync-2024-03-01.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(opts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())
	cmd.Flags().StringVar(&opts.Dest, "dest", "", "backup file path (required)")
	_ = cmd.MarkFlagRequired("dest")

	return cmd
}

func runBackup(opts *BackupOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if sameFile(cfg.LedgerPath, opts.Dest) {
		return NewExitError(ExitCommandError, "backup destination is the ledger itself")
	}
	st, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Backup(commandContext(cmd), opts.Dest); err != nil {
		return WrapExitError(ExitFailure, "backup failed", err)
	}

	f := opts.formatter(cmd)
	if f.IsJSON() {
		return f.Success(map[string]string{"ledger": cfg.LedgerPath, "dest": opts.Dest})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Ledger backed up to %s\n", opts.Dest)
	return nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Save or restore compressed ledger snapshots",
	}

	cmd.AddCommand(newCheckpointSaveCommand(rootOpts))
	cmd.AddCommand(newCheckpointRestoreCommand(rootOpts))

	return cmd
}

// CheckpointOptions holds flags for checkpoint save and restore.
type CheckpointOptions struct {
	*RootOptions
	Out  string
	From string
}

// CheckpointReport is the JSON payload of checkpoint save and restore.
type CheckpointReport struct {
	Path       string `json:"path"`
	Objects    int    `json:"objects"`
	LastPassID string `json:"last_pass_id,omitempty"`
}

func newCheckpointSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Snapshot the ledger's object set",
		Long: `Write a zstd-compressed snapshot of every baseline object.

Without --out the snapshot goes into --checkpoint-dir (or the current
directory), named after the last recorded pass.

Examples:
  trisync checkpoint save --db ./trisync.db --out ./snap.tsnap.zst
  trisync checkpoint save --db ./trisync.db --checkpoint-dir ./checkpoints`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointSave(opts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())
	cmd.Flags().StringVar(&opts.Out, "out", "", "snapshot file path")
	cmd.Flags().String(config.KeyCheckpointDir, "", "directory for the snapshot when --out is not given")

	return cmd
}

func runCheckpointSave(opts *CheckpointOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	path := opts.Out
	if path == "" {
		lastPass, err := st.LastPassID(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read ledger", err)
		}
		if lastPass == "" {
			lastPass = "initial"
		}
		dir := cfg.CheckpointDir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, checkpoint.FileName(lastPass))
	}

	snap, err := checkpoint.Save(ctx, st, path, opts.now())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to save checkpoint", err)
	}

	report := CheckpointReport{Path: path, Objects: len(snap.Objects), LastPassID: snap.LastPassID}
	f := opts.formatter(cmd)
	if f.IsJSON() {
		return f.Success(report)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %d objects to %s\n", report.Objects, report.Path)
	return nil
}

func newCheckpointRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Rebuild an empty ledger from a snapshot",
		Long: `Restore a snapshot into a ledger that has no records yet.

Each object is written with one event, so the restored ledger passes
'trisync verify'.

Example:
  trisync checkpoint restore --db ./fresh.db --from ./checkpoints/checkpoint-0190.tsnap.zst`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointRestore(opts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())
	cmd.Flags().StringVar(&opts.From, "from", "", "snapshot file to restore (required)")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func runCheckpointRestore(opts *CheckpointOptions, cmd *cobra.Command) error {
	snap, err := checkpoint.Load(opts.From)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load checkpoint", err)
	}

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := checkpoint.Restore(commandContext(cmd), st, snap, opts.now())
	if errors.Is(err, checkpoint.ErrNotEmpty) {
		return WrapExitError(ExitCommandError, "refusing to restore", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "restore failed", err)
	}

	report := CheckpointReport{Path: opts.From, Objects: n, LastPassID: snap.LastPassID}
	f := opts.formatter(cmd)
	if f.IsJSON() {
		return f.Success(report)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %d objects from %s\n", n, opts.From)
	return nil
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the event log replays to the ledger",
		Long: `Fold every baseline-mutating event and compare the result with each
ledger record's digest, version and lifecycle.

Exit codes:
  0 - Ledger is consistent
  1 - At least one object disagrees with its history
  2 - Command error

Example:
  trisync verify --db ./trisync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())

	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := st.VerifyReplay(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay", err)
	}

	f := opts.formatter(cmd)
	if f.IsJSON() {
		if report.Consistent() {
			if err := f.Success(report); err != nil {
				return err
			}
		} else if err := f.Error(ErrCodeReplay, "event log does not replay to the ledger", report); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		if report.Consistent() {
			fmt.Fprintf(w, "✓ Replay consistent: %d records, %d events\n", report.Records, report.Events)
		} else {
			fmt.Fprintf(w, "✗ Replay inconsistent: %d of %d records\n", len(report.Mismatches), report.Records)
			for _, m := range report.Mismatches {
				fmt.Fprintf(w, "  %s: %s\n", m.ObjectID, m.Reason)
			}
		}
	}

	if !report.Consistent() {
		return NewExitError(ExitFailure, fmt.Sprintf("replay found %d mismatches", len(report.Mismatches)))
	}
	return nil
}
