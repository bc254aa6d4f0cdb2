package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/trisync/internal/batch"
	"github.com/roach88/trisync/internal/checkpoint"
	"github.com/roach88/trisync/internal/config"
	"github.com/roach88/trisync/internal/engine"
	"github.com/roach88/trisync/internal/ir"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Origin string
	Client string
	Wait   bool
}

// SyncReport is the JSON payload of a finished pass.
type SyncReport struct {
	Pass       *engine.PassResult   `json:"pass"`
	Output     []batch.OutputRecord `json:"output"`
	OutputPath string               `json:"output_path,omitempty"`
	Checkpoint string               `json:"checkpoint,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass",
		Long: `Reconcile an origin batch and an optional client batch against the ledger.

Every object either commits a new baseline, stays unchanged, or is held back
(unresolved conflict, malformed record, re-queued). The merged batch is
written to --out and the ledger can be snapshotted into --checkpoint-dir.

Exit codes:
  0 - Pass finished (success or partial)
  1 - Pass failed on a ledger error
  2 - Command error (bad flags, unreadable batch, etc.)

Examples:
  trisync sync --db ./trisync.db --origin ./export.json
  trisync sync --origin ./export.json --client ./edits.yaml --strategy Manual
  trisync sync --origin ./export.json --client ./edits.json --wait --wait-timeout 2m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "origin batch file, JSON or YAML (required)")
	cmd.Flags().StringVar(&opts.Client, "client", "", "client batch file, JSON or YAML")
	cmd.Flags().String(config.KeyStrategy, "", "conflict strategy: LastWriteWins, OriginPriority or Manual")
	cmd.Flags().String(config.KeyOutput, "", "write the merged batch to this file")
	cmd.Flags().String(config.KeyCheckpointDir, "", "save a ledger snapshot into this directory after the pass")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "wait for the client batch to appear")
	cmd.Flags().String(config.KeyWaitTimeout, "", "how long --wait waits (default 300s)")
	_ = cmd.MarkFlagRequired("origin")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	f := opts.formatter(cmd)
	logger := opts.logger(cmd)

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, abandoning pass", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.Wait && opts.Client != "" {
		logger.Info("waiting for client batch", "path", opts.Client, "timeout", cfg.WaitTimeout)
		if err := batch.WaitForFile(ctx, opts.Client, cfg.WaitTimeout, batch.DefaultPollInterval); err != nil {
			return WrapExitError(ExitCommandError, "client batch not available", err)
		}
	}

	origin, err := batch.LoadFile(opts.Origin)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load origin batch", err)
	}
	var client []batch.RawRecord
	if opts.Client != "" {
		if client, err = batch.LoadFile(opts.Client); err != nil {
			return WrapExitError(ExitCommandError, "failed to load client batch", err)
		}
	}

	st, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing ledger", "error", closeErr)
		}
	}()

	eng := opts.newEngine(st, cfg, logger)
	defer eng.Close()
	if err := eng.Load(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load ledger", err)
	}

	logger.Debug("pass starting", "origin", len(origin), "client", len(client), "strategy", cfg.Strategy)
	result, runErr := eng.Run(ctx, engine.Pass{Origin: origin, Client: client})
	if result == nil {
		return WrapExitError(ExitFailure, "pass aborted", runErr)
	}

	report := SyncReport{Pass: result, Output: batch.Output(result.Output)}
	if result.Status != ir.PassFailed {
		if cfg.OutputPath != "" {
			if err := batch.WriteOutputFile(cfg.OutputPath, result.Output); err != nil {
				return WrapExitError(ExitCommandError, "failed to write output", err)
			}
			report.OutputPath = cfg.OutputPath
		}
		if cfg.CheckpointDir != "" {
			path, err := saveCheckpoint(ctx, opts.RootOptions, st, cfg.CheckpointDir, result.PassID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to save checkpoint", err)
			}
			report.Checkpoint = path
		}
	}

	if f.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: report}
		if runErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodePass, Message: runErr.Error()}
		}
		if err := f.JSON(resp); err != nil {
			return err
		}
	} else {
		writeSyncText(cmd.OutOrStdout(), report, opts.Verbose)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "pass failed", runErr)
	}
	logger.Info("pass finished", "pass", result.PassID, "status", result.Status)
	return nil
}

// saveCheckpoint snapshots the ledger into dir under the pass's file name.
func saveCheckpoint(ctx context.Context, opts *RootOptions, src checkpoint.Source, dir, passID string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, checkpoint.FileName(passID))
	if _, err := checkpoint.Save(ctx, src, path, opts.now()); err != nil {
		return "", err
	}
	return path, nil
}

func statusGlyph(status ir.PassStatus) string {
	switch status {
	case ir.PassSuccess:
		return "✓"
	case ir.PassPartial:
		return "!"
	default:
		return "✗"
	}
}

func formatCounts(c ir.PassCounts) string {
	return fmt.Sprintf("ingested %d, committed %d, unchanged %d, unresolved %d, errored %d, requeued %d, not committed %d",
		c.Ingested, c.Committed, c.Unchanged, c.Unresolved, c.Errored, c.Requeued, c.NotCommitted)
}

// writeSyncText prints the pass summary. Committed and unchanged objects are
// listed only when verbose.
func writeSyncText(w io.Writer, report SyncReport, verbose bool) {
	r := report.Pass
	fmt.Fprintf(w, "%s Pass %s (%s): %s\n", statusGlyph(r.Status), r.PassID, r.Strategy, r.Status)
	fmt.Fprintf(w, "  %s\n", formatCounts(r.Counts))

	for _, rep := range r.Reports {
		if !verbose && (rep.Status == engine.StatusCommitted || rep.Status == engine.StatusUnchanged) {
			continue
		}
		id := rep.ObjectID
		if id == "" {
			id = "(no id)"
		}
		line := fmt.Sprintf("  %s: %s", id, rep.Status)
		if rep.Kind != "" {
			line += " " + string(rep.Kind)
		}
		if rep.Version > 0 {
			line += fmt.Sprintf(" v%d", rep.Version)
		}
		if rep.Detail != "" {
			line += " (" + rep.Detail + ")"
		}
		fmt.Fprintln(w, line)
	}

	if len(r.Conflicts) > 0 {
		ids := make([]string, 0, len(r.Conflicts))
		for _, c := range r.Conflicts {
			ids = append(ids, c.ObjectID)
		}
		fmt.Fprintf(w, "Pending conflicts: %s\n", strings.Join(ids, ", "))
	}
	if report.OutputPath != "" {
		fmt.Fprintf(w, "Output: %s (%d objects)\n", report.OutputPath, len(report.Output))
	}
	if report.Checkpoint != "" {
		fmt.Fprintf(w, "Checkpoint: %s\n", report.Checkpoint)
	}
}
