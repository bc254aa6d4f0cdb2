package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/trisync/internal/conflict"
	"github.com/roach88/trisync/internal/engine"
	"github.com/roach88/trisync/internal/ir"
	"github.com/roach88/trisync/internal/store"
)

// NewConflictsCommand creates the conflicts command group.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and decide pending conflicts",
	}

	cmd.AddCommand(newConflictsListCommand(rootOpts))
	cmd.AddCommand(newConflictsResolveCommand(rootOpts))

	return cmd
}

// ConflictView is one pending conflict as listed by the CLI.
type ConflictView struct {
	ConflictID string        `json:"conflict_id"`
	ObjectID   string        `json:"object_id"`
	PassID     string        `json:"pass_id"`
	Original   *conflictSide `json:"original,omitempty"`
	Origin     conflictSide  `json:"origin"`
	Client     conflictSide  `json:"client"`
}

type conflictSide struct {
	Version    int64         `json:"version"`
	Provenance ir.Provenance `json:"provenance"`
	Lifecycle  ir.Lifecycle  `json:"lifecycle"`
	Digest     string        `json:"digest"`
	Properties ir.IRObject   `json:"properties"`
}

func sideOf(obj ir.VersionedObject) conflictSide {
	return conflictSide{
		Version:    obj.Version,
		Provenance: obj.Provenance,
		Lifecycle:  obj.Lifecycle,
		Digest:     obj.Digest,
		Properties: obj.Properties,
	}
}

func viewOf(pc ir.PendingConflict) ConflictView {
	v := ConflictView{
		ConflictID: pc.ConflictID,
		ObjectID:   pc.ObjectID,
		PassID:     pc.PassID,
		Origin:     sideOf(pc.CandidateA),
		Client:     sideOf(pc.CandidateB),
	}
	if pc.Original != nil {
		o := sideOf(*pc.Original)
		v.Original = &o
	}
	return v
}

func newConflictsListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts",
		Long: `List conflicts left open by a Manual pass, in detection order.

Example:
  trisync conflicts list --db ./trisync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflictsList(rootOpts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())

	return cmd
}

func runConflictsList(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pending, err := st.PendingConflicts(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read conflicts", err)
	}

	views := make([]ConflictView, 0, len(pending))
	for _, pc := range pending {
		views = append(views, viewOf(pc))
	}

	f := opts.formatter(cmd)
	if f.IsJSON() {
		return f.Success(views)
	}

	w := cmd.OutOrStdout()
	if len(views) == 0 {
		fmt.Fprintln(w, "No pending conflicts.")
		return nil
	}
	for _, v := range views {
		base := "none"
		if v.Original != nil {
			base = fmt.Sprintf("v%d", v.Original.Version)
		}
		fmt.Fprintf(w, "%s (pass %s, baseline %s)\n", v.ObjectID, v.PassID, base)
		fmt.Fprintf(w, "  origin: v%d %s %s\n", v.Origin.Version, v.Origin.Lifecycle, shortDigest(v.Origin.Digest))
		fmt.Fprintf(w, "  client: v%d %s %s\n", v.Client.Version, v.Client.Lifecycle, shortDigest(v.Client.Digest))
	}
	return nil
}

// ResolveOptions holds flags for conflicts resolve.
type ResolveOptions struct {
	*RootOptions
	ID     string
	Choose string
}

func newConflictsResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Decide a pending conflict",
		Long: `Commit the chosen candidate of an open conflict as a merged baseline.

Exit codes:
  0 - Decision committed
  1 - No open conflict, or the baseline moved since detection
  2 - Command error

Example:
  trisync conflicts resolve --db ./trisync.db --id w1 --choose client`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflictsResolve(opts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())
	cmd.Flags().StringVar(&opts.ID, "id", "", "object id of the conflict (required)")
	cmd.Flags().StringVar(&opts.Choose, "choose", "", "winning side: origin or client (required)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("choose")

	return cmd
}

func runConflictsResolve(opts *ResolveOptions, cmd *cobra.Command) error {
	side, err := conflict.ParseSide(opts.Choose)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --choose", err)
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

	ctx := commandContext(cmd)
	eng := opts.newEngine(st, cfg, opts.logger(cmd))
	defer eng.Close()
	if err := eng.Load(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load ledger", err)
	}

	f := opts.formatter(cmd)
	obj, err := eng.ResolveConflict(ctx, opts.ID, side)
	switch {
	case errors.Is(err, store.ErrNotFound):
		_ = f.Error(ErrCodeConflict, fmt.Sprintf("no pending conflict for %s", opts.ID), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("no pending conflict for %s", opts.ID))
	case engine.IsDigestMismatch(err):
		_ = f.Error(ErrCodeConflict, err.Error(), nil)
		return WrapExitError(ExitFailure, "baseline changed since the conflict was detected", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to resolve conflict", err)
	}

	if f.IsJSON() {
		return f.Success(obj)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s resolved for %s: v%d %s\n", opts.ID, side, obj.Version, obj.Provenance)
	return nil
}
