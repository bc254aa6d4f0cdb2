package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/trisync/internal/ir"
	"github.com/roach88/trisync/internal/store"
)

// ObjectsOptions holds flags for the objects command.
type ObjectsOptions struct {
	*RootOptions
	ID string
}

// NewObjectsCommand creates the objects command.
func NewObjectsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObjectsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "objects",
		Short: "List ledger baselines",
		Long: `List the ledger's baseline for every object, or show one object in full.

Examples:
  trisync objects --db ./trisync.db
  trisync objects --db ./trisync.db --id w1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjects(opts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())
	cmd.Flags().StringVar(&opts.ID, "id", "", "show a single object")

	return cmd
}

func runObjects(opts *ObjectsOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	if opts.ID != "" {
		rec, err := st.Get(ctx, opts.ID)
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitFailure, fmt.Sprintf("object not found: %s", opts.ID))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read ledger", err)
		}
		if f.IsJSON() {
			return f.Success(rec.Object)
		}
		return writeObjectText(cmd.OutOrStdout(), rec.Object)
	}

	records, err := st.Records(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ledger", err)
	}
	if f.IsJSON() {
		objects := make([]ir.VersionedObject, 0, len(records))
		for _, rec := range records {
			objects = append(objects, rec.Object)
		}
		return f.Success(objects)
	}

	w := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(w, "No objects.")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(w, "%-24s %-16s v%-4d %-8s %-10s %s\n",
			rec.ID, rec.Object.Type, rec.Version, rec.Provenance, rec.Lifecycle, shortDigest(rec.Digest))
	}
	return nil
}

func writeObjectText(w io.Writer, obj ir.VersionedObject) error {
	props, err := ir.MarshalCanonical(obj.Properties)
	if err != nil {
		return err
	}
	geom, err := ir.MarshalCanonical(obj.Geometry)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "ID:          %s\n", obj.ID)
	fmt.Fprintf(w, "Type:        %s\n", obj.Type)
	fmt.Fprintf(w, "Version:     %d\n", obj.Version)
	fmt.Fprintf(w, "Provenance:  %s\n", obj.Provenance)
	fmt.Fprintf(w, "Lifecycle:   %s\n", obj.Lifecycle)
	if obj.ExternalID != "" {
		fmt.Fprintf(w, "External ID: %s\n", obj.ExternalID)
	}
	fmt.Fprintf(w, "Timestamp:   %s\n", obj.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Digest:      %s\n", obj.Digest)
	fmt.Fprintf(w, "Properties:  %s\n", props)
	fmt.Fprintf(w, "Geometry:    %s\n", geom)
	return nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Object string
	Pass   string
	Kind   string
	After  int64
	Limit  int
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the sync event log",
		Long: `Show the append-only event log in sequence order.

Examples:
  trisync events --db ./trisync.db
  trisync events --db ./trisync.db --object w1
  trisync events --db ./trisync.db --kind conflict-unresolved --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())
	cmd.Flags().StringVar(&opts.Object, "object", "", "only events for this object id")
	cmd.Flags().StringVar(&opts.Pass, "pass", "", "only events of this pass")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only events of this kind")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	kind := ir.EventKind(opts.Kind)
	if kind != "" && !kind.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown event kind %q", opts.Kind))
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
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

	events, err := st.Events(commandContext(cmd), store.EventFilter{
		ObjectID: opts.Object,
		PassID:   opts.Pass,
		Kind:     kind,
		AfterSeq: opts.After,
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	f := opts.formatter(cmd)
	if f.IsJSON() {
		return f.Success(events)
	}

	w := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return nil
	}
	for _, ev := range events {
		line := fmt.Sprintf("#%-5d %s %-19s %-16s %s -> %s: %s",
			ev.Seq, ev.Timestamp.UTC().Format(time.RFC3339), ev.Kind, ev.ObjectID,
			ev.Source, ev.Destination, ev.Outcome)
		if ev.Version > 0 {
			line += fmt.Sprintf(" v%d", ev.Version)
		}
		fmt.Fprintln(w, line)
		if opts.Verbose && ev.Detail != "" {
			fmt.Fprintf(w, "       %s\n", ev.Detail)
		}
	}
	return nil
}

// NewPassesCommand creates the passes command.
func NewPassesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passes",
		Short: "List recorded passes",
		Long: `List every recorded pass with its status and counts, oldest first.

Example:
  trisync passes --db ./trisync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPasses(rootOpts, cmd)
		},
	}

	addLedgerFlag(cmd.Flags())

	return cmd
}

func runPasses(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	passes, err := st.Passes(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read passes", err)
	}

	f := opts.formatter(cmd)
	if f.IsJSON() {
		return f.Success(passes)
	}

	w := cmd.OutOrStdout()
	if len(passes) == 0 {
		fmt.Fprintln(w, "No passes.")
		return nil
	}
	for _, p := range passes {
		fmt.Fprintf(w, "%s %s %s %s (%s)\n", statusGlyph(p.Status), p.PassID,
			p.StartedAt.UTC().Format(time.RFC3339), p.Status, p.Strategy)
		fmt.Fprintf(w, "  %s\n", formatCounts(p.Counts))
	}
	return nil
}
