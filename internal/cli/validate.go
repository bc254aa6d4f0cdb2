package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/trisync/internal/batch"
)

// FileCheck is the validation result of one batch file.
type FileCheck struct {
	Path     string          `json:"path"`
	Records  int             `json:"records"`
	Valid    bool            `json:"valid"`
	Error    string          `json:"error,omitempty"`
	Problems []batch.Problem `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <batch-file>...",
		Short: "Check batch files without touching a ledger",
		Long: `Decode each batch file and report records a pass would reject:
missing type, unconvertible properties or geometry, repeated ids.

Exit codes:
  0 - All files are valid
  1 - At least one file has problems
  2 - Command error

Examples:
  trisync validate ./export.json
  trisync validate ./export.json ./edits.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	checks := make([]FileCheck, 0, len(paths))
	invalid := 0
	for _, path := range paths {
		check := FileCheck{Path: path}
		records, err := batch.LoadFile(path)
		if err != nil {
			check.Error = err.Error()
		} else {
			check.Records = len(records)
			check.Problems = batch.Check(records)
		}
		check.Valid = check.Error == "" && len(check.Problems) == 0
		if !check.Valid {
			invalid++
		}
		checks = append(checks, check)
	}

	f := opts.formatter(cmd)
	if f.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: checks}
		if invalid > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeInput, Message: fmt.Sprintf("%d of %d files invalid", invalid, len(paths))}
		}
		if err := f.JSON(resp); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, c := range checks {
			switch {
			case c.Error != "":
				fmt.Fprintf(w, "✗ %s\n  %s\n", c.Path, c.Error)
			case len(c.Problems) > 0:
				fmt.Fprintf(w, "✗ %s (%d records, %d problems)\n", c.Path, c.Records, len(c.Problems))
				for _, p := range c.Problems {
					fmt.Fprintf(w, "  %s\n", p)
				}
			default:
				fmt.Fprintf(w, "✓ %s (%d records)\n", c.Path, c.Records)
			}
		}
	}

	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d files invalid", invalid, len(paths)))
	}
	return nil
}
