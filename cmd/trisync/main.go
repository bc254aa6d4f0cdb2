// Command trisync runs three-way sync passes of building elements against a
// SQLite ledger and inspects the ledger's state and history.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/trisync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
