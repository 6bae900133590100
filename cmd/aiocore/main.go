// Command aiocore is the headless daemon and CLI client described in
// §6, generalising the teacher's cmd/root.go (bubbletea TUI + embedded
// HTTP server reached over a port file) into a single daemon/client
// split: `aiocore serve` is the daemon (it wins the instance lock and
// serves the chi control surface); every other subcommand is a thin HTTP
// client against a running daemon and fails if none is running.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set via -ldflags at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "aiocore",
	Short:   "A concurrent multi-source download engine",
	Long:    "aiocore schedules and executes segmented HTTP downloads and yt-dlp media extractions, persisting state across restarts.",
	Version: Version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
