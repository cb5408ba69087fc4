package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tracectl",
		Short: "Trace stream relay and recorder",
		Long: `tracectl moves trace streams between machines.

A relay (tracectl listen) accepts recorder sessions, hands each one a
set of per-CPU data ports, and lands the metadata and CPU streams in a
per-session output directory. A recorder (tracectl record) dials a
relay and ships local trace data to it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		listenCmd(),
		recordCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tracectl: %v\n", err)
		os.Exit(1)
	}
}
