// Package main is the entry point of the sigillo binary: the fog producer,
// the cloud ingest service, and the batch verifier in one executable.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigillo-iot/sigillo/cmd/sigillo/commands"
	"github.com/sigillo-iot/sigillo/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sigillo",
		Short: "Tamper-evident fog-to-cloud batching pipeline for IoT measurements",
		Long: `Sigillo batches IoT measurements at the fog, seals each batch under a
Merkle root, publishes per-leaf paths to content-addressed storage, and
delivers payloads to the cloud with at-least-once semantics.

Commands:
  edge     Run the fog producer (ingress + pipeline workers)
  cloud    Run the cloud ingest service
  verify   Verify a delivered batch against its anchored root`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewEdgeCommand())
	rootCmd.AddCommand(commands.NewCloudCommand())
	rootCmd.AddCommand(commands.NewVerifyCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "sigillo %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
