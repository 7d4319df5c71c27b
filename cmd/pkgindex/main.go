// Command pkgindex builds and inspects package index snapshots for
// indexcache-backed servers. Building is a standalone batch job: it scans
// the configured package roots, then serializes the listing cache to a
// file a serving process loads at startup.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "pkgindex",
		Short:        "Build and inspect package index snapshots",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newInspectCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
