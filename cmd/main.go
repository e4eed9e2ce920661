// scanner-service: scans public procurement portals for tenders relevant to
// professional training, scores and deduplicates them, and stores the result.
//
//	scanner serve    → HTTP API + gRPC health + periodic scans
//	scanner scan     → one scan, printed as a table
//	scanner portals  → list the portal catalog
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:           "scanner",
		Short:         "Tender portal scanner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand(), scanCommand(), portalsCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}
}
