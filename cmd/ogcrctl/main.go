// Command ogcrctl is the offline companion of the registry API: it checks documents
// before submission, prints their canonical hash and provisions actor credentials.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitSuccess = 0
	exitError   = 1
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ogcrctl",
		Short:         "Tools for OGCR registry documents and credentials",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newHashCmd(), newActorCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}
