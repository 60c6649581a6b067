package main

import (
	"fmt"
	"os"

	"ogcr-registry/internal/pkg/canonical"

	"github.com/spf13/cobra"
)

func newHashCmd() *cobra.Command {
	var printCanonical bool
	cmd := &cobra.Command{
		Use:   "hash <file>",
		Short: "Print the SHA-256 of a document's canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			hash, b, err := canonical.Hash(raw)
			if err != nil {
				return err
			}
			if printCanonical {
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printCanonical, "canonical", false, "also print the canonical bytes")
	return cmd
}
