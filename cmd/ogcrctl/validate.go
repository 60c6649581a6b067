package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/pkg/canonical"
	"ogcr-registry/internal/pkg/validation"

	"github.com/spf13/cobra"
)

var errInvalidDocuments = errors.New("one or more documents are invalid")

func newValidateCmd() *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check PDD and MRV documents against the structural rules",
		Long: "Validates each file as a PDD or MRV document. The profile is read from the\n" +
			"document unless --profile is given. PDD geometries are parsed and checked too.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				hash, err := validateDocument(raw, profile)
				if err != nil {
					failed++
					reportInvalid(cmd.OutOrStdout(), path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok      %s sha256:%s\n", path, hash)
			}
			if failed > 0 {
				return fmt.Errorf("%w (%d of %d)", errInvalidDocuments, failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "force the document profile (pdd|mrv)")
	return cmd
}

// validateDocument returns the canonical hash of a valid document.
func validateDocument(raw []byte, profile string) (string, error) {
	if profile == "" {
		var head struct {
			Profile string `json:"profile"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return "", domain.Wrap(domain.SchemaError, "document is not valid JSON", err)
		}
		profile = head.Profile
	}
	switch profile {
	case "pdd":
		doc, err := validation.DecodePDD(raw)
		if err != nil {
			return "", err
		}
		if _, err := validation.ProjectGeometry(doc.Geometry); err != nil {
			return "", err
		}
	case "mrv":
		if _, err := validation.DecodeMRV(raw); err != nil {
			return "", err
		}
	default:
		return "", domain.NewSchemaError([]domain.FieldError{{Field: "profile", Message: fmt.Sprintf("unknown profile %q", profile)}})
	}
	hash, _, err := canonical.Hash(raw)
	return hash, err
}

func reportInvalid(w io.Writer, path string, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		fmt.Fprintf(w, "invalid %s: %v\n", path, err)
		return
	}
	fmt.Fprintf(w, "invalid %s: %s: %s\n", path, de.Kind, de.Message)
	if fields, ok := de.Details["fields"].([]domain.FieldError); ok {
		for _, f := range fields {
			fmt.Fprintf(w, "  %s: %s\n", f.Field, f.Message)
		}
	}
}
