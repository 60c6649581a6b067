package main

import (
	"fmt"

	"ogcr-registry/internal/auth"
	"ogcr-registry/internal/config"
	"ogcr-registry/internal/infrastructure/database"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// openDB is replaced in tests.
var openDB = func() (*gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return db, database.AutoMigrate(db)
}

func newActorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage API credentials of registry actors",
	}

	var name string
	var roles []string
	create := &cobra.Command{
		Use:   "create <actor-id>",
		Short: "Create a credential and print its API key once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			svc := &auth.Service{DB: db}
			key, err := svc.CreateCredential(cmd.Context(), args[0], name, roles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringSliceVar(&roles, "role", nil, "role granted to the actor (repeatable)")
	_ = create.MarkFlagRequired("role")

	disable := &cobra.Command{
		Use:   "disable <actor-id>",
		Short: "Revoke an actor's credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			svc := &auth.Service{DB: db}
			if err := svc.Disable(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disabled %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(create, disable)
	return cmd
}
