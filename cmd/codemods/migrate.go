package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo/sqlstore"
)

func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			store, db, err := openStore(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := sqlstore.Migrate(cmd.Context(), db, store.Dialect()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", store.Dialect())
			return nil
		},
	}
}
