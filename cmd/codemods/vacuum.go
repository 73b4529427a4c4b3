package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/broker"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
)

func NewVacuumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Fail processing jobs whose heartbeat is older than --timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			cfg, err := broker.ConfigFromEnv()
			if err != nil {
				return invalidConfig(err)
			}
			timeout := cfg.VacuumTimeout
			if cmd.Flags().Changed("timeout") {
				timeout, _ = cmd.Flags().GetDuration("timeout")
			}
			if timeout <= 0 {
				return invalidConfig(fmt.Errorf("--timeout must be positive"))
			}

			store, db, err := openStore(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			// Vacuuming never resolves targets.
			b, err := broker.New(store, &catalog.Memory{}, logger, cfg)
			if err != nil {
				return invalidConfig(err)
			}
			if err := b.VacuumJobs(cmd.Context(), timeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "vacuum done")
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 24*time.Hour, "heartbeat age after which a processing job is failed")
	return cmd
}
