package main

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "codemods"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Run codemods against catalog entities",
		Long:          "codemods dispatches multi-step codemods against catalog entities and executes them with a pool of workers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidConfig(err)
	})

	cmd.AddCommand(
		NewServeCmd(),
		NewMigrateCmd(),
		NewVacuumCmd(),
		NewActionsCmd(),
		NewValidateCmd(),
		NewDispatchCmd(),
	)
	return cmd
}
