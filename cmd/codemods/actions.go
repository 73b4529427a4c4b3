package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "Print the registered actions and their input schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := newRegistry()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(map[string]any{"actions": registry.List()}); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
