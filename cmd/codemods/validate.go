package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/codemod"
)

func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the codemod definitions of a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return invalidConfig(errors.New("--file is required"))
			}
			registry, err := newRegistry()
			if err != nil {
				return err
			}
			defs, err := codemod.LoadFile(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			invalid := 0
			for _, def := range defs {
				if err := def.Validate(registry); err != nil {
					invalid++
					fmt.Fprintf(out, "FAIL %s: %v\n", def.Ref(), err)
					continue
				}
				fmt.Fprintf(out, "ok   %s\n", def.Ref())
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d codemods are invalid", invalid, len(defs))
			}
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "YAML file holding codemod entities")
	return cmd
}
