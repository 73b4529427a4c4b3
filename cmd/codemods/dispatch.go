package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/client"
)

func NewDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <codemod-ref>",
		Short: "Dispatch a codemod run through the API",
		Long: `Dispatch a codemod run through the API.

Targets are catalog filters written field=pattern; repeating a field adds
alternatives, distinct fields must all match.

Examples:
  codemods dispatch add-readme --target kind=component --target spec.owner=team-a --values '{"owner":"team-a"}'
  codemods dispatch codemod:default/add-readme --target kind=component --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawTargets, _ := cmd.Flags().GetStringArray("target")
			rawValues, _ := cmd.Flags().GetString("values")
			wait, _ := cmd.Flags().GetBool("wait")
			interval, _ := cmd.Flags().GetDuration("poll-interval")

			targets, err := parseTargets(rawTargets)
			if err != nil {
				return invalidConfig(err)
			}
			values := map[string]any{}
			if strings.TrimSpace(rawValues) != "" {
				if err := json.Unmarshal([]byte(rawValues), &values); err != nil {
					return invalidConfig(fmt.Errorf("--values: %w", err))
				}
			}

			cfg, err := client.ConfigFromEnv()
			if err != nil {
				return invalidConfig(err)
			}
			c, err := client.New(cmd.Context(), cfg)
			if err != nil {
				return invalidConfig(err)
			}

			runID, err := c.Dispatch(cmd.Context(), client.DispatchRequest{
				CodemodRef: args[0],
				Values:     values,
				Targets:    targets,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), runID)
			if !wait {
				return nil
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				run, err := c.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if run.Settled() {
					fmt.Fprintf(cmd.OutOrStdout(), "completed=%d failed=%d cancelled=%d\n", run.CompletedCount, run.FailedCount, run.CancelledCount)
					if run.FailedCount > 0 {
						return fmt.Errorf("%d of %d jobs failed", run.FailedCount, run.TargetsCount)
					}
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().StringArray("target", nil, "target filter as field=pattern (repeatable)")
	cmd.Flags().String("values", "", "run parameters as a JSON object")
	cmd.Flags().Bool("wait", false, "wait until every job of the run finished")
	cmd.Flags().Duration("poll-interval", 2*time.Second, "status polling interval with --wait")
	return cmd
}

func parseTargets(raw []string) (catalog.Filter, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one --target is required")
	}
	out := catalog.Filter{}
	for _, item := range raw {
		field, pattern, ok := strings.Cut(item, "=")
		field = strings.TrimSpace(field)
		pattern = strings.TrimSpace(pattern)
		if !ok || field == "" || pattern == "" {
			return nil, fmt.Errorf("invalid --target %q, expected field=pattern", item)
		}
		out[field] = append(out[field], pattern)
	}
	return out, nil
}
