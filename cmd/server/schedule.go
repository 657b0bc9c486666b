package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vithaluntold/accute1-sub000/internal/report"
)

var outputJSON bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule <workflow-id>",
	Short: "Print a workflow's critical-path schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ctx, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		cp, err := a.engine.ComputeCriticalPath(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd, cp)
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.Schedule(cp))
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <workflow-id>",
	Short: "Check a workflow's dependency graph for cycles and dangling edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ctx, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		v, err := a.engine.ValidateDependencies(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			if err := printJSON(cmd, v); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), report.Validation(args[0], v))
		}
		if !v.Valid {
			return fmt.Errorf("workflow %s has an invalid dependency graph", args[0])
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{scheduleCmd, validateCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "Print JSON instead of a table")
	}
}

func commandApp(cmd *cobra.Command) (*app, context.Context, error) {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	return a, ctx, err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
