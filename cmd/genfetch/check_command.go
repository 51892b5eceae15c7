package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"genfetch/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the generation service and local storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			results := preflight.RunAll(cmd.Context(), cfg)
			renderChecks(out, results, shouldColorize(out))
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}

func renderChecks(out io.Writer, results []preflight.Result, colorize bool) {
	for _, result := range results {
		state := checkOK
		switch {
		case !result.Passed && result.Optional:
			state = checkSkipped
		case !result.Passed:
			state = checkFailed
		}
		fmt.Fprintln(out, renderCheckLine(result.Name, state, result.Detail, colorize))
	}
}
