package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"genfetch/internal/batch"
	"genfetch/internal/retry"
	"genfetch/internal/workflow"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var flags specFlags
	var createTarget bool

	cmd := &cobra.Command{
		Use:   "generate <target>",
		Short: "Submit a generation and apply the results to a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := flags.spec(cmd)
			if err != nil {
				return err
			}
			return ctx.withManager(cmd, func(runCtx context.Context, manager *workflow.Manager) error {
				report, err := manager.Generate(runCtx, workflow.GenerateRequest{
					Identity:     args[0],
					Spec:         spec,
					CreateTarget: createTarget,
				})
				if err != nil {
					if report.BatchID != "" {
						renderReport(cmd.OutOrStdout(), report)
					}
					return err
				}
				renderReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&createTarget, "create-target", false, "Create the target when it does not exist")
	return cmd
}

// renderReport prints one row per settled group followed by a summary line.
func renderReport(out io.Writer, report retry.Report) {
	var rows [][]string
	add := func(outcomes []batch.Outcome, status string) {
		for _, outcome := range outcomes {
			seed := ""
			if value, ok := outcome.Group.Seed(); ok {
				seed = strconv.FormatInt(value, 10)
			}
			rows = append(rows, []string{batch.DescribeGroup(outcome.Group), status, seed, outcome.Reason})
		}
	}
	add(report.Fulfilled, "ready")
	add(report.HardFailed, "failed")
	add(report.Dropped, "timed out")
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Result", "Status", "Seed", "Detail"}, rows, 2))
	}
	fmt.Fprintf(out, "Batch %s: %d applied, %d failed, %d timed out after %d attempt(s)\n",
		report.BatchID, report.Applied, len(report.HardFailed)+report.ApplyFailed, len(report.Dropped), report.Attempts)
	if report.Retained {
		fmt.Fprintf(out, "%d unapplied result(s) kept; run 'genfetch recovery resume %s' to retry them\n", report.ApplyFailed, report.BatchID)
	}
}
