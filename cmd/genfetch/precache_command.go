package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"genfetch/internal/workflow"
)

func newPrecacheCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "precache",
		Short: "Download resolved but unapplied results into the artifact store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(cmd, func(runCtx context.Context, manager *workflow.Manager) error {
				report, err := manager.Precache(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d, already present %d, failed %d\n", report.Fetched, report.Present, report.Failed)
				if report.Failed > 0 {
					return fmt.Errorf("%d artifact(s) could not be fetched", report.Failed)
				}
				return nil
			})
		},
	}
}
