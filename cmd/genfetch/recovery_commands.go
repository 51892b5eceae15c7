package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genfetch/internal/batch"
	"genfetch/internal/workflow"
)

func newRecoveryCommand(ctx *commandContext) *cobra.Command {
	recoveryCmd := &cobra.Command{
		Use:   "recovery",
		Short: "Inspect, resume or discard interrupted batches",
	}
	recoveryCmd.AddCommand(newRecoveryListCommand(ctx))
	recoveryCmd.AddCommand(newRecoveryResumeCommand(ctx))
	recoveryCmd.AddCommand(newRecoveryDiscardCommand(ctx))
	return recoveryCmd
}

// batchView is the listing shape shared by every output format.
type batchView struct {
	ID        string   `json:"id" yaml:"id"`
	Target    string   `json:"target" yaml:"target"`
	Kind      string   `json:"kind" yaml:"kind"`
	Prompt    string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Groups    int      `json:"groups" yaml:"groups"`
	Jobs      []string `json:"jobs" yaml:"jobs"`
	Cost      int64    `json:"cost" yaml:"cost"`
	CreatedAt string   `json:"created_at" yaml:"created_at"`
}

func newBatchView(b batch.Batch) batchView {
	created := ""
	if !b.CreatedAt.IsZero() {
		created = b.CreatedAt.UTC().Format(time.RFC3339)
	}
	return batchView{
		ID:        b.ID,
		Target:    b.Identity,
		Kind:      b.Metadata.Kind.String(),
		Prompt:    b.Metadata.Prompt,
		Groups:    len(b.Groups),
		Jobs:      b.JobIDs(),
		Cost:      b.Metadata.Cost,
		CreatedAt: created,
	}
}

func newRecoveryListCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list [target]",
		Short: "List recorded batches that still have pending results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := ""
			if len(args) == 1 {
				identity = args[0]
			}
			return ctx.withManager(cmd, func(runCtx context.Context, manager *workflow.Manager) error {
				batches, err := manager.PendingBatches(runCtx, identity)
				if err != nil {
					return err
				}
				views := make([]batchView, 0, len(batches))
				for _, b := range batches {
					views = append(views, newBatchView(b))
				}
				return writeBatches(cmd, output, views)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}

func writeBatches(cmd *cobra.Command, output string, views []batchView) error {
	out := cmd.OutOrStdout()
	switch strings.ToLower(strings.TrimSpace(output)) {
	case "json":
		return writeJSON(out, views)
	case "yaml":
		return writeYAML(out, views)
	case "table", "":
		if len(views) == 0 {
			fmt.Fprintln(out, "No interrupted batches")
			return nil
		}
		rows := make([][]string, 0, len(views))
		for _, v := range views {
			rows = append(rows, []string{v.ID, v.Target, v.Kind, strconv.Itoa(v.Groups), strconv.FormatInt(v.Cost, 10), v.CreatedAt})
		}
		fmt.Fprintln(out, renderTable([]string{"Batch", "Target", "Kind", "Pending", "Cost", "Created"}, rows, 3, 4))
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", output)
	}
}

func newRecoveryResumeCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "resume [batch-id]",
		Short: "Resume downloading a recorded batch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) != 1 {
				return fmt.Errorf("specify a batch id or --all")
			}
			return ctx.withManager(cmd, func(runCtx context.Context, manager *workflow.Manager) error {
				ids := args
				if all {
					batches, err := manager.PendingBatches(runCtx, "")
					if err != nil {
						return err
					}
					ids = make([]string, 0, len(batches))
					for _, b := range batches {
						ids = append(ids, b.ID)
					}
				}
				for _, id := range ids {
					report, err := manager.Resume(runCtx, id)
					if report.BatchID != "" {
						renderReport(cmd.OutOrStdout(), report)
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Resume every recorded batch")
	return cmd
}

func newRecoveryDiscardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <batch-id>",
		Short: "Forget a recorded batch without downloading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(cmd, func(runCtx context.Context, manager *workflow.Manager) error {
				if err := manager.Discard(runCtx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Discarded batch %s\n", args[0])
				return nil
			})
		},
	}
}
