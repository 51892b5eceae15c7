package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"genfetch/internal/batch"
	"genfetch/internal/quote"
	"genfetch/internal/workflow"
)

func newQuoteCommand(ctx *commandContext) *cobra.Command {
	var flags specFlags

	cmd := &cobra.Command{
		Use:   "quote <target>",
		Short: "Estimate the points cost of a generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := flags.spec(cmd)
			if err != nil {
				return err
			}
			return ctx.withManager(cmd, func(runCtx context.Context, manager *workflow.Manager) error {
				result, err := manager.Quote(runCtx, args[0], spec)
				if err != nil {
					return err
				}
				return reportQuote(cmd.OutOrStdout(), args[0], spec, result)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func reportQuote(out io.Writer, identity string, spec batch.Spec, result quote.Result) error {
	if result.Status == quote.StatusCanceled {
		return context.Canceled
	}
	detail := result.Reason
	if result.Status == quote.StatusEstimated {
		detail = strconv.FormatInt(result.Points, 10) + " points"
	}
	variations := spec.Variations
	if variations == 0 {
		variations = 1
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Target", "Kind", "Variations", "Status", "Detail"},
		[][]string{{identity, spec.Kind.String(), strconv.Itoa(variations), result.Status.String(), detail}},
		2,
	))
	switch result.Status {
	case quote.StatusEstimated:
		return nil
	case quote.StatusRejected:
		if len(result.Messages) > 0 {
			fmt.Fprintln(out, strings.Join(result.Messages, "\n"))
		}
		return fmt.Errorf("quote rejected: %s", result.Code)
	default:
		return errors.New("quote preconditions not met")
	}
}
