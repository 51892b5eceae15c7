package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"genfetch/internal/config"
	"genfetch/internal/logging"
	"genfetch/internal/progress"
	"genfetch/internal/quote"
	"genfetch/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

// withManager runs fn with a workflow manager whose context ends on SIGINT
// or SIGTERM. Progress goes to stderr so stdout stays machine readable.
func (c *commandContext) withManager(cmd *cobra.Command, fn func(context.Context, *workflow.Manager) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errOut := cmd.ErrOrStderr()
	manager, err := workflow.NewManager(signalCtx, cfg, logger,
		workflow.WithReporter(progress.NewConsole(errOut)),
		workflow.WithQuoteObserver(quote.ObserverFunc(func(n quote.Notice) {
			fmt.Fprintf(errOut, "%s: %s\n", n.Identity, n.Text)
		})),
	)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := manager.Close(); closeErr != nil {
			logger.Warn("manager close failed",
				logging.Error(closeErr),
				logging.String(logging.FieldEventType, "manager_close_failed"),
				logging.String(logging.FieldErrorHint, "the recovery database may need a restart to release"),
				logging.String(logging.FieldImpact, "none for completed work"),
			)
		}
	}()
	return fn(signalCtx, manager)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
