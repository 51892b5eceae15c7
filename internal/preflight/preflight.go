package preflight

import (
	"context"

	"genfetch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckRemote(ctx, cfg),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckBucket(ctx, "Artifact store", cfg.Storage.ArtifactsURL),
		CheckBucket(ctx, "Asset store", cfg.Storage.AssetsURL),
		CheckRecoveryLog(ctx, cfg),
	}
	if cfg.Notifications.NtfyTopic == "" {
		results = append(results, Result{Name: "Notifications", Passed: true, Optional: true, Detail: "Disabled"})
	} else {
		results = append(results, Result{Name: "Notifications", Passed: true, Optional: true, Detail: cfg.Notifications.NtfyTopic})
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed && !result.Optional {
			failed = append(failed, result)
		}
	}
	return failed
}
