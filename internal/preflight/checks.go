package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"golang.org/x/sys/unix"

	"genfetch/internal/config"
	"genfetch/internal/recovery"
	"genfetch/internal/remote"
)

const (
	remoteCheckTimeout = 10 * time.Second
	bucketCheckTimeout = 5 * time.Second
)

// CheckRemote verifies that the generation service answers its health probe.
// It makes a single attempt; retries would only hide an outage here.
func CheckRemote(ctx context.Context, cfg *config.Config) Result {
	const name = "Generation service"

	if strings.TrimSpace(cfg.Remote.BaseURL) == "" {
		return Result{Name: name, Detail: "base url missing"}
	}
	if cfg.Remote.APIKey == "" {
		return Result{Name: name, Detail: "API key missing (set GENFETCH_API_KEY)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, remoteCheckTimeout)
	defer cancel()

	client := remote.NewFromConfig(cfg, remote.WithRetryMaxAttempts(1))
	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeRemoteError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", cfg.Remote.BaseURL)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBucket opens a blob URL and confirms the bucket is accessible.
func CheckBucket(ctx context.Context, name, bucketURL string) Result {
	if strings.TrimSpace(bucketURL) == "" {
		return Result{Name: name, Detail: "url missing"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, bucketCheckTimeout)
	defer cancel()

	bucket, err := blob.OpenBucket(checkCtx, bucketURL)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: open: %v)", bucketURL, err)}
	}
	defer bucket.Close()

	ok, err := bucket.IsAccessible(checkCtx)
	switch {
	case err != nil:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", bucketURL, err)}
	case !ok:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not accessible)", bucketURL)}
	}
	return Result{Name: name, Passed: true, Detail: bucketURL}
}

// CheckRecoveryLog opens the recovery log and reports how many batches are
// still waiting on a download.
func CheckRecoveryLog(ctx context.Context, cfg *config.Config) Result {
	const name = "Recovery log"

	store, err := recovery.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.RecoveryDBPath(), err)}
	}
	defer store.Close()

	pending, err := store.EnumerateAll(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", store.Path(), err)}
	}
	switch len(pending) {
	case 0:
		return Result{Name: name, Passed: true, Detail: "no pending batches"}
	case 1:
		return Result{Name: name, Passed: true, Detail: "1 pending batch (genfetch recovery list)"}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d pending batches (genfetch recovery list)", len(pending))}
	}
}

// summarizeRemoteError produces a human-readable summary for health check failures.
func summarizeRemoteError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (service unreachable)"
	}
	return err.Error()
}
