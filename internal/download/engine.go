package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"genfetch/internal/batch"
	"genfetch/internal/logging"
	"genfetch/internal/notifications"
	"genfetch/internal/services"
)

// Resolver turns a job id into a download URL, blocking until the job is
// ready, failed, or ctx ends.
type Resolver interface {
	ResolveDownloadURL(ctx context.Context, jobID string) (string, error)
}

// URLCache is the part of the recovery log the engine reads and writes.
type URLCache interface {
	LookupURL(ctx context.Context, jobID string) (string, bool, error)
	CacheURL(ctx context.Context, batchID, jobID, rawURL string) error
}

// Attempt describes one pass over a batch. Batch.Retryable decides whether
// deadlines apply.
type Attempt struct {
	Batch              batch.Batch
	Number             int
	RetryTimeout       time.Duration
	StatusCheckTimeout time.Duration
	// Observe, when set, is called once per group as its outcome is known.
	// Calls come from concurrent goroutines.
	Observe func(batch.Outcome)
}

// Result partitions the groups of one attempt.
type Result struct {
	Fulfilled  []batch.Outcome
	HardFailed []batch.Outcome
	// Pending holds the timed-out groups; it is the next attempt's batch.
	Pending batch.Batch
	// DroppedTimeouts holds groups that missed a deadline on a non-retryable
	// attempt. They were reported and dropped.
	DroppedTimeouts []batch.Outcome
}

// Engine runs download attempts.
type Engine struct {
	resolver Resolver
	cache    URLCache
	sink     notifications.Sink
	logger   *slog.Logger
}

// NewEngine builds an engine. A nil sink discards messages.
func NewEngine(resolver Resolver, cache URLCache, sink notifications.Sink, logger *slog.Logger) *Engine {
	if sink == nil {
		sink = notifications.Discard{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		resolver: resolver,
		cache:    cache,
		sink:     sink,
		logger:   logging.NewComponentLogger(logger, "download"),
	}
}

type plan struct {
	group  batch.Group
	cached map[string]string
	budget time.Duration
}

// AttemptDownload processes every group of attempt.Batch once. It returns
// ctx.Err() when the caller cancels, and an error wrapping
// services.ErrBatchAborted when every group hard-failed.
func (e *Engine) AttemptDownload(ctx context.Context, attempt Attempt) (Result, error) {
	b := attempt.Batch
	result := Result{Pending: b.WithGroups(nil)}
	if b.Empty() {
		return result, nil
	}
	logger := logging.WithContext(ctx, e.logger).With(
		logging.Identity(b.Identity),
		logging.BatchID(b.ID),
		logging.Attempt(attempt.Number),
	)

	plans := e.plan(ctx, logger, attempt)
	outcomes := make([]batch.Outcome, len(plans))
	var g errgroup.Group
	for i, p := range plans {
		g.Go(func() error {
			outcome := e.processGroup(ctx, logger, b, p)
			outcomes[i] = outcome
			if ctx.Err() == nil && attempt.Observe != nil {
				attempt.Observe(outcome)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var pending []batch.Group
	for _, outcome := range outcomes {
		switch outcome.Kind {
		case batch.Fulfilled:
			result.Fulfilled = append(result.Fulfilled, outcome)
		case batch.HardFailed:
			result.HardFailed = append(result.HardFailed, outcome)
		case batch.TimedOut:
			pending = append(pending, outcome.Group)
		case batch.AlreadyHandled:
			result.DroppedTimeouts = append(result.DroppedTimeouts, outcome)
		}
	}
	result.Pending = b.WithGroups(pending)

	logger.Debug("download attempt finished",
		logging.Int("fulfilled", len(result.Fulfilled)),
		logging.Int("hard_failed", len(result.HardFailed)),
		logging.Int("timed_out", len(pending)),
		logging.Int("dropped_timeouts", len(result.DroppedTimeouts)),
	)

	if len(result.Fulfilled) == 0 && len(pending) == 0 && len(result.DroppedTimeouts) == 0 {
		return result, services.Wrap(services.ErrBatchAborted, "download", "attempt",
			fmt.Sprintf("all %d group(s) failed", len(result.HardFailed)), nil)
	}
	return result, nil
}

// plan reads the URL cache and assigns each group its deadline budget.
func (e *Engine) plan(ctx context.Context, logger *slog.Logger, attempt Attempt) []plan {
	plans := make([]plan, len(attempt.Batch.Groups))
	firstNetwork := true
	for i, group := range attempt.Batch.Groups {
		p := plan{group: group, cached: make(map[string]string)}
		for _, entry := range group.Channels() {
			if e.cache == nil {
				break
			}
			url, ok, err := e.cache.LookupURL(ctx, entry.Job.ID)
			if err != nil {
				logger.Debug("url cache lookup failed", logging.JobID(entry.Job.ID), logging.Error(err))
				continue
			}
			if ok {
				p.cached[entry.Job.ID] = url
			}
		}
		if len(p.cached) < group.Len() && attempt.Batch.Retryable {
			if firstNetwork {
				p.budget = attempt.RetryTimeout
				firstNetwork = false
			} else {
				p.budget = attempt.StatusCheckTimeout
			}
		}
		plans[i] = p
	}
	return plans
}

func (e *Engine) processGroup(ctx context.Context, logger *slog.Logger, b batch.Batch, p plan) batch.Outcome {
	entries := p.group.Channels()
	urls := make([]string, len(entries))
	errs := make([]error, len(entries))
	var missing []int
	for i, entry := range entries {
		if url, ok := p.cached[entry.Job.ID]; ok {
			urls[i] = url
			continue
		}
		missing = append(missing, i)
	}

	groupLogger := logger.With(logging.GroupKey(p.group.Key()))
	if len(missing) > 0 {
		groupCtx, cancel := withBudget(ctx, p.budget)
		defer cancel()
		g, channelCtx := errgroup.WithContext(groupCtx)
		for _, i := range missing {
			entry := entries[i]
			g.Go(func() error {
				url, err := e.resolver.ResolveDownloadURL(channelCtx, entry.Job.ID)
				if err != nil {
					errs[i] = err
					return err
				}
				urls[i] = url
				if e.cache != nil {
					if err := e.cache.CacheURL(ctx, b.ID, entry.Job.ID, url); err != nil {
						groupLogger.Warn("url cache write failed",
							logging.JobID(entry.Job.ID),
							logging.Error(err),
							logging.String(logging.FieldEventType, "url_cache_write_failed"),
							logging.String(logging.FieldErrorHint, "check the recovery database"),
							logging.String(logging.FieldImpact, "url will be resolved again on the next attempt"),
						)
					}
				}
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			return batch.TimedOutOutcome(p.group)
		}
	}

	cause := firstHardFailure(errs)
	if cause == nil && !b.Retryable {
		// The final attempt has no later pass to hand a transport failure to.
		cause = firstRemoteFailure(errs)
	}
	if cause != nil {
		reason := cause.Error()
		logging.WarnWithContext(groupLogger, "group dropped after remote failure", "group_hard_failed",
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "the service will not deliver this job; submit a new generation"),
			logging.String(logging.FieldImpact, "group removed from batch"),
		)
		e.sink.ReportMessage(ctx, b.Identity, fmt.Sprintf("%s failed: %s", batch.DescribeGroup(p.group), reason))
		return batch.HardFailedOutcome(p.group, reason)
	}
	if anyError(errs) {
		if b.Retryable {
			groupLogger.Info("group deferred to next attempt",
				logging.Duration("budget", p.budget),
				logging.String("cause", firstRemoteFailureText(errs)),
			)
			return batch.TimedOutOutcome(p.group)
		}
		logging.WarnWithContext(groupLogger, "group timed out on final attempt", "group_final_timeout",
			logging.Alert("final_attempt_timeout"),
			logging.String(logging.FieldErrorHint, "final attempts run without a deadline; inspect the resolver"),
			logging.String(logging.FieldImpact, "group removed from batch"),
		)
		e.sink.ReportMessage(ctx, b.Identity, fmt.Sprintf("%s timed out and was dropped", batch.DescribeGroup(p.group)))
		return batch.Outcome{Group: p.group, Kind: batch.AlreadyHandled, Reason: services.ErrGroupTimedOut.Error()}
	}

	artifacts := make([]batch.Artifact, len(entries))
	for i, entry := range entries {
		artifacts[i] = batch.Artifact{Channel: entry.Channel, JobID: entry.Job.ID, URL: urls[i]}
	}
	return batch.FulfilledOutcome(p.group, artifacts)
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// firstHardFailure returns the first channel error the service marked as
// permanent: a failed or unknown job.
func firstHardFailure(errs []error) error {
	for _, err := range errs {
		if errors.Is(err, services.ErrGroupHardFailed) || errors.Is(err, services.ErrNotFound) {
			return err
		}
	}
	return nil
}

// firstRemoteFailure returns the first channel error that is not a group
// deadline or a sibling cancellation. Transport failures count even when the
// last per-request timeout is what exhausted the client's retries.
func firstRemoteFailure(errs []error) error {
	for _, err := range errs {
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			continue
		case errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, services.ErrTransient):
			continue
		}
		return err
	}
	return nil
}

func firstRemoteFailureText(errs []error) string {
	if err := firstRemoteFailure(errs); err != nil {
		return err.Error()
	}
	return services.ErrGroupTimedOut.Error()
}

func anyError(errs []error) bool {
	for _, err := range errs {
		if err != nil {
			return true
		}
	}
	return false
}
