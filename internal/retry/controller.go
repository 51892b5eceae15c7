// Package retry drives a batch through bounded download attempts until every
// group is fulfilled or dropped, then materializes results and cleans up.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"genfetch/internal/batch"
	"genfetch/internal/download"
	"genfetch/internal/logging"
	"genfetch/internal/notifications"
	"genfetch/internal/progress"
	"genfetch/internal/services"
)

// Downloader performs one attempt.
type Downloader interface {
	AttemptDownload(ctx context.Context, attempt download.Attempt) (download.Result, error)
}

// Log is the part of the recovery log the controller mutates.
type Log interface {
	Update(ctx context.Context, b batch.Batch) error
	Resolve(ctx context.Context, batchID string) error
	ForgetURLs(ctx context.Context, jobIDs ...string) error
}

// Materializer applies fulfilled artifacts to their target.
type Materializer interface {
	Cache(ctx context.Context, jobID, rawURL string) (bool, error)
	SaveBackup(ctx context.Context, identity string) (bool, error)
	ApplyArtifact(ctx context.Context, identity string, kind batch.Kind, artifact batch.Artifact) (bool, error)
}

// Placeholders tracks in-flight stand-ins per progress id.
type Placeholders interface {
	Resolve(progressID string, n int) int
	Progress(ctx context.Context, progressID string, fraction float64, description string)
	Remove(ctx context.Context, progressID, description string) int
}

// Dependencies wires a Controller.
type Dependencies struct {
	Engine       Downloader
	Log          Log
	Materializer Materializer
	Placeholders Placeholders
	Sink         notifications.Sink
	Logger       *slog.Logger
}

// Report summarizes one Execute call.
type Report struct {
	BatchID    string
	Attempts   int
	Fulfilled  []batch.Outcome
	HardFailed []batch.Outcome
	Dropped    []batch.Outcome
	// Applied counts groups written to the target; ApplyFailed counts
	// fulfilled groups whose bytes could not be written.
	Applied     int
	ApplyFailed int
	Aborted     bool
	// Retained is set when groups that failed to apply were left in the
	// recovery log, with their resolved URLs, for a later resume.
	Retained bool
}

// Controller runs the retry loop.
type Controller struct {
	deps   Dependencies
	policy Policy
	logger *slog.Logger
}

// NewController builds a controller. Engine, Log and Materializer are required.
func NewController(deps Dependencies, policy Policy) *Controller {
	if deps.Sink == nil {
		deps.Sink = notifications.Discard{}
	}
	if deps.Placeholders == nil {
		deps.Placeholders = noPlaceholders{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		deps:   deps,
		policy: policy,
		logger: logging.NewComponentLogger(logger, "retry"),
	}
}

// Execute drives b to completion. The recovery entry of b must already exist.
//
// Cancellation returns ctx.Err() and leaves the recovery entry in place so
// the batch can be resumed. An attempt in which every group hard-failed ends
// the run with an error wrapping services.ErrBatchAborted. A timeout on the
// final attempt, or a pending set that grows, returns
// services.ErrInvariantViolation.
func (c *Controller) Execute(ctx context.Context, b batch.Batch) (Report, error) {
	report := Report{BatchID: b.ID}
	logger := logging.WithContext(ctx, c.logger).With(
		logging.Identity(b.Identity),
		logging.BatchID(b.ID),
		logging.String(logging.FieldProgressID, b.ProgressID),
	)
	run := &execution{
		Controller: c,
		logger:     logger,
		original:   b,
		total:      len(b.Groups),
		report:     &report,
	}

	pending := b
	for attempt := 0; attempt <= c.policy.MaxRetries && !pending.Empty(); attempt++ {
		retryable := c.policy.Retryable(attempt)
		current := pending.WithRetryable(retryable)
		report.Attempts = attempt + 1

		result, err := run.attempt(ctx, attempt, current)
		if err != nil {
			if ctx.Err() != nil {
				c.deps.Placeholders.Remove(context.WithoutCancel(ctx), b.ProgressID, "canceled")
				return report, ctx.Err()
			}
			if errors.Is(err, services.ErrBatchAborted) {
				report.HardFailed = append(report.HardFailed, result.HardFailed...)
				report.Aborted = true
				run.finish(ctx, "failed")
				return report, err
			}
			return report, err
		}

		report.Fulfilled = append(report.Fulfilled, result.Fulfilled...)
		report.HardFailed = append(report.HardFailed, result.HardFailed...)
		report.Dropped = append(report.Dropped, result.DroppedTimeouts...)
		run.materialize(ctx, result.Fulfilled)

		if err := run.checkInvariants(current, result, retryable); err != nil {
			run.finish(ctx, "failed")
			return report, err
		}

		pending = result.Pending
		settled := len(result.Fulfilled) + len(result.HardFailed) + len(result.DroppedTimeouts)
		run.settled += settled
		c.deps.Placeholders.Resolve(b.ProgressID, settled)
		if !pending.Empty() {
			if err := c.deps.Log.Update(ctx, run.unfinished(pending)); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(logger, "recovery log shrink failed", "recovery_update_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the recovery database"),
					logging.String(logging.FieldImpact, "a resumed batch may retry finished groups"),
				)
			}
			logger.Info("groups deferred to next attempt",
				logging.Attempt(attempt),
				logging.Int("pending", len(pending.Groups)),
			)
		}
	}

	run.finish(ctx, "done")
	logger.Info("batch finished",
		logging.Int("attempts", report.Attempts),
		logging.Int("fulfilled", len(report.Fulfilled)),
		logging.Int("hard_failed", len(report.HardFailed)),
		logging.Int("applied", report.Applied),
	)
	return report, nil
}

type execution struct {
	*Controller
	logger   *slog.Logger
	original batch.Batch
	total    int
	settled  int
	backedUp bool
	report   *Report
	// unapplied holds fulfilled groups whose bytes never reached the target.
	unapplied []batch.Group
}

// unfinished is what the recovery entry must still hold: the pending groups
// plus every group that resolved but could not be applied.
func (r *execution) unfinished(pending batch.Batch) batch.Batch {
	if len(r.unapplied) == 0 {
		return pending
	}
	groups := make([]batch.Group, 0, len(pending.Groups)+len(r.unapplied))
	groups = append(groups, pending.Groups...)
	groups = append(groups, r.unapplied...)
	return pending.WithGroups(groups)
}

func (r *execution) attempt(ctx context.Context, attempt int, current batch.Batch) (download.Result, error) {
	progressID := r.original.ProgressID
	start := r.fraction(r.settled)
	ceiling := r.fraction(r.settled + len(current.Groups))
	description := fmt.Sprintf("attempt %d of %d", attempt+1, r.policy.MaxRetries+1)
	r.deps.Placeholders.Progress(ctx, progressID, start, description)

	base := progress.NewUpdate(progressID).WithFraction(start).WithDescription(description)
	stop := progress.Pace(ctx, placeholderReporter{r.deps.Placeholders}, base, ceiling*0.95, r.policy.PaceInterval)
	defer stop()

	return r.deps.Engine.AttemptDownload(ctx, download.Attempt{
		Batch:              current,
		Number:             attempt,
		RetryTimeout:       r.policy.TimeoutFor(attempt),
		StatusCheckTimeout: r.policy.StatusCheckTimeout,
	})
}

func (r *execution) fraction(done int) float64 {
	if r.total == 0 {
		return 1
	}
	return float64(done) / float64(r.total)
}

// checkInvariants enforces that attempts only shrink the pending set and that
// a non-retryable attempt leaves nothing pending or timed out.
func (r *execution) checkInvariants(current batch.Batch, result download.Result, retryable bool) error {
	before := current.KeySet()
	for _, group := range result.Pending.Groups {
		if _, ok := before[group.Key()]; !ok {
			return r.violation("pending set re-admitted group "+group.Key(), nil)
		}
	}
	if len(result.Pending.Groups) > len(current.Groups) {
		return r.violation("pending set grew", nil)
	}
	if !retryable && (len(result.DroppedTimeouts) > 0 || !result.Pending.Empty()) {
		keys := make([]string, 0, len(result.DroppedTimeouts)+len(result.Pending.Groups))
		for _, outcome := range result.DroppedTimeouts {
			keys = append(keys, outcome.Group.Key())
		}
		for _, group := range result.Pending.Groups {
			keys = append(keys, group.Key())
		}
		return r.violation(fmt.Sprintf("final attempt timed out for %d group(s)", len(keys)), keys)
	}
	return nil
}

func (r *execution) violation(message string, groups []string) error {
	logging.ErrorWithContext(r.logger, "retry invariant violated", "invariant_violation",
		logging.Alert("invariant_violation"),
		logging.String("detail", message),
		logging.Strings("groups", groups),
		logging.String(logging.FieldErrorHint, "this is a bug in download timeout accounting; report it with the log"),
	)
	return services.Wrap(services.ErrInvariantViolation, "retry", "execute", message, nil)
}

// materialize applies fulfilled groups. A group is applied only when the
// bytes of every channel are available, so a target never receives half a
// group.
func (r *execution) materialize(ctx context.Context, fulfilled []batch.Outcome) {
	if len(fulfilled) == 0 {
		return
	}
	identity := r.original.Identity
	if !r.backedUp {
		if _, err := r.deps.Materializer.SaveBackup(ctx, identity); err != nil {
			logging.WarnWithContext(r.logger, "target backup failed", "backup_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.backup_dir permissions"),
				logging.String(logging.FieldImpact, "previous target content not preserved"),
			)
		}
		r.backedUp = true
	}

	var consumed []string
	for _, outcome := range fulfilled {
		if err := r.applyGroup(ctx, identity, outcome); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.report.ApplyFailed++
			logging.WarnWithContext(r.logger, "fulfilled group could not be applied", "apply_failed",
				logging.GroupKey(outcome.Group.Key()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check storage.assets_url and the artifact URL"),
				logging.String(logging.FieldImpact, "result not written to target"),
			)
			r.deps.Sink.ReportMessage(ctx, identity, fmt.Sprintf("%s could not be applied and was kept for resume: %v", batch.DescribeGroup(outcome.Group), err))
			r.unapplied = append(r.unapplied, outcome.Group)
			continue
		}
		r.report.Applied++
		consumed = append(consumed, outcome.Group.JobIDs()...)
	}
	if len(consumed) == 0 {
		return
	}
	if err := r.deps.Log.ForgetURLs(ctx, consumed...); err != nil && ctx.Err() == nil {
		r.logger.Debug("forget consumed urls failed", logging.Error(err))
	}
}

func (r *execution) applyGroup(ctx context.Context, identity string, outcome batch.Outcome) error {
	for _, artifact := range outcome.Artifacts {
		if _, err := r.deps.Materializer.Cache(ctx, artifact.JobID, artifact.URL); err != nil {
			return err
		}
	}
	for _, artifact := range outcome.Artifacts {
		if _, err := r.deps.Materializer.ApplyArtifact(ctx, identity, r.original.Metadata.Kind, artifact); err != nil {
			return err
		}
	}
	return nil
}

// finish removes the placeholders of the whole batch and its recovery entry.
// Groups that resolved but could not be applied stay recorded, cached URLs
// included, so resume or precache can complete them.
func (r *execution) finish(ctx context.Context, description string) {
	cleanupCtx := context.WithoutCancel(ctx)
	defer r.deps.Placeholders.Remove(cleanupCtx, r.original.ProgressID, description)
	if len(r.unapplied) > 0 {
		if err := r.deps.Log.Update(cleanupCtx, r.original.WithGroups(r.unapplied)); err != nil {
			logging.WarnWithContext(r.logger, "recovery entry for unapplied groups not kept", "recovery_update_failed",
				logging.Error(err),
				logging.Int("groups", len(r.unapplied)),
				logging.String(logging.FieldErrorHint, "check the recovery database"),
				logging.String(logging.FieldImpact, "unapplied results must be generated again"),
			)
			return
		}
		r.report.Retained = true
		return
	}
	if err := r.deps.Log.Resolve(cleanupCtx, r.original.ID); err != nil {
		logging.WarnWithContext(r.logger, "recovery entry removal failed", "recovery_resolve_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run 'genfetch recovery discard' for this batch"),
			logging.String(logging.FieldImpact, "finished batch will be offered for resume"),
		)
	}
}

type placeholderReporter struct {
	placeholders Placeholders
}

func (p placeholderReporter) ReportProgress(ctx context.Context, update progress.Update) {
	p.placeholders.Progress(ctx, update.ProgressID(), update.Fraction(), update.Description())
}

type noPlaceholders struct{}

func (noPlaceholders) Resolve(string, int) int                           { return 0 }
func (noPlaceholders) Progress(context.Context, string, float64, string) {}
func (noPlaceholders) Remove(context.Context, string, string) int        { return 0 }
