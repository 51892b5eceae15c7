package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"genfetch/internal/batch"
	"genfetch/internal/logging"
	"genfetch/internal/materialize"
	"genfetch/internal/quote"
	"genfetch/internal/retry"
	"genfetch/internal/services"
)

const lockRetryDelay = 250 * time.Millisecond

// GenerateRequest describes one generation for a target.
type GenerateRequest struct {
	Identity string
	Spec     batch.Spec
	// CreateTarget registers the identity first when it does not exist yet.
	CreateTarget bool
}

// Quote estimates spec for identity. A newer quote for the same identity
// supersedes this one.
func (m *Manager) Quote(ctx context.Context, identity string, spec batch.Spec) (quote.Result, error) {
	return m.quotes.RequestQuote(ctx, identity, spec)
}

// Generate submits req and drives the resulting batch to completion.
// Submission failures wrap services.ErrSubmissionAborted; the batch outcome
// is in the report.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (retry.Report, error) {
	if _, err := materialize.TargetPrefix(req.Identity); err != nil {
		return retry.Report{}, services.Wrap(services.ErrValidation, "workflow", "generate", "invalid target", err)
	}
	lease, err := m.pool.Acquire(ctx)
	if err != nil {
		return retry.Report{}, err
	}
	defer lease.Release()

	if err := m.ensureTarget(ctx, req.Identity, req.CreateTarget); err != nil {
		return retry.Report{}, err
	}

	progressID := m.newID()
	ctx = services.WithIdentity(ctx, req.Identity)
	ctx = services.WithProgressID(ctx, progressID)

	b, err := m.submitter.Submit(ctx, req.Identity, req.Spec, progressID)
	if err != nil {
		return retry.Report{}, err
	}
	return m.execute(ctx, b)
}

// Resume drives a recorded batch to completion.
func (m *Manager) Resume(ctx context.Context, batchID string) (retry.Report, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return retry.Report{}, err
	}
	defer unlock()

	b, ok, err := m.log.Get(ctx, batchID)
	if err != nil {
		return retry.Report{}, err
	}
	if !ok {
		return retry.Report{}, services.Wrap(services.ErrNotFound, "workflow", "resume", fmt.Sprintf("no recorded batch %s", batchID), nil)
	}

	lease, err := m.pool.Acquire(ctx)
	if err != nil {
		return retry.Report{}, err
	}
	defer lease.Release()

	ctx = services.WithIdentity(ctx, b.Identity)
	ctx = services.WithProgressID(ctx, b.ProgressID)
	m.logger.Info("resuming batch",
		logging.Identity(b.Identity),
		logging.BatchID(b.ID),
		logging.Int("groups", len(b.Groups)),
	)
	return m.execute(ctx, b.WithRetryable(true))
}

// Discard forgets a recorded batch without downloading it.
func (m *Manager) Discard(ctx context.Context, batchID string) error {
	b, ok, err := m.log.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if !ok {
		return services.Wrap(services.ErrNotFound, "workflow", "discard", fmt.Sprintf("no recorded batch %s", batchID), nil)
	}
	if err := m.log.Resolve(ctx, batchID); err != nil {
		return err
	}
	m.registry.Remove(ctx, b.ProgressID, "discarded")
	logging.WarnWithContext(m.logger, "recorded batch discarded", "batch_discarded",
		logging.Identity(b.Identity),
		logging.BatchID(b.ID),
		logging.Int("groups", len(b.Groups)),
		logging.String(logging.FieldErrorHint, "discarded at user request"),
		logging.String(logging.FieldImpact, "pending results will not be downloaded"),
	)
	m.dispatcher.ReportMessage(ctx, b.Identity, fmt.Sprintf("Discarded %d pending result(s)", len(b.Groups)))
	return nil
}

// PendingBatches lists recorded batches for identity, or for every identity
// when identity is empty. Callers use it at startup to offer resume or discard.
func (m *Manager) PendingBatches(ctx context.Context, identity string) ([]batch.Batch, error) {
	if identity == "" {
		return m.log.EnumerateAll(ctx)
	}
	return m.log.Enumerate(ctx, identity)
}

// AnnouncePending publishes a recovery notice when batches are waiting.
func (m *Manager) AnnouncePending(ctx context.Context) (int, error) {
	pending, err := m.log.EnumerateAll(ctx)
	if err != nil {
		return 0, err
	}
	m.publishPending(ctx, len(pending))
	return len(pending), nil
}

// Precache downloads every cached but unconsumed URL into the artifact store.
func (m *Manager) Precache(ctx context.Context) (materialize.PrecacheReport, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return materialize.PrecacheReport{}, err
	}
	defer unlock()

	lease, err := m.pool.Acquire(ctx)
	if err != nil {
		return materialize.PrecacheReport{}, err
	}
	defer lease.Release()
	return m.precacher.Run(ctx)
}

// CreateTarget registers identity as an asset target.
func (m *Manager) CreateTarget(ctx context.Context, identity string) error {
	return m.store.CreateTarget(ctx, identity)
}

func (m *Manager) execute(ctx context.Context, b batch.Batch) (retry.Report, error) {
	if _, err := m.registry.Create(ctx, b.Identity, b.ProgressID, len(b.Groups)); err != nil {
		return retry.Report{}, err
	}
	report, err := m.retry.Execute(ctx, b)
	m.publishReport(ctx, b, report, err)
	return report, err
}

func (m *Manager) ensureTarget(ctx context.Context, identity string, create bool) error {
	exists, err := m.store.TargetExists(ctx, identity)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !create {
		return services.Wrap(services.ErrValidation, "workflow", "generate", fmt.Sprintf("target %s does not exist (use --create-target)", identity), nil)
	}
	return m.store.CreateTarget(ctx, identity)
}

// lock takes the cross-process state lock, waiting while another process
// holds it.
func (m *Manager) lock(ctx context.Context) (func(), error) {
	fileLock := flock.New(m.cfg.LockPath())
	ok, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}
	if !ok {
		return nil, errors.New("acquire state lock: not acquired")
	}
	return func() {
		if err := fileLock.Unlock(); err != nil {
			m.logger.Warn("failed to release state lock",
				logging.Error(err),
				logging.String(logging.FieldEventType, "lock_release_failed"),
				logging.String(logging.FieldErrorHint, "remove "+m.cfg.LockPath()+" if no genfetch process is running"),
				logging.String(logging.FieldImpact, "later resume or precache runs may wait"),
			)
		}
	}, nil
}
