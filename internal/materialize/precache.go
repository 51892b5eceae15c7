package materialize

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"genfetch/internal/logging"
	"genfetch/internal/recovery"
)

// URLSource lists cached download URLs that were not consumed yet.
type URLSource interface {
	PendingURLs(ctx context.Context) ([]recovery.CachedURL, error)
}

// PrecacheReport summarizes one precache pass.
type PrecacheReport struct {
	Fetched int
	Present int
	Failed  int
}

// Precacher downloads cached URLs into the artifact store.
type Precacher struct {
	store  *Store
	source URLSource
	gate   *semaphore.Weighted
	logger *slog.Logger
}

// NewPrecacher builds a precacher over store and source.
func NewPrecacher(store *Store, source URLSource, logger *slog.Logger) *Precacher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Precacher{
		store:  store,
		source: source,
		gate:   semaphore.NewWeighted(1),
		logger: logging.NewComponentLogger(logger, "precache"),
	}
}

// Run performs one pass. A pass already in progress makes Run wait for it
// rather than fail. Individual fetch failures are logged and counted; the
// URL stays cached for the next pass.
func (p *Precacher) Run(ctx context.Context) (PrecacheReport, error) {
	if err := p.gate.Acquire(ctx, 1); err != nil {
		return PrecacheReport{}, err
	}
	defer p.gate.Release(1)

	var report PrecacheReport
	pending, err := p.source.PendingURLs(ctx)
	if err != nil {
		return report, err
	}
	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fetched, err := p.store.Cache(ctx, entry.JobID, entry.URL)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			logging.WarnWithContext(p.logger, "precache fetch failed", "precache_failed",
				logging.JobID(entry.JobID),
				logging.BatchID(entry.BatchID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the URL may have expired; resuming the batch resolves it again"),
				logging.String(logging.FieldImpact, "artifact will be fetched when applied"),
			)
		case fetched:
			report.Fetched++
		default:
			report.Present++
		}
	}
	p.logger.Info("precache pass finished",
		logging.Int("fetched", report.Fetched),
		logging.Int("present", report.Present),
		logging.Int("failed", report.Failed),
	)
	return report, nil
}
