package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"genfetch/internal/batch"
	"genfetch/internal/config"
	"genfetch/internal/download"
	"genfetch/internal/logging"
	"genfetch/internal/materialize"
	"genfetch/internal/notifications"
	"genfetch/internal/placeholder"
	"genfetch/internal/progress"
	"genfetch/internal/quote"
	"genfetch/internal/recovery"
	"genfetch/internal/remote"
	"genfetch/internal/retry"
	"genfetch/internal/submit"
	"genfetch/internal/transport"
)

// Manager owns the pipeline components for one configuration.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	pool       *transport.Pool
	client     *remote.Client
	log        *recovery.Store
	store      *materialize.Store
	registry   *placeholder.Registry
	dispatcher *notifications.Dispatcher

	quotes    *quote.Controller
	submitter *submit.Submitter
	retry     *retry.Controller
	precacher *materialize.Precacher

	newID func() string
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	reporter      progress.Reporter
	notifier      notifications.Service
	quoteObserver quote.Observer
	gate          submit.Gate
	remoteOptions []remote.Option
}

// WithReporter routes placeholder progress to reporter.
func WithReporter(reporter progress.Reporter) ManagerOption {
	return func(o *managerOptions) { o.reporter = reporter }
}

// WithNotifier replaces the configured notification service (used in tests).
func WithNotifier(service notifications.Service) ManagerOption {
	return func(o *managerOptions) { o.notifier = service }
}

// WithQuoteObserver receives intermediate quote notices.
func WithQuoteObserver(observer quote.Observer) ManagerOption {
	return func(o *managerOptions) { o.quoteObserver = observer }
}

// WithSubmitGate installs the caller's submit control.
func WithSubmitGate(gate submit.Gate) ManagerOption {
	return func(o *managerOptions) { o.gate = gate }
}

// WithRemoteOptions tunes the remote client, e.g. poll interval in tests.
func WithRemoteOptions(opts ...remote.Option) ManagerOption {
	return func(o *managerOptions) { o.remoteOptions = append(o.remoteOptions, opts...) }
}

// NewManager opens the recovery log and blob buckets named by cfg and wires
// every pipeline component over one shared transport pool.
func NewManager(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config is required")
	}
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.notifier == nil {
		options.notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	pool := transport.NewPool(transport.OptionsFromConfig(cfg))
	remoteOpts := append([]remote.Option{remote.WithHTTPClient(pool.Client())}, options.remoteOptions...)
	client := remote.NewFromConfig(cfg, remoteOpts...)

	log, err := recovery.Open(cfg, recovery.WithLogger(logger))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open recovery log: %w", err)
	}
	store, err := materialize.Open(ctx, cfg, client, logger)
	if err != nil {
		_ = log.Close()
		pool.Close()
		return nil, err
	}

	dispatcher := notifications.NewDispatcher(logger, options.notifier)
	registry := placeholder.NewRegistry(options.reporter)
	limits := LimitsFromConfig(cfg)

	m := &Manager{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "workflow"),
		pool:       pool,
		client:     client,
		log:        log,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		newID:      uuid.NewString,
	}
	m.quotes = quote.NewController(quote.Dependencies{
		Estimator: client,
		Pinger:    client,
		Targets:   store,
		Observer:  options.quoteObserver,
		Logger:    logger,
		Acquire: func(ctx context.Context) (func(), error) {
			lease, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return lease.Release, nil
		},
	}, limits, cfg.QuoteTimeout())
	m.submitter = submit.NewSubmitter(submit.Dependencies{
		Remote:    client,
		Log:       log,
		Gate:      options.gate,
		Sink:      dispatcher,
		Publisher: dispatcher,
		Logger:    logger,
	}, limits)
	m.retry = retry.NewController(retry.Dependencies{
		Engine:       download.NewEngine(client, log, dispatcher, logger),
		Log:          log,
		Materializer: store,
		Placeholders: registry,
		Sink:         dispatcher,
		Logger:       logger,
	}, retry.PolicyFromConfig(cfg))
	m.precacher = materialize.NewPrecacher(store, log, logger)
	return m, nil
}

// LimitsFromConfig derives request limits from the generation section.
func LimitsFromConfig(cfg *config.Config) batch.Limits {
	return batch.Limits{
		MaxVariations:   cfg.Generation.MaxVariations,
		DefaultChannels: append([]string(nil), cfg.Generation.DefaultMaterialChannels...),
	}
}

// Placeholders exposes the in-flight registry for status rendering.
func (m *Manager) Placeholders() *placeholder.Registry {
	return m.registry
}

// Close waits for pending notifications and releases every resource.
func (m *Manager) Close() error {
	m.dispatcher.Wait()
	m.pool.Close()
	return errors.Join(m.store.Close(), m.log.Close())
}
