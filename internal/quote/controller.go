// Package quote estimates the cost of a prospective generation. A newer
// request for an identity supersedes any older one still in flight.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"genfetch/internal/batch"
	"genfetch/internal/logging"
	"genfetch/internal/remote"
	"genfetch/internal/services"
)

// Status classifies a quote result.
type Status int

const (
	StatusEstimated Status = iota
	StatusInvalid
	StatusRejected
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusEstimated:
		return "estimated"
	case StatusInvalid:
		return "invalid"
	case StatusRejected:
		return "rejected"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of RequestQuote.
type Result struct {
	Status   Status
	Points   int64
	Reason   string
	Code     remote.ErrorCode
	Messages []string
}

// Stage tags observer notices.
type Stage string

const (
	StageValidating Stage = "validating"
	StageRequesting Stage = "requesting"
	StageEstimated  Stage = "estimated"
	StageInvalid    Stage = "invalid"
	StageRejected   Stage = "rejected"
)

// Notice is an intermediate or final status for an identity.
type Notice struct {
	Identity string
	Stage    Stage
	Text     string
}

// Observer receives notices. Implementations must not block.
type Observer interface {
	QuoteNotice(Notice)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Notice)

// QuoteNotice implements Observer.
func (f ObserverFunc) QuoteNotice(n Notice) { f(n) }

// Estimator prices a request.
type Estimator interface {
	Quote(ctx context.Context, req remote.Request) (remote.Quote, error)
}

// Pinger checks remote reachability.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// TargetChecker checks that a target identity exists.
type TargetChecker interface {
	TargetExists(ctx context.Context, identity string) (bool, error)
}

// Dependencies wires a Controller. Pinger, Targets and Acquire are optional.
type Dependencies struct {
	Estimator Estimator
	Pinger    Pinger
	Targets   TargetChecker
	Observer  Observer
	Logger    *slog.Logger
	// Acquire admits a request to the network once it is the current one
	// for its identity.
	Acquire func(ctx context.Context) (release func(), err error)
}

var (
	errSuperseded   = errors.New("quote superseded")
	errQuoteTimeout = errors.New("quote timed out")
)

type token struct {
	id uint64
	// cancel aborts the request with a cause; stop releases its contexts.
	cancel context.CancelCauseFunc
	stop   func()
}

// Controller owns the in-flight quote per identity.
type Controller struct {
	deps    Dependencies
	limits  batch.Limits
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]token
	nextID   uint64
}

// NewController builds a controller. timeout bounds each request; zero means
// the caller's context alone bounds it.
func NewController(deps Dependencies, limits batch.Limits, timeout time.Duration) *Controller {
	if deps.Observer == nil {
		deps.Observer = ObserverFunc(func(Notice) {})
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		deps:     deps,
		limits:   limits,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "quote"),
		inflight: make(map[string]token),
	}
}

// RequestQuote cancels any in-flight quote for identity, validates spec and
// the preconditions, then asks the service for a price. Only an unsupported
// parameter combination is returned as an error; every other outcome is a
// Result. A superseded request returns StatusCanceled and emits nothing.
func (c *Controller) RequestQuote(ctx context.Context, identity string, spec batch.Spec) (Result, error) {
	identity = strings.TrimSpace(identity)
	ctx, tok := c.register(ctx, identity)
	defer c.release(identity, tok)

	normalized, err := spec.Normalize(c.limits)
	if err != nil {
		return Result{}, err
	}

	logger := logging.WithContext(ctx, c.logger).With(logging.Identity(identity))
	c.notify(identity, tok, StageValidating, "validating…")

	if c.deps.Acquire != nil {
		releaseLease, err := c.deps.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.interrupted(ctx, logger, identity, tok), nil
			}
			return Result{}, err
		}
		defer releaseLease()
	}

	if reason, ok := c.validate(ctx, identity); !ok {
		if ctx.Err() != nil {
			return c.interrupted(ctx, logger, identity, tok), nil
		}
		c.notify(identity, tok, StageInvalid, reason)
		logger.Info("quote precondition failed", logging.String("reason", reason))
		return Result{Status: StatusInvalid, Reason: reason}, nil
	}

	c.notify(identity, tok, StageRequesting, "requesting quote…")
	quote, err := c.deps.Estimator.Quote(ctx, remote.NewRequest(normalized, "", nil))
	if ctx.Err() != nil || !c.current(identity, tok) {
		return c.interrupted(ctx, logger, identity, tok), nil
	}
	if err != nil {
		result := rejected(err)
		c.notify(identity, tok, StageRejected, result.Reason)
		logger.Info("quote rejected",
			logging.String("code", string(result.Code)),
			logging.Strings("messages", result.Messages),
		)
		return result, nil
	}

	c.notify(identity, tok, StageEstimated, fmt.Sprintf("%d points", quote.Points))
	logger.Debug("quote estimated", logging.Int64("points", quote.Points))
	return Result{Status: StatusEstimated, Points: quote.Points}, nil
}

// Cancel aborts the in-flight quote for identity, if any. The request stays
// current until it unwinds so it can reset the observer.
func (c *Controller) Cancel(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.inflight[identity]; ok {
		tok.cancel(context.Canceled)
	}
}

// InFlight reports whether identity has a pending quote.
func (c *Controller) InFlight(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[identity]
	return ok
}

func (c *Controller) register(ctx context.Context, identity string) (context.Context, token) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := func() { cancel(nil) }
	if c.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, c.timeout, errQuoteTimeout)
		stop = func() {
			cancelTimeout()
			cancel(nil)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if previous, ok := c.inflight[identity]; ok {
		previous.cancel(errSuperseded)
	}
	c.nextID++
	tok := token{id: c.nextID, cancel: cancel, stop: stop}
	c.inflight[identity] = tok
	return ctx, tok
}

func (c *Controller) release(identity string, tok token) {
	tok.stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.inflight[identity]; ok && current.id == tok.id {
		delete(c.inflight, identity)
	}
}

func (c *Controller) current(identity string, tok token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.inflight[identity]
	return ok && current.id == tok.id
}

// notify emits a notice only while tok is still the current request, so a
// superseded request goes quiet. The observer runs under the lock, which
// orders it against supersession.
func (c *Controller) notify(identity string, tok token, stage Stage, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.inflight[identity]; !ok || current.id != tok.id {
		return
	}
	c.deps.Observer.QuoteNotice(Notice{Identity: identity, Stage: stage, Text: text})
}

// interrupted classifies a request whose context ended. Running past the
// controller's own timeout is a service failure and is reported as such.
// Anything else is cancellation: the observer is reset to the validating
// notice, and superseded requests stay silent.
func (c *Controller) interrupted(ctx context.Context, logger *slog.Logger, identity string, tok token) Result {
	if errors.Is(context.Cause(ctx), errQuoteTimeout) && c.current(identity, tok) {
		reason := fmt.Sprintf("generation service did not answer within %s", c.timeout)
		c.notify(identity, tok, StageRejected, reason)
		logging.WarnWithContext(logger, "quote timed out", "quote_timeout",
			logging.Duration("timeout", c.timeout),
			logging.String(logging.FieldErrorHint, "check the service or raise quote.timeout_seconds"),
			logging.String(logging.FieldImpact, "no estimate shown"),
		)
		return Result{
			Status:   StatusRejected,
			Code:     remote.CodeUnavailable,
			Reason:   reason,
			Messages: []string{reason},
		}
	}
	c.notify(identity, tok, StageValidating, "validating…")
	return Result{Status: StatusCanceled}
}

func (c *Controller) validate(ctx context.Context, identity string) (string, bool) {
	if identity == "" {
		return "no target selected", false
	}
	if c.deps.Pinger != nil {
		if err := c.deps.Pinger.HealthCheck(ctx); err != nil {
			return fmt.Sprintf("generation service unreachable: %v", err), false
		}
	}
	if c.deps.Targets != nil {
		exists, err := c.deps.Targets.TargetExists(ctx, identity)
		if err != nil {
			return fmt.Sprintf("cannot check target %s: %v", identity, err), false
		}
		if !exists {
			return fmt.Sprintf("target %s does not exist", identity), false
		}
	}
	return "", true
}

func rejected(err error) Result {
	var rejection *remote.Rejection
	if errors.As(err, &rejection) {
		return Result{
			Status:   StatusRejected,
			Code:     rejection.Code,
			Messages: rejection.Messages,
			Reason:   rejection.Error(),
		}
	}
	return Result{
		Status:   StatusRejected,
		Code:     remote.CodeUnavailable,
		Messages: []string{err.Error()},
		Reason:   services.Wrap(services.ErrQuoteRejected, "quote", "request", "service unavailable", err).Error(),
	}
}
