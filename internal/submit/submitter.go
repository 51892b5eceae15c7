package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"genfetch/internal/batch"
	"genfetch/internal/logging"
	"genfetch/internal/notifications"
	"genfetch/internal/remote"
	"genfetch/internal/services"
)

// Remote is the slice of the generation service a submission needs.
type Remote interface {
	Upload(ctx context.Context, name string, body io.Reader) (remote.Upload, error)
	ReleaseUpload(ctx context.Context, assetID string) error
	Generate(ctx context.Context, req remote.Request) (remote.GenerateResult, error)
}

// Recorder persists a freshly submitted batch.
type Recorder interface {
	Record(ctx context.Context, b batch.Batch) error
}

// Gate is the caller's submit control. It is disabled while a submission
// runs and always re-enabled afterwards.
type Gate interface {
	Disable(identity string)
	Enable(identity string)
}

// Publisher forwards lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event notifications.Event, payload notifications.Payload)
}

// Dependencies wires a Submitter. Remote and Log are required.
type Dependencies struct {
	Remote    Remote
	Log       Recorder
	Gate      Gate
	Sink      notifications.Sink
	Publisher Publisher
	Logger    *slog.Logger

	// OpenReference reads a reference payload; defaults to os.Open.
	OpenReference func(path string) (io.ReadCloser, error)
	NewID         func() string
	Now           func() time.Time
}

// Submitter issues generation requests.
type Submitter struct {
	deps   Dependencies
	limits batch.Limits
	logger *slog.Logger
}

// NewSubmitter builds a Submitter.
func NewSubmitter(deps Dependencies, limits batch.Limits) *Submitter {
	if deps.Gate == nil {
		deps.Gate = openGate{}
	}
	if deps.Sink == nil {
		deps.Sink = notifications.Discard{}
	}
	if deps.Publisher == nil {
		deps.Publisher = silentPublisher{}
	}
	if deps.OpenReference == nil {
		deps.OpenReference = func(path string) (io.ReadCloser, error) { return os.Open(path) }
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Submitter{
		deps:   deps,
		limits: limits,
		logger: logging.NewComponentLogger(logger, "submit"),
	}
}

// Submit generates spec for identity and records the resulting batch.
//
// An invalid spec fails with services.ErrUnsupportedCombination before any
// network call. A failed upload, a whole-batch rejection or a response with
// no accepted variation fails with services.ErrSubmissionAborted and writes
// nothing to the recovery log.
func (s *Submitter) Submit(ctx context.Context, identity string, spec batch.Spec, progressID string) (batch.Batch, error) {
	s.deps.Gate.Disable(identity)
	defer s.deps.Gate.Enable(identity)

	normalized, err := spec.Normalize(s.limits)
	if err != nil {
		return batch.Batch{}, err
	}

	traceID := s.deps.NewID()
	ctx = services.WithIdentity(ctx, identity)
	ctx = services.WithProgressID(ctx, progressID)
	ctx = services.WithRequestID(ctx, traceID)
	logger := logging.WithContext(ctx, s.logger)

	uploads := s.startUploads(ctx, normalized.References)
	defer uploads.release(ctx, s.deps.Remote, logger)

	assetIDs, err := uploads.wait()
	if err != nil {
		if ctx.Err() != nil {
			return batch.Batch{}, ctx.Err()
		}
		return batch.Batch{}, s.abort(ctx, identity, "reference upload failed", err)
	}

	result, err := s.deps.Remote.Generate(ctx, remote.NewRequest(normalized, traceID, assetIDs))
	if err != nil {
		if ctx.Err() != nil {
			return batch.Batch{}, ctx.Err()
		}
		return batch.Batch{}, s.abort(ctx, identity, "generate request failed", err)
	}
	if result.Rejection != nil {
		s.deps.Sink.ReportMessage(ctx, identity, result.Rejection.Error())
		return batch.Batch{}, s.abort(ctx, identity, "generation rejected", result.Rejection)
	}

	groups, metadata := s.classify(ctx, logger, identity, normalized, result.Items)
	if len(groups) == 0 {
		return batch.Batch{}, s.abort(ctx, identity, fmt.Sprintf("0 of %d variations accepted", len(result.Items)), nil)
	}
	metadata.TraceID = traceID

	b := batch.Batch{
		ID:         s.deps.NewID(),
		Identity:   identity,
		ProgressID: progressID,
		Retryable:  true,
		Metadata:   metadata,
		Groups:     groups,
		CreatedAt:  s.deps.Now().UTC(),
	}
	if err := b.Validate(); err != nil {
		return batch.Batch{}, s.abort(ctx, identity, "invalid generation response", err)
	}
	if err := s.deps.Log.Record(context.WithoutCancel(ctx), b); err != nil {
		logging.WarnWithContext(logger, "recovery record failed", "recovery_record_failed",
			logging.BatchID(b.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the recovery database"),
			logging.String(logging.FieldImpact, "batch cannot be resumed after a crash"),
		)
	}

	logger.Info("batch submitted",
		logging.BatchID(b.ID),
		logging.Int("groups", len(b.Groups)),
		logging.Int("requested", normalized.Variations),
		logging.Int64("cost", metadata.Cost),
	)
	return b, nil
}

// classify keeps accepted variations as groups and reports the rest.
func (s *Submitter) classify(ctx context.Context, logger *slog.Logger, identity string, spec batch.Spec, items []remote.GeneratedItem) ([]batch.Group, batch.Metadata) {
	metadata := batch.Metadata{
		Kind:   spec.Kind,
		Prompt: spec.Prompt,
		Model:  spec.Model,
	}
	var groups []batch.Group
	for i, item := range items {
		if item.Error != nil {
			logging.WarnWithContext(logger, "variation rejected", "variation_rejected",
				logging.Int("variation", i),
				logging.String("code", string(item.Error.Code)),
				logging.String(logging.FieldErrorHint, item.Error.Message),
				logging.String(logging.FieldImpact, "variation dropped"),
			)
			s.deps.Sink.ReportMessage(ctx, identity, fmt.Sprintf("Variation %d was rejected: %s", i+1, describeItemError(item.Error)))
			continue
		}
		group, err := groupFor(spec, item)
		if err != nil {
			logging.WarnWithContext(logger, "variation malformed", "variation_malformed",
				logging.Int("variation", i),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the service returned unusable job handles"),
				logging.String(logging.FieldImpact, "variation dropped"),
			)
			s.deps.Sink.ReportMessage(ctx, identity, fmt.Sprintf("Variation %d could not be tracked: %v", i+1, err))
			continue
		}
		groups = append(groups, group)
		metadata.Cost += item.Cost
		if spec.Seed != nil && item.Seed != nil {
			metadata.CustomSeeds = append(metadata.CustomSeeds, *item.Seed)
		}
	}
	return groups, metadata
}

func groupFor(spec batch.Spec, item remote.GeneratedItem) (batch.Group, error) {
	if len(item.Jobs) == 0 {
		return batch.Group{}, errors.New("no jobs")
	}
	if !spec.Kind.Traits().MultiChannel {
		if len(item.Jobs) != 1 {
			return batch.Group{}, fmt.Errorf("expected 1 job, got %d", len(item.Jobs))
		}
		return batch.SingleGroup(batch.Job{ID: item.Jobs[0].JobID, Seed: item.Seed}), nil
	}

	entries := make([]batch.ChannelJob, 0, len(item.Jobs))
	for _, job := range item.Jobs {
		entries = append(entries, batch.ChannelJob{
			Channel: strings.ToLower(strings.TrimSpace(job.Channel)),
			Job:     batch.Job{ID: job.JobID, Seed: item.Seed},
		})
	}
	group, err := batch.NewGroup(entries...)
	if err != nil {
		return batch.Group{}, err
	}
	if group.Len() != len(spec.Channels) {
		return batch.Group{}, fmt.Errorf("expected %d channels, got %d", len(spec.Channels), group.Len())
	}
	return group, nil
}

func (s *Submitter) abort(ctx context.Context, identity, message string, cause error) error {
	err := services.Wrap(services.ErrSubmissionAborted, "submit", "generate", message, cause)
	logging.WarnWithContext(logging.WithContext(ctx, s.logger), "submission aborted", "submission_aborted",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "adjust the request or retry later"),
		logging.String(logging.FieldImpact, "no batch created"),
	)
	s.deps.Publisher.Publish(ctx, notifications.EventSubmissionAborted, notifications.Payload{
		"identity": identity,
		"error":    message,
	})
	return err
}

func describeItemError(e *remote.ItemError) string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

type openGate struct{}

func (openGate) Disable(string) {}
func (openGate) Enable(string)  {}

type silentPublisher struct{}

func (silentPublisher) Publish(context.Context, notifications.Event, notifications.Payload) {}
