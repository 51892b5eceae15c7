package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genfetch/internal/batch"
	"genfetch/internal/config"
	"genfetch/internal/notifications"
	"genfetch/internal/quote"
	"genfetch/internal/remote"
	"genfetch/internal/services"
	"genfetch/internal/testsupport"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) has(event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type fixture struct {
	cfg      *config.Config
	service  *testsupport.FakeService
	notifier *recordingNotifier
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	service := testsupport.NewFakeService(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemoteURL(service.BaseURL()), testsupport.WithMaxRetries(1))
	cfg.Download.RetryTimeoutSeconds = 1
	cfg.Download.MaxRetryTimeoutSeconds = 1
	cfg.Download.StatusCheckTimeoutSeconds = 1
	notifier := &recordingNotifier{}

	manager, err := NewManager(context.Background(), cfg, nil,
		WithNotifier(notifier),
		WithRemoteOptions(remote.WithPollInterval(time.Millisecond), remote.WithRetryBackoff(0, 0)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return &fixture{cfg: cfg, service: service, notifier: notifier, manager: manager}
}

func (f *fixture) assetPath(identity, jobID string) string {
	return filepath.Join(f.cfg.Paths.OutputDir, filepath.FromSlash(identity), jobID+"_primary.png")
}

func TestGenerateAppliesFulfilledAndReportsHardFailure(t *testing.T) {
	f := newFixture(t)
	f.service.SetState("job-2", testsupport.JobMissing)
	ctx := context.Background()

	report, err := f.manager.Generate(ctx, GenerateRequest{
		Identity:     "props/crate",
		Spec:         batch.Spec{Prompt: "crate", Variations: 3},
		CreateTarget: true,
	})
	require.NoError(t, err)
	assert.Len(t, report.Fulfilled, 2)
	assert.Len(t, report.HardFailed, 1)
	assert.Equal(t, 2, report.Applied)

	for _, jobID := range []string{"job-1", "job-3"} {
		data, err := os.ReadFile(f.assetPath("props/crate", jobID))
		require.NoError(t, err)
		assert.Equal(t, testsupport.Payload(jobID), data)
	}
	pending, err := f.manager.PendingBatches(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending, "recovery entry is resolved")
	assert.Empty(t, f.manager.Placeholders().List("props/crate"))

	f.manager.dispatcher.Wait()
	assert.True(t, f.notifier.has(notifications.EventBatchCompleted))
	assert.True(t, f.notifier.has(notifications.EventMessage), "hard failure produces a message")
}

func TestGenerateRequiresExistingTarget(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Generate(context.Background(), GenerateRequest{
		Identity: "props/missing",
		Spec:     batch.Spec{Prompt: "crate"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrValidation)
	assert.Zero(t, f.service.Polls("job-1"))
}

func TestResumeCompletesRecordedBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.CreateTarget(ctx, "rock"))

	recorded := batch.Batch{
		ID:         "b-crash",
		Identity:   "rock",
		ProgressID: "p-crash",
		Retryable:  true,
		Metadata:   batch.Metadata{Kind: batch.KindImage, Prompt: "rock"},
		Groups:     []batch.Group{batch.SingleGroup(batch.Job{ID: "job-7"}), batch.SingleGroup(batch.Job{ID: "job-8"})},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.manager.log.Record(ctx, recorded))

	pending, err := f.manager.PendingBatches(ctx, "rock")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	report, err := f.manager.Resume(ctx, "b-crash")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.FileExists(t, f.assetPath("rock", "job-7"))
	assert.FileExists(t, f.assetPath("rock", "job-8"))

	pending, err = f.manager.PendingBatches(ctx, "rock")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.manager.Resume(ctx, "b-crash")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestResumeReusesCachedURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.CreateTarget(ctx, "rock"))

	recorded := batch.Batch{
		ID:         "b1",
		Identity:   "rock",
		ProgressID: "p1",
		Retryable:  true,
		Metadata:   batch.Metadata{Kind: batch.KindImage},
		Groups:     []batch.Group{batch.SingleGroup(batch.Job{ID: "job-5"})},
	}
	require.NoError(t, f.manager.log.Record(ctx, recorded))
	require.NoError(t, f.manager.log.CacheURL(ctx, "b1", "job-5", f.service.FileURL("job-5")))

	_, err := f.manager.Resume(ctx, "b1")
	require.NoError(t, err)
	assert.Zero(t, f.service.Polls("job-5"), "cached URL skips status polling")
	assert.Equal(t, 1, f.service.Fetches("job-5"))
}

func TestDiscardForgetsBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recorded := batch.Batch{
		ID:         "b-old",
		Identity:   "rock",
		ProgressID: "p-old",
		Retryable:  true,
		Metadata:   batch.Metadata{Kind: batch.KindImage},
		Groups:     []batch.Group{batch.SingleGroup(batch.Job{ID: "job-1"})},
	}
	require.NoError(t, f.manager.log.Record(ctx, recorded))

	count, err := f.manager.AnnouncePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, f.manager.Discard(ctx, "b-old"))
	pending, err := f.manager.PendingBatches(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.ErrorIs(t, f.manager.Discard(ctx, "b-old"), services.ErrNotFound)

	f.manager.dispatcher.Wait()
	assert.True(t, f.notifier.has(notifications.EventRecoveryPending))
}

func TestPrecacheFetchesOncePerURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.log.CacheURL(ctx, "b1", "job-9", f.service.FileURL("job-9")))

	report, err := f.manager.Precache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fetched)

	report, err = f.manager.Precache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Present)
	assert.Equal(t, 1, f.service.Fetches("job-9"))
}

func TestResumeWaitsForStateLock(t *testing.T) {
	f := newFixture(t)
	held := flock.New(f.cfg.LockPath())
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	t.Cleanup(func() { _ = held.Unlock() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.manager.Resume(ctx, "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQuoteThroughManager(t *testing.T) {
	f := newFixture(t)
	f.service.SetPoints(33)
	require.NoError(t, f.manager.CreateTarget(context.Background(), "rock"))

	result, err := f.manager.Quote(context.Background(), "rock", batch.Spec{Prompt: "rock", Variations: 2})
	require.NoError(t, err)
	assert.Equal(t, "estimated", result.Status.String())
	assert.Equal(t, int64(33), result.Points)
}

func TestQuoteSupersedesRequestHoldingTheLease(t *testing.T) {
	service := testsupport.NewFakeService(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemoteURL(service.BaseURL()))
	cfg.Transport.MaxLeases = 1
	manager, err := NewManager(context.Background(), cfg, nil,
		WithRemoteOptions(remote.WithPollInterval(time.Millisecond), remote.WithRetryBackoff(0, 0)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	require.NoError(t, manager.CreateTarget(context.Background(), "rock"))
	service.SetPoints(21)
	spec := batch.Spec{Prompt: "rock", Variations: 1}

	held := service.HoldNextQuote()
	first := make(chan quote.Result, 1)
	go func() {
		result, err := manager.Quote(context.Background(), "rock", spec)
		assert.NoError(t, err)
		first <- result
	}()
	select {
	case <-held:
	case <-time.After(5 * time.Second):
		t.Fatal("first quote never reached the service")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	second, err := manager.Quote(ctx, "rock", spec)
	require.NoError(t, err)
	assert.Equal(t, quote.StatusEstimated, second.Status)
	assert.Equal(t, int64(21), second.Points)
	assert.Equal(t, quote.StatusCanceled, (<-first).Status)
}
