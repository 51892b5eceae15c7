package submit_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genfetch/internal/batch"
	"genfetch/internal/notifications"
	"genfetch/internal/recovery"
	"genfetch/internal/remote"
	"genfetch/internal/services"
	"genfetch/internal/submit"
	"genfetch/internal/testsupport"
)

type fakeRemote struct {
	mu        sync.Mutex
	uploadErr map[string]error
	uploaded  []string
	released  []string
	requests  []remote.Request
	generate  func(remote.Request) (remote.GenerateResult, error)
}

func (f *fakeRemote) Upload(_ context.Context, name string, body io.Reader) (remote.Upload, error) {
	if _, err := io.ReadAll(body); err != nil {
		return remote.Upload{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadErr[name]; err != nil {
		return remote.Upload{}, err
	}
	f.uploaded = append(f.uploaded, name)
	return remote.Upload{AssetID: "asset-" + name}, nil
}

func (f *fakeRemote) ReleaseUpload(_ context.Context, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, assetID)
	return nil
}

func (f *fakeRemote) Generate(_ context.Context, req remote.Request) (remote.GenerateResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.generate(req)
}

type recordingGate struct {
	mu     sync.Mutex
	events []string
}

func (g *recordingGate) Disable(identity string) { g.add("disable " + identity) }
func (g *recordingGate) Enable(identity string)  { g.add("enable " + identity) }

func (g *recordingGate) add(event string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, event)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type harness struct {
	remote    *fakeRemote
	log       *recovery.Store
	gate      *recordingGate
	sink      *notifications.Recorder
	publisher *recordingPublisher
	submitter *submit.Submitter
}

func newHarness(t *testing.T, generate func(remote.Request) (remote.GenerateResult, error)) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	h := &harness{
		remote:    &fakeRemote{uploadErr: map[string]error{}, generate: generate},
		log:       testsupport.MustOpenLog(t, cfg),
		gate:      &recordingGate{},
		sink:      &notifications.Recorder{},
		publisher: &recordingPublisher{},
	}
	ids := 0
	h.submitter = submit.NewSubmitter(submit.Dependencies{
		Remote:    h.remote,
		Log:       h.log,
		Gate:      h.gate,
		Sink:      h.sink,
		Publisher: h.publisher,
		OpenReference: func(path string) (io.ReadCloser, error) {
			if strings.Contains(path, "missing") {
				return nil, errors.New("no such file")
			}
			return io.NopCloser(strings.NewReader("bytes of " + path)), nil
		},
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
		Now: func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) },
	}, batch.Limits{MaxVariations: 4, DefaultChannels: []string{"albedo", "normal"}})
	return h
}

func singleJobs(ids ...string) remote.GenerateResult {
	var result remote.GenerateResult
	for _, id := range ids {
		result.Items = append(result.Items, remote.GeneratedItem{
			Jobs: []remote.GeneratedJob{{Channel: batch.ChannelPrimary, JobID: id}},
			Cost: 5,
		})
	}
	return result
}

func (h *harness) recorded(t *testing.T) []batch.Batch {
	t.Helper()
	all, err := h.log.EnumerateAll(context.Background())
	require.NoError(t, err)
	return all
}

func TestSubmitRecordsBatch(t *testing.T) {
	h := newHarness(t, func(req remote.Request) (remote.GenerateResult, error) {
		return singleJobs("j1", "j2", "j3"), nil
	})

	b, err := h.submitter.Submit(context.Background(), "props/crate", batch.Spec{Prompt: "crate", Variations: 3}, "p1")
	require.NoError(t, err)
	assert.Equal(t, "id-2", b.ID)
	assert.Equal(t, "props/crate", b.Identity)
	assert.Equal(t, "p1", b.ProgressID)
	assert.True(t, b.Retryable)
	assert.Equal(t, []string{"j1", "j2", "j3"}, b.JobIDs())
	assert.Equal(t, int64(15), b.Metadata.Cost)
	assert.Equal(t, "id-1", b.Metadata.TraceID)
	assert.Equal(t, "id-1", h.remote.requests[0].TraceID)

	recorded := h.recorded(t)
	require.Len(t, recorded, 1)
	assert.Equal(t, b.JobIDs(), recorded[0].JobIDs())
	assert.Equal(t, []string{"disable props/crate", "enable props/crate"}, h.gate.events)
}

func TestSubmitDropsRejectedItems(t *testing.T) {
	h := newHarness(t, func(remote.Request) (remote.GenerateResult, error) {
		result := singleJobs("j1", "j3")
		result.Items = append(result.Items[:1], append([]remote.GeneratedItem{{
			Error: &remote.ItemError{Code: remote.CodeContentPolicy, Message: "blocked"},
		}}, result.Items[1:]...)...)
		return result, nil
	})

	b, err := h.submitter.Submit(context.Background(), "rock", batch.Spec{Prompt: "rock", Variations: 3}, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j3"}, b.JobIDs())
	messages := h.sink.For("rock")
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Variation 2 was rejected")
}

func TestSubmitZeroAcceptedAborts(t *testing.T) {
	h := newHarness(t, func(remote.Request) (remote.GenerateResult, error) {
		item := remote.GeneratedItem{Error: &remote.ItemError{Code: remote.CodeContentPolicy}}
		return remote.GenerateResult{Items: []remote.GeneratedItem{item, item, item}}, nil
	})

	_, err := h.submitter.Submit(context.Background(), "rock", batch.Spec{Prompt: "rock", Variations: 3}, "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrSubmissionAborted)
	assert.Contains(t, err.Error(), "0 of 3 variations accepted")
	assert.Empty(t, h.recorded(t))
	assert.Equal(t, []string{"disable rock", "enable rock"}, h.gate.events)
	assert.Equal(t, []notifications.Event{notifications.EventSubmissionAborted}, h.publisher.events)
}

func TestSubmitWholeBatchRejection(t *testing.T) {
	h := newHarness(t, func(remote.Request) (remote.GenerateResult, error) {
		return remote.GenerateResult{Rejection: &remote.Rejection{Code: remote.CodeInsufficientPoints, Messages: []string{"need 40"}}}, nil
	})

	_, err := h.submitter.Submit(context.Background(), "rock", batch.Spec{Prompt: "rock"}, "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrSubmissionAborted)
	var rejection *remote.Rejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, remote.CodeInsufficientPoints, rejection.Code)
	assert.Len(t, h.sink.For("rock"), 1)
	assert.Empty(t, h.recorded(t))
}

func TestSubmitUnsupportedCombinationSkipsNetwork(t *testing.T) {
	h := newHarness(t, func(remote.Request) (remote.GenerateResult, error) {
		t.Fatal("generate must not be called")
		return remote.GenerateResult{}, nil
	})

	_, err := h.submitter.Submit(context.Background(), "rock", batch.Spec{Kind: batch.KindAudio, Prompt: "boom", Channels: []string{"left"}}, "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrUnsupportedCombination)
	assert.Equal(t, []string{"disable rock", "enable rock"}, h.gate.events)
}

func TestSubmitUploadsReferencesAndReleasesThem(t *testing.T) {
	h := newHarness(t, func(req remote.Request) (remote.GenerateResult, error) {
		return singleJobs("j1"), nil
	})
	spec := batch.Spec{
		Prompt: "rock",
		References: []batch.Reference{
			{Name: "front.png", Path: "/refs/front.png"},
			{Path: "/refs/side.png"},
		},
	}

	_, err := h.submitter.Submit(context.Background(), "rock", spec, "p1")
	require.NoError(t, err)
	require.Len(t, h.remote.requests, 1)
	assert.Equal(t, []string{"asset-front.png", "asset-side.png"}, h.remote.requests[0].ReferenceIDs)
	assert.ElementsMatch(t, []string{"asset-front.png", "asset-side.png"}, h.remote.released)
}

func TestSubmitUploadFailureReleasesStartedUploads(t *testing.T) {
	h := newHarness(t, func(remote.Request) (remote.GenerateResult, error) {
		t.Fatal("generate must not be called")
		return remote.GenerateResult{}, nil
	})
	h.remote.uploadErr["bad.png"] = errors.New("http 500")
	spec := batch.Spec{
		Prompt: "rock",
		References: []batch.Reference{
			{Name: "good.png", Path: "/refs/good.png"},
			{Name: "bad.png", Path: "/refs/bad.png"},
		},
	}

	_, err := h.submitter.Submit(context.Background(), "rock", spec, "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrSubmissionAborted)
	assert.ElementsMatch(t, h.remote.uploaded, releasedNames(h.remote.released))
	assert.Empty(t, h.recorded(t))
}

func TestSubmitMaterialGroupsChannels(t *testing.T) {
	h := newHarness(t, func(req remote.Request) (remote.GenerateResult, error) {
		assert.Equal(t, []string{"albedo", "normal"}, req.Channels)
		seed := int64(42)
		return remote.GenerateResult{Items: []remote.GeneratedItem{
			{Seed: &seed, Cost: 8, Jobs: []remote.GeneratedJob{{Channel: "albedo", JobID: "a1"}, {Channel: "normal", JobID: "n1"}}},
			{Cost: 8, Jobs: []remote.GeneratedJob{{Channel: "albedo", JobID: "a2"}}},
		}}, nil
	})
	seed := int64(42)

	b, err := h.submitter.Submit(context.Background(), "floor", batch.Spec{Kind: batch.KindMaterial, Prompt: "tiles", Seed: &seed}, "p1")
	require.NoError(t, err)
	require.Len(t, b.Groups, 1, "incomplete channel set is dropped")
	assert.Equal(t, "albedo=a1;normal=n1", b.Groups[0].Key())
	assert.Equal(t, []int64{42}, b.Metadata.CustomSeeds)
	assert.Equal(t, int64(8), b.Metadata.Cost)
	assert.Len(t, h.sink.For("floor"), 1)
}

func releasedNames(ids []string) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = strings.TrimPrefix(id, "asset-")
	}
	return names
}
