package materialize

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"genfetch/internal/batch"
	"genfetch/internal/recovery"
)

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	calls    atomic.Int32
	active   atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f.calls.Add(1)
	now := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if now <= peak || f.peak.CompareAndSwap(peak, now) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.payloads[rawURL]
	if !ok {
		return nil, errors.New("fetch: 404")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func openMem(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	return bucket
}

func newTestStore(t *testing.T, fetcher Fetcher) *Store {
	t.Helper()
	store := New(openMem(t), openMem(t), openMem(t), fetcher, nil)
	store.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTargetPrefix(t *testing.T) {
	cases := map[string]string{
		"rock":              "rock/",
		" props/rock_wall ": "props/rock_wall/",
		"/props//crate/":    "props/crate/",
		"a/../b":            "b/",
	}
	for in, want := range cases {
		got, err := TargetPrefix(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "  ", "/", "props/.hidden", ".."} {
		_, err := TargetPrefix(bad)
		assert.Error(t, err, bad)
	}
}

func TestCreateTargetAndExists(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	exists, err := store.TargetExists(ctx, "props/rock")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateTarget(ctx, "props/rock"))
	exists, err = store.TargetExists(ctx, "props/rock")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.TargetExists(ctx, "props/ro")
	require.NoError(t, err)
	assert.False(t, exists, "prefix match must stop at segment boundary")
}

func TestApplyArtifactFetchesAndConsumes(t *testing.T) {
	fetcher := &fakeFetcher{payloads: map[string][]byte{"https://cdn.test/j1.png?sig=x": []byte("pixels")}}
	store := newTestStore(t, fetcher)
	ctx := context.Background()

	artifact := batch.Artifact{Channel: "albedo", JobID: "j1", URL: "https://cdn.test/j1.png?sig=x"}
	ok, err := store.ApplyArtifact(ctx, "props/rock", batch.KindMaterial, artifact)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := store.assets.ReadAll(ctx, "props/rock/j1_albedo.png")
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	cached, err := store.Cached(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, cached, "applied bytes are consumed from the artifact store")
}

func TestApplyArtifactUsesPrecachedBytes(t *testing.T) {
	fetcher := &fakeFetcher{payloads: map[string][]byte{"https://cdn.test/a": []byte("wave")}}
	store := newTestStore(t, fetcher)
	ctx := context.Background()

	fetched, err := store.Cache(ctx, "a1", "https://cdn.test/a")
	require.NoError(t, err)
	assert.True(t, fetched)
	fetched, err = store.Cache(ctx, "a1", "https://cdn.test/a")
	require.NoError(t, err)
	assert.False(t, fetched)

	_, err = store.ApplyArtifact(ctx, "sfx/door", batch.KindAudio, batch.Artifact{Channel: "primary", JobID: "a1", URL: "https://cdn.test/a"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	exists, err := store.assets.Exists(ctx, "sfx/door/a1_primary.wav")
	require.NoError(t, err)
	assert.True(t, exists, "kind extension used when the url has none")
}

func TestApplyArtifactFetchFailure(t *testing.T) {
	store := newTestStore(t, &fakeFetcher{payloads: map[string][]byte{}})
	ok, err := store.ApplyArtifact(context.Background(), "rock", batch.KindImage, batch.Artifact{Channel: "primary", JobID: "gone", URL: "https://cdn.test/gone"})
	require.Error(t, err)
	assert.False(t, ok)
}

func TestSaveBackup(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, store.CreateTarget(ctx, "rock"))
	saved, err := store.SaveBackup(ctx, "rock")
	require.NoError(t, err)
	assert.False(t, saved, "marker alone is not backed up")

	require.NoError(t, store.assets.WriteAll(ctx, "rock/old_primary.png", []byte("v1"), nil))
	saved, err = store.SaveBackup(ctx, "rock")
	require.NoError(t, err)
	assert.True(t, saved)

	data, err := store.backups.ReadAll(ctx, "rock/20260301T120000.000000000Z/old_primary.png")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

type staticSource []recovery.CachedURL

func (s staticSource) PendingURLs(context.Context) ([]recovery.CachedURL, error) { return s, nil }

func TestPrecacherRun(t *testing.T) {
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://cdn.test/1": []byte("one"),
		"https://cdn.test/2": []byte("two"),
	}}
	store := newTestStore(t, fetcher)
	source := staticSource{
		{JobID: "j1", BatchID: "b", URL: "https://cdn.test/1"},
		{JobID: "j2", BatchID: "b", URL: "https://cdn.test/2"},
		{JobID: "j3", BatchID: "b", URL: "https://cdn.test/expired"},
	}
	precacher := NewPrecacher(store, source, nil)

	report, err := precacher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PrecacheReport{Fetched: 2, Failed: 1}, report)

	report, err = precacher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PrecacheReport{Present: 2, Failed: 1}, report)
}

func TestPrecacherSerializesPasses(t *testing.T) {
	payloads := map[string][]byte{}
	var source staticSource
	for _, id := range []string{"a", "b", "c"} {
		url := "https://cdn.test/" + id
		payloads[url] = []byte(id)
		source = append(source, recovery.CachedURL{JobID: id, URL: url})
	}
	fetcher := &fakeFetcher{payloads: payloads, delay: 5 * time.Millisecond}
	precacher := NewPrecacher(newTestStore(t, fetcher), source, nil)

	var wg sync.WaitGroup
	reports := make([]PrecacheReport, 3)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := precacher.Run(context.Background())
			assert.NoError(t, err)
			reports[i] = report
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.peak.Load(), "passes never overlap")
	fetched := 0
	for _, r := range reports {
		fetched += r.Fetched
	}
	assert.Equal(t, 3, fetched, "each artifact is fetched exactly once across passes")
}

func TestPrecacherHonoursCancellationWhileWaiting(t *testing.T) {
	precacher := NewPrecacher(newTestStore(t, nil), staticSource{}, nil)
	require.True(t, precacher.gate.TryAcquire(1))
	defer precacher.gate.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := precacher.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
