package placeholder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genfetch/internal/progress"
)

func TestRegistryLifecycle(t *testing.T) {
	var rec progress.Recorder
	reg := NewRegistry(&rec)
	ctx := context.Background()

	items, err := reg.Create(ctx, "rock", "p1", 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "p1#2", items[2].ID())
	assert.Len(t, reg.List("rock"), 3)
	assert.Empty(t, reg.List("other"))

	_, err = reg.Create(ctx, "rock", "p1", 1)
	require.Error(t, err, "duplicate progress id")

	assert.Equal(t, 1, reg.Resolve("p1", 2))
	remaining := reg.List("")
	require.Len(t, remaining, 1)
	assert.Equal(t, 2, remaining[0].Ordinal)

	reg.Progress(ctx, "p1", 0.5, "attempt 2")
	last, ok := rec.Last("p1")
	require.True(t, ok)
	assert.InDelta(t, 0.5, last.Fraction(), 1e-9)
	assert.Equal(t, "attempt 2", last.Description())

	assert.Equal(t, 1, reg.Remove(ctx, "p1", "done"))
	assert.False(t, reg.Tracked("p1"))
	last, _ = rec.Last("p1")
	assert.True(t, last.Finished())
	assert.Equal(t, "done", last.Description())

	before := len(rec.Updates())
	reg.Progress(ctx, "p1", 0.9, "late")
	assert.Len(t, rec.Updates(), before, "progress after removal is ignored")
	assert.Zero(t, reg.Remove(ctx, "p1", ""))
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Create(context.Background(), "x", " ", 1)
	require.Error(t, err)
	_, err = reg.Create(context.Background(), "x", "p", 0)
	require.Error(t, err)
	assert.Zero(t, reg.Resolve("unknown", 1))
}

func TestRegistryListOrdersAcrossBatches(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()
	_, err := reg.Create(ctx, "a", "p2", 1)
	require.NoError(t, err)
	_, err = reg.Create(ctx, "a", "p1", 2)
	require.NoError(t, err)

	got := reg.List("a")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"p1#0", "p1#1", "p2#0"}, []string{got[0].ID(), got[1].ID(), got[2].ID()})
}
