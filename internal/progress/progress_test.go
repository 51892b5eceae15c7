package progress

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateIsImmutable(t *testing.T) {
	base := NewUpdate(" p-1 ")
	next := base.WithFraction(0.4).WithDescription("downloading")

	assert.Equal(t, "p-1", base.ProgressID())
	assert.Zero(t, base.Fraction())
	assert.Empty(t, base.Description())
	assert.InDelta(t, 0.4, next.Fraction(), 1e-9)
	assert.Equal(t, "downloading", next.Description())
	assert.Equal(t, 1.0, next.WithFraction(3).Fraction())
	assert.Equal(t, 0.0, next.WithFraction(-1).Fraction())

	done := next.Finish("")
	assert.True(t, done.Finished())
	assert.Equal(t, 100, done.Percent())
	assert.Equal(t, "downloading", done.Description())
	assert.False(t, next.Finished())
}

func TestConsoleLineModeThrottlesSmallSteps(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf)
	ctx := context.Background()
	base := NewUpdate("0123456789abcdef").WithDescription("waiting")

	console.ReportProgress(ctx, base.WithFraction(0.01))
	console.ReportProgress(ctx, base.WithFraction(0.05))
	console.ReportProgress(ctx, base.WithFraction(0.12))
	console.ReportProgress(ctx, base.WithFraction(0.13).WithDescription("applying"))
	console.ReportProgress(ctx, base.Finish("done"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "[01234567]   1% waiting", lines[0])
	assert.Equal(t, "[01234567]  12% waiting", lines[1])
	assert.Equal(t, "[01234567]  13% applying", lines[2])
	assert.Equal(t, "[01234567] 100% done", lines[3])
}

func TestPaceApproachesCeiling(t *testing.T) {
	var rec Recorder
	stop := Pace(context.Background(), &rec, NewUpdate("p").WithFraction(0.2), 0.6, time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.Updates()) >= 5 }, time.Second, time.Millisecond)
	last := stop()

	assert.Greater(t, last.Fraction(), 0.2)
	assert.Less(t, last.Fraction(), 0.6)
	updates := rec.Updates()
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Fraction(), updates[i-1].Fraction())
	}
	count := len(rec.Updates())
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, count, len(rec.Updates()), "no updates after stop")
	assert.Equal(t, last, stop(), "stop is idempotent")
}

func TestRecorderLast(t *testing.T) {
	var rec Recorder
	rec.ReportProgress(context.Background(), NewUpdate("a").WithFraction(0.1))
	rec.ReportProgress(context.Background(), NewUpdate("b").WithFraction(0.2))
	rec.ReportProgress(context.Background(), NewUpdate("a").WithFraction(0.3))

	last, ok := rec.Last("a")
	require.True(t, ok)
	assert.InDelta(t, 0.3, last.Fraction(), 1e-9)
	_, ok = rec.Last("missing")
	assert.False(t, ok)
}
