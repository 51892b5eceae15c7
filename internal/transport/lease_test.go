package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genfetch/internal/transport"
)

func TestAcquireBlocksAtCapacity(t *testing.T) {
	pool := transport.NewPool(transport.Options{MaxLeases: 1})
	t.Cleanup(pool.Close)

	first, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan *transport.Lease, 1)
	go func() {
		lease, err := pool.Acquire(context.Background())
		if err == nil {
			acquired <- lease
		}
	}()
	first.Release()

	select {
	case lease := <-acquired:
		lease.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter was not granted the released lease")
	}
	assert.Equal(t, 0, pool.Active())
}

func TestReleaseIsIdempotent(t *testing.T) {
	pool := transport.NewPool(transport.Options{MaxLeases: 2})
	t.Cleanup(pool.Close)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, lease.Client())
	lease.Release()
	lease.Release()
	assert.Equal(t, 0, pool.Active())

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Active())
	a.Release()
	b.Release()
}

func TestClosedPoolRefusesLeases(t *testing.T) {
	pool := transport.NewPool(transport.Options{MaxLeases: 1})
	pool.Close()
	_, err := pool.Acquire(context.Background())
	assert.True(t, errors.Is(err, transport.ErrPoolClosed))
}

func TestPooledClientStreamsBodiesPastRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = io.WriteString(w, "frame")
			flusher.Flush()
			time.Sleep(100 * time.Millisecond)
		}
	}))
	t.Cleanup(server.Close)
	pool := transport.NewPool(transport.Options{MaxLeases: 1, RequestTimeout: 200 * time.Millisecond})
	t.Cleanup(pool.Close)

	resp, err := pool.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("frame", 4), string(data))
}

func TestPooledClientBoundsResponseHeaders(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })
	pool := transport.NewPool(transport.Options{MaxLeases: 1, RequestTimeout: 50 * time.Millisecond})
	t.Cleanup(pool.Close)

	_, err := pool.Client().Get(server.URL)
	require.Error(t, err)
}
