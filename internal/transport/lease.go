// Package transport owns the pooled HTTP client shared by every remote call
// and hands out leases that bound how many top-level operations use it at once.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"genfetch/internal/config"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("transport pool closed")

// Pool is a shared HTTP client guarded by a weighted semaphore.
type Pool struct {
	client *http.Client
	sem    *semaphore.Weighted
	size   int64
	active atomic.Int64
	closed atomic.Bool
}

// Options sizes a Pool.
type Options struct {
	MaxLeases           int
	MaxIdleConnsPerHost int
	RequestTimeout      time.Duration
}

// OptionsFromConfig derives pool options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxLeases:           cfg.Transport.MaxLeases,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		RequestTimeout:      cfg.RequestTimeout(),
	}
}

// NewPool builds the shared client. The client has no overall timeout so a
// long artifact body can stream to the end; RequestTimeout bounds only the
// wait for response headers. Per-call deadlines come from contexts.
func NewPool(opts Options) *Pool {
	if opts.MaxLeases <= 0 {
		opts.MaxLeases = 1
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = opts.MaxLeases
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: opts.RequestTimeout,
	}
	return &Pool{
		client: &http.Client{Transport: transport},
		sem:    semaphore.NewWeighted(int64(opts.MaxLeases)),
		size:   int64(opts.MaxLeases),
	}
}

// Client exposes the pooled client for wiring remote clients. Holding a Lease
// is what entitles an operation to use it.
func (p *Pool) Client() *http.Client {
	return p.client
}

// Acquire blocks until a lease is available or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if p.closed.Load() {
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	p.active.Add(1)
	return &Lease{pool: p}, nil
}

// Active reports how many leases are currently held.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Capacity reports the maximum number of concurrent leases.
func (p *Pool) Capacity() int {
	return int(p.size)
}

// Close refuses new leases and drops idle connections. Held leases stay valid.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.client.CloseIdleConnections()
}

// Lease is a scoped claim on the shared client. Release is idempotent so it
// can be deferred on every exit path.
type Lease struct {
	pool *Pool
	once sync.Once
}

// Client returns the pooled HTTP client.
func (l *Lease) Client() *http.Client {
	return l.pool.client
}

// Release returns the lease to the pool.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.pool.active.Add(-1)
		l.pool.sem.Release(1)
	})
}
