package progress

import (
	"context"
	"sync"
	"time"
)

// DefaultPaceInterval is the tick used when Pace gets a non-positive interval.
const DefaultPaceInterval = 500 * time.Millisecond

// paceStep is the share of the remaining distance to the ceiling covered per tick.
const paceStep = 0.08

// Pace advances base toward ceiling on every tick until stop is called or ctx
// ends. The fraction approaches but never reaches the ceiling. stop waits for
// the pacing goroutine and returns the last reported update.
func Pace(ctx context.Context, reporter Reporter, base Update, ceiling float64, interval time.Duration) (stop func() Update) {
	if reporter == nil {
		reporter = Discard{}
	}
	if interval <= 0 {
		interval = DefaultPaceInterval
	}
	if ceiling > 1 {
		ceiling = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	var (
		mu      sync.Mutex
		current = base
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				remaining := ceiling - current.Fraction()
				if remaining > 0 {
					current = current.WithFraction(current.Fraction() + remaining*paceStep)
				}
				next := current
				mu.Unlock()
				reporter.ReportProgress(ctx, next)
			}
		}
	}()
	var once sync.Once
	return func() Update {
		once.Do(func() {
			cancel()
			<-done
		})
		mu.Lock()
		defer mu.Unlock()
		return current
	}
}
