// Package placeholder tracks the in-flight stand-ins for groups that are not
// fulfilled yet. Each placeholder is a progress id plus an ordinal.
package placeholder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"genfetch/internal/progress"
)

// Placeholder stands in for one unfulfilled group.
type Placeholder struct {
	ProgressID string
	Ordinal    int
	Identity   string
	CreatedAt  time.Time
}

// ID renders the placeholder as progress-id#ordinal.
func (p Placeholder) ID() string {
	return fmt.Sprintf("%s#%d", p.ProgressID, p.Ordinal)
}

type entry struct {
	identity     string
	placeholders []Placeholder
	last         progress.Update
}

// Registry owns placeholders keyed by progress id.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	reporter progress.Reporter
	now      func() time.Time
}

// NewRegistry builds a registry that forwards progress to reporter.
func NewRegistry(reporter progress.Reporter) *Registry {
	if reporter == nil {
		reporter = progress.Discard{}
	}
	return &Registry{
		entries:  make(map[string]*entry),
		reporter: reporter,
		now:      time.Now,
	}
}

// Create registers count placeholders for progressID.
func (r *Registry) Create(ctx context.Context, identity, progressID string, count int) ([]Placeholder, error) {
	progressID = strings.TrimSpace(progressID)
	if progressID == "" {
		return nil, errors.New("placeholder: progress id required")
	}
	if count < 1 {
		return nil, fmt.Errorf("placeholder: count must be positive, got %d", count)
	}
	r.mu.Lock()
	if _, ok := r.entries[progressID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("placeholder: progress id %s already registered", progressID)
	}
	created := r.now()
	items := make([]Placeholder, count)
	for i := range items {
		items[i] = Placeholder{ProgressID: progressID, Ordinal: i, Identity: identity, CreatedAt: created}
	}
	update := progress.NewUpdate(progressID).WithDescription(fmt.Sprintf("waiting for %d result(s)", count))
	r.entries[progressID] = &entry{identity: identity, placeholders: items, last: update}
	r.mu.Unlock()

	r.reporter.ReportProgress(ctx, update)
	return slices.Clone(items), nil
}

// Resolve retires n placeholders of progressID, oldest ordinal first, and
// returns how many remain. Unknown progress ids report zero.
func (r *Registry) Resolve(progressID string, n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[progressID]
	if !ok {
		return 0
	}
	n = min(max(n, 0), len(e.placeholders))
	e.placeholders = e.placeholders[n:]
	return len(e.placeholders)
}

// Progress forwards an update for a tracked progress id. Untracked ids are
// ignored so late reports after removal stay silent.
func (r *Registry) Progress(ctx context.Context, progressID string, fraction float64, description string) {
	r.mu.Lock()
	e, ok := r.entries[progressID]
	if !ok {
		r.mu.Unlock()
		return
	}
	update := e.last.WithFraction(fraction)
	if description != "" {
		update = update.WithDescription(description)
	}
	e.last = update
	r.mu.Unlock()

	r.reporter.ReportProgress(ctx, update)
}

// Remove destroys every placeholder of progressID and reports completion.
// It returns how many were still outstanding.
func (r *Registry) Remove(ctx context.Context, progressID, description string) int {
	r.mu.Lock()
	e, ok := r.entries[progressID]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	delete(r.entries, progressID)
	remaining := len(e.placeholders)
	update := e.last.Finish(description)
	r.mu.Unlock()

	r.reporter.ReportProgress(ctx, update)
	return remaining
}

// List returns the outstanding placeholders for identity, ordered by
// progress id then ordinal. An empty identity lists everything.
func (r *Registry) List(identity string) []Placeholder {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Placeholder
	for _, e := range r.entries {
		if identity != "" && e.identity != identity {
			continue
		}
		out = append(out, e.placeholders...)
	}
	slices.SortFunc(out, func(a, b Placeholder) int {
		if c := strings.Compare(a.ProgressID, b.ProgressID); c != 0 {
			return c
		}
		return a.Ordinal - b.Ordinal
	})
	return out
}

// Tracked reports whether progressID has an entry.
func (r *Registry) Tracked(progressID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[progressID]
	return ok
}
