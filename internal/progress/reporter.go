package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// Reporter receives progress updates. Implementations must return quickly.
type Reporter interface {
	ReportProgress(ctx context.Context, update Update)
}

// Discard drops every update.
type Discard struct{}

// ReportProgress implements Reporter.
func (Discard) ReportProgress(context.Context, Update) {}

// Console renders updates to a writer.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	tty  bool
	last map[string]Update
}

// NewConsole builds a console reporter. Terminal writers get a rewriting
// status line; anything else gets a line per 10% step or description change.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stderr
	}
	return &Console{out: out, tty: isTerminal(out), last: make(map[string]Update)}
}

// ReportProgress implements Reporter.
func (c *Console) ReportProgress(_ context.Context, update Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, seen := c.last[update.ProgressID()]
	if update.Finished() {
		delete(c.last, update.ProgressID())
	} else {
		c.last[update.ProgressID()] = update
	}

	line := fmt.Sprintf("[%s] %3d%% %s", shortID(update.ProgressID()), update.Percent(), update.Description())
	if c.tty {
		fmt.Fprintf(c.out, "\r\x1b[K%s", line)
		if update.Finished() {
			fmt.Fprintln(c.out)
		}
		return
	}
	if seen && !update.Finished() &&
		prev.Description() == update.Description() &&
		prev.Percent()/10 == update.Percent()/10 {
		return
	}
	fmt.Fprintln(c.out, line)
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Recorder keeps every update in memory.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

// ReportProgress implements Reporter.
func (r *Recorder) ReportProgress(_ context.Context, update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

// Updates returns a copy of recorded updates.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

// Last returns the most recent update for progressID.
func (r *Recorder) Last(progressID string) (Update, bool) {
	updates := r.Updates()
	for i := len(updates) - 1; i >= 0; i-- {
		if updates[i].ProgressID() == progressID {
			return updates[i], true
		}
	}
	return Update{}, false
}
