package batch

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Job is the remote handle for one requested artifact.
type Job struct {
	ID   string `json:"id"`
	Seed *int64 `json:"seed,omitempty"`
}

// ChannelJob binds a channel tag to the job producing that channel.
type ChannelJob struct {
	Channel string `json:"channel"`
	Job     Job    `json:"job"`
}

// Group is the atomic unit of success or failure: an ordered mapping from
// channel tag to exactly one job. It is fulfilled only when every channel is.
type Group struct {
	entries []ChannelJob
}

// NewGroup validates and builds a group. Channels must be unique and non-empty
// and every job needs an id.
func NewGroup(entries ...ChannelJob) (Group, error) {
	if len(entries) == 0 {
		return Group{}, errors.New("group requires at least one channel")
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]ChannelJob, 0, len(entries))
	for _, entry := range entries {
		channel := strings.TrimSpace(entry.Channel)
		if channel == "" {
			return Group{}, errors.New("group channel tag is empty")
		}
		if strings.TrimSpace(entry.Job.ID) == "" {
			return Group{}, fmt.Errorf("group channel %q has no job id", channel)
		}
		if _, ok := seen[channel]; ok {
			return Group{}, fmt.Errorf("group channel %q appears twice", channel)
		}
		seen[channel] = struct{}{}
		entry.Channel = channel
		out = append(out, entry)
	}
	return Group{entries: out}, nil
}

// SingleGroup wraps one job under the primary channel.
func SingleGroup(job Job) Group {
	return Group{entries: []ChannelJob{{Channel: ChannelPrimary, Job: job}}}
}

// Channels returns a copy of the group's channel entries in order.
func (g Group) Channels() []ChannelJob {
	return slices.Clone(g.entries)
}

// Len is the number of channels.
func (g Group) Len() int { return len(g.entries) }

// JobIDs lists job ids in channel order.
func (g Group) JobIDs() []string {
	ids := make([]string, len(g.entries))
	for i, entry := range g.entries {
		ids[i] = entry.Job.ID
	}
	return ids
}

// Key is a canonical value-equality key: channel=job pairs sorted by channel.
// Two groups with the same mapping share a key regardless of entry order.
func (g Group) Key() string {
	pairs := make([]string, len(g.entries))
	for i, entry := range g.entries {
		pairs[i] = entry.Channel + "=" + entry.Job.ID
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ";")
}

// Seed returns the seed of the first channel carrying one.
func (g Group) Seed() (int64, bool) {
	for _, entry := range g.entries {
		if entry.Job.Seed != nil {
			return *entry.Job.Seed, true
		}
	}
	return 0, false
}

func (g Group) String() string { return g.Key() }

// Metadata describes the generation request a batch came from.
type Metadata struct {
	Kind        Kind    `json:"kind"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	TraceID     string  `json:"trace_id"`
	CustomSeeds []int64 `json:"custom_seeds,omitempty"`
	Cost        int64   `json:"cost"`
}

// Batch is the ordered set of groups submitted under one generation request.
type Batch struct {
	ID         string
	Identity   string
	ProgressID string
	Retryable  bool
	Metadata   Metadata
	Groups     []Group
	CreatedAt  time.Time
}

// Validate checks that the batch is addressable and that no job id appears
// in more than one group.
func (b Batch) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.New("batch id is empty")
	}
	if strings.TrimSpace(b.Identity) == "" {
		return errors.New("batch identity is empty")
	}
	seen := make(map[string]string)
	for _, group := range b.Groups {
		if group.Len() == 0 {
			return errors.New("batch contains an empty group")
		}
		key := group.Key()
		for _, id := range group.JobIDs() {
			if other, ok := seen[id]; ok {
				return fmt.Errorf("job %s appears in groups %s and %s", id, other, key)
			}
			seen[id] = key
		}
	}
	return nil
}

// Empty reports whether no groups remain.
func (b Batch) Empty() bool { return len(b.Groups) == 0 }

// JobIDs lists every job id across all groups.
func (b Batch) JobIDs() []string {
	var ids []string
	for _, group := range b.Groups {
		ids = append(ids, group.JobIDs()...)
	}
	return ids
}

// WithGroups returns a copy of b carrying groups.
func (b Batch) WithGroups(groups []Group) Batch {
	b.Groups = slices.Clone(groups)
	return b
}

// WithRetryable returns a copy of b with the retryability flag set.
func (b Batch) WithRetryable(retryable bool) Batch {
	b.Retryable = retryable
	b.Groups = slices.Clone(b.Groups)
	return b
}

// KeySet returns the canonical keys of all groups.
func (b Batch) KeySet() map[string]struct{} {
	keys := make(map[string]struct{}, len(b.Groups))
	for _, group := range b.Groups {
		keys[group.Key()] = struct{}{}
	}
	return keys
}
