package batch

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// OutcomeKind tags the result of processing one group in one attempt.
type OutcomeKind int

const (
	// Fulfilled means every channel resolved to an artifact.
	Fulfilled OutcomeKind = iota
	// TimedOut means at least one channel missed its deadline; the whole group is deferred.
	TimedOut
	// HardFailed means the remote reported a permanent failure; the group is dropped.
	HardFailed
	// AlreadyHandled means the failure was already surfaced and processing should unwind quietly.
	AlreadyHandled
)

func (k OutcomeKind) String() string {
	switch k {
	case Fulfilled:
		return "fulfilled"
	case TimedOut:
		return "timed_out"
	case HardFailed:
		return "hard_failed"
	case AlreadyHandled:
		return "already_handled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Artifact references the downloadable result of one channel.
type Artifact struct {
	Channel string
	JobID   string
	URL     string
}

// Outcome is the per-group result of a download attempt.
type Outcome struct {
	Group     Group
	Kind      OutcomeKind
	Artifacts []Artifact
	Reason    string
}

// FulfilledOutcome builds a Fulfilled outcome. Artifacts must cover every channel.
func FulfilledOutcome(group Group, artifacts []Artifact) Outcome {
	return Outcome{Group: group, Kind: Fulfilled, Artifacts: artifacts}
}

// TimedOutOutcome builds a TimedOut outcome.
func TimedOutOutcome(group Group) Outcome {
	return Outcome{Group: group, Kind: TimedOut}
}

// HardFailedOutcome builds a HardFailed outcome carrying reason.
func HardFailedOutcome(group Group, reason string) Outcome {
	return Outcome{Group: group, Kind: HardFailed, Reason: reason}
}

// ChannelLabel renders a channel tag for user-facing messages.
func ChannelLabel(channel string) string {
	channel = strings.NewReplacer("-", " ", "_", " ").Replace(strings.TrimSpace(channel))
	return cases.Title(language.English).String(channel)
}

// DescribeGroup renders a group for user-facing messages.
func DescribeGroup(group Group) string {
	entries := group.Channels()
	if len(entries) == 1 {
		return "job " + entries[0].Job.ID
	}
	labels := make([]string, len(entries))
	for i, entry := range entries {
		labels[i] = ChannelLabel(entry.Channel)
	}
	return fmt.Sprintf("%s group (%s)", strings.Join(labels, "+"), entries[0].Job.ID)
}
