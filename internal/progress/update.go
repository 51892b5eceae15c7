package progress

import "strings"

// Update is one progress observation for a progress id.
type Update struct {
	progressID  string
	fraction    float64
	description string
	finished    bool
}

// NewUpdate starts an update at zero for progressID.
func NewUpdate(progressID string) Update {
	return Update{progressID: strings.TrimSpace(progressID)}
}

// ProgressID identifies the tracked operation.
func (u Update) ProgressID() string { return u.progressID }

// Fraction is the completed share in [0, 1].
func (u Update) Fraction() float64 { return u.fraction }

// Description is the human-readable status.
func (u Update) Description() string { return u.description }

// Finished reports whether the operation ended.
func (u Update) Finished() bool { return u.finished }

// WithFraction returns a copy with the fraction clamped to [0, 1].
func (u Update) WithFraction(fraction float64) Update {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	u.fraction = fraction
	return u
}

// WithDescription returns a copy with a new description.
func (u Update) WithDescription(description string) Update {
	u.description = strings.TrimSpace(description)
	return u
}

// Finish returns a completed copy.
func (u Update) Finish(description string) Update {
	u.fraction = 1
	u.finished = true
	if description = strings.TrimSpace(description); description != "" {
		u.description = description
	}
	return u
}

// Percent rounds the fraction to a whole percentage.
func (u Update) Percent() int {
	return int(u.fraction*100 + 0.5)
}
