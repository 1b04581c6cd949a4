package model

import (
	"sort"
	"time"
)

// Source is a single configured calendar feed. Read-only input to the
// engine; Name is the user-facing label attached to every occurrence.
type Source struct {
	Name string
	URL  string
}

// EventTemplate is a logical calendar event before recurrence expansion,
// as produced by the ICS parser. A template with an empty RRule yields at
// most one occurrence.
type EventTemplate struct {
	Source string // source name this template was parsed from
	UID    string // iCalendar UID, stable across re-fetches

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End in the event's own timezone. Start <= End.
	Start time.Time
	End   time.Time

	// RRule is the raw RRULE value; empty for one-off events.
	RRule string

	// Exceptions are EXDATE timestamps excluded from expansion.
	Exceptions []time.Time

	// Overrides replace individual occurrences, keyed by the original
	// (unexpanded) occurrence start.
	Overrides []Override
}

// Duration returns the template's span, preserved across recurrence.
func (t EventTemplate) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// Override is a per-occurrence replacement (RECURRENCE-ID). A cancelled
// override suppresses the occurrence entirely.
type Override struct {
	// At is the original occurrence start the override replaces.
	At time.Time

	Summary  string
	Location string

	// Start / End replace the occurrence times when non-zero.
	Start time.Time
	End   time.Time

	Cancelled bool
}

// Occurrence is one concrete instance of an event after recurrence
// expansion and timezone normalization.
type Occurrence struct {
	Source string
	UID    string

	Summary  string
	Location string

	AllDay bool

	Start time.Time
	End   time.Time
}

// Identity returns the occurrence's deduplication/reminder key.
func (o Occurrence) Identity() Identity {
	return Identity{Source: o.Source, UID: o.UID, Start: o.Start}
}

// Identity uniquely names one occurrence across fetches and invocations:
// (source name, event UID, occurrence start).
type Identity struct {
	Source string
	UID    string
	Start  time.Time
}

// Key returns a stable string form of the identity. The start is
// normalized to UTC so equal instants compare equal regardless of zone.
func (id Identity) Key() string {
	return id.Source + "\x00" + id.UID + "\x00" + id.Start.UTC().Format(time.RFC3339Nano)
}

// Timeline is an ordered, deduplicated sequence of occurrences.
type Timeline []Occurrence

// Less reports the timeline ordering: ascending start, ties broken by
// (source, uid) so identical inputs always produce identical output.
func Less(a, b Occurrence) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.UID < b.UID
}

// Sort orders the timeline in place as defined by Less.
func (tl Timeline) Sort() {
	sort.SliceStable(tl, func(i, j int) bool { return Less(tl[i], tl[j]) })
}
