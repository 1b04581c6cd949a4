package ics

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"agendacal/internal/model"
)

const (
	// maxOccurrencesPerTemplate caps expansion so a malformed rule can
	// never balloon a single template into an unbounded occurrence set.
	maxOccurrencesPerTemplate = 5000
	// maxExpansionIterations bounds the rule iterator itself, counting
	// candidates before the window too. A dense rule anchored far in the
	// past trips this long before it reaches the window.
	maxExpansionIterations = 100000
)

// Window is a half-open query window [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ExpansionError reports a template whose recurrence rule could not be
// expanded. The template then contributes zero occurrences; the run
// continues.
type ExpansionError struct {
	SourceName string
	UID        string
	Err        error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expand %s/%s: %v", e.SourceName, e.UID, e.Err)
}

func (e *ExpansionError) Unwrap() error { return e.Err }

// Expand materializes the occurrences of one template whose start falls
// in the window.
//
// Expansion is a pure function of (template, window): no hidden state,
// expanding twice yields identical sets. Recurring templates step the
// rule from its DTSTART anchor in the anchor's own timezone, so a "daily
// at 09:00 local" rule stays at 09:00 local across DST transitions.
// Occurrence end = start + template duration.
func Expand(tpl model.EventTemplate, w Window) ([]model.Occurrence, error) {
	if tpl.RRule == "" {
		return expandSingle(tpl, w), nil
	}
	return expandRecurring(tpl, w)
}

func expandSingle(tpl model.EventTemplate, w Window) []model.Occurrence {
	occ, ok := applyOverrides(tpl, tpl.Start, tpl.End)
	if !ok || !w.Contains(occ.Start) {
		return nil
	}
	return []model.Occurrence{occ}
}

func expandRecurring(tpl model.EventTemplate, w Window) ([]model.Occurrence, error) {
	r, err := rrule.StrToRRule(tpl.RRule)
	if err != nil {
		return nil, &ExpansionError{SourceName: tpl.Source, UID: tpl.UID, Err: err}
	}

	// Anchor the rule at the template start, in its own location. The
	// library then iterates in that location, which is what keeps local
	// wall-clock rules stable across clock shifts.
	r.DTStart(tpl.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range tpl.Exceptions {
		// Align exception instants with the anchor's location; a rule
		// whose anchor is itself excluded still expands from the next
		// valid candidate.
		set.ExDate(ex.In(tpl.Start.Location()))
	}

	loc := tpl.Start.Location()
	windowEnd := w.End.In(loc)

	// Stream candidates off the rule iterator instead of materializing
	// them first: both ceilings are enforced while generating, so a
	// runaway rule stops at the cap rather than after allocating the
	// whole set.
	dur := tpl.Duration()
	var out []model.Occurrence
	next := set.Iterator()
	iterations, inWindow := 0, 0
	for {
		start, ok := next()
		if !ok {
			break
		}
		iterations++
		if iterations > maxExpansionIterations {
			return nil, &ExpansionError{
				SourceName: tpl.Source,
				UID:        tpl.UID,
				Err:        fmt.Errorf("iteration ceiling exceeded (%d)", maxExpansionIterations),
			}
		}
		if !start.Before(windowEnd) {
			break
		}
		if !w.Contains(start) {
			continue
		}
		inWindow++
		if inWindow > maxOccurrencesPerTemplate {
			return nil, &ExpansionError{
				SourceName: tpl.Source,
				UID:        tpl.UID,
				Err:        fmt.Errorf("occurrence cap exceeded (%d)", maxOccurrencesPerTemplate),
			}
		}
		if tpl.AllDay {
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		}
		occ, ok := applyOverrides(tpl, start, start.Add(dur))
		if !ok || !w.Contains(occ.Start) {
			continue
		}
		out = append(out, occ)
	}
	return out, nil
}

// applyOverrides builds the occurrence for one candidate start, applying
// a matching override when present. The second return is false when the
// occurrence is cancelled.
func applyOverrides(tpl model.EventTemplate, start, end time.Time) (model.Occurrence, bool) {
	occ := model.Occurrence{
		Source:   tpl.Source,
		UID:      tpl.UID,
		Summary:  tpl.Summary,
		Location: tpl.Location,
		AllDay:   tpl.AllDay,
		Start:    start,
		End:      end,
	}

	for _, ov := range tpl.Overrides {
		if !ov.At.Equal(start) {
			continue
		}
		if ov.Cancelled {
			return model.Occurrence{}, false
		}
		if !ov.Start.IsZero() {
			occ.Start = ov.Start
			occ.End = ov.End
			if ov.End.IsZero() {
				occ.End = ov.Start.Add(end.Sub(start))
			}
		}
		if ov.Summary != "" {
			occ.Summary = ov.Summary
		}
		if ov.Location != "" {
			occ.Location = ov.Location
		}
		break
	}
	return occ, true
}
