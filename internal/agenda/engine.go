// Package agenda is the aggregation engine: it drives fetch, parse,
// expand and merge for a query window, and answers the two user-facing
// operations, view and remind.
package agenda

import (
	"context"
	"fmt"
	"time"

	"agendacal/internal/ics"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/notify"
)

// Ledger is the durable record of reminders already sent. Implementations
// must be safe for concurrent invocations.
type Ledger interface {
	// HasReminded reports whether the identity already triggered a reminder.
	HasReminded(ctx context.Context, id model.Identity) (bool, error)
	// MarkReminded records a sent reminder. Idempotent: marking an
	// already-marked identity is a no-op and returns false. occurrenceEnd
	// is kept so stale records can be pruned later.
	MarkReminded(ctx context.Context, id model.Identity, occurrenceEnd, remindedAt time.Time) (bool, error)
	// Exclusive blocks until the caller holds the ledger's
	// cross-invocation lock, and returns the release func. The whole
	// check-deliver-mark sequence of a remind pass runs under it, so two
	// overlapping invocations cannot both decide to notify the same
	// occurrence.
	Exclusive(ctx context.Context) (release func() error, err error)
}

// SourceFailure attributes a fetch or parse failure to one source.
type SourceFailure struct {
	Source string
	Err    error
}

// Engine aggregates occurrences from all configured sources.
type Engine struct {
	Sources  []model.Source
	Fetcher  *ics.Fetcher
	Location *time.Location

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().In(e.loc())
	}
	return time.Now().In(e.loc())
}

func (e *Engine) loc() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

// timelineFor fetches all sources, parses the documents and merges the
// expanded occurrences over the window. Per-source failures degrade to a
// partial timeline, never fail the whole run.
func (e *Engine) timelineFor(ctx context.Context, w ics.Window) (model.Timeline, []SourceFailure) {
	results, fetchErrs := e.Fetcher.FetchAll(ctx, e.Sources)

	failures := make([]SourceFailure, 0, len(fetchErrs))
	for _, fe := range fetchErrs {
		failures = append(failures, SourceFailure{Source: fe.SourceName, Err: fe})
	}

	inputs := make([]SourceEvents, 0, len(results))
	for _, res := range results {
		templates, warnings, perr := ics.Parse(res.Source.Name, res.Body)
		if perr != nil {
			appLog.Warn("calendar document skipped", "source", res.Source.Name, "err", perr)
			failures = append(failures, SourceFailure{Source: res.Source.Name, Err: perr})
			continue
		}
		if len(warnings) > 0 {
			appLog.Warn("calendar parsed with skipped events",
				"source", res.Source.Name, "skipped", len(warnings))
		}
		inputs = append(inputs, SourceEvents{Source: res.Source, Templates: templates})
	}

	return Merge(inputs, w), failures
}

// ViewResult is the outcome of a view query: the merged timeline plus any
// per-source failures that reduced it to a partial agenda.
type ViewResult struct {
	Window   ics.Window
	Timeline model.Timeline
	Failures []SourceFailure
}

// View returns all occurrences starting within the next d days. The
// window anchors at local midnight of today so events already in progress
// still show. An empty timeline is a valid result, distinct from failure.
func (e *Engine) View(ctx context.Context, days int) (ViewResult, error) {
	if days <= 0 {
		return ViewResult{}, fmt.Errorf("view: days must be positive, got %d", days)
	}

	now := e.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc())
	w := ics.Window{Start: midnight, End: midnight.AddDate(0, 0, days)}

	timeline, failures := e.timelineFor(ctx, w)
	return ViewResult{Window: w, Timeline: timeline, Failures: failures}, nil
}

// RemindResult is the outcome of one reminder pass.
type RemindResult struct {
	// Delivered are the occurrences that were notified and recorded.
	Delivered []model.Occurrence
	// Failures are per-source fetch/parse failures.
	Failures []SourceFailure
}

// Remind notifies occurrences starting within the next m minutes that
// have no ledger record yet, then records each one. The pass runs under
// the ledger's exclusive lock, so invocations sharing a ledger
// serialize and an occurrence is notified at most once.
//
// Ordering is record-after-successful-delivery: a crash between delivery
// and recording may double-notify on the next run, but a reminder is
// never silently lost. The inverse ordering would trade that for silent
// misses when delivery fails after the record is written.
//
// Ledger unavailability fails the operation loudly; proceeding without
// the ledger would risk duplicate notifications on every run.
func (e *Engine) Remind(ctx context.Context, minutes int, ledger Ledger, sink notify.Sink) (RemindResult, error) {
	if minutes <= 0 {
		return RemindResult{}, fmt.Errorf("remind: minutes must be positive, got %d", minutes)
	}
	if ledger == nil {
		return RemindResult{}, fmt.Errorf("remind: ledger is required")
	}

	now := e.now()
	w := ics.Window{Start: now, End: now.Add(time.Duration(minutes) * time.Minute)}

	timeline, failures := e.timelineFor(ctx, w)
	result := RemindResult{Failures: failures}

	// The lock spans the whole pass: checking the ledger, delivering and
	// recording must not interleave with another invocation, or both
	// sides see no record and both notify.
	release, err := ledger.Exclusive(ctx)
	if err != nil {
		return result, fmt.Errorf("remind: ledger unavailable: %w", err)
	}
	defer func() {
		if rerr := release(); rerr != nil {
			appLog.Error("ledger unlock failed", rerr)
		}
	}()

	for _, occ := range timeline {
		id := occ.Identity()

		done, err := ledger.HasReminded(ctx, id)
		if err != nil {
			return result, fmt.Errorf("remind: ledger unavailable: %w", err)
		}
		if done {
			continue
		}

		if err := sink.Deliver(ctx, notify.FromOccurrence(occ)); err != nil {
			// Not recorded: the next pass retries this occurrence.
			appLog.Warn("reminder delivery failed",
				"source", occ.Source, "uid", occ.UID, "start", occ.Start, "err", err)
			continue
		}

		created, err := ledger.MarkReminded(ctx, id, occ.End, e.now())
		if err != nil {
			return result, fmt.Errorf("remind: ledger unavailable: %w", err)
		}
		if !created {
			// Cannot happen while the lock is held; if it does, the
			// ledger was written behind our back.
			appLog.Warn("reminder was already recorded",
				"source", occ.Source, "uid", occ.UID, "start", occ.Start)
		}
		result.Delivered = append(result.Delivered, occ)
		appLog.Info("reminder sent", "source", occ.Source, "summary", occ.Summary, "start", occ.Start)
	}

	return result, nil
}
