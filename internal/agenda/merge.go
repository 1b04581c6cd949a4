package agenda

import (
	"agendacal/internal/ics"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

// SourceEvents pairs one calendar source with its parsed templates.
type SourceEvents struct {
	Source    model.Source
	Templates []model.EventTemplate
}

// Merge expands every template over the window and combines the results
// into one timeline: tagged with source provenance, deduplicated by
// (source, uid, start) keeping the first encountered, sorted ascending by
// start with (source, uid) tie-breaks.
//
// Merge is total: zero inputs yield an empty timeline. A template whose
// rule fails to expand contributes zero occurrences and is logged.
func Merge(inputs []SourceEvents, w ics.Window) model.Timeline {
	timeline := make(model.Timeline, 0)
	seen := make(map[string]bool)

	for _, in := range inputs {
		for _, tpl := range in.Templates {
			occs, err := ics.Expand(tpl, w)
			if err != nil {
				appLog.Warn("recurrence expansion failed, skipping template",
					"source", in.Source.Name, "uid", tpl.UID, "err", err)
				continue
			}
			for _, occ := range occs {
				key := occ.Identity().Key()
				if seen[key] {
					continue
				}
				seen[key] = true
				timeline = append(timeline, occ)
			}
		}
	}

	timeline.Sort()
	return timeline
}
