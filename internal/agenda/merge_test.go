package agenda

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendacal/internal/ics"
	"agendacal/internal/model"
)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func oneOff(source, uid string, start time.Time) model.EventTemplate {
	return model.EventTemplate{
		Source:  source,
		UID:     uid,
		Summary: uid,
		Start:   start,
		End:     start.Add(time.Hour),
	}
}

func TestMergeEmptyInputYieldsEmptyTimeline(t *testing.T) {
	w := ics.Window{Start: utc(2024, 1, 1, 0, 0), End: utc(2024, 1, 5, 0, 0)}
	tl := Merge(nil, w)
	require.NotNil(t, tl)
	assert.Empty(t, tl)
}

func TestMergeSortsAcrossSources(t *testing.T) {
	w := ics.Window{Start: utc(2024, 1, 1, 0, 0), End: utc(2024, 1, 5, 0, 0)}
	inputs := []SourceEvents{
		{
			Source: model.Source{Name: "work"},
			Templates: []model.EventTemplate{
				oneOff("work", "late", utc(2024, 1, 2, 15, 0)),
				oneOff("work", "early", utc(2024, 1, 1, 8, 0)),
			},
		},
		{
			Source: model.Source{Name: "home"},
			Templates: []model.EventTemplate{
				oneOff("home", "mid", utc(2024, 1, 2, 9, 0)),
			},
		},
	}

	tl := Merge(inputs, w)
	require.Len(t, tl, 3)
	assert.Equal(t, "early", tl[0].UID)
	assert.Equal(t, "mid", tl[1].UID)
	assert.Equal(t, "late", tl[2].UID)
}

// Equal starts order deterministically by (source, uid).
func TestMergeTieBreaksBySourceThenUID(t *testing.T) {
	w := ics.Window{Start: utc(2024, 1, 1, 0, 0), End: utc(2024, 1, 5, 0, 0)}
	at := utc(2024, 1, 2, 9, 0)
	inputs := []SourceEvents{
		{Source: model.Source{Name: "zeta"}, Templates: []model.EventTemplate{oneOff("zeta", "a", at)}},
		{Source: model.Source{Name: "alpha"}, Templates: []model.EventTemplate{
			oneOff("alpha", "b", at),
			oneOff("alpha", "a", at),
		}},
	}

	tl := Merge(inputs, w)
	require.Len(t, tl, 3)
	assert.Equal(t, "alpha", tl[0].Source)
	assert.Equal(t, "a", tl[0].UID)
	assert.Equal(t, "alpha", tl[1].Source)
	assert.Equal(t, "b", tl[1].UID)
	assert.Equal(t, "zeta", tl[2].Source)
}

// Merging the same template from the same source twice (a re-fetch)
// yields no duplicate occurrence.
func TestMergeDeduplicatesByIdentity(t *testing.T) {
	w := ics.Window{Start: utc(2024, 1, 1, 0, 0), End: utc(2024, 1, 5, 0, 0)}
	tpl := oneOff("work", "dup", utc(2024, 1, 2, 9, 0))
	inputs := []SourceEvents{
		{Source: model.Source{Name: "work"}, Templates: []model.EventTemplate{tpl, tpl}},
		{Source: model.Source{Name: "work"}, Templates: []model.EventTemplate{tpl}},
	}

	tl := Merge(inputs, w)
	assert.Len(t, tl, 1)
}

// The same UID at the same instant from different sources is two
// distinct occurrences: identity includes the source name.
func TestMergeKeepsSameUIDFromDifferentSources(t *testing.T) {
	w := ics.Window{Start: utc(2024, 1, 1, 0, 0), End: utc(2024, 1, 5, 0, 0)}
	at := utc(2024, 1, 2, 9, 0)
	inputs := []SourceEvents{
		{Source: model.Source{Name: "work"}, Templates: []model.EventTemplate{oneOff("work", "shared", at)}},
		{Source: model.Source{Name: "home"}, Templates: []model.EventTemplate{oneOff("home", "shared", at)}},
	}

	tl := Merge(inputs, w)
	assert.Len(t, tl, 2)
}

// A template with a malformed rule contributes zero occurrences but
// never fails the merge.
func TestMergeSkipsUnexpandableTemplate(t *testing.T) {
	w := ics.Window{Start: utc(2024, 1, 1, 0, 0), End: utc(2024, 1, 5, 0, 0)}
	bad := oneOff("work", "bad", utc(2024, 1, 2, 9, 0))
	bad.RRule = "FREQ=BOGUS"
	inputs := []SourceEvents{
		{Source: model.Source{Name: "work"}, Templates: []model.EventTemplate{
			bad,
			oneOff("work", "good", utc(2024, 1, 3, 9, 0)),
		}},
	}

	tl := Merge(inputs, w)
	require.Len(t, tl, 1)
	assert.Equal(t, "good", tl[0].UID)
}
