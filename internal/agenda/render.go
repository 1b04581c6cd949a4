package agenda

import (
	"fmt"
	"strings"
	"time"

	"agendacal/internal/model"
)

// Render formats a view result as day-grouped agenda text, one section
// per day of the window: a header line (Today / Tomorrow / "N days"),
// then each occurrence with its time range, summary and location.
func Render(res ViewResult, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	byDay := make(map[string][]model.Occurrence)
	for _, occ := range res.Timeline {
		day := occ.Start.In(loc).Format("2006-01-02")
		byDay[day] = append(byDay[day], occ)
	}

	var b strings.Builder
	windowEnd := res.Window.End.In(loc)
	// Step by calendar days, not 24 h increments: a window crossing a
	// DST shift has one day that is 23 or 25 hours long.
	for i := 0; ; i++ {
		date := res.Window.Start.In(loc).AddDate(0, 0, i)
		if !date.Before(windowEnd) {
			break
		}
		header := date.Format("Mon Jan _2")
		switch i {
		case 0:
			header += "\tToday"
		case 1:
			header += "\tTomorrow"
		default:
			header += fmt.Sprintf("\t%d days", i)
		}
		b.WriteString(header)
		b.WriteString("\n")

		events := byDay[date.Format("2006-01-02")]
		if len(events) == 0 {
			b.WriteString("No events\n\n")
			continue
		}
		for _, occ := range events {
			renderOccurrence(&b, occ, loc)
		}
	}
	return b.String()
}

func renderOccurrence(b *strings.Builder, occ model.Occurrence, loc *time.Location) {
	start := occ.Start.In(loc)
	end := occ.End.In(loc)

	if occ.AllDay || end.Sub(start) == 24*time.Hour {
		b.WriteString("All Day\n")
	} else {
		endFmt := "15:04"
		if start.Day() != end.Day() {
			// Event crosses midnight: show the end date too.
			endFmt = "Mon Jan _2 15:04"
		}
		fmt.Fprintf(b, "%s - %s\n", start.Format("15:04"), end.Format(endFmt))
	}
	if occ.Summary != "" {
		fmt.Fprintf(b, "%s\n", occ.Summary)
	}
	if occ.Location != "" {
		fmt.Fprintf(b, "%s\n", occ.Location)
	}
	fmt.Fprintf(b, "[%s]\n\n", occ.Source)
}
