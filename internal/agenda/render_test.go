package agenda

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"agendacal/internal/ics"
	"agendacal/internal/model"
)

func TestRenderDayHeadersAndEvents(t *testing.T) {
	start := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	res := ViewResult{
		Window: ics.Window{Start: start, End: start.AddDate(0, 0, 3)},
		Timeline: model.Timeline{
			{
				Source:  "work",
				UID:     "standup",
				Summary: "Standup",
				Start:   time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC),
				End:     time.Date(2024, 5, 15, 9, 15, 0, 0, time.UTC),
			},
			{
				Source:  "home",
				UID:     "holiday",
				Summary: "Holiday",
				AllDay:  true,
				Start:   time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC),
				End:     time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC),
			},
		},
	}

	out := Render(res, time.UTC)

	assert.Contains(t, out, "Today")
	assert.Contains(t, out, "Tomorrow")
	assert.Contains(t, out, "2 days")
	assert.Contains(t, out, "09:00 - 09:15")
	assert.Contains(t, out, "Standup")
	assert.Contains(t, out, "[work]")
	assert.Contains(t, out, "All Day")
	// Only the third, empty day reports no events.
	assert.Equal(t, 1, strings.Count(out, "No events"))
}

func TestRenderCrossDayEventShowsEndDate(t *testing.T) {
	start := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	res := ViewResult{
		Window: ics.Window{Start: start, End: start.AddDate(0, 0, 1)},
		Timeline: model.Timeline{
			{
				Source:  "work",
				UID:     "overnight",
				Summary: "Overnight maintenance",
				Start:   time.Date(2024, 5, 15, 22, 0, 0, 0, time.UTC),
				End:     time.Date(2024, 5, 16, 6, 0, 0, 0, time.UTC),
			},
		},
	}

	out := Render(res, time.UTC)
	assert.Contains(t, out, "22:00 - Thu May 16 06:00")
}
