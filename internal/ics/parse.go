package ics

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

// ParseReason classifies a document-level parse failure.
type ParseReason string

const (
	ReasonMalformed            ParseReason = "malformed"
	ReasonUnsupportedVersion   ParseReason = "unsupported_version"
	ReasonMissingRequiredField ParseReason = "missing_required_field"
)

// ParseError is a per-document failure. Individual bad events never
// produce a ParseError; they are skipped and reported as warnings.
type ParseError struct {
	SourceName string
	Reason     ParseReason
	Field      string // set when Reason == ReasonMissingRequiredField
	Err        error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse %s: %s: %s", e.SourceName, e.Reason, e.Field)
	}
	return fmt.Sprintf("parse %s: %s: %v", e.SourceName, e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EventWarning reports one skipped or degraded event block.
type EventWarning struct {
	SourceName string
	UID        string
	Message    string
}

// Parse parses one ICS payload into event templates.
//
// One corrupt VEVENT does not sink the document: bad blocks are skipped
// and reported in the returned warnings, all parsable templates are still
// returned.
//
// Timezone policy: a timestamp with a Z suffix is UTC; one with a TZID
// parameter resolves in that zone; a floating timestamp resolves in the
// calendar's declared X-WR-TIMEZONE, or UTC if the calendar declares no
// default zone. The UTC fallback is deliberate policy, not an accident.
func Parse(sourceName string, body []byte) ([]model.EventTemplate, []EventWarning, *ParseError) {
	if len(body) == 0 {
		return nil, nil, &ParseError{
			SourceName: sourceName,
			Reason:     ReasonMalformed,
			Err:        fmt.Errorf("empty ICS body"),
		}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, nil, &ParseError{SourceName: sourceName, Reason: ReasonMalformed, Err: err}
	}

	var warnings []EventWarning
	warn := func(uid, format string, args ...any) {
		w := EventWarning{SourceName: sourceName, UID: uid, Message: fmt.Sprintf(format, args...)}
		warnings = append(warnings, w)
		appLog.Warn("ics event skipped", "source", sourceName, "uid", uid, "reason", w.Message)
	}

	defaultLoc := time.UTC
	for _, p := range cal.CalendarProperties {
		switch strings.ToUpper(p.IANAToken) {
		case "VERSION":
			if v := strings.TrimSpace(p.Value); v != "" && v != "2.0" {
				return nil, nil, &ParseError{
					SourceName: sourceName,
					Reason:     ReasonUnsupportedVersion,
					Err:        fmt.Errorf("version %q", v),
				}
			}
		case "X-WR-TIMEZONE":
			loc, lerr := time.LoadLocation(strings.TrimSpace(p.Value))
			if lerr != nil {
				warn("", "unknown calendar timezone %q, using UTC", p.Value)
				continue
			}
			defaultLoc = loc
		}
	}

	templates := make([]model.EventTemplate, 0)
	byUID := make(map[string]int) // uid -> index into templates
	var overrides []parsedOverride

	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(sourceName, ve, defaultLoc)
		if perr != nil {
			warn(perr.uid, "%s", perr.msg)
			continue
		}

		if ev.recurrenceID != nil {
			overrides = append(overrides, ev.override())
			continue
		}
		if ev.cancelled {
			// A cancelled standalone event contributes nothing.
			continue
		}
		if _, dup := byUID[ev.tpl.UID]; dup {
			warn(ev.tpl.UID, "duplicate UID, keeping first")
			continue
		}
		byUID[ev.tpl.UID] = len(templates)
		templates = append(templates, ev.tpl)
	}

	// Attach overrides to their base template by UID.
	for _, ov := range overrides {
		idx, ok := byUID[ov.uid]
		if !ok {
			warn(ov.uid, "override without base event")
			continue
		}
		templates[idx].Overrides = append(templates[idx].Overrides, ov.override)
	}

	appLog.Debug("ics parse completed",
		"source", sourceName,
		"templates", len(templates),
		"warnings", len(warnings),
	)
	return templates, warnings, nil
}

type parsedOverride struct {
	uid      string
	override model.Override
}

type parsedEvent struct {
	tpl          model.EventTemplate
	recurrenceID *time.Time
	cancelled    bool
}

func (p parsedEvent) override() parsedOverride {
	return parsedOverride{
		uid: p.tpl.UID,
		override: model.Override{
			At:        *p.recurrenceID,
			Summary:   p.tpl.Summary,
			Location:  p.tpl.Location,
			Start:     p.tpl.Start,
			End:       p.tpl.End,
			Cancelled: p.cancelled,
		},
	}
}

type veventError struct {
	uid string
	msg string
}

func parseVEvent(sourceName string, ve *ical.VEvent, defaultLoc *time.Location) (parsedEvent, *veventError) {
	var out parsedEvent
	out.tpl.Source = sourceName

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.tpl.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.tpl.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.tpl.Location = p.Value
	}
	if p := ve.GetProperty("STATUS"); p != nil {
		out.cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	// DTSTART is the one hard requirement for a base event. An override
	// may omit it; its RECURRENCE-ID pins the occurrence it replaces, and
	// cancellations in the wild are often emitted exactly that way.
	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil || dtStartProp.Value == "" {
		rid := ve.GetProperty("RECURRENCE-ID")
		if rid == nil || rid.Value == "" {
			return out, &veventError{uid: uidValue(ve), msg: "missing required field DTSTART"}
		}
		dtStartProp = rid
	}
	start, allDay, err := parseICSTime(dtStartProp.Value, dtStartProp.ICalParameters, defaultLoc)
	if err != nil {
		return out, &veventError{uid: uidValue(ve), msg: fmt.Sprintf("bad DTSTART: %v", err)}
	}
	out.tpl.Start = start
	out.tpl.AllDay = allDay

	// UID: stable across fetches. When a feed omits it, synthesize one
	// deterministically from (source, summary, raw DTSTART) so re-parsing
	// the same feed keeps the same identity.
	out.tpl.UID = uidValue(ve)
	if out.tpl.UID == "" {
		seed := sourceName + "\x00" + out.tpl.Summary + "\x00" + dtStartProp.Value
		out.tpl.UID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
	}

	// End: DTEND, else DURATION, else zero-length (all-day spans a day).
	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDtEnd)
		end, _, eerr := parseICSTime(p.Value, p.ICalParameters, defaultLoc)
		if eerr != nil {
			return out, &veventError{uid: out.tpl.UID, msg: fmt.Sprintf("bad DTEND: %v", eerr)}
		}
		out.tpl.End = end
	case ve.GetProperty("DURATION") != nil:
		p := ve.GetProperty("DURATION")
		dur, derr := parseICSDuration(p.Value)
		if derr != nil {
			return out, &veventError{uid: out.tpl.UID, msg: fmt.Sprintf("bad DURATION: %v", derr)}
		}
		out.tpl.End = out.tpl.Start.Add(dur)
	case allDay:
		out.tpl.End = out.tpl.Start.AddDate(0, 0, 1)
	default:
		out.tpl.End = out.tpl.Start
	}

	if out.tpl.End.Before(out.tpl.Start) {
		return out, &veventError{uid: out.tpl.UID, msg: "end before start"}
	}

	// RRULE: raw value only; expansion happens in expand.go.
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.tpl.RRule = p.Value
	}

	// EXDATE: may appear multiple times and carry comma-joined values.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, eerr := parseICSTime(part, p.ICalParameters, defaultLoc)
			if eerr != nil {
				return out, &veventError{uid: out.tpl.UID, msg: fmt.Sprintf("bad EXDATE: %v", eerr)}
			}
			out.tpl.Exceptions = append(out.tpl.Exceptions, t)
		}
	}

	// RECURRENCE-ID marks this VEVENT as an override of one occurrence.
	// Raw property name: the library's constant set varies across versions.
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		t, _, rerr := parseICSTime(p.Value, p.ICalParameters, defaultLoc)
		if rerr != nil {
			return out, &veventError{uid: out.tpl.UID, msg: fmt.Sprintf("bad RECURRENCE-ID: %v", rerr)}
		}
		out.recurrenceID = &t
	}

	return out, nil
}

func uidValue(ve *ical.VEvent) string {
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

// parseICSTime parses an ICS DATE or DATE-TIME value. The returned bool
// reports a date-only (all-day) value. Resolution order for the zone:
// trailing Z means UTC, a TZID parameter names the zone, anything else is
// floating and resolves in defaultLoc.
func parseICSTime(v string, params map[string][]string, defaultLoc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, fmt.Errorf("empty time value")
	}

	loc := defaultLoc
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		l, err := time.LoadLocation(tzs[0])
		if err != nil {
			return time.Time{}, false, fmt.Errorf("unknown TZID %q", tzs[0])
		}
		loc = l
	}

	dateOnly := !strings.Contains(v, "T")
	if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		dateOnly = true
	}

	if dateOnly {
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}

// parseICSDuration parses an RFC 5545 duration (subset: PnW and
// PnDTnHnMnS forms, optional leading sign).
func parseICSDuration(v string) (time.Duration, error) {
	s := strings.TrimSpace(v)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else {
		s = strings.TrimPrefix(s, "+")
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	num := ""
	inTime := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			inTime = true
		default:
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			num = ""
			switch {
			case r == 'W':
				total += time.Duration(n) * 7 * 24 * time.Hour
			case r == 'D':
				total += time.Duration(n) * 24 * time.Hour
			case r == 'H' && inTime:
				total += time.Duration(n) * time.Hour
			case r == 'M' && inTime:
				total += time.Duration(n) * time.Minute
			case r == 'S' && inTime:
				total += time.Duration(n) * time.Second
			default:
				return 0, fmt.Errorf("invalid duration %q", v)
			}
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if neg {
		total = -total
	}
	return total, nil
}
