package calendar

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

const propRecurrenceID ical.ComponentProperty = "RECURRENCE-ID"

// occurrencesBetween expands rule from start and returns the occurrences in [from, to)
// that are not listed in exdates.
func occurrencesBetween(start time.Time, rule string, exdates []time.Time, from, to time.Time) ([]time.Time, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("parse RRULE %q: %w", rule, err)
	}
	r.DTStart(start)

	excluded := make(map[int64]struct{}, len(exdates))
	for _, ex := range exdates {
		excluded[ex.Unix()] = struct{}{}
	}

	var out []time.Time
	for _, t := range r.Between(from, to, true) {
		if !t.Before(to) {
			continue
		}
		if _, skip := excluded[t.Unix()]; skip {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// overriddenInstances maps UID to the original start instants that a RECURRENCE-ID
// VEVENT replaces.
func overriddenInstances(events []*ical.VEvent, display *time.Location) map[string]map[int64]struct{} {
	out := make(map[string]map[int64]struct{})
	for _, ev := range events {
		rid := ev.GetProperty(propRecurrenceID)
		if rid == nil {
			continue
		}
		t, err := propertyTime(rid, display)
		if err != nil {
			continue
		}
		uid := uidOf(ev)
		if out[uid] == nil {
			out[uid] = make(map[int64]struct{})
		}
		out[uid][t.Unix()] = struct{}{}
	}
	return out
}

func uidOf(ev *ical.VEvent) string {
	if p := ev.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		return p.Value
	}
	return ""
}
