// Package calendar turns an ICS feed into the list of today's events.
package calendar

import (
	"context"
	"slices"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"go.uber.org/zap"

	"github.com/kjstillabower/eink-dashboard/internal/models"
	"github.com/kjstillabower/eink-dashboard/internal/observability"
	"github.com/kjstillabower/eink-dashboard/internal/upstream"
)

// BusyPlaceholder replaces a missing SUMMARY, as free/busy-only feeds omit titles.
const BusyPlaceholder = "Opptatt"

// Fetcher retrieves the feed on every call; nothing is cached between requests.
type Fetcher struct {
	client          *upstream.Client
	feedURL         string
	location        *time.Location
	expandRecurring bool
	now             func() time.Time
}

// NewFetcher returns a Fetcher for feedURL. An empty feedURL is accepted and
// reported as a FetchError on each call.
func NewFetcher(client *upstream.Client, feedURL string, location *time.Location, expandRecurring bool) *Fetcher {
	if location == nil {
		location = time.UTC
	}
	return &Fetcher{
		client:          client,
		feedURL:         feedURL,
		location:        location,
		expandRecurring: expandRecurring,
		now:             time.Now,
	}
}

// SetClock replaces the source of "now". For tests.
func (f *Fetcher) SetClock(now func() time.Time) {
	f.now = now
}

type occurrence struct {
	start   time.Time
	summary string
}

// TodayEvents returns the events starting today in the display timezone, ordered by start.
func (f *Fetcher) TodayEvents(ctx context.Context) ([]models.CalendarEvent, error) {
	body, err := f.client.Get(ctx, f.feedURL, "text/calendar")
	if err != nil {
		return nil, err
	}

	cal, err := ParseFeed(body)
	if err != nil {
		parseErr := &upstream.ParseError{Source: upstream.SourceCalendar, Err: err}
		upstream.RecordError(upstream.SourceCalendar, parseErr)
		return nil, parseErr
	}

	now := f.now().In(f.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, f.location)
	dayEnd := dayStart.AddDate(0, 0, 1)

	occs := f.occurrences(ctx, cal.Events(), dayStart, dayEnd)
	slices.SortStableFunc(occs, func(a, b occurrence) int { return a.start.Compare(b.start) })

	events := make([]models.CalendarEvent, 0, len(occs))
	for _, o := range occs {
		events = append(events, models.CalendarEvent{
			Time:    o.start.In(f.location).Format("15:04"),
			Summary: o.summary,
		})
	}
	return events, nil
}

func (f *Fetcher) occurrences(ctx context.Context, vevents []*ical.VEvent, dayStart, dayEnd time.Time) []occurrence {
	logger := observability.LoggerFromContext(ctx)
	overrides := overriddenInstances(vevents, f.location)
	inDay := func(t time.Time) bool { return !t.Before(dayStart) && t.Before(dayEnd) }

	var out []occurrence
	skipped := 0
	for _, ev := range vevents {
		start, err := propertyTime(ev.GetProperty(ical.ComponentPropertyDtStart), f.location)
		if err != nil {
			skipped++
			logger.Debug("calendar event without usable DTSTART", zap.String("uid", uidOf(ev)), zap.Error(err))
			continue
		}
		summary := summaryOf(ev)

		rrule := ev.GetProperty(ical.ComponentPropertyRrule)
		if f.expandRecurring && rrule != nil && ev.GetProperty(propRecurrenceID) == nil {
			exdates := timeList(ev.GetProperties(ical.ComponentPropertyExdate), f.location)
			times, err := occurrencesBetween(start, rrule.Value, exdates, dayStart, dayEnd)
			if err != nil {
				logger.Debug("recurrence not expanded", zap.String("uid", uidOf(ev)), zap.Error(err))
				if inDay(start) {
					out = append(out, occurrence{start: start, summary: summary})
				}
				continue
			}
			replaced := overrides[uidOf(ev)]
			for _, t := range times {
				if _, ok := replaced[t.Unix()]; ok {
					continue
				}
				out = append(out, occurrence{start: t, summary: summary})
			}
			continue
		}

		if inDay(start) {
			out = append(out, occurrence{start: start, summary: summary})
		}
	}

	logger.Debug("calendar filtered",
		zap.Int("vevents", len(vevents)),
		zap.Int("today", len(out)),
		zap.Int("skipped", skipped))
	return out
}

func summaryOf(ev *ical.VEvent) string {
	if p := ev.GetProperty(ical.ComponentPropertySummary); p != nil {
		if s := strings.TrimSpace(p.Value); s != "" {
			return s
		}
	}
	return BusyPlaceholder
}
