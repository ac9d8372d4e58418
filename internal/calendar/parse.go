package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	layoutUTC   = "20060102T150405Z"
	layoutLocal = "20060102T150405"
	layoutDate  = "20060102"
)

// ParseFeed decodes an ICS payload and parses it. A UTF-8 or UTF-16 byte-order mark
// selects the encoding; without one the body is read as UTF-8.
func ParseFeed(body []byte) (*ical.Calendar, error) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	if err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	if err := validateFeed(decoded); err != nil {
		return nil, err
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(decoded))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	return cal, nil
}

// validateFeed rejects bodies that are not iCalendar, typically a login page served with 200.
func validateFeed(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return errors.New("empty calendar feed")
	}
	head := strings.ToUpper(string(trimmed[:min(len(trimmed), 64)]))
	if strings.HasPrefix(head, "<!DOCTYPE") || strings.HasPrefix(head, "<HTML") {
		return errors.New("received HTML instead of iCalendar data - check if the feed URL requires authentication")
	}
	if !strings.HasPrefix(head, "BEGIN:VCALENDAR") {
		return fmt.Errorf("invalid iCalendar format - expected BEGIN:VCALENDAR, got: %.40q", string(trimmed))
	}
	return nil
}

// propertyTime resolves a DTSTART-like property to an instant. UTC values keep UTC,
// TZID values use that zone (display zone when unknown), floating and all-day values
// use the display zone.
func propertyTime(prop *ical.IANAProperty, display *time.Location) (time.Time, error) {
	if prop == nil {
		return time.Time{}, errors.New("missing property")
	}
	return parseICSTime(strings.TrimSpace(prop.Value), prop.ICalParameters, display)
}

func parseICSTime(value string, params map[string][]string, display *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty time value")
	}
	zone := display
	if tzids := params["TZID"]; len(tzids) > 0 {
		if loc, err := time.LoadLocation(strings.TrimPrefix(strings.Trim(tzids[0], `"`), "/")); err == nil {
			zone = loc
		}
	}

	if isDateValue(value, params) {
		return time.ParseInLocation(layoutDate, value[:min(len(value), len(layoutDate))], zone)
	}
	if strings.HasSuffix(value, "Z") {
		return time.Parse(layoutUTC, value)
	}
	return time.ParseInLocation(layoutLocal, value, zone)
}

func isDateValue(value string, params map[string][]string) bool {
	if vs := params["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(value, "T")
}

// timeList parses every comma separated value of repeated properties such as EXDATE.
func timeList(props []*ical.IANAProperty, display *time.Location) []time.Time {
	var out []time.Time
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, p.ICalParameters, display); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}
