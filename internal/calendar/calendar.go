// Package calendar turns ICS feeds into event records. Parsing is tolerant:
// a malformed VEVENT is skipped, never failing the whole feed.
package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

// Event is one VEVENT lifted out of a feed. ExternalID is the ICS UID and,
// together with the feed, forms the upsert key downstream.
type Event struct {
	ExternalID  string
	Title       string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time // zero when the event has no DTEND
	Attendees   []string
}

// Parse reads one ICS document. Events without a UID or a parsable start
// time are dropped.
func Parse(r io.Reader) ([]Event, error) {
	cal, err := ics.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar: %w", err)
	}

	var out []Event
	for _, ve := range cal.Events() {
		uid := propValue(ve, ics.ComponentPropertyUniqueId)
		if uid == "" {
			continue
		}
		starts, err := ve.GetStartAt()
		if err != nil {
			continue
		}
		ev := Event{
			ExternalID:  uid,
			Title:       propValue(ve, ics.ComponentPropertySummary),
			Description: propValue(ve, ics.ComponentPropertyDescription),
			Location:    propValue(ve, ics.ComponentPropertyLocation),
			StartsAt:    starts.UTC(),
		}
		if ends, err := ve.GetEndAt(); err == nil {
			ev.EndsAt = ends.UTC()
		}
		for _, a := range ve.Attendees() {
			if name := attendeeName(a); name != "" {
				ev.Attendees = append(ev.Attendees, name)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func propValue(ve *ics.VEvent, name ics.ComponentProperty) string {
	p := ve.GetProperty(name)
	if p == nil {
		return ""
	}
	return p.Value
}

// attendeeName prefers the CN display name and falls back to the email.
func attendeeName(a *ics.Attendee) string {
	if cn, ok := a.ICalParameters["CN"]; ok && len(cn) > 0 {
		if name := strings.Trim(cn[0], `"`); name != "" {
			return name
		}
	}
	return a.Email()
}

// Client downloads ICS feeds over HTTP.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a Client. A zero timeout means no limit.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch downloads and parses the feed at url.
func (c *Client) Fetch(ctx context.Context, url string) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating feed request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: unexpected status %d", resp.StatusCode)
	}
	return Parse(resp.Body)
}
