package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultGoogleAPIURL is the Google Calendar v3 REST base URL.
const DefaultGoogleAPIURL = "https://www.googleapis.com/calendar/v3"

const (
	propUser       = "slotowl_user"
	propMetaPrefix = "meta_"
)

var whatsAppTagRe = regexp.MustCompile(`\[WhatsApp ID: ([^\]]+)\]`)

// Google is a Calendar backed by the Google Calendar v3 REST API. The
// customer id and metadata are kept in private extended properties; the
// description also carries a "[WhatsApp ID: ...]" tag for humans reading
// the calendar.
type Google struct {
	httpClient *http.Client
	baseURL    string
	calendarID string
	loc        *time.Location
}

// NewGoogle creates a Google calendar client. httpClient must attach
// credentials (see TenantCalendars). loc is used for all-day events.
func NewGoogle(httpClient *http.Client, baseURL, calendarID string, loc *time.Location) *Google {
	if baseURL == "" {
		baseURL = DefaultGoogleAPIURL
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Google{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		calendarID: calendarID,
		loc:        loc,
	}
}

type googleEvent struct {
	ID                 string              `json:"id,omitempty"`
	Status             string              `json:"status,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	Description        string              `json:"description,omitempty"`
	Location           string              `json:"location,omitempty"`
	Start              googleTime          `json:"start"`
	End                googleTime          `json:"end"`
	Created            string              `json:"created,omitempty"`
	ExtendedProperties *googleExtendedProp `json:"extendedProperties,omitempty"`
}

type googleTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleExtendedProp struct {
	Private map[string]string `json:"private,omitempty"`
}

type googleEventList struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

// List implements Calendar.
func (g *Google) List(ctx context.Context, from, to time.Time) ([]Event, error) {
	var out []Event
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("timeMin", from.Format(time.RFC3339))
		q.Set("timeMax", to.Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		q.Set("maxResults", "250")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page googleEventList
		if err := g.do(ctx, http.MethodGet, g.eventsPath("")+"?"+q.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("listing events: %w", err)
		}
		for _, ge := range page.Items {
			if ge.Status == "cancelled" {
				continue
			}
			ev, err := g.fromGoogle(ge)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// Insert implements Calendar.
func (g *Google) Insert(ctx context.Context, ev Event) (Event, error) {
	var created googleEvent
	if err := g.do(ctx, http.MethodPost, g.eventsPath(""), g.toGoogle(ev), &created); err != nil {
		return Event{}, fmt.Errorf("inserting event: %w", err)
	}
	out, err := g.fromGoogle(created)
	if err != nil {
		return Event{}, err
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = ev.CreatedAt
	}
	return out, nil
}

// Update implements Calendar.
func (g *Google) Update(ctx context.Context, ev Event) (Event, error) {
	if ev.ID == "" {
		return Event{}, ErrNotFound
	}
	var updated googleEvent
	if err := g.do(ctx, http.MethodPatch, g.eventsPath(ev.ID), g.toGoogle(ev), &updated); err != nil {
		return Event{}, fmt.Errorf("updating event: %w", err)
	}
	return g.fromGoogle(updated)
}

// Cancel implements Calendar. The event is deleted from the calendar.
func (g *Google) Cancel(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	if err := g.do(ctx, http.MethodDelete, g.eventsPath(id), nil, nil); err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}
	return nil
}

func (g *Google) eventsPath(eventID string) string {
	p := "/calendars/" + url.PathEscape(g.calendarID) + "/events"
	if eventID != "" {
		p += "/" + url.PathEscape(eventID)
	}
	return p
}

func (g *Google) toGoogle(ev Event) googleEvent {
	desc := ev.Description
	if ev.UserID != "" && !whatsAppTagRe.MatchString(desc) {
		tag := "[WhatsApp ID: " + ev.UserID + "]"
		if desc == "" {
			desc = tag
		} else {
			desc += "\n" + tag
		}
	}

	private := map[string]string{}
	if ev.UserID != "" {
		private[propUser] = ev.UserID
	}
	for k, v := range ev.Metadata {
		private[propMetaPrefix+k] = v
	}

	ge := googleEvent{
		Summary:     ev.Summary,
		Description: desc,
		Location:    ev.Location,
		Start:       googleTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: g.loc.String()},
		End:         googleTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: g.loc.String()},
	}
	if len(private) > 0 {
		ge.ExtendedProperties = &googleExtendedProp{Private: private}
	}
	return ge
}

func (g *Google) fromGoogle(ge googleEvent) (Event, error) {
	start, err := g.parseTime(ge.Start)
	if err != nil {
		return Event{}, fmt.Errorf("event %s start: %w", ge.ID, err)
	}
	end, err := g.parseTime(ge.End)
	if err != nil {
		return Event{}, fmt.Errorf("event %s end: %w", ge.ID, err)
	}

	ev := Event{
		ID:          ge.ID,
		Summary:     ge.Summary,
		Description: ge.Description,
		Location:    ge.Location,
		Start:       start,
		End:         end,
		Status:      StatusConfirmed,
	}
	if ge.Created != "" {
		if t, err := time.Parse(time.RFC3339, ge.Created); err == nil {
			ev.CreatedAt = t
		}
	}
	if ge.ExtendedProperties != nil {
		for k, v := range ge.ExtendedProperties.Private {
			switch {
			case k == propUser:
				ev.UserID = v
			case strings.HasPrefix(k, propMetaPrefix):
				if ev.Metadata == nil {
					ev.Metadata = make(map[string]string)
				}
				ev.Metadata[strings.TrimPrefix(k, propMetaPrefix)] = v
			}
		}
	}
	if ev.UserID == "" {
		if m := whatsAppTagRe.FindStringSubmatch(ge.Description); m != nil {
			ev.UserID = strings.TrimSpace(m[1])
		}
	}
	return ev, nil
}

func (g *Google) parseTime(gt googleTime) (time.Time, error) {
	if gt.DateTime != "" {
		return time.Parse(time.RFC3339, gt.DateTime)
	}
	if gt.Date != "" {
		return time.ParseInLocation("2006-01-02", gt.Date, g.loc)
	}
	return time.Time{}, errors.New("missing time")
}

func (g *Google) do(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return fmt.Errorf("%w: token refresh: %s", ErrUnauthorized, re.ErrorCode)
		}
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrNotFound
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("google calendar API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
