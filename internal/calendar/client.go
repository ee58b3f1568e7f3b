// Package calendar books events against a Google-Calendar-compatible
// REST API using an OAuth2 refresh-token credential.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"mailpilot/internal/domain"

	"golang.org/x/oauth2"
)

const (
	defaultAPIBase  = "https://www.googleapis.com/calendar/v3"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	workdayStart    = 9  // local hour
	workdayEnd      = 17 // local hour
)

// Client implements domain.Calendar and domain.SlotSuggester.
type Client struct {
	apiBase    string
	calendarID string
	timezone   string
	client     *http.Client
	logger     *slog.Logger
}

type Config struct {
	APIBase      string
	TokenURL     string
	CalendarID   string
	ClientID     string
	ClientSecret string
	RefreshToken string
	// AccessToken short-circuits the OAuth2 refresh flow. Useful for
	// test servers and pre-minted credentials.
	AccessToken string
	Timezone    string
	Logger      *slog.Logger
}

func New(ctx context.Context, cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var httpClient *http.Client
	if cfg.AccessToken != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken}))
	} else {
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		}
		httpClient = oauth2.NewClient(ctx, oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	}
	httpClient.Timeout = 30 * time.Second

	return &Client{
		apiBase:    cfg.APIBase,
		calendarID: cfg.CalendarID,
		timezone:   cfg.Timezone,
		client:     httpClient,
		logger:     cfg.Logger,
	}
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type attendee struct {
	Email string `json:"email"`
}

type eventPayload struct {
	Summary     string     `json:"summary"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	Start       eventTime  `json:"start"`
	End         eventTime  `json:"end"`
	Attendees   []attendee `json:"attendees,omitempty"`
}

type eventResource struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   eventTime `json:"start"`
	End     eventTime `json:"end"`
}

// CreateEvent books the candidate and returns the provider event id.
// A 409 from the API means the slot is taken and is terminal; rate
// limits, 5xx, and network faults are transient.
func (c *Client) CreateEvent(ctx context.Context, event domain.CandidateEvent) (string, error) {
	if err := event.Validate(); err != nil {
		return "", domain.Terminal(err)
	}

	payload := eventPayload{
		Summary:     event.Title,
		Location:    event.Location,
		Description: fmt.Sprintf("Scheduled from email %s", event.EmailID),
		Start:       eventTime{DateTime: event.Start.Format(time.RFC3339), TimeZone: c.timezone},
		End:         eventTime{DateTime: event.End.Format(time.RFC3339), TimeZone: c.timezone},
	}
	for _, a := range event.Attendees {
		payload.Attendees = append(payload.Attendees, attendee{Email: a})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", domain.Terminal(fmt.Errorf("marshal event: %w", err))
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.apiBase, url.PathEscape(c.calendarID))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", domain.Transient(fmt.Errorf("%w: %v", domain.ErrCalendarTransient, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.Transient(fmt.Errorf("%w: read response: %v", domain.ErrCalendarTransient, err))
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusConflict:
		return "", domain.Terminal(fmt.Errorf("%w: %s", domain.ErrCalendarConflict, trimBody(raw, 200)))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", domain.Transient(fmt.Errorf("%w: HTTP %d: %s", domain.ErrCalendarTransient, resp.StatusCode, trimBody(raw, 200)))
	default:
		return "", domain.Terminal(fmt.Errorf("calendar rejected event: HTTP %d: %s", resp.StatusCode, trimBody(raw, 200)))
	}

	var created eventResource
	if err := json.Unmarshal(raw, &created); err != nil {
		return "", domain.Terminal(fmt.Errorf("parse event response: %w", err))
	}
	if created.ID == "" {
		return "", domain.Terminal(fmt.Errorf("calendar returned no event id"))
	}
	return created.ID, nil
}

// FreeSlots lists open gaps of at least duration inside working hours
// (09:00 to 17:00) on the given day. Best effort: callers use it for
// conflict suggestions, not for booking decisions.
func (c *Client) FreeSlots(ctx context.Context, day time.Time, duration time.Duration) ([]string, error) {
	loc, err := time.LoadLocation(c.timezone)
	if err != nil {
		loc = time.UTC
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), workdayStart, 0, 0, 0, loc)
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), workdayEnd, 0, 0, 0, loc)

	busy, err := c.listEvents(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	var slots []string
	cursor := dayStart
	for _, ev := range busy {
		if ev.start.After(cursor) && ev.start.Sub(cursor) >= duration {
			slots = append(slots, formatSlot(cursor, ev.start))
		}
		if ev.end.After(cursor) {
			cursor = ev.end
		}
	}
	if dayEnd.Sub(cursor) >= duration {
		slots = append(slots, formatSlot(cursor, dayEnd))
	}
	return slots, nil
}

type busyInterval struct {
	start time.Time
	end   time.Time
}

func (c *Client) listEvents(ctx context.Context, from, to time.Time) ([]busyInterval, error) {
	q := url.Values{}
	q.Set("timeMin", from.Format(time.RFC3339))
	q.Set("timeMax", to.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", c.apiBase, url.PathEscape(c.calendarID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, domain.Terminal(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("%w: %v", domain.ErrCalendarTransient, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, domain.Transient(fmt.Errorf("%w: list events: HTTP %d: %s", domain.ErrCalendarTransient, resp.StatusCode, trimBody(raw, 200)))
	}

	var listing struct {
		Items []eventResource `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, domain.Transient(fmt.Errorf("%w: parse listing: %v", domain.ErrCalendarTransient, err))
	}

	var busy []busyInterval
	for _, item := range listing.Items {
		start, err1 := time.Parse(time.RFC3339, item.Start.DateTime)
		end, err2 := time.Parse(time.RFC3339, item.End.DateTime)
		if err1 != nil || err2 != nil {
			c.logger.Warn("skipping event with unparseable times", "event", item.ID)
			continue
		}
		busy = append(busy, busyInterval{start: start, end: end})
	}
	return busy, nil
}

func formatSlot(from, to time.Time) string {
	return fmt.Sprintf("%s - %s", from.Format("15:04"), to.Format("15:04"))
}

func trimBody(b []byte, max int) string {
	s := string(bytes.TrimSpace(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
