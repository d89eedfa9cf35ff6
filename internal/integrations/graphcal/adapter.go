// Package graphcal is the Outlook / Microsoft 365 calendar integration backed by Microsoft Graph.
package graphcal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/aura-booking/backend/config"
	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/models"
)

const (
	// AppType is the credential and reference type of this integration.
	AppType = "office365_calendar"
	// TeamsLocation asks Graph to attach a Teams meeting to the calendar event.
	TeamsLocation = "integrations:office365_video"

	defaultBaseURL  = "https://graph.microsoft.com/v1.0"
	graphTimeFormat = "2006-01-02T15:04:05.9999999"
	preferUTC       = `outlook.timezone="UTC"`
)

// ErrInvalidKey is returned when a credential carries no usable token.
var ErrInvalidKey = errors.New("graphcal: credential key is not an oauth2 token")

// APIError is a non-success answer from Graph.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph %s failed with status %d: %s", e.Op, e.Status, e.Body)
}

// TokenSaver persists a refreshed token back onto its credential.
type TokenSaver interface {
	SaveKey(ctx context.Context, credentialID uuid.UUID, key []byte) error
}

// Options configures adapters built by the factory.
type Options struct {
	OAuth   *oauth2.Config
	BaseURL string
	Saver   TokenSaver
	Logger  *zap.Logger
}

// NewOAuthConfig builds the Graph OAuth client from config.
func NewOAuthConfig(cfg config.GraphConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     microsoft.AzureADEndpoint(cfg.TenantID),
		Scopes:       []string{"offline_access", "User.Read", "Calendars.ReadWrite"},
	}
}

// App describes the integration for the registry.
func App(opts Options) integrations.App {
	return integrations.App{
		Type: AppType,
		Name: "Outlook Calendar",
		Kind: integrations.KindCalendar,
		NewCalendar: func(cred models.Credential) (integrations.CalendarAdapter, error) {
			return New(cred, opts)
		},
	}
}

// Adapter talks to Graph on behalf of one credential.
type Adapter struct {
	cred   models.Credential
	client *http.Client
	base   string
	logger *zap.Logger
}

// New builds an adapter from a credential whose key is a JSON oauth2 token.
func New(cred models.Credential, opts Options) (*Adapter, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(cred.Key, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrInvalidKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	oauthCfg := opts.OAuth
	if oauthCfg == nil {
		oauthCfg = &oauth2.Config{}
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	src := &savingSource{
		base:   oauth2.ReuseTokenSource(&tok, oauthCfg.TokenSource(context.Background(), &tok)),
		last:   tok.AccessToken,
		credID: cred.ID,
		saver:  opts.Saver,
		logger: logger,
	}
	return &Adapter{
		cred:   cred,
		client: oauth2.NewClient(context.Background(), src),
		base:   strings.TrimRight(base, "/"),
		logger: logger,
	}, nil
}

// savingSource writes every newly issued token back to the credential store.
type savingSource struct {
	base   oauth2.TokenSource
	credID uuid.UUID
	saver  TokenSaver
	logger *zap.Logger

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if s.saver != nil {
			key, err := json.Marshal(tok)
			if err == nil {
				err = s.saver.SaveKey(context.Background(), s.credID, key)
			}
			if err != nil {
				s.logger.Warn("persist refreshed graph token", zap.String("credential_id", s.credID.String()), zap.Error(err))
			}
		}
	}
	return tok, nil
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphAttendee struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	} `json:"emailAddress"`
	Type string `json:"type"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphRecurrence struct {
	Pattern struct {
		Type       string   `json:"type"`
		Interval   int      `json:"interval"`
		DaysOfWeek []string `json:"daysOfWeek,omitempty"`
		DayOfMonth int      `json:"dayOfMonth,omitempty"`
	} `json:"pattern"`
	Range struct {
		Type                string `json:"type"`
		StartDate           string `json:"startDate"`
		NumberOfOccurrences int    `json:"numberOfOccurrences"`
	} `json:"range"`
}

type graphEvent struct {
	ID                    string           `json:"id,omitempty"`
	ICalUID               string           `json:"iCalUId,omitempty"`
	Subject               string           `json:"subject,omitempty"`
	Body                  *graphBody       `json:"body,omitempty"`
	Start                 *graphTime       `json:"start,omitempty"`
	End                   *graphTime       `json:"end,omitempty"`
	Attendees             []graphAttendee  `json:"attendees,omitempty"`
	Location              *graphLocation   `json:"location,omitempty"`
	IsOnlineMeeting       bool             `json:"isOnlineMeeting,omitempty"`
	OnlineMeetingProvider string           `json:"onlineMeetingProvider,omitempty"`
	OnlineMeeting         *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting,omitempty"`
	WebLink    string           `json:"webLink,omitempty"`
	ShowAs     string           `json:"showAs,omitempty"`
	Recurrence *graphRecurrence `json:"recurrence,omitempty"`
}

func toGraphEvent(evt *integrations.CalendarEvent) graphEvent {
	g := graphEvent{
		Subject: evt.Title,
		Body:    &graphBody{ContentType: "text", Content: description(evt)},
		Start:   &graphTime{DateTime: evt.StartTime.UTC().Format(graphTimeFormat), TimeZone: "UTC"},
		End:     &graphTime{DateTime: evt.EndTime.UTC().Format(graphTimeFormat), TimeZone: "UTC"},
	}
	for _, p := range evt.AllParticipants() {
		var a graphAttendee
		a.EmailAddress.Address = p.Email
		a.EmailAddress.Name = p.Name
		a.Type = "required"
		g.Attendees = append(g.Attendees, a)
	}
	switch {
	case evt.Location == TeamsLocation:
		g.IsOnlineMeeting = true
		g.OnlineMeetingProvider = "teamsForBusiness"
	case evt.VideoCallData != nil:
		g.Location = &graphLocation{DisplayName: evt.VideoCallData.URL}
	case evt.Location != "":
		g.Location = &graphLocation{DisplayName: evt.Location}
	}
	if r := evt.RecurringEvent; r != nil && r.Count > 1 {
		g.Recurrence = recurrence(r, evt.StartTime.UTC())
	}
	return g
}

func recurrence(r *models.RecurringRule, start time.Time) *graphRecurrence {
	rec := &graphRecurrence{}
	rec.Pattern.Interval = r.Interval
	if rec.Pattern.Interval < 1 {
		rec.Pattern.Interval = 1
	}
	switch r.Frequency {
	case models.FrequencyWeekly:
		rec.Pattern.Type = "weekly"
		rec.Pattern.DaysOfWeek = []string{strings.ToLower(start.Weekday().String())}
	case models.FrequencyMonthly:
		rec.Pattern.Type = "absoluteMonthly"
		rec.Pattern.DayOfMonth = start.Day()
	default:
		rec.Pattern.Type = "daily"
	}
	rec.Range.Type = "numbered"
	rec.Range.StartDate = start.Format("2006-01-02")
	rec.Range.NumberOfOccurrences = r.Count
	return rec
}

func description(evt *integrations.CalendarEvent) string {
	var b strings.Builder
	b.WriteString(evt.Description)
	if evt.VideoCallData != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Join: ")
		b.WriteString(evt.VideoCallData.URL)
		if evt.VideoCallData.Password != "" {
			b.WriteString("\nPassword: ")
			b.WriteString(evt.VideoCallData.Password)
		}
	}
	return b.String()
}

func (a *Adapter) toProviderEvent(g graphEvent, calendarID string) integrations.ProviderEvent {
	pe := integrations.ProviderEvent{
		Type:               AppType,
		ID:                 g.ID,
		ICalUID:            g.ICalUID,
		ExternalCalendarID: calendarID,
	}
	if g.OnlineMeeting != nil {
		pe.URL = g.OnlineMeeting.JoinURL
	}
	if g.WebLink != "" {
		pe.AdditionalInfo = map[string]string{"web_link": g.WebLink}
	}
	return pe
}

func (a *Adapter) eventsPath(calendarID string) string {
	if calendarID == "" {
		return "/me/calendar/events"
	}
	return "/me/calendars/" + url.PathEscape(calendarID) + "/events"
}

// CreateEvent writes the event to the destination calendar bound to credentialID, or the default calendar.
func (a *Adapter) CreateEvent(ctx context.Context, evt *integrations.CalendarEvent, credentialID uuid.UUID) (*integrations.ProviderEvent, error) {
	calendarID := evt.ExternalCalendarID(credentialID, AppType)
	var created graphEvent
	if err := a.do(ctx, "create event", http.MethodPost, a.eventsPath(calendarID), toGraphEvent(evt), &created, http.StatusCreated); err != nil {
		return nil, err
	}
	pe := a.toProviderEvent(created, calendarID)
	return &pe, nil
}

// UpdateEvent patches an existing event.
func (a *Adapter) UpdateEvent(ctx context.Context, uid string, evt *integrations.CalendarEvent, externalCalendarID string) (integrations.Outcome, error) {
	var updated graphEvent
	path := "/me/events/" + url.PathEscape(uid)
	if err := a.do(ctx, "update event", http.MethodPatch, path, toGraphEvent(evt), &updated, http.StatusOK); err != nil {
		return integrations.Outcome{}, err
	}
	return integrations.Single(a.toProviderEvent(updated, externalCalendarID)), nil
}

// DeleteEvent removes an event. An event already gone counts as deleted.
func (a *Adapter) DeleteEvent(ctx context.Context, uid string, _ *integrations.CalendarEvent, _ string) error {
	err := a.do(ctx, "delete event", http.MethodDelete, "/me/events/"+url.PathEscape(uid), nil, nil, http.StatusNoContent)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone) {
		return nil
	}
	return err
}

// GetAvailability reads the calendar view of each selected calendar and returns non-free spans.
func (a *Adapter) GetAvailability(ctx context.Context, from, to time.Time, selected []models.SelectedCalendar) ([]models.BusyInterval, error) {
	var out []models.BusyInterval
	for _, sel := range selected {
		q := url.Values{}
		q.Set("startDateTime", from.UTC().Format(time.RFC3339))
		q.Set("endDateTime", to.UTC().Format(time.RFC3339))
		q.Set("$select", "showAs,start,end")
		q.Set("$top", "500")
		next := a.base + "/me/calendars/" + url.PathEscape(sel.ExternalID) + "/calendarView?" + q.Encode()
		for next != "" {
			var page struct {
				Value    []graphEvent `json:"value"`
				NextLink string       `json:"@odata.nextLink"`
			}
			if err := a.doURL(ctx, "calendar view", http.MethodGet, next, nil, &page, http.StatusOK); err != nil {
				return nil, err
			}
			for _, ev := range page.Value {
				if ev.ShowAs == "free" || ev.ShowAs == "workingElsewhere" || ev.Start == nil || ev.End == nil {
					continue
				}
				start, err := parseGraphTime(ev.Start.DateTime)
				if err != nil {
					return nil, err
				}
				end, err := parseGraphTime(ev.End.DateTime)
				if err != nil {
					return nil, err
				}
				out = append(out, models.BusyInterval{Start: start, End: end, Source: AppType + ":" + sel.ExternalID})
			}
			next = page.NextLink
		}
	}
	return out, nil
}

func parseGraphTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(graphTimeFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("graph time %q: %w", s, err)
	}
	return t, nil
}

// ListCalendars lists the calendars of the account.
func (a *Adapter) ListCalendars(ctx context.Context) ([]integrations.IntegrationCalendar, error) {
	var result struct {
		Value []struct {
			ID                string `json:"id"`
			Name              string `json:"name"`
			IsDefaultCalendar bool   `json:"isDefaultCalendar"`
			CanEdit           bool   `json:"canEdit"`
		} `json:"value"`
	}
	if err := a.do(ctx, "list calendars", http.MethodGet, "/me/calendars", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	out := make([]integrations.IntegrationCalendar, len(result.Value))
	for i, c := range result.Value {
		out[i] = integrations.IntegrationCalendar{
			ExternalID:   c.ID,
			Integration:  AppType,
			Name:         c.Name,
			Primary:      c.IsDefaultCalendar,
			ReadOnly:     !c.CanEdit,
			CredentialID: a.cred.ID.String(),
		}
	}
	return out, nil
}

func (a *Adapter) do(ctx context.Context, op, method, path string, in, out any, want int) error {
	return a.doURL(ctx, op, method, a.base+path, in, out, want)
}

func (a *Adapter) doURL(ctx context.Context, op, method, endpoint string, in, out any, want int) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("graph %s: marshal: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("graph %s: %w", op, err)
	}
	req.Header.Set("Prefer", preferUTC)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("graph %s: decode: %w", op, err)
	}
	return nil
}
