// Package crmcal mirrors bookings into an external CRM as activity records over a JSON webhook API.
package crmcal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/models"
)

// AppType is the credential and reference type of this integration.
const AppType = "crm_other_calendar"

// ErrInvalidKey is returned when a credential does not name an endpoint.
var ErrInvalidKey = errors.New("crmcal: credential key needs an endpoint")

// Key is the credential payload.
type Key struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

// App describes the integration for the registry.
func App(client *http.Client) integrations.App {
	return integrations.App{
		Type: AppType,
		Name: "CRM activity sync",
		Kind: integrations.KindOtherCalendar,
		NewCalendar: func(cred models.Credential) (integrations.CalendarAdapter, error) {
			return New(cred, client)
		},
	}
}

// Adapter writes booking activities to one CRM account.
type Adapter struct {
	cred   models.Credential
	key    Key
	client *http.Client
}

// New builds an adapter from a credential.
func New(cred models.Credential, client *http.Client) (*Adapter, error) {
	var key Key
	if err := json.Unmarshal(cred.Key, &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if _, err := url.ParseRequestURI(key.Endpoint); err != nil || key.Endpoint == "" {
		return nil, ErrInvalidKey
	}
	key.Endpoint = strings.TrimRight(key.Endpoint, "/")
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{cred: cred, key: key, client: client}, nil
}

type activity struct {
	BookingUID  string   `json:"booking_uid"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Organizer   string   `json:"organizer"`
	Contacts    []string `json:"contacts"`
	Location    string   `json:"location,omitempty"`
}

type record struct {
	ID string `json:"id"`
}

func toActivity(evt *integrations.CalendarEvent) activity {
	a := activity{
		BookingUID:  evt.UID,
		Title:       evt.Title,
		Description: evt.Description,
		StartTime:   evt.StartTime.UTC().Format(time.RFC3339),
		EndTime:     evt.EndTime.UTC().Format(time.RFC3339),
		Organizer:   evt.Organizer.Email,
		Location:    evt.Location,
	}
	if evt.VideoCallData != nil {
		a.Location = evt.VideoCallData.URL
	}
	for _, p := range evt.Attendees {
		a.Contacts = append(a.Contacts, p.Email)
	}
	return a
}

// CreateEvent records one activity.
func (a *Adapter) CreateEvent(ctx context.Context, evt *integrations.CalendarEvent, _ uuid.UUID) (*integrations.ProviderEvent, error) {
	var rec record
	if err := a.call(ctx, http.MethodPost, "/activities", toActivity(evt), &rec); err != nil {
		return nil, err
	}
	return &integrations.ProviderEvent{Type: AppType, ID: rec.ID}, nil
}

// UpdateEvent updates an activity. The CRM answers with every record it touched,
// one per linked contact, so the outcome may be multiple.
func (a *Adapter) UpdateEvent(ctx context.Context, uid string, evt *integrations.CalendarEvent, _ string) (integrations.Outcome, error) {
	var resp struct {
		Records []record `json:"records"`
	}
	if err := a.call(ctx, http.MethodPut, "/activities/"+url.PathEscape(uid), toActivity(evt), &resp); err != nil {
		return integrations.Outcome{}, err
	}
	events := make([]integrations.ProviderEvent, len(resp.Records))
	for i, r := range resp.Records {
		events[i] = integrations.ProviderEvent{Type: AppType, ID: r.ID}
	}
	if len(events) == 1 {
		return integrations.Single(events[0]), nil
	}
	return integrations.Multiple(events), nil
}

// DeleteEvent removes an activity.
func (a *Adapter) DeleteEvent(ctx context.Context, uid string, _ *integrations.CalendarEvent, _ string) error {
	return a.call(ctx, http.MethodDelete, "/activities/"+url.PathEscape(uid), nil, nil)
}

// GetAvailability returns nothing: CRM activities never block time.
func (a *Adapter) GetAvailability(context.Context, time.Time, time.Time, []models.SelectedCalendar) ([]models.BusyInterval, error) {
	return nil, nil
}

// ListCalendars exposes the CRM as a single write-only calendar.
func (a *Adapter) ListCalendars(context.Context) ([]integrations.IntegrationCalendar, error) {
	return []integrations.IntegrationCalendar{{
		ExternalID:   a.key.Endpoint,
		Integration:  AppType,
		Name:         "CRM activities",
		Primary:      true,
		CredentialID: a.cred.ID.String(),
	}}, nil
}

func (a *Adapter) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("crm %s %s: marshal: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.key.Endpoint+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.key.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.key.Token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("crm %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("crm %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
