package integrations

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/models"
)

// Kind classifies what an integration does.
type Kind int

const (
	KindCalendar Kind = iota
	KindOtherCalendar
	KindVideo
)

// LocationPrefix marks booking locations served by an integration.
const LocationPrefix = "integrations:"

var (
	// ErrUnknownApp is returned for integration types nobody registered.
	ErrUnknownApp = errors.New("unknown integration")
	// ErrWrongKind is returned when asking a video app for a calendar adapter or vice versa.
	ErrWrongKind = errors.New("integration does not provide this capability")
)

// CalendarFactory builds a calendar adapter bound to one credential.
type CalendarFactory func(cred models.Credential) (CalendarAdapter, error)

// VideoFactory builds a video adapter bound to one credential.
type VideoFactory func(cred models.Credential) (VideoAdapter, error)

// App describes one integration.
type App struct {
	Type        string // reference type, e.g. "graph_calendar"
	Name        string
	Kind        Kind
	Dedicated   bool // creates a fresh meeting per booking
	Global      bool // usable without a per-user credential
	NewCalendar CalendarFactory
	NewVideo    VideoFactory
}

// LocationType is the booking location that selects this app.
func (a App) LocationType() string { return LocationPrefix + a.Type }

// Registry maps integration types to apps. Apps are registered once at startup; breakers are
// created on first use, one per credential.
type Registry struct {
	apps        map[string]App
	dynamicMeet map[string]string // location -> calendar type able to generate the meeting

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		apps:        make(map[string]App),
		dynamicMeet: make(map[string]string),
		breakers:    make(map[string]*Breaker),
	}
}

// Register adds an app. Registering the same type twice is an error.
func (r *Registry) Register(app App) error {
	if app.Type == "" {
		return errors.New("integration type required")
	}
	if _, dup := r.apps[app.Type]; dup {
		return fmt.Errorf("integration %q already registered", app.Type)
	}
	switch app.Kind {
	case KindCalendar, KindOtherCalendar:
		if app.NewCalendar == nil {
			return fmt.Errorf("integration %q: calendar factory required", app.Type)
		}
		if !models.IsCalendarType(app.Type) {
			return fmt.Errorf("integration %q: calendar types end in %q", app.Type, models.ReferenceSuffixCalendar)
		}
	case KindVideo:
		if app.NewVideo == nil {
			return fmt.Errorf("integration %q: video factory required", app.Type)
		}
		if !models.IsVideoType(app.Type) {
			return fmt.Errorf("integration %q: video types end in %q", app.Type, models.ReferenceSuffixVideo)
		}
	}
	r.apps[app.Type] = app
	return nil
}

// RegisterDynamicMeet declares a location whose meeting link is generated by a calendar type.
func (r *Registry) RegisterDynamicMeet(location, calendarType string) error {
	app, ok := r.apps[calendarType]
	if !ok || app.Kind != KindCalendar {
		return fmt.Errorf("%w: %s", ErrUnknownApp, calendarType)
	}
	r.dynamicMeet[location] = calendarType
	return nil
}

// App returns the app registered for a type.
func (r *Registry) App(appType string) (App, bool) {
	app, ok := r.apps[appType]
	return app, ok
}

// Apps lists registered apps sorted by type.
func (r *Registry) Apps() []App {
	out := make([]App, 0, len(r.apps))
	for _, a := range r.apps {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// VideoAppForLocation returns the dedicated video app a location selects.
func (r *Registry) VideoAppForLocation(location string) (App, bool) {
	if !strings.HasPrefix(location, LocationPrefix) {
		return App{}, false
	}
	app, ok := r.apps[strings.TrimPrefix(location, LocationPrefix)]
	if !ok || app.Kind != KindVideo {
		return App{}, false
	}
	return app, true
}

// IsDedicatedLocation reports whether a location needs a per-booking meeting.
func (r *Registry) IsDedicatedLocation(location string) bool {
	app, ok := r.VideoAppForLocation(location)
	return ok && app.Dedicated
}

// DynamicMeetCalendar returns the calendar type that must host a dynamic meet location.
func (r *Registry) DynamicMeetCalendar(location string) (string, bool) {
	t, ok := r.dynamicMeet[location]
	return t, ok
}

// KnownLocation reports whether an event type may offer a location. Free-text locations are
// always allowed; integration locations must name a video app or a dynamic meet.
func (r *Registry) KnownLocation(location string) bool {
	if !strings.HasPrefix(location, LocationPrefix) {
		return true
	}
	if _, ok := r.VideoAppForLocation(location); ok {
		return true
	}
	_, ok := r.DynamicMeetCalendar(location)
	return ok
}

// GlobalCredential returns the app-level credential of a global app.
func (r *Registry) GlobalCredential(appType string) (models.Credential, bool) {
	app, ok := r.apps[appType]
	if !ok || !app.Global {
		return models.Credential{}, false
	}
	return models.Credential{Type: app.Type, AppID: app.Type}, true
}

// Calendar builds a calendar adapter for a credential.
func (r *Registry) Calendar(cred models.Credential) (CalendarAdapter, error) {
	app, ok := r.apps[cred.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, cred.Type)
	}
	if app.NewCalendar == nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongKind, cred.Type)
	}
	return app.NewCalendar(cred)
}

// Video builds a video adapter for a credential.
func (r *Registry) Video(cred models.Credential) (VideoAdapter, error) {
	app, ok := r.apps[cred.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, cred.Type)
	}
	if app.NewVideo == nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongKind, cred.Type)
	}
	return app.NewVideo(cred)
}

// BreakerKey names the breaker of a credential. App-level credentials of global apps carry no
// id and share the app's breaker.
func BreakerKey(cred models.Credential) string {
	if cred.ID == uuid.Nil {
		return cred.Type
	}
	return cred.Type + ":" + cred.ID.String()
}

// Breaker returns the circuit breaker guarding calls made with cred. One account failing never
// opens the breaker of another.
func (r *Registry) Breaker(cred models.Credential) *Breaker {
	key := BreakerKey(cred)
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = NewBreaker(key)
		r.breakers[key] = b
	}
	return b
}

// Name returns a display name for an integration type.
func (r *Registry) Name(appType string) string {
	if app, ok := r.apps[appType]; ok && app.Name != "" {
		return app.Name
	}
	return appType
}
