// Package api maps named operations to gin handlers and mounts them on the router from one
// route table, so every exposed endpoint is listed in a single place.
package api

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// Access is the authentication an operation requires.
type Access int

const (
	// Public operations need no token.
	Public Access = iota
	// Organizer operations require a valid bearer token.
	Organizer
	// Admin operations require a bearer token with the admin role.
	Admin
)

// Guards are the middleware run before the handlers of each access level.
type Guards map[Access][]gin.HandlerFunc

// Operation names.
const (
	OpRegister           = "auth.register"
	OpLogin              = "auth.login"
	OpSetDestination     = "auth.set_destination"
	OpAvailability       = "event_types.availability"
	OpCreateEventType    = "event_types.create"
	OpGetEventType       = "event_types.get"
	OpListEventTypes     = "event_types.list"
	OpGetSchedule        = "schedules.get"
	OpPutSchedule        = "schedules.put"
	OpRegisterCredential = "credentials.register"
	OpListCredentials    = "credentials.list"
	OpListCalendars      = "credentials.calendars"
	OpSetSelected        = "credentials.set_selected"
	OpCreateBooking      = "bookings.create"
	OpGetBooking         = "bookings.get"
	OpCancelBooking      = "bookings.cancel"
	OpConfirmBooking     = "bookings.confirm"
	OpRejectBooking      = "bookings.reject"
	OpUpdateLocation     = "bookings.update_location"
	OpPaymentCallback    = "bookings.payment_callback"
	OpGuestVideoToken    = "video.guest_token"
	OpHostVideoToken     = "video.host_token"
	OpCreateSubscription = "webhooks.create"
	OpListSubscriptions  = "webhooks.list"
	OpDeleteSubscription = "webhooks.delete"
	OpRealtime           = "realtime.connect"
	OpHealth             = "ops.health"
	OpMetrics            = "ops.metrics"
	OpSweep              = "ops.sweep"
)

// Route binds an operation to a method and path.
type Route struct {
	Operation string
	Method    string
	Path      string
	Access    Access
}

// Routes is the HTTP surface of the service.
var Routes = []Route{
	{OpHealth, http.MethodGet, "/health", Public},
	{OpMetrics, http.MethodGet, "/metrics", Public},
	{OpSweep, http.MethodPost, "/admin/sweep", Admin},

	{OpRegister, http.MethodPost, "/auth/register", Public},
	{OpLogin, http.MethodPost, "/auth/login", Public},
	{OpSetDestination, http.MethodPut, "/me/destination-calendar", Organizer},

	{OpAvailability, http.MethodGet, "/event-types/:id/availability", Public},
	{OpCreateEventType, http.MethodPost, "/event-types", Organizer},
	{OpGetEventType, http.MethodGet, "/event-types/:id", Organizer},
	{OpListEventTypes, http.MethodGet, "/event-types", Organizer},

	{OpGetSchedule, http.MethodGet, "/schedules/me", Organizer},
	{OpPutSchedule, http.MethodPut, "/schedules/me", Organizer},

	{OpRegisterCredential, http.MethodPost, "/credentials", Organizer},
	{OpListCredentials, http.MethodGet, "/credentials", Organizer},
	{OpListCalendars, http.MethodGet, "/credentials/:id/calendars", Organizer},
	{OpSetSelected, http.MethodPut, "/credentials/:id/selected-calendars", Organizer},

	{OpCreateBooking, http.MethodPost, "/bookings", Public},
	{OpGetBooking, http.MethodGet, "/bookings/:uid", Public},
	{OpCancelBooking, http.MethodPost, "/bookings/:uid/cancel", Public},
	{OpConfirmBooking, http.MethodPost, "/bookings/:uid/confirm", Organizer},
	{OpRejectBooking, http.MethodPost, "/bookings/:uid/reject", Organizer},
	{OpUpdateLocation, http.MethodPatch, "/bookings/:uid/location", Organizer},
	{OpGuestVideoToken, http.MethodGet, "/bookings/:uid/video-token", Public},
	{OpHostVideoToken, http.MethodGet, "/bookings/:uid/host-video-token", Organizer},
	{OpPaymentCallback, http.MethodPost, "/webhooks/payments", Public},

	{OpCreateSubscription, http.MethodPost, "/webhook-subscriptions", Organizer},
	{OpListSubscriptions, http.MethodGet, "/webhook-subscriptions", Organizer},
	{OpDeleteSubscription, http.MethodDelete, "/webhook-subscriptions/:id", Organizer},

	{OpRealtime, http.MethodGet, "/ws", Public},
}

// Registry holds the handler of every operation.
type Registry struct {
	handlers map[string]gin.HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]gin.HandlerFunc)}
}

// Handle registers the handler of an operation. Registering an operation twice is an error.
func (r *Registry) Handle(op string, h gin.HandlerFunc) error {
	if h == nil {
		return fmt.Errorf("operation %s: nil handler", op)
	}
	if _, dup := r.handlers[op]; dup {
		return fmt.Errorf("operation %s registered twice", op)
	}
	r.handlers[op] = h
	return nil
}

// MustHandle is Handle for wiring code that cannot continue on error.
func (r *Registry) MustHandle(op string, h gin.HandlerFunc) {
	if err := r.Handle(op, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler of an operation.
func (r *Registry) Lookup(op string) (gin.HandlerFunc, bool) {
	h, ok := r.handlers[op]
	return h, ok
}

// Mount adds every route in routes to router behind the guards of its access level. Routes whose
// operation has no handler, non-public routes without guards, and handlers no route uses are
// reported as an error.
func (r *Registry) Mount(router gin.IRoutes, guards Guards, routes []Route) error {
	used := make(map[string]bool, len(routes))
	var missing []string
	for _, rt := range routes {
		h, ok := r.handlers[rt.Operation]
		if !ok {
			missing = append(missing, rt.Operation)
			continue
		}
		if rt.Access != Public && len(guards[rt.Access]) == 0 {
			return fmt.Errorf("operation %s: no guard for its access level", rt.Operation)
		}
		used[rt.Operation] = true
		chain := append(append([]gin.HandlerFunc{}, guards[rt.Access]...), h)
		router.Handle(rt.Method, rt.Path, chain...)
	}
	if len(missing) > 0 {
		return fmt.Errorf("operations without handler: %v", missing)
	}
	var unused []string
	for op := range r.handlers {
		if !used[op] {
			unused = append(unused, op)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return fmt.Errorf("handlers without route: %v", unused)
	}
	return nil
}
