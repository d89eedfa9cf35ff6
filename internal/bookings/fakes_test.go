package bookings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aura-booking/backend/internal/availability"
	"github.com/aura-booking/backend/internal/eventmanager"
	"github.com/aura-booking/backend/internal/events"
	"github.com/aura-booking/backend/internal/eventtypes"
	"github.com/aura-booking/backend/internal/hosts"
	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/models"
)

// memStore is an in-memory Store with the same compare-and-swap rules as the Postgres one.
type memStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*models.Booking
	now    func() time.Time
	onGet  func()
	onMove func()
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{rows: map[uuid.UUID]*models.Booking{}, now: now}
}

func clone(b *models.Booking) *models.Booking {
	c := *b
	c.HostIDs = append([]uuid.UUID(nil), b.HostIDs...)
	c.References = append([]models.BookingReference(nil), b.References...)
	c.Payments = append([]models.Payment(nil), b.Payments...)
	c.Attendees = make([]models.Attendee, len(b.Attendees))
	for i, a := range b.Attendees {
		if a.Seat != nil {
			seat := *a.Seat
			a.Seat = &seat
		}
		c.Attendees[i] = a
	}
	return &c
}

func (m *memStore) byUID(uid string) *models.Booking {
	for _, b := range m.rows {
		if b.UID == uid {
			return b
		}
	}
	return nil
}

func (m *memStore) GetByUID(_ context.Context, uid string) (*models.Booking, error) {
	m.mu.Lock()
	b := m.byUID(uid)
	var out *models.Booking
	if b != nil {
		out = clone(b)
	}
	hook := m.onGet
	m.onGet = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if out == nil {
		return nil, ErrBookingNotFound
	}
	return out, nil
}

func (m *memStore) FindByUID(ctx context.Context, uid string) (*models.Booking, error) {
	b, err := m.GetByUID(ctx, uid)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, nil
	}
	return b, err
}

func (m *memStore) FindAtSlot(_ context.Context, eventTypeID uuid.UUID, start time.Time) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.rows {
		if b.IsLive() && b.EventTypeID != nil && *b.EventTypeID == eventTypeID && b.StartTime.Equal(start) {
			return clone(b), nil
		}
	}
	return nil, nil
}

func (m *memStore) sorted(keep func(*models.Booking) bool) []models.Booking {
	var out []models.Booking
	for _, b := range m.rows {
		if keep(b) {
			out = append(out, *clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *memStore) ListRecurring(_ context.Context, recurringEventID string) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(b *models.Booking) bool {
		return b.RecurringEventID != nil && *b.RecurringEventID == recurringEventID
	}), nil
}

func (m *memStore) ListCancelledWithReferences(_ context.Context, olderThan time.Time, limit int) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(b *models.Booking) bool {
		return b.Status == models.BookingStatusCancelled && len(b.References) > 0 && !b.UpdatedAt.After(olderThan)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hostedBy(b *models.Booking, userID uuid.UUID) bool {
	if b.UserID == userID {
		return true
	}
	for _, id := range b.HostIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (m *memStore) CountForHost(_ context.Context, userID uuid.UUID, from, to time.Time, excludeUID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count, minutes := 0, 0
	for _, b := range m.rows {
		if !b.IsLive() || b.UID == excludeUID || !hostedBy(b, userID) {
			continue
		}
		if b.StartTime.Before(from) || !b.StartTime.Before(to) {
			continue
		}
		count++
		minutes += int(b.Duration() / time.Minute)
	}
	return count, minutes, nil
}

func (m *memStore) insert(b *models.Booking) error {
	for _, row := range m.rows {
		if row.UID == b.UID || (b.IdempotencyKey != "" && row.IdempotencyKey == b.IdempotencyKey) {
			return ErrBookingConflict
		}
	}
	b.ID = uuid.New()
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = m.now(), m.now()
	for i := range b.Attendees {
		a := &b.Attendees[i]
		a.ID, a.BookingID = uuid.New(), b.ID
		if a.Seat != nil {
			a.Seat.ID, a.Seat.BookingID, a.Seat.AttendeeID = uuid.New(), b.ID, a.ID
		}
	}
	m.rows[b.ID] = clone(b)
	return nil
}

func (m *memStore) Create(_ context.Context, bookings []*models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := map[string]bool{}
	for _, b := range bookings {
		if keys[b.IdempotencyKey] {
			return ErrBookingConflict
		}
		keys[b.IdempotencyKey] = true
		for _, row := range m.rows {
			if row.IdempotencyKey != "" && row.IdempotencyKey == b.IdempotencyKey {
				return ErrBookingConflict
			}
		}
	}
	for _, b := range bookings {
		if err := m.insert(b); err != nil {
			return err
		}
	}
	return nil
}

// mutate applies fn to the stored row when b holds its current version.
func (m *memStore) mutate(b *models.Booking, fn func(row *models.Booking)) error {
	row, ok := m.rows[b.ID]
	if !ok || row.Version != b.Version {
		return ErrConcurrentModification
	}
	fn(row)
	row.Version++
	row.UpdatedAt = m.now()
	fn(b)
	b.Version = row.Version
	b.UpdatedAt = row.UpdatedAt
	return nil
}

func (m *memStore) CreateRescheduled(_ context.Context, b, original *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[original.ID]; !ok || row.Version != original.Version {
		return ErrConcurrentModification
	}
	if err := m.insert(b); err != nil {
		return err
	}
	return m.mutate(original, func(row *models.Booking) {
		row.Status = models.BookingStatusCancelled
		row.Rescheduled = true
		row.IdempotencyKey = ""
	})
}

func (m *memStore) UpdateTimes(_ context.Context, b *models.Booking, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(b, func(row *models.Booking) { row.StartTime, row.EndTime = start, end })
}

func (m *memStore) SetStatus(_ context.Context, b *models.Booking, status models.BookingStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(b, func(row *models.Booking) {
		row.Status, row.CancellationReason = status, reason
		if status == models.BookingStatusCancelled || status == models.BookingStatusRejected {
			row.IdempotencyKey = ""
		}
	})
}

func (m *memStore) SetLocation(_ context.Context, b *models.Booking, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(b, func(row *models.Booking) { row.Location = location })
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memStore) ReplaceReferences(_ context.Context, bookingID uuid.UUID, refs []models.PartialReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[bookingID]
	if !ok {
		return ErrBookingNotFound
	}
	row.References = nil
	for _, r := range refs {
		row.References = append(row.References, models.BookingReference{
			ID: uuid.New(), BookingID: bookingID, Type: r.Type, UID: r.UID, MeetingID: r.MeetingID,
			MeetingPassword: r.MeetingPassword, MeetingURL: r.MeetingURL,
			ExternalCalendarID: r.ExternalCalendarID, CredentialID: r.CredentialID,
		})
	}
	return nil
}

func (m *memStore) AddAttendee(_ context.Context, bookingID uuid.UUID, a *models.Attendee, capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[bookingID]
	if !ok {
		return ErrBookingNotFound
	}
	if len(row.Attendees) >= capacity {
		return ErrBookingFull
	}
	if row.HasAttendee(a.Email) {
		return ErrBookingConflict
	}
	a.ID, a.BookingID = uuid.New(), bookingID
	if a.Seat != nil {
		a.Seat.ID, a.Seat.BookingID, a.Seat.AttendeeID = uuid.New(), bookingID, a.ID
	}
	row.Attendees = append(row.Attendees, *a)
	return nil
}

func (m *memStore) MoveAttendees(_ context.Context, from, to uuid.UUID, move, remove []uuid.UUID, capacity int) (int, error) {
	m.mu.Lock()
	hook := m.onMove
	m.onMove = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst := m.rows[from], m.rows[to]
	if src == nil || dst == nil {
		return 0, ErrBookingNotFound
	}
	in := func(id uuid.UUID, ids []uuid.UUID) bool {
		for _, x := range ids {
			if x == id {
				return true
			}
		}
		return false
	}
	if len(move) > 0 && len(dst.Attendees)+len(move) > capacity {
		return 0, ErrBookingFull
	}
	var kept []models.Attendee
	for _, a := range src.Attendees {
		switch {
		case in(a.ID, move):
			a.BookingID = to
			if a.Seat != nil {
				a.Seat.BookingID = to
			}
			dst.Attendees = append(dst.Attendees, a)
		case in(a.ID, remove):
		default:
			kept = append(kept, a)
		}
	}
	src.Attendees = kept
	return len(kept), nil
}

func (m *memStore) RemoveAttendee(_ context.Context, bookingID, attendeeID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[bookingID]
	if !ok {
		return 0, ErrBookingNotFound
	}
	for i, a := range row.Attendees {
		if a.ID == attendeeID {
			row.Attendees = append(row.Attendees[:i], row.Attendees[i+1:]...)
			return len(row.Attendees), nil
		}
	}
	return 0, ErrBookingNotFound
}

func (m *memStore) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[p.BookingID]
	if !ok {
		return ErrBookingNotFound
	}
	p.ID = uuid.New()
	row.Payments = append(row.Payments, *p)
	return nil
}

func (m *memStore) MovePayments(_ context.Context, fromBookingID, toBookingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst := m.rows[fromBookingID], m.rows[toBookingID]
	if src == nil || dst == nil {
		return ErrBookingNotFound
	}
	for _, p := range src.Payments {
		p.BookingID = toBookingID
		dst.Payments = append(dst.Payments, p)
	}
	src.Payments = nil
	return nil
}

func (m *memStore) MarkPaid(_ context.Context, b *models.Booking, paymentID uuid.UUID, providerPaymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(b, func(row *models.Booking) {
		row.Paid = true
		for i := range row.Payments {
			if row.Payments[i].ID == paymentID {
				row.Payments[i].Status = models.PaymentStatusCompleted
				row.Payments[i].ProviderPaymentID = providerPaymentID
			}
		}
	})
}

func (m *memStore) get(t *testing.T, uid string) *models.Booking {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.byUID(uid)
	require.NotNil(t, b, "booking %s", uid)
	return clone(b)
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memEventTypes struct {
	types map[uuid.UUID]*models.EventType
	users map[uuid.UUID]models.User
}

func (f *memEventTypes) GetByID(_ context.Context, id uuid.UUID) (*models.EventType, error) {
	et, ok := f.types[id]
	if !ok {
		return nil, eventtypes.ErrNotFound
	}
	return et, nil
}

func (f *memEventTypes) HostUsers(_ context.Context, e *models.EventType) ([]models.HostUser, error) {
	if len(e.Hosts) == 0 {
		return []models.HostUser{{User: f.users[e.OwnerID], IsFixed: true}}, nil
	}
	return eventtypes.JoinHosts(e.Hosts, f.users), nil
}

func (f *memEventTypes) ListByIDs(_ context.Context, ids []uuid.UUID) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type memCredentials map[uuid.UUID][]models.Credential

func (f memCredentials) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Credential, error) {
	return f[userID], nil
}

func (f memCredentials) Get(_ context.Context, id uuid.UUID) (*models.Credential, error) {
	for _, list := range f {
		for _, c := range list {
			if c.ID == id {
				return &c, nil
			}
		}
	}
	return nil, errors.New("credential not found")
}

// busyResolver treats every host in busy as unavailable.
type busyResolver struct {
	busy map[uuid.UUID]bool
}

func (r *busyResolver) Resolve(_ context.Context, _ *models.EventType, candidates []models.HostUser, _ availability.Window, _ *availability.RecurringContext, _ ...availability.Option) ([]models.HostUser, error) {
	var out []models.HostUser
	for _, c := range candidates {
		if !r.busy[c.User.ID] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, availability.ErrNoAvailableHosts
	}
	return out, nil
}

type calendarCall struct {
	op    string
	uid   string
	event *integrations.CalendarEvent
}

type fakeCalendar struct {
	mu         sync.Mutex
	calls      []calendarCall
	seq        int
	failCreate error
	failDelete error
}

func (f *fakeCalendar) CreateEvent(_ context.Context, evt *integrations.CalendarEvent, _ uuid.UUID) (*integrations.ProviderEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, calendarCall{op: "create", event: evt})
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.seq++
	return &integrations.ProviderEvent{Type: "alpha_calendar", ID: fmt.Sprintf("evt-%d", f.seq)}, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, uid string, evt *integrations.CalendarEvent, _ string) (integrations.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, calendarCall{op: "update", uid: uid, event: evt})
	return integrations.Single(integrations.ProviderEvent{Type: "alpha_calendar", ID: uid}), nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, uid string, _ *integrations.CalendarEvent, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, calendarCall{op: "delete", uid: uid})
	return f.failDelete
}

func (f *fakeCalendar) GetAvailability(context.Context, time.Time, time.Time, []models.SelectedCalendar) ([]models.BusyInterval, error) {
	return nil, nil
}

func (f *fakeCalendar) ListCalendars(context.Context) ([]integrations.IntegrationCalendar, error) {
	return nil, nil
}

func (f *fakeCalendar) ops() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
	}
	return strings.Join(out, ",")
}

func (f *fakeCalendar) last() calendarCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) triggers() []models.TriggerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TriggerEvent, len(r.events))
	for i, e := range r.events {
		out[i] = e.Trigger
	}
	return out
}

func (r *recorder) lastEvent() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	clock     time.Time
	store     *memStore
	types     *memEventTypes
	creds     memCredentials
	resolver  *busyResolver
	cal       *fakeCalendar
	emitted   *recorder
	svc       *Service
	et        *models.EventType
	organizer models.User
}

// monday is a Monday morning; the fixture's slots are on the following days.
var monday = time.Date(2030, 3, 4, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    monday,
		types:    &memEventTypes{types: map[uuid.UUID]*models.EventType{}, users: map[uuid.UUID]models.User{}},
		creds:    memCredentials{},
		resolver: &busyResolver{busy: map[uuid.UUID]bool{}},
		cal:      &fakeCalendar{},
		emitted:  &recorder{},
	}
	now := func() time.Time { return f.clock }
	f.store = newMemStore(now)

	f.organizer = f.addUser("Grace Hopper")
	f.et = &models.EventType{
		ID:             uuid.New(),
		OwnerID:        f.organizer.ID,
		Slug:           "intro",
		Title:          "Intro",
		Length:         30,
		SchedulingType: models.SchedulingIndividual,
	}
	f.types.types[f.et.ID] = f.et

	registry := integrations.NewRegistry()
	require.NoError(t, registry.Register(integrations.App{
		Type: "alpha_calendar", Name: "Alpha", Kind: integrations.KindCalendar,
		NewCalendar: func(models.Credential) (integrations.CalendarAdapter, error) { return f.cal, nil },
	}))
	em := eventmanager.New(registry, f.creds, f.store, f.store, eventmanager.Options{CallTimeout: time.Second}, nil)

	f.svc = NewService(Deps{
		Store:       f.store,
		EventTypes:  f.types,
		Users:       f.types,
		Credentials: f.creds,
		Resolver:    f.resolver,
		Policy:      hosts.NewPolicy(nil),
		Events:      em,
		Emitter:     f.emitted,
		Now:         now,
	})
	return f
}

func (f *fixture) addUser(name string) models.User {
	u := models.User{
		ID:       uuid.New(),
		FullName: name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		TimeZone: "UTC",
	}
	f.types.users[u.ID] = u
	f.creds[u.ID] = []models.Credential{{ID: uuid.New(), UserID: u.ID, Type: "alpha_calendar"}}
	return u
}

func (f *fixture) request(start time.Time, email string) *Request {
	return &Request{
		EventTypeID: f.et.ID,
		Start:       start,
		End:         start.Add(f.et.Duration()),
		Name:        "Booker " + email,
		Email:       email,
		TimeZone:    "UTC",
	}
}

func (f *fixture) book(t *testing.T, start time.Time, email string) *models.Booking {
	t.Helper()
	res, err := f.svc.Create(context.Background(), f.request(start, email))
	require.NoError(t, err)
	return res.Booking
}

func seats(n int) *int { return &n }
