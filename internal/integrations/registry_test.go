package integrations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-booking/backend/internal/models"
)

type fakeCalendar struct {
	busy []models.BusyInterval
	err  error
	seen []models.SelectedCalendar
}

func (f *fakeCalendar) CreateEvent(context.Context, *CalendarEvent, uuid.UUID) (*ProviderEvent, error) {
	return &ProviderEvent{ID: "x"}, nil
}
func (f *fakeCalendar) UpdateEvent(context.Context, string, *CalendarEvent, string) (Outcome, error) {
	return Single(ProviderEvent{ID: "x"}), nil
}
func (f *fakeCalendar) DeleteEvent(context.Context, string, *CalendarEvent, string) error { return nil }
func (f *fakeCalendar) GetAvailability(_ context.Context, _, _ time.Time, sel []models.SelectedCalendar) ([]models.BusyInterval, error) {
	f.seen = append(f.seen, sel...)
	return f.busy, f.err
}
func (f *fakeCalendar) ListCalendars(context.Context) ([]IntegrationCalendar, error) { return nil, nil }

type fakeVideo struct{}

func (fakeVideo) CreateMeeting(context.Context, *CalendarEvent) (*ProviderEvent, error) {
	return &ProviderEvent{ID: "room"}, nil
}
func (fakeVideo) UpdateMeeting(context.Context, models.PartialReference, *CalendarEvent) (*ProviderEvent, error) {
	return &ProviderEvent{ID: "room"}, nil
}
func (fakeVideo) DeleteMeeting(context.Context, string) error { return nil }

func calendarApp(typ string, adapter CalendarAdapter) App {
	return App{Type: typ, Kind: KindCalendar, NewCalendar: func(models.Credential) (CalendarAdapter, error) { return adapter, nil }}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(calendarApp("acme_calendar", &fakeCalendar{})))
	assert.Error(t, r.Register(calendarApp("acme_calendar", &fakeCalendar{})), "duplicate")
	assert.Error(t, r.Register(calendarApp("acme", &fakeCalendar{})), "calendar types need the suffix")
	assert.Error(t, r.Register(App{Type: "meet_video", Kind: KindVideo}), "video factory required")

	_, err := r.Calendar(models.Credential{Type: "nope_calendar"})
	assert.ErrorIs(t, err, ErrUnknownApp)
}

func TestRegistryLocations(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(App{
		Type: "meet_video", Kind: KindVideo, Dedicated: true, Global: true,
		NewVideo: func(models.Credential) (VideoAdapter, error) { return fakeVideo{}, nil },
	}))
	require.NoError(t, r.Register(calendarApp("acme_calendar", &fakeCalendar{})))
	require.NoError(t, r.RegisterDynamicMeet("integrations:acme_video", "acme_calendar"))
	assert.Error(t, r.RegisterDynamicMeet("integrations:x_video", "missing_calendar"))

	assert.True(t, r.IsDedicatedLocation("integrations:meet_video"))
	assert.False(t, r.IsDedicatedLocation("inPerson"))
	assert.False(t, r.IsDedicatedLocation("integrations:acme_calendar"))

	assert.True(t, r.KnownLocation("inPerson"))
	assert.True(t, r.KnownLocation("integrations:meet_video"))
	assert.True(t, r.KnownLocation("integrations:acme_video"))
	assert.False(t, r.KnownLocation("integrations:acme_calendar"))
	assert.False(t, r.KnownLocation("integrations:unknown"))

	calType, ok := r.DynamicMeetCalendar("integrations:acme_video")
	assert.True(t, ok)
	assert.Equal(t, "acme_calendar", calType)

	cred, ok := r.GlobalCredential("meet_video")
	require.True(t, ok)
	_, err := r.Video(cred)
	assert.NoError(t, err)
	_, err = r.Calendar(cred)
	assert.ErrorIs(t, err, ErrWrongKind)
	_, ok = r.GlobalCredential("acme_calendar")
	assert.False(t, ok)
}

func TestOutcome(t *testing.T) {
	s := Single(ProviderEvent{ID: "a"})
	assert.False(t, s.IsMultiple())
	assert.Len(t, s.Events(), 1)

	m := Multiple([]ProviderEvent{{ID: "a"}, {ID: "b"}})
	assert.True(t, m.IsMultiple())
	first, ok := m.First()
	require.True(t, ok)
	assert.Equal(t, "a", first.ID)

	var zero Outcome
	assert.True(t, zero.IsZero())
	_, ok = zero.First()
	assert.False(t, ok)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := NewBreaker("acme_calendar")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, b.State())
	called := false
	assert.ErrorIs(t, b.Execute(func() error { called = true; return nil }), ErrBreakerOpen)
	assert.False(t, called)

	now = now.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("acme_calendar")
	now := time.Now()
	b.now = func() time.Time { return now }
	for i := 0; i < 5; i++ {
		_ = b.Execute(func() error { return errors.New("x") })
	}
	now = now.Add(time.Minute)
	_ = b.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakersArePerCredential(t *testing.T) {
	r := NewRegistry()
	a := models.Credential{ID: uuid.New(), Type: "acme_calendar"}
	b := models.Credential{ID: uuid.New(), Type: "acme_calendar"}
	global := models.Credential{Type: "acme_video"}

	for i := 0; i < 5; i++ {
		_ = r.Breaker(a).Execute(func() error { return errors.New("invalid_grant") })
	}
	assert.Equal(t, StateOpen, r.Breaker(a).State())
	assert.Equal(t, StateClosed, r.Breaker(b).State())
	assert.NoError(t, r.Breaker(b).Execute(func() error { return nil }))
	assert.Same(t, r.Breaker(global), r.Breaker(models.Credential{Type: "acme_video"}))
	assert.Equal(t, "acme_video", BreakerKey(global))
	assert.Equal(t, "acme_calendar:"+a.ID.String(), r.Breaker(a).Name())
}

type credList []models.Credential

func (c credList) ListByUser(context.Context, uuid.UUID) ([]models.Credential, error) { return c, nil }

type selList []models.SelectedCalendar

func (s selList) ListSelected(context.Context, uuid.UUID) ([]models.SelectedCalendar, error) {
	return s, nil
}

func TestBusyCollector(t *testing.T) {
	good := &fakeCalendar{busy: []models.BusyInterval{{Start: time.Unix(0, 0), End: time.Unix(3600, 0)}}}
	broken := &fakeCalendar{err: errors.New("provider down")}
	unselected := &fakeCalendar{busy: []models.BusyInterval{{Start: time.Unix(0, 0), End: time.Unix(60, 0)}}}

	r := NewRegistry()
	require.NoError(t, r.Register(calendarApp("good_calendar", good)))
	require.NoError(t, r.Register(calendarApp("broken_calendar", broken)))
	require.NoError(t, r.Register(calendarApp("quiet_calendar", unselected)))

	credGood := models.Credential{ID: uuid.New(), Type: "good_calendar"}
	credBroken := models.Credential{ID: uuid.New(), Type: "broken_calendar"}
	credQuiet := models.Credential{ID: uuid.New(), Type: "quiet_calendar"}
	credInvalid := models.Credential{ID: uuid.New(), Type: "good_calendar", Invalid: true}

	c := NewBusyCollector(r,
		credList{credGood, credBroken, credQuiet, credInvalid},
		selList{
			{CredentialID: credGood.ID, ExternalID: "primary"},
			{CredentialID: credBroken.ID, ExternalID: "primary"},
			{CredentialID: credInvalid.ID, ExternalID: "other"},
		}, nil)

	busy, err := c.CalendarBusy(context.Background(), uuid.New(), time.Unix(0, 0), time.Unix(86400, 0))
	require.NoError(t, err)
	assert.Len(t, busy, 1)
	assert.Len(t, good.seen, 1)
	assert.Equal(t, "primary", good.seen[0].ExternalID)
	assert.Empty(t, unselected.seen)
}

func TestExternalCalendarIDPrefersCredential(t *testing.T) {
	id := uuid.New()
	evt := &CalendarEvent{DestinationCalendars: []models.DestinationCalendar{
		{Integration: "acme_calendar", ExternalID: "generic"},
		{Integration: "acme_calendar", ExternalID: "bound", CredentialID: &id},
	}}
	assert.Equal(t, "bound", evt.ExternalCalendarID(id, "acme_calendar"))
	assert.Equal(t, "generic", evt.ExternalCalendarID(uuid.New(), "acme_calendar"))
	assert.Equal(t, "", evt.ExternalCalendarID(uuid.New(), "other_calendar"))
}
