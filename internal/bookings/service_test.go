package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-booking/backend/internal/availability"
	"github.com/aura-booking/backend/internal/models"
)

var (
	tuesday10   = monday.Add(26 * time.Hour)
	tuesday14   = monday.Add(30 * time.Hour)
	wednesday10 = monday.Add(50 * time.Hour)
)

func TestCreateAcceptsAndWritesReferences(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Create(context.Background(), f.request(tuesday10, "ada@example.com"))
	require.NoError(t, err)
	assert.False(t, res.IntegrationsFailed)

	b := f.store.get(t, res.Booking.UID)
	assert.Equal(t, models.BookingStatusAccepted, b.Status)
	assert.Equal(t, f.organizer.ID, b.UserID)
	require.Len(t, b.References, 1)
	assert.Equal(t, "alpha_calendar", b.References[0].Type)
	assert.Equal(t, "evt-1", b.References[0].UID)
	assert.NotNil(t, b.References[0].CredentialID)

	assert.Equal(t, "create", f.cal.ops())
	sent := f.cal.last().event
	assert.Equal(t, f.organizer.Email, sent.Organizer.Email)
	require.Len(t, sent.Attendees, 1)
	assert.Equal(t, "ada@example.com", sent.Attendees[0].Email)
	assert.Equal(t, []models.TriggerEvent{models.TriggerBookingCreated}, f.emitted.triggers())
}

func TestCreateSameSlotTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	f.book(t, tuesday10, "ada@example.com")

	_, err := f.svc.Create(context.Background(), f.request(tuesday10, "bob@example.com"))
	assert.ErrorIs(t, err, ErrBookingConflict)
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, "create", f.cal.ops(), "no external call for the duplicate")
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	req := f.request(monday.Add(-time.Hour), "not-an-email")
	_, err := f.svc.Create(context.Background(), req)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "start")
	assert.Contains(t, ve.Fields, "email")
	assert.Zero(t, f.store.count())
}

func TestCreateUnknownEventType(t *testing.T) {
	f := newFixture(t)
	req := f.request(tuesday10, "ada@example.com")
	req.EventTypeID = uuid.New()
	_, err := f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, ErrEventTypeNotFound)
}

func TestCreateKeepsBookingWhenAllIntegrationsFail(t *testing.T) {
	f := newFixture(t)
	f.cal.failCreate = errors.New("provider down")

	res, err := f.svc.Create(context.Background(), f.request(tuesday10, "ada@example.com"))
	require.NoError(t, err)
	assert.True(t, res.IntegrationsFailed)

	b := f.store.get(t, res.Booking.UID)
	assert.Equal(t, models.BookingStatusAccepted, b.Status)
	assert.Empty(t, b.References)
	assert.Equal(t, []models.TriggerEvent{models.TriggerIntegrationFailed, models.TriggerBookingCreated}, f.emitted.triggers())
}

func TestCreateWithoutAvailableHost(t *testing.T) {
	f := newFixture(t)
	f.resolver.busy[f.organizer.ID] = true
	_, err := f.svc.Create(context.Background(), f.request(tuesday10, "ada@example.com"))
	assert.ErrorIs(t, err, availability.ErrNoAvailableHosts)
	assert.Zero(t, f.store.count())
}

func TestCreateEnforcesBookingLimit(t *testing.T) {
	f := newFixture(t)
	f.et.BookingLimits = map[models.LimitPeriod]int{models.LimitPerDay: 1}
	f.book(t, tuesday10, "ada@example.com")

	_, err := f.svc.Create(context.Background(), f.request(tuesday14, "bob@example.com"))
	assert.ErrorIs(t, err, ErrBookingLimitReached)

	_, err = f.svc.Create(context.Background(), f.request(wednesday10, "bob@example.com"))
	assert.NoError(t, err)
}

func TestCreateEnforcesDurationLimitAcrossSeries(t *testing.T) {
	f := newFixture(t)
	f.et.Recurring = &models.RecurringRule{Frequency: models.FrequencyDaily, Interval: 1, Count: 5}
	f.et.DurationLimits = map[models.LimitPeriod]int{models.LimitPerWeek: 60}

	req := f.request(tuesday10, "ada@example.com")
	req.RecurringCount = 3
	_, err := f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, ErrBookingLimitReached)
	assert.Zero(t, f.store.count())
}

func TestRequiresConfirmationFlow(t *testing.T) {
	f := newFixture(t)
	f.et.RequiresConfirmation = true
	ctx := context.Background()

	b := f.book(t, tuesday10, "ada@example.com")
	assert.Equal(t, models.BookingStatusPending, b.Status)
	assert.Empty(t, f.cal.ops())
	assert.Equal(t, []models.TriggerEvent{models.TriggerBookingRequested}, f.emitted.triggers())

	_, err := f.svc.Confirm(ctx, b.UID, uuid.New())
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.svc.Confirm(ctx, b.UID, f.organizer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, res.Booking.Status)
	assert.Equal(t, "create", f.cal.ops())
	assert.Len(t, f.store.get(t, b.UID).References, 1)
	assert.Equal(t, models.TriggerBookingCreated, f.emitted.lastEvent().Trigger)

	_, err = f.svc.Confirm(ctx, b.UID, f.organizer.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.et.RequiresConfirmation = true
	ctx := context.Background()

	b := f.book(t, tuesday10, "ada@example.com")
	rejected, err := f.svc.Reject(ctx, b.UID, f.organizer.ID, "double booked")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusRejected, rejected.Status)
	assert.Equal(t, models.TriggerBookingRejected, f.emitted.lastEvent().Trigger)

	again := f.book(t, tuesday10, "bob@example.com")
	assert.NotEqual(t, b.UID, again.UID)
}

func TestPaidBookingFlow(t *testing.T) {
	f := newFixture(t)
	f.et.Price = decimal.NewFromInt(50)
	f.et.Currency = "USD"
	ctx := context.Background()

	res, err := f.svc.Create(ctx, f.request(tuesday10, "ada@example.com"))
	require.NoError(t, err)
	require.NotNil(t, res.Payment)
	assert.True(t, res.Payment.Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, models.PaymentProviderStripe, res.Payment.Provider)
	assert.Equal(t, models.BookingStatusPending, res.Booking.Status)
	assert.Empty(t, f.cal.ops())
	assert.Equal(t, []models.TriggerEvent{models.TriggerBookingPaymentInitiated}, f.emitted.triggers())

	_, err = f.svc.Confirm(ctx, res.Booking.UID, f.organizer.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "unpaid bookings cannot be confirmed")

	paid, err := f.svc.MarkPaid(ctx, res.Booking.UID, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, paid.Booking.Status)

	stored := f.store.get(t, res.Booking.UID)
	assert.True(t, stored.Paid)
	require.Len(t, stored.Payments, 1)
	assert.Equal(t, models.PaymentStatusCompleted, stored.Payments[0].Status)
	assert.Equal(t, "pi_123", stored.Payments[0].ProviderPaymentID)
	assert.Equal(t, "create", f.cal.ops())

	_, err = f.svc.MarkPaid(ctx, res.Booking.UID, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "create", f.cal.ops(), "repeated callback is a no-op")
}

func TestPaidBookingAwaitingConfirmation(t *testing.T) {
	f := newFixture(t)
	f.et.Price = decimal.NewFromInt(20)
	f.et.RequiresConfirmation = true
	ctx := context.Background()

	b := f.book(t, tuesday10, "ada@example.com")
	res, err := f.svc.MarkPaid(ctx, b.UID, "pi_9")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, res.Booking.Status)
	assert.Equal(t, []models.TriggerEvent{models.TriggerBookingPaymentInitiated, models.TriggerBookingRequested}, f.emitted.triggers())

	confirmed, err := f.svc.Confirm(ctx, b.UID, f.organizer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, confirmed.Booking.Status)
}

func TestRescheduleTransfersReferences(t *testing.T) {
	f := newFixture(t)
	original := f.book(t, tuesday10, "ada@example.com")

	req := f.request(wednesday10, "")
	req.RescheduleUID = original.UID
	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)

	moved := f.store.get(t, res.Booking.UID)
	assert.Equal(t, models.BookingStatusAccepted, moved.Status)
	assert.True(t, moved.StartTime.Equal(wednesday10))
	require.NotNil(t, moved.FromReschedule)
	assert.Equal(t, original.UID, *moved.FromReschedule)
	require.Len(t, moved.References, 1)
	assert.Equal(t, "evt-1", moved.References[0].UID)
	require.Len(t, moved.Attendees, 1)
	assert.Equal(t, "ada@example.com", moved.Attendees[0].Email)

	old := f.store.get(t, original.UID)
	assert.Equal(t, models.BookingStatusCancelled, old.Status)
	assert.True(t, old.Rescheduled)
	assert.Empty(t, old.References, "a rescheduled booking owns no references")

	assert.Equal(t, "create,update", f.cal.ops())
	last := f.emitted.lastEvent()
	assert.Equal(t, models.TriggerBookingRescheduled, last.Trigger)
	assert.Equal(t, original.UID, last.Metadata["rescheduleUid"])
}

func TestConcurrentRescheduleLoses(t *testing.T) {
	f := newFixture(t)
	original := f.book(t, tuesday10, "ada@example.com")

	// Another request changes the booking between our read and our write.
	f.store.onGet = func() {
		f.store.mu.Lock()
		f.store.byUID(original.UID).Version++
		f.store.mu.Unlock()
	}
	req := f.request(wednesday10, "")
	req.RescheduleUID = original.UID
	_, err := f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	assert.Equal(t, 1, f.store.count())
	stored := f.store.get(t, original.UID)
	assert.Equal(t, models.BookingStatusAccepted, stored.Status)
	assert.Len(t, stored.References, 1)
	assert.Equal(t, "create", f.cal.ops())
}

func TestRescheduleCancelledBookingFails(t *testing.T) {
	f := newFixture(t)
	original := f.book(t, tuesday10, "ada@example.com")
	_, err := f.svc.Cancel(context.Background(), original.UID, CancelRequest{})
	require.NoError(t, err)

	req := f.request(wednesday10, "")
	req.RescheduleUID = original.UID
	_, err = f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRescheduleToAnotherHostMovesEvents(t *testing.T) {
	f := newFixture(t)
	second := f.addUser("Alan Turing")
	f.et.SchedulingType = models.SchedulingRoundRobin
	f.et.Hosts = []models.Host{{UserID: f.organizer.ID}, {UserID: second.ID}}

	original := f.book(t, tuesday10, "ada@example.com")
	f.resolver.busy[original.UserID] = true

	req := f.request(wednesday10, "")
	req.RescheduleUID = original.UID
	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, original.UserID, res.Booking.UserID)

	assert.Equal(t, "create,delete,create", f.cal.ops())
	moved := f.store.get(t, res.Booking.UID)
	require.Len(t, moved.References, 1)
	assert.Equal(t, f.creds[res.Booking.UserID][0].ID, *moved.References[0].CredentialID)
	assert.Empty(t, f.store.get(t, original.UID).References)
}

func TestCancelDeletesExternalEvents(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, tuesday10, "ada@example.com")

	cancelled, err := f.svc.Cancel(context.Background(), b.UID, CancelRequest{Reason: "sick"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)

	stored := f.store.get(t, b.UID)
	assert.Equal(t, "sick", stored.CancellationReason)
	assert.Empty(t, stored.References)
	assert.Equal(t, "create,delete", f.cal.ops())
	assert.Equal(t, models.TriggerBookingCancelled, f.emitted.lastEvent().Trigger)

	_, err = f.svc.Cancel(context.Background(), b.UID, CancelRequest{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSweepRetriesFailedDeletions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, tuesday10, "ada@example.com")

	f.cal.failDelete = errors.New("provider down")
	_, err := f.svc.Cancel(ctx, b.UID, CancelRequest{})
	require.NoError(t, err)
	assert.Len(t, f.store.get(t, b.UID).References, 1, "undeleted event stays referenced")

	released, err := f.svc.SweepStale(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, released, "inside the grace period")

	f.clock = f.clock.Add(time.Hour)
	f.cal.failDelete = nil
	released, err = f.svc.SweepStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Empty(t, f.store.get(t, b.UID).References)
	assert.Equal(t, "create,delete,delete", f.cal.ops())
}

func TestRecurringSeriesSharesExternalEvent(t *testing.T) {
	f := newFixture(t)
	f.et.Recurring = &models.RecurringRule{Frequency: models.FrequencyWeekly, Interval: 1, Count: 4}
	ctx := context.Background()

	req := f.request(tuesday10, "ada@example.com")
	req.RecurringCount = 3
	res, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Series, 3)

	assert.Equal(t, "create", f.cal.ops(), "one external event for the series")
	sent := f.cal.last().event
	require.NotNil(t, sent.RecurringEvent)
	assert.Equal(t, 3, sent.RecurringEvent.Count)

	for i, b := range res.Series {
		stored := f.store.get(t, b.UID)
		assert.True(t, stored.StartTime.Equal(tuesday10.AddDate(0, 0, 7*i)))
		require.NotNil(t, stored.RecurringEventID)
		assert.Equal(t, *res.Series[0].RecurringEventID, *stored.RecurringEventID)
		require.Len(t, stored.References, 1)
		assert.Equal(t, "evt-1", stored.References[0].UID)
	}
	assert.Len(t, f.emitted.lastEvent().Metadata["recurringBookingUids"], 3)

	// Cancelling one occurrence leaves the shared event to the others.
	_, err = f.svc.Cancel(ctx, res.Series[1].UID, CancelRequest{})
	require.NoError(t, err)
	assert.Equal(t, "create", f.cal.ops())
	assert.Empty(t, f.store.get(t, res.Series[1].UID).References)

	_, err = f.svc.Cancel(ctx, res.Series[0].UID, CancelRequest{AllRemaining: true})
	require.NoError(t, err)
	assert.Equal(t, "create,delete", f.cal.ops())
	for _, b := range res.Series {
		assert.Equal(t, models.BookingStatusCancelled, f.store.get(t, b.UID).Status)
	}
}

func TestRescheduleOneOccurrenceKeepsSeriesEvent(t *testing.T) {
	f := newFixture(t)
	f.et.Recurring = &models.RecurringRule{Frequency: models.FrequencyWeekly, Interval: 1, Count: 4}
	ctx := context.Background()

	req := f.request(tuesday10, "ada@example.com")
	req.RecurringCount = 3
	res, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Series, 3)
	second := res.Series[1]

	moveTo := wednesday10.AddDate(0, 0, 7)
	move := f.request(moveTo, "")
	move.RescheduleUID = second.UID
	moved, err := f.svc.Create(ctx, move)
	require.NoError(t, err)

	assert.Equal(t, "create,create", f.cal.ops(), "the series event is not rewritten")
	sent := f.cal.last().event
	assert.True(t, sent.StartTime.Equal(moveTo))
	assert.Nil(t, sent.RecurringEvent)

	fresh := f.store.get(t, moved.Booking.UID)
	assert.Nil(t, fresh.RecurringEventID)
	require.Len(t, fresh.References, 1)
	assert.Equal(t, "evt-2", fresh.References[0].UID)

	old := f.store.get(t, second.UID)
	assert.Equal(t, models.BookingStatusCancelled, old.Status)
	assert.Empty(t, old.References)
	for _, sib := range []*models.Booking{res.Series[0], res.Series[2]} {
		stored := f.store.get(t, sib.UID)
		assert.Equal(t, models.BookingStatusAccepted, stored.Status)
		assert.True(t, stored.StartTime.Equal(sib.StartTime))
		require.Len(t, stored.References, 1)
		assert.Equal(t, "evt-1", stored.References[0].UID)
	}

	// The remaining occurrences still release the series event together.
	_, err = f.svc.Cancel(ctx, res.Series[0].UID, CancelRequest{AllRemaining: true})
	require.NoError(t, err)
	assert.Equal(t, "create,create,delete", f.cal.ops())
	assert.Equal(t, "evt-1", f.cal.last().uid)
	assert.Equal(t, models.BookingStatusAccepted, f.store.get(t, moved.Booking.UID).Status)
}

func TestUpdateLocation(t *testing.T) {
	f := newFixture(t)
	f.et.Locations = []models.Location{{Type: "inPerson", Address: "1 Main St"}, {Type: "link", Link: "https://meet.example.com/x"}}
	ctx := context.Background()
	b := f.book(t, tuesday10, "ada@example.com")
	assert.Equal(t, "1 Main St", b.Location)

	_, err := f.svc.UpdateLocation(ctx, b.UID, uuid.New(), "link")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.UpdateLocation(ctx, b.UID, f.organizer.ID, "phone")
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	res, err := f.svc.UpdateLocation(ctx, b.UID, f.organizer.ID, "link")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/x", res.Booking.Location)
	assert.Equal(t, "create,update", f.cal.ops())
	assert.Equal(t, "https://meet.example.com/x", f.cal.last().event.Location)
	assert.Len(t, f.store.get(t, b.UID).References, 1)
}
