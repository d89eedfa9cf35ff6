package bookings

import (
	"context"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-booking/backend/internal/models"
)

func emails(b *models.Booking) []string {
	out := make([]string, len(b.Attendees))
	for i, a := range b.Attendees {
		out[i] = a.Email
	}
	sort.Strings(out)
	return out
}

func seatOf(t *testing.T, b *models.Booking, email string) string {
	t.Helper()
	for _, a := range b.Attendees {
		if a.Email == email {
			require.NotNil(t, a.Seat)
			return a.Seat.ReferenceUID
		}
	}
	t.Fatalf("%s holds no seat", email)
	return ""
}

func (f *fixture) rescheduleReq(uid string, seat string) *Request {
	req := f.request(wednesday10, "")
	req.RescheduleUID = uid
	req.SeatReferenceUID = seat
	return req
}

func TestSeatsShareOneBooking(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(2)
	ctx := context.Background()

	first := f.book(t, tuesday10, "alice@example.com")
	second := f.book(t, tuesday10, "bob@example.com")
	assert.Equal(t, first.UID, second.UID)

	stored := f.store.get(t, first.UID)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, emails(stored))
	assert.NotEqual(t, seatOf(t, stored, "alice@example.com"), seatOf(t, stored, "bob@example.com"))

	assert.Equal(t, "create,update", f.cal.ops())
	assert.Empty(t, f.cal.last().event.Attendees, "seated attendees are hidden from each other")

	_, err := f.svc.Create(ctx, f.request(tuesday10, "alice@example.com"))
	assert.ErrorIs(t, err, ErrBookingConflict)
	_, err = f.svc.Create(ctx, f.request(tuesday10, "carol@example.com"))
	assert.ErrorIs(t, err, ErrBookingFull)
}

func TestSeatedMoveInPlace(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(2)
	b := f.book(t, tuesday10, "alice@example.com")

	res, err := f.svc.Create(context.Background(), f.rescheduleReq(b.UID, ""))
	require.NoError(t, err)
	assert.Equal(t, b.UID, res.Booking.UID)

	stored := f.store.get(t, b.UID)
	assert.True(t, stored.StartTime.Equal(wednesday10))
	assert.Equal(t, models.BookingStatusAccepted, stored.Status)
	assert.Equal(t, b.Version+1, stored.Version)
	assert.Len(t, stored.References, 1)
	assert.Equal(t, "create,update", f.cal.ops())
}

func TestSeatedMergeMovesAttendees(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(3)

	a := f.book(t, tuesday10, "alice@example.com")
	f.book(t, tuesday10, "bob@example.com")
	target := f.book(t, wednesday10, "carol@example.com")
	f.book(t, wednesday10, "bob@example.com")

	res, err := f.svc.Create(context.Background(), f.rescheduleReq(a.UID, ""))
	require.NoError(t, err)
	assert.Equal(t, target.UID, res.Booking.UID)

	merged := f.store.get(t, target.UID)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com", "carol@example.com"}, emails(merged))
	assert.Len(t, merged.References, 1)

	old := f.store.get(t, a.UID)
	assert.Equal(t, models.BookingStatusCancelled, old.Status)
	assert.Empty(t, old.References)
	assert.Empty(t, old.Attendees)

	assert.Equal(t, "create,update,create,update,delete,update", f.cal.ops())
	last := f.emitted.lastEvent()
	assert.Equal(t, models.TriggerBookingRescheduled, last.Trigger)
	assert.Equal(t, a.UID, last.Metadata["rescheduleUid"])
}

func TestSeatedMergeOverCapacityChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(2)

	a := f.book(t, tuesday10, "alice@example.com")
	target := f.book(t, wednesday10, "carol@example.com")
	f.book(t, wednesday10, "dave@example.com")
	opsBefore := f.cal.ops()

	_, err := f.svc.Create(context.Background(), f.rescheduleReq(a.UID, ""))
	assert.ErrorIs(t, err, ErrBookingFull)

	old := f.store.get(t, a.UID)
	assert.Equal(t, models.BookingStatusAccepted, old.Status)
	assert.Equal(t, []string{"alice@example.com"}, emails(old))
	assert.Len(t, old.References, 1)
	assert.Len(t, f.store.get(t, target.UID).Attendees, 2)
	assert.Equal(t, opsBefore, f.cal.ops())
}

func TestSeatedMoveOneAttendeeToFreeSlot(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(3)

	a := f.book(t, tuesday10, "alice@example.com")
	f.book(t, tuesday10, "bob@example.com")
	seat := seatOf(t, f.store.get(t, a.UID), "bob@example.com")

	res, err := f.svc.Create(context.Background(), f.rescheduleReq(a.UID, seat))
	require.NoError(t, err)
	assert.NotEqual(t, a.UID, res.Booking.UID)

	fresh := f.store.get(t, res.Booking.UID)
	assert.True(t, fresh.StartTime.Equal(wednesday10))
	assert.Equal(t, []string{"bob@example.com"}, emails(fresh))
	assert.Equal(t, seat, seatOf(t, fresh, "bob@example.com"), "the seat moves with its attendee")
	assert.Len(t, fresh.References, 1)

	old := f.store.get(t, a.UID)
	assert.Equal(t, models.BookingStatusAccepted, old.Status)
	assert.Equal(t, []string{"alice@example.com"}, emails(old))
	assert.Equal(t, "create,update,create,update", f.cal.ops())
	assert.Equal(t, seat, f.emitted.lastEvent().Metadata["seatReferenceUid"])
}

func TestSeatedMoveLastAttendeeDeletesOriginal(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(2)

	a := f.book(t, tuesday10, "alice@example.com")
	target := f.book(t, wednesday10, "carol@example.com")
	seat := seatOf(t, f.store.get(t, a.UID), "alice@example.com")

	res, err := f.svc.Create(context.Background(), f.rescheduleReq(a.UID, seat))
	require.NoError(t, err)
	assert.Equal(t, target.UID, res.Booking.UID)
	assert.Equal(t, []string{"alice@example.com", "carol@example.com"}, emails(f.store.get(t, target.UID)))

	assert.Equal(t, 1, f.store.count(), "emptied booking is removed")
	assert.Equal(t, "create,create,update,delete", f.cal.ops())
}

func TestCancelOneSeat(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(2)

	a := f.book(t, tuesday10, "alice@example.com")
	f.book(t, tuesday10, "bob@example.com")
	seat := seatOf(t, f.store.get(t, a.UID), "bob@example.com")

	b, err := f.svc.Cancel(context.Background(), a.UID, CancelRequest{SeatReferenceUID: seat})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, b.Status)
	assert.Equal(t, []string{"alice@example.com"}, emails(f.store.get(t, a.UID)))
	assert.Equal(t, "create,update,update", f.cal.ops())
	assert.Equal(t, seat, f.emitted.lastEvent().Metadata["seatReferenceUid"])
}

// joinLate takes a seat of b directly in the store, as a concurrent booking would.
func (f *fixture) joinLate(t *testing.T, b *models.Booking, email string) {
	f.store.onMove = func() {
		a := &models.Attendee{Name: email, Email: email, TimeZone: "UTC", Seat: &models.BookingSeat{ReferenceUID: uuid.NewString()}}
		require.NoError(t, f.store.AddAttendee(context.Background(), b.ID, a, *f.et.SeatsPerTimeSlot))
	}
}

func TestSeatedMergeRecountsTargetSeats(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(2)

	a := f.book(t, tuesday10, "alice@example.com")
	target := f.book(t, wednesday10, "carol@example.com")
	opsBefore := f.cal.ops()
	f.joinLate(t, target, "dave@example.com")

	_, err := f.svc.Create(context.Background(), f.rescheduleReq(a.UID, ""))
	assert.ErrorIs(t, err, ErrBookingFull)

	old := f.store.get(t, a.UID)
	assert.Equal(t, models.BookingStatusAccepted, old.Status)
	assert.Equal(t, []string{"alice@example.com"}, emails(old))
	assert.Len(t, old.References, 1)
	assert.Equal(t, []string{"carol@example.com", "dave@example.com"}, emails(f.store.get(t, target.UID)))
	assert.Equal(t, opsBefore, f.cal.ops())
}

func TestSeatMoveRecountsTargetSeats(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(2)

	a := f.book(t, tuesday10, "alice@example.com")
	f.book(t, tuesday10, "bob@example.com")
	target := f.book(t, wednesday10, "carol@example.com")
	seat := seatOf(t, f.store.get(t, a.UID), "bob@example.com")
	f.joinLate(t, target, "dave@example.com")

	_, err := f.svc.Create(context.Background(), f.rescheduleReq(a.UID, seat))
	assert.ErrorIs(t, err, ErrBookingFull)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, emails(f.store.get(t, a.UID)))
	assert.Len(t, f.store.get(t, target.UID).Attendees, 2)
}

func TestCancelLastRemainingSeatCancelsBooking(t *testing.T) {
	f := newFixture(t)
	f.et.SeatsPerTimeSlot = seats(2)
	ctx := context.Background()

	a := f.book(t, tuesday10, "alice@example.com")
	f.book(t, tuesday10, "bob@example.com")
	stored := f.store.get(t, a.UID)
	bobSeat := seatOf(t, stored, "bob@example.com")
	alice := stored.AttendeeBySeat(seatOf(t, stored, "alice@example.com"))
	require.NotNil(t, alice)

	// Alice's seat is cancelled concurrently, after this request read the booking.
	f.store.onGet = func() {
		_, err := f.store.RemoveAttendee(ctx, a.ID, alice.ID)
		require.NoError(t, err)
	}
	_, err := f.svc.Cancel(ctx, a.UID, CancelRequest{SeatReferenceUID: bobSeat})
	require.NoError(t, err)

	final := f.store.get(t, a.UID)
	assert.Equal(t, models.BookingStatusCancelled, final.Status)
	assert.Empty(t, final.Attendees)
	assert.Empty(t, final.References)
	assert.Equal(t, "create,update,delete", f.cal.ops())
}
