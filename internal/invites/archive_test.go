package invites

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-booking/backend/internal/models"
	"github.com/aura-booking/backend/pkg/queue"
)

type bookingMap map[string]*models.Booking

func (m bookingMap) GetByUID(_ context.Context, uid string) (*models.Booking, error) {
	b, ok := m[uid]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

type userMap map[uuid.UUID]*models.User

func (m userMap) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

type memObjects struct {
	puts map[string][]byte
	err  error
}

func (m *memObjects) PutInvite(_ context.Context, uid string, ics []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	key := "invites/" + uid + "/1.ics"
	m.puts[key] = ics
	return key, nil
}

func TestArchiveStoresRenderedInvite(t *testing.T) {
	b := sample()
	b.UserID = uuid.New()
	objects := &memObjects{puts: map[string][]byte{}}
	a := NewArchiver(bookingMap{b.UID: b}, userMap{b.UserID: {FullName: "Olga", Email: "olga@example.com"}}, objects, nil)
	a.now = func() time.Time { return start }

	key, err := a.Archive(context.Background(), queue.InviteArchivePayload{BookingUID: b.UID, Trigger: "BOOKING_CREATED"})
	require.NoError(t, err)
	assert.Equal(t, "invites/bk_42/1.ics", key)
	assert.Equal(t, Render(b, &models.User{FullName: "Olga", Email: "olga@example.com"}, start), objects.puts[key])
}

func TestArchiveWithoutOrganizer(t *testing.T) {
	b := sample()
	objects := &memObjects{puts: map[string][]byte{}}
	a := NewArchiver(bookingMap{b.UID: b}, userMap{}, objects, nil)

	_, err := a.Archive(context.Background(), queue.InviteArchivePayload{BookingUID: b.UID})
	require.NoError(t, err)
	assert.Len(t, objects.puts, 1)
}

func TestArchiveErrors(t *testing.T) {
	b := sample()
	a := NewArchiver(bookingMap{b.UID: b}, userMap{}, &memObjects{err: errors.New("s3 down")}, nil)

	_, err := a.Archive(context.Background(), queue.InviteArchivePayload{BookingUID: b.UID})
	assert.ErrorContains(t, err, "s3 down")
	_, err = a.Archive(context.Background(), queue.InviteArchivePayload{BookingUID: "missing"})
	assert.Error(t, err)
}
