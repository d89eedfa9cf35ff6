package invites

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/aura-booking/backend/internal/models"
)

var start = time.Date(2030, 3, 5, 10, 0, 0, 0, time.UTC)

func sample() *models.Booking {
	return &models.Booking{
		UID:       "bk_42",
		Title:     "Intro call; with Ada, Bob",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Status:    models.BookingStatusAccepted,
		Location:  "https://meet.example.com/r/42",
		Version:   3,
		Attendees: []models.Attendee{{Name: "Ada", Email: "ada@example.com"}},
	}
}

func unfold(ics []byte) string {
	return strings.ReplaceAll(string(ics), "\r\n ", "")
}

func TestRenderRequest(t *testing.T) {
	out := unfold(Render(sample(), &models.User{FullName: "Olga Host", Email: "olga@example.com"}, start.Add(-time.Hour)))

	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR\r\n"))
	assert.True(t, strings.HasSuffix(out, "END:VCALENDAR\r\n"))
	assert.Contains(t, out, "METHOD:REQUEST\r\n")
	assert.Contains(t, out, "UID:bk_42\r\n")
	assert.Contains(t, out, "SEQUENCE:3\r\n")
	assert.Contains(t, out, "DTSTART:20300305T100000Z\r\n")
	assert.Contains(t, out, "DTEND:20300305T103000Z\r\n")
	assert.Contains(t, out, "DTSTAMP:20300305T090000Z\r\n")
	assert.Contains(t, out, `SUMMARY:Intro call\; with Ada\, Bob`)
	assert.Contains(t, out, "STATUS:CONFIRMED\r\n")
	assert.Contains(t, out, `ORGANIZER;CN="Olga Host":mailto:olga@example.com`)
	assert.Contains(t, out, "PARTSTAT=ACCEPTED:mailto:ada@example.com")
}

func TestRenderCancel(t *testing.T) {
	b := sample()
	b.Status = models.BookingStatusCancelled
	out := unfold(Render(b, nil, start))
	assert.Contains(t, out, "METHOD:CANCEL\r\n")
	assert.Contains(t, out, "STATUS:CANCELLED\r\n")
	assert.Contains(t, out, "PARTSTAT=DECLINED")
	assert.NotContains(t, out, "ORGANIZER")
}

func TestRenderFoldsLongLines(t *testing.T) {
	b := sample()
	b.Description = strings.Repeat("über ", 40)
	out := string(Render(b, nil, start))

	for _, l := range strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(l), maxLine, l)
		assert.True(t, utf8.ValidString(l), "fold split a rune: %q", l)
	}
	assert.Contains(t, unfold([]byte(out)), "DESCRIPTION:"+b.Description+"\r\n")
}
