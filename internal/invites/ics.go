// Package invites renders bookings as iCalendar invites and archives every revision to object
// storage so attendees can download the version they were sent.
package invites

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/aura-booking/backend/internal/models"
)

const (
	prodID    = "-//Aura Booking//Bookings//EN"
	stampTime = "20060102T150405Z"
	// maxLine is the RFC 5545 line length limit in octets, CRLF excluded.
	maxLine = 75
)

// Method is the iTIP method of an invite.
type Method string

const (
	MethodRequest Method = "REQUEST"
	MethodCancel  Method = "CANCEL"
)

// MethodFor returns the method matching a booking's state.
func MethodFor(b *models.Booking) Method {
	if b.IsLive() {
		return MethodRequest
	}
	return MethodCancel
}

func status(b *models.Booking) string {
	switch b.Status {
	case models.BookingStatusAccepted:
		return "CONFIRMED"
	case models.BookingStatusPending:
		return "TENTATIVE"
	}
	return "CANCELLED"
}

var escaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)

func escape(s string) string {
	return escaper.Replace(s)
}

type writer struct {
	buf bytes.Buffer
}

// line writes one content line, folding it at maxLine octets without splitting UTF-8 sequences.
func (w *writer) line(name, value string) {
	s := name + ":" + value
	first := true
	for len(s) > 0 {
		limit := maxLine
		if !first {
			limit--
			w.buf.WriteByte(' ')
		}
		if len(s) <= limit {
			w.buf.WriteString(s)
			break
		}
		cut := limit
		for cut > 0 && s[cut]&0xC0 == 0x80 {
			cut--
		}
		w.buf.WriteString(s[:cut])
		w.buf.WriteString("\r\n")
		s = s[cut:]
		first = false
	}
	w.buf.WriteString("\r\n")
}

func utc(t time.Time) string {
	return t.UTC().Format(stampTime)
}

// Render returns the .ics document for a booking. SEQUENCE follows the booking version so
// calendar clients replace older revisions.
func Render(b *models.Booking, organizer *models.User, now time.Time) []byte {
	method := MethodFor(b)
	w := &writer{}
	w.line("BEGIN", "VCALENDAR")
	w.line("VERSION", "2.0")
	w.line("PRODID", prodID)
	w.line("CALSCALE", "GREGORIAN")
	w.line("METHOD", string(method))
	w.line("BEGIN", "VEVENT")
	w.line("UID", b.UID)
	w.line("SEQUENCE", fmt.Sprint(b.Version))
	w.line("DTSTAMP", utc(now))
	w.line("DTSTART", utc(b.StartTime))
	w.line("DTEND", utc(b.EndTime))
	w.line("SUMMARY", escape(b.Title))
	if b.Description != "" {
		w.line("DESCRIPTION", escape(b.Description))
	}
	if b.Location != "" {
		w.line("LOCATION", escape(b.Location))
	}
	w.line("STATUS", status(b))
	if organizer != nil {
		w.line(fmt.Sprintf("ORGANIZER;CN=%q", organizer.FullName), "mailto:"+organizer.Email)
	}
	for _, a := range b.Attendees {
		partstat := "ACCEPTED"
		if method == MethodCancel {
			partstat = "DECLINED"
		}
		w.line(fmt.Sprintf("ATTENDEE;CN=%q;ROLE=REQ-PARTICIPANT;PARTSTAT=%s", a.Name, partstat), "mailto:"+a.Email)
	}
	w.line("END", "VEVENT")
	w.line("END", "VCALENDAR")
	return w.buf.Bytes()
}
