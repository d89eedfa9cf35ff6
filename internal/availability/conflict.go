package availability

import (
	"time"

	"github.com/aura-booking/backend/internal/models"
)

// Conflicts reports whether a slot starting at t and lasting length collides with busy.
// A slot conflicts when its start falls in [busyStart, busyEnd), its end falls in
// (busyStart, busyEnd), or the busy interval starts strictly inside the slot.
func Conflicts(busy models.BusyInterval, t time.Time, length time.Duration) bool {
	end := t.Add(length)
	if !t.Before(busy.Start) && t.Before(busy.End) {
		return true
	}
	if end.After(busy.Start) && end.Before(busy.End) {
		return true
	}
	return busy.Start.After(t) && busy.Start.Before(end)
}

// FirstConflict returns the first busy interval colliding with the slot, if any.
func FirstConflict(busy []models.BusyInterval, t time.Time, length time.Duration) (models.BusyInterval, bool) {
	for _, b := range busy {
		if Conflicts(b, t, length) {
			return b, true
		}
	}
	return models.BusyInterval{}, false
}

// withBuffers widens busy intervals so the new slot keeps its before/after buffers free.
func withBuffers(busy []models.BusyInterval, before, after time.Duration) []models.BusyInterval {
	if before == 0 && after == 0 {
		return busy
	}
	out := make([]models.BusyInterval, len(busy))
	for i, b := range busy {
		out[i] = models.BusyInterval{
			Start:  b.Start.Add(-after),
			End:    b.End.Add(before),
			Source: b.Source,
		}
	}
	return out
}
