package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aura-booking/backend/internal/models"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2024-01-08 "+hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func busy(from, to string) models.BusyInterval {
	return models.BusyInterval{Start: at(from), End: at(to)}
}

func TestConflicts(t *testing.T) {
	half := 30 * time.Minute
	tests := []struct {
		name  string
		busy  models.BusyInterval
		start string
		want  bool
	}{
		{"start inside busy", busy("09:00", "09:45"), "09:30", true},
		{"start equals busy start", busy("09:30", "10:00"), "09:30", true},
		{"end inside busy", busy("09:45", "11:00"), "09:30", true},
		{"busy starts inside slot", busy("09:40", "09:50"), "09:30", true},
		{"busy encloses slot", busy("08:00", "12:00"), "09:30", true},
		{"adjacent before", busy("09:00", "09:30"), "09:30", false},
		{"adjacent after", busy("10:00", "10:30"), "09:30", false},
		{"disjoint", busy("13:00", "14:00"), "09:30", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Conflicts(tt.busy, at(tt.start), half))
		})
	}
}

func TestWithBuffersWidensBusy(t *testing.T) {
	out := withBuffers([]models.BusyInterval{busy("10:00", "10:30")}, 15*time.Minute, 10*time.Minute)
	assert.Equal(t, at("09:50"), out[0].Start)
	assert.Equal(t, at("10:45"), out[0].End)

	// slot 10:30-11:00 now collides because of the 15 minute before-buffer
	assert.True(t, Conflicts(out[0], at("10:30"), 30*time.Minute))
}
