package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-booking/backend/internal/models"
)

func TestWithinWorkingHours(t *testing.T) {
	s := DefaultSchedule("UTC")

	ok, err := WithinWorkingHours(s, at("09:30"), at("10:00"))
	require.NoError(t, err)
	assert.True(t, ok, "Monday 09:30 is inside 09:00-17:00")

	ok, err = WithinWorkingHours(s, at("16:45"), at("17:15"))
	require.NoError(t, err)
	assert.False(t, ok)

	saturday := at("10:00").AddDate(0, 0, 5)
	ok, err = WithinWorkingHours(s, saturday, saturday.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithinWorkingHoursRespectsTimeZone(t *testing.T) {
	s := DefaultSchedule("America/New_York")
	// 14:00 UTC is 09:00 in New York (EST)
	ok, err := WithinWorkingHours(s, at("14:00"), at("14:30"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = WithinWorkingHours(s, at("09:30"), at("10:00"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDateOverrideReplacesWorkingHours(t *testing.T) {
	s := DefaultSchedule("UTC")
	s.Overrides = []models.DateOverride{{Date: "2024-01-08", StartTime: "18:00", EndTime: "20:00"}}

	ok, err := WithinWorkingHours(s, at("09:30"), at("10:00"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = WithinWorkingHours(s, at("18:30"), at("19:00"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDateOverrideMarksDayOff(t *testing.T) {
	s := DefaultSchedule("UTC")
	s.Overrides = []models.DateOverride{{Date: "2024-01-08", StartTime: "00:00", EndTime: "00:00"}}

	ok, err := WithinWorkingHours(s, at("09:30"), at("10:00"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule(DefaultSchedule("Europe/Berlin")))

	bad := DefaultSchedule("UTC")
	bad.WorkingHours[0].EndTime = "08:00"
	assert.Error(t, ValidateSchedule(bad))

	bad = DefaultSchedule("Mars/Olympus")
	assert.Error(t, ValidateSchedule(bad))

	bad = DefaultSchedule("UTC")
	bad.Overrides = []models.DateOverride{{Date: "08/01/2024", StartTime: "09:00", EndTime: "10:00"}}
	assert.Error(t, ValidateSchedule(bad))
}
