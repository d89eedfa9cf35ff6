package eventtypes

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-booking/backend/internal/models"
)

func valid() *models.EventType {
	return &models.EventType{Slug: "intro-call", Title: "Intro call", Length: 30, SchedulingType: models.SchedulingIndividual}
}

func TestValidateAcceptsMinimalEventType(t *testing.T) {
	assert.NoError(t, Validate(valid(), nil))
}

func TestValidateCollectsFieldErrors(t *testing.T) {
	e := valid()
	e.Slug = "Intro Call"
	e.Length = 0
	e.SchedulingType = "SOLO"
	e.Price = decimal.NewFromInt(10)
	zero := 0
	e.SeatsPerTimeSlot = &zero

	err := Validate(e, nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "slug")
	assert.Contains(t, ve.Fields, "length")
	assert.Contains(t, ve.Fields, "scheduling_type")
	assert.Contains(t, ve.Fields, "currency")
	assert.Contains(t, ve.Fields, "seats_per_time_slot")
}

func TestValidateRejectsSeatedRecurring(t *testing.T) {
	e := valid()
	seats := 3
	e.SeatsPerTimeSlot = &seats
	e.Recurring = &models.RecurringRule{Frequency: models.FrequencyWeekly, Count: 4}
	var ve *ValidationError
	require.ErrorAs(t, Validate(e, nil), &ve)
	assert.Contains(t, ve.Fields, "recurring")
}

func TestValidateChecksIntegrationLocations(t *testing.T) {
	e := valid()
	e.Locations = []models.Location{{Type: "integrations:unknown_video"}}
	known := func(l string) bool { return l == "integrations:zego_video" }
	var ve *ValidationError
	require.ErrorAs(t, Validate(e, known), &ve)
	assert.Contains(t, ve.Fields, "locations")

	e.Locations = []models.Location{{Type: "integrations:zego_video"}, {Type: "inPerson", Address: "HQ"}}
	assert.NoError(t, Validate(e, known))
}

func TestValidateDefaultsRoundRobinCount(t *testing.T) {
	e := valid()
	e.SchedulingType = models.SchedulingRoundRobin
	require.NoError(t, Validate(e, nil))
	assert.Equal(t, 1, e.RoundRobinHostCount)
}

func TestJoinHostsKeepsHostOrder(t *testing.T) {
	a, b := models.User{FullName: "A"}, models.User{FullName: "B"}
	a.ID, b.ID = [16]byte{1}, [16]byte{2}
	hosts := []models.Host{{UserID: b.ID, IsFixed: true}, {UserID: [16]byte{9}}, {UserID: a.ID, Priority: 3}}
	out := JoinHosts(hosts, map[uuid.UUID]models.User{a.ID: a, b.ID: b})
	require.Len(t, out, 2)
	assert.Equal(t, "B", out[0].User.FullName)
	assert.True(t, out[0].IsFixed)
	assert.Equal(t, 3, out[1].Priority)
}
