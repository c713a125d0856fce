package conflict

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

func clk(h, m int) domain.Clock { return domain.NewClock(h, m) }

func TestIntervalsOverlap(t *testing.T) {
	cases := []struct {
		name           string
		aS, aE, bS, bE domain.Clock
		want           bool
	}{
		{"identical", clk(9, 0), clk(10, 0), clk(9, 0), clk(10, 0), true},
		{"partial left", clk(8, 30), clk(9, 30), clk(9, 0), clk(10, 0), true},
		{"partial right", clk(9, 30), clk(10, 30), clk(9, 0), clk(10, 0), true},
		{"contained", clk(9, 15), clk(9, 45), clk(9, 0), clk(10, 0), true},
		{"containing", clk(8, 0), clk(11, 0), clk(9, 0), clk(10, 0), true},
		{"touching end", clk(8, 0), clk(9, 0), clk(9, 0), clk(10, 0), false},
		{"touching start", clk(10, 0), clk(11, 0), clk(9, 0), clk(10, 0), false},
		{"disjoint", clk(13, 0), clk(14, 0), clk(9, 0), clk(10, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IntervalsOverlap(tc.aS, tc.aE, tc.bS, tc.bE))
			assert.Equal(t, tc.want, IntervalsOverlap(tc.bS, tc.bE, tc.aS, tc.aE), "overlap is symmetric")
		})
	}
}

func TestIsWithinAvailability(t *testing.T) {
	slots := []domain.AvailabilitySlot{
		{DayOfWeek: time.Monday, Start: clk(9, 0), End: clk(12, 0), Enabled: true},
		{DayOfWeek: time.Monday, Start: clk(14, 0), End: clk(16, 0), Enabled: false},
	}

	assert.True(t, IsWithinAvailability(time.Monday, clk(9, 0), clk(9, 30), slots))
	assert.False(t, IsWithinAvailability(time.Monday, clk(8, 30), clk(9, 30), slots))
	assert.False(t, IsWithinAvailability(time.Monday, clk(11, 45), clk(12, 15), slots))
	assert.False(t, IsWithinAvailability(time.Monday, clk(14, 0), clk(14, 30), slots), "disabled slot does not count")
	assert.False(t, IsWithinAvailability(time.Tuesday, clk(9, 0), clk(9, 30), slots))
	assert.False(t, IsWithinAvailability(time.Monday, clk(9, 0), clk(9, 30), nil))
}

func TestSlotOverlaps(t *testing.T) {
	existing := []domain.AvailabilitySlot{
		{ID: uuid.New(), DayOfWeek: time.Monday, Start: clk(9, 0), End: clk(12, 0), Enabled: true},
		{ID: uuid.New(), DayOfWeek: time.Monday, Start: clk(13, 0), End: clk(15, 0), Enabled: false},
	}

	hit := SlotOverlaps(domain.AvailabilitySlot{DayOfWeek: time.Monday, Start: clk(11, 0), End: clk(13, 0), Enabled: true}, existing)
	if assert.NotNil(t, hit) {
		assert.Equal(t, existing[0].ID, hit.ID)
	}

	assert.Nil(t, SlotOverlaps(domain.AvailabilitySlot{DayOfWeek: time.Monday, Start: clk(13, 0), End: clk(14, 0)}, existing))
	assert.Nil(t, SlotOverlaps(domain.AvailabilitySlot{DayOfWeek: time.Tuesday, Start: clk(9, 0), End: clk(12, 0)}, existing))
	assert.Nil(t, SlotOverlaps(existing[0], existing), "a slot never conflicts with itself")
}

func TestHasBookingConflict(t *testing.T) {
	doctor := uuid.New()
	other := uuid.New()
	date := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	nextDay := date.AddDate(0, 0, 1)

	existing := []domain.Appointment{
		{ID: uuid.New(), DoctorID: doctor, Date: date, Start: clk(10, 0), End: clk(10, 30), Status: domain.StatusPending},
		{ID: uuid.New(), DoctorID: doctor, Date: date, Start: clk(11, 0), End: clk(11, 30), Status: domain.StatusCancelled},
		{ID: uuid.New(), DoctorID: other, Date: date, Start: clk(12, 0), End: clk(12, 30), Status: domain.StatusScheduled},
	}

	assert.True(t, HasBookingConflict(doctor, date, clk(10, 15), clk(10, 45), existing))
	assert.False(t, HasBookingConflict(doctor, date, clk(10, 30), clk(11, 0), existing), "back-to-back is allowed")
	assert.False(t, HasBookingConflict(doctor, date, clk(11, 0), clk(11, 30), existing), "cancelled appointment frees the slot")
	assert.False(t, HasBookingConflict(doctor, date, clk(12, 0), clk(12, 30), existing), "other doctor's booking is irrelevant")
	assert.False(t, HasBookingConflict(doctor, nextDay, clk(10, 0), clk(10, 30), existing))

	blocking, found := FindBookingConflict(doctor, date, clk(9, 45), clk(10, 15), existing)
	assert.True(t, found)
	assert.Equal(t, existing[0].ID, blocking.ID)
}
