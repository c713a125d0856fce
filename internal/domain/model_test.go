package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppointmentStatus(t *testing.T) {
	for _, s := range []string{"PENDING", "APPROVED", "SCHEDULED", "COMPLETED", "CANCELLED", "NO_SHOW"} {
		st, err := ParseAppointmentStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(st))
	}

	_, err := ParseAppointmentStatus("pending")
	assert.ErrorIs(t, err, ErrInvalidStatus, "status values are case sensitive")

	_, err = ParseAppointmentStatus("BOOKED")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestParseAdmissionStatus(t *testing.T) {
	st, err := ParseAdmissionStatus("ACTIVE")
	require.NoError(t, err)
	assert.Equal(t, AdmissionActive, st)

	_, err = ParseAdmissionStatus("TRANSFERRED")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAppointmentTransitions(t *testing.T) {
	t.Run("Active statuses", func(t *testing.T) {
		assert.True(t, StatusPending.IsActive())
		assert.True(t, StatusApproved.IsActive())
		assert.True(t, StatusScheduled.IsActive())
		assert.True(t, StatusCompleted.IsTerminal())
		assert.True(t, StatusCancelled.IsTerminal())
		assert.True(t, StatusNoShow.IsTerminal())
	})

	t.Run("Pending", func(t *testing.T) {
		assert.True(t, StatusPending.CanTransitionTo(StatusApproved))
		assert.True(t, StatusPending.CanTransitionTo(StatusCancelled))
		assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
		assert.False(t, StatusPending.CanTransitionTo(StatusScheduled))
	})

	t.Run("Approved may skip the confirm step", func(t *testing.T) {
		assert.True(t, StatusApproved.CanTransitionTo(StatusScheduled))
		assert.True(t, StatusApproved.CanTransitionTo(StatusCompleted))
		assert.True(t, StatusApproved.CanTransitionTo(StatusNoShow))
		assert.False(t, StatusApproved.CanTransitionTo(StatusApproved))
	})

	t.Run("Terminal statuses have no exits", func(t *testing.T) {
		for _, st := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusNoShow} {
			for _, next := range []AppointmentStatus{StatusPending, StatusApproved, StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow} {
				assert.False(t, st.CanTransitionTo(next), "%s -> %s", st, next)
			}
		}
	})
}

func TestTransitionErrorUnwraps(t *testing.T) {
	var err error = &TransitionError{Entity: "appointment", From: "CANCELLED", To: "APPROVED"}
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "CANCELLED")
}

func TestNotFoundWrapping(t *testing.T) {
	assert.ErrorIs(t, ErrAppointmentNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrBedNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrAdmissionNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrSlotNotFound, ErrNotFound)
}

func TestClock(t *testing.T) {
	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, NewClock(9, 30), c)
	assert.Equal(t, "09:30", c.String())

	c, err = ParseClock("14.05")
	require.NoError(t, err)
	assert.Equal(t, NewClock(14, 5), c)

	c, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, EndOfDay, c)

	for _, bad := range []string{"", "9", "25:00", "10:60", "aa:bb", "24:30"} {
		_, err := ParseClock(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}

	assert.Equal(t, NewClock(10, 45), NewClock(10, 15).Add(30*time.Minute))

	var decoded Clock
	require.NoError(t, decoded.UnmarshalText([]byte("07:05")))
	assert.Equal(t, NewClock(7, 5), decoded)
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	at := time.Date(2026, 10, 20, 1, 30, 0, 0, loc)

	d := DateOf(at)
	assert.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, NewClock(1, 30), ClockOf(at))
}

func TestParseWeekday(t *testing.T) {
	cases := map[string]time.Weekday{
		"mon": time.Monday, "Tuesday": time.Tuesday, " wed ": time.Wednesday,
		"thurs": time.Thursday, "5": time.Friday, "sat": time.Saturday, "sunday": time.Sunday,
	}
	for in, want := range cases {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseWeekday("someday")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBedClaimRelease(t *testing.T) {
	b := &Bed{ID: uuid.New()}
	admissionID := uuid.New()

	require.NoError(t, b.Claim(admissionID))
	assert.True(t, b.Occupied)
	require.NotNil(t, b.CurrentAdmissionID)
	assert.Equal(t, admissionID, *b.CurrentAdmissionID)

	assert.ErrorIs(t, b.Claim(uuid.New()), ErrBedOccupied)
	assert.Equal(t, admissionID, *b.CurrentAdmissionID, "failed claim must not overwrite holder")

	b.Release()
	assert.False(t, b.Occupied)
	assert.Nil(t, b.CurrentAdmissionID)
}

func TestSlotContains(t *testing.T) {
	s := AvailabilitySlot{DayOfWeek: time.Monday, Start: NewClock(9, 0), End: NewClock(12, 0), Enabled: true}

	assert.True(t, s.Contains(time.Monday, NewClock(9, 0), NewClock(9, 30)))
	assert.True(t, s.Contains(time.Monday, NewClock(11, 30), NewClock(12, 0)))
	assert.False(t, s.Contains(time.Monday, NewClock(8, 30), NewClock(9, 30)))
	assert.False(t, s.Contains(time.Tuesday, NewClock(9, 0), NewClock(9, 30)))

	s.Enabled = false
	assert.False(t, s.Contains(time.Monday, NewClock(9, 0), NewClock(9, 30)))
}

func TestAppointmentTimes(t *testing.T) {
	a := Appointment{
		Date:  time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
		Start: NewClock(10, 15),
		End:   NewClock(10, 45),
	}
	loc := time.FixedZone("X", -3*3600)
	assert.Equal(t, time.Date(2026, 10, 20, 10, 15, 0, 0, loc), a.StartsAt(loc))
	assert.Equal(t, time.Date(2026, 10, 20, 10, 45, 0, 0, loc), a.EndsAt(loc))
}
