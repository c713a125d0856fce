// Package conflict holds the pure interval checks shared by availability
// management and appointment booking. Intervals are half-open: [start, end).
package conflict

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

// IntervalsOverlap reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching intervals (aEnd == bStart) do not overlap.
func IntervalsOverlap(aStart, aEnd, bStart, bEnd domain.Clock) bool {
	return aStart < bEnd && bStart < aEnd
}

// IsWithinAvailability is true iff some enabled slot for day fully contains
// the candidate interval.
func IsWithinAvailability(day time.Weekday, start, end domain.Clock, slots []domain.AvailabilitySlot) bool {
	for _, s := range slots {
		if s.Contains(day, start, end) {
			return true
		}
	}
	return false
}

// SlotOverlaps returns the first enabled slot on the candidate's day whose
// window overlaps it, ignoring the candidate's own id.
func SlotOverlaps(candidate domain.AvailabilitySlot, slots []domain.AvailabilitySlot) *domain.AvailabilitySlot {
	for i := range slots {
		s := slots[i]
		if s.ID == candidate.ID || !s.Enabled || s.DayOfWeek != candidate.DayOfWeek {
			continue
		}
		if IntervalsOverlap(candidate.Start, candidate.End, s.Start, s.End) {
			return &slots[i]
		}
	}
	return nil
}

// FindBookingConflict returns the first active appointment for the same
// doctor and date that overlaps the candidate interval.
func FindBookingConflict(doctorID uuid.UUID, date time.Time, start, end domain.Clock, existing []domain.Appointment) (*domain.Appointment, bool) {
	for i := range existing {
		a := existing[i]
		if a.DoctorID != doctorID || !a.Date.Equal(date) || !a.Status.IsActive() {
			continue
		}
		if IntervalsOverlap(start, end, a.Start, a.End) {
			return &existing[i], true
		}
	}
	return nil, false
}

func HasBookingConflict(doctorID uuid.UUID, date time.Time, start, end domain.Clock, existing []domain.Appointment) bool {
	_, found := FindBookingConflict(doctorID, date, start, end, existing)
	return found
}
