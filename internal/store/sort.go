package store

import (
	"sort"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

// SortAppointments orders by date then start time, which is the order every
// listing endpoint returns.
func SortAppointments(list []domain.Appointment) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.Before(list[j].Date)
		}
		return list[i].Start < list[j].Start
	})
}

func sortSlots(list []domain.AvailabilitySlot) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].DayOfWeek != list[j].DayOfWeek {
			return list[i].DayOfWeek < list[j].DayOfWeek
		}
		return list[i].Start < list[j].Start
	})
}
