package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus transitions:
//
//	PENDING   -> APPROVED | CANCELLED
//	APPROVED  -> SCHEDULED | COMPLETED | NO_SHOW | CANCELLED
//	SCHEDULED -> COMPLETED | NO_SHOW | CANCELLED
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusApproved  AppointmentStatus = "APPROVED"
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusNoShow    AppointmentStatus = "NO_SHOW"
)

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusApproved, StatusCancelled},
	StatusApproved:  {StatusScheduled, StatusCompleted, StatusNoShow, StatusCancelled},
	StatusScheduled: {StatusCompleted, StatusNoShow, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusNoShow:    {},
}

// ParseAppointmentStatus validates a persisted or user-supplied status.
func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(s)
	if _, ok := appointmentTransitions[st]; !ok {
		return "", fmt.Errorf("%w: appointment status %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// IsActive reports whether the status still holds its time slot.
func (s AppointmentStatus) IsActive() bool {
	return s == StatusPending || s == StatusApproved || s == StatusScheduled
}

func (s AppointmentStatus) IsTerminal() bool {
	return !s.IsActive()
}

func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ActiveAppointmentStatuses lists the statuses that claim a slot.
func ActiveAppointmentStatuses() []AppointmentStatus {
	return []AppointmentStatus{StatusPending, StatusApproved, StatusScheduled}
}

type AdmissionStatus string

const (
	AdmissionActive     AdmissionStatus = "ACTIVE"
	AdmissionDischarged AdmissionStatus = "DISCHARGED"
)

func ParseAdmissionStatus(s string) (AdmissionStatus, error) {
	switch st := AdmissionStatus(s); st {
	case AdmissionActive, AdmissionDischarged:
		return st, nil
	}
	return "", fmt.Errorf("%w: admission status %q", ErrInvalidStatus, s)
}

type AvailabilitySlot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	DayOfWeek time.Weekday
	Start     Clock
	End       Clock
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether the slot, if enabled, covers [start, end) on day.
func (s AvailabilitySlot) Contains(day time.Weekday, start, end Clock) bool {
	return s.Enabled && s.DayOfWeek == day && s.Start <= start && end <= s.End
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	Date         time.Time
	Start        Clock
	End          Clock
	Reason       string
	Status       AppointmentStatus
	StatusReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StartsAt resolves the appointment's date and start clock in loc.
func (a Appointment) StartsAt(loc *time.Location) time.Time {
	y, m, d := a.Date.Date()
	return time.Date(y, m, d, a.Start.Hour(), a.Start.Minute(), 0, 0, loc)
}

func (a Appointment) EndsAt(loc *time.Location) time.Time {
	y, m, d := a.Date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(time.Duration(a.End) * time.Minute)
}

type Bed struct {
	ID                 uuid.UUID
	WardID             uuid.UUID
	RoomID             uuid.UUID
	BedNumber          string
	Occupied           bool
	CurrentAdmissionID *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Claim marks the bed as held by admissionID. Occupied and
// CurrentAdmissionID are only ever changed together here and in Release.
func (b *Bed) Claim(admissionID uuid.UUID) error {
	if b.Occupied {
		return ErrBedOccupied
	}
	id := admissionID
	b.Occupied = true
	b.CurrentAdmissionID = &id
	return nil
}

func (b *Bed) Release() {
	b.Occupied = false
	b.CurrentAdmissionID = nil
}

type Admission struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	AdmittedAt         time.Time
	AdmittedBy         uuid.UUID
	WardID             uuid.UUID
	RoomID             uuid.UUID
	BedID              uuid.UUID
	Reason             string
	Status             AdmissionStatus
	DischargedAt       *time.Time
	DischargeSummaryID *uuid.UUID
	UpdatedAt          time.Time
}

// BedTransfer is the audit record left by moving an admission between beds.
type BedTransfer struct {
	ID            uuid.UUID
	AdmissionID   uuid.UUID
	FromWardID    uuid.UUID
	FromRoomID    uuid.UUID
	FromBedID     uuid.UUID
	ToWardID      uuid.UUID
	ToRoomID      uuid.UUID
	ToBedID       uuid.UUID
	TransferredAt time.Time
}
