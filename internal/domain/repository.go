package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Date      *time.Time
	Statuses  []AppointmentStatus
	// Before limits results to appointments dated strictly before this date.
	Before *time.Time
}

type BedFilter struct {
	WardID   *uuid.UUID
	RoomID   *uuid.UUID
	FreeOnly bool
}

type AdmissionFilter struct {
	PatientID *uuid.UUID
	BedID     *uuid.UUID
	Status    *AdmissionStatus
}

// Repository is everything the scheduling core needs from persistence.
// Getters return the entity-specific ErrXNotFound when the id is unknown.
type Repository interface {
	// Availability
	GetSlot(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error)
	ListSlots(ctx context.Context, doctorID uuid.UUID) ([]AvailabilitySlot, error)
	SaveSlot(ctx context.Context, s *AvailabilitySlot) error
	DeleteSlot(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteSlotsForDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)

	// Appointments
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointmentStatus is a compare-and-set: it only applies when the
	// stored status still equals from, and returns ErrAppointmentNotFound
	// otherwise.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason string) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	// Beds
	GetBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	SaveBed(ctx context.Context, b *Bed) error
	ListBeds(ctx context.Context, f BedFilter) ([]Bed, error)

	// Admissions
	GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error)
	SaveAdmission(ctx context.Context, a *Admission) error
	ListAdmissions(ctx context.Context, f AdmissionFilter) ([]Admission, error)
	CreateTransfer(ctx context.Context, t *BedTransfer) error
	ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]BedTransfer, error)
}

// Store is a Repository that can group writes into one atomic unit.
// If fn returns an error nothing it wrote is kept.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(repo Repository) error) error
}
