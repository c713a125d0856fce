package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInterval        = errors.New("end time must be after start time")
	ErrOutsideAvailability    = errors.New("requested time is outside the doctor's availability")
	ErrSlotConflict           = errors.New("availability slot overlaps an existing slot")
	ErrSlotTaken              = errors.New("time slot already has an active appointment")
	ErrBedOccupied            = errors.New("bed is already occupied")
	ErrPatientAlreadyAdmitted = errors.New("patient already has an active admission")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrNotFound               = errors.New("not found")

	ErrBusy                = errors.New("resource is locked by another request, please retry")
	ErrInvalidStatus       = errors.New("invalid status value")
	ErrInvalidInput        = errors.New("invalid input")
	ErrBedLocationMismatch = errors.New("bed does not belong to the given ward/room")
)

var (
	ErrSlotNotFound        = fmt.Errorf("availability slot %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrBedNotFound         = fmt.Errorf("bed %w", ErrNotFound)
	ErrAdmissionNotFound   = fmt.Errorf("admission %w", ErrNotFound)
)

// TransitionError reports a rejected status change.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s: %s", e.Entity, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
