package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

type SlotRequest struct {
	DayOfWeek string `json:"day_of_week" validate:"required,weekday"`
	Start     string `json:"start" validate:"required,clock"`
	End       string `json:"end" validate:"required,clock"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

type ReplaceScheduleRequest struct {
	Slots []SlotRequest `json:"slots" validate:"dive"`
}

type SetSlotEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type SlotResponse struct {
	ID        uuid.UUID    `json:"id"`
	DoctorID  uuid.UUID    `json:"doctor_id"`
	DayOfWeek string       `json:"day_of_week"`
	Start     domain.Clock `json:"start"`
	End       domain.Clock `json:"end"`
	Enabled   bool         `json:"enabled"`
}

func toSlotResponse(s domain.AvailabilitySlot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		DayOfWeek: s.DayOfWeek.String(),
		Start:     s.Start,
		End:       s.End,
		Enabled:   s.Enabled,
	}
}

type CreateAppointmentRequest struct {
	PatientID       string `json:"patient_id" validate:"required,uuid"`
	DoctorID        string `json:"doctor_id" validate:"required,uuid"`
	At              string `json:"at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	DurationMinutes int    `json:"duration_minutes,omitempty" validate:"omitempty,min=1,max=1440"`
	Reason          string `json:"reason,omitempty" validate:"max=500"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type AppointmentResponse struct {
	ID           uuid.UUID    `json:"id"`
	PatientID    uuid.UUID    `json:"patient_id"`
	DoctorID     uuid.UUID    `json:"doctor_id"`
	Date         string       `json:"date"`
	Start        domain.Clock `json:"start"`
	End          domain.Clock `json:"end"`
	StartsAt     time.Time    `json:"starts_at"`
	Reason       string       `json:"reason,omitempty"`
	Status       string       `json:"status"`
	StatusReason string       `json:"status_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func toAppointmentResponse(a domain.Appointment, loc *time.Location) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		Date:         a.Date.Format(domain.DateLayout),
		Start:        a.Start,
		End:          a.End,
		StartsAt:     a.StartsAt(loc),
		Reason:       a.Reason,
		Status:       string(a.Status),
		StatusReason: a.StatusReason,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type RegisterBedRequest struct {
	WardID    string `json:"ward_id" validate:"required,uuid"`
	RoomID    string `json:"room_id" validate:"required,uuid"`
	BedNumber string `json:"bed_number" validate:"required,max=32"`
}

type BedResponse struct {
	ID                 uuid.UUID  `json:"id"`
	WardID             uuid.UUID  `json:"ward_id"`
	RoomID             uuid.UUID  `json:"room_id"`
	BedNumber          string     `json:"bed_number"`
	Occupied           bool       `json:"occupied"`
	CurrentAdmissionID *uuid.UUID `json:"current_admission_id,omitempty"`
}

func toBedResponse(b domain.Bed) BedResponse {
	return BedResponse{
		ID:                 b.ID,
		WardID:             b.WardID,
		RoomID:             b.RoomID,
		BedNumber:          b.BedNumber,
		Occupied:           b.Occupied,
		CurrentAdmissionID: b.CurrentAdmissionID,
	}
}

type AdmitRequest struct {
	PatientID  string `json:"patient_id" validate:"required,uuid"`
	WardID     string `json:"ward_id" validate:"required,uuid"`
	RoomID     string `json:"room_id" validate:"required,uuid"`
	BedID      string `json:"bed_id" validate:"required,uuid"`
	AdmittedBy string `json:"admitted_by" validate:"required,uuid"`
	Reason     string `json:"reason,omitempty" validate:"max=500"`
}

type TransferRequest struct {
	WardID string `json:"ward_id" validate:"required,uuid"`
	RoomID string `json:"room_id" validate:"required,uuid"`
	BedID  string `json:"bed_id" validate:"required,uuid"`
}

type DischargeRequest struct {
	SummaryID string `json:"summary_id,omitempty" validate:"omitempty,uuid"`
}

type AdmissionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	AdmittedAt         time.Time  `json:"admitted_at"`
	AdmittedBy         uuid.UUID  `json:"admitted_by"`
	WardID             uuid.UUID  `json:"ward_id"`
	RoomID             uuid.UUID  `json:"room_id"`
	BedID              uuid.UUID  `json:"bed_id"`
	Reason             string     `json:"reason,omitempty"`
	Status             string     `json:"status"`
	DischargedAt       *time.Time `json:"discharged_at,omitempty"`
	DischargeSummaryID *uuid.UUID `json:"discharge_summary_id,omitempty"`
}

func toAdmissionResponse(a domain.Admission) AdmissionResponse {
	return AdmissionResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		AdmittedAt:         a.AdmittedAt,
		AdmittedBy:         a.AdmittedBy,
		WardID:             a.WardID,
		RoomID:             a.RoomID,
		BedID:              a.BedID,
		Reason:             a.Reason,
		Status:             string(a.Status),
		DischargedAt:       a.DischargedAt,
		DischargeSummaryID: a.DischargeSummaryID,
	}
}

type TransferResponse struct {
	ID            uuid.UUID `json:"id"`
	AdmissionID   uuid.UUID `json:"admission_id"`
	FromBedID     uuid.UUID `json:"from_bed_id"`
	ToBedID       uuid.UUID `json:"to_bed_id"`
	FromRoomID    uuid.UUID `json:"from_room_id"`
	ToRoomID      uuid.UUID `json:"to_room_id"`
	FromWardID    uuid.UUID `json:"from_ward_id"`
	ToWardID      uuid.UUID `json:"to_ward_id"`
	TransferredAt time.Time `json:"transferred_at"`
}

func toTransferResponse(t domain.BedTransfer) TransferResponse {
	return TransferResponse{
		ID:            t.ID,
		AdmissionID:   t.AdmissionID,
		FromBedID:     t.FromBedID,
		ToBedID:       t.ToBedID,
		FromRoomID:    t.FromRoomID,
		ToRoomID:      t.ToRoomID,
		FromWardID:    t.FromWardID,
		ToWardID:      t.ToWardID,
		TransferredAt: t.TransferredAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
