package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	pool *pgxpool.Pool
	q    pgQuerier
	inTx bool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

var _ domain.Store = (*Postgres)(nil)

func (p *Postgres) InTx(ctx context.Context, fn func(repo domain.Repository) error) error {
	if p.inTx {
		return fn(p)
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&Postgres{pool: p.pool, q: tx, inTx: true})
	})
}

// mapPgError turns the partial unique indexes into their domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "appointments_active_start":
		return domain.ErrSlotTaken
	case "admissions_active_bed":
		return domain.ErrBedOccupied
	case "admissions_active_patient":
		return domain.ErrPatientAlreadyAdmitted
	case "beds_room_id_bed_number_key":
		return fmt.Errorf("%w: bed number already exists in room", domain.ErrInvalidInput)
	}
	return err
}

// Helpers

const slotColumns = `id, doctor_id, day_of_week, start_minute, end_minute, enabled, created_at, updated_at`

func scanSlot(row pgx.Row) (*domain.AvailabilitySlot, error) {
	var (
		s          domain.AvailabilitySlot
		day        int
		start, end int
	)
	err := row.Scan(&s.ID, &s.DoctorID, &day, &start, &end, &s.Enabled, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSlotNotFound
		}
		return nil, err
	}
	s.DayOfWeek = time.Weekday(day)
	s.Start, s.End = domain.Clock(start), domain.Clock(end)
	return &s, nil
}

const appointmentColumns = `id, patient_id, doctor_id, appointment_date, start_minute, end_minute,
	reason, status, status_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*domain.Appointment, error) {
	var (
		a          domain.Appointment
		start, end int
		status     string
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&start,
		&end,
		&a.Reason,
		&status,
		&a.StatusReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Date = time.Date(a.Date.Year(), a.Date.Month(), a.Date.Day(), 0, 0, 0, 0, time.UTC)
	a.Start, a.End = domain.Clock(start), domain.Clock(end)
	if a.Status, err = domain.ParseAppointmentStatus(status); err != nil {
		return nil, err
	}
	return &a, nil
}

const bedColumns = `id, ward_id, room_id, bed_number, occupied, current_admission_id, created_at, updated_at`

func scanBed(row pgx.Row) (*domain.Bed, error) {
	var b domain.Bed
	var current *uuid.UUID

	err := row.Scan(&b.ID, &b.WardID, &b.RoomID, &b.BedNumber, &b.Occupied, &current, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBedNotFound
		}
		return nil, err
	}
	b.CurrentAdmissionID = current
	return &b, nil
}

const admissionColumns = `id, patient_id, admitted_at, admitted_by, ward_id, room_id, bed_id,
	reason, status, discharged_at, discharge_summary_id, updated_at`

func scanAdmission(row pgx.Row) (*domain.Admission, error) {
	var (
		a            domain.Admission
		status       string
		dischargedAt *time.Time
		summaryID    *uuid.UUID
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.AdmittedAt,
		&a.AdmittedBy,
		&a.WardID,
		&a.RoomID,
		&a.BedID,
		&a.Reason,
		&status,
		&dischargedAt,
		&summaryID,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAdmissionNotFound
		}
		return nil, err
	}
	if a.Status, err = domain.ParseAdmissionStatus(status); err != nil {
		return nil, err
	}
	a.DischargedAt = dischargedAt
	a.DischargeSummaryID = summaryID
	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Availability

func (p *Postgres) GetSlot(ctx context.Context, id uuid.UUID) (*domain.AvailabilitySlot, error) {
	row := p.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (p *Postgres) ListSlots(ctx context.Context, doctorID uuid.UUID) ([]domain.AvailabilitySlot, error) {
	rows, err := p.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_minute
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (p *Postgres) SaveSlot(ctx context.Context, s *domain.AvailabilitySlot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	row := p.q.QueryRow(ctx, `
		INSERT INTO availability_slots (id, doctor_id, day_of_week, start_minute, end_minute, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET day_of_week = EXCLUDED.day_of_week,
		    start_minute = EXCLUDED.start_minute,
		    end_minute = EXCLUDED.end_minute,
		    enabled = EXCLUDED.enabled,
		    updated_at = now()
		RETURNING `+slotColumns,
		s.ID, s.DoctorID, int(s.DayOfWeek), int(s.Start), int(s.End), s.Enabled)

	saved, err := scanSlot(row)
	if err != nil {
		return fmt.Errorf("save slot: %w", mapPgError(err))
	}
	*s = *saved
	return nil
}

func (p *Postgres) DeleteSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete slot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) DeleteSlotsForDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM availability_slots WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return 0, fmt.Errorf("delete doctor slots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Appointments

func (p *Postgres) GetAppointment(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	row := p.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (p *Postgres) CreateAppointment(ctx context.Context, a *domain.Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := p.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, start_minute, end_minute,
		                          reason, status, status_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.Date, int(a.Start), int(a.End),
		a.Reason, string(a.Status), a.StatusReason)

	saved, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", mapPgError(err))
	}
	*a = *saved
	return nil
}

func (p *Postgres) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus, reason string) (*domain.Appointment, error) {
	row := p.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    status_reason = CASE WHEN $4 = '' THEN status_reason ELSE $4 END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), reason)

	return scanAppointment(row)
}

func (p *Postgres) ListAppointments(ctx context.Context, f domain.AppointmentFilter) ([]domain.Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Date != nil {
		add("appointment_date = $%d", *f.Date)
	}
	if f.Before != nil {
		add("appointment_date < $%d", *f.Before)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appointment_date, start_minute`

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	return collect(rows, scanAppointment)
}

// Beds

func (p *Postgres) GetBed(ctx context.Context, id uuid.UUID) (*domain.Bed, error) {
	row := p.q.QueryRow(ctx, `SELECT `+bedColumns+` FROM beds WHERE id = $1`, id)
	return scanBed(row)
}

func (p *Postgres) SaveBed(ctx context.Context, b *domain.Bed) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	row := p.q.QueryRow(ctx, `
		INSERT INTO beds (id, ward_id, room_id, bed_number, occupied, current_admission_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET occupied = EXCLUDED.occupied,
		    current_admission_id = EXCLUDED.current_admission_id,
		    updated_at = now()
		RETURNING `+bedColumns,
		b.ID, b.WardID, b.RoomID, b.BedNumber, b.Occupied, b.CurrentAdmissionID)

	saved, err := scanBed(row)
	if err != nil {
		return fmt.Errorf("save bed: %w", mapPgError(err))
	}
	*b = *saved
	return nil
}

func (p *Postgres) ListBeds(ctx context.Context, f domain.BedFilter) ([]domain.Bed, error) {
	var (
		where []string
		args  []any
	)
	if f.WardID != nil {
		args = append(args, *f.WardID)
		where = append(where, fmt.Sprintf("ward_id = $%d", len(args)))
	}
	if f.RoomID != nil {
		args = append(args, *f.RoomID)
		where = append(where, fmt.Sprintf("room_id = $%d", len(args)))
	}
	if f.FreeOnly {
		where = append(where, "NOT occupied")
	}

	query := `SELECT ` + bedColumns + ` FROM beds`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ward_id, room_id, bed_number`

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query beds: %w", err)
	}
	return collect(rows, scanBed)
}

// Admissions

func (p *Postgres) GetAdmission(ctx context.Context, id uuid.UUID) (*domain.Admission, error) {
	row := p.q.QueryRow(ctx, `SELECT `+admissionColumns+` FROM admissions WHERE id = $1`, id)
	return scanAdmission(row)
}

func (p *Postgres) SaveAdmission(ctx context.Context, a *domain.Admission) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := p.q.QueryRow(ctx, `
		INSERT INTO admissions (id, patient_id, admitted_at, admitted_by, ward_id, room_id, bed_id,
		                        reason, status, discharged_at, discharge_summary_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (id) DO UPDATE
		SET ward_id = EXCLUDED.ward_id,
		    room_id = EXCLUDED.room_id,
		    bed_id = EXCLUDED.bed_id,
		    status = EXCLUDED.status,
		    discharged_at = EXCLUDED.discharged_at,
		    discharge_summary_id = EXCLUDED.discharge_summary_id,
		    updated_at = now()
		RETURNING `+admissionColumns,
		a.ID, a.PatientID, a.AdmittedAt, a.AdmittedBy, a.WardID, a.RoomID, a.BedID,
		a.Reason, string(a.Status), a.DischargedAt, a.DischargeSummaryID)

	saved, err := scanAdmission(row)
	if err != nil {
		return fmt.Errorf("save admission: %w", mapPgError(err))
	}
	*a = *saved
	return nil
}

func (p *Postgres) ListAdmissions(ctx context.Context, f domain.AdmissionFilter) ([]domain.Admission, error) {
	var (
		where []string
		args  []any
	)
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.BedID != nil {
		args = append(args, *f.BedID)
		where = append(where, fmt.Sprintf("bed_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + admissionColumns + ` FROM admissions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY admitted_at`

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query admissions: %w", err)
	}
	return collect(rows, scanAdmission)
}

func (p *Postgres) CreateTransfer(ctx context.Context, t *domain.BedTransfer) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := p.q.Exec(ctx, `
		INSERT INTO bed_transfers (id, admission_id, from_ward_id, from_room_id, from_bed_id,
		                           to_ward_id, to_room_id, to_bed_id, transferred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.AdmissionID, t.FromWardID, t.FromRoomID, t.FromBedID, t.ToWardID, t.ToRoomID, t.ToBedID, t.TransferredAt)
	if err != nil {
		return fmt.Errorf("insert bed transfer: %w", err)
	}
	return nil
}

func (p *Postgres) ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]domain.BedTransfer, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, admission_id, from_ward_id, from_room_id, from_bed_id,
		       to_ward_id, to_room_id, to_bed_id, transferred_at
		FROM bed_transfers
		WHERE admission_id = $1
		ORDER BY transferred_at
	`, admissionID)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*domain.BedTransfer, error) {
		var t domain.BedTransfer
		err := row.Scan(&t.ID, &t.AdmissionID, &t.FromWardID, &t.FromRoomID, &t.FromBedID,
			&t.ToWardID, &t.ToRoomID, &t.ToBedID, &t.TransferredAt)
		if err != nil {
			return nil, err
		}
		return &t, nil
	})
}
