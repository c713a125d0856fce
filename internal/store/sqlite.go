package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite stores timestamps as fixed-width RFC3339 text and dates as YYYY-MM-DD.
type SQLite struct {
	db   *sql.DB
	q    sqlQuerier
	inTx bool
}

func NewSQLite(conn *sql.DB) *SQLite {
	return &SQLite{db: conn, q: conn}
}

var _ domain.Store = (*SQLite)(nil)

func (s *SQLite) InTx(ctx context.Context, fn func(repo domain.Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&SQLite{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	switch {
	case strings.Contains(msg, "appointments.doctor_id"):
		return domain.ErrSlotTaken
	case strings.Contains(msg, "admissions.bed_id"):
		return domain.ErrBedOccupied
	case strings.Contains(msg, "admissions.patient_id"):
		return domain.ErrPatientAlreadyAdmitted
	case strings.Contains(msg, "beds.room_id"):
		return fmt.Errorf("%w: bed number already exists in room", domain.ErrInvalidInput)
	}
	return err
}

// fixed-width so text ordering matches time ordering
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func collectSQL[T any](rows *sql.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
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

func sqliteSlot(row rowScanner) (*domain.AvailabilitySlot, error) {
	var (
		sl               domain.AvailabilitySlot
		day, start, end  int
		created, updated string
	)
	err := row.Scan(&sl.ID, &sl.DoctorID, &day, &start, &end, &sl.Enabled, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	sl.DayOfWeek = time.Weekday(day)
	sl.Start, sl.End = domain.Clock(start), domain.Clock(end)
	if sl.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sl.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &sl, nil
}

func sqliteAppointment(row rowScanner) (*domain.Appointment, error) {
	var (
		a                domain.Appointment
		date, status     string
		start, end       int
		created, updated string
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &date, &start, &end,
		&a.Reason, &status, &a.StatusReason, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Date, err = domain.ParseDate(date); err != nil {
		return nil, err
	}
	a.Start, a.End = domain.Clock(start), domain.Clock(end)
	if a.Status, err = domain.ParseAppointmentStatus(status); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}

func sqliteBed(row rowScanner) (*domain.Bed, error) {
	var (
		b                domain.Bed
		current          uuid.NullUUID
		created, updated string
	)
	err := row.Scan(&b.ID, &b.WardID, &b.RoomID, &b.BedNumber, &b.Occupied, &current, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBedNotFound
	}
	if err != nil {
		return nil, err
	}
	if current.Valid {
		id := current.UUID
		b.CurrentAdmissionID = &id
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &b, nil
}

func sqliteAdmission(row rowScanner) (*domain.Admission, error) {
	var (
		a                 domain.Admission
		admitted, updated string
		status            string
		discharged        sql.NullString
		summary           uuid.NullUUID
	)
	err := row.Scan(&a.ID, &a.PatientID, &admitted, &a.AdmittedBy, &a.WardID, &a.RoomID, &a.BedID,
		&a.Reason, &status, &discharged, &summary, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAdmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Status, err = domain.ParseAdmissionStatus(status); err != nil {
		return nil, err
	}
	if a.AdmittedAt, err = parseTime(admitted); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if discharged.Valid {
		t, err := parseTime(discharged.String)
		if err != nil {
			return nil, err
		}
		a.DischargedAt = &t
	}
	if summary.Valid {
		id := summary.UUID
		a.DischargeSummaryID = &id
	}
	return &a, nil
}

// Availability

func (s *SQLite) GetSlot(ctx context.Context, id uuid.UUID) (*domain.AvailabilitySlot, error) {
	return sqliteSlot(s.q.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM availability_slots WHERE id = ?`, id.String()))
}

func (s *SQLite) ListSlots(ctx context.Context, doctorID uuid.UUID) ([]domain.AvailabilitySlot, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = ?
		ORDER BY day_of_week, start_minute
	`, doctorID.String())
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	return collectSQL(rows, sqliteSlot)
}

func (s *SQLite) SaveSlot(ctx context.Context, sl *domain.AvailabilitySlot) error {
	now := time.Now().UTC()
	if sl.ID == uuid.Nil {
		sl.ID = uuid.New()
	}
	if sl.CreatedAt.IsZero() {
		sl.CreatedAt = now
	}
	sl.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO availability_slots (id, doctor_id, day_of_week, start_minute, end_minute, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET day_of_week = excluded.day_of_week,
		    start_minute = excluded.start_minute,
		    end_minute = excluded.end_minute,
		    enabled = excluded.enabled,
		    updated_at = excluded.updated_at
	`, sl.ID.String(), sl.DoctorID.String(), int(sl.DayOfWeek), int(sl.Start), int(sl.End), sl.Enabled,
		formatTime(sl.CreatedAt), formatTime(sl.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save slot: %w", mapSQLiteError(err))
	}
	return nil
}

func (s *SQLite) DeleteSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM availability_slots WHERE id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("delete slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) DeleteSlotsForDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM availability_slots WHERE doctor_id = ?`, doctorID.String())
	if err != nil {
		return 0, fmt.Errorf("delete doctor slots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Appointments

func (s *SQLite) GetAppointment(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	return sqliteAppointment(s.q.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id.String()))
}

func (s *SQLite) CreateAppointment(ctx context.Context, a *domain.Appointment) error {
	now := time.Now().UTC()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, start_minute, end_minute,
		                          reason, status, status_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID.String(), a.PatientID.String(), a.DoctorID.String(), a.Date.Format(domain.DateLayout),
		int(a.Start), int(a.End), a.Reason, string(a.Status), a.StatusReason,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert appointment: %w", mapSQLiteError(err))
	}
	return nil
}

func (s *SQLite) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus, reason string) (*domain.Appointment, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE appointments
		SET status = ?,
		    status_reason = CASE WHEN ? = '' THEN status_reason ELSE ? END,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), reason, reason, formatTime(time.Now()), id.String(), string(from))
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domain.ErrAppointmentNotFound
	}
	return s.GetAppointment(ctx, id)
}

func (s *SQLite) ListAppointments(ctx context.Context, f domain.AppointmentFilter) ([]domain.Appointment, error) {
	var (
		where []string
		args  []any
	)
	if f.DoctorID != nil {
		where, args = append(where, "doctor_id = ?"), append(args, f.DoctorID.String())
	}
	if f.PatientID != nil {
		where, args = append(where, "patient_id = ?"), append(args, f.PatientID.String())
	}
	if f.Date != nil {
		where, args = append(where, "appointment_date = ?"), append(args, f.Date.Format(domain.DateLayout))
	}
	if f.Before != nil {
		where, args = append(where, "appointment_date < ?"), append(args, f.Before.Format(domain.DateLayout))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appointment_date, start_minute`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	return collectSQL(rows, sqliteAppointment)
}

// Beds

func (s *SQLite) GetBed(ctx context.Context, id uuid.UUID) (*domain.Bed, error) {
	return sqliteBed(s.q.QueryRowContext(ctx, `SELECT `+bedColumns+` FROM beds WHERE id = ?`, id.String()))
}

func (s *SQLite) SaveBed(ctx context.Context, b *domain.Bed) error {
	now := time.Now().UTC()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO beds (id, ward_id, room_id, bed_number, occupied, current_admission_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET occupied = excluded.occupied,
		    current_admission_id = excluded.current_admission_id,
		    updated_at = excluded.updated_at
	`, b.ID.String(), b.WardID.String(), b.RoomID.String(), b.BedNumber, b.Occupied,
		nullUUID(b.CurrentAdmissionID), formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save bed: %w", mapSQLiteError(err))
	}
	return nil
}

func (s *SQLite) ListBeds(ctx context.Context, f domain.BedFilter) ([]domain.Bed, error) {
	var (
		where []string
		args  []any
	)
	if f.WardID != nil {
		where, args = append(where, "ward_id = ?"), append(args, f.WardID.String())
	}
	if f.RoomID != nil {
		where, args = append(where, "room_id = ?"), append(args, f.RoomID.String())
	}
	if f.FreeOnly {
		where = append(where, "occupied = 0")
	}

	query := `SELECT ` + bedColumns + ` FROM beds`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ward_id, room_id, bed_number`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query beds: %w", err)
	}
	return collectSQL(rows, sqliteBed)
}

// Admissions

func (s *SQLite) GetAdmission(ctx context.Context, id uuid.UUID) (*domain.Admission, error) {
	return sqliteAdmission(s.q.QueryRowContext(ctx,
		`SELECT `+admissionColumns+` FROM admissions WHERE id = ?`, id.String()))
}

func (s *SQLite) SaveAdmission(ctx context.Context, a *domain.Admission) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.UpdatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO admissions (id, patient_id, admitted_at, admitted_by, ward_id, room_id, bed_id,
		                        reason, status, discharged_at, discharge_summary_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET ward_id = excluded.ward_id,
		    room_id = excluded.room_id,
		    bed_id = excluded.bed_id,
		    status = excluded.status,
		    discharged_at = excluded.discharged_at,
		    discharge_summary_id = excluded.discharge_summary_id,
		    updated_at = excluded.updated_at
	`, a.ID.String(), a.PatientID.String(), formatTime(a.AdmittedAt), a.AdmittedBy.String(),
		a.WardID.String(), a.RoomID.String(), a.BedID.String(), a.Reason, string(a.Status),
		nullTime(a.DischargedAt), nullUUID(a.DischargeSummaryID), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save admission: %w", mapSQLiteError(err))
	}
	return nil
}

func (s *SQLite) ListAdmissions(ctx context.Context, f domain.AdmissionFilter) ([]domain.Admission, error) {
	var (
		where []string
		args  []any
	)
	if f.PatientID != nil {
		where, args = append(where, "patient_id = ?"), append(args, f.PatientID.String())
	}
	if f.BedID != nil {
		where, args = append(where, "bed_id = ?"), append(args, f.BedID.String())
	}
	if f.Status != nil {
		where, args = append(where, "status = ?"), append(args, string(*f.Status))
	}

	query := `SELECT ` + admissionColumns + ` FROM admissions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY admitted_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query admissions: %w", err)
	}
	return collectSQL(rows, sqliteAdmission)
}

func (s *SQLite) CreateTransfer(ctx context.Context, t *domain.BedTransfer) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO bed_transfers (id, admission_id, from_ward_id, from_room_id, from_bed_id,
		                           to_ward_id, to_room_id, to_bed_id, transferred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID.String(), t.AdmissionID.String(), t.FromWardID.String(), t.FromRoomID.String(), t.FromBedID.String(),
		t.ToWardID.String(), t.ToRoomID.String(), t.ToBedID.String(), formatTime(t.TransferredAt))
	if err != nil {
		return fmt.Errorf("insert bed transfer: %w", err)
	}
	return nil
}

func (s *SQLite) ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]domain.BedTransfer, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, admission_id, from_ward_id, from_room_id, from_bed_id,
		       to_ward_id, to_room_id, to_bed_id, transferred_at
		FROM bed_transfers
		WHERE admission_id = ?
		ORDER BY transferred_at
	`, admissionID.String())
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	return collectSQL(rows, func(row rowScanner) (*domain.BedTransfer, error) {
		var (
			t  domain.BedTransfer
			at string
		)
		err := row.Scan(&t.ID, &t.AdmissionID, &t.FromWardID, &t.FromRoomID, &t.FromBedID,
			&t.ToWardID, &t.ToRoomID, &t.ToBedID, &at)
		if err != nil {
			return nil, err
		}
		if t.TransferredAt, err = parseTime(at); err != nil {
			return nil, err
		}
		return &t, nil
	})
}
