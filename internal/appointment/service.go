// Package appointment is the booking engine: it creates appointment requests
// inside a doctor's availability and drives them through their lifecycle.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/conflict"
	"github.com/hackgods/hospital-scheduling/internal/domain"
	"github.com/hackgods/hospital-scheduling/internal/lock"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	"github.com/hackgods/hospital-scheduling/internal/retry"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventAppointmentStatus    = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentExpired   = "APPOINTMENT_EXPIRED"
)

type Config struct {
	// DefaultDuration applies when a request carries no duration.
	DefaultDuration time.Duration
	// Location is the facility time zone; request instants are resolved to
	// a calendar date and wall clock there.
	Location *time.Location
	// NoShowGrace, when positive, lets SweepStale mark approved or scheduled
	// appointments as NO_SHOW once their end plus the grace has passed.
	NoShowGrace time.Duration
	// OpTimeout bounds each operation, store calls included. Zero disables it.
	OpTimeout time.Duration
}

type ScheduleRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	At        time.Time
	Duration  time.Duration
	Reason    string
}

type Service struct {
	store    domain.Store
	locker   lock.Locker
	cfg      Config
	log      *zap.Logger
	notifier notify.Notifier
	metrics  *metrics.Collector
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithMetrics(m *metrics.Collector) Option { return func(s *Service) { s.metrics = m } }

func NewService(store domain.Store, locker lock.Locker, cfg Config, opts ...Option) *Service {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 30 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		store:    store,
		locker:   locker,
		cfg:      cfg,
		log:      zap.NewNop(),
		notifier: notify.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the facility time zone appointments are resolved in.
func (s *Service) Location() *time.Location { return s.cfg.Location }

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// Schedule books a PENDING appointment. The request must sit inside an
// enabled availability slot and must not overlap another active appointment
// of the same doctor on that date. The check and the insert run under the
// doctor/date lock so concurrent requests for overlapping windows cannot
// both succeed.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*domain.Appointment, error) {
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient and doctor ids are required", domain.ErrInvalidInput)
	}
	if req.At.IsZero() {
		return nil, fmt.Errorf("%w: appointment time is required", domain.ErrInvalidInput)
	}
	// bookings are kept at minute resolution
	if req.At.Second() != 0 || req.At.Nanosecond() != 0 {
		return nil, fmt.Errorf("%w: appointment time must fall on a whole minute", domain.ErrInvalidInput)
	}
	if req.Duration%time.Minute != 0 {
		return nil, fmt.Errorf("%w: duration must be whole minutes", domain.ErrInvalidInput)
	}
	dur := req.Duration
	if dur == 0 {
		dur = s.cfg.DefaultDuration
	}

	local := req.At.In(s.cfg.Location)
	date := domain.DateOf(local)
	start := domain.ClockOf(local)
	end := start.Add(dur)
	if dur < time.Minute || end > domain.EndOfDay {
		return nil, domain.ErrInvalidInterval
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	log := s.log.With(
		zap.String("doctor_id", req.DoctorID.String()),
		zap.String("patient_id", req.PatientID.String()),
		zap.String("date", date.Format(domain.DateLayout)),
		zap.Stringer("start", start),
		zap.Stringer("end", end),
	)

	var created *domain.Appointment
	lockStart := time.Now()
	err := lock.Guard(ctx, s.locker, []string{lock.AppointmentKey(req.DoctorID, date)}, func(ctx context.Context) error {
		slots, err := retry.Read(ctx, func(ctx context.Context) ([]domain.AvailabilitySlot, error) {
			return s.store.ListSlots(ctx, req.DoctorID)
		})
		if err != nil {
			return fmt.Errorf("load availability: %w", err)
		}
		if !conflict.IsWithinAvailability(date.Weekday(), start, end, slots) {
			return domain.ErrOutsideAvailability
		}

		// Inside the critical section re-read the doctor's active bookings
		existing, err := retry.Read(ctx, func(ctx context.Context) ([]domain.Appointment, error) {
			return s.store.ListAppointments(ctx, domain.AppointmentFilter{
				DoctorID: &req.DoctorID,
				Date:     &date,
				Statuses: domain.ActiveAppointmentStatuses(),
			})
		})
		if err != nil {
			return fmt.Errorf("load appointments: %w", err)
		}
		if blocking, found := conflict.FindBookingConflict(req.DoctorID, date, start, end, existing); found {
			log.Info("booking rejected, slot taken", zap.String("blocking_appointment_id", blocking.ID.String()))
			return domain.ErrSlotTaken
		}

		appt := &domain.Appointment{
			ID:        uuid.New(),
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			Date:      date,
			Start:     start,
			End:       end,
			Reason:    req.Reason,
			Status:    domain.StatusPending,
		}
		if err := s.store.CreateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	s.metrics.ObserveLock("appointment", lockStart)
	s.metrics.Booking(bookingResult(err))

	if err != nil {
		return nil, err
	}

	log.Info(EventAppointmentRequested, zap.String("appointment_id", created.ID.String()))
	return created, nil
}

func bookingResult(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, domain.ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, domain.ErrOutsideAvailability):
		return "outside_availability"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	}
	return "error"
}

// Approve moves a PENDING request to APPROVED and tells the patient.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	appt, err := s.transition(ctx, id, domain.StatusApproved, "", nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, appt, notify.KindAppointmentApproved,
		fmt.Sprintf("Your appointment on %s at %s has been approved.", appt.Date.Format(domain.DateLayout), appt.Start))
	return appt, nil
}

// Reject declines a PENDING request. Only pending requests can be rejected;
// use Cancel for anything already approved.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*domain.Appointment, error) {
	appt, err := s.transition(ctx, id, domain.StatusCancelled, reason, []domain.AppointmentStatus{domain.StatusPending})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, appt, notify.KindAppointmentRejected,
		fmt.Sprintf("Your appointment request for %s at %s was declined.", appt.Date.Format(domain.DateLayout), appt.Start))
	return appt, nil
}

// Confirm moves APPROVED to SCHEDULED.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	return s.transition(ctx, id, domain.StatusScheduled, "", nil)
}

// Cancel retires any active appointment. Cancelling an already cancelled
// appointment succeeds and returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Appointment, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == domain.StatusCancelled {
		return cur, nil
	}

	appt, err := s.transition(ctx, id, domain.StatusCancelled, reason, nil)
	if err != nil {
		var te *domain.TransitionError
		// lost a race against another cancel
		if errors.As(err, &te) && te.From == string(domain.StatusCancelled) {
			return s.Get(ctx, id)
		}
		return nil, err
	}
	s.notify(ctx, appt, notify.KindAppointmentCancelled,
		fmt.Sprintf("Your appointment on %s at %s has been cancelled.", appt.Date.Format(domain.DateLayout), appt.Start))
	return appt, nil
}

// MarkCompleted accepts SCHEDULED, and APPROVED when the confirm step was
// skipped.
func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	return s.transition(ctx, id, domain.StatusCompleted, "", nil)
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	return s.transition(ctx, id, domain.StatusNoShow, "", nil)
}

// transition applies cur -> to as a compare-and-set. only, when non-empty,
// further restricts the accepted source statuses.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.AppointmentStatus, reason string, only []domain.AppointmentStatus) (*domain.Appointment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed(cur.Status, to, only) {
		return nil, &domain.TransitionError{Entity: "appointment", From: string(cur.Status), To: string(to)}
	}

	updated, err := s.store.UpdateAppointmentStatus(ctx, id, cur.Status, to, reason)
	if errors.Is(err, domain.ErrAppointmentNotFound) {
		// status changed between read and write; report against the new one
		latest, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &domain.TransitionError{Entity: "appointment", From: string(latest.Status), To: string(to)}
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.metrics.Transition(string(to))
	s.log.Info(EventAppointmentStatus,
		zap.String("appointment_id", id.String()),
		zap.String("from", string(cur.Status)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

func allowed(from, to domain.AppointmentStatus, only []domain.AppointmentStatus) bool {
	if !from.CanTransitionTo(to) {
		return false
	}
	if len(only) == 0 {
		return true
	}
	for _, st := range only {
		if st == from {
			return true
		}
	}
	return false
}

func (s *Service) notify(ctx context.Context, appt *domain.Appointment, kind notify.Kind, msg string) {
	s.notifier.Notify(ctx, notify.Event{
		RecipientID: appt.PatientID,
		Kind:        kind,
		Message:     msg,
		Reference:   appt.ID,
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	return retry.Read(ctx, func(ctx context.Context) (*domain.Appointment, error) {
		return s.store.GetAppointment(ctx, id)
	})
}

// List returns appointments matching f ordered by date then start time.
func (s *Service) List(ctx context.Context, f domain.AppointmentFilter) ([]domain.Appointment, error) {
	list, err := retry.Read(ctx, func(ctx context.Context) ([]domain.Appointment, error) {
		return s.store.ListAppointments(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return list, nil
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error) {
	d := domain.DateOf(date)
	return s.List(ctx, domain.AppointmentFilter{DoctorID: &doctorID, Date: &d})
}

// ListForPatient lists a patient's appointments, optionally for one date.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, date *time.Time) ([]domain.Appointment, error) {
	f := domain.AppointmentFilter{PatientID: &patientID}
	if date != nil {
		d := domain.DateOf(*date)
		f.Date = &d
	}
	return s.List(ctx, f)
}

func (s *Service) ListByStatus(ctx context.Context, status domain.AppointmentStatus) ([]domain.Appointment, error) {
	return s.List(ctx, domain.AppointmentFilter{Statuses: []domain.AppointmentStatus{status}})
}

type SweepResult struct {
	Expired int
	NoShows int
}

// SweepStale retires appointments the clock has overtaken: PENDING requests
// whose start has passed are cancelled, and with a positive NoShowGrace,
// APPROVED or SCHEDULED appointments whose end plus grace has passed become
// NO_SHOW. Appointments that moved on concurrently are skipped.
func (s *Service) SweepStale(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	tomorrow := domain.DateOf(now.In(s.cfg.Location)).AddDate(0, 0, 1)

	pending, err := s.List(ctx, domain.AppointmentFilter{
		Statuses: []domain.AppointmentStatus{domain.StatusPending},
		Before:   &tomorrow,
	})
	if err != nil {
		return res, fmt.Errorf("find stale requests: %w", err)
	}
	for i := range pending {
		appt := pending[i]
		if appt.StartsAt(s.cfg.Location).After(now) {
			continue
		}
		updated, err := s.store.UpdateAppointmentStatus(ctx, appt.ID, domain.StatusPending, domain.StatusCancelled, "request expired")
		if errors.Is(err, domain.ErrAppointmentNotFound) {
			continue
		}
		if err != nil {
			s.log.Error("failed to expire appointment", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		res.Expired++
		s.metrics.Transition(string(domain.StatusCancelled))
		s.log.Info(EventAppointmentExpired, zap.String("appointment_id", appt.ID.String()), zap.String("reason", "worker"))
		s.notify(ctx, updated, notify.KindAppointmentCancelled,
			fmt.Sprintf("Your appointment request for %s at %s expired before it was approved.", updated.Date.Format(domain.DateLayout), updated.Start))
	}

	if s.cfg.NoShowGrace <= 0 {
		return res, nil
	}

	booked, err := s.List(ctx, domain.AppointmentFilter{
		Statuses: []domain.AppointmentStatus{domain.StatusApproved, domain.StatusScheduled},
		Before:   &tomorrow,
	})
	if err != nil {
		return res, fmt.Errorf("find missed appointments: %w", err)
	}
	for _, appt := range booked {
		if appt.EndsAt(s.cfg.Location).Add(s.cfg.NoShowGrace).After(now) {
			continue
		}
		_, err := s.store.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, domain.StatusNoShow, "")
		if errors.Is(err, domain.ErrAppointmentNotFound) {
			continue
		}
		if err != nil {
			s.log.Error("failed to mark no-show", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		res.NoShows++
		s.metrics.Transition(string(domain.StatusNoShow))
		s.log.Info(EventAppointmentStatus,
			zap.String("appointment_id", appt.ID.String()),
			zap.String("from", string(appt.Status)),
			zap.String("to", string(domain.StatusNoShow)),
			zap.String("reason", "worker"),
		)
	}
	return res, nil
}
