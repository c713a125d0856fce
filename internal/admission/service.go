// Package admission tracks inpatient stays and the beds they occupy.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/domain"
	"github.com/hackgods/hospital-scheduling/internal/lock"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	"github.com/hackgods/hospital-scheduling/internal/retry"
)

type AdmitRequest struct {
	PatientID  uuid.UUID
	WardID     uuid.UUID
	RoomID     uuid.UUID
	BedID      uuid.UUID
	AdmittedBy uuid.UUID
	Reason     string
}

type TransferRequest struct {
	WardID uuid.UUID
	RoomID uuid.UUID
	BedID  uuid.UUID
}

type Service struct {
	store    domain.Store
	locker   lock.Locker
	log      *zap.Logger
	notifier notify.Notifier
	metrics  *metrics.Collector
	now      func() time.Time
	timeout  time.Duration
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithMetrics(m *metrics.Collector) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides time.Now for admission and discharge timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithTimeout bounds each operation, store calls included.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func NewService(store domain.Store, locker lock.Locker, opts ...Option) *Service {
	s := &Service{
		store:    store,
		locker:   locker,
		log:      zap.NewNop(),
		notifier: notify.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) guard(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer s.metrics.ObserveLock("bed", start)
	return lock.Guard(ctx, s.locker, keys, fn)
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrBedOccupied):
		return "bed_occupied"
	case errors.Is(err, domain.ErrPatientAlreadyAdmitted):
		return "already_admitted"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	}
	return "error"
}

// Beds

func (s *Service) RegisterBed(ctx context.Context, wardID, roomID uuid.UUID, bedNumber string) (*domain.Bed, error) {
	bedNumber = strings.TrimSpace(bedNumber)
	if wardID == uuid.Nil || roomID == uuid.Nil || bedNumber == "" {
		return nil, fmt.Errorf("%w: ward, room and bed number are required", domain.ErrInvalidInput)
	}
	bed := &domain.Bed{ID: uuid.New(), WardID: wardID, RoomID: roomID, BedNumber: bedNumber}
	if err := s.store.SaveBed(ctx, bed); err != nil {
		return nil, fmt.Errorf("save bed: %w", err)
	}
	s.log.Info("bed registered",
		zap.String("bed_id", bed.ID.String()),
		zap.String("ward_id", wardID.String()),
		zap.String("room_id", roomID.String()),
		zap.String("bed_number", bedNumber),
	)
	return bed, nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*domain.Bed, error) {
	return retry.Read(ctx, func(ctx context.Context) (*domain.Bed, error) {
		return s.store.GetBed(ctx, id)
	})
}

func (s *Service) ListBeds(ctx context.Context, f domain.BedFilter) ([]domain.Bed, error) {
	beds, err := retry.Read(ctx, func(ctx context.Context) ([]domain.Bed, error) {
		return s.store.ListBeds(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("list beds: %w", err)
	}
	return beds, nil
}

func checkLocation(bed *domain.Bed, wardID, roomID uuid.UUID) error {
	if bed.WardID != wardID || bed.RoomID != roomID {
		return fmt.Errorf("%w: bed %s is in ward %s room %s", domain.ErrBedLocationMismatch, bed.ID, bed.WardID, bed.RoomID)
	}
	return nil
}

// Admissions

// Admit places a patient in a free bed. The admission and the bed claim are
// written together; the patient and bed locks keep a concurrent admit from
// seeing either as free.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (adm *domain.Admission, err error) {
	defer func() { s.metrics.Admission("admit", result(err)) }()

	if req.PatientID == uuid.Nil || req.BedID == uuid.Nil || req.WardID == uuid.Nil || req.RoomID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient, ward, room and bed are required", domain.ErrInvalidInput)
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	err = s.guard(ctx, []string{lock.PatientKey(req.PatientID), lock.BedKey(req.BedID)}, func(ctx context.Context) error {
		active, err := s.FindActiveAdmission(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("%w: admission %s", domain.ErrPatientAlreadyAdmitted, active.ID)
		}

		bed, err := s.store.GetBed(ctx, req.BedID)
		if err != nil {
			return err
		}
		if err := checkLocation(bed, req.WardID, req.RoomID); err != nil {
			return err
		}

		a := &domain.Admission{
			ID:         uuid.New(),
			PatientID:  req.PatientID,
			AdmittedAt: s.now().UTC(),
			AdmittedBy: req.AdmittedBy,
			WardID:     req.WardID,
			RoomID:     req.RoomID,
			BedID:      req.BedID,
			Reason:     req.Reason,
			Status:     domain.AdmissionActive,
		}
		if err := bed.Claim(a.ID); err != nil {
			return err
		}

		err = s.store.InTx(ctx, func(repo domain.Repository) error {
			if err := repo.SaveAdmission(ctx, a); err != nil {
				return fmt.Errorf("save admission: %w", err)
			}
			if err := repo.SaveBed(ctx, bed); err != nil {
				return fmt.Errorf("claim bed: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		adm = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.BedsClaimed(1)
	s.log.Info("patient admitted",
		zap.String("admission_id", adm.ID.String()),
		zap.String("patient_id", adm.PatientID.String()),
		zap.String("bed_id", adm.BedID.String()),
	)
	return adm, nil
}

// Transfer moves an active admission to another free bed. Releasing the old
// bed, claiming the new one, updating the admission and recording the move
// happen in one transaction.
func (s *Service) Transfer(ctx context.Context, admissionID uuid.UUID, req TransferRequest) (adm *domain.Admission, err error) {
	defer func() { s.metrics.Admission("transfer", result(err)) }()

	if req.BedID == uuid.Nil || req.WardID == uuid.Nil || req.RoomID == uuid.Nil {
		return nil, fmt.Errorf("%w: ward, room and bed are required", domain.ErrInvalidInput)
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	snapshot, err := s.Get(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	if snapshot.BedID == req.BedID {
		return nil, fmt.Errorf("%w: admission is already in bed %s", domain.ErrInvalidTransition, req.BedID)
	}

	keys := []string{lock.BedKey(snapshot.BedID), lock.BedKey(req.BedID), lock.PatientKey(snapshot.PatientID)}
	err = s.guard(ctx, keys, func(ctx context.Context) error {
		a, err := s.store.GetAdmission(ctx, admissionID)
		if err != nil {
			return err
		}
		if a.Status != domain.AdmissionActive {
			return &domain.TransitionError{Entity: "admission", From: string(a.Status), To: "TRANSFER"}
		}
		if a.BedID != snapshot.BedID {
			// moved by a concurrent transfer after we chose our lock keys
			return fmt.Errorf("%w: admission %s changed beds concurrently", domain.ErrBusy, a.ID)
		}

		dest, err := s.store.GetBed(ctx, req.BedID)
		if err != nil {
			return err
		}
		if err := checkLocation(dest, req.WardID, req.RoomID); err != nil {
			return err
		}
		origin, err := s.store.GetBed(ctx, a.BedID)
		if err != nil {
			return fmt.Errorf("load current bed: %w", err)
		}
		if err := dest.Claim(a.ID); err != nil {
			return err
		}
		origin.Release()

		tr := &domain.BedTransfer{
			ID:            uuid.New(),
			AdmissionID:   a.ID,
			FromWardID:    a.WardID,
			FromRoomID:    a.RoomID,
			FromBedID:     a.BedID,
			ToWardID:      dest.WardID,
			ToRoomID:      dest.RoomID,
			ToBedID:       dest.ID,
			TransferredAt: s.now().UTC(),
		}
		a.WardID, a.RoomID, a.BedID = dest.WardID, dest.RoomID, dest.ID

		err = s.store.InTx(ctx, func(repo domain.Repository) error {
			if err := repo.SaveBed(ctx, origin); err != nil {
				return fmt.Errorf("release bed: %w", err)
			}
			if err := repo.SaveBed(ctx, dest); err != nil {
				return fmt.Errorf("claim bed: %w", err)
			}
			if err := repo.SaveAdmission(ctx, a); err != nil {
				return fmt.Errorf("save admission: %w", err)
			}
			if err := repo.CreateTransfer(ctx, tr); err != nil {
				return fmt.Errorf("record transfer: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		adm = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("patient transferred",
		zap.String("admission_id", adm.ID.String()),
		zap.String("from_bed_id", snapshot.BedID.String()),
		zap.String("to_bed_id", adm.BedID.String()),
	)
	return adm, nil
}

// Discharge ends an active admission and frees its bed. summaryID links the
// discharge summary document when there is one.
func (s *Service) Discharge(ctx context.Context, admissionID uuid.UUID, summaryID *uuid.UUID) (adm *domain.Admission, err error) {
	defer func() { s.metrics.Admission("discharge", result(err)) }()

	ctx, cancel := s.begin(ctx)
	defer cancel()

	snapshot, err := s.Get(ctx, admissionID)
	if err != nil {
		return nil, err
	}

	released := false
	keys := []string{lock.BedKey(snapshot.BedID), lock.PatientKey(snapshot.PatientID)}
	err = s.guard(ctx, keys, func(ctx context.Context) error {
		a, err := s.store.GetAdmission(ctx, admissionID)
		if err != nil {
			return err
		}
		if a.Status != domain.AdmissionActive {
			return &domain.TransitionError{Entity: "admission", From: string(a.Status), To: string(domain.AdmissionDischarged)}
		}
		if a.BedID != snapshot.BedID {
			return fmt.Errorf("%w: admission %s changed beds concurrently", domain.ErrBusy, a.ID)
		}

		bed, err := s.store.GetBed(ctx, a.BedID)
		if err != nil {
			return fmt.Errorf("load bed: %w", err)
		}
		if bed.CurrentAdmissionID != nil && *bed.CurrentAdmissionID == a.ID {
			bed.Release()
		} else {
			s.log.Warn("bed not held by discharged admission",
				zap.String("admission_id", a.ID.String()),
				zap.String("bed_id", bed.ID.String()),
			)
			bed = nil
		}

		now := s.now().UTC()
		a.Status = domain.AdmissionDischarged
		a.DischargedAt = &now
		a.DischargeSummaryID = summaryID

		err = s.store.InTx(ctx, func(repo domain.Repository) error {
			if err := repo.SaveAdmission(ctx, a); err != nil {
				return fmt.Errorf("save admission: %w", err)
			}
			if bed == nil {
				return nil
			}
			if err := repo.SaveBed(ctx, bed); err != nil {
				return fmt.Errorf("release bed: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		adm = a
		released = bed != nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if released {
		s.metrics.BedsClaimed(-1)
	}
	s.notifier.Notify(ctx, notify.Event{
		RecipientID: adm.PatientID,
		Kind:        notify.KindPatientDischarged,
		Message:     fmt.Sprintf("You were discharged on %s.", adm.DischargedAt.Format(domain.DateLayout)),
		Reference:   adm.ID,
	})
	s.log.Info("patient discharged",
		zap.String("admission_id", adm.ID.String()),
		zap.String("patient_id", adm.PatientID.String()),
		zap.String("bed_id", adm.BedID.String()),
	)
	return adm, nil
}

// FindActiveAdmission returns the patient's ACTIVE admission, or nil, nil.
func (s *Service) FindActiveAdmission(ctx context.Context, patientID uuid.UUID) (*domain.Admission, error) {
	active := domain.AdmissionActive
	list, err := retry.Read(ctx, func(ctx context.Context) ([]domain.Admission, error) {
		return s.store.ListAdmissions(ctx, domain.AdmissionFilter{PatientID: &patientID, Status: &active})
	})
	if err != nil {
		return nil, fmt.Errorf("find active admission: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Admission, error) {
	return retry.Read(ctx, func(ctx context.Context) (*domain.Admission, error) {
		return s.store.GetAdmission(ctx, id)
	})
}

// ListTransfers returns the admission's bed moves, oldest first.
func (s *Service) ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]domain.BedTransfer, error) {
	if _, err := s.Get(ctx, admissionID); err != nil {
		return nil, err
	}
	return retry.Read(ctx, func(ctx context.Context) ([]domain.BedTransfer, error) {
		return s.store.ListTransfers(ctx, admissionID)
	})
}
