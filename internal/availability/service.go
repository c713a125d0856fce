// Package availability manages the weekly windows in which a doctor accepts
// appointments.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/conflict"
	"github.com/hackgods/hospital-scheduling/internal/domain"
	"github.com/hackgods/hospital-scheduling/internal/lock"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
	"github.com/hackgods/hospital-scheduling/internal/retry"
)

// SlotInput is one entry of a full weekly schedule.
type SlotInput struct {
	DayOfWeek time.Weekday
	Start     domain.Clock
	End       domain.Clock
	Enabled   bool
}

type Service struct {
	store   domain.Store
	locker  lock.Locker
	log     *zap.Logger
	metrics *metrics.Collector
}

func NewService(store domain.Store, locker lock.Locker, log *zap.Logger, m *metrics.Collector) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, locker: locker, log: log, metrics: m}
}

func (s *Service) guard(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer s.metrics.ObserveLock("availability", start)
	return lock.Guard(ctx, s.locker, keys, fn)
}

func validateWindow(day time.Weekday, start, end domain.Clock) error {
	if day < time.Sunday || day > time.Saturday {
		return fmt.Errorf("%w: day of week %d", domain.ErrInvalidInput, int(day))
	}
	if !start.Valid() || !end.Valid() || end <= start {
		return domain.ErrInvalidInterval
	}
	return nil
}

// ListSlots returns the doctor's slots ordered by day then start time.
func (s *Service) ListSlots(ctx context.Context, doctorID uuid.UUID) ([]domain.AvailabilitySlot, error) {
	slots, err := retry.Read(ctx, func(ctx context.Context) ([]domain.AvailabilitySlot, error) {
		return s.store.ListSlots(ctx, doctorID)
	})
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// AddSlot creates an enabled slot. It fails with ErrSlotConflict when the
// window overlaps another enabled slot of the same doctor on the same day.
func (s *Service) AddSlot(ctx context.Context, doctorID uuid.UUID, day time.Weekday, start, end domain.Clock) (*domain.AvailabilitySlot, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor id is required", domain.ErrInvalidInput)
	}
	if err := validateWindow(day, start, end); err != nil {
		return nil, err
	}

	slot := &domain.AvailabilitySlot{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		DayOfWeek: day,
		Start:     start,
		End:       end,
		Enabled:   true,
	}

	err := s.guard(ctx, []string{lock.AvailabilityKey(doctorID, day)}, func(ctx context.Context) error {
		existing, err := s.ListSlots(ctx, doctorID)
		if err != nil {
			return err
		}
		if other := conflict.SlotOverlaps(*slot, existing); other != nil {
			return fmt.Errorf("%w: %s %s-%s", domain.ErrSlotConflict, other.DayOfWeek, other.Start, other.End)
		}
		if err := s.store.SaveSlot(ctx, slot); err != nil {
			return fmt.Errorf("save slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("availability slot added",
		zap.String("doctor_id", doctorID.String()),
		zap.String("slot_id", slot.ID.String()),
		zap.String("day", day.String()),
		zap.Stringer("start", start),
		zap.Stringer("end", end),
	)
	return slot, nil
}

// RemoveSlot deletes a slot. Appointments already booked inside it are kept.
func (s *Service) RemoveSlot(ctx context.Context, slotID uuid.UUID) error {
	slot, err := retry.Read(ctx, func(ctx context.Context) (*domain.AvailabilitySlot, error) {
		return s.store.GetSlot(ctx, slotID)
	})
	if err != nil {
		return err
	}

	return s.guard(ctx, []string{lock.AvailabilityKey(slot.DoctorID, slot.DayOfWeek)}, func(ctx context.Context) error {
		ok, err := s.store.DeleteSlot(ctx, slotID)
		if err != nil {
			return fmt.Errorf("delete slot: %w", err)
		}
		if !ok {
			return domain.ErrSlotNotFound
		}
		s.log.Info("availability slot removed",
			zap.String("doctor_id", slot.DoctorID.String()),
			zap.String("slot_id", slotID.String()),
		)
		return nil
	})
}

// SetSlotEnabled toggles a slot. Re-enabling runs the overlap check again
// since another slot may have taken the window meanwhile.
func (s *Service) SetSlotEnabled(ctx context.Context, slotID uuid.UUID, enabled bool) (*domain.AvailabilitySlot, error) {
	slot, err := retry.Read(ctx, func(ctx context.Context) (*domain.AvailabilitySlot, error) {
		return s.store.GetSlot(ctx, slotID)
	})
	if err != nil {
		return nil, err
	}

	var updated *domain.AvailabilitySlot
	err = s.guard(ctx, []string{lock.AvailabilityKey(slot.DoctorID, slot.DayOfWeek)}, func(ctx context.Context) error {
		cur, err := s.store.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if cur.Enabled == enabled {
			updated = cur
			return nil
		}
		if enabled {
			existing, err := s.ListSlots(ctx, cur.DoctorID)
			if err != nil {
				return err
			}
			if other := conflict.SlotOverlaps(*cur, existing); other != nil {
				return fmt.Errorf("%w: %s %s-%s", domain.ErrSlotConflict, other.DayOfWeek, other.Start, other.End)
			}
		}
		cur.Enabled = enabled
		if err := s.store.SaveSlot(ctx, cur); err != nil {
			return fmt.Errorf("save slot: %w", err)
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReplaceSchedule swaps the doctor's whole weekly schedule for inputs. The
// set is validated up front and written in one transaction, so a rejected
// schedule leaves the old one untouched.
func (s *Service) ReplaceSchedule(ctx context.Context, doctorID uuid.UUID, inputs []SlotInput) ([]domain.AvailabilitySlot, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor id is required", domain.ErrInvalidInput)
	}

	slots := make([]domain.AvailabilitySlot, 0, len(inputs))
	for i, in := range inputs {
		if err := validateWindow(in.DayOfWeek, in.Start, in.End); err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		candidate := domain.AvailabilitySlot{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			DayOfWeek: in.DayOfWeek,
			Start:     in.Start,
			End:       in.End,
			Enabled:   in.Enabled,
		}
		if candidate.Enabled {
			if other := conflict.SlotOverlaps(candidate, slots); other != nil {
				return nil, fmt.Errorf("slot %d: %w: %s %s-%s", i, domain.ErrSlotConflict, other.DayOfWeek, other.Start, other.End)
			}
		}
		slots = append(slots, candidate)
	}

	keys := make([]string, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		keys = append(keys, lock.AvailabilityKey(doctorID, d))
	}

	err := s.guard(ctx, keys, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(repo domain.Repository) error {
			if _, err := repo.DeleteSlotsForDoctor(ctx, doctorID); err != nil {
				return fmt.Errorf("clear schedule: %w", err)
			}
			for i := range slots {
				if err := repo.SaveSlot(ctx, &slots[i]); err != nil {
					return fmt.Errorf("save slot: %w", err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("availability schedule replaced",
		zap.String("doctor_id", doctorID.String()),
		zap.Int("slots", len(slots)),
	)
	return s.ListSlots(ctx, doctorID)
}
