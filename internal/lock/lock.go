// Package lock serialises check-then-act sections per resource key.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker runs fn while holding every key. Implementations acquire keys in
// sorted order so multi-key callers cannot deadlock each other, and return
// ErrNotAcquired if the keys cannot be held before ctx ends.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// Normalize sorts keys and drops duplicates and empty keys.
func Normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func AppointmentKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("appointment:%s:%s", doctorID, date.Format("2006-01-02"))
}

func AvailabilityKey(doctorID uuid.UUID, day time.Weekday) string {
	return fmt.Sprintf("availability:%s:%d", doctorID, int(day))
}

func BedKey(bedID uuid.UUID) string {
	return "bed:" + bedID.String()
}

func PatientKey(patientID uuid.UUID) string {
	return "patient:" + patientID.String()
}

// Guard is WithLock with contention reported as domain.ErrBusy, the error
// callers surface to clients as "retry later".
func Guard(ctx context.Context, l Locker, keys []string, fn func(ctx context.Context) error) error {
	err := l.WithLock(ctx, keys, fn)
	if errors.Is(err, ErrNotAcquired) {
		return fmt.Errorf("%w (%s)", domain.ErrBusy, strings.Join(Normalize(keys), ", "))
	}
	return err
}
