package appointment

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/domain"
	"github.com/hackgods/hospital-scheduling/internal/lock"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	"github.com/hackgods/hospital-scheduling/internal/store"
)

// 2025-03-03 is a Monday.
var (
	monday  = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	tuesday = monday.AddDate(0, 0, 1)
)

func at(day time.Time, h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type fixture struct {
	svc      *Service
	store    domain.Store
	locker   *lock.Local
	notifier *recordingNotifier
	doctor   uuid.UUID
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureOn(t, cfg, store.NewMemory())
}

func newFixtureOn(t *testing.T, cfg Config, st domain.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:    st,
		locker:   lock.NewLocal(10 * time.Second),
		notifier: &recordingNotifier{},
		doctor:   uuid.New(),
	}
	f.svc = NewService(f.store, f.locker, cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithNotifier(f.notifier),
	)
	return f
}

func (f *fixture) addSlot(t *testing.T, day time.Weekday, start, end domain.Clock) {
	t.Helper()
	require.NoError(t, f.store.SaveSlot(context.Background(), &domain.AvailabilitySlot{
		DoctorID:  f.doctor,
		DayOfWeek: day,
		Start:     start,
		End:       end,
		Enabled:   true,
	}))
}

func (f *fixture) book(patient uuid.UUID, when time.Time) (*domain.Appointment, error) {
	return f.svc.Schedule(context.Background(), ScheduleRequest{
		PatientID: patient,
		DoctorID:  f.doctor,
		At:        when,
		Reason:    "checkup",
	})
}

func TestScheduleAvailabilityContainment(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSlot(t, time.Monday, domain.NewClock(9, 0), domain.NewClock(12, 0))

	_, err := f.svc.Schedule(context.Background(), ScheduleRequest{
		PatientID: uuid.New(), DoctorID: f.doctor, At: at(monday, 8, 30), Duration: time.Hour,
	})
	assert.ErrorIs(t, err, domain.ErrOutsideAvailability)

	appt, err := f.book(uuid.New(), at(monday, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, appt.Status)
	assert.Equal(t, domain.NewClock(9, 0), appt.Start)
	assert.Equal(t, domain.NewClock(9, 30), appt.End)
	assert.True(t, appt.Date.Equal(monday))

	// ends exactly at the slot end
	_, err = f.book(uuid.New(), at(monday, 11, 30))
	assert.NoError(t, err)

	// runs past the slot end
	_, err = f.book(uuid.New(), at(monday, 11, 45))
	assert.ErrorIs(t, err, domain.ErrOutsideAvailability)

	// wrong weekday
	_, err = f.book(uuid.New(), at(tuesday, 9, 0))
	assert.ErrorIs(t, err, domain.ErrOutsideAvailability)
}

func TestScheduleIgnoresDisabledSlots(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.store.SaveSlot(context.Background(), &domain.AvailabilitySlot{
		DoctorID: f.doctor, DayOfWeek: time.Monday, Start: domain.NewClock(9, 0), End: domain.NewClock(12, 0),
	}))

	_, err := f.book(uuid.New(), at(monday, 9, 0))
	assert.ErrorIs(t, err, domain.ErrOutsideAvailability)
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSlot(t, time.Monday, 0, domain.EndOfDay)
	ctx := context.Background()

	_, err := f.svc.Schedule(ctx, ScheduleRequest{DoctorID: f.doctor, At: at(monday, 9, 0)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Schedule(ctx, ScheduleRequest{PatientID: uuid.New(), DoctorID: f.doctor})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Schedule(ctx, ScheduleRequest{PatientID: uuid.New(), DoctorID: f.doctor, At: at(monday, 9, 0), Duration: -time.Minute})
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)

	// would cross midnight
	_, err = f.svc.Schedule(ctx, ScheduleRequest{PatientID: uuid.New(), DoctorID: f.doctor, At: at(monday, 23, 45)})
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)

	// no silent truncation to the minute
	_, err = f.svc.Schedule(ctx, ScheduleRequest{PatientID: uuid.New(), DoctorID: f.doctor, At: at(monday, 10, 0).Add(30 * time.Second)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.Schedule(ctx, ScheduleRequest{PatientID: uuid.New(), DoctorID: f.doctor, At: at(monday, 10, 0).Add(time.Millisecond)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.Schedule(ctx, ScheduleRequest{PatientID: uuid.New(), DoctorID: f.doctor, At: at(monday, 10, 0), Duration: 90 * time.Second})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// ending at 24:00 is fine
	_, err = f.svc.Schedule(ctx, ScheduleRequest{PatientID: uuid.New(), DoctorID: f.doctor, At: at(monday, 23, 30)})
	assert.NoError(t, err)
}

func TestScheduleResolvesFacilityTimezone(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	f := newFixture(t, Config{Location: zone})
	f.addSlot(t, time.Tuesday, domain.NewClock(0, 0), domain.NewClock(2, 0))

	// Monday 22:30 UTC is Tuesday 00:30 at the facility
	appt, err := f.book(uuid.New(), at(monday, 22, 30))
	require.NoError(t, err)
	assert.True(t, appt.Date.Equal(tuesday))
	assert.Equal(t, domain.NewClock(0, 30), appt.Start)
}

func TestEndToEndBookingScenario(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSlot(t, time.Tuesday, domain.NewClock(10, 0), domain.NewClock(11, 0))
	ctx := context.Background()
	p1, p2 := uuid.New(), uuid.New()

	a1, err := f.book(p1, at(tuesday, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, a1.Status)

	_, err = f.book(p2, at(tuesday, 10, 15))
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	approved, err := f.svc.Approve(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)

	cancelled, err := f.svc.Cancel(ctx, a1.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	a2, err := f.book(p2, at(tuesday, 10, 15))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, a2.Status)
	assert.NotEqual(t, a1.ID, a2.ID)

	assert.Equal(t, []notify.Kind{notify.KindAppointmentApproved, notify.KindAppointmentCancelled}, f.notifier.kinds())
}

func sqliteStore(t *testing.T) domain.Store {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "scheduling.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = db.MigrateSQLite(ctx, conn)
	require.NoError(t, err)
	return store.NewSQLite(conn)
}

func TestConcurrentSchedulingNoDoubleBooking(t *testing.T) {
	backends := map[string]func(t *testing.T) domain.Store{
		"memory": func(*testing.T) domain.Store { return store.NewMemory() },
		"sqlite": sqliteStore,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixtureOn(t, Config{}, open(t))
			concurrentBookings(t, f)
		})
	}
}

func concurrentBookings(t *testing.T, f *fixture) {
	f.addSlot(t, time.Monday, domain.NewClock(9, 0), domain.NewClock(12, 0))

	// every start lies within 20 minutes of every other, so with 30 minute
	// appointments all requests overlap pairwise
	starts := []int{0, 5, 10, 15, 20}
	const perStart = 10

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		taken   int
		unknown []error
	)
	for _, off := range starts {
		for i := 0; i < perStart; i++ {
			wg.Add(1)
			go func(off int) {
				defer wg.Done()
				_, err := f.book(uuid.New(), at(monday, 10, off))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, domain.ErrSlotTaken):
					taken++
				default:
					unknown = append(unknown, err)
				}
			}(off)
		}
	}
	wg.Wait()

	assert.Empty(t, unknown)
	assert.Equal(t, 1, wins)
	assert.Equal(t, len(starts)*perStart-1, taken)

	active, err := f.svc.List(context.Background(), domain.AppointmentFilter{
		DoctorID: &f.doctor,
		Statuses: domain.ActiveAppointmentStatuses(),
	})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestScheduleBusyWhenLockHeld(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSlot(t, time.Monday, domain.NewClock(9, 0), domain.NewClock(12, 0))
	f.svc.locker = lock.NewLocal(20 * time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.svc.locker.WithLock(context.Background(), []string{lock.AppointmentKey(f.doctor, monday)}, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	_, err := f.book(uuid.New(), at(monday, 9, 0))
	assert.ErrorIs(t, err, domain.ErrBusy)
}

func TestTerminalStatusesFreeTheSlot(t *testing.T) {
	ctx := context.Background()
	retire := map[string]func(f *fixture, id uuid.UUID) error{
		"cancelled": func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.Cancel(ctx, id, "changed plans")
			return err
		},
		"rejected": func(f *fixture, id uuid.UUID) error {
			_, err := f.svc.Reject(ctx, id, "doctor away")
			return err
		},
		"completed": func(f *fixture, id uuid.UUID) error {
			if _, err := f.svc.Approve(ctx, id); err != nil {
				return err
			}
			_, err := f.svc.MarkCompleted(ctx, id)
			return err
		},
		"no show": func(f *fixture, id uuid.UUID) error {
			if _, err := f.svc.Approve(ctx, id); err != nil {
				return err
			}
			if _, err := f.svc.Confirm(ctx, id); err != nil {
				return err
			}
			_, err := f.svc.MarkNoShow(ctx, id)
			return err
		},
	}

	for name, fn := range retire {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.addSlot(t, time.Monday, domain.NewClock(9, 0), domain.NewClock(12, 0))

			first, err := f.book(uuid.New(), at(monday, 9, 0))
			require.NoError(t, err)
			require.NoError(t, fn(f, first.ID))

			_, err = f.book(uuid.New(), at(monday, 9, 0))
			assert.NoError(t, err)
		})
	}
}

func TestIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.addSlot(t, time.Monday, 0, domain.EndOfDay)

	book := func(h int) *domain.Appointment {
		a, err := f.book(uuid.New(), at(monday, h, 0))
		require.NoError(t, err)
		return a
	}

	pending := book(8)
	_, err := f.svc.Confirm(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.MarkCompleted(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.MarkNoShow(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	approved := book(9)
	_, err = f.svc.Approve(ctx, approved.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, approved.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Reject(ctx, approved.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	completed := book(10)
	_, err = f.svc.Approve(ctx, completed.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkCompleted(ctx, completed.ID)
	require.NoError(t, err)

	for name, op := range map[string]func(uuid.UUID) (*domain.Appointment, error){
		"approve":  func(id uuid.UUID) (*domain.Appointment, error) { return f.svc.Approve(ctx, id) },
		"confirm":  func(id uuid.UUID) (*domain.Appointment, error) { return f.svc.Confirm(ctx, id) },
		"cancel":   func(id uuid.UUID) (*domain.Appointment, error) { return f.svc.Cancel(ctx, id, "") },
		"no-show":  func(id uuid.UUID) (*domain.Appointment, error) { return f.svc.MarkNoShow(ctx, id) },
		"complete": func(id uuid.UUID) (*domain.Appointment, error) { return f.svc.MarkCompleted(ctx, id) },
	} {
		_, err := op(completed.ID)
		var te *domain.TransitionError
		require.ErrorAs(t, err, &te, name)
		assert.Equal(t, "COMPLETED", te.From, name)
	}

	_, err = f.svc.Approve(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.addSlot(t, time.Monday, domain.NewClock(9, 0), domain.NewClock(12, 0))

	a, err := f.book(uuid.New(), at(monday, 9, 0))
	require.NoError(t, err)

	first, err := f.svc.Cancel(ctx, a.ID, "first")
	require.NoError(t, err)
	second, err := f.svc.Cancel(ctx, a.ID, "second")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCancelled, second.Status)
	assert.Equal(t, "first", second.StatusReason)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Len(t, f.notifier.kinds(), 1)
}

// APPROVED and SCHEDULED are kept as separate states: Confirm is the only
// way into SCHEDULED, and completion or no-show is also accepted straight
// from APPROVED for clinics that skip the confirm step.
func TestApprovedAndScheduledAreDistinct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.addSlot(t, time.Monday, 0, domain.EndOfDay)

	a, err := f.book(uuid.New(), at(monday, 9, 0))
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)

	scheduled, err := f.svc.Confirm(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, scheduled.Status)

	_, err = f.svc.Confirm(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	b, err := f.book(uuid.New(), at(monday, 10, 0))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, b.ID)
	require.NoError(t, err)
	done, err := f.svc.MarkCompleted(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	c, err := f.book(uuid.New(), at(monday, 11, 0))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, c.ID)
	require.NoError(t, err)
	missed, err := f.svc.MarkNoShow(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNoShow, missed.Status)
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.addSlot(t, time.Monday, 0, domain.EndOfDay)
	f.addSlot(t, time.Tuesday, 0, domain.EndOfDay)
	patient := uuid.New()

	late, err := f.book(patient, at(monday, 15, 0))
	require.NoError(t, err)
	early, err := f.book(uuid.New(), at(monday, 8, 0))
	require.NoError(t, err)
	next, err := f.book(patient, at(tuesday, 9, 0))
	require.NoError(t, err)

	day, err := f.svc.ListForDoctor(ctx, f.doctor, monday)
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, early.ID, day[0].ID)
	assert.Equal(t, late.ID, day[1].ID)

	mine, err := f.svc.ListForPatient(ctx, patient, nil)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, late.ID, mine[0].ID)
	assert.Equal(t, next.ID, mine[1].ID)

	onTuesday, err := f.svc.ListForPatient(ctx, patient, &tuesday)
	require.NoError(t, err)
	require.Len(t, onTuesday, 1)

	_, err = f.svc.Approve(ctx, next.ID)
	require.NoError(t, err)
	approved, err := f.svc.ListByStatus(ctx, domain.StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, next.ID, approved[0].ID)
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{NoShowGrace: 15 * time.Minute})
	f.addSlot(t, time.Monday, 0, domain.EndOfDay)
	f.addSlot(t, time.Tuesday, 0, domain.EndOfDay)

	stale, err := f.book(uuid.New(), at(monday, 9, 0))
	require.NoError(t, err)
	future, err := f.book(uuid.New(), at(tuesday, 9, 0))
	require.NoError(t, err)
	missed, err := f.book(uuid.New(), at(monday, 10, 0))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, missed.ID)
	require.NoError(t, err)
	inGrace, err := f.book(uuid.New(), at(monday, 11, 0))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, inGrace.ID)
	require.NoError(t, err)

	// 11:40: 10:00-10:30 is past grace, 11:00-11:30 is not
	res, err := f.svc.SweepStale(ctx, at(monday, 11, 40))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 1, NoShows: 1}, res)

	got, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, "request expired", got.StatusReason)

	got, err = f.svc.Get(ctx, missed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNoShow, got.Status)

	got, err = f.svc.Get(ctx, inGrace.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)

	got, err = f.svc.Get(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	// a second pass finds nothing new
	res, err = f.svc.SweepStale(ctx, at(monday, 11, 40))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestSweepStaleWithoutGraceLeavesBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.addSlot(t, time.Monday, 0, domain.EndOfDay)

	a, err := f.book(uuid.New(), at(monday, 9, 0))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, a.ID)
	require.NoError(t, err)

	res, err := f.svc.SweepStale(ctx, at(tuesday, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, res.NoShows)
}
