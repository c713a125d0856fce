package admission

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/domain"
	"github.com/hackgods/hospital-scheduling/internal/lock"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	"github.com/hackgods/hospital-scheduling/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type ward struct {
	id, room uuid.UUID
	beds     []*domain.Bed
}

func setup(t *testing.T, beds int) (*Service, *store.Memory, *recordingNotifier, ward) {
	t.Helper()
	mem := store.NewMemory()
	svc, n, w := setupOn(t, mem, beds)
	return svc, mem, n, w
}

func setupOn(t *testing.T, st domain.Store, beds int) (*Service, *recordingNotifier, ward) {
	t.Helper()
	n := &recordingNotifier{}
	fixed := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	svc := NewService(st, lock.NewLocal(10*time.Second),
		WithLogger(zaptest.NewLogger(t)),
		WithNotifier(n),
		WithClock(func() time.Time { return fixed }),
	)

	w := ward{id: uuid.New(), room: uuid.New()}
	for i := 0; i < beds; i++ {
		b, err := svc.RegisterBed(context.Background(), w.id, w.room, string(rune('A'+i)))
		require.NoError(t, err)
		w.beds = append(w.beds, b)
	}
	return svc, n, w
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

var backends = map[string]func(t *testing.T) domain.Store{
	"memory": func(*testing.T) domain.Store { return store.NewMemory() },
	"sqlite": sqliteStore,
}

func (w ward) admit(patient uuid.UUID, bed int) AdmitRequest {
	return AdmitRequest{
		PatientID:  patient,
		WardID:     w.id,
		RoomID:     w.room,
		BedID:      w.beds[bed].ID,
		AdmittedBy: uuid.New(),
		Reason:     "observation",
	}
}

func (w ward) to(bed int) TransferRequest {
	return TransferRequest{WardID: w.id, RoomID: w.room, BedID: w.beds[bed].ID}
}

func assertBed(t *testing.T, svc *Service, id uuid.UUID, holder *uuid.UUID) {
	t.Helper()
	bed, err := svc.GetBed(context.Background(), id)
	require.NoError(t, err)
	if holder == nil {
		assert.False(t, bed.Occupied)
		assert.Nil(t, bed.CurrentAdmissionID)
		return
	}
	assert.True(t, bed.Occupied)
	require.NotNil(t, bed.CurrentAdmissionID)
	assert.Equal(t, *holder, *bed.CurrentAdmissionID)
}

func TestAdmissionScenario(t *testing.T) {
	svc, _, n, w := setup(t, 2)
	ctx := context.Background()
	p1, p2 := uuid.New(), uuid.New()

	a1, err := svc.Admit(ctx, w.admit(p1, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionActive, a1.Status)
	assertBed(t, svc, w.beds[0].ID, &a1.ID)

	_, err = svc.Admit(ctx, w.admit(p2, 0))
	assert.ErrorIs(t, err, domain.ErrBedOccupied)

	_, err = svc.Admit(ctx, w.admit(p1, 1))
	assert.ErrorIs(t, err, domain.ErrPatientAlreadyAdmitted)

	moved, err := svc.Transfer(ctx, a1.ID, w.to(1))
	require.NoError(t, err)
	assert.Equal(t, w.beds[1].ID, moved.BedID)
	assertBed(t, svc, w.beds[0].ID, nil)
	assertBed(t, svc, w.beds[1].ID, &a1.ID)

	a2, err := svc.Admit(ctx, w.admit(p2, 0))
	require.NoError(t, err)

	transfers, err := svc.ListTransfers(ctx, a1.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, w.beds[0].ID, transfers[0].FromBedID)
	assert.Equal(t, w.beds[1].ID, transfers[0].ToBedID)

	summary := uuid.New()
	out, err := svc.Discharge(ctx, a1.ID, &summary)
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionDischarged, out.Status)
	require.NotNil(t, out.DischargedAt)
	assert.Equal(t, summary, *out.DischargeSummaryID)
	assertBed(t, svc, w.beds[1].ID, nil)
	assertBed(t, svc, w.beds[0].ID, &a2.ID)

	_, err = svc.Discharge(ctx, a1.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	active, err := svc.FindActiveAdmission(ctx, p1)
	require.NoError(t, err)
	assert.Nil(t, active)

	// discharged patients can be admitted again
	_, err = svc.Admit(ctx, w.admit(p1, 1))
	assert.NoError(t, err)

	require.Len(t, n.events, 1)
	assert.Equal(t, notify.KindPatientDischarged, n.events[0].Kind)
	assert.Equal(t, p1, n.events[0].RecipientID)
}

func TestAdmitValidation(t *testing.T) {
	svc, _, _, w := setup(t, 1)
	ctx := context.Background()

	_, err := svc.Admit(ctx, AdmitRequest{PatientID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	req := w.admit(uuid.New(), 0)
	req.BedID = uuid.New()
	_, err = svc.Admit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrBedNotFound)

	req = w.admit(uuid.New(), 0)
	req.RoomID = uuid.New()
	_, err = svc.Admit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrBedLocationMismatch)

	assertBed(t, svc, w.beds[0].ID, nil)
}

func TestTransferRules(t *testing.T) {
	svc, _, _, w := setup(t, 3)
	ctx := context.Background()

	a1, err := svc.Admit(ctx, w.admit(uuid.New(), 0))
	require.NoError(t, err)
	a2, err := svc.Admit(ctx, w.admit(uuid.New(), 1))
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, a1.ID, w.to(0))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Transfer(ctx, a1.ID, w.to(1))
	assert.ErrorIs(t, err, domain.ErrBedOccupied)
	assertBed(t, svc, w.beds[0].ID, &a1.ID)
	assertBed(t, svc, w.beds[1].ID, &a2.ID)

	_, err = svc.Transfer(ctx, uuid.New(), w.to(2))
	assert.ErrorIs(t, err, domain.ErrAdmissionNotFound)

	_, err = svc.Discharge(ctx, a2.ID, nil)
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, a2.ID, w.to(2))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTransferRollsBackOnWriteFailure(t *testing.T) {
	svc, mem, _, w := setup(t, 2)
	ctx := context.Background()

	a, err := svc.Admit(ctx, w.admit(uuid.New(), 0))
	require.NoError(t, err)

	injected := errors.New("connection lost")
	mem.Fault = func(op string) error {
		if op == "CreateTransfer" {
			return injected
		}
		return nil
	}

	_, err = svc.Transfer(ctx, a.ID, w.to(1))
	assert.ErrorIs(t, err, injected)

	mem.Fault = nil
	assertBed(t, svc, w.beds[0].ID, &a.ID)
	assertBed(t, svc, w.beds[1].ID, nil)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, w.beds[0].ID, got.BedID)

	transfers, err := svc.ListTransfers(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestAdmitRollsBackOnWriteFailure(t *testing.T) {
	svc, mem, _, w := setup(t, 1)
	ctx := context.Background()
	patient := uuid.New()

	mem.Fault = func(op string) error {
		if op == "SaveBed" {
			return errors.New("disk full")
		}
		return nil
	}
	_, err := svc.Admit(ctx, w.admit(patient, 0))
	require.Error(t, err)
	mem.Fault = nil

	active, err := svc.FindActiveAdmission(ctx, patient)
	require.NoError(t, err)
	assert.Nil(t, active)
	assertBed(t, svc, w.beds[0].ID, nil)
}

func TestConcurrentAdmitsOneBed(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			svc, _, w := setupOn(t, open(t), 1)
			concurrentAdmitsOneBed(t, svc, w)
		})
	}
}

func concurrentAdmitsOneBed(t *testing.T, svc *Service, w ward) {
	ctx := context.Background()

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		occupied int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Admit(ctx, w.admit(uuid.New(), 0))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrBedOccupied):
				occupied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, occupied)
}

func TestConcurrentAdmitsOnePatient(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			svc, _, w := setupOn(t, open(t), 5)
			concurrentAdmitsOnePatient(t, svc, w)
		})
	}
}

func concurrentAdmitsOnePatient(t *testing.T, svc *Service, w ward) {
	ctx := context.Background()
	patient := uuid.New()

	var wg sync.WaitGroup
	errs := make([]error, len(w.beds))
	for i := range w.beds {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Admit(ctx, w.admit(patient, i))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrPatientAlreadyAdmitted)
	}
	assert.Equal(t, 1, wins)

	free, err := svc.ListBeds(ctx, domain.BedFilter{WardID: &w.id, FreeOnly: true})
	require.NoError(t, err)
	assert.Len(t, free, len(w.beds)-1)
}

func TestRegisterBedValidation(t *testing.T) {
	svc, _, _, _ := setup(t, 0)
	_, err := svc.RegisterBed(context.Background(), uuid.New(), uuid.New(), "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDischargeOnlyCountsReleasedBeds(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	col := metrics.NewCollector("test")
	svc := NewService(mem, lock.NewLocal(time.Second),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(col),
	)
	w := ward{id: uuid.New(), room: uuid.New()}
	for _, n := range []string{"A", "B"} {
		b, err := svc.RegisterBed(ctx, w.id, w.room, n)
		require.NoError(t, err)
		w.beds = append(w.beds, b)
	}

	healthy, err := svc.Admit(ctx, w.admit(uuid.New(), 0))
	require.NoError(t, err)
	drifted, err := svc.Admit(ctx, w.admit(uuid.New(), 1))
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(col.OccupiedBeds))

	// bed B now claims to belong to some other admission
	bed, err := mem.GetBed(ctx, w.beds[1].ID)
	require.NoError(t, err)
	bed.Release()
	require.NoError(t, bed.Claim(uuid.New()))
	require.NoError(t, mem.SaveBed(ctx, bed))

	_, err = svc.Discharge(ctx, drifted.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(col.OccupiedBeds), "a bed the admission did not hold stays counted")

	_, err = svc.Discharge(ctx, healthy.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(col.OccupiedBeds))
}
