package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/domain"
	"github.com/hackgods/hospital-scheduling/internal/lock"
	"github.com/hackgods/hospital-scheduling/internal/store"
)

func baseConfig() config.Config {
	return config.Config{
		Env:                "test",
		StoreDriver:        config.StoreMemory,
		LockBackend:        config.LockLocal,
		NotifySink:         config.SinkLog,
		LockTTL:            time.Second,
		LockWait:           time.Second,
		AppointmentLength:  20 * time.Minute,
		FacilityTimezone:   "UTC",
		PersistenceTimeout: time.Second,
		NotifyBuffer:       8,
		MetricsNamespace:   "test",
	}
}

func appointmentAt(doctor uuid.UUID, at string) appointment.ScheduleRequest {
	ts, _ := time.Parse(time.RFC3339, at)
	return appointment.ScheduleRequest{PatientID: uuid.New(), DoctorID: doctor, At: ts}
}

func TestNewInMemory(t *testing.T) {
	b, err := New(context.Background(), baseConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { assert.NoError(t, b.Shutdown(context.Background())) }()

	assert.IsType(t, &store.Memory{}, b.Store)
	assert.IsType(t, &lock.Local{}, b.Locker)
	assert.Nil(t, b.PgPool)
	assert.Nil(t, b.Redis)

	ctx := context.Background()
	doctor := uuid.New()
	_, err = b.Availability.AddSlot(ctx, doctor, time.Monday, domain.NewClock(9, 0), domain.NewClock(12, 0))
	require.NoError(t, err)

	appt, err := b.Appointments.Schedule(ctx, appointmentAt(doctor, "2025-03-03T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, domain.NewClock(10, 20), appt.End)

	_, err = b.Appointments.Approve(ctx, appt.ID)
	require.NoError(t, err)
}

func TestNewSQLite(t *testing.T) {
	cfg := baseConfig()
	cfg.StoreDriver = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "nested", "scheduling.db")

	b, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, b.SQLite)
	assert.IsType(t, &store.SQLite{}, b.Store)

	require.NoError(t, b.Shutdown(context.Background()))
	// a second call is a no-op
	require.NoError(t, b.Shutdown(context.Background()))
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := baseConfig()
	cfg.FacilityTimezone = "Nowhere/Special"
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "facility timezone")
}
