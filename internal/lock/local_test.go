package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Normalize([]string{"c", "a", "", "b", "a"}))
	assert.Empty(t, Normalize(nil))
}

func TestKeys(t *testing.T) {
	doctor := uuid.MustParse("6f1c2c1e-0000-4000-8000-000000000001")
	date := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "appointment:6f1c2c1e-0000-4000-8000-000000000001:2026-10-20", AppointmentKey(doctor, date))
	assert.Equal(t, "availability:6f1c2c1e-0000-4000-8000-000000000001:2", AvailabilityKey(doctor, time.Tuesday))
	assert.Equal(t, "bed:6f1c2c1e-0000-4000-8000-000000000001", BedKey(doctor))
	assert.Equal(t, "patient:6f1c2c1e-0000-4000-8000-000000000001", PatientKey(doctor))
}

func TestLocalSerialisesSameKey(t *testing.T) {
	l := NewLocal(0)
	var inside, maxInside int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), []string{"k"}, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Len(), "entries are dropped once released")
}

func TestLocalIndependentKeysRunInParallel(t *testing.T) {
	l := NewLocal(0)
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), []string{"a"}, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- l.WithLock(context.Background(), []string{"b"}, func(ctx context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	close(release)
}

func TestLocalWaitTimeout(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = l.WithLock(context.Background(), []string{"bed:1"}, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	called := false
	err := l.WithLock(context.Background(), []string{"bed:1"}, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)
}

func TestLocalMultiKeyNoDeadlock(t *testing.T) {
	l := NewLocal(2 * time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		keys := []string{"bed:a", "bed:b"}
		if i%2 == 1 {
			keys = []string{"bed:b", "bed:a"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.WithLock(context.Background(), keys, func(ctx context.Context) error { return nil }))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, l.Len())
}

func TestLocalPropagatesError(t *testing.T) {
	l := NewLocal(0)
	boom := errors.New("boom")
	err := l.WithLock(context.Background(), []string{"x"}, func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	// key is free again
	require.NoError(t, l.WithLock(context.Background(), []string{"x"}, func(ctx context.Context) error { return nil }))
}

func TestGuardReportsBusy(t *testing.T) {
	l := NewLocal(10 * time.Millisecond)
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = l.WithLock(context.Background(), []string{"patient:7"}, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := Guard(context.Background(), l, []string{"bed:3", "patient:7"}, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Contains(t, err.Error(), "bed:3, patient:7")
}
