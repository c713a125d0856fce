package redisclient

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/hospital-scheduling/internal/lock"
	"github.com/hackgods/hospital-scheduling/internal/notify"
)

// These tests need a live Redis; set REDIS_TEST_ADDR to run them.
func testClient(t *testing.T) *Locker {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client, err := Connect(context.Background(), Options{Addr: addr, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, 2*time.Second, 500*time.Millisecond, zaptest.NewLogger(t))
}

func TestLockerSerialises(t *testing.T) {
	l := testClient(t)
	key := "test:" + uuid.NewString()

	var inside, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), []string{key}, func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Zero(t, overlaps)
}

func TestLockerTimesOut(t *testing.T) {
	l := testClient(t)
	key := "test:" + uuid.NewString()
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), []string{key}, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := l.WithLock(context.Background(), []string{key}, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	close(release)
}

func TestStreamSink(t *testing.T) {
	l := testClient(t)
	stream := "test-notify:" + uuid.NewString()
	sink := NewStreamSink(l.client, stream, 100)
	t.Cleanup(func() { l.client.Del(context.Background(), stream) })

	err := sink.Send(context.Background(), notify.Event{
		RecipientID: uuid.New(),
		Kind:        notify.KindAppointmentApproved,
		Message:     "approved",
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)

	n, err := l.client.XLen(context.Background(), stream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
