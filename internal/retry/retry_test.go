package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

func TestReadRetriesTransientOnce(t *testing.T) {
	calls := 0
	v, err := Read(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestReadGivesUpAfterSecondFailure(t *testing.T) {
	calls := 0
	_, err := Read(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("connection reset")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestReadDoesNotRetryDomainErrors(t *testing.T) {
	calls := 0
	_, err := Read(context.Background(), func(ctx context.Context) (*domain.Appointment, error) {
		calls++
		return nil, domain.ErrAppointmentNotFound
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestTransient(t *testing.T) {
	assert.False(t, Transient(nil))
	assert.False(t, Transient(context.Canceled))
	assert.False(t, Transient(domain.ErrBedNotFound))
	assert.False(t, Transient(domain.ErrInvalidStatus))
	assert.True(t, Transient(errors.New("i/o timeout")))
}
