// Package retry gives idempotent persistence reads one extra attempt on
// transient failure. Writes that create entities must never go through it.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

const readBackoff = 50 * time.Millisecond

// Read calls fn, and calls it once more if the first failure looks transient.
// Domain errors (not found, bad status values) and context errors are final.
func Read[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !Transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(readBackoff)),
		backoff.WithMaxTries(2),
	)
}

func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrInvalidInput):
		return false
	}
	return true
}
