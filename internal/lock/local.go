package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker. Each key is a one-slot channel so waiting
// can be abandoned when the context ends. Entries are reference counted and
// removed once nobody holds or waits for them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	wait    time.Duration
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns a Local locker. wait bounds how long a caller queues for a
// key; zero means wait until the context ends.
func NewLocal(wait time.Duration) *Local {
	return &Local{
		entries: make(map[string]*localEntry),
		wait:    wait,
	}
}

func (l *Local) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = Normalize(keys)

	acqCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	held := make([]string, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}()

	for _, key := range keys {
		if err := l.acquire(acqCtx, key); err != nil {
			return err
		}
		held = append(held, key)
	}

	return fn(ctx)
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, e)
		return ErrNotAcquired
	}
}

func (l *Local) release(key string) {
	l.mu.Lock()
	e := l.entries[key]
	l.mu.Unlock()

	<-e.ch
	l.unref(key, e)
}

func (l *Local) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len reports how many keys are currently held or waited on.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
