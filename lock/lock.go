/*
Package lock provides advisory locks keyed by string.

PURPOSE:
  The booking service holds one lock per (practitioner, date) from the
  availability check until the booking commits. Local serializes within one
  process; Redis serializes across replicas sharing a Redis instance.

USAGE:
  release, err := locker.Acquire(ctx, "slot:dr-a:2025-03-10")
  if err != nil {
      return err
  }
  defer release()
*/
package lock

import (
	"context"
	"sync"

	"github.com/warp/booking-engine/generic"
)

// ErrTimeout is returned when a lock could not be obtained in time.
var ErrTimeout = generic.NewError(generic.ErrConflict, "Another booking for this practitioner and date is in progress, try again")

// =============================================================================
// LOCAL - In-process keyed mutex
// =============================================================================

type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	slot chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

// Acquire blocks until key is free or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{slot: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			l.unref(key, e)
		})
	}, nil
}

func (l *Local) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
