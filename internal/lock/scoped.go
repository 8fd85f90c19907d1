// Package lock implements scoped acquisition of the instrument locks a
// mission run holds for its duration: acquire before the body, release on
// every exit path.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Locker acquires and releases the named instruments with the instrument
// service. internal/executor.Client satisfies this.
type Locker interface {
	Lock(ctx context.Context, instruments []string) error
	Unlock(ctx context.Context, instruments []string) error
}

// ErrAcquire wraps any failure to acquire the lock itself, as distinct from
// a failure of the guarded body. Callers that apply a retry policy only to
// acquisition failures can test for it with errors.Is.
var ErrAcquire = errors.New("acquire instrument lock failed")

// AddEvent records a lock/unlock event against the current run. Passing the
// payload through as a parameter, rather than a method on some ambient run
// object, keeps this package free of a dependency on internal/domain.
type AddEvent func(kind, payload string) error

// WithInstruments acquires the lock on instruments, runs fn, and releases
// the lock unconditionally afterward. Acquisition and release each emit a
// lock/unlock event carrying the joined instrument names. The release (and
// its event) always runs, even if fn panics or returns an error; a release
// failure is reported only if fn itself did not already fail.
func WithInstruments(ctx context.Context, locker Locker, addEvent AddEvent, instruments []string, fn func() error) (err error) {
	if err := locker.Lock(ctx, instruments); err != nil {
		return fmt.Errorf("%w: %v", ErrAcquire, err)
	}
	if addEvent != nil {
		if evErr := addEvent("lock", strings.Join(instruments, "\n")); evErr != nil {
			locker.Unlock(ctx, instruments)
			return fmt.Errorf("record lock event: %w", evErr)
		}
	}

	defer func() {
		if unlockErr := locker.Unlock(ctx, instruments); unlockErr != nil && err == nil {
			err = fmt.Errorf("release instrument lock: %w", unlockErr)
		}
		if addEvent != nil {
			if evErr := addEvent("unlock", strings.Join(instruments, "\n")); evErr != nil && err == nil {
				err = fmt.Errorf("record unlock event: %w", evErr)
			}
		}
	}()

	return fn()
}
