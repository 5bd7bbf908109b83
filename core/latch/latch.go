// Package latch provides the short-term reader/writer latch that guards a
// single index node.
//
// A Latch differs from sync.RWMutex in three ways that the B-link protocol
// relies on:
//
//   - waits are bounded by a context, so a caller can give up on a contended
//     node and unwind the latches it already holds;
//   - shared acquisition blocks against an exclusive holder and against any
//     waiting exclusive requester (writer preference);
//   - TryAcquire lets callers take the uncontended path without arming timers.
//
// Latches are not re-entrant and cannot be upgraded. A holder that needs a
// stronger mode must release and re-acquire, then re-validate what it read.
package latch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	commonutils "github.com/sushant-115/blinkdb/internal/common_utils"
)

// Mode is the access mode a latch is held in.
type Mode int

const (
	// Shared allows any number of concurrent readers.
	Shared Mode = iota
	// Exclusive admits exactly one holder and no readers.
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// ErrCanceled marks a latch wait that ended because its context was done.
// The returned error also wraps the context's own error.
var ErrCanceled = errors.New("latch acquisition canceled")

var ownerChecks atomic.Bool

// EnableOwnerChecks turns on exclusive-owner tracking for every latch in the
// process. While enabled, a goroutine that requests a latch it already holds
// exclusively panics instead of deadlocking. Intended for tests.
func EnableOwnerChecks(on bool) {
	ownerChecks.Store(on)
}

// Latch is a writer-preferring shared/exclusive latch. The zero value is an
// unheld latch ready for use.
type Latch struct {
	mu             sync.Mutex
	readers        int
	writer         bool
	waitingWriters int
	owner          int64 // goroutine holding exclusive, tracked only with owner checks on
	wake           chan struct{}
}

// grantableLocked reports whether a request in mode m may be granted now.
func (l *Latch) grantableLocked(m Mode) bool {
	if m == Exclusive {
		return !l.writer && l.readers == 0
	}
	return !l.writer && l.waitingWriters == 0
}

func (l *Latch) grantLocked(m Mode) {
	if m == Exclusive {
		l.writer = true
		if ownerChecks.Load() {
			l.owner = commonutils.GoID()
		}
		return
	}
	l.readers++
}

func (l *Latch) reentryLocked() error {
	if !ownerChecks.Load() || !l.writer || l.owner == 0 {
		return nil
	}
	if id := commonutils.GoID(); id == l.owner {
		return errors.AssertionFailedf("latch re-entered by goroutine %d at %s", id, commonutils.Caller(2))
	}
	return nil
}

// broadcastLocked wakes every waiter so each can re-check its grant condition.
func (l *Latch) broadcastLocked() {
	if l.wake != nil {
		close(l.wake)
		l.wake = nil
	}
}

// TryAcquire takes the latch in mode m if that is possible without waiting.
func (l *Latch) TryAcquire(m Mode) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.reentryLocked(); err != nil {
		panic(err)
	}
	if !l.grantableLocked(m) {
		return false
	}
	l.grantLocked(m)
	return true
}

// Acquire blocks until the latch is granted in mode m or ctx is done. On
// cancellation the latch is not held and the error is marked ErrCanceled.
func (l *Latch) Acquire(ctx context.Context, m Mode) error {
	l.mu.Lock()
	if err := l.reentryLocked(); err != nil {
		l.mu.Unlock()
		panic(err)
	}
	if l.grantableLocked(m) {
		l.grantLocked(m)
		l.mu.Unlock()
		return nil
	}

	if m == Exclusive {
		l.waitingWriters++
	}
	for {
		if l.wake == nil {
			l.wake = make(chan struct{})
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			l.mu.Lock()
			if m == Exclusive {
				l.waitingWriters--
				// Readers parked behind this writer may proceed now.
				l.broadcastLocked()
			}
			l.mu.Unlock()
			return errors.Mark(errors.Wrapf(ctx.Err(), "acquiring %s latch", m), ErrCanceled)
		}

		l.mu.Lock()
		if l.grantableLocked(m) {
			if m == Exclusive {
				l.waitingWriters--
			}
			l.grantLocked(m)
			l.mu.Unlock()
			return nil
		}
	}
}

// Release gives up a hold in mode m. Releasing a mode that is not held is a
// programming error and panics.
func (l *Latch) Release(m Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m == Exclusive {
		if !l.writer {
			panic(errors.AssertionFailedf("release of unheld exclusive latch"))
		}
		l.writer = false
		l.owner = 0
		l.broadcastLocked()
		return
	}

	if l.readers == 0 {
		panic(errors.AssertionFailedf("release of unheld shared latch"))
	}
	l.readers--
	if l.readers == 0 {
		l.broadcastLocked()
	}
}

// State reports the current holders. It is a snapshot for tests and
// diagnostics, stale as soon as it returns.
func (l *Latch) State() (readers int, writer bool, waitingWriters int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers, l.writer, l.waitingWriters
}
