package blink

import (
	"github.com/cockroachdb/errors"
	"github.com/sushant-115/blinkdb/core/latch"
)

// --- Error Definitions ---

var (
	ErrInvalidMinOrder = errors.New("min order must be at least 2")
	ErrNilKeyOrder     = errors.New("key order function must be provided")
	ErrKeyExists       = errors.New("key already exists (for strict insert)")
	// ErrCanceled marks operations abandoned because a latch wait hit its
	// context deadline or cancellation. Latches held at that point were released.
	ErrCanceled = latch.ErrCanceled
	// ErrStructuralViolation marks a broken tree invariant. It signals a
	// protocol bug and is never retried.
	ErrStructuralViolation = errors.New("b-link structural violation")
	// ErrOutOfRange is returned by move-right when the key sorts below the
	// latched node's low bound; the caller must restart from the root.
	ErrOutOfRange = errors.New("key below node range, restart from root")

	errNoLevel = errors.New("tree has no node at requested level")
)

func violationf(format string, args ...interface{}) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), ErrStructuralViolation)
}

// IsStructuralViolation reports whether err signals a broken tree invariant.
func IsStructuralViolation(err error) bool {
	return errors.Is(err, ErrStructuralViolation)
}
