package blink

import (
	"time"

	"github.com/sushant-115/blinkdb/core/latch"
)

// Observer receives structural events from a Tree. Implementations must be
// safe for concurrent use and must not call back into the tree.
type Observer interface {
	NodeSplit(level int)
	NodesMerged(level int)
	KeyBorrowed(level int)
	MovedRight(level int)
	OutLinkFollowed(level int)
	RootChanged(height int)
	LatchWaited(mode latch.Mode, wait time.Duration)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) NodeSplit(int) {}
func (NopObserver) NodesMerged(int) {}
func (NopObserver) KeyBorrowed(int) {}
func (NopObserver) MovedRight(int) {}
func (NopObserver) OutLinkFollowed(int) {}
func (NopObserver) RootChanged(int) {}
func (NopObserver) LatchWaited(latch.Mode, time.Duration) {}
