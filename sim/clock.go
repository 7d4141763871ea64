package sim

import (
	"sync"
	"time"
)

// SyncStatus reports whether a clock kept up with simulation time.
type SyncStatus struct {
	// Lag is how far behind the wall clock the simulation was when
	// synchronization was requested. Zero means in sync.
	Lag time.Duration
}

func (s SyncStatus) OutOfSync() bool { return s.Lag > 0 }

// Clock paces the advance of simulation time.
type Clock interface {
	// Synchronize blocks until simulation time t may be processed.
	Synchronize(t MonotonicTime) SyncStatus
}

// NoClock never blocks: simulation time advances as fast as events are processed.
type NoClock struct{}

func (NoClock) Synchronize(MonotonicTime) SyncStatus { return SyncStatus{} }

// AutoSystemClock advances simulation time in lockstep with the system clock.
// The first synchronization fixes the correspondence between the wall clock
// and simulation time; later synchronizations sleep until the matching wall
// time is reached.
type AutoSystemClock struct {
	mu      sync.Mutex
	started bool
	wallRef time.Time
	simRef  MonotonicTime

	now   func() time.Time
	sleep func(time.Duration)
}

// NewAutoSystemClock returns a clock that is lazily anchored at its first use.
func NewAutoSystemClock() *AutoSystemClock {
	return &AutoSystemClock{now: time.Now, sleep: time.Sleep}
}

func (c *AutoSystemClock) Synchronize(t MonotonicTime) SyncStatus {
	c.mu.Lock()
	if !c.started {
		c.started = true
		c.wallRef = c.now()
		c.simRef = t
		c.mu.Unlock()
		return SyncStatus{}
	}
	target := c.wallRef.Add(t.Sub(c.simRef))
	c.mu.Unlock()

	wait := target.Sub(c.now())
	if wait < 0 {
		return SyncStatus{Lag: -wait}
	}
	c.sleep(wait)
	return SyncStatus{}
}
