package sim

import (
	"fmt"
	"math"
	"time"
)

// MonotonicTime is a simulation timestamp in nanoseconds relative to Epoch.
type MonotonicTime int64

// Epoch is the time origin of every bench.
const Epoch MonotonicTime = 0

const (
	nanosPerSecond = int64(time.Second)
	maxSeconds     = math.MaxInt64 / nanosPerSecond
	maxSubNanos    = math.MaxInt64 % nanosPerSecond
)

func (t MonotonicTime) String() string {
	ts := t.Timestamp()
	return fmt.Sprintf("[%ds+%09dns]", ts.Seconds, ts.Nanos)
}

// Add returns t shifted by d. It panics if the result wraps around.
func (t MonotonicTime) Add(d time.Duration) MonotonicTime {
	t2, ok := t.CheckedAdd(d)
	if !ok {
		panic("sim: monotonic time wrapped around")
	}
	return t2
}

// CheckedAdd returns t shifted by d, or false if the result wraps around.
func (t MonotonicTime) CheckedAdd(d time.Duration) (MonotonicTime, bool) {
	t2 := t + MonotonicTime(d)
	if (d > 0 && t2 < t) || (d < 0 && t2 > t) {
		return t, false
	}
	return t2, true
}

// Sub returns the duration t-u.
func (t MonotonicTime) Sub(u MonotonicTime) time.Duration {
	return time.Duration(t - u)
}

func (t MonotonicTime) Before(u MonotonicTime) bool { return t < u }
func (t MonotonicTime) After(u MonotonicTime) bool  { return t > u }

// Timestamp splits t into whole seconds and a non-negative nanosecond part.
func (t MonotonicTime) Timestamp() Timestamp {
	secs := int64(t) / nanosPerSecond
	nanos := int64(t) % nanosPerSecond
	if nanos < 0 {
		secs--
		nanos += nanosPerSecond
	}
	return Timestamp{Seconds: secs, Nanos: uint32(nanos)}
}

// Timestamp is the wire form of a MonotonicTime.
type Timestamp struct {
	Seconds int64  `cbor:"secs"`
	Nanos   uint32 `cbor:"nanos"`
}

// InRange reports whether ts converts to a MonotonicTime without overflow.
// Nanos must be below one second and |Seconds| at most 9223372036.
func (ts Timestamp) InRange() bool {
	if int64(ts.Nanos) >= nanosPerSecond || ts.Seconds > maxSeconds || ts.Seconds < -maxSeconds {
		return false
	}
	return ts.Seconds < maxSeconds || int64(ts.Nanos) <= maxSubNanos
}

// Time converts the timestamp back to a MonotonicTime. ts must be InRange.
func (ts Timestamp) Time() MonotonicTime {
	return MonotonicTime(ts.Seconds*nanosPerSecond + int64(ts.Nanos))
}

// Duration is the wire form of a non-negative span of time. Models that take
// a duration as input (the coffee controller brew time) accept this type.
type Duration struct {
	Secs  uint64 `cbor:"secs"`
	Nanos uint32 `cbor:"nanos"`
}

// DurationOf converts a non-negative time.Duration. Negative values clamp to zero.
func DurationOf(d time.Duration) Duration {
	if d < 0 {
		return Duration{}
	}
	return Duration{Secs: uint64(d / time.Second), Nanos: uint32(d % time.Second)}
}

// InRange reports whether d converts to a time.Duration without saturating.
func (d Duration) InRange() bool {
	if int64(d.Nanos) >= nanosPerSecond || d.Secs > uint64(maxSeconds) {
		return false
	}
	return d.Secs < uint64(maxSeconds) || int64(d.Nanos) <= maxSubNanos
}

// Std returns the equivalent time.Duration, saturating at the longest one
// representable.
func (d Duration) Std() time.Duration {
	if !d.InRange() {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d.Secs)*time.Second + time.Duration(d.Nanos)
}

func (d Duration) IsZero() bool { return d.Secs == 0 && d.Nanos == 0 }
