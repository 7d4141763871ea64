package sim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicTime_String(t *testing.T) {
	assert.Equal(t, "[0s+000000000ns]", Epoch.String())
	assert.Equal(t, "[1s+500000000ns]", at(1500*time.Millisecond).String())
}

func TestMonotonicTime_Timestamp_NegativeNanosNormalized(t *testing.T) {
	// GIVEN a time one nanosecond before the epoch
	ts := MonotonicTime(-1).Timestamp()

	// THEN the nanosecond part stays non-negative
	assert.Equal(t, Timestamp{Seconds: -1, Nanos: 999_999_999}, ts)
	assert.Equal(t, MonotonicTime(-1), ts.Time())
}

func TestMonotonicTime_Timestamp_RoundTrip(t *testing.T) {
	for _, tm := range []MonotonicTime{Epoch, at(time.Nanosecond), at(25 * time.Second), at(-3*time.Second - 7)} {
		assert.Equal(t, tm, tm.Timestamp().Time(), "round trip of %v", tm)
	}
}

func TestMonotonicTime_AddSub(t *testing.T) {
	t1 := at(2 * time.Second)
	t2 := t1.Add(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, t2.Sub(t1))
	assert.True(t, t1.Before(t2))
	assert.True(t, t2.After(t1))
	assert.False(t, t1.After(t1))
}

func TestMonotonicTime_Add_WrapPanics(t *testing.T) {
	assert.Panics(t, func() { MonotonicTime(math.MaxInt64).Add(1) })
	assert.Panics(t, func() { MonotonicTime(math.MinInt64).Add(-1) })
}

func TestDuration_Conversions(t *testing.T) {
	d := DurationOf(3*time.Second + 250*time.Millisecond)
	assert.Equal(t, Duration{Secs: 3, Nanos: 250_000_000}, d)
	assert.Equal(t, 3*time.Second+250*time.Millisecond, d.Std())
	assert.False(t, d.IsZero())

	// Negative durations clamp to zero
	assert.True(t, DurationOf(-time.Second).IsZero())
}

func TestMonotonicTime_CheckedAdd(t *testing.T) {
	got, ok := at(time.Second).CheckedAdd(time.Second)
	assert.True(t, ok)
	assert.Equal(t, at(2*time.Second), got)

	got, ok = at(time.Second).CheckedAdd(math.MaxInt64)
	assert.False(t, ok, "adding the longest duration to a positive time must wrap")
	assert.Equal(t, at(time.Second), got)
}

func TestTimestamp_InRange(t *testing.T) {
	tests := []struct {
		name string
		ts   Timestamp
		want bool
	}{
		{name: "epoch", ts: Timestamp{}, want: true},
		{name: "latest time", ts: MonotonicTime(math.MaxInt64).Timestamp(), want: true},
		{name: "one past latest time", ts: Timestamp{Seconds: 9223372036, Nanos: 854775808}, want: false},
		{name: "too many seconds", ts: Timestamp{Seconds: math.MaxInt64}, want: false},
		{name: "too many negative seconds", ts: Timestamp{Seconds: math.MinInt64}, want: false},
		{name: "nanos overflow a second", ts: Timestamp{Nanos: 1_000_000_000}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.ts.InRange())
		})
	}
}

func TestDuration_InRangeAndSaturation(t *testing.T) {
	longest := DurationOf(math.MaxInt64)
	assert.True(t, longest.InRange())
	assert.Equal(t, time.Duration(math.MaxInt64), longest.Std())

	tooLong := Duration{Secs: math.MaxUint64}
	assert.False(t, tooLong.InRange())
	assert.Equal(t, time.Duration(math.MaxInt64), tooLong.Std(), "Std must saturate instead of wrapping")

	assert.False(t, Duration{Secs: 9223372036, Nanos: 854775808}.InRange())
	assert.False(t, Duration{Nanos: 1_000_000_000}.InRange())
}
