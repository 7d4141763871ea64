package sim

import (
	"context"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointRegistry_DuplicateNames(t *testing.T) {
	// GIVEN a registry with a source and a sink both named "x"
	r := NewEndpointRegistry()
	require.NoError(t, r.AddEventSource(NewEventSource[int](), "x"))
	require.NoError(t, r.AddEventSink(NewEventSlot[int](), "x"))

	// WHEN the names are registered a second time
	errSrc := r.AddEventSource(NewEventSource[int](), "x")
	errSink := r.AddEventSink(NewEventBuffer[int](), "x")

	// THEN both registrations fail, each namespace independently
	assert.ErrorIs(t, errSrc, ErrDuplicateEndpoint)
	assert.ErrorIs(t, errSink, ErrDuplicateEndpoint)
}

func TestEndpointRegistry_Lookup(t *testing.T) {
	r := NewEndpointRegistry()
	require.NoError(t, r.AddEventSource(NewEventSource[int](), "b"))
	require.NoError(t, r.AddEventSource(NewEventSource[int](), "a"))
	require.NoError(t, r.AddEventSink(NewEventSlot[int](), "out"))

	_, err := r.Source("a")
	assert.NoError(t, err)
	_, err = r.Source("out")
	assert.ErrorIs(t, err, ErrSourceNotFound)
	_, err = r.Sink("a")
	assert.ErrorIs(t, err, ErrSinkNotFound)

	if diff := cmp.Diff([]string{"a", "b"}, r.SourceNames()); diff != "" {
		t.Errorf("SourceNames mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"out"}, r.SinkNames()); diff != "" {
		t.Errorf("SinkNames mismatch (-want +got):\n%s", diff)
	}
}

func TestEventSlot_KeepsLatestAndConsumes(t *testing.T) {
	s := NewEventSlot[float64]()
	_, ok := s.Take()
	assert.False(t, ok, "new slot must be empty")

	s.Push(1)
	s.Push(2)
	v, ok := s.Take()
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok = s.Take()
	assert.False(t, ok, "Take must consume the value")
}

func TestEventSlot_ClosedDropsEvents(t *testing.T) {
	s := NewEventSlot[int]()
	s.Close()
	s.Push(1)
	events, err := s.Collect()
	require.NoError(t, err)
	assert.Empty(t, events)

	s.Open()
	s.Push(3)
	events, err = s.Collect()
	require.NoError(t, err)
	require.Len(t, events, 1)
	var got int
	require.NoError(t, cbor.Unmarshal(events[0], &got))
	assert.Equal(t, 3, got)
}

func TestEventBuffer_DrainsInOrder(t *testing.T) {
	b := NewEventBuffer[string]()
	b.Push("a")
	b.Close()
	b.Push("dropped")
	b.Open()
	b.Push("b")
	assert.Equal(t, 2, b.Len())

	events, err := b.Collect()
	require.NoError(t, err)
	var got []string
	for _, raw := range events {
		var s string
		require.NoError(t, cbor.Unmarshal(raw, &s))
		got = append(got, s)
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Zero(t, b.Len())
}

func TestEventSource_Decode(t *testing.T) {
	src := NewEventSource[float64]()

	// Empty payloads decode to the zero value
	_, err := src.decode(nil)
	assert.NoError(t, err)

	payload, err := cbor.Marshal("not a number")
	require.NoError(t, err)
	_, err = src.decode(payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEventSlot_Await(t *testing.T) {
	s := NewEventSlot[int]()

	// A latched value is returned immediately
	s.Push(1)
	got, err := s.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mustEncode(t, 1), got)

	// An empty slot waits for the next push
	done := make(chan []byte, 1)
	go func() {
		ev, err := s.Await(context.Background())
		assert.NoError(t, err)
		done <- ev
	}()
	time.Sleep(20 * time.Millisecond)
	s.Push(2)
	select {
	case ev := <-done:
		assert.Equal(t, mustEncode(t, 2), ev)
	case <-time.After(5 * time.Second):
		t.Fatal("Await did not return after a push")
	}
	_, ok := s.Take()
	assert.False(t, ok, "Await must consume the value")
}

func TestEventBuffer_AwaitTakesOldestFirst(t *testing.T) {
	b := NewEventBuffer[string]()
	b.Push("a")
	b.Push("b")

	got, err := b.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mustEncode(t, "a"), got)
	assert.Equal(t, []string{"b"}, b.Drain())
}

func TestSinkAwait_ContextDone(t *testing.T) {
	for name, sink := range map[string]Sink{
		"slot":   NewEventSlot[int](),
		"buffer": NewEventBuffer[int](),
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := sink.Await(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestSinkAwait_ClosedSinkIgnoresPush(t *testing.T) {
	s := NewEventSlot[int]()
	s.Close()
	s.Push(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
