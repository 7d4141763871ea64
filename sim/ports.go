package sim

import (
	"context"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Output publishes values of type T to the inputs and sinks connected to it,
// in connection order. An unconnected output drops what it is sent.
type Output[T any] struct {
	targets []func(T)
}

// Send delivers v to every connected input and sink.
func (o *Output[T]) Send(v T) {
	for _, deliver := range o.targets {
		deliver(v)
	}
}

// ConnectSink attaches an external observation point to the output.
func (o *Output[T]) ConnectSink(sink SinkWriter[T]) {
	o.targets = append(o.targets, sink.Push)
}

// Connect routes values sent on o to method of the model behind mb.
func Connect[M, T any](o *Output[T], method func(M, *Context, T), mb *Mailbox[M]) {
	o.targets = append(o.targets, func(v T) {
		mb.post(func(m M, ctx *Context) { method(m, ctx, v) })
	})
}

// EventSource injects values from outside the simulation into model inputs.
type EventSource[T any] struct {
	targets []func(T)
}

// NewEventSource returns a source that is not yet connected to any input.
func NewEventSource[T any]() *EventSource[T] {
	return &EventSource[T]{}
}

// ConnectSource routes events injected through src to method of the model
// behind addr.
func ConnectSource[M, T any](src *EventSource[T], method func(M, *Context, T), addr Address[M]) {
	src.targets = append(src.targets, func(v T) {
		addr.mb.post(func(m M, ctx *Context) { method(m, ctx, v) })
	})
}

// Event returns the delivery of v as a deferred action.
func (src *EventSource[T]) Event(v T) func() {
	return func() {
		for _, deliver := range src.targets {
			deliver(v)
		}
	}
}

func (src *EventSource[T]) decode(payload []byte) (func(), error) {
	var v T
	if len(payload) > 0 {
		if err := cbor.Unmarshal(payload, &v); err != nil {
			return nil, newError(KindInvalidPayload, "%v", err)
		}
	}
	return src.Event(v), nil
}

// Source is the registry view of an EventSource.
type Source interface {
	decode(payload []byte) (func(), error)
}

// SinkWriter is the port-facing half of a sink.
type SinkWriter[T any] interface {
	Push(v T)
}

// Sink is the registry view of an EventSlot or EventBuffer.
type Sink interface {
	// Collect removes the pending events and returns them CBOR-encoded.
	Collect() ([][]byte, error)
	// Open resumes recording. Sinks start open.
	Open()
	// Close stops recording; events pushed while closed are dropped.
	Close()
	// Await removes the next event and returns it CBOR-encoded, waiting
	// until one is pushed or ctx is done.
	Await(ctx context.Context) ([]byte, error)
}

// notifier wakes the goroutines waiting for a push. It is guarded by the
// mutex of the sink that owns it.
type notifier struct {
	ch chan struct{}
}

func (n *notifier) wait() <-chan struct{} {
	if n.ch == nil {
		n.ch = make(chan struct{})
	}
	return n.ch
}

func (n *notifier) broadcast() {
	if n.ch != nil {
		close(n.ch)
		n.ch = nil
	}
}

// awaitEvent polls take under mu until it yields an event, sleeping on n
// between attempts.
func awaitEvent[T any](ctx context.Context, mu *sync.Mutex, n *notifier, take func() (T, bool)) ([]byte, error) {
	for {
		mu.Lock()
		v, ok := take()
		var woken <-chan struct{}
		if !ok {
			woken = n.wait()
		}
		mu.Unlock()
		if ok {
			return cbor.Marshal(v)
		}
		select {
		case <-woken:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// EventSlot latches the most recent value pushed to it.
type EventSlot[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	closed bool
	pushed notifier
}

// NewEventSlot returns an empty, open slot.
func NewEventSlot[T any]() *EventSlot[T] {
	return &EventSlot[T]{}
}

func (s *EventSlot[T]) Push(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.value, s.full = v, true
	s.pushed.broadcast()
}

// Take removes and returns the latched value, if any.
func (s *EventSlot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeLocked()
}

func (s *EventSlot[T]) takeLocked() (T, bool) {
	v, ok := s.value, s.full
	var zero T
	s.value, s.full = zero, false
	return v, ok
}

// Await takes the latched value, waiting for a push if the slot is empty.
func (s *EventSlot[T]) Await(ctx context.Context) ([]byte, error) {
	return awaitEvent(ctx, &s.mu, &s.pushed, s.takeLocked)
}

func (s *EventSlot[T]) Open()  { s.setClosed(false) }
func (s *EventSlot[T]) Close() { s.setClosed(true) }

func (s *EventSlot[T]) setClosed(closed bool) {
	s.mu.Lock()
	s.closed = closed
	s.mu.Unlock()
}

func (s *EventSlot[T]) Collect() ([][]byte, error) {
	v, ok := s.Take()
	if !ok {
		return nil, nil
	}
	return encodeEvents([]T{v})
}

// EventBuffer keeps every value pushed to it until drained.
type EventBuffer[T any] struct {
	mu     sync.Mutex
	events []T
	closed bool
	pushed notifier
}

// NewEventBuffer returns an empty, open buffer.
func NewEventBuffer[T any]() *EventBuffer[T] {
	return &EventBuffer[T]{}
}

func (b *EventBuffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.events = append(b.events, v)
	b.pushed.broadcast()
}

// Await removes the oldest buffered value, waiting for a push if the buffer
// is empty.
func (b *EventBuffer[T]) Await(ctx context.Context) ([]byte, error) {
	return awaitEvent(ctx, &b.mu, &b.pushed, func() (T, bool) {
		var zero T
		if len(b.events) == 0 {
			return zero, false
		}
		v := b.events[0]
		b.events[0] = zero
		b.events = b.events[1:]
		return v, true
	})
}

// Drain removes and returns all buffered values in arrival order.
func (b *EventBuffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.events
	b.events = nil
	return events
}

func (b *EventBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *EventBuffer[T]) Open()  { b.setClosed(false) }
func (b *EventBuffer[T]) Close() { b.setClosed(true) }

func (b *EventBuffer[T]) setClosed(closed bool) {
	b.mu.Lock()
	b.closed = closed
	b.mu.Unlock()
}

func (b *EventBuffer[T]) Collect() ([][]byte, error) {
	return encodeEvents(b.Drain())
}

func encodeEvents[T any](events []T) ([][]byte, error) {
	out := make([][]byte, 0, len(events))
	for _, ev := range events {
		data, err := cbor.Marshal(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// EndpointRegistry binds stable names to the sources and sinks of a bench.
// Sources and sinks live in separate namespaces.
type EndpointRegistry struct {
	sources map[string]Source
	sinks   map[string]Sink
}

// NewEndpointRegistry returns an empty registry.
func NewEndpointRegistry() *EndpointRegistry {
	return &EndpointRegistry{
		sources: make(map[string]Source),
		sinks:   make(map[string]Sink),
	}
}

// AddEventSource registers src under name. Names must be unique among sources.
func (r *EndpointRegistry) AddEventSource(src Source, name string) error {
	if _, ok := r.sources[name]; ok {
		return newError(KindDuplicateEndpoint, "event source %q is already registered", name)
	}
	r.sources[name] = src
	return nil
}

// AddEventSink registers sink under name. Names must be unique among sinks.
func (r *EndpointRegistry) AddEventSink(sink Sink, name string) error {
	if _, ok := r.sinks[name]; ok {
		return newError(KindDuplicateEndpoint, "event sink %q is already registered", name)
	}
	r.sinks[name] = sink
	return nil
}

func (r *EndpointRegistry) Source(name string) (Source, error) {
	src, ok := r.sources[name]
	if !ok {
		return nil, newError(KindSourceNotFound, "no event source named %q", name)
	}
	return src, nil
}

func (r *EndpointRegistry) Sink(name string) (Sink, error) {
	sink, ok := r.sinks[name]
	if !ok {
		return nil, newError(KindSinkNotFound, "no event sink named %q", name)
	}
	return sink, nil
}

// SourceNames returns the registered source names in sorted order.
func (r *EndpointRegistry) SourceNames() []string { return sortedKeys(r.sources) }

// SinkNames returns the registered sink names in sorted order.
func (r *EndpointRegistry) SinkNames() []string { return sortedKeys(r.sinks) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
