// sim/simulation.go
package sim

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// SimInit collects models and their mailboxes and assembles them into a
// Simulation. Wiring mistakes are accumulated and reported by Init.
type SimInit struct {
	mailboxes []Binder
	names     map[string]struct{}
	clock     Clock
	errs      *multierror.Error
}

// NewSimInit returns an empty assembly without a clock.
func NewSimInit() *SimInit {
	return &SimInit{
		names: make(map[string]struct{}),
		clock: NoClock{},
	}
}

// AddModel adds a model with its mailbox. Models are initialized in the
// order they are added.
func (si *SimInit) AddModel(m Model, mb Binder, name string) *SimInit {
	if _, dup := si.names[name]; dup {
		si.errs = multierror.Append(si.errs, newError(KindInvalidConfig, "model name %q is used twice", name))
		return si
	}
	if err := mb.bind(m, name); err != nil {
		si.errs = multierror.Append(si.errs, err)
		return si
	}
	si.names[name] = struct{}{}
	si.mailboxes = append(si.mailboxes, mb)
	return si
}

// SetClock installs the clock that paces simulation time. A nil clock
// restores the default NoClock.
func (si *SimInit) SetClock(c Clock) *SimInit {
	if c == nil {
		c = NoClock{}
	}
	si.clock = c
	return si
}

// Init assembles the simulation at t0 and runs model initializers.
func (si *SimInit) Init(t0 MonotonicTime) (*Simulation, error) {
	if err := si.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	s := &Simulation{clock: si.clock}
	for _, mb := range si.mailboxes {
		mb.attach(s)
		s.models = append(s.models, mb.modelName())
	}
	s.advanceTo(t0)
	for _, mb := range si.mailboxes {
		if err := s.guard(mb.modelName(), mb.initialize); err != nil {
			return nil, err
		}
	}
	if err := s.settle(); err != nil {
		return nil, err
	}
	logrus.Debugf("[%v] simulation initialized with models %v", t0, s.models)
	return s, nil
}

type runner interface {
	modelName() string
	runNext() bool
}

// Simulation is an assembled bench. Stepping and event processing must not
// be called concurrently; Time and Halt may be called from any goroutine.
type Simulation struct {
	now    atomic.Int64
	halted atomic.Bool
	clock  Clock
	queue  actionHeap
	ready  []runner
	models []string
	err    error // first failure recorded while settling
	broken error // sticky failure; the simulation can no longer run
}

// Time returns the current simulation time.
func (s *Simulation) Time() MonotonicTime {
	return MonotonicTime(s.now.Load())
}

// HasClock reports whether a clock other than NoClock paces the simulation.
func (s *Simulation) HasClock() bool {
	_, none := s.clock.(NoClock)
	return !none
}

// ModelNames returns model names in the order they were added.
func (s *Simulation) ModelNames() []string {
	return append([]string(nil), s.models...)
}

// Halt asks the simulation to stop at the next attempt to advance time.
func (s *Simulation) Halt() {
	s.halted.Store(true)
}

// Step processes all actions scheduled at the next scheduled time. It does
// nothing when no action is scheduled.
func (s *Simulation) Step() error {
	if err := s.canAdvance(); err != nil {
		return err
	}
	if s.queue.peek() == nil {
		return nil
	}
	return s.processNext()
}

// StepUntil processes every action scheduled up to and including deadline,
// then sets the simulation time to deadline.
func (s *Simulation) StepUntil(deadline MonotonicTime) error {
	if err := s.check(); err != nil {
		return err
	}
	if deadline.Before(s.Time()) {
		return newError(KindInvalidDeadline, "deadline %v is before current time %v", deadline, s.Time())
	}
	for {
		if err := s.checkHalt(); err != nil {
			return err
		}
		next := s.queue.peek()
		if next == nil || next.time.After(deadline) {
			break
		}
		if err := s.processNext(); err != nil {
			return err
		}
	}
	s.advanceTo(deadline)
	return nil
}

// StepFor is StepUntil relative to the current time.
func (s *Simulation) StepFor(d time.Duration) error {
	if d < 0 {
		return newError(KindInvalidDeadline, "negative duration %v", d)
	}
	deadline, ok := s.Time().CheckedAdd(d)
	if !ok {
		return newError(KindInvalidDeadline, "duration %v from %v is past the end of time", d, s.Time())
	}
	return s.StepUntil(deadline)
}

// StepUnbounded processes scheduled actions until none remain.
func (s *Simulation) StepUnbounded() error {
	for {
		if err := s.canAdvance(); err != nil {
			return err
		}
		if s.queue.peek() == nil {
			return nil
		}
		if err := s.processNext(); err != nil {
			return err
		}
	}
}

// ProcessEvent decodes payload for src and delivers it at the current time.
func (s *Simulation) ProcessEvent(src Source, payload []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	deliver, err := src.decode(payload)
	if err != nil {
		return err
	}
	deliver()
	return s.settle()
}

// Process delivers v through src at the current time.
func Process[T any](s *Simulation, src *EventSource[T], v T) error {
	if err := s.check(); err != nil {
		return err
	}
	src.Event(v)()
	return s.settle()
}

// ScheduleEvent decodes payload for src and schedules its delivery at
// deadline, which must be strictly in the future. The returned key is nil
// unless keyed is set.
func (s *Simulation) ScheduleEvent(deadline MonotonicTime, src Source, payload []byte, keyed bool) (*ActionKey, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if !deadline.After(s.Time()) {
		return nil, newError(KindInvalidDeadline, "deadline %v is not after current time %v", deadline, s.Time())
	}
	deliver, err := src.decode(payload)
	if err != nil {
		return nil, err
	}
	return s.scheduleAt(deadline, deliver, keyed), nil
}

func (s *Simulation) scheduleAt(t MonotonicTime, run func(), keyed bool) *ActionKey {
	a := &action{time: t, run: run}
	if keyed {
		a.key = &ActionKey{}
	}
	s.queue.schedule(a)
	if a.key != nil {
		a.key.id = a.seq
	}
	return a.key
}

func (s *Simulation) check() error {
	return s.broken
}

// canAdvance combines the sticky failure and halt checks done before advancing time.
func (s *Simulation) canAdvance() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.checkHalt()
}

func (s *Simulation) checkHalt() error {
	if s.halted.CompareAndSwap(true, false) {
		return newError(KindHalted, "halted at %v", s.Time())
	}
	return nil
}

func (s *Simulation) advanceTo(t MonotonicTime) {
	if status := s.clock.Synchronize(t); status.OutOfSync() {
		logrus.Debugf("[%v] clock out of sync by %v", t, status.Lag)
	}
	s.now.Store(int64(t))
}

// processNext runs every action scheduled at the earliest pending time and
// lets the resulting messages settle.
func (s *Simulation) processNext() error {
	a := s.queue.popNext()
	t := a.time
	s.advanceTo(t)
	logrus.Debugf("[%v] processing scheduled actions", t)
	a.run()
	for next := s.queue.peek(); next != nil && next.time == t; next = s.queue.peek() {
		s.queue.popNext().run()
	}
	return s.settle()
}

func (s *Simulation) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// settle runs pending messages round-robin across mailboxes until none are left.
func (s *Simulation) settle() error {
	for len(s.ready) > 0 && s.err == nil {
		r := s.ready[0]
		s.ready[0] = nil
		s.ready = s.ready[1:]
		var more bool
		if err := s.guard(r.modelName(), func() { more = r.runNext() }); err != nil {
			s.fail(err)
			break
		}
		if more {
			s.ready = append(s.ready, r)
		}
	}
	if s.err == nil {
		return nil
	}
	s.broken, s.err, s.ready = s.err, nil, nil
	logrus.Warnf("[%v] simulation stopped: %v", s.Time(), s.broken)
	return s.broken
}

func (s *Simulation) guard(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(KindModelError, "model %q panicked: %v", name, r)
		}
	}()
	fn()
	return nil
}
