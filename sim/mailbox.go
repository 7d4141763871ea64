package sim

import "time"

// DefaultMailboxCapacity is the number of messages a mailbox holds before a
// send into it is reported as a deadlock.
const DefaultMailboxCapacity = 16

// Model is any simulation component. Models that implement Initializer are
// initialized when the simulation is assembled.
type Model = any

// Initializer is implemented by models that publish state at start-up.
type Initializer interface {
	Init(ctx *Context)
}

type message[M any] func(m M, ctx *Context)

// Mailbox is the bounded inbound queue of one model of type M. It must be
// created before the model is added to a SimInit so that ports can be
// connected to it.
type Mailbox[M any] struct {
	capacity int
	queue    []message[M]
	listed   bool // present in the simulation ready list

	model M
	name  string
	bound bool
	sim   *Simulation
	ctx   *Context
}

// NewMailbox returns a mailbox with DefaultMailboxCapacity.
func NewMailbox[M any]() *Mailbox[M] {
	return NewMailboxWithCapacity[M](DefaultMailboxCapacity)
}

// NewMailboxWithCapacity returns a mailbox holding at most capacity pending
// messages. Capacities below one are raised to one.
func NewMailboxWithCapacity[M any](capacity int) *Mailbox[M] {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox[M]{capacity: capacity}
}

// Address returns a handle through which external sources target the model.
func (mb *Mailbox[M]) Address() Address[M] {
	return Address[M]{mb: mb}
}

// Capacity returns the number of pending messages the mailbox can hold.
func (mb *Mailbox[M]) Capacity() int { return mb.capacity }

func (mb *Mailbox[M]) post(msg message[M]) {
	if mb.sim == nil {
		panic("sim: message sent to a mailbox that was never added to a simulation")
	}
	if len(mb.queue) >= mb.capacity {
		mb.sim.fail(newError(KindDeadlock, "mailbox of model %q is full (capacity %d)", mb.name, mb.Capacity()))
		return
	}
	mb.queue = append(mb.queue, msg)
	if !mb.listed {
		mb.listed = true
		mb.sim.ready = append(mb.sim.ready, mb)
	}
}

func (mb *Mailbox[M]) postSelf(fn func(*Context)) {
	mb.post(func(_ M, ctx *Context) { fn(ctx) })
}

func (mb *Mailbox[M]) bind(m Model, name string) error {
	if mb.bound {
		return newError(KindInvalidConfig, "mailbox for model %q is already used by model %q", name, mb.name)
	}
	typed, ok := m.(M)
	if !ok {
		var want M
		return newError(KindInvalidConfig, "model %q has type %T but its mailbox expects %T", name, m, want)
	}
	mb.model, mb.name, mb.bound = typed, name, true
	return nil
}

func (mb *Mailbox[M]) attach(s *Simulation) {
	mb.sim = s
	mb.ctx = &Context{sim: s, name: mb.name, self: mb.postSelf}
}

func (mb *Mailbox[M]) initialize() {
	if init, ok := any(mb.model).(Initializer); ok {
		init.Init(mb.ctx)
	}
}

func (mb *Mailbox[M]) modelName() string { return mb.name }

// runNext processes one pending message and reports whether more remain.
func (mb *Mailbox[M]) runNext() bool {
	msg := mb.queue[0]
	mb.queue[0] = nil
	mb.queue = mb.queue[1:]
	msg(mb.model, mb.ctx)
	if len(mb.queue) == 0 {
		mb.listed = false
		return false
	}
	return true
}

// Binder is implemented by every Mailbox and lets SimInit attach a mailbox
// to its model without knowing the model type.
type Binder interface {
	bind(m Model, name string) error
	attach(s *Simulation)
	initialize()
	modelName() string
	runNext() bool
}

// Address targets the model behind a mailbox.
type Address[M any] struct {
	mb *Mailbox[M]
}

// Context is handed to every model input. It gives access to simulation time
// and lets the model schedule actions on itself.
type Context struct {
	sim  *Simulation
	name string
	self func(fn func(*Context))
}

// Time returns the current simulation time.
func (c *Context) Time() MonotonicTime { return c.sim.Time() }

// ModelName returns the name the model was registered under.
func (c *Context) ModelName() string { return c.name }

// ScheduleEvent runs fn on this model after delay, which must be positive.
func (c *Context) ScheduleEvent(delay time.Duration, fn func(*Context)) error {
	_, err := c.schedule(delay, fn, false)
	return err
}

// ScheduleKeyedEvent is like ScheduleEvent but returns a key that cancels
// the action.
func (c *Context) ScheduleKeyedEvent(delay time.Duration, fn func(*Context)) (*ActionKey, error) {
	return c.schedule(delay, fn, true)
}

func (c *Context) schedule(delay time.Duration, fn func(*Context), keyed bool) (*ActionKey, error) {
	if delay <= 0 {
		return nil, newError(KindInvalidDeadline, "model %q scheduled an action with non-positive delay %v", c.name, delay)
	}
	at, ok := c.sim.Time().CheckedAdd(delay)
	if !ok {
		return nil, newError(KindInvalidDeadline, "model %q scheduled an action past the end of time (delay %v)", c.name, delay)
	}
	return c.sim.scheduleAt(at, func() { c.self(fn) }, keyed), nil
}
