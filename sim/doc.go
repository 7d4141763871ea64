// Package sim provides the discrete-event simulation kernel that benches are
// assembled from.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - mailbox.go: Mailbox, Address and the Context handed to model inputs
//   - ports.go: Output ports, external EventSource/EventSlot/EventBuffer
//     endpoints and the EndpointRegistry that names them
//   - simulation.go: SimInit assembly and the Simulation event loop
//   - queue.go: deterministic ordering of scheduled actions
//   - clock.go: NoClock and the wall-clock driven AutoSystemClock
//
// # Execution Model
//
// Models are plain Go values whose inputs are methods of the form
// func(M, *Context, T). A bench creates one Mailbox per model, connects
// output ports to inputs with Connect, exports endpoints through an
// EndpointRegistry and finally adds every model to a SimInit.
//
// Messages sent while handling an input are queued in the target mailbox and
// processed at the same simulation time, round-robin across mailboxes, until
// no message is left. Scheduled actions fire in (time, scheduling order).
// A mailbox that overflows during one settle is reported as a deadlock and
// leaves the Simulation unusable, as does a panicking model.
package sim
