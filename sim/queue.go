package sim

import (
	"container/heap"
	"sync/atomic"
)

// ActionKey identifies a scheduled action and allows it to be cancelled
// before it fires.
type ActionKey struct {
	id        uint64
	cancelled atomic.Bool
}

// ID returns the key's per-simulation sequence number.
func (k *ActionKey) ID() uint64 { return k.id }

// Cancel prevents the action from firing. Cancelling twice, or cancelling an
// action that already fired, has no effect.
func (k *ActionKey) Cancel() { k.cancelled.Store(true) }

func (k *ActionKey) IsCancelled() bool { return k.cancelled.Load() }

// action is a unit of work scheduled at a future simulation time.
type action struct {
	time MonotonicTime
	seq  uint64
	key  *ActionKey // nil for unkeyed actions
	run  func()
}

func (a *action) cancelled() bool {
	return a.key != nil && a.key.IsCancelled()
}

// actionHeap implements heap.Interface with deterministic ordering.
// Order by: time → scheduling sequence
type actionHeap struct {
	actions []*action
	nextSeq uint64
}

// Len implements heap.Interface
func (h *actionHeap) Len() int {
	return len(h.actions)
}

// Less implements heap.Interface. Actions scheduled for the same time fire in
// the order they were scheduled.
func (h *actionHeap) Less(i, j int) bool {
	ai, aj := h.actions[i], h.actions[j]
	if ai.time != aj.time {
		return ai.time < aj.time
	}
	return ai.seq < aj.seq
}

// Swap implements heap.Interface
func (h *actionHeap) Swap(i, j int) {
	h.actions[i], h.actions[j] = h.actions[j], h.actions[i]
}

// Push implements heap.Interface
func (h *actionHeap) Push(x any) {
	h.actions = append(h.actions, x.(*action))
}

// Pop implements heap.Interface
func (h *actionHeap) Pop() any {
	old := h.actions
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.actions = old[0 : n-1]
	return item
}

// schedule adds an action and stamps it with the next sequence number.
func (h *actionHeap) schedule(a *action) {
	h.nextSeq++
	a.seq = h.nextSeq
	heap.Push(h, a)
}

// peek returns the next live action without removing it, discarding any
// cancelled actions at the head.
func (h *actionHeap) peek() *action {
	for h.Len() > 0 {
		if a := h.actions[0]; !a.cancelled() {
			return a
		}
		heap.Pop(h)
	}
	return nil
}

// popNext removes and returns the next live action.
func (h *actionHeap) popNext() *action {
	if h.peek() == nil {
		return nil
	}
	return heap.Pop(h).(*action)
}
