package events

import "sync"

// Queue buffers events produced while an operation is in flight. The owner of
// the queue either drains it into a downstream emitter once the operation has
// committed or discards it when the operation aborts, so subscribers never
// observe records of a rejected transition.
type Queue struct {
	mu      sync.Mutex
	pending []Event
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

// Emit implements the Emitter interface by appending to the pending buffer.
func (q *Queue) Emit(evt Event) {
	if q == nil || evt == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, evt)
	q.mu.Unlock()
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a copy of the buffered events without draining them.
func (q *Queue) Pending() []Event {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.pending))
	copy(out, q.pending)
	return out
}

// Drain forwards the buffered events to the supplied emitter in emission order
// and empties the queue. The drained events are returned for convenience.
func (q *Queue) Drain(to Emitter) []Event {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()
	if to != nil {
		for _, evt := range drained {
			to.Emit(evt)
		}
	}
	return drained
}

// Discard drops all buffered events.
func (q *Queue) Discard() {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}
