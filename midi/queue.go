package midi

import "sync/atomic"

// DefaultQueueSize is the InputQueue capacity used when none is given.
const DefaultQueueSize = 8192

// InputQueue is an Input that buffers received messages for polling.
// When full, new messages are dropped; the producer never blocks.
type InputQueue struct {
	*Input

	queue   chan Message
	dropped atomic.Uint64
}

// NewInputQueue returns a queue holding up to size messages. A size of zero
// or less means DefaultQueueSize.
func NewInputQueue(ctx *Context, size int) *InputQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &InputQueue{queue: make(chan Message, size)}
	q.Input = NewInput(ctx, q.push)
	return q
}

func (q *InputQueue) push(_ *Context, msg Message) {
	select {
	case q.queue <- msg:
	default:
		q.dropped.Add(1)
	}
}

// TryPop removes the oldest message without waiting.
func (q *InputQueue) TryPop() (Message, bool) {
	select {
	case msg := <-q.queue:
		return msg, true
	default:
		return Message{}, false
	}
}

// C returns the queue for use in select statements.
func (q *InputQueue) C() <-chan Message {
	return q.queue
}

// Len returns the number of queued messages.
func (q *InputQueue) Len() int {
	return len(q.queue)
}

// Cap returns the queue capacity.
func (q *InputQueue) Cap() int {
	return cap(q.queue)
}

// Clear discards all queued messages.
func (q *InputQueue) Clear() {
	for {
		select {
		case <-q.queue:
		default:
			return
		}
	}
}

// Dropped returns how many messages arrived while the queue was full.
func (q *InputQueue) Dropped() uint64 {
	return q.dropped.Load()
}
