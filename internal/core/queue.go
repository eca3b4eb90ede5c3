package core

import "sync"

// outboundBuffer bounds each client's outbound queue. The spec permits an
// implementation to bound queues and disconnect the slowest consumer
// instead of growing memory unboundedly (§5 Resource caps); this follows
// the teacher's circuit-breaker philosophy in client.go without ever
// blocking the sender.
const outboundBuffer = 256

// Queue is a per-client single-consumer FIFO of already-serialized wire
// frames. Enqueue never blocks.
type Queue struct {
	ch        chan []byte
	closeOnce sync.Once
}

func newQueue() *Queue {
	return &Queue{ch: make(chan []byte, outboundBuffer)}
}

// Enqueue appends data without blocking. It returns false if the queue is
// full or already closed; callers treat a full queue as a slow consumer
// and close it to force a disconnect.
func (q *Queue) Enqueue(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case q.ch <- data:
		return true
	default:
		return false
	}
}

// Recv returns the receive side of the queue for the outbound pump.
func (q *Queue) Recv() <-chan []byte { return q.ch }

// Close closes the queue, releasing the outbound pump.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}
