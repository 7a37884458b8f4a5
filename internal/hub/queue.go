package hub

import "sync"

// OverflowPolicy controls what Push does when the queue is full.
type OverflowPolicy uint8

const (
	// OverflowDropOldest discards the oldest queued payload to make room.
	// This is the client delivery policy: a slow client loses its own
	// oldest ticks and never stalls the publisher.
	OverflowDropOldest OverflowPolicy = iota

	// OverflowDropNewest rejects the incoming payload instead.
	OverflowDropNewest

	// OverflowBlock waits for space. Never used on the publish path.
	OverflowBlock
)

// DeliveryQueue is a bounded ring buffer of encoded frames for one client.
// Push never blocks under OverflowDropOldest/DropNewest; Pop blocks until a
// payload arrives or the queue closes.
type DeliveryQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      [][]byte
	head     int
	tail     int
	size     int
	dropped  uint64
	closed   bool
	policy   OverflowPolicy
}

// NewDeliveryQueue creates a bounded ring buffer.
func NewDeliveryQueue(capacity int, policy OverflowPolicy) *DeliveryQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &DeliveryQueue{
		buf:    make([][]byte, capacity),
		policy: policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a payload according to the overflow policy. Returns false
// only when the payload was not enqueued (queue closed or drop-newest).
func (q *DeliveryQueue) Push(payload []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return false
		}
		if q.size < len(q.buf) {
			q.buf[q.tail] = payload
			q.tail = (q.tail + 1) % len(q.buf)
			q.size++
			q.notEmpty.Signal()
			return true
		}
		switch q.policy {
		case OverflowBlock:
			q.notFull.Wait()
		case OverflowDropOldest:
			q.buf[q.head] = nil
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			q.dropped++
		default:
			q.dropped++
			return false
		}
	}
}

// Pop dequeues the next payload, blocking until available or closed.
func (q *DeliveryQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.size > 0 {
			payload := q.buf[q.head]
			q.buf[q.head] = nil
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			q.notFull.Signal()
			return payload, true
		}
		if q.closed {
			return nil, false
		}
		q.notEmpty.Wait()
	}
}

// Close drops pending payloads and wakes every waiter.
func (q *DeliveryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.size = 0
	q.head = 0
	q.tail = 0
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of queued payloads.
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	size := q.size
	q.mu.Unlock()
	return size
}

// Dropped returns how many payloads this queue has discarded.
func (q *DeliveryQueue) Dropped() uint64 {
	q.mu.Lock()
	dropped := q.dropped
	q.mu.Unlock()
	return dropped
}
