package netengine

import "sync"

type eventKind int

const (
	eventEstablished eventKind = iota
	eventReceived
	eventError
	eventTerminated
)

func (k eventKind) String() string {
	switch k {
	case eventEstablished:
		return "established"
	case eventReceived:
		return "received"
	case eventError:
		return "error"
	case eventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// event is produced by I/O goroutines and consumed only by Engine.Run.
type event struct {
	kind eventKind
	conn *Conn
	data []byte    // eventReceived
	code ErrorCode // eventError
	err  error     // eventError
}

// eventQueue is an unbounded FIFO guarded by a mutex and a condition
// variable. Flow control is left to the socket buffers.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []event
	head   int
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(ev event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop removes and returns the oldest event without blocking.
func (q *eventQueue) pop() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *eventQueue) popLocked() (event, bool) {
	if q.head == len(q.items) {
		return event{}, false
	}

	ev := q.items[q.head]
	q.items[q.head] = event{}
	q.head++

	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}

	return ev, true
}

// wait blocks until an event is queued or the queue is woken by wake.
// It reports whether events are pending.
func (q *eventQueue) wait() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) && !q.closed {
		q.cond.Wait()
	}

	return q.head < len(q.items)
}

// wake releases every goroutine blocked in wait until reset is called.
func (q *eventQueue) wake() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *eventQueue) reset() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
