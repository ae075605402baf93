package resilience

import "sync"

// DefaultQueueCapacity bounds the outbound buffer held during disconnection.
const DefaultQueueCapacity = 1000

// MessageQueue is a bounded FIFO buffer for outbound frames while the
// connection is unavailable. When full, the oldest message is evicted before
// the new one is enqueued: explicitly lossy, favoring newest state.
// Thread-safe for concurrent use.
type MessageQueue struct {
	mu       sync.Mutex
	messages [][]byte
	capacity int
}

// NewMessageQueue creates a queue with the given capacity, defaulting to
// DefaultQueueCapacity when non-positive.
func NewMessageQueue(capacity int) *MessageQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &MessageQueue{capacity: capacity}
}

// Add enqueues a message, evicting the oldest one first when the queue is full.
func (q *MessageQueue) Add(msg []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) >= q.capacity {
		q.messages = q.messages[1:]
	}
	q.messages = append(q.messages, msg)
}

// Get dequeues the oldest message. The second return is false when the queue
// is empty; an empty queue is not an error.
func (q *MessageQueue) Get() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil, false
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, true
}

// Len returns the number of pending messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Clear drains all pending messages.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = nil
}
