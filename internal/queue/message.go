// Package queue implements the task queue client and retry orchestration for
// background jobs. Messages live in a durable message store; this package
// owns the payload conventions layered on top of it.
package queue

import "time"

// Reserved payload fields. The client maintains retry_count on every stored
// message; error and original_queue are stamped onto dead lettered payloads.
const (
	KeyRetryCount    = "retry_count"
	KeyError         = "error"
	KeyOriginalQueue = "original_queue"
)

// Payload is a task body: caller-defined business fields plus the reserved
// fields above. Values must be JSON-encodable. Numbers round-trip through the
// store as float64, which RetryCount accounts for.
type Payload map[string]any

// RetryCount returns the message's retry counter. Absent or non-numeric
// values count as zero.
func (p Payload) RetryCount() int {
	switch v := p[KeyRetryCount].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

// clone copies the payload one level deep so client operations never mutate
// a caller's map.
func (p Payload) clone() Payload {
	out := make(Payload, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Message is a leased task as handed to consumers. MsgID is only meaningful
// together with Queue; ids are assigned per queue by the store.
type Message struct {
	MsgID      int64
	Queue      string
	Payload    Payload
	EnqueuedAt time.Time
	ReadCount  int
}

// DLQName returns the dead letter companion of queue. The suffix is a fixed
// convention shared by every producer and consumer.
func DLQName(queue string) string {
	return queue + "_dlq"
}

// QualifiedName prepends a namespace prefix to a queue name, e.g.
// ("unison", "user_tasks") -> "unison_user_tasks". Prefixing is a caller
// convention; the client never applies it on its own.
func QualifiedName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
