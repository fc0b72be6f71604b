package queue

// RetryPolicy bounds how many retry cycles a message gets before it is
// promoted to the dead letter queue.
type RetryPolicy struct {
	MaxRetries int
}

// NewRetryPolicy creates a RetryPolicy with the given maximum retry count.
func NewRetryPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{MaxRetries: maxRetries}
}

// ShouldRetry returns true if the message has not exhausted its retry budget.
// The comparison is strict: a message already at the maximum goes to the DLQ
// on its next failure, so a task runs at most MaxRetries+1 times in total.
func (r *RetryPolicy) ShouldRetry(retryCount int) bool {
	return retryCount < r.MaxRetries
}
