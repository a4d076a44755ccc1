package rmq

import (
	"maps"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetriesHeader counts how many times a message was put back on its queue.
const RetriesHeader = "x-retries"

// MaxBackoff bounds Backoff.
const MaxBackoff = time.Minute

// Retries reads RetriesHeader from h; a missing or non-integer value is 0.
func Retries(h amqp.Table) int {
	switch n := h[RetriesHeader].(type) {
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case uint8:
		return int(n)
	}
	return 0
}

// WithRetries copies h and stamps it with n retries. h is not modified.
func WithRetries(h amqp.Table, n int) amqp.Table {
	out := make(amqp.Table, len(h)+1)
	maps.Copy(out, h)
	out[RetriesHeader] = int32(n)
	return out
}

// Backoff is the wait before the given retry: 1s, 2s, 4s and so on, up to
// MaxBackoff. Attempt 0 does not wait.
func Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 7 {
		return MaxBackoff
	}
	return min(time.Second<<(attempt-1), MaxBackoff)
}
