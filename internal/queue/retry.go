package queue

import "time"

// MaxRedeliveryDelay caps the backoff delay at the SQS visibility ceiling.
const MaxRedeliveryDelay = 12 * time.Hour

// RetryPolicy describes how many delivery attempts a job gets and how the
// delay between them grows.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the queue registration defaults: three attempts
// with a 2s base delay doubling per attempt.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
}

// Delay returns the redelivery delay after the given 1-based failed attempt:
// BaseDelay * 2^(attempt-1), capped at MaxRedeliveryDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxRedeliveryDelay {
			return MaxRedeliveryDelay
		}
	}

	return delay
}

// Exhausted reports whether the given 1-based attempt was the last one.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
