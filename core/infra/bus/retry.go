package bus

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError asks the bus to redeliver the message that produced it.
// Workers return one when a step job was received but its result could not be
// published, so the job is retried instead of lost; on JetStream the
// subscription naks with the requested delay, plain subscriptions log and
// drop.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Delay > 0 {
		return fmt.Sprintf("redeliver in %s: %v", e.Delay, e.Err)
	}
	return fmt.Sprintf("redeliver: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryAfter marks err as retryable with the given redelivery delay.
// Negative delays clamp to immediate redelivery.
func RetryAfter(err error, delay time.Duration) error {
	if err == nil {
		err = errors.New("redelivery requested")
	}
	if delay < 0 {
		delay = 0
	}
	return &RetryableError{Err: err, Delay: delay}
}

// RetryDelay reports whether err requests redelivery and with what delay.
func RetryDelay(err error) (time.Duration, bool) {
	var re *RetryableError
	if !errors.As(err, &re) {
		return 0, false
	}
	delay := re.Delay
	if delay < 0 {
		delay = 0
	}
	return delay, true
}
