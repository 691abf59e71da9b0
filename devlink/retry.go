package devlink

import "time"

const dialTimeout = time.Second

// RetryPolicy is the reconnect schedule for a link: how many dial attempts
// to make and how the delay between them grows. It lives outside the control
// flow so it can be tested on its own.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultRetry makes a handful of quick attempts; reconnecting is already an
// escalation path, so there is no point stretching it out for minutes.
var DefaultRetry = RetryPolicy{MaxAttempts: 3, Base: time.Second, Cap: 10 * time.Second}

// Backoff returns the delay before the given retry (0-based): Base doubled
// per step, clamped at Cap.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	d := p.Base
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}
