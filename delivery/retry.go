package delivery

import "time"

// Policy maps a retry attempt number (1-based) to the delay before it runs.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Backoff is a fixed delay table indexed by attempt number. Attempts
// beyond the table reuse the last entry.
type Backoff []time.Duration

// DefaultBackoff is the standard schedule: 1 minute, 5 minutes, 30 minutes.
var DefaultBackoff = Backoff{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
}

// DefaultMaxRetries is the number of retries after the initial attempt.
const DefaultMaxRetries = 3

// Delay implements Policy.
func (b Backoff) Delay(attempt int) time.Duration {
	if len(b) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(b) {
		idx = len(b) - 1
	}
	return b[idx]
}

// Retrier decides whether a failed delivery gets another attempt and when.
type Retrier struct {
	policy     Policy
	maxRetries int
}

// NewRetrier creates a retrier. A nil policy uses DefaultBackoff; a
// non-positive maxRetries uses DefaultMaxRetries.
func NewRetrier(policy Policy, maxRetries int) *Retrier {
	if policy == nil {
		policy = DefaultBackoff
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Retrier{policy: policy, maxRetries: maxRetries}
}

// Next returns the due time of the next attempt after a failure with
// retryCount retries already consumed. ok is false when the budget is
// exhausted and the webhook must be deactivated instead.
func (r *Retrier) Next(retryCount int) (at time.Time, attempt int, ok bool) {
	attempt = retryCount + 1
	if attempt > r.maxRetries {
		return time.Time{}, 0, false
	}
	return time.Now().UTC().Add(r.policy.Delay(attempt)), attempt, true
}

// MaxRetries returns the configured retry budget.
func (r *Retrier) MaxRetries() int {
	return r.maxRetries
}
