package engine

import (
	"time"

	"newstrader/internal/domain"
)

// RetryPolicy decides whether a failed order may be resubmitted. It is
// stateless: the answer is purely a function of the order's attempt fields
// and the two configured constants.
type RetryPolicy struct {
	// MaxAttempts bounds the total submissions per signal. Once
	// attempt_count reaches it the order stays FAILED for an operator.
	MaxAttempts int

	// MinInterval is the minimum elapsed time since the last attempt.
	MinInterval time.Duration
}

// MayRetry reports whether another submission attempt is permitted at the
// given instant.
func (p RetryPolicy) MayRetry(o *domain.Order, now time.Time) bool {
	if o.AttemptCount >= p.MaxAttempts {
		return false
	}
	if o.AttemptCount > 0 && now.Sub(o.LastAttemptAt) < p.MinInterval {
		return false
	}
	return true
}
