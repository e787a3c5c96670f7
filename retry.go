package orderflow

import "time"

// RetryBuilder builds the RetryPolicy applied to activity faults, for use
// with RegisterOrderFulfillment or ActivityDefinition.WithRetry.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry starts a policy allowing maxAttempts calls per activity, the first
// call included. Values below 1 mean a single call.
func Retry(maxAttempts int) RetryBuilder {
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: max(maxAttempts, 1)}}
}

// WithExponentialBackoff waits initial before the first retry and grows the
// delay by multiplier up to limit. A multiplier <= 0 means 2. A limit <= 0
// leaves the delay uncapped.
//
//	orderflow.Retry(5).WithExponentialBackoff(100*time.Millisecond, 2, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, limit time.Duration) RetryBuilder {
	if multiplier <= 0 {
		multiplier = 2
	}
	p := r.policy
	p.InitialBackoff, p.MaxBackoff, p.BackoffMultiplier = initial, limit, multiplier
	return RetryBuilder{policy: p}
}

// WithConstantBackoff waits delay between every attempt.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.InitialBackoff = delay
	p.MaxBackoff = delay
	p.BackoffMultiplier = 1.0
	return RetryBuilder{policy: p}
}

// Immediate retries without waiting. MaxAttempts is kept.
func (r RetryBuilder) Immediate() RetryBuilder {
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: r.policy.MaxAttempts}}
}

// Policy returns the built RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}

// Ptr returns a pointer to the built RetryPolicy, the form
// RegisterOrderFulfillment takes.
func (r RetryBuilder) Ptr() *RetryPolicy {
	p := r.policy
	return &p
}
