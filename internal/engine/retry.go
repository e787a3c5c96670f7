package engine

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/petrijr/orderflow/pkg/api"
)

const (
	defaultBackoffMultiplier = 2.0
	defaultStorageMaxElapsed = 30 * time.Second
)

// DefaultActivityRetry is used for activities registered without a policy.
var DefaultActivityRetry = api.RetryPolicy{
	MaxAttempts:       3,
	InitialBackoff:    100 * time.Millisecond,
	BackoffMultiplier: defaultBackoffMultiplier,
	MaxBackoff:        2 * time.Second,
}

// activityBackOff turns a RetryPolicy into a backoff schedule. MaxAttempts
// includes the first call; zero or one means no retries.
func activityBackOff(p api.RetryPolicy) backoff.BackOff {
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}

	var b backoff.BackOff
	if p.InitialBackoff <= 0 {
		b = &backoff.ZeroBackOff{}
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialBackoff
		exp.RandomizationFactor = 0
		exp.Multiplier = p.BackoffMultiplier
		if exp.Multiplier <= 0 {
			exp.Multiplier = defaultBackoffMultiplier
		}
		if p.MaxBackoff > 0 {
			exp.MaxInterval = p.MaxBackoff
		} else {
			exp.MaxInterval = time.Duration(1<<63 - 1)
		}
		// Attempts are bounded by MaxAttempts, not wall time.
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}

// storageBackOff is the schedule for retrying ErrStorageUnavailable.
func storageBackOff(maxElapsed time.Duration) backoff.BackOff {
	if maxElapsed <= 0 {
		maxElapsed = defaultStorageMaxElapsed
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 50 * time.Millisecond
	exp.MaxInterval = 2 * time.Second
	exp.MaxElapsedTime = maxElapsed
	exp.Reset()
	return exp
}

// storageRetryable reports whether err may succeed if the same storage
// operation is repeated.
func storageRetryable(err error) bool {
	return errors.Is(err, api.ErrStorageUnavailable)
}
