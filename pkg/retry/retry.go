// Package retry provides the jittered exponential backoff used around the
// exchange adapter's public price fetch (GetPrice); its private order calls
// are not retried. Only transient failures (network, 5xx, rate limiting)
// are retried; other errors, such as a 4xx rejection, surface immediately.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how an operation is retried.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy bounds a retried call to well under one scheduler loop, so
// a flapping endpoint cannot starve the other slots of their API budget.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc reports whether an error is worth retrying.
type IsTransientFunc func(error) bool

// Do runs fn up to policy.MaxAttempts times, sleeping a jittered,
// doubling backoff between attempts. It returns the last error when
// attempts are exhausted, fn's error directly when it is not transient,
// or ctx.Err() if the context ends mid-wait.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	backoff := policy.InitialBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= policy.MaxAttempts {
			return err
		}

		sleep := backoff
		if half := int64(backoff / 2); half > 0 {
			sleep += time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		if backoff *= 2; backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
}
