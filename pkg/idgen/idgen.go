// Package idgen provides the process-wide id helpers: the monotonic nonces
// the exchange adapter signs requests with, and a uuid-backed correlation
// id helper. The reconciler mints its run ids with uuid directly.
package idgen

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NonceGenerator produces monotonic millisecond-timestamp nonces under a
// mutex. Each call floors at last+1 so two calls within the same
// millisecond (or a clock that moves backward) never emit a duplicate or
// decreasing nonce.
type NonceGenerator struct {
	mu   sync.Mutex
	last int64
}

// NewNonceGenerator constructs a generator with no prior nonce.
func NewNonceGenerator() *NonceGenerator {
	return &NonceGenerator{}
}

// Next returns the next nonce, strictly greater than every previous value
// this generator has returned.
func (g *NonceGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	next := now
	if next <= g.last {
		next = g.last + 1
	}
	g.last = next
	return next
}

// NewCorrelationID mints a fresh random (uuid) correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}
