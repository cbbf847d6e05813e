package provider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by SendAudio/SendControl after Close.
	ErrClosed = errors.New("provider adapter closed")

	// ErrFatal marks an error that should trigger provider fallback rather
	// than a retry within the same adapter (auth failure, protocol
	// violation, repeated transient failures).
	ErrFatal = errors.New("provider fatal error")

	// ErrExhausted is reported by the fallback chain when every configured
	// provider has failed; the session escalates to the handoff path.
	ErrExhausted = errors.New("provider list exhausted")
)

// Backoff is a bounded exponential backoff used for transient retries inside
// an adapter connection. Zero value is not usable; use NewBackoff.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	retries int
	attempt int
}

// NewBackoff returns a backoff starting at base, doubling up to max, allowing
// at most retries attempts.
func NewBackoff(base, max time.Duration, retries int) *Backoff {
	return &Backoff{base: base, max: max, retries: retries}
}

// Wait sleeps for the next backoff interval. It returns false when the retry
// budget is spent or the context is canceled, at which point the error should
// be treated as fatal.
func (b *Backoff) Wait(ctx context.Context) bool {
	if b.attempt >= b.retries {
		return false
	}
	d := b.base << uint(b.attempt)
	if d > b.max {
		d = b.max
	}
	b.attempt++

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reset restores the full retry budget after a successful operation.
func (b *Backoff) Reset() {
	b.attempt = 0
}
