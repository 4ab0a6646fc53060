package ingestor

import "time"

// Reconnect backoff bounds (§4.1): starts at 1s, doubles per failed
// open, ceiling 30s, resets to 1s on a successful frame.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// backoff tracks the doubling reconnect delay for one camera.
type backoff struct {
	delay time.Duration
}

func newBackoff() *backoff {
	return &backoff{delay: initialBackoff}
}

// Next returns the delay to sleep before the next reconnect attempt
// and doubles it for next time, capped at maxBackoff.
func (b *backoff) Next() time.Duration {
	d := b.delay
	b.delay *= 2
	if b.delay > maxBackoff {
		b.delay = maxBackoff
	}
	return d
}

// Reset restores the delay to its initial value, called after a
// successful frame read.
func (b *backoff) Reset() {
	b.delay = initialBackoff
}

// AtCeiling reports whether the next delay has reached maxBackoff,
// signalling a camera that should be marked degraded rather than
// merely failed.
func (b *backoff) AtCeiling() bool {
	return b.delay >= maxBackoff
}
