package clusterserver

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spaolacci/murmur3"
)

// BackoffConfig controls reconnect delays.
type BackoffConfig struct {
	// Base is the first delay after a failure or a dropped route.
	Base time.Duration
	// Max caps the delay.
	Max time.Duration
	// Jitter is the randomization factor in [0, 1).
	Jitter float64
}

// DefaultBackoffConfig returns 1s doubling to 30s with 10% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:   time.Second,
		Max:    30 * time.Second,
		Jitter: 0.1,
	}
}

// withDefaults fills unset fields. The zero BackoffConfig means the full
// default, jitter included; a zero Jitter next to an explicit Base or Max
// disables jitter.
func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c == (BackoffConfig{}) {
		return d
	}
	if c.Base <= 0 {
		c.Base = d.Base
	}
	if c.Max <= 0 {
		c.Max = d.Max
	}
	if c.Max < c.Base {
		c.Max = c.Base
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = d.Jitter
	}
	return c
}

// reconnectBackoff yields strictly increasing delays until Max is reached.
// Jitter alone can never make a delay shorter than the one before it.
type reconnectBackoff struct {
	cfg  BackoffConfig
	exp  *backoff.ExponentialBackOff
	prev time.Duration
}

// minStep is the smallest increase between two consecutive delays.
const minStep = time.Millisecond

func newReconnectBackoff(cfg BackoffConfig) *reconnectBackoff {
	cfg = cfg.withDefaults()
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.Base,
		RandomizationFactor: cfg.Jitter,
		Multiplier:          2,
		MaxInterval:         cfg.Max,
	}
	exp.Reset()
	return &reconnectBackoff{cfg: cfg, exp: exp}
}

// Next returns the next delay.
func (b *reconnectBackoff) Next() time.Duration {
	d := b.exp.NextBackOff()
	if d == backoff.Stop || d > b.cfg.Max {
		d = b.cfg.Max
	}
	if b.prev > 0 && d <= b.prev {
		d = b.prev + minStep
	}
	if d > b.cfg.Max {
		d = b.cfg.Max
	}
	b.prev = d
	return d
}

// Reset starts the sequence again from Base.
func (b *reconnectBackoff) Reset() {
	b.exp.Reset()
	b.prev = 0
}

// staggerDelay spreads initial seed dials over window. The offset is a
// stable function of the local node and the seed so restarts keep the
// same order.
func staggerDelay(serverName, addr string, window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	h := murmur3.Sum64([]byte(serverName + "\x00" + addr))
	return time.Duration(h % uint64(window))
}
