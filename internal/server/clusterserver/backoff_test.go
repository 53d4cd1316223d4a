package clusterserver

import (
	"testing"
	"time"
)

func TestReconnectBackoff_Doubles(t *testing.T) {
	b := newReconnectBackoff(BackoffConfig{Base: time.Second, Max: 8 * time.Second, Jitter: 0.0001})

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		got := b.Next()
		if diff := got - w; diff > 10*time.Millisecond || diff < -10*time.Millisecond {
			t.Errorf("delay[%d] = %v, want about %v", i, got, w)
		}
	}

	b.Reset()
	if got := b.Next(); got > 1010*time.Millisecond {
		t.Errorf("after Reset() delay = %v, want about 1s", got)
	}
}

func TestReconnectBackoff_StrictlyIncreasing(t *testing.T) {
	// High jitter would reorder plain exponential delays.
	b := newReconnectBackoff(BackoffConfig{Base: 100 * time.Millisecond, Max: time.Hour, Jitter: 0.9})

	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		d := b.Next()
		if d <= prev {
			t.Fatalf("delay[%d] = %v not greater than %v", i, d, prev)
		}
		prev = d
	}
}

func TestReconnectBackoff_Capped(t *testing.T) {
	b := newReconnectBackoff(BackoffConfig{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond, Jitter: 0.5})
	for i := 0; i < 20; i++ {
		if d := b.Next(); d > 50*time.Millisecond {
			t.Fatalf("delay[%d] = %v exceeds cap", i, d)
		}
	}
}

func TestBackoffConfig_Defaults(t *testing.T) {
	c := BackoffConfig{Base: 5 * time.Second, Max: time.Second, Jitter: 3}.withDefaults()
	if c.Max != 5*time.Second {
		t.Errorf("Max = %v, want raised to Base", c.Max)
	}
	if c.Jitter != DefaultBackoffConfig().Jitter {
		t.Errorf("Jitter = %v, want default", c.Jitter)
	}
	if z := (BackoffConfig{}).withDefaults(); z != DefaultBackoffConfig() {
		t.Errorf("zero config = %+v, want defaults", z)
	}
	if c := (BackoffConfig{Base: 2 * time.Second}).withDefaults(); c.Jitter != 0 || c.Max != DefaultBackoffConfig().Max {
		t.Errorf("explicit base = %+v, want no jitter and default max", c)
	}
	if b := newReconnectBackoff(BackoffConfig{}); b.exp.RandomizationFactor != DefaultBackoffConfig().Jitter {
		t.Errorf("zero config backoff jitter = %v", b.exp.RandomizationFactor)
	}
}

func TestStaggerDelay(t *testing.T) {
	w := 500 * time.Millisecond
	a := staggerDelay("node-a", "127.0.0.1:4246", w)
	if a != staggerDelay("node-a", "127.0.0.1:4246", w) {
		t.Error("staggerDelay() should be deterministic")
	}
	if a < 0 || a >= w {
		t.Errorf("staggerDelay() = %v outside [0, %v)", a, w)
	}
	if staggerDelay("node-a", "x", 0) != 0 {
		t.Error("zero window should not delay")
	}

	seen := map[time.Duration]bool{}
	for _, addr := range []string{"127.0.0.1:4245", "127.0.0.1:4246", "127.0.0.1:4247", "127.0.0.1:4248"} {
		seen[staggerDelay("node-a", addr, w)] = true
	}
	if len(seen) < 2 {
		t.Error("staggerDelay() did not spread seeds")
	}
}
