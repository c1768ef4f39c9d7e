package audit

import (
	"testing"
	"time"
)

func TestRetryConfig_BackoffGrowsAndCaps(t *testing.T) {
	rc := RetryConfig{
		MaxRetries: 10,
		Base:       100 * time.Millisecond,
		Factor:     2.0,
		Cap:        time.Second,
		Jitter:     false,
	}
	bo := rc.backOff()

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, expected := range want {
		got := bo.NextBackOff()
		if got != expected {
			t.Errorf("interval %d = %v, want %v", i, got, expected)
		}
	}
}

func TestRetryConfig_JitterStaysWithinEnvelope(t *testing.T) {
	rc := DefaultRetryConfig()
	bo := rc.backOff()
	for i := 0; i < 20; i++ {
		d := bo.NextBackOff()
		if d < 0 {
			t.Fatalf("interval %d negative: %v", i, d)
		}
		// Full jitter spreads over [0, 2*interval]; the cap bounds the
		// undrawn interval, so no sleep can exceed twice the cap.
		if d > 2*rc.Cap {
			t.Fatalf("interval %d = %v exceeds jittered cap", i, d)
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()
	if rc.MaxRetries != 5 || rc.Base != 100*time.Millisecond || rc.Factor != 2.0 || rc.Cap != 30*time.Second {
		t.Errorf("defaults = %+v", rc)
	}
	if !rc.Jitter {
		t.Error("jitter disabled by default")
	}
}
