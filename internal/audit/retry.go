package audit

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig is the retry envelope shared by every retrying sink. It is a
// value object: copy it, don't share it.
type RetryConfig struct {
	// MaxRetries bounds re-attempts after the first publish. 0 disables
	// retries entirely.
	MaxRetries int `mapstructure:"max_retries"`
	// Base is the first backoff interval.
	Base time.Duration `mapstructure:"base"`
	// Factor multiplies the interval after each attempt.
	Factor float64 `mapstructure:"factor"`
	// Cap bounds the interval growth.
	Cap time.Duration `mapstructure:"cap"`
	// Jitter randomizes each sleep across the full interval.
	Jitter bool `mapstructure:"jitter"`
}

// DefaultRetryConfig matches the pipeline defaults: 5 retries, exponential
// from 100ms with factor 2, capped at 30s, full jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		Base:       100 * time.Millisecond,
		Factor:     2.0,
		Cap:        30 * time.Second,
		Jitter:     true,
	}
}

// backOff builds the interval generator for one delivery. A fresh generator
// is needed per event so attempts start from Base again.
func (rc RetryConfig) backOff() *backoff.ExponentialBackOff {
	randomization := 0.0
	if rc.Jitter {
		randomization = 1.0
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     rc.Base,
		RandomizationFactor: randomization,
		Multiplier:          rc.Factor,
		MaxInterval:         rc.Cap,
	}
	bo.Reset()
	return bo
}
