package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. A false
// exponential keeps the delay fixed between attempts.
func FromRetryConfig(maxAttempts, delayMs int, exponential bool) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if delayMs >= 0 {
		cfg.InitialBackoff = time.Duration(delayMs) * time.Millisecond
	}
	if exponential {
		cfg.Multiplier = 2.0
		cfg.JitterFraction = 0.25
	}
	return cfg
}
