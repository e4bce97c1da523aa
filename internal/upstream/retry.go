package upstream

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryKind selects how the reconnect delay evolves.
type RetryKind string

const (
	RetryFixed       RetryKind = "fixed"
	RetryExponential RetryKind = "exponential"
)

// RetryPolicy describes the reconnect schedule. MaxAttempts of 0 retries forever.
type RetryPolicy struct {
	Kind        RetryKind
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy retries forever every five seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Kind: RetryFixed, Delay: 5 * time.Second}
}

// ParseRetryKind accepts "fixed" or "exponential" in any case.
func ParseRetryKind(s string) (RetryKind, error) {
	switch RetryKind(strings.ToLower(strings.TrimSpace(s))) {
	case RetryFixed, "":
		return RetryFixed, nil
	case RetryExponential:
		return RetryExponential, nil
	default:
		return "", fmt.Errorf("upstream: unknown retry kind %q", s)
	}
}

// backOff builds the cenkalti schedule for the policy.
func (p RetryPolicy) backOff() backoff.BackOff {
	delay := p.Delay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	var b backoff.BackOff
	switch p.Kind {
	case RetryExponential:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = delay
		exp.RandomizationFactor = 0.2
		exp.Multiplier = 2
		exp.MaxInterval = p.MaxDelay
		if exp.MaxInterval <= 0 {
			exp.MaxInterval = 12 * delay
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	default:
		b = backoff.NewConstantBackOff(delay)
	}

	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}
	return b
}
