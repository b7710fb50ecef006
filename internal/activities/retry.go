package activities

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/waypoint/pkg/schema"
)

// DefaultRetryBudget is the total time SendHTTPRequest may spend waiting
// between attempts when a policy sets no max_elapsed, and the upper bound for
// one that does. Retries run while the instance is locked.
const DefaultRetryBudget = time.Minute

// RetryPolicy controls how SendHTTPRequest retries failed calls within one
// invocation.
type RetryPolicy struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Delay       string `json:"delay,omitempty"`
	Backoff     string `json:"backoff,omitempty"` // none | constant | linear | exponential
	MaxDelay    string `json:"max_delay,omitempty"`
	MaxElapsed  string `json:"max_elapsed,omitempty"` // total backoff budget
}

func (p *RetryPolicy) attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// budget is the most time the retry loop may spend sleeping.
func (p *RetryPolicy) budget() time.Duration {
	if p == nil || p.MaxElapsed == "" {
		return DefaultRetryBudget
	}
	d, err := time.ParseDuration(p.MaxElapsed)
	if err != nil || d <= 0 {
		return DefaultRetryBudget
	}
	return min(d, DefaultRetryBudget)
}

// IsRetryableError classifies whether an error should be retried.
// Retryable by default: network errors, timeouts, 5xx and 429 responses.
// Non-retryable: binding and validation errors, cancellation, open circuits.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Cancelled means the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrResponseTooLarge) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == 429
	}

	var wErr *schema.Error
	if errors.As(err, &wErr) {
		switch wErr.Code {
		case schema.ErrCodeBinding, schema.ErrCodeValidation, schema.ErrCodeCancelled,
			schema.ErrCodeNotFound, schema.ErrCodeConflict, schema.ErrCodeSchedulingInvariant:
			return false
		}
		if wErr.Cause != nil {
			return IsRetryableError(wErr.Cause)
		}
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return true
}

// ComputeBackoff calculates the delay before the next retry attempt.
// Supports none, constant, linear, and exponential backoff with optional max_delay cap.
func ComputeBackoff(policy *RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == "" {
		return 0
	}

	base, err := time.ParseDuration(policy.Delay)
	if err != nil {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = base * multiplier
	case "linear":
		delay = base * time.Duration(attempt+1)
	default: // constant, none or empty
		delay = base
	}

	if policy.MaxDelay != "" {
		maxDelay, parseErr := time.ParseDuration(policy.MaxDelay)
		if parseErr == nil && delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
