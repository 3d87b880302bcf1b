// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package guard implements the safety rails around tool execution: the
// sliding-window rate limiter, the append-only audit log, and the
// destructive-action confirmation gate.
package guard

import (
	"sync"
	"time"

	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// RateLimiterConfig configures the sliding-window tool-call limiter.
type RateLimiterConfig struct {
	// MaxCalls is the number of tool calls admitted per window.
	MaxCalls int
	// Window is the sliding window duration.
	Window time.Duration
}

// Validate checks the config and applies defaults.
func (c *RateLimiterConfig) Validate() error {
	if c.MaxCalls < 0 {
		return aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"rate limit max calls must not be negative (got %d)", c.MaxCalls)
	}
	if c.Window < 0 {
		return aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"rate limit window must not be negative (got %s)", c.Window)
	}
	if c.MaxCalls == 0 {
		c.MaxCalls = 30
	}
	if c.Window == 0 {
		c.Window = 60 * time.Second
	}
	return nil
}

// RateLimiter is a sliding-window admission controller for tool calls.
// It is shared process-wide across sessions; all mutation happens under
// a single mutex.
type RateLimiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	stamps   []time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter from a validated config.
func NewRateLimiter(cfg RateLimiterConfig) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RateLimiter{
		maxCalls: cfg.MaxCalls,
		window:   cfg.Window,
		now:      time.Now,
	}, nil
}

// Check admits one tool call. Timestamps older than the window are evicted
// first; if the remaining count has reached the limit the call is rejected
// and NOT recorded, so a rejected attempt does not extend the lockout.
func (l *RateLimiter) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	evict := 0
	for evict < len(l.stamps) && !l.stamps[evict].After(cutoff) {
		evict++
	}
	if evict > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[evict:]...)
	}

	if len(l.stamps) >= l.maxCalls {
		return aegiserr.Errorf(aegiserr.CodeGuardRateLimitExceeded,
			"Rate limit exceeded: %d tool calls within %gs. Please wait before retrying.",
			l.maxCalls, l.window.Seconds())
	}

	l.stamps = append(l.stamps, now)
	return nil
}
