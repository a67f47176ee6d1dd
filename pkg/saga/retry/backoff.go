// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package retry provides the step executor and its backoff strategies: the
// uniform resilience policy applied to every forward and compensating
// collaborator call made by the saga engine.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before a given retry attempt.
// Attempt numbers are 1-indexed: Delay(1) is the pause after the first
// failed attempt.
type BackoffPolicy interface {
	// Delay returns the wait before retry number attempt.
	Delay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay exponentially with each attempt and
// applies full jitter to avoid thundering-herd retries against a recovering
// collaborator.
// Formula: delay = min(InitialDelay * Multiplier^(attempt-1), MaxDelay),
// then jittered.
type ExponentialBackoff struct {
	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration

	// Multiplier is the growth factor per attempt, >= 1.0.
	Multiplier float64

	// Jitter is the fraction of the delay randomized, in [0.0, 1.0].
	// 1.0 applies full jitter: random(0, delay).
	Jitter float64
}

// NewExponentialBackoff creates an exponential backoff policy with sane
// defaults for out-of-range parameters.
func NewExponentialBackoff(initial, max time.Duration, multiplier, jitter float64) *ExponentialBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if multiplier < 1.0 {
		multiplier = 2.0
	}
	if jitter < 0.0 {
		jitter = 0.0
	}
	if jitter > 1.0 {
		jitter = 1.0
	}
	return &ExponentialBackoff{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   multiplier,
		Jitter:       jitter,
	}
}

// Delay returns the jittered exponential delay for the given attempt.
func (p *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}

	if p.Jitter == 0.0 {
		return time.Duration(base)
	}

	// Full jitter over the jittered fraction of the delay.
	stable := base * (1.0 - p.Jitter)
	jittered := base * p.Jitter * rand.Float64()
	return time.Duration(stable + jittered)
}

// FixedBackoff waits a constant interval between attempts, with optional
// jitter.
type FixedBackoff struct {
	// Interval is the constant delay between retries.
	Interval time.Duration

	// Jitter is the fraction of the interval randomized, in [0.0, 1.0].
	Jitter float64
}

// NewFixedBackoff creates a fixed-interval backoff policy.
func NewFixedBackoff(interval time.Duration, jitter float64) *FixedBackoff {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if jitter < 0.0 {
		jitter = 0.0
	}
	if jitter > 1.0 {
		jitter = 1.0
	}
	return &FixedBackoff{Interval: interval, Jitter: jitter}
}

// Delay returns the fixed interval, jittered if configured.
func (p *FixedBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if p.Jitter == 0.0 {
		return p.Interval
	}
	stable := float64(p.Interval) * (1.0 - p.Jitter)
	jittered := float64(p.Interval) * p.Jitter * rand.Float64()
	return time.Duration(stable + jittered)
}
