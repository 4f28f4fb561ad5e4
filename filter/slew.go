// Package filter shapes raw drive commands before they reach the kinematics.
package filter

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// SlewRateLimiter bounds how fast a signal may change. It assumes Calculate is called
// exactly once per period; calling it more or less often changes the effective limit.
type SlewRateLimiter struct {
	rate float64
	step float64
	last float64
}

// NewSlewRateLimiter returns a limiter allowing at most rate units per second of change
// when called every period.
func NewSlewRateLimiter(rate float64, period time.Duration) (*SlewRateLimiter, error) {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return nil, errors.Errorf("slew rate must be positive and finite, got %v", rate)
	}
	if period <= 0 {
		return nil, errors.Errorf("slew rate limiter period must be positive, got %v", period)
	}
	return &SlewRateLimiter{rate: rate, step: rate * period.Seconds()}, nil
}

// Calculate moves the output toward input by no more than one period's worth of change.
func (l *SlewRateLimiter) Calculate(input float64) float64 {
	l.last += Clamp(input-l.last, -l.step, l.step)
	return l.last
}

// Reset sets the output to value without limiting.
func (l *SlewRateLimiter) Reset(value float64) {
	l.last = value
}

// LastValue is the most recent output.
func (l *SlewRateLimiter) LastValue() float64 {
	return l.last
}

// Step is the largest change allowed per call.
func (l *SlewRateLimiter) Step() float64 {
	return l.step
}
