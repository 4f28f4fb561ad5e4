package filter

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Command is a normalized drive request, each axis in [-1, 1]. X is forward, Y is left
// and Rot is counter-clockwise rotation.
type Command struct {
	X   float64
	Y   float64
	Rot float64
}

// ShaperConfig configures a VelocityShaper. Rates are in normalized units per second.
type ShaperConfig struct {
	MagnitudeRate float64
	RotationRate  float64
	Period        time.Duration
}

// VelocityShaper clamps commands and, when asked to, limits how quickly the
// translational magnitude and the rotation may change. Direction of travel is never
// limited so a reversal does not bend the path through a curve.
//
// A VelocityShaper must be driven at the configured fixed period from a single
// goroutine.
type VelocityShaper struct {
	magnitude *SlewRateLimiter
	rotation  *SlewRateLimiter
	direction float64
}

// NewVelocityShaper fails when a rate or the period is not positive.
func NewVelocityShaper(cfg ShaperConfig) (*VelocityShaper, error) {
	magnitude, err := NewSlewRateLimiter(cfg.MagnitudeRate, cfg.Period)
	if err != nil {
		return nil, errors.Wrap(err, "magnitude limiter")
	}
	rotation, err := NewSlewRateLimiter(cfg.RotationRate, cfg.Period)
	if err != nil {
		return nil, errors.Wrap(err, "rotation limiter")
	}
	return &VelocityShaper{magnitude: magnitude, rotation: rotation}, nil
}

// Shape clamps cmd to [-1, 1] on every axis and applies rate limiting when rateLimit is
// set. Without rate limiting the limiters follow the raw command so enabling them later
// starts from the current motion.
func (s *VelocityShaper) Shape(cmd Command, rateLimit bool) Command {
	x := Clamp(cmd.X, -1, 1)
	y := Clamp(cmd.Y, -1, 1)
	rot := Clamp(cmd.Rot, -1, 1)

	magnitude := math.Hypot(x, y)
	if magnitude != 0 {
		s.direction = math.Atan2(y, x)
	}

	if !rateLimit {
		s.magnitude.Reset(magnitude)
		s.rotation.Reset(rot)
		return Command{X: x, Y: y, Rot: rot}
	}

	limited := s.magnitude.Calculate(magnitude)
	sin, cos := math.Sincos(s.direction)
	return Command{
		// a decaying magnitude from a diagonal may exceed one on an axis it now points along
		X:   Clamp(limited*cos, -1, 1),
		Y:   Clamp(limited*sin, -1, 1),
		Rot: s.rotation.Calculate(rot),
	}
}

// Reset forgets all limiter history.
func (s *VelocityShaper) Reset() {
	s.magnitude.Reset(0)
	s.rotation.Reset(0)
	s.direction = 0
}

// Magnitude is the current limited translational magnitude.
func (s *VelocityShaper) Magnitude() float64 {
	return s.magnitude.LastValue()
}
