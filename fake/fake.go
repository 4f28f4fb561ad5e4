// Package fake implements in-memory swerve modules and a gyro for simulation and tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/s1"

	"swerve/kinematics"
)

// Module reaches every commanded state instantly. Distance only advances in Step.
type Module struct {
	mu       sync.Mutex
	state    kinematics.ModuleState
	distance float64
	commands int

	// Err, when set, is returned by every method.
	Err error
}

// SetDesiredState records state as both the target and the measured state.
func (m *Module) SetDesiredState(ctx context.Context, state kinematics.ModuleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.state = state
	m.commands++
	return nil
}

// Position returns the accumulated distance at the current angle.
func (m *Module) Position(ctx context.Context) (kinematics.ModulePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return kinematics.ModulePosition{}, m.Err
	}
	return kinematics.ModulePosition{Distance: m.distance, Angle: m.state.Angle}, nil
}

// State returns the last commanded state.
func (m *Module) State(ctx context.Context) (kinematics.ModuleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return kinematics.ModuleState{}, m.Err
	}
	return m.state, nil
}

// ResetEncoders zeroes the distance.
func (m *Module) ResetEncoders(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.distance = 0
	return nil
}

// Step drives the wheel at its commanded speed for dt.
func (m *Module) Step(dt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distance += m.state.Speed * dt.Seconds()
}

// SetPosition overrides the measured position.
func (m *Module) SetPosition(p kinematics.ModulePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distance = p.Distance
	m.state.Angle = p.Angle
}

// Commands counts successful SetDesiredState calls.
func (m *Module) Commands() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands
}

// Gyro is a yaw sensor whose heading and rate are set by hand or by Step.
type Gyro struct {
	mu      sync.Mutex
	heading s1.Angle
	rate    float64

	// Err, when set, is returned by every method.
	Err error
}

// Heading returns the current heading.
func (g *Gyro) Heading(ctx context.Context) (s1.Angle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return 0, g.Err
	}
	return g.heading, nil
}

// AngularRate returns the last rate in degrees per second.
func (g *Gyro) AngularRate(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return 0, g.Err
	}
	return g.rate, nil
}

// Reset zeroes the heading.
func (g *Gyro) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.heading = 0
	return nil
}

// SetHeading overrides the heading.
func (g *Gyro) SetHeading(heading s1.Angle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heading = heading
}

// SetRate overrides the rate, in degrees per second.
func (g *Gyro) SetRate(degPerSec float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rate = degPerSec
}

// Step turns at omega rad/s for dt. The heading is not wrapped, like a continuous yaw
// sensor.
func (g *Gyro) Step(omega float64, dt time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heading += s1.Angle(omega * dt.Seconds())
	g.rate = s1.Angle(omega).Degrees()
}

// Chassis bundles four modules and a gyro into a simple rigid body simulation.
type Chassis struct {
	Gyro    *Gyro
	Modules [kinematics.NumModules]*Module

	kin *kinematics.SwerveKinematics
}

// NewChassis builds a simulation over geometry.
func NewChassis(geometry [kinematics.NumModules]kinematics.ModuleGeometry) (*Chassis, error) {
	kin, err := kinematics.NewSwerveKinematics(geometry)
	if err != nil {
		return nil, err
	}
	c := &Chassis{Gyro: &Gyro{}, kin: kin}
	for i := range c.Modules {
		c.Modules[i] = &Module{}
	}
	return c, nil
}

// Step advances every wheel and turns the gyro by the rotation the wheels imply.
func (c *Chassis) Step(dt time.Duration) {
	var states [kinematics.NumModules]kinematics.ModuleState
	for i, m := range c.Modules {
		m.Step(dt)
		m.mu.Lock()
		states[i] = m.state
		m.mu.Unlock()
	}
	c.Gyro.Step(c.kin.ToChassisSpeeds(states).Omega, dt)
}

