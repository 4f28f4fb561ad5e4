package canmodule

import (
	"context"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"

	"swerve/kinematics"
)

// StatusOffset is added to a module's CAN ID to get the ID of its status frame.
const StatusOffset = 0x40

// DefaultStatusTimeout is how old module telemetry may get before reads fail.
const DefaultStatusTimeout = 100 * time.Millisecond

const (
	modeDisabled byte = 0
	modeEnabled  byte = 1
)

// setpoint frame layout
var (
	setpointSpeed = Signal{Scalar: 0.001, Start: 0, Length: 16, LittleEndian: true, Signed: true}
	setpointAngle = Signal{Scalar: 0.0078125, Start: 16, Length: 16, LittleEndian: true, Signed: true}
	setpointMode  = Signal{Scalar: 1, Start: 32, Length: 8, LittleEndian: true}
)

// status frame layout
var (
	statusSpeed    = Signal{Scalar: 0.001, Start: 0, Length: 16, LittleEndian: true, Signed: true}
	statusAngle    = Signal{Scalar: 0.0078125, Start: 16, Length: 16, LittleEndian: true, Signed: true}
	statusDistance = Signal{Scalar: 0.001, Start: 32, Length: 32, LittleEndian: true, Signed: true}
)

type moduleStatus struct {
	speed    float64
	angle    s1.Angle
	distance float64
}

// Module is a swerve module whose controller accepts speed and angle setpoints and
// reports speed, angle and cumulative distance. Angles are in the module frame.
type Module struct {
	bus     FrameBus
	id      uint32
	timeout time.Duration

	mu             sync.Mutex
	distanceOffset float64
}

// NewModule addresses the module at canID. A zero timeout uses DefaultStatusTimeout.
func NewModule(bus FrameBus, canID uint32, timeout time.Duration) (*Module, error) {
	if canID == 0 || canID+StatusOffset > sffMask {
		return nil, errors.Errorf("module CAN ID 0x%x out of range", canID)
	}
	if timeout == 0 {
		timeout = DefaultStatusTimeout
	}
	return &Module{bus: bus, id: canID, timeout: timeout}, nil
}

// StatusID is the ID the module reports on.
func (m *Module) StatusID() uint32 {
	return m.id + StatusOffset
}

func (m *Module) status() (moduleStatus, error) {
	frame, err := m.bus.Status(m.StatusID(), m.timeout)
	if err != nil {
		return moduleStatus{}, err
	}
	var s moduleStatus
	speed, err := statusSpeed.Extract(frame.Data)
	if err != nil {
		return moduleStatus{}, err
	}
	angle, err := statusAngle.Extract(frame.Data)
	if err != nil {
		return moduleStatus{}, err
	}
	s.distance, err = statusDistance.Extract(frame.Data)
	if err != nil {
		return moduleStatus{}, err
	}
	s.speed = speed
	s.angle = (s1.Angle(angle) * s1.Degree).Normalized()
	return s, nil
}

// SetDesiredState sends state, reversed when that needs less steering than the
// measured angle. Without telemetry the state is sent as is.
func (m *Module) SetDesiredState(ctx context.Context, state kinematics.ModuleState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if current, err := m.status(); err == nil {
		state = kinematics.Optimize(state, current.angle)
	}

	frame := canbus.Frame{
		ID:   m.id,
		Data: make([]byte, 8),
		Kind: canbus.SFF,
	}
	if err := setpointSpeed.Insert(frame.Data, state.Speed); err != nil {
		return err
	}
	if err := setpointAngle.Insert(frame.Data, state.Angle.Normalized().Degrees()); err != nil {
		return err
	}
	if err := setpointMode.Insert(frame.Data, float64(modeEnabled)); err != nil {
		return err
	}
	return m.bus.Send(frame)
}

// Disable releases both motors.
func (m *Module) Disable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := canbus.Frame{ID: m.id, Data: make([]byte, 8), Kind: canbus.SFF}
	if err := setpointMode.Insert(frame.Data, float64(modeDisabled)); err != nil {
		return err
	}
	return m.bus.Send(frame)
}

// Position is the distance driven since the last ResetEncoders and the wheel angle.
func (m *Module) Position(ctx context.Context) (kinematics.ModulePosition, error) {
	s, err := m.status()
	if err != nil {
		return kinematics.ModulePosition{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return kinematics.ModulePosition{Distance: s.distance - m.distanceOffset, Angle: s.angle}, nil
}

// State is the measured wheel speed and angle.
func (m *Module) State(ctx context.Context) (kinematics.ModuleState, error) {
	s, err := m.status()
	if err != nil {
		return kinematics.ModuleState{}, err
	}
	return kinematics.ModuleState{Speed: s.speed, Angle: s.angle}, nil
}

// ResetEncoders makes the current distance read as zero.
func (m *Module) ResetEncoders(ctx context.Context) error {
	s, err := m.status()
	if err != nil {
		return errors.Wrap(err, "cannot reset encoders")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distanceOffset = s.distance
	return nil
}
