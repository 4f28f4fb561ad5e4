package canmodule

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
)

var (
	gyroYaw  = Signal{Scalar: 0.001, Start: 0, Length: 32, LittleEndian: true, Signed: true}
	gyroRate = Signal{Scalar: 0.01, Start: 32, Length: 16, LittleEndian: true, Signed: true}
)

// Gyro reads a yaw sensor that broadcasts continuous yaw in millidegrees and yaw rate
// in centidegrees per second, counter-clockwise positive.
type Gyro struct {
	bus     FrameBus
	id      uint32
	timeout time.Duration

	mu     sync.Mutex
	offset float64
}

// NewGyro listens for the sensor's frames on canID. A zero timeout uses
// DefaultStatusTimeout.
func NewGyro(bus FrameBus, canID uint32, timeout time.Duration) (*Gyro, error) {
	if canID == 0 || canID > sffMask {
		return nil, errors.Errorf("gyro CAN ID 0x%x out of range", canID)
	}
	if timeout == 0 {
		timeout = DefaultStatusTimeout
	}
	return &Gyro{bus: bus, id: canID, timeout: timeout}, nil
}

func (g *Gyro) yaw() (float64, error) {
	frame, err := g.bus.Status(g.id, g.timeout)
	if err != nil {
		return 0, err
	}
	return gyroYaw.Extract(frame.Data)
}

// Heading is the yaw since the last Reset. It is not wrapped.
func (g *Gyro) Heading(ctx context.Context) (s1.Angle, error) {
	yaw, err := g.yaw()
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return s1.Angle(yaw-g.offset) * s1.Degree, nil
}

// AngularRate is the yaw rate in degrees per second.
func (g *Gyro) AngularRate(ctx context.Context) (float64, error) {
	frame, err := g.bus.Status(g.id, g.timeout)
	if err != nil {
		return 0, err
	}
	return gyroRate.Extract(frame.Data)
}

// Reset makes the current yaw read as zero.
func (g *Gyro) Reset(ctx context.Context) error {
	yaw, err := g.yaw()
	if err != nil {
		return errors.Wrap(err, "cannot zero gyro")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offset = yaw
	return nil
}
