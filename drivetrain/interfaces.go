package drivetrain

import (
	"context"

	"github.com/golang/geo/s1"

	"swerve/kinematics"
)

// Gyro reports the absolute chassis heading, counter-clockwise positive.
type Gyro interface {
	Heading(ctx context.Context) (s1.Angle, error)
	// AngularRate is in degrees per second, counter-clockwise positive unless the
	// device is mounted reversed.
	AngularRate(ctx context.Context) (float64, error)
	Reset(ctx context.Context) error
}

// ModuleActuator closes the drive and steer loops of one swerve module. Angles are in
// the module frame.
type ModuleActuator interface {
	SetDesiredState(ctx context.Context, state kinematics.ModuleState) error
	Position(ctx context.Context) (kinematics.ModulePosition, error)
	State(ctx context.Context) (kinematics.ModuleState, error)
	ResetEncoders(ctx context.Context) error
}
