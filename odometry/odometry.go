package odometry

import (
	"github.com/golang/geo/s1"

	"swerve/kinematics"
)

// Odometry integrates wheel travel and heading into a pose. It holds no history.
//
// Heading comes from the gyro rather than from the wheels; each Update advances the
// pose along the arc described by the wheel twist with its rotation replaced by the
// measured heading change, so the heading used within a tick is always the one the
// tick started at.
type Odometry struct {
	kin *kinematics.SwerveKinematics

	pose          Pose
	gyroOffset    s1.Angle
	lastHeading   s1.Angle
	lastPositions [kinematics.NumModules]kinematics.ModulePosition
}

// NewOdometry starts at initial with the given gyro heading and module positions as
// the baseline.
func NewOdometry(
	kin *kinematics.SwerveKinematics,
	gyroHeading s1.Angle,
	positions [kinematics.NumModules]kinematics.ModulePosition,
	initial Pose,
) *Odometry {
	o := &Odometry{kin: kin}
	o.Reset(gyroHeading, positions, initial)
	return o
}

// Reset sets the pose and re-baselines the gyro heading and module positions so the
// next Update measures motion from here.
func (o *Odometry) Reset(
	gyroHeading s1.Angle,
	positions [kinematics.NumModules]kinematics.ModulePosition,
	pose Pose,
) {
	o.pose = pose
	o.gyroOffset = pose.Heading - gyroHeading
	o.lastHeading = pose.Heading
	o.lastPositions = positions
}

// Update advances the pose by the motion since the previous call.
func (o *Odometry) Update(
	gyroHeading s1.Angle,
	positions [kinematics.NumModules]kinematics.ModulePosition,
) Pose {
	heading := (gyroHeading + o.gyroOffset).Normalized()

	twist := o.kin.ToTwist(o.lastPositions, positions)
	twist.Dtheta = (heading - o.lastHeading).Normalized().Radians()

	next := o.pose.Exp(twist)
	o.pose = Pose{X: next.X, Y: next.Y, Heading: heading}
	o.lastHeading = heading
	o.lastPositions = positions
	return o.pose
}

// Pose is the current estimate.
func (o *Odometry) Pose() Pose {
	return o.pose
}
