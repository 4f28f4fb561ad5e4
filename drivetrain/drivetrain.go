// Package drivetrain is the motion control core of a four module swerve drive: it
// shapes drive commands, runs the kinematics, limits wheel speeds, dispatches module
// targets and keeps the pose estimate.
//
// A Drivetrain is driven by an external fixed rate loop. Drive, UpdatePoseEstimator,
// ResetPose and the other commands share unsynchronized state and must all be called
// from that one goroutine. Pose and ModulePoses return snapshots and may be called from
// anywhere.
package drivetrain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"swerve/filter"
	"swerve/kinematics"
	"swerve/odometry"
)

// lockAngles are chassis frame directions that point every wheel along its offset
// from the chassis center, across the direction it would roll to rotate.
var lockAngles = [kinematics.NumModules]s1.Angle{
	45 * s1.Degree,
	-45 * s1.Degree,
	-45 * s1.Degree,
	45 * s1.Degree,
}

// Drivetrain owns the command pipeline and pose estimate of a swerve chassis.
type Drivetrain struct {
	cfg     Config
	logger  logging.Logger
	gyro    Gyro
	modules [kinematics.NumModules]ModuleActuator

	kinematics *kinematics.SwerveKinematics
	shaper     *filter.VelocityShaper
	estimator  *odometry.PoseEstimator

	// last known good sensor readings
	heading   s1.Angle
	positions [kinematics.NumModules]kinematics.ModulePosition

	pose        atomic.Pointer[odometry.Pose]
	modulePoses atomic.Pointer[[kinematics.NumModules]odometry.Pose]
}

// New validates cfg, reads the initial sensor state and starts the estimate at
// cfg.InitialPose. Sensor failures here are fatal.
func New(
	ctx context.Context,
	cfg Config,
	gyro Gyro,
	modules [kinematics.NumModules]ModuleActuator,
	clk clock.Clock,
	logger logging.Logger,
) (*Drivetrain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for i, m := range modules {
		if m == nil {
			return nil, errors.Errorf("missing %s module", kinematics.Corner(i))
		}
	}
	if gyro == nil {
		return nil, errors.New("missing gyro")
	}

	kin, err := kinematics.NewSwerveKinematics(cfg.Modules)
	if err != nil {
		return nil, err
	}
	shaper, err := filter.NewVelocityShaper(filter.ShaperConfig{
		MagnitudeRate: cfg.MagnitudeSlewRate,
		RotationRate:  cfg.RotationalSlewRate,
		Period:        cfg.Period,
	})
	if err != nil {
		return nil, err
	}

	d := &Drivetrain{
		cfg:        cfg,
		logger:     logger,
		gyro:       gyro,
		modules:    modules,
		kinematics: kin,
		shaper:     shaper,
	}

	d.heading, err = gyro.Heading(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading initial heading")
	}
	for i, m := range modules {
		d.positions[i], err = m.Position(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "reading initial %s position", kinematics.Corner(i))
		}
	}

	d.estimator, err = odometry.NewPoseEstimator(kin, d.heading, d.positions, cfg.InitialPose, cfg.Estimator, clk)
	if err != nil {
		return nil, err
	}
	d.publish(cfg.InitialPose)
	return d, nil
}

// Config returns the configuration the drivetrain was built with.
func (d *Drivetrain) Config() Config {
	return d.cfg
}

// Kinematics exposes the drivetrain's kinematics, mainly for tests and simulation.
func (d *Drivetrain) Kinematics() *kinematics.SwerveKinematics {
	return d.kinematics
}

// Drive commands the chassis from normalized inputs: xSpeed forward, ySpeed left and
// rot counter-clockwise, each in [-1, 1] and clamped otherwise. fieldRelative
// interprets x and y in the field frame using the gyro heading. rateLimit smooths the
// command and requires Drive to be called once per configured period.
//
// Every module is commanded even when a sensor or another module fails; all errors are
// returned combined.
func (d *Drivetrain) Drive(ctx context.Context, xSpeed, ySpeed, rot float64, fieldRelative, rateLimit bool) error {
	cmd := d.shaper.Shape(filter.Command{X: xSpeed, Y: ySpeed, Rot: rot}, rateLimit)
	speeds := kinematics.ChassisSpeeds{
		Vx:    cmd.X * d.cfg.MaxSpeed,
		Vy:    cmd.Y * d.cfg.MaxSpeed,
		Omega: cmd.Rot * d.cfg.MaxAngularSpeed,
	}

	var errs error
	if fieldRelative {
		heading, err := d.readHeading(ctx)
		errs = multierr.Append(errs, err)
		speeds = kinematics.FromFieldRelativeSpeeds(speeds.Vx, speeds.Vy, speeds.Omega, heading)
	}
	return multierr.Append(errs, d.DriveChassisSpeeds(ctx, speeds))
}

// DriveChassisSpeeds commands a robot relative velocity in m/s and rad/s directly,
// skipping the command shaping.
func (d *Drivetrain) DriveChassisSpeeds(ctx context.Context, speeds kinematics.ChassisSpeeds) error {
	return d.dispatch(ctx, kinematics.DesaturateWheelSpeeds(d.kinematics.ToModuleStates(speeds), d.cfg.MaxSpeed))
}

// SetModuleStates commands module frame states directly after desaturating them. The
// commanded angles are what later stopped wheels hold.
func (d *Drivetrain) SetModuleStates(ctx context.Context, states [kinematics.NumModules]kinematics.ModuleState) error {
	var headings [kinematics.NumModules]s1.Angle
	for i, state := range states {
		headings[i] = d.kinematics.ToChassisFrame(kinematics.Corner(i), state.Angle)
	}
	d.kinematics.ResetHeadings(headings)
	return d.dispatch(ctx, kinematics.DesaturateWheelSpeeds(states, d.cfg.MaxSpeed))
}

// ModuleControl drives a single module with the state it would get from a full
// chassis command, leaving the others alone. It is meant for bench testing one module.
func (d *Drivetrain) ModuleControl(ctx context.Context, corner kinematics.Corner, xSpeed, ySpeed, rot float64) error {
	if !corner.Valid() {
		return errors.Errorf("unknown module %s", corner)
	}
	state := d.kinematics.ToModuleState(corner, kinematics.ChassisSpeeds{
		Vx:    filter.Clamp(xSpeed, -1, 1) * d.cfg.MaxSpeed,
		Vy:    filter.Clamp(ySpeed, -1, 1) * d.cfg.MaxSpeed,
		Omega: filter.Clamp(rot, -1, 1) * d.cfg.MaxAngularSpeed,
	})
	d.kinematics.SetHeading(corner, d.kinematics.ToChassisFrame(corner, state.Angle))
	return errors.Wrapf(d.modules[corner].SetDesiredState(ctx, state), "commanding %s", corner)
}

// SetLockFormation turns every wheel across its rotation direction with zero speed so
// the chassis resists being pushed. The formation is kept by later zero speed
// commands.
func (d *Drivetrain) SetLockFormation(ctx context.Context) error {
	var states [kinematics.NumModules]kinematics.ModuleState
	for i, angle := range lockAngles {
		states[i] = kinematics.ModuleState{Angle: d.kinematics.ToModuleFrame(kinematics.Corner(i), angle)}
	}
	d.kinematics.ResetHeadings(lockAngles)
	d.shaper.Reset()
	return d.dispatch(ctx, states)
}

// Stop commands zero speed on every wheel, keeping their angles, and clears the rate
// limiters.
func (d *Drivetrain) Stop(ctx context.Context) error {
	d.shaper.Reset()
	return d.DriveChassisSpeeds(ctx, kinematics.ChassisSpeeds{})
}

func (d *Drivetrain) dispatch(ctx context.Context, states [kinematics.NumModules]kinematics.ModuleState) error {
	var errs error
	for i, m := range d.modules {
		if err := m.SetDesiredState(ctx, states[i]); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "commanding %s", kinematics.Corner(i)))
		}
	}
	return errs
}

// UpdatePoseEstimator integrates the latest heading and module positions. It should be
// called once per control tick. Readings that fail are replaced by the last good ones
// and the failures are returned alongside the updated pose.
func (d *Drivetrain) UpdatePoseEstimator(ctx context.Context) (odometry.Pose, error) {
	heading, errs := d.readHeading(ctx)
	positions, err := d.readPositions(ctx)
	errs = multierr.Append(errs, err)

	pose := d.estimator.Update(heading, positions)
	d.publish(pose)
	return pose, errs
}

// AddVisionMeasurement folds an absolute pose measured at t into the estimate. It
// reports whether the measurement was recent enough to be used.
func (d *Drivetrain) AddVisionMeasurement(pose odometry.Pose, t time.Time) bool {
	if !d.estimator.AddVisionMeasurement(pose, t) {
		d.logger.Debugw("dropping stale vision measurement", "pose", pose.String(), "time", t)
		return false
	}
	d.publish(d.estimator.Pose())
	return true
}

// SetVisionStdDevs changes how much later vision measurements are trusted.
func (d *Drivetrain) SetVisionStdDevs(stdDevs [3]float64) error {
	return d.estimator.SetVisionStdDevs(stdDevs)
}

// ResetPose sets the estimate to pose and re-baselines odometry on the current
// readings. Pose returns exactly pose afterwards.
func (d *Drivetrain) ResetPose(ctx context.Context, pose odometry.Pose) error {
	heading, errs := d.readHeading(ctx)
	positions, err := d.readPositions(ctx)
	errs = multierr.Append(errs, err)

	d.estimator.Reset(heading, positions, pose)
	d.publish(pose)
	return errs
}

// Pose is a snapshot of the latest estimate.
func (d *Drivetrain) Pose() odometry.Pose {
	return *d.pose.Load()
}

// ModulePoses are the field poses of each wheel, facing its chassis frame direction,
// as of the latest estimate.
func (d *Drivetrain) ModulePoses() [kinematics.NumModules]odometry.Pose {
	return *d.modulePoses.Load()
}

// ZeroHeading makes the current direction the gyro's zero and turns the estimate to
// face it, keeping its position.
func (d *Drivetrain) ZeroHeading(ctx context.Context) error {
	if err := d.gyro.Reset(ctx); err != nil {
		return errors.Wrap(err, "zeroing gyro")
	}
	current := d.Pose()
	return d.ResetPose(ctx, odometry.NewPose(current.X, current.Y, 0))
}

// Heading is the gyro heading in degrees, in (-180, 180].
func (d *Drivetrain) Heading(ctx context.Context) (float64, error) {
	heading, err := d.gyro.Heading(ctx)
	if err != nil {
		return 0, err
	}
	return heading.Normalized().Degrees(), nil
}

// TurnRate is the chassis turn rate in degrees per second.
func (d *Drivetrain) TurnRate(ctx context.Context) (float64, error) {
	rate, err := d.gyro.AngularRate(ctx)
	if err != nil {
		return 0, err
	}
	if d.cfg.GyroReversed {
		rate = -rate
	}
	return rate, nil
}

// ResetEncoders zeroes every module's distance and re-baselines odometry so the pose
// does not jump.
func (d *Drivetrain) ResetEncoders(ctx context.Context) error {
	var errs error
	for i, m := range d.modules {
		if err := m.ResetEncoders(ctx); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "resetting %s encoders", kinematics.Corner(i)))
		}
	}
	return multierr.Append(errs, d.ResetPose(ctx, d.Pose()))
}

// ModuleStates reads the measured state of every module.
func (d *Drivetrain) ModuleStates(ctx context.Context) ([kinematics.NumModules]kinematics.ModuleState, error) {
	var states [kinematics.NumModules]kinematics.ModuleState
	var errs error
	for i, m := range d.modules {
		s, err := m.State(ctx)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "reading %s state", kinematics.Corner(i)))
			continue
		}
		states[i] = s
	}
	return states, errs
}

// MeasuredChassisSpeeds is the robot relative velocity implied by the measured module
// states.
func (d *Drivetrain) MeasuredChassisSpeeds(ctx context.Context) (kinematics.ChassisSpeeds, error) {
	states, err := d.ModuleStates(ctx)
	return d.kinematics.ToChassisSpeeds(states), err
}

func (d *Drivetrain) readHeading(ctx context.Context) (s1.Angle, error) {
	heading, err := d.gyro.Heading(ctx)
	if err != nil {
		d.logger.Warnw("gyro read failed, holding last heading", "error", err)
		return d.heading, errors.Wrap(err, "reading heading")
	}
	d.heading = heading
	return heading, nil
}

func (d *Drivetrain) readPositions(ctx context.Context) ([kinematics.NumModules]kinematics.ModulePosition, error) {
	var errs error
	for i, m := range d.modules {
		p, err := m.Position(ctx)
		if err != nil {
			d.logger.Warnw("module read failed, holding last position", "module", kinematics.Corner(i).String(), "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "reading %s position", kinematics.Corner(i)))
			continue
		}
		d.positions[i] = p
	}
	return d.positions, errs
}

func (d *Drivetrain) publish(pose odometry.Pose) {
	d.pose.Store(&pose)

	var poses [kinematics.NumModules]odometry.Pose
	for i, g := range d.kinematics.Modules() {
		poses[i] = pose.TransformBy(odometry.Transform{
			Translation: g.Offset,
			Rotation:    d.kinematics.ToChassisFrame(kinematics.Corner(i), d.positions[i].Angle),
		})
	}
	d.modulePoses.Store(&poses)
}

