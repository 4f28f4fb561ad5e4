package main

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"swerve/canmodule"
	"swerve/drivetrain"
	"swerve/fake"
	"swerve/kinematics"
	"swerve/odometry"
)

const (
	// MAXSwerve modules ship with 3 inch wheels.
	defaultWheelCircumferenceMm = 76.2 * math.Pi

	startupTimeout      = 2 * time.Second
	startupPollInterval = 10 * time.Millisecond
)

type swerveBase struct {
	resource.Named
	resource.AlwaysRebuild

	logger     logging.Logger
	clock      clock.Clock
	geometries []spatialmath.Geometry

	period         time.Duration
	commandTimeout time.Duration
	widthMeters    float64
	wheelCircMm    float64

	mu            sync.Mutex
	drive         *drivetrain.Drivetrain
	command       driveCommand
	lastCommand   time.Time
	timedOut      bool
	fieldRelative bool
	rateLimit     bool
	loopErrors    int
	lastErr       string

	// exactly one of chassis or bus is set
	chassis    *fake.Chassis
	bus        *canmodule.Bus
	canModules []*canmodule.Module

	opMgr     operation.SingleOperationManager
	telemetry *telemetry

	activeBackgroundWorkers sync.WaitGroup
	cancel                  func()
}

// newBase creates a swerve base whose control loop runs every configured period in
// the background.
func newBase(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (base.Base, error) {
	b, err := newSwerveBase(ctx, deps, conf, clock.New(), logger)
	if err != nil {
		return nil, err
	}
	b.startControlLoop()
	return b, nil
}

// newSwerveBase builds the base without starting its control loop.
func newSwerveBase(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	clk clock.Clock,
	logger logging.Logger,
) (*swerveBase, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	dc, err := newConf.drivetrainConfig()
	if err != nil {
		return nil, err
	}

	var geometries = []spatialmath.Geometry{}
	if conf.Frame != nil {
		frame, err := conf.Frame.ParseConfig()
		if err != nil {
			return nil, err
		}
		geometries = append(geometries, frame.Geometry())
	}

	b := &swerveBase{
		Named:          conf.ResourceName().AsNamed(),
		logger:         logger,
		clock:          clk,
		geometries:     geometries,
		period:         dc.Period,
		commandTimeout: newConf.commandTimeout(),
		widthMeters:    trackWidth(dc.Modules),
		wheelCircMm:    newConf.WheelCircumferenceMm,
		command:        &stopCmd,
		lastCommand:    clk.Now(),
		fieldRelative:  newConf.FieldRelative,
		rateLimit:      newConf.RateLimit,
		telemetry:      newTelemetry(),
		cancel:         func() {},
	}
	if b.wheelCircMm == 0 {
		b.wheelCircMm = defaultWheelCircumferenceMm
	}

	var gyro drivetrain.Gyro
	var actuators [kinematics.NumModules]drivetrain.ModuleActuator
	if newConf.Simulated {
		b.chassis, err = fake.NewChassis(dc.Modules)
		if err != nil {
			return nil, err
		}
		gyro = b.chassis.Gyro
		for i, m := range b.chassis.Modules {
			actuators[i] = m
		}
	} else {
		gyro, actuators, err = b.openCAN(newConf, logger)
		if err != nil {
			return nil, err
		}
	}

	if newConf.MovementSensor != "" {
		ms, err := movementsensor.FromDependencies(deps, newConf.MovementSensor)
		if err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "no movement sensor named (%s)", newConf.MovementSensor), b.closeBus())
		}
		gyro = &sensorGyro{ms: ms}
	}

	if err := waitForSensors(ctx, b.clock, gyro, actuators); err != nil {
		return nil, multierr.Combine(err, b.closeBus())
	}
	b.drive, err = drivetrain.New(ctx, dc, gyro, actuators, clk, logger)
	if err != nil {
		return nil, multierr.Combine(err, b.closeBus())
	}
	b.telemetry.set(telemFieldRelative, b.fieldRelative)
	b.telemetry.set(telemRateLimit, b.rateLimit)
	b.report(ctx, b.drive.Pose(), nil)
	return b, nil
}

func (b *swerveBase) openCAN(conf *Config, logger logging.Logger) (drivetrain.Gyro, [kinematics.NumModules]drivetrain.ModuleActuator, error) {
	var actuators [kinematics.NumModules]drivetrain.ModuleActuator

	var statusIDs []uint32
	for _, m := range conf.modules() {
		statusIDs = append(statusIDs, m.CanID+canmodule.StatusOffset)
	}
	if conf.MovementSensor == "" {
		statusIDs = append(statusIDs, conf.GyroCanID)
	}

	bus, err := canmodule.Open(conf.channel(), statusIDs, b.clock, logger)
	if err != nil {
		return nil, actuators, err
	}
	b.bus = bus

	for i, m := range conf.modules() {
		module, err := canmodule.NewModule(bus, m.CanID, conf.statusTimeout())
		if err != nil {
			return nil, actuators, multierr.Combine(errors.Wrap(err, kinematics.Corner(i).String()), b.closeBus())
		}
		b.canModules = append(b.canModules, module)
		actuators[i] = module
	}

	if conf.MovementSensor != "" {
		return nil, actuators, nil
	}
	gyro, err := canmodule.NewGyro(bus, conf.GyroCanID, conf.statusTimeout())
	if err != nil {
		return nil, actuators, multierr.Combine(err, b.closeBus())
	}
	return gyro, actuators, nil
}

// waitForSensors polls until every sensor has reported once or startupTimeout passes
// on clk.
func waitForSensors(
	ctx context.Context,
	clk clock.Clock,
	gyro drivetrain.Gyro,
	modules [kinematics.NumModules]drivetrain.ModuleActuator,
) error {
	deadline := clk.Now().Add(startupTimeout)
	for {
		_, err := gyro.Heading(ctx)
		for i, m := range modules {
			if _, perr := m.Position(ctx); perr != nil {
				err = multierr.Append(err, errors.Wrapf(perr, "%s module", kinematics.Corner(i)))
			}
		}
		if err == nil {
			return nil
		}
		if !clk.Now().Before(deadline) {
			return errors.Wrap(err, "sensors did not report in time")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(startupPollInterval):
		}
	}
}

func trackWidth(modules [kinematics.NumModules]kinematics.ModuleGeometry) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, m := range modules {
		lo = math.Min(lo, m.Offset.Y)
		hi = math.Max(hi, m.Offset.Y)
	}
	return hi - lo
}

func (b *swerveBase) startControlLoop() {
	cancelCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		b.controlLoop(cancelCtx)
	}, b.activeBackgroundWorkers.Done)
}

// controlLoop applies the standing command and updates the pose every period.
func (b *swerveBase) controlLoop(ctx context.Context) {
	ticker := b.clock.Ticker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		b.tick(ctx)
	}
}

func (b *swerveBase) tick(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.chassis != nil {
		b.chassis.Step(b.period)
	}

	if b.commandTimeout > 0 && b.command.moving() && !b.opMgr.OpRunning() &&
		b.clock.Since(b.lastCommand) > b.commandTimeout {
		b.logger.Warnw("no command received in time, stopping", "timeout", b.commandTimeout)
		b.command = &stopCmd
		b.timedOut = true
		b.telemetry.set(telemTimedOut, true)
	}

	err := b.command.apply(ctx, b.drive)
	pose, poseErr := b.drive.UpdatePoseEstimator(ctx)
	b.report(ctx, pose, multierr.Combine(err, poseErr))
}

// report publishes the loop's results to telemetry. Must hold mu.
func (b *swerveBase) report(ctx context.Context, pose odometry.Pose, err error) {
	b.telemetry.set(telemX, pose.X)
	b.telemetry.set(telemY, pose.Y)
	b.telemetry.set(telemTheta, pose.Heading.Degrees())

	if states, serr := b.drive.ModuleStates(ctx); serr == nil {
		for i, s := range states {
			corner := kinematics.Corner(i).String()
			b.telemetry.set(moduleTelemKey(corner, "speed_mps"), s.Speed)
			b.telemetry.set(moduleTelemKey(corner, "angle_deg"), s.Angle.Degrees())
		}
	}

	if err == nil {
		b.lastErr = ""
		return
	}
	b.loopErrors++
	b.telemetry.set(telemLoopErrors, b.loopErrors)
	b.telemetry.set(telemLastError, err.Error())
	if msg := err.Error(); msg != b.lastErr {
		b.logger.Errorw("control loop error", "error", err)
		b.lastErr = msg
	}
}

// setCommand replaces the standing command and restarts the command timeout.
func (b *swerveBase) setCommand(cmd driveCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setCommandLocked(cmd)
}

func (b *swerveBase) setCommandLocked(cmd driveCommand) {
	b.command = cmd
	b.lastCommand = b.clock.Now()
	if b.timedOut {
		b.timedOut = false
		b.telemetry.set(telemTimedOut, false)
	}
}

// stopIfCurrent stops the base only if cmd is still the standing command.
func (b *swerveBase) stopIfCurrent(ctx context.Context, cmd driveCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.command != cmd {
		return nil
	}
	b.setCommandLocked(&stopCmd)
	return b.drive.Stop(ctx)
}

// SetPower sets the linear and angular [-1, 1] drive power. Linear Y is forward,
// linear X is right and angular Z is counter-clockwise.
func (b *swerveBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.logger.Debugw("SetPower",
		"linear.X", linear.X,
		"linear.Y", linear.Y,
		"angular.Z", angular.Z,
	)
	// Some vector components do not apply to a 2D base
	if linear.Z != 0 {
		b.logger.Warnw("Linear Z command non-zero and has no effect")
	}
	if angular.X != 0 {
		b.logger.Warnw("Angular X command non-zero and has no effect")
	}
	if angular.Y != 0 {
		b.logger.Warnw("Angular Y command non-zero and has no effect")
	}

	b.opMgr.CancelRunning(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setCommandLocked(&powerCommand{
		x:             linear.Y,
		y:             -linear.X,
		rot:           angular.Z,
		fieldRelative: b.fieldRelative,
		rateLimit:     b.rateLimit,
	})
	return nil
}

func velocity(linear, angular r3.Vector) kinematics.ChassisSpeeds {
	return kinematics.ChassisSpeeds{
		Vx:    linear.Y / 1000,
		Vy:    -linear.X / 1000,
		Omega: (s1.Angle(angular.Z) * s1.Degree).Radians(),
	}
}

// SetVelocity sets the linear (mmPerSec) and angular (degsPerSec) velocity.
func (b *swerveBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	b.setCommand(&velocityCommand{speeds: velocity(linear, angular)})
	return nil
}

// MoveStraight drives forward, or backward for a negative distance or speed, for the
// time the distance takes at mmPerSec.
func (b *swerveBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	ctx, done := b.opMgr.New(ctx)
	defer done()

	if distanceMm == 0 || mmPerSec == 0 {
		return b.Stop(ctx, extra)
	}
	speed := math.Abs(mmPerSec)
	if (distanceMm < 0) != (mmPerSec < 0) {
		speed = -speed
	}
	dur := time.Duration(math.Abs(float64(distanceMm)/mmPerSec) * float64(time.Second))
	return b.timedMove(ctx, velocity(r3.Vector{Y: speed}, r3.Vector{}), dur)
}

// Spin turns in place by angleDeg at degsPerSec.
func (b *swerveBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	ctx, done := b.opMgr.New(ctx)
	defer done()

	if angleDeg == 0 || degsPerSec == 0 {
		return b.Stop(ctx, extra)
	}
	rate := math.Copysign(math.Abs(degsPerSec), angleDeg)
	dur := time.Duration(math.Abs(angleDeg/degsPerSec) * float64(time.Second))
	return b.timedMove(ctx, velocity(r3.Vector{}, r3.Vector{Z: rate}), dur)
}

func (b *swerveBase) timedMove(ctx context.Context, speeds kinematics.ChassisSpeeds, dur time.Duration) error {
	cmd := &velocityCommand{speeds: speeds}
	b.setCommand(cmd)
	if !goutils.SelectContextOrWait(ctx, dur) {
		// a command that cancelled this one has already replaced it
		return multierr.Combine(ctx.Err(), b.stopIfCurrent(context.Background(), cmd))
	}
	return b.stopIfCurrent(ctx, cmd)
}

// Stop stops the base. Wheels keep their angles.
func (b *swerveBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setCommandLocked(&stopCmd)
	return b.drive.Stop(ctx)
}

func (b *swerveBase) IsMoving(ctx context.Context) (bool, error) {
	if b.opMgr.OpRunning() {
		return true, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.command.moving(), nil
}

func (b *swerveBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return base.Properties{
		TurningRadiusMeters:      0,
		WidthMeters:              b.widthMeters,
		WheelCircumferenceMeters: b.wheelCircMm / 1000.0,
	}, nil
}

func (b *swerveBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return b.geometries, nil
}

// Close stops the base and releases the bus.
func (b *swerveBase) Close(ctx context.Context) error {
	err := b.Stop(ctx, nil)
	b.cancel()
	b.activeBackgroundWorkers.Wait()

	for _, m := range b.canModules {
		err = multierr.Append(err, m.Disable(ctx))
	}
	return multierr.Append(err, b.closeBus())
}

func (b *swerveBase) closeBus() error {
	if b.bus == nil {
		return nil
	}
	bus := b.bus
	b.bus = nil
	return bus.Close()
}
