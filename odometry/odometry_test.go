package odometry

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"go.viam.com/test"

	"swerve/kinematics"
)

const tolerance = 1e-9

type positions = [kinematics.NumModules]kinematics.ModulePosition

func testKinematics(t *testing.T) *kinematics.SwerveKinematics {
	t.Helper()
	k, err := kinematics.NewSwerveKinematics([kinematics.NumModules]kinematics.ModuleGeometry{
		{Offset: r2.Point{X: 0.3, Y: 0.3}},
		{Offset: r2.Point{X: 0.3, Y: -0.3}},
		{Offset: r2.Point{X: -0.3, Y: 0.3}},
		{Offset: r2.Point{X: -0.3, Y: -0.3}},
	})
	test.That(t, err, test.ShouldBeNil)
	return k
}

func uniform(distance float64, angle s1.Angle) positions {
	var p positions
	for i := range p {
		p[i] = kinematics.ModulePosition{Distance: distance, Angle: angle}
	}
	return p
}

func poseShouldBe(t *testing.T, got, want Pose) {
	t.Helper()
	test.That(t, got.X, test.ShouldAlmostEqual, want.X, tolerance)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, tolerance)
	test.That(t, (got.Heading - want.Heading).Normalized().Radians(), test.ShouldAlmostEqual, 0, tolerance)
}

func TestPoseExpLog(t *testing.T) {
	start := NewPose(1, -2, 30*s1.Degree)
	for _, twist := range []kinematics.Twist{
		{Dx: 1},
		{Dx: 0.5, Dy: -0.25, Dtheta: 0.8},
		{Dtheta: -math.Pi / 2},
		{Dx: 2, Dtheta: 1e-12},
	} {
		end := start.Exp(twist)
		back := start.Log(end)
		test.That(t, back.Dx, test.ShouldAlmostEqual, twist.Dx, 1e-8)
		test.That(t, back.Dy, test.ShouldAlmostEqual, twist.Dy, 1e-8)
		test.That(t, back.Dtheta, test.ShouldAlmostEqual, twist.Dtheta, 1e-8)
	}

	// a quarter circle of radius one
	end := Pose{}.Exp(kinematics.Twist{Dx: math.Pi / 2, Dtheta: math.Pi / 2})
	poseShouldBe(t, end, NewPose(1, 1, 90*s1.Degree))
}

func TestPoseTransforms(t *testing.T) {
	p := NewPose(2, 3, 90*s1.Degree)
	moved := p.TransformBy(Transform{Translation: r2.Point{X: 1}, Rotation: 90 * s1.Degree})
	poseShouldBe(t, moved, NewPose(2, 4, 180*s1.Degree))

	rel := moved.RelativeTo(p)
	test.That(t, rel.Translation.X, test.ShouldAlmostEqual, 1, tolerance)
	test.That(t, rel.Translation.Y, test.ShouldAlmostEqual, 0, tolerance)
	test.That(t, rel.Rotation.Degrees(), test.ShouldAlmostEqual, 90, tolerance)

	test.That(t, NewPose(0, 0, 3*math.Pi/2).Heading.Degrees(), test.ShouldAlmostEqual, -90, tolerance)
	test.That(t, p.ApproxEqual(NewPose(2, 3, 90*s1.Degree+1e-12), 1e-9), test.ShouldBeTrue)
	test.That(t, p.ApproxEqual(moved, 1e-9), test.ShouldBeFalse)
	test.That(t, p.String(), test.ShouldEqual, "(2.000, 3.000, 90.00°)")
}

func TestPoseInterpolate(t *testing.T) {
	a := NewPose(0, 0, 0)
	b := NewPose(2, 0, 0)
	poseShouldBe(t, a.Interpolate(b, 0.25), NewPose(0.5, 0, 0))
	test.That(t, a.Interpolate(b, -1), test.ShouldResemble, a)
	test.That(t, a.Interpolate(b, 2), test.ShouldResemble, b)
}

func TestOdometryStationary(t *testing.T) {
	k := testKinematics(t)
	start := NewPose(4, 4, 0.3)
	o := NewOdometry(k, 1.1, uniform(7, 0.2), start)

	for i := 0; i < 50; i++ {
		poseShouldBe(t, o.Update(1.1, uniform(7, 0.2)), start)
	}
}

func TestOdometryStraight(t *testing.T) {
	k := testKinematics(t)
	o := NewOdometry(k, 0, uniform(0, 0), Pose{})

	for i := 1; i <= 10; i++ {
		o.Update(0, uniform(0.1*float64(i), 0))
	}
	poseShouldBe(t, o.Pose(), NewPose(1, 0, 0))

	// facing left on the field, driving forward moves +y
	o.Reset(0, uniform(1, 0), NewPose(1, 0, 90*s1.Degree))
	o.Update(0, uniform(2, 0))
	poseShouldBe(t, o.Pose(), NewPose(1, 1, 90*s1.Degree))

	// strafing left while facing forward
	o.Reset(0, uniform(0, 90*s1.Degree), Pose{})
	o.Update(0, uniform(0.5, 90*s1.Degree))
	poseShouldBe(t, o.Pose(), NewPose(0, 0.5, 0))
}

func TestOdometryArc(t *testing.T) {
	k := testKinematics(t)
	o := NewOdometry(k, 0, uniform(0, 0), Pose{})

	// drive a quarter circle of radius one at 1 m/s
	speeds := kinematics.ChassisSpeeds{Vx: 1, Omega: 1}
	states := k.ToModuleStates(speeds)
	const ticks = 100
	dt := (math.Pi / 2) / ticks

	var pos positions
	for i := range pos {
		pos[i].Angle = states[i].Angle
	}
	heading := s1.Angle(0)
	for i := 0; i < ticks; i++ {
		for m := range pos {
			pos[m].Distance += states[m].Speed * dt
		}
		heading += s1.Angle(speeds.Omega * dt)
		o.Update(heading, pos)
	}
	poseShouldBe(t, o.Pose(), NewPose(1, 1, 90*s1.Degree))
}

func TestOdometryReset(t *testing.T) {
	k := testKinematics(t)
	o := NewOdometry(k, 0, uniform(0, 0), Pose{})
	o.Update(0.4, uniform(3, 0))

	target := Pose{X: -1.5, Y: 2.25, Heading: 1}
	o.Reset(0.4, uniform(3, 0), target)
	test.That(t, o.Pose(), test.ShouldResemble, target)

	// motion is measured from the reset baseline, not from the start
	o.Update(0.4, uniform(3.5, 0))
	want := target.TransformBy(Transform{Translation: r2.Point{X: 0.5}})
	test.That(t, want.X, test.ShouldAlmostEqual, -1.5+0.5*math.Cos(1), tolerance)
	poseShouldBe(t, o.Pose(), want)
}

func TestOdometryHeadingWraps(t *testing.T) {
	k := testKinematics(t)
	o := NewOdometry(k, 0, uniform(0, 0), NewPose(0, 0, 170*s1.Degree))

	p := o.Update(20*s1.Degree, uniform(0, 0))
	test.That(t, p.Heading.Degrees(), test.ShouldAlmostEqual, -170, 1e-7)
	test.That(t, p.X, test.ShouldAlmostEqual, 0, tolerance)
}

func newTestEstimator(t *testing.T, clk clock.Clock) *PoseEstimator {
	t.Helper()
	e, err := NewPoseEstimator(testKinematics(t), 0, uniform(0, 0), Pose{}, DefaultEstimatorConfig(), clk)
	test.That(t, err, test.ShouldBeNil)
	return e
}

func TestEstimatorConfig(t *testing.T) {
	cfg := DefaultEstimatorConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	bad := cfg
	bad.StateStdDevs[1] = -1
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = cfg
	bad.VisionStdDevs[2] = math.Inf(1)
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = cfg
	bad.BufferDuration = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	_, err := NewPoseEstimator(testKinematics(t), 0, uniform(0, 0), Pose{}, bad, clock.NewMock())
	test.That(t, err, test.ShouldNotBeNil)

	e := newTestEstimator(t, clock.NewMock())
	test.That(t, e.SetVisionStdDevs([3]float64{1, -1, 1}), test.ShouldNotBeNil)
	test.That(t, e.SetVisionStdDevs([3]float64{0.1, 0.1, 0.1}), test.ShouldBeNil)
}

func TestEstimatorUpdateAndReset(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEstimator(t, clk)

	for i := 1; i <= 5; i++ {
		clk.Add(20 * time.Millisecond)
		e.Update(0, uniform(0.2*float64(i), 0))
	}
	poseShouldBe(t, e.Pose(), NewPose(1, 0, 0))

	target := NewPose(4, 4, 0)
	e.Reset(0, uniform(1, 0), target)
	test.That(t, e.Pose(), test.ShouldResemble, target)
	test.That(t, e.AddVisionMeasurement(NewPose(0, 0, 0), clk.Now()), test.ShouldBeFalse)

	clk.Add(20 * time.Millisecond)
	e.Update(0, uniform(1.25, 0))
	poseShouldBe(t, e.Pose(), NewPose(4.25, 4, 0))
}

func TestEstimatorVisionCorrection(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEstimator(t, clk)

	for i := 0; i < 10; i++ {
		clk.Add(20 * time.Millisecond)
		e.Update(0, uniform(0, 0))
	}

	// with the default trust the estimate moves a tenth of the way to the measurement
	test.That(t, e.AddVisionMeasurement(NewPose(1, 0, 0), clk.Now()), test.ShouldBeTrue)
	poseShouldBe(t, e.Pose(), NewPose(0.1, 0, 0))

	test.That(t, e.SetVisionStdDevs([3]float64{0, 0, 0}), test.ShouldBeNil)
	test.That(t, e.AddVisionMeasurement(NewPose(2, -1, 0), clk.Now()), test.ShouldBeTrue)
	poseShouldBe(t, e.Pose(), NewPose(2, -1, 0))
}

func TestEstimatorVisionReplay(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEstimator(t, clk)
	test.That(t, e.SetVisionStdDevs([3]float64{0, 0, 0}), test.ShouldBeNil)

	var stamps []time.Time
	for i := 1; i <= 10; i++ {
		clk.Add(20 * time.Millisecond)
		stamps = append(stamps, clk.Now())
		e.Update(0, uniform(0.1*float64(i), 0))
	}
	poseShouldBe(t, e.Pose(), NewPose(1, 0, 0))

	// a late measurement taken after the fourth tick says we were half a meter to the left
	test.That(t, e.AddVisionMeasurement(NewPose(0.4, 0.5, 0), stamps[3]), test.ShouldBeTrue)
	poseShouldBe(t, e.Pose(), NewPose(1, 0.5, 0))

	// between samples the odometry is interpolated
	mid := stamps[6].Add(10 * time.Millisecond)
	test.That(t, e.AddVisionMeasurement(NewPose(0.75, 0, 0), mid), test.ShouldBeTrue)
	poseShouldBe(t, e.Pose(), NewPose(1, 0, 0))

	clk.Add(20 * time.Millisecond)
	e.Update(0, uniform(1.1, 0))
	poseShouldBe(t, e.Pose(), NewPose(1.1, 0, 0))
}

func TestEstimatorDropsStaleVision(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEstimator(t, clk)
	test.That(t, e.AddVisionMeasurement(NewPose(1, 1, 0), clk.Now()), test.ShouldBeFalse)

	start := clk.Now()
	for i := 0; i < 100; i++ {
		clk.Add(20 * time.Millisecond)
		e.Update(0, uniform(0, 0))
	}
	before := e.Pose()
	test.That(t, e.AddVisionMeasurement(NewPose(1, 1, 0), start), test.ShouldBeFalse)
	test.That(t, e.Pose(), test.ShouldResemble, before)

	test.That(t, len(e.history), test.ShouldBeLessThanOrEqualTo, 76)
}
