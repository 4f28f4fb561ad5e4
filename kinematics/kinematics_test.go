package kinematics

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"go.viam.com/test"
)

const tolerance = 1e-9

func squareGeometry(half float64) [NumModules]ModuleGeometry {
	return [NumModules]ModuleGeometry{
		{Offset: r2.Point{X: half, Y: half}},
		{Offset: r2.Point{X: half, Y: -half}},
		{Offset: r2.Point{X: -half, Y: half}},
		{Offset: r2.Point{X: -half, Y: -half}},
	}
}

func newTestKinematics(t *testing.T, modules [NumModules]ModuleGeometry) *SwerveKinematics {
	t.Helper()
	k, err := NewSwerveKinematics(modules)
	test.That(t, err, test.ShouldBeNil)
	return k
}

func TestNewSwerveKinematicsGeometry(t *testing.T) {
	t.Run("module at center", func(t *testing.T) {
		modules := squareGeometry(0.3)
		modules[BackLeft].Offset = r2.Point{}
		_, err := NewSwerveKinematics(modules)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "back_left")
	})

	t.Run("all modules on one point", func(t *testing.T) {
		var modules [NumModules]ModuleGeometry
		for i := range modules {
			modules[i].Offset = r2.Point{X: 0.2, Y: 0.1}
		}
		_, err := NewSwerveKinematics(modules)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("not finite", func(t *testing.T) {
		modules := squareGeometry(0.3)
		modules[FrontRight].Offset.X = math.NaN()
		_, err := NewSwerveKinematics(modules)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("rectangle", func(t *testing.T) {
		modules := [NumModules]ModuleGeometry{
			{Offset: r2.Point{X: 0.4, Y: 0.2}},
			{Offset: r2.Point{X: 0.4, Y: -0.2}},
			{Offset: r2.Point{X: -0.4, Y: 0.2}},
			{Offset: r2.Point{X: -0.4, Y: -0.2}},
		}
		k := newTestKinematics(t, modules)
		test.That(t, k.Modules(), test.ShouldResemble, modules)
	})
}

func TestToModuleStatesTranslation(t *testing.T) {
	k := newTestKinematics(t, squareGeometry(0.3))

	states := k.ToModuleStates(ChassisSpeeds{Vx: 2})
	for _, s := range states {
		test.That(t, s.Speed, test.ShouldAlmostEqual, 2, tolerance)
		test.That(t, s.Angle.Radians(), test.ShouldAlmostEqual, 0, tolerance)
	}

	states = k.ToModuleStates(ChassisSpeeds{Vx: 1, Vy: 1})
	for _, s := range states {
		test.That(t, s.Speed, test.ShouldAlmostEqual, math.Sqrt2, tolerance)
		test.That(t, s.Angle.Degrees(), test.ShouldAlmostEqual, 45, tolerance)
	}
}

func TestToModuleStatesRotation(t *testing.T) {
	modules := [NumModules]ModuleGeometry{
		{Offset: r2.Point{X: 0.4, Y: 0.2}},
		{Offset: r2.Point{X: 0.4, Y: -0.2}},
		{Offset: r2.Point{X: -0.1, Y: 0.3}},
		{Offset: r2.Point{X: -0.4, Y: -0.2}},
	}
	k := newTestKinematics(t, modules)

	const omega = 1.5
	states := k.ToModuleStates(ChassisSpeeds{Omega: omega})
	for i, s := range states {
		offset := modules[i].Offset
		test.That(t, s.Speed, test.ShouldAlmostEqual, omega*offset.Norm(), tolerance)

		// the wheel rolls tangentially, perpendicular to its offset
		dir := r2.Point{X: math.Cos(s.Angle.Radians()), Y: math.Sin(s.Angle.Radians())}
		test.That(t, dir.Dot(offset), test.ShouldAlmostEqual, 0, tolerance)
		// and counter-clockwise
		test.That(t, offset.Cross(dir), test.ShouldBeGreaterThan, 0)
	}

	square := newTestKinematics(t, squareGeometry(0.25))
	states = square.ToModuleStates(ChassisSpeeds{Omega: 1})
	expected := [NumModules]float64{135, 45, -135, -45}
	for i, s := range states {
		test.That(t, s.Angle.Degrees(), test.ShouldAlmostEqual, expected[i], tolerance)
		test.That(t, s.Speed, test.ShouldAlmostEqual, math.Hypot(0.25, 0.25), tolerance)
	}
}

func TestToModuleStatesKeepsAngleWhenStopped(t *testing.T) {
	k := newTestKinematics(t, squareGeometry(0.3))

	for _, s := range k.ToModuleStates(ChassisSpeeds{}) {
		test.That(t, s.Speed, test.ShouldEqual, 0)
		test.That(t, s.Angle.Radians(), test.ShouldEqual, 0)
	}

	k.ToModuleStates(ChassisSpeeds{Vy: 1})
	for _, s := range k.ToModuleStates(ChassisSpeeds{}) {
		test.That(t, s.Speed, test.ShouldEqual, 0)
		test.That(t, s.Angle.Degrees(), test.ShouldAlmostEqual, 90, tolerance)
	}

	k.ResetHeadings([NumModules]s1.Angle{0, s1.Angle(math.Pi / 4), 0, 0})
	states := k.ToModuleStates(ChassisSpeeds{})
	test.That(t, states[FrontLeft].Angle.Radians(), test.ShouldEqual, 0)
	test.That(t, states[FrontRight].Angle.Degrees(), test.ShouldAlmostEqual, 45, tolerance)
}

func TestToModuleStateLeavesHeadings(t *testing.T) {
	k := newTestKinematics(t, squareGeometry(0.3))
	k.ToModuleStates(ChassisSpeeds{Vx: 1})

	s := k.ToModuleState(BackLeft, ChassisSpeeds{Vy: 1})
	test.That(t, s.Speed, test.ShouldAlmostEqual, 1, tolerance)
	test.That(t, s.Angle.Degrees(), test.ShouldAlmostEqual, 90, tolerance)
	test.That(t, k.Headings(), test.ShouldResemble, [NumModules]s1.Angle{})

	k.SetHeading(BackLeft, s1.Angle(2*math.Pi+0.5))
	test.That(t, k.Headings()[BackLeft].Radians(), test.ShouldAlmostEqual, 0.5, tolerance)
	stopped := k.ToModuleState(BackLeft, ChassisSpeeds{})
	test.That(t, stopped.Speed, test.ShouldEqual, 0.0)
	test.That(t, stopped.Angle.Radians(), test.ShouldAlmostEqual, 0.5, tolerance)
}

func TestAngularOffsets(t *testing.T) {
	modules := squareGeometry(0.3)
	modules[FrontLeft].AngularOffset = -math.Pi / 2
	modules[BackLeft].AngularOffset = math.Pi
	modules[BackRight].AngularOffset = math.Pi / 2
	k := newTestKinematics(t, modules)

	states := k.ToModuleStates(ChassisSpeeds{Vx: 1})
	test.That(t, states[FrontLeft].Angle.Degrees(), test.ShouldAlmostEqual, 90, tolerance)
	test.That(t, states[FrontRight].Angle.Degrees(), test.ShouldAlmostEqual, 0, tolerance)
	test.That(t, math.Abs(states[BackLeft].Angle.Degrees()), test.ShouldAlmostEqual, 180, tolerance)
	test.That(t, states[BackRight].Angle.Degrees(), test.ShouldAlmostEqual, -90, tolerance)

	for i := range states {
		chassis := k.ToChassisFrame(Corner(i), states[i].Angle)
		test.That(t, chassis.Radians(), test.ShouldAlmostEqual, 0, tolerance)
		test.That(t, k.ToModuleFrame(Corner(i), chassis).Radians(), test.ShouldAlmostEqual,
			states[i].Angle.Radians(), tolerance)
	}
}

func TestForwardKinematicsRoundTrip(t *testing.T) {
	modules := [NumModules]ModuleGeometry{
		{Offset: r2.Point{X: 0.33, Y: 0.33}, AngularOffset: -math.Pi / 2},
		{Offset: r2.Point{X: 0.33, Y: -0.33}},
		{Offset: r2.Point{X: -0.33, Y: 0.33}, AngularOffset: math.Pi},
		{Offset: r2.Point{X: -0.33, Y: -0.33}, AngularOffset: math.Pi / 2},
	}
	k := newTestKinematics(t, modules)

	for _, speeds := range []ChassisSpeeds{
		{Vx: 1},
		{Vy: -2.5},
		{Omega: 3},
		{Vx: 1.2, Vy: -0.4, Omega: 0.7},
		{Vx: -3, Vy: 2, Omega: -5},
	} {
		got := k.ToChassisSpeeds(k.ToModuleStates(speeds))
		test.That(t, got.Vx, test.ShouldAlmostEqual, speeds.Vx, tolerance)
		test.That(t, got.Vy, test.ShouldAlmostEqual, speeds.Vy, tolerance)
		test.That(t, got.Omega, test.ShouldAlmostEqual, speeds.Omega, tolerance)
	}
}

func TestToTwist(t *testing.T) {
	k := newTestKinematics(t, squareGeometry(0.3))

	var start, end [NumModules]ModulePosition
	for i := range end {
		start[i] = ModulePosition{Distance: 2}
		end[i] = ModulePosition{Distance: 3.5}
	}
	twist := k.ToTwist(start, end)
	test.That(t, twist.Dx, test.ShouldAlmostEqual, 1.5, tolerance)
	test.That(t, twist.Dy, test.ShouldAlmostEqual, 0, tolerance)
	test.That(t, twist.Dtheta, test.ShouldAlmostEqual, 0, tolerance)

	// a quarter turn in place
	states := k.ToModuleStates(ChassisSpeeds{Omega: 1})
	arc := math.Hypot(0.3, 0.3) * math.Pi / 2
	for i := range end {
		start[i] = ModulePosition{Angle: states[i].Angle}
		end[i] = ModulePosition{Distance: arc, Angle: states[i].Angle}
	}
	twist = k.ToTwist(start, end)
	test.That(t, twist.Dx, test.ShouldAlmostEqual, 0, tolerance)
	test.That(t, twist.Dy, test.ShouldAlmostEqual, 0, tolerance)
	test.That(t, twist.Dtheta, test.ShouldAlmostEqual, math.Pi/2, tolerance)
}

func TestDesaturateWheelSpeeds(t *testing.T) {
	t.Run("under the limit", func(t *testing.T) {
		in := [NumModules]ModuleState{{Speed: 1}, {Speed: -2}, {Speed: 0.5}, {Speed: 3}}
		test.That(t, DesaturateWheelSpeeds(in, 3), test.ShouldResemble, in)
	})

	t.Run("all zero", func(t *testing.T) {
		var in [NumModules]ModuleState
		test.That(t, DesaturateWheelSpeeds(in, 0), test.ShouldResemble, in)
	})

	t.Run("scales preserving ratios", func(t *testing.T) {
		const maxSpeed = 4.8
		inputs := [][NumModules]float64{
			{5, 4, 3, 2},
			{-10, 2, 0, 7},
			{1, 1, 1, 100},
			{-6, -6, 6, 6},
			{0, 0, 0, 5},
		}
		for _, speeds := range inputs {
			var in [NumModules]ModuleState
			for i, s := range speeds {
				in[i] = ModuleState{Speed: s, Angle: s1.Angle(float64(i))}
			}
			out := DesaturateWheelSpeeds(in, maxSpeed)

			var top float64
			for i := range out {
				top = math.Max(top, math.Abs(out[i].Speed))
				test.That(t, out[i].Angle, test.ShouldEqual, in[i].Angle)
				for j := range out {
					if in[j].Speed == 0 {
						test.That(t, out[j].Speed, test.ShouldEqual, 0)
						continue
					}
					test.That(t, out[i].Speed/out[j].Speed, test.ShouldAlmostEqual, in[i].Speed/in[j].Speed, tolerance)
				}
			}
			test.That(t, top, test.ShouldAlmostEqual, maxSpeed, tolerance)
		}
	})
}

func TestFieldRelativeSpeeds(t *testing.T) {
	robot := FromFieldRelativeSpeeds(1, 0, 0.5, s1.Angle(math.Pi/2))
	test.That(t, robot.Vx, test.ShouldAlmostEqual, 0, tolerance)
	test.That(t, robot.Vy, test.ShouldAlmostEqual, -1, tolerance)
	test.That(t, robot.Omega, test.ShouldEqual, 0.5)

	robot = FromFieldRelativeSpeeds(1, 2, -1, 0)
	test.That(t, robot, test.ShouldResemble, ChassisSpeeds{Vx: 1, Vy: 2, Omega: -1})

	heading := 37 * s1.Degree
	field := ToFieldRelativeSpeeds(FromFieldRelativeSpeeds(0.3, -1.1, 2, heading), heading)
	test.That(t, field.Vx, test.ShouldAlmostEqual, 0.3, tolerance)
	test.That(t, field.Vy, test.ShouldAlmostEqual, -1.1, tolerance)
	test.That(t, field.Omega, test.ShouldEqual, 2)
}

func TestOptimize(t *testing.T) {
	got := Optimize(ModuleState{Speed: 2, Angle: s1.Angle(math.Pi)}, 0)
	test.That(t, got.Speed, test.ShouldEqual, -2)
	test.That(t, got.Angle.Radians(), test.ShouldAlmostEqual, 0, tolerance)

	got = Optimize(ModuleState{Speed: 1, Angle: 100 * s1.Degree}, 0)
	test.That(t, got.Speed, test.ShouldEqual, -1)
	test.That(t, got.Angle.Degrees(), test.ShouldAlmostEqual, -80, tolerance)

	keep := ModuleState{Speed: 1, Angle: 60 * s1.Degree}
	test.That(t, Optimize(keep, 0), test.ShouldResemble, keep)
}

func TestCornerString(t *testing.T) {
	test.That(t, FrontLeft.String(), test.ShouldEqual, "front_left")
	test.That(t, BackRight.String(), test.ShouldEqual, "back_right")
	test.That(t, Corner(7).String(), test.ShouldEqual, "corner(7)")
	test.That(t, Corner(7).Valid(), test.ShouldBeFalse)
	test.That(t, Corners[2], test.ShouldEqual, BackLeft)
}
