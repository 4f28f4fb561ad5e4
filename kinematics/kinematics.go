package kinematics

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SwerveKinematics maps chassis velocities to module states and back for a fixed
// module geometry.
//
// ToModuleStates remembers the last direction of every wheel so a wheel that is
// commanded to stop keeps its heading. That memory makes SwerveKinematics unsafe for
// concurrent use.
type SwerveKinematics struct {
	modules [NumModules]ModuleGeometry

	// inverse is the 8x3 matrix taking [vx vy omega] to per wheel [vx_i vy_i].
	inverse *mat.Dense
	// forward is the least squares pseudo-inverse of inverse.
	forward *mat.Dense

	// lastAngles are in the chassis frame.
	lastAngles [NumModules]s1.Angle
}

// NewSwerveKinematics validates the module geometry and precomputes the forward
// relation. A module mounted at the chassis center, a non-finite offset or a layout
// that cannot observe rotation is rejected.
func NewSwerveKinematics(modules [NumModules]ModuleGeometry) (*SwerveKinematics, error) {
	inverse := mat.NewDense(2*NumModules, 3, nil)
	for i, m := range modules {
		corner := Corner(i)
		if !finite(m.Offset.X) || !finite(m.Offset.Y) || !finite(m.AngularOffset.Radians()) {
			return nil, errors.Errorf("module %s geometry is not finite", corner)
		}
		if m.Offset.Norm() == 0 {
			return nil, errors.Errorf("module %s cannot be mounted at the chassis center", corner)
		}
		inverse.SetRow(2*i, []float64{1, 0, -m.Offset.Y})
		inverse.SetRow(2*i+1, []float64{0, 1, m.Offset.X})
	}

	var normal mat.Dense
	normal.Mul(inverse.T(), inverse)
	var normalInv mat.Dense
	if err := normalInv.Inverse(&normal); err != nil {
		return nil, errors.Wrap(err, "module geometry does not determine chassis motion")
	}
	forward := mat.NewDense(3, 2*NumModules, nil)
	forward.Mul(&normalInv, inverse.T())

	return &SwerveKinematics{
		modules: modules,
		inverse: inverse,
		forward: forward,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Modules returns the geometry the kinematics was built with.
func (k *SwerveKinematics) Modules() [NumModules]ModuleGeometry {
	return k.modules
}

// ToModuleStates computes the speed and module frame angle of every wheel for a robot
// relative chassis velocity. Speeds are not limited; see DesaturateWheelSpeeds.
func (k *SwerveKinematics) ToModuleStates(speeds ChassisSpeeds) [NumModules]ModuleState {
	var states [NumModules]ModuleState
	for i := range k.modules {
		states[i] = k.ToModuleState(Corner(i), speeds)
		if states[i].Speed != 0 {
			k.lastAngles[i] = k.ToChassisFrame(Corner(i), states[i].Angle)
		}
	}
	return states
}

// ToModuleState solves a single wheel without remembering its direction. A stopped
// wheel keeps the last remembered direction.
func (k *SwerveKinematics) ToModuleState(c Corner, speeds ChassisSpeeds) ModuleState {
	wheel := r2.Point{X: speeds.Vx, Y: speeds.Vy}.Add(k.modules[c].Offset.Ortho().Mul(speeds.Omega))
	angle := k.lastAngles[c]
	speed := wheel.Norm()
	if speed != 0 {
		angle = s1.Angle(math.Atan2(wheel.Y, wheel.X))
	}
	return ModuleState{Speed: speed, Angle: k.ToModuleFrame(c, angle)}
}

// ToChassisSpeeds is the least squares forward kinematics of measured module states.
func (k *SwerveKinematics) ToChassisSpeeds(states [NumModules]ModuleState) ChassisSpeeds {
	var wheels [NumModules]r2.Point
	for i, s := range states {
		wheels[i] = k.wheelVector(Corner(i), s.Speed, s.Angle)
	}
	vx, vy, omega := k.solve(wheels)
	return ChassisSpeeds{Vx: vx, Vy: vy, Omega: omega}
}

// ToTwist computes the chassis motion between two sets of module positions. The end
// angle of each module is taken as its direction of travel.
func (k *SwerveKinematics) ToTwist(start, end [NumModules]ModulePosition) Twist {
	var wheels [NumModules]r2.Point
	for i := range end {
		wheels[i] = k.wheelVector(Corner(i), end[i].Distance-start[i].Distance, end[i].Angle)
	}
	dx, dy, dtheta := k.solve(wheels)
	return Twist{Dx: dx, Dy: dy, Dtheta: dtheta}
}

// ToChassisFrame converts a module frame angle into the chassis frame.
func (k *SwerveKinematics) ToChassisFrame(c Corner, angle s1.Angle) s1.Angle {
	return (angle + k.modules[c].AngularOffset).Normalized()
}

// ToModuleFrame converts a chassis frame angle into the module frame.
func (k *SwerveKinematics) ToModuleFrame(c Corner, angle s1.Angle) s1.Angle {
	return (angle - k.modules[c].AngularOffset).Normalized()
}

// ResetHeadings replaces the remembered chassis frame direction of every wheel.
func (k *SwerveKinematics) ResetHeadings(angles [NumModules]s1.Angle) {
	for i, a := range angles {
		k.lastAngles[i] = a.Normalized()
	}
}

// SetHeading replaces the remembered chassis frame direction of one wheel.
func (k *SwerveKinematics) SetHeading(c Corner, angle s1.Angle) {
	k.lastAngles[c] = angle.Normalized()
}

// Headings are the remembered chassis frame directions.
func (k *SwerveKinematics) Headings() [NumModules]s1.Angle {
	return k.lastAngles
}

func (k *SwerveKinematics) wheelVector(c Corner, magnitude float64, moduleAngle s1.Angle) r2.Point {
	sin, cos := math.Sincos(k.ToChassisFrame(c, moduleAngle).Radians())
	return r2.Point{X: magnitude * cos, Y: magnitude * sin}
}

func (k *SwerveKinematics) solve(wheels [NumModules]r2.Point) (float64, float64, float64) {
	v := mat.NewVecDense(2*NumModules, nil)
	for i, w := range wheels {
		v.SetVec(2*i, w.X)
		v.SetVec(2*i+1, w.Y)
	}
	var out mat.VecDense
	out.MulVec(k.forward, v)
	return out.AtVec(0), out.AtVec(1), out.AtVec(2)
}
