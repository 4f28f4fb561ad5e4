// Package odometry tracks the planar pose of a swerve chassis from wheel travel and
// heading, with optional corrections from absolute measurements such as vision.
package odometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"

	"swerve/kinematics"
)

// Pose is a position on the field in meters and a heading. Heading is kept in (-π, π].
type Pose struct {
	X       float64
	Y       float64
	Heading s1.Angle
}

// NewPose builds a pose with a wrapped heading.
func NewPose(x, y float64, heading s1.Angle) Pose {
	return Pose{X: x, Y: y, Heading: heading.Normalized()}
}

// Transform is a rigid motion expressed in the frame of the pose it is applied to.
type Transform struct {
	Translation r2.Point
	Rotation    s1.Angle
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.2f°)", p.X, p.Y, p.Heading.Degrees())
}

// Translation is the position part of the pose.
func (p Pose) Translation() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// TransformBy applies t in the frame of p.
func (p Pose) TransformBy(t Transform) Pose {
	offset := rotate(t.Translation, p.Heading)
	return NewPose(p.X+offset.X, p.Y+offset.Y, p.Heading+t.Rotation)
}

// RelativeTo expresses p in the frame of origin.
func (p Pose) RelativeTo(origin Pose) Transform {
	return Transform{
		Translation: rotate(p.Translation().Sub(origin.Translation()), -origin.Heading),
		Rotation:    (p.Heading - origin.Heading).Normalized(),
	}
}

// Exp moves p along the constant curvature arc described by t.
func (p Pose) Exp(t kinematics.Twist) Pose {
	sin, cos := math.Sincos(t.Dtheta)
	var s, c float64
	if math.Abs(t.Dtheta) < 1e-9 {
		s = 1 - t.Dtheta*t.Dtheta/6
		c = t.Dtheta / 2
	} else {
		s = sin / t.Dtheta
		c = (1 - cos) / t.Dtheta
	}
	return p.TransformBy(Transform{
		Translation: r2.Point{X: t.Dx*s - t.Dy*c, Y: t.Dx*c + t.Dy*s},
		Rotation:    s1.Angle(t.Dtheta),
	})
}

// Log is the twist that takes p to end along a constant curvature arc.
func (p Pose) Log(end Pose) kinematics.Twist {
	rel := end.RelativeTo(p)
	dtheta := rel.Rotation.Radians()
	half := dtheta / 2
	cosMinusOne := math.Cos(dtheta) - 1

	var halfOverTan float64
	if math.Abs(cosMinusOne) < 1e-9 {
		halfOverTan = 1 - dtheta*dtheta/12
	} else {
		halfOverTan = -(half * math.Sin(dtheta)) / cosMinusOne
	}

	scaled := rotate(rel.Translation, s1.Angle(math.Atan2(-half, halfOverTan))).Mul(math.Hypot(halfOverTan, half))
	return kinematics.Twist{Dx: scaled.X, Dy: scaled.Y, Dtheta: dtheta}
}

// Interpolate returns the pose a fraction of the way along the arc from p to end.
func (p Pose) Interpolate(end Pose, fraction float64) Pose {
	switch {
	case fraction <= 0:
		return p
	case fraction >= 1:
		return end
	}
	t := p.Log(end)
	return p.Exp(kinematics.Twist{Dx: t.Dx * fraction, Dy: t.Dy * fraction, Dtheta: t.Dtheta * fraction})
}

// ApproxEqual compares positions within tol meters and headings within tol radians.
func (p Pose) ApproxEqual(other Pose, tol float64) bool {
	return math.Abs(p.X-other.X) <= tol &&
		math.Abs(p.Y-other.Y) <= tol &&
		(p.Heading-other.Heading).Normalized().Abs().Radians() <= tol
}

func rotate(v r2.Point, by s1.Angle) r2.Point {
	sin, cos := math.Sincos(by.Radians())
	return r2.Point{X: v.X*cos - v.Y*sin, Y: v.X*sin + v.Y*cos}
}
