// Package kinematics converts between chassis velocities and the drive and
// steer targets of a four module swerve drive.
//
// The chassis frame has +x pointing forward, +y pointing left and counter-clockwise
// rotation positive. Module angles handed to and read back from actuators are in the
// module frame, which differs from the chassis frame by each module's fixed angular
// offset.
package kinematics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
)

// Corner identifies one of the four swerve modules.
type Corner int

// The canonical module order. Every per-module array in this repository is indexed by it.
const (
	FrontLeft Corner = iota
	FrontRight
	BackLeft
	BackRight
)

// NumModules is the number of swerve modules on the chassis.
const NumModules = 4

// Corners lists every corner in canonical order.
var Corners = [NumModules]Corner{FrontLeft, FrontRight, BackLeft, BackRight}

func (c Corner) String() string {
	switch c {
	case FrontLeft:
		return "front_left"
	case FrontRight:
		return "front_right"
	case BackLeft:
		return "back_left"
	case BackRight:
		return "back_right"
	default:
		return fmt.Sprintf("corner(%d)", int(c))
	}
}

// Valid reports whether c names one of the four modules.
func (c Corner) Valid() bool {
	return c >= FrontLeft && c <= BackRight
}

// ChassisSpeeds is a robot-relative velocity. Vx and Vy are in meters per second, Omega
// in radians per second.
type ChassisSpeeds struct {
	Vx    float64
	Vy    float64
	Omega float64
}

// ModuleState is a wheel speed (meters per second, signed) and steering direction.
type ModuleState struct {
	Speed float64
	Angle s1.Angle
}

// ModulePosition is the cumulative distance a wheel has driven (meters) and its current
// steering direction.
type ModulePosition struct {
	Distance float64
	Angle    s1.Angle
}

// ModuleGeometry is where a module is mounted relative to the chassis center, plus the
// steering zero misalignment of that module.
type ModuleGeometry struct {
	Offset        r2.Point
	AngularOffset s1.Angle
}

// Twist is a motion along a constant curvature arc, expressed in the frame of the pose it
// starts from.
type Twist struct {
	Dx     float64
	Dy     float64
	Dtheta float64
}

// FromFieldRelativeSpeeds converts a velocity expressed in the field frame into the robot
// frame given the robot heading.
func FromFieldRelativeSpeeds(vx, vy, omega float64, heading s1.Angle) ChassisSpeeds {
	sin, cos := math.Sincos(heading.Radians())
	return ChassisSpeeds{
		Vx:    vx*cos + vy*sin,
		Vy:    -vx*sin + vy*cos,
		Omega: omega,
	}
}

// ToFieldRelativeSpeeds is the inverse of FromFieldRelativeSpeeds.
func ToFieldRelativeSpeeds(speeds ChassisSpeeds, heading s1.Angle) ChassisSpeeds {
	sin, cos := math.Sincos(heading.Radians())
	return ChassisSpeeds{
		Vx:    speeds.Vx*cos - speeds.Vy*sin,
		Vy:    speeds.Vx*sin + speeds.Vy*cos,
		Omega: speeds.Omega,
	}
}

// Optimize returns a state equivalent to desired that never asks the steering to turn
// more than 90 degrees away from current, reversing the wheel instead.
func Optimize(desired ModuleState, current s1.Angle) ModuleState {
	delta := (desired.Angle - current).Normalized()
	if delta.Abs() > math.Pi/2 {
		return ModuleState{
			Speed: -desired.Speed,
			Angle: (desired.Angle + math.Pi).Normalized(),
		}
	}
	return desired
}
