package drivetrain

import (
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"swerve/kinematics"
	"swerve/odometry"
)

// Config is the fixed description of a drivetrain. It is copied at construction.
type Config struct {
	Modules [kinematics.NumModules]kinematics.ModuleGeometry

	// MaxSpeed is the wheel speed limit and the speed a full scale command maps to, m/s.
	MaxSpeed float64
	// MaxAngularSpeed is the rotation rate a full scale command maps to, rad/s.
	MaxAngularSpeed float64

	// Slew rates in full scale units per second.
	MagnitudeSlewRate  float64
	RotationalSlewRate float64

	// Period is the control loop tick the rate limiters are tuned for.
	Period time.Duration

	// GyroReversed flips the sign of the reported turn rate.
	GyroReversed bool

	InitialPose odometry.Pose
	Estimator   odometry.EstimatorConfig
}

// DefaultConfig describes a 26 inch square chassis with MAXSwerve modules.
func DefaultConfig() Config {
	const half = 0.6604 / 2
	return Config{
		Modules: [kinematics.NumModules]kinematics.ModuleGeometry{
			{Offset: r2.Point{X: half, Y: half}, AngularOffset: -math.Pi / 2},
			{Offset: r2.Point{X: half, Y: -half}, AngularOffset: 0},
			{Offset: r2.Point{X: -half, Y: half}, AngularOffset: math.Pi},
			{Offset: r2.Point{X: -half, Y: -half}, AngularOffset: math.Pi / 2},
		},
		MaxSpeed:           4.8,
		MaxAngularSpeed:    2 * math.Pi,
		MagnitudeSlewRate:  1.8,
		RotationalSlewRate: 2.0,
		Period:             20 * time.Millisecond,
		InitialPose:        odometry.NewPose(4, 4, 0),
		Estimator:          odometry.DefaultEstimatorConfig(),
	}
}

// Validate fails on limits that would make the control loop misbehave. Geometry is
// checked by the kinematics.
func (cfg Config) Validate() error {
	positive := map[string]float64{
		"max speed":            cfg.MaxSpeed,
		"max angular speed":    cfg.MaxAngularSpeed,
		"magnitude slew rate":  cfg.MagnitudeSlewRate,
		"rotational slew rate": cfg.RotationalSlewRate,
	}
	for name, v := range positive {
		if !(v > 0) || math.IsInf(v, 0) {
			return errors.Errorf("%s must be positive and finite, got %v", name, v)
		}
	}
	if cfg.Period <= 0 {
		return errors.Errorf("control period must be positive, got %v", cfg.Period)
	}
	return cfg.Estimator.Validate()
}
