package main

import (
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"swerve/canmodule"
	"swerve/drivetrain"
	"swerve/kinematics"
	"swerve/odometry"
)

const defaultChannel = "can0"

// ModuleConfig places one swerve module on the chassis. x is forward and y is left of
// the chassis center.
type ModuleConfig struct {
	XMeters          float64 `json:"x_m"`
	YMeters          float64 `json:"y_m"`
	AngularOffsetDeg float64 `json:"angular_offset_deg,omitempty"`
	CanID            uint32  `json:"can_id,omitempty"`
}

// PoseConfig is a field pose.
type PoseConfig struct {
	XMeters  float64 `json:"x_m"`
	YMeters  float64 `json:"y_m"`
	ThetaDeg float64 `json:"theta_deg"`
}

func (p PoseConfig) pose() odometry.Pose {
	return odometry.NewPose(p.XMeters, p.YMeters, s1.Angle(p.ThetaDeg)*s1.Degree)
}

// Config is the JSON attributes of the swerve base.
type Config struct {
	FrontLeft  *ModuleConfig `json:"front_left"`
	FrontRight *ModuleConfig `json:"front_right"`
	BackLeft   *ModuleConfig `json:"back_left"`
	BackRight  *ModuleConfig `json:"back_right"`

	MaxSpeedMps          float64 `json:"max_speed_mps,omitempty"`
	MaxAngularDegsPerSec float64 `json:"max_angular_degs_per_sec,omitempty"`
	MagnitudeSlewRate    float64 `json:"magnitude_slew_rate,omitempty"`
	RotationalSlewRate   float64 `json:"rotational_slew_rate,omitempty"`
	LoopPeriodMs         int     `json:"loop_period_ms,omitempty"`

	// CommandTimeoutMs stops the base when no motion command arrives for this long.
	// Zero disables the timeout.
	CommandTimeoutMs int `json:"command_timeout_ms,omitempty"`

	FieldRelative bool `json:"field_relative,omitempty"`
	RateLimit     bool `json:"rate_limit,omitempty"`
	GyroReversed  bool `json:"gyro_reversed,omitempty"`

	CanChannel      string `json:"can_channel,omitempty"`
	GyroCanID       uint32 `json:"gyro_can_id,omitempty"`
	StatusTimeoutMs int    `json:"status_timeout_ms,omitempty"`
	MovementSensor  string `json:"movement_sensor,omitempty"`
	Simulated       bool   `json:"simulated,omitempty"`

	WheelCircumferenceMm float64     `json:"wheel_circumference_mm,omitempty"`
	InitialPose          *PoseConfig `json:"initial_pose,omitempty"`
	VisionStdDevs        []float64   `json:"vision_std_devs,omitempty"`
}

func (cfg *Config) modules() [kinematics.NumModules]*ModuleConfig {
	return [kinematics.NumModules]*ModuleConfig{cfg.FrontLeft, cfg.FrontRight, cfg.BackLeft, cfg.BackRight}
}

// Validate ensures all parts of the config are valid and returns the movement sensor
// dependency, if any.
func (cfg *Config) Validate(path string) ([]string, error) {
	ids := map[uint32]string{}
	for i, m := range cfg.modules() {
		corner := kinematics.Corner(i).String()
		if m == nil {
			return nil, goutils.NewConfigValidationFieldRequiredError(path, corner)
		}
		if cfg.Simulated {
			continue
		}
		if m.CanID == 0 {
			return nil, goutils.NewConfigValidationFieldRequiredError(path, corner+".can_id")
		}
		if other, ok := ids[m.CanID]; ok {
			return nil, goutils.NewConfigValidationError(path,
				errors.Errorf("%s and %s share CAN ID 0x%x", other, corner, m.CanID))
		}
		ids[m.CanID] = corner
	}

	var deps []string
	switch {
	case cfg.MovementSensor != "":
		deps = append(deps, cfg.MovementSensor)
	case cfg.Simulated:
	case cfg.GyroCanID == 0:
		return nil, goutils.NewConfigValidationError(path,
			errors.New("one of movement_sensor or gyro_can_id is required for the heading"))
	}

	if cfg.VisionStdDevs != nil && len(cfg.VisionStdDevs) != 3 {
		return nil, goutils.NewConfigValidationError(path,
			errors.Errorf("vision_std_devs needs x, y and theta, got %d values", len(cfg.VisionStdDevs)))
	}
	for name, v := range map[string]int{
		"loop_period_ms":     cfg.LoopPeriodMs,
		"command_timeout_ms": cfg.CommandTimeoutMs,
		"status_timeout_ms":  cfg.StatusTimeoutMs,
	} {
		if v < 0 {
			return nil, goutils.NewConfigValidationError(path, errors.Errorf("%s cannot be negative", name))
		}
	}

	dc, err := cfg.drivetrainConfig()
	if err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	if _, err := kinematics.NewSwerveKinematics(dc.Modules); err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	return deps, nil
}

// drivetrainConfig overlays the configured values on drivetrain.DefaultConfig.
func (cfg *Config) drivetrainConfig() (drivetrain.Config, error) {
	out := drivetrain.DefaultConfig()
	for i, m := range cfg.modules() {
		if m == nil {
			return drivetrain.Config{}, errors.Errorf("missing %s module", kinematics.Corner(i))
		}
		out.Modules[i] = kinematics.ModuleGeometry{
			Offset:        r2.Point{X: m.XMeters, Y: m.YMeters},
			AngularOffset: (s1.Angle(m.AngularOffsetDeg) * s1.Degree).Normalized(),
		}
	}
	if cfg.MaxSpeedMps != 0 {
		out.MaxSpeed = cfg.MaxSpeedMps
	}
	if cfg.MaxAngularDegsPerSec != 0 {
		out.MaxAngularSpeed = (s1.Angle(cfg.MaxAngularDegsPerSec) * s1.Degree).Radians()
	}
	if cfg.MagnitudeSlewRate != 0 {
		out.MagnitudeSlewRate = cfg.MagnitudeSlewRate
	}
	if cfg.RotationalSlewRate != 0 {
		out.RotationalSlewRate = cfg.RotationalSlewRate
	}
	if cfg.LoopPeriodMs != 0 {
		out.Period = time.Duration(cfg.LoopPeriodMs) * time.Millisecond
	}
	out.GyroReversed = cfg.GyroReversed
	if cfg.InitialPose != nil {
		out.InitialPose = cfg.InitialPose.pose()
	}
	if cfg.VisionStdDevs != nil {
		if len(cfg.VisionStdDevs) != 3 {
			return drivetrain.Config{}, errors.New("vision_std_devs needs exactly 3 values")
		}
		copy(out.Estimator.VisionStdDevs[:], cfg.VisionStdDevs)
	}
	if err := out.Validate(); err != nil {
		return drivetrain.Config{}, err
	}
	return out, nil
}

func (cfg *Config) channel() string {
	if cfg.CanChannel == "" {
		return defaultChannel
	}
	return cfg.CanChannel
}

func (cfg *Config) statusTimeout() time.Duration {
	if cfg.StatusTimeoutMs == 0 {
		return canmodule.DefaultStatusTimeout
	}
	return time.Duration(cfg.StatusTimeoutMs) * time.Millisecond
}

func (cfg *Config) commandTimeout() time.Duration {
	return time.Duration(cfg.CommandTimeoutMs) * time.Millisecond
}
