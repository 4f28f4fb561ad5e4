package main

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"

	"swerve/kinematics"
	"swerve/odometry"
)

func floatArg(cmd map[string]interface{}, key string) (float64, error) {
	raw, ok := cmd[key]
	if !ok {
		return 0, errors.Errorf("%s must be set to a number", key)
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, errors.Errorf("%s value must be a number but is type %T", key, raw)
	}
	return v, nil
}

func optionalBoolArg(cmd map[string]interface{}, key string) (bool, bool, error) {
	raw, ok := cmd[key]
	if !ok {
		return false, false, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, false, errors.Errorf("%s value must be a boolean", key)
	}
	return v, true, nil
}

func poseArg(cmd map[string]interface{}) (odometry.Pose, error) {
	x, err := floatArg(cmd, "x_m")
	if err != nil {
		return odometry.Pose{}, err
	}
	y, err := floatArg(cmd, "y_m")
	if err != nil {
		return odometry.Pose{}, err
	}
	theta, err := floatArg(cmd, "theta_deg")
	if err != nil {
		return odometry.Pose{}, err
	}
	return odometry.NewPose(x, y, s1.Angle(theta)*s1.Degree), nil
}

func poseResult(p odometry.Pose) map[string]interface{} {
	return map[string]interface{}{
		"x_m":       p.X,
		"y_m":       p.Y,
		"theta_deg": p.Heading.Degrees(),
	}
}

func cornerArg(cmd map[string]interface{}) (kinematics.Corner, error) {
	raw, ok := cmd["module"]
	if !ok {
		return 0, errors.New("module must be set, one of front_left|front_right|back_left|back_right")
	}
	name, ok := raw.(string)
	if !ok {
		return 0, errors.New("module value must be a string")
	}
	for _, c := range kinematics.Corners {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, errors.Errorf("unknown module %q", name)
}

// DoCommand executes swerve specific commands beyond the Base interface. The command
// name is given by the "command" key.
func (b *swerveBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	switch name {
	case "set_lock":
		b.opMgr.CancelRunning(ctx)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.setCommandLocked(&lockCommand{})
		if err := b.drive.SetLockFormation(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "set_lock command processed"}, nil

	case "set_module":
		corner, err := cornerArg(cmd)
		if err != nil {
			return nil, err
		}
		var args [3]float64
		for i, key := range []string{"x", "y", "rot"} {
			if args[i], err = floatArg(cmd, key); err != nil {
				return nil, err
			}
		}
		b.opMgr.CancelRunning(ctx)
		b.mu.Lock()
		defer b.mu.Unlock()
		moduleCmd := &moduleCommand{corner: corner, x: args[0], y: args[1], rot: args[2]}
		b.setCommandLocked(moduleCmd)
		if err := moduleCmd.apply(ctx, b.drive); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": fmt.Sprintf("set_module command processed: %s", corner)}, nil

	case "reset_pose":
		pose, err := poseArg(cmd)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if err := b.drive.ResetPose(ctx, pose); err != nil {
			return nil, err
		}
		return poseResult(b.drive.Pose()), nil

	case "get_pose":
		return poseResult(b.drive.Pose()), nil

	case "get_module_poses":
		out := map[string]interface{}{}
		for i, p := range b.drive.ModulePoses() {
			out[kinematics.Corner(i).String()] = poseResult(p)
		}
		return out, nil

	case "zero_heading":
		b.mu.Lock()
		defer b.mu.Unlock()
		if err := b.drive.ZeroHeading(ctx); err != nil {
			return nil, err
		}
		return poseResult(b.drive.Pose()), nil

	case "reset_encoders":
		b.mu.Lock()
		defer b.mu.Unlock()
		if err := b.drive.ResetEncoders(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "reset_encoders command processed"}, nil

	case "add_vision_measurement":
		pose, err := poseArg(cmd)
		if err != nil {
			return nil, err
		}
		var latency time.Duration
		if _, ok := cmd["latency_ms"]; ok {
			ms, err := floatArg(cmd, "latency_ms")
			if err != nil {
				return nil, err
			}
			if ms < 0 {
				return nil, errors.New("latency_ms cannot be negative")
			}
			latency = time.Duration(ms * float64(time.Millisecond))
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		accepted := b.drive.AddVisionMeasurement(pose, b.clock.Now().Add(-latency))
		out := poseResult(b.drive.Pose())
		out["accepted"] = accepted
		return out, nil

	case "set_vision_std_devs":
		raw, ok := cmd["std_devs"].([]interface{})
		if !ok || len(raw) != 3 {
			return nil, errors.New("std_devs must be a list of 3 numbers for x, y and theta")
		}
		var stdDevs [3]float64
		for i, v := range raw {
			f, ok := v.(float64)
			if !ok {
				return nil, errors.Errorf("std_devs values must be numbers but got type %T", v)
			}
			stdDevs[i] = f
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if err := b.drive.SetVisionStdDevs(stdDevs); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "set_vision_std_devs command processed"}, nil

	case "set_drive_mode":
		fieldRelative, setField, err := optionalBoolArg(cmd, "field_relative")
		if err != nil {
			return nil, err
		}
		rateLimit, setRate, err := optionalBoolArg(cmd, "rate_limit")
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if setField {
			b.fieldRelative = fieldRelative
			b.telemetry.set(telemFieldRelative, fieldRelative)
		}
		if setRate {
			b.rateLimit = rateLimit
			b.telemetry.set(telemRateLimit, rateLimit)
		}
		// the standing power command picks up the new mode
		if power, ok := b.command.(*powerCommand); ok {
			updated := *power
			updated.fieldRelative, updated.rateLimit = b.fieldRelative, b.rateLimit
			b.command = &updated
		}
		return map[string]interface{}{
			telemFieldRelative: b.fieldRelative,
			telemRateLimit:     b.rateLimit,
		}, nil

	case "get_heading":
		b.mu.Lock()
		defer b.mu.Unlock()
		heading, err := b.drive.Heading(ctx)
		if err != nil {
			return nil, err
		}
		rate, err := b.drive.TurnRate(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"heading_deg": heading, "turn_rate_degs_per_sec": rate}, nil

	case "get_telemetry":
		return b.telemetry.getAll(), nil

	default:
		return nil, fmt.Errorf("no such command: %s", name)
	}
}
