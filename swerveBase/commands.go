package main

import (
	"context"

	"swerve/drivetrain"
	"swerve/kinematics"
)

// driveCommand is the standing motion command. The control loop applies it once per
// tick until another command replaces it.
type driveCommand interface {
	apply(ctx context.Context, d *drivetrain.Drivetrain) error
	moving() bool
}

// powerCommand is a normalized command in the drivetrain's frame: x forward, y left
// and rot counter-clockwise, each in [-1, 1].
type powerCommand struct {
	x, y, rot     float64
	fieldRelative bool
	rateLimit     bool
}

func (cmd *powerCommand) apply(ctx context.Context, d *drivetrain.Drivetrain) error {
	return d.Drive(ctx, cmd.x, cmd.y, cmd.rot, cmd.fieldRelative, cmd.rateLimit)
}

func (cmd *powerCommand) moving() bool {
	return cmd.x != 0 || cmd.y != 0 || cmd.rot != 0
}

type velocityCommand struct {
	speeds kinematics.ChassisSpeeds
}

func (cmd *velocityCommand) apply(ctx context.Context, d *drivetrain.Drivetrain) error {
	return d.DriveChassisSpeeds(ctx, cmd.speeds)
}

func (cmd *velocityCommand) moving() bool {
	return cmd.speeds != kinematics.ChassisSpeeds{}
}

type lockCommand struct{}

func (cmd *lockCommand) apply(ctx context.Context, d *drivetrain.Drivetrain) error {
	return d.SetLockFormation(ctx)
}

func (cmd *lockCommand) moving() bool {
	return false
}

type stopCommand struct{}

func (cmd *stopCommand) apply(ctx context.Context, d *drivetrain.Drivetrain) error {
	return d.Stop(ctx)
}

func (cmd *stopCommand) moving() bool {
	return false
}

var stopCmd = stopCommand{}

// moduleCommand drives a single module for bench testing. The others hold their last
// setpoint.
type moduleCommand struct {
	corner    kinematics.Corner
	x, y, rot float64
}

func (cmd *moduleCommand) apply(ctx context.Context, d *drivetrain.Drivetrain) error {
	return d.ModuleControl(ctx, cmd.corner, cmd.x, cmd.y, cmd.rot)
}

func (cmd *moduleCommand) moving() bool {
	return cmd.x != 0 || cmd.y != 0 || cmd.rot != 0
}
