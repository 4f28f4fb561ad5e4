// Package main is a viam module serving a four module swerve drive base.
package main

import (
	"context"

	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
)

var model = resource.NewModel("viam-labs", "swerve", "base")

// Version number
var version = "0.1.0"

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swerveBaseModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	registerBase()
	swerveModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	if err := swerveModule.AddModelFromRegistry(ctx, base.API, model); err != nil {
		return err
	}

	err = swerveModule.Start(ctx)
	defer swerveModule.Close(ctx)

	if err != nil {
		return err
	}
	logger.Infow("swerve base module started", "version", version)
	<-ctx.Done()
	return nil
}

// registerBase adds the base's constructor and config type to the component registry.
func registerBase() {
	resource.RegisterComponent(
		base.API,
		model,
		resource.Registration[base.Base, *Config]{Constructor: func(
			ctx context.Context,
			deps resource.Dependencies,
			conf resource.Config,
			logger logging.Logger,
		) (base.Base, error) {
			return newBase(ctx, deps, conf, logger)
		}})
}
