package main

import (
	"context"
	"sync"

	"github.com/golang/geo/s1"

	"go.viam.com/rdk/components/movementsensor"
)

// sensorGyro reads the heading from a movement sensor's orientation yaw. Reset keeps a
// local zero because movement sensors cannot be re-zeroed through the API.
type sensorGyro struct {
	ms movementsensor.MovementSensor

	mu   sync.Mutex
	zero s1.Angle
}

func (g *sensorGyro) yaw(ctx context.Context) (s1.Angle, error) {
	orient, err := g.ms.Orientation(ctx, nil)
	if err != nil {
		return 0, err
	}
	return s1.Angle(orient.EulerAngles().Yaw), nil
}

func (g *sensorGyro) Heading(ctx context.Context) (s1.Angle, error) {
	yaw, err := g.yaw(ctx)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return yaw - g.zero, nil
}

func (g *sensorGyro) AngularRate(ctx context.Context) (float64, error) {
	vel, err := g.ms.AngularVelocity(ctx, nil)
	if err != nil {
		return 0, err
	}
	return vel.Z, nil
}

func (g *sensorGyro) Reset(ctx context.Context) error {
	yaw, err := g.yaw(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.zero = yaw
	return nil
}
