package main

import (
	"math"
	"sync"
)

const (
	telemX             = "x_m"
	telemY             = "y_m"
	telemTheta         = "theta_deg"
	telemFieldRelative = "field_relative"
	telemRateLimit     = "rate_limit"
	telemLoopErrors    = "loop_errors"
	telemLastError     = "last_error"
	telemTimedOut      = "command_timed_out"
)

func moduleTelemKey(corner, field string) string {
	return corner + "_" + field
}

// telemetry holds the latest values reported by get_telemetry.
type telemetry struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

func newTelemetry() *telemetry {
	return &telemetry{values: map[string]interface{}{
		telemX:          math.NaN(),
		telemY:          math.NaN(),
		telemTheta:      math.NaN(),
		telemLoopErrors: 0,
		telemLastError:  "",
	}}
}

func (t *telemetry) set(key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = value
}

func (t *telemetry) get(key string) interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[key]
}

func (t *telemetry) getAll() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	toReturn := make(map[string]interface{}, len(t.values))
	for k, v := range t.values {
		toReturn[k] = v
	}
	return toReturn
}
