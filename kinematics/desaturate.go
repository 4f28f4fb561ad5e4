package kinematics

import "math"

// DesaturateWheelSpeeds scales every wheel speed by the same factor so that none
// exceeds maxSpeed. The ratio between wheels, and so the commanded turning geometry, is
// preserved. Angles are left untouched.
func DesaturateWheelSpeeds(states [NumModules]ModuleState, maxSpeed float64) [NumModules]ModuleState {
	var top float64
	for _, s := range states {
		top = math.Max(top, math.Abs(s.Speed))
	}
	if top == 0 || top <= maxSpeed {
		return states
	}
	scale := maxSpeed / top
	for i := range states {
		states[i].Speed *= scale
	}
	return states
}
