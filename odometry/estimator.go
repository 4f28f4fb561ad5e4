package odometry

import (
	"math"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"

	"swerve/kinematics"
)

// DefaultBufferDuration is how far back a vision measurement may reach.
const DefaultBufferDuration = 1500 * time.Millisecond

// EstimatorConfig holds the trust placed in odometry and in vision. Standard deviations
// are for x (m), y (m) and heading (rad); larger means less trusted.
type EstimatorConfig struct {
	StateStdDevs   [3]float64
	VisionStdDevs  [3]float64
	BufferDuration time.Duration
}

// DefaultEstimatorConfig trusts odometry roughly nine times more than vision.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		StateStdDevs:   [3]float64{0.1, 0.1, 0.1},
		VisionStdDevs:  [3]float64{0.9, 0.9, 0.9},
		BufferDuration: DefaultBufferDuration,
	}
}

// Validate checks that every standard deviation is finite and non-negative.
func (cfg EstimatorConfig) Validate() error {
	for i := range cfg.StateStdDevs {
		if err := checkStdDev("state", cfg.StateStdDevs[i]); err != nil {
			return err
		}
		if err := checkStdDev("vision", cfg.VisionStdDevs[i]); err != nil {
			return err
		}
	}
	if cfg.BufferDuration <= 0 {
		return errors.Errorf("pose history duration must be positive, got %v", cfg.BufferDuration)
	}
	return nil
}

func checkStdDev(kind string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Errorf("%s standard deviation must be finite and non-negative, got %v", kind, v)
	}
	return nil
}

type sample struct {
	time      time.Time
	pose      Pose
	heading   s1.Angle
	positions [kinematics.NumModules]kinematics.ModulePosition
}

// PoseEstimator is Odometry with a short history that lets late absolute measurements
// correct the pose as of when they were taken. It is not safe for concurrent use.
type PoseEstimator struct {
	kin      *kinematics.SwerveKinematics
	odometry *Odometry
	clock    clock.Clock
	window   time.Duration

	stateVariance [3]float64
	gain          [3]float64

	history []sample
}

// NewPoseEstimator starts at initial. clk stamps every Update.
func NewPoseEstimator(
	kin *kinematics.SwerveKinematics,
	gyroHeading s1.Angle,
	positions [kinematics.NumModules]kinematics.ModulePosition,
	initial Pose,
	cfg EstimatorConfig,
	clk clock.Clock,
) (*PoseEstimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &PoseEstimator{
		kin:      kin,
		odometry: NewOdometry(kin, gyroHeading, positions, initial),
		clock:    clk,
		window:   cfg.BufferDuration,
	}
	for i, sd := range cfg.StateStdDevs {
		e.stateVariance[i] = sd * sd
	}
	e.setVisionStdDevs(cfg.VisionStdDevs)
	return e, nil
}

// SetVisionStdDevs changes how much subsequent vision measurements are trusted.
func (e *PoseEstimator) SetVisionStdDevs(stdDevs [3]float64) error {
	for _, sd := range stdDevs {
		if err := checkStdDev("vision", sd); err != nil {
			return err
		}
	}
	e.setVisionStdDevs(stdDevs)
	return nil
}

// setVisionStdDevs computes the closed form steady state Kalman gain for a system with
// identity dynamics, per axis.
func (e *PoseEstimator) setVisionStdDevs(stdDevs [3]float64) {
	for i, sd := range stdDevs {
		q := e.stateVariance[i]
		r := sd * sd
		if q == 0 {
			e.gain[i] = 0
			continue
		}
		e.gain[i] = q / (q + math.Sqrt(q*r))
	}
}

// Pose is the current estimate.
func (e *PoseEstimator) Pose() Pose {
	return e.odometry.Pose()
}

// Reset sets the pose exactly and forgets all history.
func (e *PoseEstimator) Reset(
	gyroHeading s1.Angle,
	positions [kinematics.NumModules]kinematics.ModulePosition,
	pose Pose,
) {
	e.odometry.Reset(gyroHeading, positions, pose)
	e.history = e.history[:0]
}

// Update integrates odometry, stamped with the estimator's clock.
func (e *PoseEstimator) Update(
	gyroHeading s1.Angle,
	positions [kinematics.NumModules]kinematics.ModulePosition,
) Pose {
	return e.UpdateWithTime(e.clock.Now(), gyroHeading, positions)
}

// UpdateWithTime integrates odometry and records the result at t.
func (e *PoseEstimator) UpdateWithTime(
	t time.Time,
	gyroHeading s1.Angle,
	positions [kinematics.NumModules]kinematics.ModulePosition,
) Pose {
	pose := e.odometry.Update(gyroHeading, positions)
	e.record(sample{time: t, pose: pose, heading: gyroHeading, positions: positions})
	return pose
}

// AddVisionMeasurement blends an absolute pose measured at t into the estimate and
// replays the odometry recorded since. It reports false when t is older than the
// history window or there is no history yet; such measurements are dropped.
func (e *PoseEstimator) AddVisionMeasurement(measured Pose, t time.Time) bool {
	if len(e.history) == 0 || t.Before(e.history[len(e.history)-1].time.Add(-e.window)) {
		return false
	}

	at := e.sampleAt(t)
	twist := at.pose.Log(measured)
	twist.Dx *= e.gain[0]
	twist.Dy *= e.gain[1]
	twist.Dtheta *= e.gain[2]

	e.odometry.Reset(at.heading, at.positions, at.pose.Exp(twist))

	cut := sort.Search(len(e.history), func(i int) bool { return e.history[i].time.After(t) })
	replay := append([]sample(nil), e.history[cut:]...)
	keep := sort.Search(cut, func(i int) bool { return !e.history[i].time.Before(t) })
	e.history = append(e.history[:keep], sample{
		time:      t,
		pose:      e.odometry.Pose(),
		heading:   at.heading,
		positions: at.positions,
	})

	for _, s := range replay {
		s.pose = e.odometry.Update(s.heading, s.positions)
		e.history = append(e.history, s)
	}
	return true
}

// record inserts s keeping history ordered by time, replacing a sample at the same
// time, and drops samples that fell out of the window.
func (e *PoseEstimator) record(s sample) {
	i := sort.Search(len(e.history), func(i int) bool { return !e.history[i].time.Before(s.time) })
	switch {
	case i < len(e.history) && e.history[i].time.Equal(s.time):
		e.history[i] = s
	case i == len(e.history):
		e.history = append(e.history, s)
	default:
		e.history = append(e.history, sample{})
		copy(e.history[i+1:], e.history[i:])
		e.history[i] = s
	}

	oldest := e.history[len(e.history)-1].time.Add(-e.window)
	drop := sort.Search(len(e.history), func(i int) bool { return !e.history[i].time.Before(oldest) })
	if drop > 0 {
		e.history = append(e.history[:0], e.history[drop:]...)
	}
}

// sampleAt interpolates the recorded odometry at t. Times outside the history clamp
// to its ends.
func (e *PoseEstimator) sampleAt(t time.Time) sample {
	first, last := e.history[0], e.history[len(e.history)-1]
	if !t.After(first.time) {
		return first
	}
	if !t.Before(last.time) {
		return last
	}

	i := sort.Search(len(e.history), func(i int) bool { return !e.history[i].time.Before(t) })
	end := e.history[i]
	if end.time.Equal(t) {
		return end
	}
	start := e.history[i-1]
	fraction := float64(t.Sub(start.time)) / float64(end.time.Sub(start.time))

	out := sample{time: t, heading: interpolateAngle(start.heading, end.heading, fraction)}
	for m := range out.positions {
		out.positions[m] = kinematics.ModulePosition{
			Distance: start.positions[m].Distance + (end.positions[m].Distance-start.positions[m].Distance)*fraction,
			Angle:    interpolateAngle(start.positions[m].Angle, end.positions[m].Angle, fraction),
		}
	}

	twist := e.kin.ToTwist(start.positions, out.positions)
	twist.Dtheta = (out.heading - start.heading).Normalized().Radians()
	next := start.pose.Exp(twist)
	out.pose = Pose{X: next.X, Y: next.Y, Heading: (start.pose.Heading + s1.Angle(twist.Dtheta)).Normalized()}
	return out
}

func interpolateAngle(from, to s1.Angle, fraction float64) s1.Angle {
	return (from + (to-from).Normalized()*s1.Angle(fraction)).Normalized()
}
