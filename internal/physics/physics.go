// Package physics computes per-session kinematic "session physics" from
// consecutive behavioral events: velocity, acceleration, jerk, and a bounded
// entropy measure, plus the derived behavioral flags and section/interaction
// bookkeeping the emotion classifier consumes. Every function here is pure
// and deterministic: the same event sequence always produces the same
// physics, with no randomness and no I/O, so it can run inline in a shard
// worker without ever suspending.
package physics

import (
	"math"
	"time"

	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

const (
	// minDT and maxDT clamp the elapsed time between consecutive motion
	// samples before it is used as a divisor, preventing a near-zero dt from
	// producing an unbounded velocity spike and a very large dt (tab left
	// idle in the background) from producing a meaningless one.
	minDT = 10 * time.Millisecond
	maxDT = 2000 * time.Millisecond

	// gapReset is the elapsed-time threshold beyond which two motion samples
	// are considered unrelated (tab switch, long pause): kinematics reset to
	// zero instead of computing a velocity across the gap.
	gapReset = 2000 * time.Millisecond

	// velocityHistorySize bounds the rolling window used for entropy.
	velocityHistorySize = 10

	// entropyNormalizer is the variance value that maps to entropy 1.0;
	// chosen so that typical pixel-per-second variance during erratic
	// mouse movement saturates the [0,1] range.
	entropyNormalizer = 1_000_000.0

	// mouseRecoilVelocity and mouseRecoilDY are the literal thresholds for
	// FlagMouseRecoil: a fast upward snap-back, the motion of a cursor
	// yanked away from a price.
	mouseRecoilVelocity = 600.0
	mouseRecoilDY       = -50.0

	// slowReadMin and slowReadMax bound FlagSlowRead: movement present but
	// far slower than ordinary browsing, characteristic of reading rather
	// than scanning.
	slowReadMin = 10.0
	slowReadMax = 100.0

	// positiveAccelMin, positiveAccelMax, positiveAccelVelocityCap bound
	// FlagPositiveAcceleration: the cursor speeding up while still well
	// under rage-level velocity.
	positiveAccelMin         = 100.0
	positiveAccelMax         = 500.0
	positiveAccelVelocityCap = 500.0

	// hoveringPricingThreshold is how long a single hover on a pricing-section
	// element must last (its hover_end duration) for FlagHoveringPricing to fire.
	// Not given literally by the underlying behavior model; chosen as a
	// deliberate reading of "sustained" hover consistent with slowReadMax's
	// scale, documented as an implementation decision.
	hoveringPricingThreshold = 2500 * time.Millisecond

	// backForthMinDX is the horizontal displacement a sample must exceed,
	// together with a sign flip of the horizontal velocity, to count as one
	// back-and-forth reversal.
	backForthMinDX = 100.0

	// oscillatingBackForth is the back-and-forth count (since the last
	// kinematics reset) at which FlagOscillating fires — repeated large
	// horizontal reversals, distinct from a single direction change.
	oscillatingBackForth = 3

	// autoScrollDelta is the single-tick scroll delta magnitude above which
	// FlagAutoScroll fires: an instantaneous jump far larger than any human
	// scroll gesture produces in one sample, characteristic of a
	// programmatic scrollIntoView rather than a hand on a wheel/trackpad.
	autoScrollDelta = 1500.0
)

// Sample is a single positional observation, built by Accumulate from an
// event's Motion.
type Sample struct {
	X, Y    float64
	ScrollY float64
	At      time.Time
}

// Flags are derived boolean signals computed from the current physics
// state, consumed by the emotion classifier.
type Flags struct {
	MouseGone            bool // pointer has left the viewport and not yet returned
	MouseRecoil          bool // fast upward snap-back away from the cursor's last position
	SlowRead             bool // movement present but within the slow-reading velocity band
	PositiveAcceleration bool // cursor speeding up, still below rage-level velocity
	HoveringPricing      bool // sustained hover dwell on a pricing-section element
	Oscillating          bool // repeated large horizontal back-and-forth reversals
	AutoScroll           bool // a single-tick scroll jump too large to be a human gesture
}

// State is the rolling physics state for one session, updated in place by
// Accumulate. It holds no identifiers and no I/O handles: it is a pure value
// type owned by the session store.
type State struct {
	last            *Sample
	velocityHistory []float64 // px/s magnitudes, bounded to velocityHistorySize
	lastVX, lastVY  float64
	lastDY          float64

	Velocity         float64
	Acceleration     float64
	Jerk             float64
	Entropy          float64
	DirectionChanges int
	BackForthCount   int
	stillSince       *time.Time

	Flags Flags

	// Section is the label of the page section the most recent event
	// occurred in.
	Section          string
	SectionStartTime time.Time
	TimeInSectionMS  int64

	// InteractionCount counts deliberate interactions: clicks, rage clicks,
	// field focus, and form submissions — not passive mouse/scroll motion.
	InteractionCount int
	HoverCount       int
	HoverDurationMS  int64

	hoverOpenSince *time.Time
}

// NewState returns a zeroed physics state ready for the first event.
func NewState() *State {
	return &State{velocityHistory: make([]float64, 0, velocityHistorySize)}
}

// Accumulate folds the next event into s, updating velocity, acceleration,
// jerk, entropy, direction-change counters, section/interaction bookkeeping,
// and derived flags. It returns a copy of the resulting state for
// convenience; s is also mutated in place.
func (s *State) Accumulate(ev telemetry.Event) State {
	s.updateSection(ev)
	s.updateInteractionCounters(ev)
	s.updateMouseGone(ev)
	s.Flags.AutoScroll = false

	if ev.Motion != nil {
		s.accumulateMotion(Sample{X: ev.Motion.X, Y: ev.Motion.Y, ScrollY: ev.Motion.ScrollY, At: ev.Timestamp})
	}

	s.updateDerivedFlags()
	return *s
}

func (s *State) updateSection(ev telemetry.Event) {
	if ev.Section == "" {
		return
	}
	if s.Section != ev.Section {
		s.Section = ev.Section
		s.SectionStartTime = ev.Timestamp
		s.TimeInSectionMS = 0
		return
	}
	if !s.SectionStartTime.IsZero() {
		s.TimeInSectionMS = ev.Timestamp.Sub(s.SectionStartTime).Milliseconds()
	}
}

func (s *State) updateInteractionCounters(ev telemetry.Event) {
	switch ev.Type {
	case telemetry.EventClick, telemetry.EventRageClick, telemetry.EventFieldFocus, telemetry.EventFormSubmit:
		s.InteractionCount++
	case telemetry.EventHoverStart:
		s.HoverCount++
		t := ev.Timestamp
		s.hoverOpenSince = &t
	case telemetry.EventHoverEnd:
		s.HoverDurationMS += ev.HoverDurationMS
		s.hoverOpenSince = nil
		s.Flags.HoveringPricing = s.Section == "pricing" &&
			time.Duration(ev.HoverDurationMS)*time.Millisecond >= hoveringPricingThreshold
	}
}

func (s *State) updateMouseGone(ev telemetry.Event) {
	switch ev.Type {
	case telemetry.EventMouseExit:
		s.Flags.MouseGone = true
	case telemetry.EventMouseReturn, telemetry.EventMouseMove:
		s.Flags.MouseGone = false
	}
}

func (s *State) accumulateMotion(sample Sample) {
	if sample.ScrollY != 0 && s.last != nil {
		if d := sample.ScrollY - s.last.ScrollY; math.Abs(d) >= autoScrollDelta {
			s.Flags.AutoScroll = true
		}
	}

	if s.last == nil {
		s.last = &sample
		return
	}

	dt := sample.At.Sub(s.last.At)
	if dt > gapReset || dt < 0 {
		s.reset(sample)
		return
	}
	clamped := dt
	if clamped < minDT {
		clamped = minDT
	}
	if clamped > maxDT {
		clamped = maxDT
	}
	dtSec := clamped.Seconds()

	dx := sample.X - s.last.X
	dy := sample.Y - s.last.Y
	vx := dx / dtSec
	vy := dy / dtSec
	velocity := hypot(vx, vy)

	prevVelocity := s.Velocity
	acceleration := (velocity - prevVelocity) / dtSec
	jerk := (acceleration - s.Acceleration) / dtSec

	xChanged := signChanged(s.lastVX, vx)
	yChanged := signChanged(s.lastVY, vy)
	if xChanged || yChanged {
		s.DirectionChanges++
	}
	if xChanged && math.Abs(dx) > backForthMinDX {
		s.BackForthCount++
	}

	s.pushVelocity(velocity)
	s.Entropy = entropyOf(s.velocityHistory)

	s.Velocity = velocity
	s.Acceleration = acceleration
	s.Jerk = jerk
	s.lastVX, s.lastVY = vx, vy
	s.lastDY = dy
	s.last = &sample

	s.updateStillness(sample.At, velocity)
}

func (s *State) reset(sample Sample) {
	s.last = &sample
	s.Velocity = 0
	s.Acceleration = 0
	s.Jerk = 0
	s.Entropy = 0
	s.DirectionChanges = 0
	s.BackForthCount = 0
	s.lastVX, s.lastVY = 0, 0
	s.lastDY = 0
	s.velocityHistory = s.velocityHistory[:0]
	s.stillSince = nil
}

func (s *State) pushVelocity(v float64) {
	if len(s.velocityHistory) >= velocityHistorySize {
		s.velocityHistory = s.velocityHistory[1:]
	}
	s.velocityHistory = append(s.velocityHistory, v)
}

func (s *State) updateStillness(at time.Time, velocity float64) {
	if velocity > slowReadMax {
		s.stillSince = nil
		return
	}
	if s.stillSince == nil {
		t := at
		s.stillSince = &t
	}
}

func (s *State) updateDerivedFlags() {
	s.Flags.MouseRecoil = s.Velocity > mouseRecoilVelocity && s.lastDY < mouseRecoilDY
	s.Flags.SlowRead = s.Velocity > slowReadMin && s.Velocity < slowReadMax
	s.Flags.PositiveAcceleration = s.Acceleration > positiveAccelMin && s.Acceleration < positiveAccelMax &&
		s.Velocity < positiveAccelVelocityCap
	s.Flags.Oscillating = s.BackForthCount >= oscillatingBackForth && len(s.velocityHistory) >= oscillatingBackForth
}

func hypot(a, b float64) float64 {
	return math.Hypot(a, b)
}

func signChanged(prev, cur float64) bool {
	return (prev > 0 && cur < 0) || (prev < 0 && cur > 0)
}

// entropyOf maps the variance of recent velocity magnitudes into [0,1].
func entropyOf(history []float64) float64 {
	n := len(history)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, v := range history {
		mean += v
	}
	mean /= float64(n)

	var variance float64
	for _, v := range history {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)

	e := variance / entropyNormalizer
	if e > 1 {
		e = 1
	}
	if e < 0 {
		e = 0
	}
	return e
}
