package physics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

// motionEvent wraps a positional sample in the mouse_move event Accumulate takes.
func motionEvent(sm Sample) telemetry.Event {
	return telemetry.Event{
		Type:      telemetry.EventMouseMove,
		Timestamp: sm.At,
		Motion:    &telemetry.Motion{X: sm.X, Y: sm.Y, ScrollY: sm.ScrollY},
	}
}

func TestAccumulate_FirstSampleIsBaseline(t *testing.T) {
	s := NewState()
	result := s.Accumulate(motionEvent(Sample{X: 100, Y: 100, At: time.Unix(0, 0)}))
	assert.Zero(t, result.Velocity)
	assert.Zero(t, result.Acceleration)
}

func TestAccumulate_IsDeterministic(t *testing.T) {
	samples := []Sample{
		{X: 0, Y: 0, At: time.Unix(0, 0)},
		{X: 100, Y: 0, At: time.Unix(0, 0).Add(100 * time.Millisecond)},
		{X: 150, Y: 50, At: time.Unix(0, 0).Add(200 * time.Millisecond)},
	}

	run := func() State {
		s := NewState()
		var last State
		for _, sm := range samples {
			last = s.Accumulate(motionEvent(sm))
		}
		return last
	}

	a := run()
	b := run()
	assert.Equal(t, a, b)
}

func TestAccumulate_GapResetsKinematics(t *testing.T) {
	s := NewState()
	s.Accumulate(motionEvent(Sample{X: 0, Y: 0, At: time.Unix(0, 0)}))
	s.Accumulate(motionEvent(Sample{X: 500, Y: 500, At: time.Unix(0, 0).Add(100 * time.Millisecond)}))
	assert.NotZero(t, s.Velocity)

	result := s.Accumulate(motionEvent(Sample{X: 0, Y: 0, At: time.Unix(0, 0).Add(5 * time.Second)}))
	assert.Zero(t, result.Velocity)
	assert.Zero(t, result.DirectionChanges)
}

func TestAccumulate_DtIsClamped(t *testing.T) {
	s := NewState()
	s.Accumulate(motionEvent(Sample{X: 0, Y: 0, At: time.Unix(0, 0)}))
	// 1ns dt would otherwise produce an enormous velocity; clamped to minDT.
	result := s.Accumulate(motionEvent(Sample{X: 1, Y: 0, At: time.Unix(0, 0).Add(1 * time.Nanosecond)}))
	maxExpected := 1.0 / minDT.Seconds()
	assert.LessOrEqual(t, result.Velocity, maxExpected+1e-9)
}

func TestAccumulate_RageMotionFlag(t *testing.T) {
	s := NewState()
	base := time.Unix(0, 0)
	s.Accumulate(motionEvent(Sample{X: 0, Y: 0, At: base}))
	result := s.Accumulate(motionEvent(Sample{X: 1000, Y: 0, At: base.Add(10 * time.Millisecond)}))
	assert.True(t, result.Flags.RageMotion)
}

func TestAccumulate_HesitatingFlagAfterSustainedStillness(t *testing.T) {
	s := NewState()
	base := time.Unix(0, 0)
	s.Accumulate(motionEvent(Sample{X: 0, Y: 0, At: base}))
	for i := 1; i <= 5; i++ {
		s.Accumulate(motionEvent(Sample{X: 0, Y: 0, At: base.Add(time.Duration(i) * 500 * time.Millisecond)}))
	}
	assert.True(t, s.Flags.Hesitating)
}

func TestEntropyOf_BoundedZeroToOne(t *testing.T) {
	assert.Zero(t, entropyOf(nil))
	assert.Zero(t, entropyOf([]float64{5}))
	high := entropyOf([]float64{0, 100000, 0, 100000, 0, 100000})
	assert.LessOrEqual(t, high, 1.0)
	assert.GreaterOrEqual(t, high, 0.0)
}
