package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

func TestLifecycle_MarshalJSONRoundTrips(t *testing.T) {
	for _, l := range []Lifecycle{LifecycleNew, LifecycleActive, LifecycleMuted, LifecycleClosing, LifecycleTerminated} {
		data, err := l.MarshalJSON()
		assert.NoError(t, err)
		var decoded Lifecycle
		assert.NoError(t, decoded.UnmarshalJSON(data))
		assert.Equal(t, l, decoded)
	}
}

func TestAppendEvent_TransitionsNewToActive(t *testing.T) {
	s := NewState("s1", "t1", time.Unix(0, 0))
	assert.Equal(t, LifecycleNew, s.Lifecycle)

	s.AppendEvent(telemetry.Event{SessionID: "s1", Timestamp: time.Unix(1, 0)})
	assert.Equal(t, LifecycleActive, s.Lifecycle)
}

func TestEventHistory_IsBounded(t *testing.T) {
	s := NewState("s1", "t1", time.Unix(0, 0))
	for i := 0; i < eventHistorySize+25; i++ {
		s.AppendEvent(telemetry.Event{SessionID: "s1", Timestamp: time.Unix(int64(i), 0)})
	}
	assert.Len(t, s.events, eventHistorySize)
}

func TestEmotionWindow_ReturnsLastN(t *testing.T) {
	s := NewState("s1", "t1", time.Unix(0, 0))
	for i := 0; i < 5; i++ {
		s.RecordEmotion(emotion.Sample{Label: emotion.Label("e" + string(rune('0'+i)))})
	}
	window := s.EmotionWindow(3)
	assert.Len(t, window, 3)
	assert.Equal(t, emotion.Label("e4"), window[2].Label)
}

func TestSnapshot_IsDefensiveCopy(t *testing.T) {
	s := NewState("s1", "t1", time.Unix(0, 0))
	s.RecordEmotion(emotion.Sample{Label: emotion.LabelEngaged})

	snap := s.Snapshot()
	s.RecordEmotion(emotion.Sample{Label: emotion.LabelRage})

	assert.Equal(t, emotion.LabelEngaged, snap.LastEmotion.Label)
	last, ok := s.LastEmotion()
	assert.True(t, ok)
	assert.Equal(t, emotion.LabelRage, last.Label)
}

func TestIdleFor_MeasuresFromLastEvent(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewState("s1", "t1", start)
	s.AppendEvent(telemetry.Event{SessionID: "s1", Timestamp: start.Add(2 * time.Second)})
	assert.Equal(t, 3*time.Second, s.IdleFor(start.Add(5*time.Second)))
}
