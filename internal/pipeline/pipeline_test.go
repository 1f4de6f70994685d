package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/identity"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

var knownCustomer = identity.Identity{SessionID: "s1", Known: true, LTVUSD: 1200}

// Rapid-fire cursor motion crosses the rage-override velocity/acceleration
// thresholds regardless of section, and a repeat within the label's cooldown
// window collapses back to neutral rather than re-firing.
func TestScenario_RageTripsUniversalOverrideAndRespectsCooldown(t *testing.T) {
	h := NewHarness()
	base := time.Now()

	// Anchor: first motion sample of the session, no velocity yet computed.
	h.Step(telemetry.Event{
		SessionID: "s1", TenantID: "t1", Timestamp: base, Type: telemetry.EventMouseMove, Section: "checkout",
		Motion: &telemetry.Motion{X: 0, Y: 0},
	}, knownCustomer)

	// dx=50 over 50ms: velocity 1000px/s, acceleration 20000px/s^2 — both
	// well past the rage thresholds.
	sample, _, _ := h.Step(telemetry.Event{
		SessionID: "s1", TenantID: "t1", Timestamp: base.Add(50 * time.Millisecond), Type: telemetry.EventMouseMove, Section: "checkout",
		Motion: &telemetry.Motion{X: 50, Y: 0},
	}, knownCustomer)
	assert.Equal(t, emotion.LabelRage, sample.Label)
	assert.InDelta(t, 95.0, sample.Confidence, 0.001)

	// dx=250 over another 50ms: velocity climbs further, acceleration spikes
	// again — the physics still reads as rage, but the repeat lands inside
	// rage's 10s cooldown and is suppressed back to neutral.
	sample2, _, _ := h.Step(telemetry.Event{
		SessionID: "s1", TenantID: "t1", Timestamp: base.Add(100 * time.Millisecond), Type: telemetry.EventMouseMove, Section: "checkout",
		Motion: &telemetry.Motion{X: 300, Y: 0},
	}, knownCustomer)
	assert.Equal(t, emotion.LabelNeutral, sample2.Label)
}

// Cart hesitation followed later in the window by abandonment intent trips
// the critical cart-abandonment pattern and dispatches cart_save_offer.
func TestScenario_CartAbandonmentImminentDispatchesCriticalIntervention(t *testing.T) {
	h := NewHarness()
	base := time.Now()

	// Forced directly into the session's emotion history, bypassing the
	// classifier's own triggering conditions — this test is about pattern
	// detection and gating, not about which physics produces the labels.
	st, _ := h.Store.GetOrCreate("s1", "t1", base)
	st.RecordEmotion(emotionSample("s1", "checkout", emotion.LabelCartHesitation, base))
	st.RecordEmotion(emotionSample("s1", "checkout", emotion.LabelAbandonmentIntent, base.Add(time.Second)))

	matches := h.Detector.Detect(st.EmotionWindow(10))
	require.NotEmpty(t, matches)

	rec, ok := h.Interventions.Evaluate(context.Background(), "s1", "t1", base.Add(4*time.Second), knownCustomer, matches)
	require.True(t, ok)
	assert.Equal(t, "cart_save_offer", rec.InterventionType)
}

// A sustained pricing hover 800ms into a brand-new session would classify as
// price_consideration at full severity, but lands inside the full-dampen
// window and is replaced outright with exploring.
func TestScenario_EarlySessionFullyDampensPriceRelatedToExploring(t *testing.T) {
	h := NewHarness()
	base := time.Now()

	// Anchors the session start.
	h.Step(telemetry.Event{
		SessionID: "s1", TenantID: "t1", Timestamp: base, Type: telemetry.EventMouseMove, Section: "pricing",
	}, identity.Anonymous("s1"))

	sample, _, _ := h.Step(telemetry.Event{
		SessionID: "s1", TenantID: "t1", Timestamp: base.Add(800 * time.Millisecond), Type: telemetry.EventHoverEnd, Section: "pricing",
		HoverDurationMS: 2500,
	}, identity.Anonymous("s1"))

	assert.Equal(t, "early_session_dampen", sample.Tier)
	assert.Equal(t, emotion.LabelExploring, sample.Label)
}

// Identity unavailable: an anonymous session still receives emotion
// classification, and the financial-fear-spiral pattern (high priority, not
// critical) still dispatches its intervention since intervention.ltvEligible
// treats an unknown identity as eligible regardless of priority tier.
func TestScenario_AnonymousIdentityStillReceivesEmotionAndHighPriorityIntervention(t *testing.T) {
	h := NewHarness()
	base := time.Now()

	st, _ := h.Store.GetOrCreate("s1", "t1", base)
	st.RecordEmotion(emotionSample("s1", "pricing", emotion.LabelStickerShock, base))
	st.RecordEmotion(emotionSample("s1", "pricing", emotion.LabelStickerShock, base.Add(time.Second)))
	st.RecordEmotion(emotionSample("s1", "pricing", emotion.LabelFinancialAnxiety, base.Add(2*time.Second)))

	matches := h.Detector.Detect(st.EmotionWindow(10))
	require.NotEmpty(t, matches)

	rec, ok := h.Interventions.Evaluate(context.Background(), "s1", "t1", base.Add(4*time.Second), identity.Anonymous("s1"), matches)
	require.True(t, ok)
	assert.Equal(t, "reassurance_banner", rec.InterventionType)
}

func emotionSample(sessionID, section string, label emotion.Label, at time.Time) emotion.Sample {
	return emotion.Sample{SessionID: sessionID, Section: section, Label: label, At: at, Confidence: 80}
}
