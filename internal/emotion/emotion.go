// Package emotion implements the deterministic emotion classifier: given a
// session's current physics state and the triggering event, it produces an
// EmotionSample via three evaluation tiers — universal overrides, an
// early-session dampener, then a section-specific rule table — a flat
// declarative rule registry evaluated top to bottom within the final tier.
package emotion

import (
	"time"

	"github.com/sentientiq/pulse-engine/internal/physics"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

// Label is a closed set of emotional states the classifier can emit.
type Label string

const (
	LabelNeutral Label = "neutral"

	// Universal overrides.
	LabelRage            Label = "rage"
	LabelAbandonmentRisk Label = "abandonment_risk"
	LabelConfusion       Label = "confusion"

	// Early-session dampener outputs.
	LabelExploring Label = "exploring"
	LabelBrowsing  Label = "browsing"

	// General engagement.
	LabelEngaged Label = "engaged"

	// Pricing/financial vocabulary.
	LabelStickerShock         Label = "sticker_shock"
	LabelPriceConsideration   Label = "price_consideration"
	LabelTierComparison       Label = "tier_comparison"
	LabelFinancialAnxiety     Label = "financial_anxiety"
	LabelPurchaseDeliberation Label = "purchase_deliberation"
	LabelPriceParalysis       Label = "price_paralysis"

	// Purchase-intent vocabulary.
	LabelPurchaseIntent       Label = "purchase_intent"
	LabelStrongPurchaseIntent Label = "strong_purchase_intent"
	LabelCheckoutIntent       Label = "checkout_intent"

	// Checkout/cart vocabulary.
	LabelCartHesitation     Label = "cart_hesitation"
	LabelCheckoutHesitation Label = "checkout_hesitation"
	LabelCommitmentAnxiety  Label = "commitment_anxiety"
	LabelAbandonmentIntent  Label = "abandonment_intent"
	LabelDistracted         Label = "distracted"
	LabelComparisonShopping Label = "comparison_shopping"

	// Trust vocabulary.
	LabelTrustHesitation    Label = "trust_hesitation"
	LabelSeekingValidation  Label = "seeking_validation"
	LabelReferenceChecking  Label = "reference_checking"
	LabelExploringElsewhere Label = "exploring_elsewhere"
)

// Sample is a single point in a session's emotional trajectory, the output
// of Classify.
type Sample struct {
	SessionID      string
	At             time.Time
	Label          Label
	Confidence     float64 // [0,100]
	Section        string
	EventType      telemetry.EventType // the triggering event's type, for pattern predicates
	ImpactFraction float64             // fraction of session LTV judged to be at risk, in [-1,1]
	Tier           string              // which evaluation tier produced this sample, for observability
}

// Input bundles everything Classify needs: the triggering event, the
// session's current physics, and enough session metadata to apply the
// early-session dampener.
type Input struct {
	Event        telemetry.Event
	Physics      physics.State
	SessionAgeMS int64
	LastLabel    Label
	LastLabelAt  time.Time
}

// rule is one row of the section-specific table: if Predicate matches the
// input, Label/Confidence/Impact are emitted. Rows are evaluated in order;
// the first match wins. This table is deliberately non-exhaustive: new rows
// can be added without touching the tiers above it.
type rule struct {
	Section    string // "" matches any section
	Label      Label
	Confidence float64
	Impact     float64
	Predicate  func(Input) bool
}

// priceRelated is the label set the early-session dampener treats
// specially.
var priceRelated = map[Label]bool{
	LabelPurchaseIntent:       true,
	LabelStickerShock:         true,
	LabelTierComparison:       true,
	LabelPriceConsideration:   true,
	LabelStrongPurchaseIntent: true,
}

// Config holds the tunable thresholds treated as deployment-specific
// choices (early-session damping windows) rather than fixed invariants.
type Config struct {
	// EarlySessionFullDampenWindow is how long after session start the
	// dampener tier fully replaces the tentative label with exploring or
	// browsing.
	EarlySessionFullDampenWindow time.Duration
	// EarlySessionCapWindow is how long after session start the dampener
	// caps and reduces confidence of price-related/purchase-intent labels
	// rather than replacing them outright.
	EarlySessionCapWindow time.Duration
	// EarlySessionWindow is kept for compatibility with callers that only
	// configure a single early-session threshold; it sets
	// EarlySessionCapWindow when EarlySessionCapWindow is left zero.
	EarlySessionWindow time.Duration
}

// DefaultConfig returns the reference thresholds: a 5s full-dampen window
// and a 15s confidence-cap window.
func DefaultConfig() Config {
	return Config{
		EarlySessionFullDampenWindow: 5 * time.Second,
		EarlySessionCapWindow:        15 * time.Second,
	}
}

func (c Config) resolve() Config {
	if c.EarlySessionWindow != 0 {
		c.EarlySessionCapWindow = c.EarlySessionWindow
	}
	if c.EarlySessionFullDampenWindow == 0 {
		c.EarlySessionFullDampenWindow = 5 * time.Second
	}
	if c.EarlySessionCapWindow == 0 {
		c.EarlySessionCapWindow = 15 * time.Second
	}
	return c
}

// Classifier evaluates Input against the universal-override tier, the
// early-session dampener, and the section table, in that order.
type Classifier struct {
	cfg   Config
	table []rule
}

// New builds a Classifier with the reference section table. cfg selects
// the early-session thresholds; pass DefaultConfig() for the documented
// defaults.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg.resolve(), table: buildTable()}
}

// Classify produces an EmotionSample for in. It never returns an error: an
// unmatched input falls through to LabelNeutral with zero confidence, so
// this function can run inline in a shard worker without ever suspending.
func (c *Classifier) Classify(in Input) Sample {
	if s, ok := c.universalOverride(in); ok {
		return s
	}
	tentative := c.classifySection(in)
	if s, ok := c.earlySessionDampen(in, tentative); ok {
		return s
	}
	return tentative
}

// universalOverride matches signals that take priority regardless of
// section or session age.
func (c *Classifier) universalOverride(in Input) (Sample, bool) {
	p := in.Physics
	switch {
	case p.Velocity > 800 && p.Acceleration > 500:
		return c.sample(in, LabelRage, 95, 0, "universal_override"), true
	case p.Flags.MouseGone && p.Velocity > 1000:
		return c.sample(in, LabelAbandonmentRisk, 90, -0.5, "universal_override"), true
	case p.DirectionChanges >= 3 && p.Entropy > 0.7:
		return c.sample(in, LabelConfusion, 80, -0.1, "universal_override"), true
	}
	return Sample{}, false
}

// earlySessionDampen suppresses high-severity labels during the opening
// window of a session. Inside the full-dampen window it replaces any
// tentative label with exploring (if the tentative label was price-related)
// or browsing (otherwise); inside the cap window it leaves most labels
// alone but caps and reduces the confidence of labels in priceRelated,
// since a burst of price-page activity this early is far more likely to be
// orientation than genuine deliberation.
func (c *Classifier) earlySessionDampen(in Input, tentative Sample) (Sample, bool) {
	age := time.Duration(in.SessionAgeMS) * time.Millisecond
	if age < c.cfg.EarlySessionFullDampenWindow {
		if priceRelated[tentative.Label] {
			return c.sample(in, LabelExploring, 60, 0, "early_session_dampen"), true
		}
		return c.sample(in, LabelBrowsing, 55, 0, "early_session_dampen"), true
	}
	if age < c.cfg.EarlySessionCapWindow && priceRelated[tentative.Label] {
		confidence := tentative.Confidence
		if confidence > 40 {
			confidence = 40
		}
		confidence -= 20
		if confidence < 0 {
			confidence = 0
		}
		dampened := tentative
		dampened.Confidence = confidence
		dampened.Tier = "early_session_dampen"
		return dampened, true
	}
	return Sample{}, false
}

func (c *Classifier) classifySection(in Input) Sample {
	for _, r := range c.table {
		if r.Section != "" && r.Section != in.Event.Section {
			continue
		}
		if r.Predicate(in) {
			return c.sample(in, r.Label, r.Confidence, r.Impact, "section_table")
		}
	}
	return c.sample(in, LabelNeutral, 0, 0, "section_table")
}

func (c *Classifier) sample(in Input, label Label, confidence, impact float64, tier string) Sample {
	if label == in.LastLabel && label != LabelNeutral && !in.LastLabelAt.IsZero() &&
		in.Event.Timestamp.Sub(in.LastLabelAt) < cooldownFor(label) {
		label = LabelNeutral
		confidence = 0
		impact = 0
	}
	return Sample{
		SessionID:      in.Event.SessionID,
		At:             in.Event.Timestamp,
		Label:          label,
		Confidence:     confidence,
		Section:        in.Event.Section,
		EventType:      in.Event.Type,
		ImpactFraction: impact,
		Tier:           tier,
	}
}

// cooldownFor returns the minimum interval between two samples of the same
// label for the same session: rage and purchase_intent get a longer
// cooldown since re-firing them in rapid succession adds little signal,
// everything else uses the shorter default.
func cooldownFor(label Label) time.Duration {
	switch label {
	case LabelRage, LabelPurchaseIntent:
		return 10 * time.Second
	default:
		return 5 * time.Second
	}
}

// buildTable returns the reference section-specific rule table: a flat,
// ordered registry evaluated first-match-wins. Non-exhaustive by design —
// sections and signals not covered here fall through to the engaged/neutral
// defaults at the bottom.
func buildTable() []rule {
	return []rule{
		// Representative rows: pricing/mouse_recoil and pricing/hover_end
		// (two duration bands).
		{
			Section: "pricing", Label: LabelStickerShock, Confidence: 90, Impact: -0.7,
			Predicate: func(in Input) bool { return in.Physics.Flags.MouseRecoil },
		},
		{
			Section: "pricing", Label: LabelStickerShock, Confidence: 75, Impact: -0.6,
			Predicate: func(in Input) bool {
				return in.Event.Type == telemetry.EventHoverEnd && in.Event.HoverDurationMS >= 5000
			},
		},
		{
			Section: "pricing", Label: LabelPriceConsideration, Confidence: 65, Impact: -0.2,
			Predicate: func(in Input) bool {
				return in.Event.Type == telemetry.EventHoverEnd && in.Event.HoverDurationMS >= 2000
			},
		},
		{
			Section: "pricing", Label: LabelTierComparison, Confidence: 70, Impact: -0.1,
			Predicate: func(in Input) bool {
				return in.Event.Type == telemetry.EventClick && in.Physics.InteractionCount > 0
			},
		},
		{
			Section: "pricing", Label: LabelPurchaseDeliberation, Confidence: 55, Impact: -0.15,
			Predicate: func(in Input) bool { return in.Physics.Flags.SlowRead },
		},
		{
			Section: "pricing", Label: LabelPriceParalysis, Confidence: 60, Impact: -0.35,
			Predicate: func(in Input) bool { return in.Physics.Flags.Oscillating },
		},
		{
			Section: "pricing", Label: LabelFinancialAnxiety, Confidence: 60, Impact: -0.3,
			Predicate: func(in Input) bool {
				return in.Physics.DirectionChanges >= 2 && in.Physics.Entropy > 0.4
			},
		},
		{
			Section: "pricing", Label: LabelComparisonShopping, Confidence: 60, Impact: -0.1,
			Predicate: func(in Input) bool { return in.Event.Type == telemetry.EventTabSwitch },
		},

		// Representative row: demo/positive_acceleration.
		{
			Section: "demo", Label: LabelStrongPurchaseIntent, Confidence: 80, Impact: 0,
			Predicate: func(in Input) bool { return in.Physics.Flags.PositiveAcceleration },
		},

		// Representative row: hero/time_in_section.
		{
			Section: "hero", Label: LabelEngaged, Confidence: 60, Impact: 0,
			Predicate: func(in Input) bool { return in.Physics.TimeInSectionMS > 10_000 },
		},

		// Representative row: contact/form_submit.
		{
			Section: "contact", Label: LabelCheckoutIntent, Confidence: 85, Impact: 0,
			Predicate: func(in Input) bool { return in.Event.Type == telemetry.EventFormSubmit },
		},

		// Checkout section: cart/commitment vocabulary.
		{
			Section: "checkout", Label: LabelAbandonmentIntent, Confidence: 80, Impact: -0.6,
			Predicate: func(in Input) bool { return in.Physics.Flags.MouseGone },
		},
		{
			Section: "checkout", Label: LabelCommitmentAnxiety, Confidence: 60, Impact: -0.2,
			Predicate: func(in Input) bool {
				return in.Event.Type == telemetry.EventFieldFocus && in.Physics.Flags.SlowRead
			},
		},
		{
			Section: "checkout", Label: LabelCheckoutHesitation, Confidence: 65, Impact: -0.3,
			Predicate: func(in Input) bool { return in.Physics.Flags.Oscillating },
		},
		{
			Section: "checkout", Label: LabelStrongPurchaseIntent, Confidence: 85, Impact: 0,
			Predicate: func(in Input) bool { return in.Event.Type == telemetry.EventFormSubmit },
		},
		{
			Section: "checkout", Label: LabelCartHesitation, Confidence: 60, Impact: -0.2,
			Predicate: func(in Input) bool { return in.Physics.Flags.SlowRead },
		},

		// Trust/validation vocabulary.
		{
			Section: "reviews", Label: LabelSeekingValidation, Confidence: 55, Impact: 0,
			Predicate: func(in Input) bool { return in.Event.Type == telemetry.EventClick },
		},
		{
			Section: "reviews", Label: LabelTrustHesitation, Confidence: 55, Impact: -0.1,
			Predicate: func(in Input) bool { return in.Physics.Flags.SlowRead },
		},
		{
			Section: "docs", Label: LabelReferenceChecking, Confidence: 55, Impact: 0,
			Predicate: func(in Input) bool { return in.Event.Type == telemetry.EventClick },
		},

		// Fallback, any section: tab-switch away reads as distraction, and
		// one leaving the page entirely reads as exploring a competitor.
		{
			Section: "", Label: LabelExploringElsewhere, Confidence: 60, Impact: -0.2,
			Predicate: func(in Input) bool {
				return in.Event.Type == telemetry.EventTabSwitch && in.Event.Context["external"] == "true"
			},
		},
		{
			Section: "", Label: LabelDistracted, Confidence: 50, Impact: -0.05,
			Predicate: func(in Input) bool { return in.Event.Type == telemetry.EventTabSwitch },
		},
		{
			Section: "", Label: LabelEngaged, Confidence: 50, Impact: 0,
			Predicate: func(in Input) bool {
				return in.Physics.Velocity > 20 && in.Physics.Velocity < 800 && in.Physics.Entropy < 0.3
			},
		},
	}
}

// ImpactFraction looks up the configured dollar-impact fraction for a
// section/label pair outside of a live classification, used by the
// intervention engine when computing a dollar-at-risk estimate.
func ImpactFraction(section string, label Label) float64 {
	for _, r := range buildTable() {
		if (r.Section == "" || r.Section == section) && r.Label == label {
			return r.Impact
		}
	}
	return 0
}
