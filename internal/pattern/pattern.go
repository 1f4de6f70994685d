// Package pattern detects named multi-step emotional patterns over a
// session's recent emotion history, using the same declarative-registry
// idiom as the emotion classifier's section table: a flat, ordered list of
// named predicates evaluated against a window of samples.
package pattern

import (
	"time"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

// WindowSize is the number of most recent emotion samples considered by
// every pattern predicate.
const WindowSize = 10

// Priority orders pattern severity for intervention gating.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Name is a closed set of detectable multi-step behavioral patterns.
type Name string

const (
	NameCartAbandonmentImminent  Name = "cart_abandonment_imminent"
	NameFinancialFearSpiral      Name = "financial_fear_spiral"
	NameTrustCrisis              Name = "trust_crisis"
	NamePrePurchaseRemorse       Name = "pre_purchase_remorse"
	NamePricingAnalysisParalysis Name = "pricing_analysis_paralysis"
)

// Match is a detected pattern, carrying the intervention type it maps to
// and enough of the triggering sample's context for the intervention engine
// to estimate a dollar-at-risk value and break resolution ties.
type Match struct {
	Name             Name
	Priority         Priority
	InterventionType string

	// Section, TriggerLabel, Confidence, and TriggerAt describe the most
	// recent sample in the window the pattern was detected against.
	Section      string
	TriggerLabel emotion.Label
	Confidence   float64
	TriggerAt    time.Time
}

// definition is one row of the pattern registry.
type definition struct {
	Name             Name
	Priority         Priority
	InterventionType string
	Predicate        func(window []emotion.Sample) bool
}

// Detector evaluates the registry against a session's emotion window.
type Detector struct {
	registry []definition
}

// New returns a Detector with the reference pattern registry.
func New() *Detector {
	return &Detector{registry: buildRegistry()}
}

// Detect evaluates every pattern against window (oldest-first, length up to
// WindowSize) and returns all matches, in registry order. A session can
// match more than one pattern in the same tick; the intervention engine
// resolves priority. Section/TriggerLabel/Confidence/TriggerAt on every
// match come from the most recent sample in window, the one that completed
// the match.
func (d *Detector) Detect(window []emotion.Sample) []Match {
	if len(window) == 0 {
		return nil
	}
	trigger := window[len(window)-1]

	var matches []Match
	for _, def := range d.registry {
		if def.Predicate(window) {
			matches = append(matches, Match{
				Name:             def.Name,
				Priority:         def.Priority,
				InterventionType: def.InterventionType,
				Section:          trigger.Section,
				TriggerLabel:     trigger.Label,
				Confidence:       trigger.Confidence,
				TriggerAt:        trigger.At,
			})
		}
	}
	return matches
}

func countAnyLabel(window []emotion.Sample, labels ...emotion.Label) int {
	set := make(map[emotion.Label]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	n := 0
	for _, s := range window {
		if set[s.Label] {
			n++
		}
	}
	return n
}

func anyLabel(window []emotion.Sample, labels ...emotion.Label) bool {
	set := make(map[emotion.Label]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	for _, s := range window {
		if set[s.Label] {
			return true
		}
	}
	return false
}

func lastN(window []emotion.Sample, n int) []emotion.Sample {
	if len(window) <= n {
		return window
	}
	return window[len(window)-n:]
}

func buildRegistry() []definition {
	return []definition{
		{
			// cart_hesitation followed, anywhere later in the window, by
			// distraction, comparison shopping, or outright abandonment
			// intent — the session started hesitating on the cart and then
			// drifted away from committing to it.
			Name: NameCartAbandonmentImminent, Priority: PriorityCritical,
			InterventionType: "cart_save_offer",
			Predicate: func(w []emotion.Sample) bool {
				hesitateAt := -1
				for i, s := range w {
					if s.Label == emotion.LabelCartHesitation {
						hesitateAt = i
						break
					}
				}
				if hesitateAt == -1 {
					return false
				}
				return anyLabel(w[hesitateAt+1:],
					emotion.LabelDistracted, emotion.LabelComparisonShopping, emotion.LabelAbandonmentIntent)
			},
		},
		{
			// Two or more samples across the financial-fear vocabulary in
			// the same window.
			Name: NameFinancialFearSpiral, Priority: PriorityHigh,
			InterventionType: "reassurance_banner",
			Predicate: func(w []emotion.Sample) bool {
				return countAnyLabel(w,
					emotion.LabelFinancialAnxiety, emotion.LabelStickerShock,
					emotion.LabelPurchaseDeliberation, emotion.LabelPriceParalysis) >= 2
			},
		},
		{
			// Three or more samples across the trust vocabulary.
			Name: NameTrustCrisis, Priority: PriorityHigh,
			InterventionType: "trust_badge_highlight",
			Predicate: func(w []emotion.Sample) bool {
				return countAnyLabel(w,
					emotion.LabelTrustHesitation, emotion.LabelSeekingValidation,
					emotion.LabelReferenceChecking, emotion.LabelExploringElsewhere) >= 3
			},
		},
		{
			// Remorse/anxiety about committing co-occurring, anywhere in
			// the window, with a signal that purchase intent was already
			// strong — the customer talked themselves into it and is now
			// talking themselves back out.
			Name: NamePrePurchaseRemorse, Priority: PriorityCritical,
			InterventionType: "guarantee_reminder",
			Predicate: func(w []emotion.Sample) bool {
				hasRemorse := anyLabel(w,
					emotion.LabelCommitmentAnxiety, emotion.LabelCheckoutHesitation, emotion.LabelFinancialAnxiety)
				hasIntent := anyLabel(w, emotion.LabelStrongPurchaseIntent, emotion.LabelCheckoutIntent)
				return hasRemorse && hasIntent
			},
		},
		{
			// Tier comparison present with no click in the last 5 samples:
			// comparing plans without acting on any of them.
			Name: NamePricingAnalysisParalysis, Priority: PriorityHigh,
			InterventionType: "plan_comparison_assist",
			Predicate: func(w []emotion.Sample) bool {
				if !anyLabel(w, emotion.LabelTierComparison) {
					return false
				}
				for _, s := range lastN(w, 5) {
					if s.EventType == telemetry.EventClick {
						return false
					}
				}
				return true
			},
		},
	}
}
