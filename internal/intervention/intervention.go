// Package intervention gates pattern matches into dispatched interventions:
// per-type cooldowns, a global per-session budget, LTV-based thresholds,
// and priority-based resolution when multiple patterns match in the same
// tick. It holds only cooldown/budget state — it never imports the
// broadcast fabric directly and dispatches through a small Dispatcher
// interface instead.
package intervention

import (
	"context"
	"math"
	"time"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/identity"
	"github.com/sentientiq/pulse-engine/internal/pattern"
)

// State is a lifecycle state for a dispatched intervention.
type State string

const (
	StatePending   State = "pending"
	StateDelivered State = "delivered"
	StateDropped   State = "dropped"
	StateAcked     State = "acked"
)

// Record is a single dispatched (or attempted) intervention, the unit the
// outcome recorder persists and the broadcast fabric fans out.
type Record struct {
	SessionID        string
	TenantID         string
	At               time.Time
	Pattern          pattern.Name
	InterventionType string
	Priority         pattern.Priority
	State            State
	DollarImpact     float64
}

// Dispatcher delivers a gated Record to its destination (WS/bus). Intervention
// engine callers inject this; the engine itself never imports internal/ws or
// internal/bus. A non-nil error means the record could not be delivered
// (e.g. no live socket for the target session) and the engine records it as
// dropped rather than delivered.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec Record) error
}

const (
	// sessionBudget caps interventions per session within budgetWindow,
	// preventing intervention fatigue.
	sessionBudget = 3
	budgetWindow  = 10 * time.Minute

	// defaultCooldown and criticalCooldown are the per-intervention-type
	// minimum intervals: critical patterns are allowed to re-fire sooner
	// since the cost of under-intervening on them is higher.
	defaultCooldown  = 60 * time.Second
	criticalCooldown = 30 * time.Second

	// ltvThresholdHigh gates high-priority patterns for non-anonymous
	// sessions to a minimum lifetime value. Critical patterns always clear
	// the LTV gate regardless of LTV, so ltvEligible never consults
	// ltvThresholdCritical.
	ltvThresholdCritical = 10_000.0
	ltvThresholdHigh     = 1_000.0
)

// sessionState is the engine's per-session bookkeeping: last-dispatch time
// per intervention type, dispatch timestamps within the budget window, and
// a mute flag.
type sessionState struct {
	lastByType map[string]time.Time
	dispatches []time.Time
	muted      bool
}

// Engine gates and dispatches interventions for matched patterns.
type Engine struct {
	dispatcher Dispatcher
	sessions   map[string]*sessionState
	cooldown   time.Duration
}

// New builds an Engine dispatching through d with the default per-type
// cooldown. Call SetCooldown to override.
func New(d Dispatcher) *Engine {
	return &Engine{dispatcher: d, sessions: make(map[string]*sessionState), cooldown: defaultCooldown}
}

// SetCooldown overrides the default (non-critical) per-type cooldown, e.g.
// from config.
func (e *Engine) SetCooldown(d time.Duration) { e.cooldown = d }

// Mute suppresses all interventions for sessionID (do-not-disturb state),
// until Unmute is called.
func (e *Engine) Mute(sessionID string) {
	e.state(sessionID).muted = true
}

// Unmute clears the do-not-disturb state for sessionID.
func (e *Engine) Unmute(sessionID string) {
	e.state(sessionID).muted = false
}

func (e *Engine) state(sessionID string) *sessionState {
	s, ok := e.sessions[sessionID]
	if !ok {
		s = &sessionState{lastByType: make(map[string]time.Time)}
		e.sessions[sessionID] = s
	}
	return s
}

// scoredMatch pairs a pattern match with its estimated dollar-at-risk value,
// used both for priority resolution and the dispatched record.
type scoredMatch struct {
	match  pattern.Match
	impact float64
}

// Evaluate resolves the highest-priority eligible match from matches
// (already produced by the pattern detector), applies gating, and — if a
// record clears every gate — dispatches it and records the outcome. It
// returns the dispatched record and true, or the zero Record and false if
// every match was gated out.
func (e *Engine) Evaluate(ctx context.Context, sessionID, tenantID string, at time.Time, id identity.Identity, matches []pattern.Match) (Record, bool) {
	st := e.state(sessionID)
	if st.muted {
		return Record{}, false
	}

	eligible := onlyActionablePriority(matches)
	if len(eligible) == 0 {
		return Record{}, false
	}

	scored := make([]scoredMatch, len(eligible))
	for i, m := range eligible {
		scored[i] = scoredMatch{match: m, impact: dollarImpact(m, id)}
	}
	best := resolve(scored)

	cooldown := e.cooldown
	if best.match.Priority == pattern.PriorityCritical {
		cooldown = criticalCooldown
	}
	if last, seen := st.lastByType[best.match.InterventionType]; seen && at.Sub(last) < cooldown {
		return Record{}, false
	}
	if !e.withinBudget(st, at) {
		return Record{}, false
	}
	if !ltvEligible(best.match, id) {
		return Record{}, false
	}

	rec := Record{
		SessionID:        sessionID,
		TenantID:         tenantID,
		At:               at,
		Pattern:          best.match.Name,
		InterventionType: best.match.InterventionType,
		Priority:         best.match.Priority,
		State:            StatePending,
		DollarImpact:     best.impact,
	}

	if err := e.dispatcher.Dispatch(ctx, rec); err != nil {
		rec.State = StateDropped
		return rec, true
	}
	rec.State = StateDelivered

	st.lastByType[best.match.InterventionType] = at
	st.dispatches = append(st.dispatches, at)
	return rec, true
}

// onlyActionablePriority filters matches to patterns severe enough to ever
// warrant an intervention: medium/low-priority patterns are detected and
// observable but never dispatched.
func onlyActionablePriority(matches []pattern.Match) []pattern.Match {
	out := make([]pattern.Match, 0, len(matches))
	for _, m := range matches {
		if m.Priority == pattern.PriorityHigh || m.Priority == pattern.PriorityCritical {
			out = append(out, m)
		}
	}
	return out
}

// dollarImpact estimates the dollar value at risk for m, given the
// identified session's LTV: impact_fraction(section, emotion) × LTV ×
// confidence/100.
func dollarImpact(m pattern.Match, id identity.Identity) float64 {
	fraction := emotion.ImpactFraction(m.Section, m.TriggerLabel)
	return fraction * id.LTVUSD * (m.Confidence / 100)
}

// resolve picks the single highest-priority match, breaking ties first by
// the largest absolute dollar impact, then by the most recently triggered.
func resolve(scored []scoredMatch) scoredMatch {
	best := scored[0]
	for _, s := range scored[1:] {
		if betterThan(s, best) {
			best = s
		}
	}
	return best
}

func betterThan(a, b scoredMatch) bool {
	if a.match.Priority != b.match.Priority {
		return a.match.Priority > b.match.Priority
	}
	ai, bi := math.Abs(a.impact), math.Abs(b.impact)
	if ai != bi {
		return ai > bi
	}
	return a.match.TriggerAt.After(b.match.TriggerAt)
}

func (e *Engine) withinBudget(st *sessionState, at time.Time) bool {
	cutoff := at.Add(-budgetWindow)
	kept := st.dispatches[:0]
	for _, d := range st.dispatches {
		if d.After(cutoff) {
			kept = append(kept, d)
		}
	}
	st.dispatches = kept
	return len(st.dispatches) < sessionBudget
}

// ltvEligible gates high-priority intervention types to identified
// customers above ltvThresholdHigh; critical-priority patterns always fire
// regardless of LTV, and an unidentified (anonymous) session is treated as
// eligible rather than excluded.
func ltvEligible(m pattern.Match, id identity.Identity) bool {
	if m.Priority == pattern.PriorityCritical {
		return true
	}
	if !id.Known {
		return true
	}
	switch m.Priority {
	case pattern.PriorityHigh:
		return id.LTVUSD >= ltvThresholdHigh
	default:
		return true
	}
}
