package ingest

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sentientiq/pulse-engine/internal/shard"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

// simSession is one synthetic visitor's browsing trajectory: a
// per-session, pattern-driven advance loop ticked forward on a fixed
// interval, producing synthetic pointer/scroll motion and interaction
// counts for local development.
type simSession struct {
	sessionID  string
	tenantID   string
	section    string
	pattern    string
	x, y       float64
	scrollY    float64
	clicks     int
	hovering   bool
	hoverTicks int
	done       bool
}

var demoSections = []string{"home", "pricing", "checkout", "product", "docs"}

// Simulator drives synthetic telemetry through a shard.Pool for local
// development and demos, in place of a real instrumented page. It runs
// only when cmd/sentientiqd's serve command is given the --simulate flag.
type Simulator struct {
	pool     *shard.Pool
	sessions []*simSession
}

// NewSimulator builds a Simulator with a fixed cast of synthetic sessions
// spanning each emotional pattern: steady browsing, a rage-click burst,
// a hesitant stall, an abandon-intent ramp, and methodical page-by-page
// reading.
func NewSimulator(pool *shard.Pool) *Simulator {
	return &Simulator{
		pool: pool,
		sessions: []*simSession{
			{sessionID: "sim-steady-browse", tenantID: "demo", section: "home", pattern: "steady"},
			{sessionID: "sim-rage-checkout", tenantID: "demo", section: "checkout", pattern: "rage"},
			{sessionID: "sim-hesitant-pricing", tenantID: "demo", section: "pricing", pattern: "hesitant"},
			{sessionID: "sim-abandon-product", tenantID: "demo", section: "product", pattern: "abandon"},
			{sessionID: "sim-methodical-docs", tenantID: "demo", section: "docs", pattern: "methodical"},
		},
	}
}

// Run drives every synthetic session at a fixed tick rate until ctx is
// cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			now := time.Now()
			for _, sess := range s.sessions {
				if sess.done {
					continue
				}
				ev := s.advance(sess, tick, now)
				s.pool.Submit(ev)
			}
		}
	}
}

func (s *Simulator) advance(sess *simSession, tick int, at time.Time) telemetry.Event {
	switch sess.pattern {
	case "rage":
		return s.advanceRage(sess, tick, at)
	case "hesitant":
		return s.advanceHesitant(sess, tick, at)
	case "abandon":
		return s.advanceAbandon(sess, tick, at)
	case "methodical":
		return s.advanceMethodical(sess, tick, at)
	default:
		return s.advanceSteady(sess, tick, at)
	}
}

func (s *Simulator) base(sess *simSession, at time.Time, typ telemetry.EventType) telemetry.Event {
	return telemetry.Event{
		SessionID: sess.sessionID,
		TenantID:  sess.tenantID,
		Timestamp: at,
		Type:      typ,
		Section:   sess.section,
		Motion:    &telemetry.Motion{X: sess.x, Y: sess.y, ScrollY: sess.scrollY},
	}
}

func (s *Simulator) advanceSteady(sess *simSession, tick int, at time.Time) telemetry.Event {
	sess.x += float64(rand.Intn(40) - 20)
	sess.y += float64(rand.Intn(20))
	sess.scrollY += float64(rand.Intn(30))
	return s.base(sess, at, telemetry.EventMouseMove)
}

func (s *Simulator) advanceRage(sess *simSession, tick int, at time.Time) telemetry.Event {
	sess.clicks++
	ev := s.base(sess, at, telemetry.EventRageClick)
	ev.Interactions = &telemetry.Interactions{Clicks: sess.clicks}
	if tick > 30 {
		sess.done = true
	}
	return ev
}

// advanceHesitant simulates a stalled visitor lingering over pricing: short
// pointer drift punctuated by held hovers, alternating hover_start/hover_end
// so the classifier's hoveringPricing flag and hover-duration-keyed table
// rows see realistic samples.
func (s *Simulator) advanceHesitant(sess *simSession, tick int, at time.Time) telemetry.Event {
	sess.x += float64(rand.Intn(10) - 5)
	sess.y += float64(rand.Intn(6) - 3)

	if !sess.hovering {
		sess.hovering = true
		sess.hoverTicks = 0
		return s.base(sess, at, telemetry.EventHoverStart)
	}
	sess.hoverTicks++
	if sess.hoverTicks >= 6 {
		sess.hovering = false
		ev := s.base(sess, at, telemetry.EventHoverEnd)
		ev.HoverDurationMS = int64(sess.hoverTicks) * 500
		return ev
	}
	return s.base(sess, at, telemetry.EventMouseMove)
}

func (s *Simulator) advanceAbandon(sess *simSession, tick int, at time.Time) telemetry.Event {
	sess.scrollY -= float64(rand.Intn(50))
	ev := s.base(sess, at, telemetry.EventScroll)
	if tick > 60 {
		sess.done = true
	}
	return ev
}

func (s *Simulator) advanceMethodical(sess *simSession, tick int, at time.Time) telemetry.Event {
	pace := 0.7 + 0.3*math.Sin(float64(tick)/10.0)
	sess.scrollY += 40 * pace
	return s.base(sess, at, telemetry.EventScroll)
}
