// Package shard implements the sharded worker pool: every
// session is pinned to exactly one shard by hash(session_id), and each
// shard runs a single goroutine draining a FIFO queue, so a session is
// never mutated by two goroutines at once without any cross-session
// locking. The CPU-only pipeline (physics → classify → pattern → decide)
// runs inline inside the worker and never suspends; only the named I/O
// boundaries (identity lookup, bus publish, broadcast) carry a context
// deadline and may block briefly.
package shard

import (
	"context"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/identity"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/obs"
	"github.com/sentientiq/pulse-engine/internal/outcome"
	"github.com/sentientiq/pulse-engine/internal/pattern"
	"github.com/sentientiq/pulse-engine/internal/session"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

// ioDeadline bounds every I/O boundary a shard worker crosses mid-pipeline
// (identity resolution).
const ioDeadline = 250 * time.Millisecond

// EmotionSink receives every classified sample, regardless of whether it
// produced a dispatched intervention (the dashboard feed).
type EmotionSink interface {
	EmitEmotion(sample emotion.Sample, tenantID string)
}

// InterventionSink receives dispatched/dropped intervention records for
// broadcast.
type InterventionSink interface {
	EmitIntervention(rec intervention.Record)
}

// Pool owns SHARDS worker goroutines, each with its own bounded FIFO
// queue. hash(session_id) selects the shard so a session's events are
// always processed in order by the same goroutine.
type Pool struct {
	shards []chan telemetry.Event
	store  *session.Store

	identityResolver *identity.Resolver
	classifier       *emotion.Classifier
	detector         *pattern.Detector
	interventions    *intervention.Engine
	emotionSink      EmotionSink
	interventionSink InterventionSink
	outcomeEvents    chan<- outcome.Event

	metrics *obs.Metrics
	health  *obs.HealthTracker
	log     *zap.Logger

	cancel context.CancelFunc
}

// Config bundles the components a Pool wires together per session event.
type Config struct {
	Shards        int
	QueueSize     int
	Store         *session.Store
	Identity      *identity.Resolver
	Classifier    *emotion.Classifier
	Detector      *pattern.Detector
	Interventions *intervention.Engine
	EmotionSink   EmotionSink
	InterventionSink InterventionSink
	OutcomeEvents chan<- outcome.Event
	Metrics       *obs.Metrics
	Health        *obs.HealthTracker
	Log           *zap.Logger
}

// New builds a Pool per cfg but does not start its workers; call Run.
func New(cfg Config) *Pool {
	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	p := &Pool{
		store:            cfg.Store,
		identityResolver: cfg.Identity,
		classifier:       cfg.Classifier,
		detector:         cfg.Detector,
		interventions:    cfg.Interventions,
		emotionSink:      cfg.EmotionSink,
		interventionSink: cfg.InterventionSink,
		outcomeEvents:    cfg.OutcomeEvents,
		metrics:          cfg.Metrics,
		health:           cfg.Health,
		log:              cfg.Log,
		shards:           make([]chan telemetry.Event, cfg.Shards),
	}
	for i := range p.shards {
		p.shards[i] = make(chan telemetry.Event, cfg.QueueSize)
	}
	return p
}

// Run starts one worker goroutine per shard; it returns immediately, and
// workers stop when ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := range p.shards {
		go p.runWorker(ctx, i)
	}
}

// Stop cancels every shard worker.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Submit routes ev to its shard's queue. Newest events are more valuable
// for real-time decisions than ones already waiting, so a full queue evicts
// its oldest pending event to make room for ev rather than rejecting ev
// itself. Returns false only if another producer races the eviction and
// refills the queue before ev can be enqueued.
func (p *Pool) Submit(ev telemetry.Event) bool {
	idx := p.shardFor(ev.SessionID)
	queue := p.shards[idx]

	select {
	case queue <- ev:
		return true
	default:
	}

	select {
	case <-queue:
		p.countDrop()
	default:
	}

	select {
	case queue <- ev:
		return true
	default:
		p.countDrop()
		return false
	}
}

func (p *Pool) countDrop() {
	if p.metrics != nil {
		p.metrics.EventsDropped.WithLabelValues("shard_queue_full").Inc()
	}
}

func (p *Pool) shardFor(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32()) % len(p.shards)
}

// runWorker drains shard idx's queue in FIFO order. A panic while
// processing one event is recovered and logged; the worker keeps draining
// rather than taking the whole shard down with it.
func (p *Pool) runWorker(ctx context.Context, idx int) {
	queue := p.shards[idx]
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-queue:
			p.processSafely(ctx, ev)
		}
	}
}

func (p *Pool) processSafely(ctx context.Context, ev telemetry.Event) {
	defer func() {
		if r := recover(); r != nil {
			if p.log != nil {
				p.log.Error("shard worker recovered from panic", zap.Any("panic", r), zap.String("session_id", ev.SessionID))
			}
			if p.health != nil {
				p.health.Fail("shard", nil)
			}
		}
	}()
	p.process(ctx, ev)
}

// process runs the full pipeline for one event: physics accumulation,
// identity resolution (I/O boundary), emotion classification, pattern
// detection, intervention gating, and outcome event emission. Everything
// except identity resolution and the sink dispatches is pure CPU work.
func (p *Pool) process(ctx context.Context, ev telemetry.Event) {
	at := ev.Timestamp
	st, _ := p.store.GetOrCreate(ev.SessionID, ev.TenantID, at)
	st.AppendEvent(ev)
	st.Physics.Accumulate(ev)

	ioCtx, cancel := context.WithTimeout(ctx, ioDeadline)
	id := p.identityResolver.Resolve(ioCtx, ev.SessionID)
	cancel()

	lastLabel, lastAt := emotion.Label(""), time.Time{}
	if last, ok := st.LastEmotion(); ok {
		lastLabel, lastAt = last.Label, last.At
	}

	sample := p.classifier.Classify(emotion.Input{
		Event:        ev,
		Physics:      *st.Physics,
		SessionAgeMS: st.AgeMS(at),
		LastLabel:    lastLabel,
		LastLabelAt:  lastAt,
	})
	st.RecordEmotion(sample)
	if p.emotionSink != nil {
		p.emotionSink.EmitEmotion(sample, ev.TenantID)
	}

	matches := p.detector.Detect(st.EmotionWindow(pattern.WindowSize))
	if rec, ok := p.interventions.Evaluate(ctx, ev.SessionID, ev.TenantID, at, id, matches); ok {
		st.RecordIntervention(rec)
		if p.interventionSink != nil {
			p.interventionSink.EmitIntervention(rec)
		}
		if p.metrics != nil {
			p.metrics.InterventionsDispatched.WithLabelValues(rec.InterventionType).Inc()
		}
	}

	if final, terminal := terminalOutcome(ev); terminal {
		st.Lifecycle = session.LifecycleTerminated
		if p.outcomeEvents != nil {
			snap := st.Snapshot()
			select {
			case p.outcomeEvents <- outcome.Event{Outcome: outcome.FromSnapshot(ev.TenantID, snap, final, at)}:
			default:
			}
		}
		p.store.Remove(ev.SessionID)
	}

	if p.metrics != nil {
		p.metrics.EventsIngested.WithLabelValues(ev.TenantID).Inc()
	}
	if p.health != nil {
		p.health.Heartbeat("shard")
	}
}

// terminalOutcome reports whether ev ends the session's live pipeline and,
// if so, which terminal outcome it represents: a successful form_submit is
// a conversion, any other explicit session_end is an abandonment. Idle
// expiry is handled separately by the store's sweep, not here.
func terminalOutcome(ev telemetry.Event) (outcome.FinalOutcome, bool) {
	switch {
	case isConversionEvent(ev):
		return outcome.FinalOutcomeConversion, true
	case isExplicitEnd(ev):
		return outcome.FinalOutcomeAbandonment, true
	default:
		return "", false
	}
}

func isConversionEvent(ev telemetry.Event) bool {
	return ev.Type == telemetry.EventFormSubmit && ev.Context != nil && ev.Context["result"] == "success"
}

func isExplicitEnd(ev telemetry.Event) bool {
	return ev.Type == telemetry.EventSessionEnd
}
