// Package wiring adapts the pipeline's narrow output interfaces
// (shard.EmotionSink, shard.InterventionSink, intervention.Dispatcher) onto
// the internal bus and WebSocket fan-out, so neither internal/shard nor
// internal/intervention ever imports internal/bus or internal/ws directly.
package wiring

import (
	"context"
	"errors"

	"github.com/sentientiq/pulse-engine/internal/bus"
	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/ws"
)

// ErrSessionSocketAbsent is returned by Dispatch when no live
// /ws/session/{id} socket is subscribed for the record's session — the
// intervention engine records the attempt as dropped rather than delivered.
var ErrSessionSocketAbsent = errors.New("wiring: no live session socket for dispatch target")

// BroadcastSink fans classified emotion samples and dispatched interventions
// out over WebSocket and publishes the same payloads onto the internal bus
// for any other subscriber.
type BroadcastSink struct {
	broadcaster *ws.Broadcaster
	publisher   *bus.Publisher
}

// NewBroadcastSink builds a sink writing to both b and (if non-nil) p. A nil
// publisher is valid: the bus is optional infrastructure, and a sink built
// without one simply skips the internal-bus fan-out.
func NewBroadcastSink(b *ws.Broadcaster, p *bus.Publisher) *BroadcastSink {
	return &BroadcastSink{broadcaster: b, publisher: p}
}

// EmitEmotion implements shard.EmotionSink.
func (s *BroadcastSink) EmitEmotion(sample emotion.Sample, tenantID string) {
	payload := ws.EmotionStatePayload{
		SessionID:  sample.SessionID,
		TenantID:   tenantID,
		Label:      sample.Label,
		Confidence: sample.Confidence,
		Section:    sample.Section,
	}
	s.broadcaster.BroadcastEmotion(payload)
	if s.publisher != nil {
		s.publisher.Publish(context.Background(), bus.SubjectEmotionsState, payload)
	}
}

// EmitIntervention implements shard.InterventionSink: it broadcasts the
// gated outcome (delivered or dropped) to the dashboard and, when one is
// connected, to the originating session socket, regardless of what
// Dispatch did. This push is the only write of the record to the session
// socket.
func (s *BroadcastSink) EmitIntervention(rec intervention.Record) {
	payload := ws.InterventionPayload{
		SessionID:        rec.SessionID,
		Pattern:          rec.Pattern,
		InterventionType: rec.InterventionType,
		Priority:         rec.Priority,
		State:            rec.State,
	}
	s.broadcaster.BroadcastIntervention(payload)
}

// Dispatch implements intervention.Dispatcher: it decides whether the
// record counts as delivered. Delivery requires a live session socket — an
// intervention command with nowhere to land is not actionable, regardless
// of whether the bus publish (which fails open, see internal/bus) succeeds.
// Dispatch only checks for the socket and publishes to the bus; the socket
// write itself happens in EmitIntervention. A non-nil error here tells the
// intervention engine to record the attempt as dropped.
func (s *BroadcastSink) Dispatch(ctx context.Context, rec intervention.Record) error {
	if !s.broadcaster.HasSessionClient(rec.SessionID) {
		return ErrSessionSocketAbsent
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, bus.SubjectInterventionsCommand, rec)
	}
	return nil
}
