package ws

import (
	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/pattern"
	"github.com/sentientiq/pulse-engine/internal/session"
)

// MessageType is the closed set of frames sent over /ws/emotions and
// /ws/session/{id}.
type MessageType string

const (
	MsgSnapshot     MessageType = "snapshot"
	MsgEmotionState MessageType = "emotional_state"
	MsgIntervention MessageType = "intervention"
	MsgHealth       MessageType = "health"
	MsgError        MessageType = "error"
	MsgPong         MessageType = "pong"
)

// WSMessage is the envelope for every outgoing frame, sequenced so
// subscribers can detect gaps left by a prior slow-client disconnect.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload any         `json:"payload,omitempty"`
}

// SnapshotPayload is sent once when a dashboard client connects and on the
// periodic full-refresh cadence.
type SnapshotPayload struct {
	Sessions []session.Snapshot `json:"sessions"`
}

// EmotionStatePayload is broadcast on every recorded emotion sample that
// passes a client's subscribe-frame filter.
type EmotionStatePayload struct {
	SessionID  string        `json:"session_id"`
	TenantID   string        `json:"tenant_id"`
	Label      emotion.Label `json:"label"`
	Confidence float64       `json:"confidence"` // [0,100], mirrors emotion.Sample.Confidence
	Section    string        `json:"section"`
}

// InterventionPayload is broadcast to the dashboard, and pushed directly to
// the originating session's /ws/session/{id} socket.
type InterventionPayload struct {
	SessionID        string             `json:"session_id"`
	Pattern          pattern.Name       `json:"pattern"`
	InterventionType string             `json:"intervention_type"`
	Priority         pattern.Priority   `json:"priority"`
	State            intervention.State `json:"state"`
}

// SubscribeFrame is the first client-sent frame on /ws/emotions, narrowing
// which subsequent broadcasts the client receives.
type SubscribeFrame struct {
	TenantID      string   `json:"tenant_id,omitempty"`
	EmotionFilter []string `json:"emotion_filter,omitempty"`
	MinConfidence float64  `json:"min_confidence,omitempty"` // [0,100]
	PriorityOnly  bool     `json:"priority_only,omitempty"`
}

// Matches reports whether payload clears this subscribe frame's filters.
func (f SubscribeFrame) Matches(p EmotionStatePayload) bool {
	if f.TenantID != "" && f.TenantID != p.TenantID {
		return false
	}
	if p.Confidence < f.MinConfidence {
		return false
	}
	if len(f.EmotionFilter) > 0 {
		found := false
		for _, e := range f.EmotionFilter {
			if e == string(p.Label) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
