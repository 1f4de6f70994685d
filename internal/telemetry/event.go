// Package telemetry defines the wire and in-process shape of a single
// behavioral event ingested from an instrumented web page.
package telemetry

import "time"

// EventType is a closed set of behavioral signals the collector may emit.
// Unknown values are rejected at the ingest boundary rather than accepted
// and silently ignored downstream.
type EventType string

const (
	EventMouseMove        EventType = "mouse_move"
	EventClick            EventType = "click"
	EventHoverStart       EventType = "hover_start"
	EventHoverEnd         EventType = "hover_end"
	EventScroll           EventType = "scroll"
	EventTextSelection    EventType = "text_selection"
	EventTabSwitch        EventType = "tab_switch"
	EventMouseExit        EventType = "mouse_exit"
	EventMouseReturn      EventType = "mouse_return"
	EventFieldFocus       EventType = "field_focus"
	EventFieldBlur        EventType = "field_blur"
	EventViewportBoundary EventType = "viewport_boundary"
	EventRageClick        EventType = "rage_click"
	EventFormSubmit       EventType = "form_submit"
	EventMute             EventType = "mute"
	EventSessionEnd       EventType = "session_end"
)

// Valid reports whether t is one of the recognized event types.
func (t EventType) Valid() bool {
	switch t {
	case EventMouseMove, EventClick, EventHoverStart, EventHoverEnd, EventScroll,
		EventTextSelection, EventTabSwitch, EventMouseExit, EventMouseReturn,
		EventFieldFocus, EventFieldBlur, EventViewportBoundary, EventRageClick,
		EventFormSubmit, EventMute, EventSessionEnd:
		return true
	default:
		return false
	}
}

// Motion carries raw pointer/scroll coordinates for a single sample. Nil
// when the event type carries no positional data (e.g. field_focus/blur).
type Motion struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	ScrollY float64 `json:"scroll_y"`
}

// Interactions carries coarse interaction counters accompanying an event.
// The classifier's rules do not read it; they use the physics state's
// InteractionCount instead.
type Interactions struct {
	Clicks  int `json:"clicks"`
	Hovers  int `json:"hovers"`
	Scrolls int `json:"scrolls"`
}

// Event is a single behavioral sample as received on POST /telemetry.
type Event struct {
	SessionID string            `json:"session_id"`
	TenantID  string            `json:"tenant_id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Section   string            `json:"section"`
	Target    string            `json:"target"`
	Context   map[string]string `json:"context,omitempty"`
	Motion    *Motion           `json:"motion,omitempty"`

	// HoverDurationMS is the client-measured duration of a hover that just
	// ended, carried on EventHoverEnd.
	HoverDurationMS int64 `json:"hover_duration_ms,omitempty"`

	Interactions *Interactions `json:"interactions,omitempty"`
}

// Batch is the JSON body accepted by POST /telemetry: one or more events
// for one or more sessions, sharing a tenant.
type Batch struct {
	TenantID string  `json:"tenant_id"`
	Events   []Event `json:"events"`
}
