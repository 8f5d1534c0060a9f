package domain

import "encoding/json"

// StreamEventType enumerates the per-turn protocol events. For every turn the
// order is: one sources event, zero or more chunk events, then exactly one of
// done or error.
type StreamEventType string

const (
	EventSources StreamEventType = "sources"
	EventChunk   StreamEventType = "chunk"
	EventDone    StreamEventType = "done"
	EventError   StreamEventType = "error"
)

// StreamEvent is a transient protocol message consumed exactly once by the
// transport layer. Fields are populated per event type.
type StreamEvent struct {
	Type      StreamEventType
	Sources   []RetrievedPassage
	SessionID string
	Content   string
	Message   string
}

func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// MarshalJSON emits the wire shape per event type. A sources event always
// carries a sources array, empty on ungrounded turns.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []RetrievedPassage{}
		}
		return json.Marshal(struct {
			Type      StreamEventType    `json:"type"`
			Sources   []RetrievedPassage `json:"sources"`
			SessionID string             `json:"session_id"`
		}{e.Type, sources, e.SessionID})
	case EventChunk:
		return json.Marshal(struct {
			Type    StreamEventType `json:"type"`
			Content string          `json:"content"`
		}{e.Type, e.Content})
	case EventError:
		return json.Marshal(struct {
			Type    StreamEventType `json:"type"`
			Message string          `json:"message"`
		}{e.Type, e.Message})
	default:
		return json.Marshal(struct {
			Type StreamEventType `json:"type"`
		}{e.Type})
	}
}
