package domain

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// EventKind identifies what an Event carries
type EventKind string

// Supported event kinds
const (
	EventKindSTTChunk   EventKind = "stt_chunk"   // interim transcript fragment
	EventKindSTTOutput  EventKind = "stt_output"  // final transcript fragment
	EventKindAgentChunk EventKind = "agent_chunk" // streamed agent reply text
	EventKindAgentEnd   EventKind = "agent_end"   // agent finished its turn
	EventKindToolCall   EventKind = "tool_call"   // agent invoked a tool
	EventKindToolResult EventKind = "tool_result" // a tool returned
	EventKindTTSChunk   EventKind = "tts_chunk"   // synthesized audio, vendor encoded
)

// Event is the uniform shape every adapter pushes downstream.
// For tts_chunk events Payload holds the audio exactly as the vendor sent it
// (base64 text); for the other kinds it holds plain text.
type Event struct {
	Kind      EventKind
	Payload   string
	Timestamp time.Time

	// Set only on tool_call and tool_result events
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolCall is one function call requested by the agent
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is the output of a ToolCall
type ToolResult struct {
	ToolCallID string
	Name       string
	Result     string
}

func newEvent(kind EventKind, payload string) Event {
	return Event{Kind: kind, Payload: payload, Timestamp: time.Now()}
}

// NewTTSChunkEvent creates an audio chunk event
func NewTTSChunkEvent(audio string) Event { return newEvent(EventKindTTSChunk, audio) }

// NewSTTChunkEvent creates an interim transcript event
func NewSTTChunkEvent(text string) Event { return newEvent(EventKindSTTChunk, text) }

// NewSTTOutputEvent creates a final transcript event
func NewSTTOutputEvent(text string) Event { return newEvent(EventKindSTTOutput, text) }

// NewAgentChunkEvent creates an agent text chunk event
func NewAgentChunkEvent(text string) Event { return newEvent(EventKindAgentChunk, text) }

// NewAgentEndEvent marks the end of an agent turn
func NewAgentEndEvent() Event { return newEvent(EventKindAgentEnd, "") }

// NewToolCallEvent reports a tool invocation
func NewToolCallEvent(call ToolCall) Event {
	event := newEvent(EventKindToolCall, "")
	event.ToolCall = &call
	return event
}

// NewToolResultEvent reports what a tool returned
func NewToolResultEvent(result ToolResult) Event {
	event := newEvent(EventKindToolResult, "")
	event.ToolResult = &result
	return event
}

// Audio decodes the payload of a tts_chunk event
func (e Event) Audio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Payload)
}

type eventJSON struct {
	Type    EventKind `json:"type"`
	Payload string    `json:"payload,omitempty"`
	TS      int64     `json:"ts"`

	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Result     *string        `json:"result,omitempty"`
}

// MarshalJSON renders the event for the client-facing voice socket
func (e Event) MarshalJSON() ([]byte, error) {
	raw := eventJSON{
		Type:    e.Kind,
		Payload: e.Payload,
		TS:      e.Timestamp.UnixMilli(),
	}
	if call := e.ToolCall; call != nil {
		raw.ID = call.ID
		raw.Name = call.Name
		raw.Args = call.Args
	}
	if result := e.ToolResult; result != nil {
		raw.ToolCallID = result.ToolCallID
		raw.Name = result.Name
		raw.Result = &result.Result
	}
	return json.Marshal(raw)
}

// UnmarshalJSON is the inverse of MarshalJSON
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Kind = raw.Type
	e.Payload = raw.Payload
	e.Timestamp = time.UnixMilli(raw.TS)
	e.ToolCall, e.ToolResult = nil, nil
	switch raw.Type {
	case EventKindToolCall:
		e.ToolCall = &ToolCall{ID: raw.ID, Name: raw.Name, Args: raw.Args}
	case EventKindToolResult:
		e.ToolResult = &ToolResult{ToolCallID: raw.ToolCallID, Name: raw.Name}
		if raw.Result != nil {
			e.ToolResult.Result = *raw.Result
		}
	}
	return nil
}
