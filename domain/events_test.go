package domain

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEvent_JSONShape(t *testing.T) {
	event := Event{Kind: EventKindSTTOutput, Payload: "hello", Timestamp: time.UnixMilli(1700000000123)}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	expected := `{"type":"stt_output","payload":"hello","ts":1700000000123}`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, data)
	}

	data, _ = json.Marshal(NewAgentEndEvent())
	if strings.Contains(string(data), "payload") {
		t.Errorf("Expected agent_end without payload, got %s", data)
	}
}

func TestEvent_UnmarshalJSON(t *testing.T) {
	var event Event
	if err := json.Unmarshal([]byte(`{"type":"agent_chunk","payload":"hi","ts":42}`), &event); err != nil {
		t.Fatal(err)
	}
	if event.Kind != EventKindAgentChunk || event.Payload != "hi" || event.Timestamp.UnixMilli() != 42 {
		t.Errorf("Unexpected event %+v", event)
	}
}

func TestEvent_Audio(t *testing.T) {
	event := NewTTSChunkEvent(base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}))
	audio, err := event.Audio()
	if err != nil {
		t.Fatal(err)
	}
	if len(audio) != 2 || audio[0] != 0x01 || audio[1] != 0x02 {
		t.Errorf("Unexpected audio %v", audio)
	}

	if _, err := NewTTSChunkEvent("%%%").Audio(); err == nil {
		t.Error("Expected an error for invalid base64")
	}
}

func TestEventConstructors(t *testing.T) {
	cases := map[EventKind]Event{
		EventKindTTSChunk:   NewTTSChunkEvent("a"),
		EventKindSTTChunk:   NewSTTChunkEvent("b"),
		EventKindSTTOutput:  NewSTTOutputEvent("c"),
		EventKindAgentChunk: NewAgentChunkEvent("d"),
		EventKindAgentEnd:   NewAgentEndEvent(),
		EventKindToolCall:   NewToolCallEvent(ToolCall{Name: "confirm_order"}),
		EventKindToolResult: NewToolResultEvent(ToolResult{Name: "confirm_order"}),
	}
	for kind, event := range cases {
		if event.Kind != kind {
			t.Errorf("Expected kind %s, got %s", kind, event.Kind)
		}
		if event.Timestamp.IsZero() {
			t.Errorf("Expected %s to be timestamped", kind)
		}
	}
}

func TestEvent_ToolEventsJSON(t *testing.T) {
	call := NewToolCallEvent(ToolCall{ID: "call-1", Name: "add_to_order", Args: map[string]any{"item": "turkey", "quantity": 2}})
	call.Timestamp = time.UnixMilli(5)
	data, err := json.Marshal(call)
	if err != nil {
		t.Fatal(err)
	}
	expected := `{"type":"tool_call","ts":5,"id":"call-1","name":"add_to_order","args":{"item":"turkey","quantity":2}}`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, data)
	}

	result := NewToolResultEvent(ToolResult{ToolCallID: "call-1", Name: "add_to_order", Result: "Added 2 x turkey to the order."})
	result.Timestamp = time.UnixMilli(6)
	data, err = json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	expected = `{"type":"tool_result","ts":6,"name":"add_to_order","tool_call_id":"call-1","result":"Added 2 x turkey to the order."}`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, data)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ToolResult == nil || decoded.ToolResult.ToolCallID != "call-1" || decoded.ToolCall != nil {
		t.Errorf("Unexpected decoded event %+v", decoded)
	}
}
