package chat

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func str(s string) *string { return &s }

func TestApplyConcatenatesInOrder(t *testing.T) {
	var m Message
	for _, d := range []Delta{
		{Role: str("assistant")},
		{Content: str("Hel")},
		{Content: str("lo, ")},
		{ReasoningContent: str("think")},
		{Reasoning: str("ing")},
		{Content: str("world")},
	} {
		m.Apply(d)
	}
	m.Finalize()

	want := Message{Role: "assistant", Content: "Hello, world", ReasoningContent: "thinking"}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyAssemblesToolCallFragments(t *testing.T) {
	chunks := []string{
		`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"serverA.","arguments":""}}]}`,
		`{"tool_calls":[{"index":0,"function":{"name":"foo","arguments":"{\"bar\""}}]}`,
		`{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"serverB.baz","arguments":"{}"}}]}`,
		`{"tool_calls":[{"index":0,"function":{"arguments":":\"x\"}"}}]}`,
	}
	var m Message
	for _, c := range chunks {
		var d Delta
		if err := json.Unmarshal([]byte(c), &d); err != nil {
			t.Fatalf("unmarshal %s: %v", c, err)
		}
		m.Apply(d)
	}
	m.Finalize()

	want := []ToolCall{
		{ID: "call_1", Type: "function", Function: FunctionCall{Name: "serverA.foo", Arguments: `{"bar":"x"}`}},
		{ID: "call_2", Type: "function", Function: FunctionCall{Name: "serverB.baz", Arguments: `{}`}},
	}
	if diff := cmp.Diff(want, m.ToolCalls); diff != "" {
		t.Errorf("tool calls mismatch (-want +got):\n%s", diff)
	}
	if m.Role != RoleAssistant {
		t.Errorf("role = %q, want assistant default", m.Role)
	}
}

func TestApplyGrowsPlaceholdersForGaps(t *testing.T) {
	var m Message
	m.Apply(Delta{ToolCalls: []ToolCallDelta{{Index: 2, ID: str("c"), Function: &FunctionCallDelta{Name: str("s.t")}}}})
	if len(m.ToolCalls) != 3 {
		t.Fatalf("len(ToolCalls) = %d, want 3", len(m.ToolCalls))
	}
	m.Apply(Delta{ToolCalls: []ToolCallDelta{{Index: -1, ID: str("ignored")}}})

	m.Finalize()
	if len(m.ToolCalls) != 1 || m.ToolCalls[0].ID != "c" {
		t.Errorf("after Finalize: %+v", m.ToolCalls)
	}
}

func TestApplyDropsHugeIndex(t *testing.T) {
	var m Message
	d := Delta{ToolCalls: []ToolCallDelta{
		{Index: 1_000_000_000, ID: str("x"), Function: &FunctionCallDelta{Name: str("s.t")}},
		{Index: MaxToolCalls, ID: str("y"), Function: &FunctionCallDelta{Name: str("s.u")}},
		{Index: 0, ID: str("a"), Function: &FunctionCallDelta{Name: str("s.v")}},
	}}
	if got := d.droppedIndices(); len(got) != 2 {
		t.Errorf("droppedIndices() = %v, want two entries", got)
	}
	m.Apply(d)
	if len(m.ToolCalls) != 1 || m.ToolCalls[0].ID != "a" {
		t.Errorf("ToolCalls = %+v, want only the in-range call", m.ToolCalls)
	}
}

func TestFinalizeWithoutToolCalls(t *testing.T) {
	m := Message{Content: "hi", ToolCalls: []ToolCall{{}}}
	m.Finalize()
	if m.ToolCalls != nil {
		t.Errorf("ToolCalls = %+v, want nil", m.ToolCalls)
	}
}

func TestMessageEncoding(t *testing.T) {
	m := Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "1", Type: "function", Function: FunctionCall{Name: "a.b", Arguments: "{}"}}},
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"role":"assistant","content":"","tool_calls":[{"id":"1","type":"function","function":{"name":"a.b","arguments":"{}"}}]}`
	if string(data) != want {
		t.Errorf("Marshal() = %s\nwant        %s", data, want)
	}

	tool := Message{Role: RoleTool, ToolCallID: "1", Content: "ok", ReasoningContent: "r"}
	data, _ = json.Marshal(tool)
	if string(data) != `{"role":"tool","content":"ok","reasoningContent":"r","tool_call_id":"1"}` {
		t.Errorf("Marshal(tool) = %s", data)
	}
}
