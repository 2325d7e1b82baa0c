// Package chat drives an OpenAI-compatible chat completion endpoint and
// routes the model's tool calls to MCP servers.
package chat

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation history. The same encoding is
// sent to the model and written to the chat history file.
type Message struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoningContent,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its arguments as a JSON
// document in string form.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Delta is the incremental message carried by one streamed chunk. Absent
// fields are nil.
type Delta struct {
	Role             *string         `json:"role"`
	Content          *string         `json:"content"`
	ReasoningContent *string         `json:"reasoning_content"`
	Reasoning        *string         `json:"reasoning"`
	ToolCalls        []ToolCallDelta `json:"tool_calls"`
}

// ToolCallDelta is a fragment of the tool call at Index.
type ToolCallDelta struct {
	Index    int                `json:"index"`
	ID       *string            `json:"id"`
	Type     *string            `json:"type"`
	Function *FunctionCallDelta `json:"function"`
}

// FunctionCallDelta is a fragment of a function name and its arguments.
type FunctionCallDelta struct {
	Name      *string `json:"name"`
	Arguments *string `json:"arguments"`
}

// MaxToolCalls bounds the tool call index a streamed fragment may carry.
const MaxToolCalls = 256

// Apply folds d into m. Text fields are concatenated in arrival order; the
// role is overwritten. Tool call fragments are appended to the call at
// their index, growing the list with empty placeholders as needed.
// Fragments with an index outside [0, MaxToolCalls) are dropped.
func (m *Message) Apply(d Delta) {
	if d.Role != nil {
		m.Role = *d.Role
	}
	if d.Content != nil {
		m.Content += *d.Content
	}
	if d.ReasoningContent != nil {
		m.ReasoningContent += *d.ReasoningContent
	} else if d.Reasoning != nil {
		m.ReasoningContent += *d.Reasoning
	}
	for _, tc := range d.ToolCalls {
		if !validIndex(tc.Index) {
			continue
		}
		for len(m.ToolCalls) <= tc.Index {
			m.ToolCalls = append(m.ToolCalls, ToolCall{})
		}
		call := &m.ToolCalls[tc.Index]
		if tc.ID != nil {
			call.ID += *tc.ID
		}
		if tc.Type != nil {
			call.Type += *tc.Type
		}
		if tc.Function != nil {
			if tc.Function.Name != nil {
				call.Function.Name += *tc.Function.Name
			}
			if tc.Function.Arguments != nil {
				call.Function.Arguments += *tc.Function.Arguments
			}
		}
	}
}

func validIndex(i int) bool { return i >= 0 && i < MaxToolCalls }

// droppedIndices lists the tool call indices of d that Apply ignores.
func (d Delta) droppedIndices() []int {
	var out []int
	for _, tc := range d.ToolCalls {
		if !validIndex(tc.Index) {
			out = append(out, tc.Index)
		}
	}
	return out
}

// Finalize completes an assembled message: the role defaults to assistant,
// placeholder tool calls that never received a name are dropped and a
// missing call type defaults to "function".
func (m *Message) Finalize() {
	if m.Role == "" {
		m.Role = RoleAssistant
	}
	if len(m.ToolCalls) == 0 {
		return
	}
	calls := m.ToolCalls[:0]
	for _, c := range m.ToolCalls {
		if c.Function.Name == "" {
			continue
		}
		if c.Type == "" {
			c.Type = "function"
		}
		calls = append(calls, c)
	}
	if len(calls) == 0 {
		calls = nil
	}
	m.ToolCalls = calls
}
