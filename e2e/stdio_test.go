package e2e

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linmx0130/nah/internal/chat"
	"github.com/linmx0130/nah/internal/errs"
	"github.com/linmx0130/nah/internal/mcp"
	"github.com/linmx0130/nah/internal/transcript"
)

// buildTestServer compiles ./testserver and returns the binary path.
func buildTestServer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}
	bin := filepath.Join(t.TempDir(), "nah-testserver")
	build := exec.Command("go", "build", "-o", bin, "./testserver")
	build.Dir = filepath.Join(projectRoot(t), "e2e")
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build test server: %v\n%s", err, out)
	}
	return bin
}

func startSession(t *testing.T, bin string, sink transcript.Sink) *mcp.Session {
	t.Helper()
	tr := mcp.NewStdioTransport(mcp.StdioConfig{
		Name:       "test",
		Command:    bin,
		Transcript: sink,
		Timeout:    10 * time.Second,
	})
	require.NoError(t, tr.Start())
	s := mcp.NewSession("test", tr, nil)
	t.Cleanup(func() { _ = s.Close() })
	_, err := s.Initialize(context.Background())
	require.NoError(t, err)
	return s
}

func TestStdioSession(t *testing.T) {
	bin := buildTestServer(t)
	ctx := context.Background()
	logPath := filepath.Join(t.TempDir(), "test.jsonl")
	tw, err := transcript.Open(logPath)
	require.NoError(t, err)
	defer tw.Close()

	s := startSession(t, bin, tw)

	tools, err := s.FetchTools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"foo", "wipe"}, names)

	wipe, err := s.GetToolDefinition(ctx, "wipe")
	require.NoError(t, err)
	assert.True(t, wipe.Destructive())

	result, err := s.CallTool(ctx, "foo", json.RawMessage(`{"bar":"baz"}`))
	require.NoError(t, err)
	text, err := mcp.UnpackText(result)
	require.NoError(t, err)
	assert.Equal(t, "bar=baz", text)

	_, err = s.GetToolDefinition(ctx, "missing")
	assert.True(t, errs.Is(err, errs.InvalidValue), "got %v", err)

	contents, err := s.ReadResource(ctx, "test://greeting")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "hello", contents[0].Text)

	prompt, err := s.GetPromptDefinition(ctx, "greet")
	require.NoError(t, err)
	require.Len(t, prompt.Arguments, 1)
	assert.True(t, prompt.Arguments[0].IsRequired())

	got, err := s.GetPromptContent(ctx, "greet", map[string]string{"name": "nah"})
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, string(got.Messages[0].Content), "Say hello to nah.")

	require.NoError(t, s.Close())
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"method":"initialize"`)
	assert.Contains(t, string(data), `"method":"tools/call"`)
}

// scripted replays fixed deltas, one slice per completion.
type scripted struct {
	turns [][]chat.Delta
	calls int
}

func (s *scripted) Stream(_ context.Context, _ chat.Request, onDelta func(chat.Delta)) error {
	for _, d := range s.turns[s.calls] {
		onDelta(d)
	}
	s.calls++
	return nil
}

func ptr(s string) *string { return &s }

func TestChatCallsStdioTool(t *testing.T) {
	bin := buildTestServer(t)
	ctx := context.Background()
	s := startSession(t, bin, nil)

	completer := &scripted{turns: [][]chat.Delta{
		{{
			Role: ptr(chat.RoleAssistant),
			ToolCalls: []chat.ToolCallDelta{{
				Index: 0,
				ID:    ptr("call_1"),
				Function: &chat.FunctionCallDelta{
					Name:      ptr("test.foo"),
					Arguments: ptr(`{"bar":"qux"}`),
				},
			}},
		}},
		{{Content: ptr("done")}},
	}}

	session, err := chat.NewSession(ctx, chat.Config{
		Completer: completer,
		Servers:   []chat.ToolServer{s},
	})
	require.NoError(t, err)
	assert.Len(t, session.Tools(), 2)

	final, err := session.Send(ctx, "call foo")
	require.NoError(t, err)
	assert.Equal(t, "done", final.Content)

	history := session.History()
	require.Len(t, history, 4)
	assert.Equal(t, chat.RoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	assert.Equal(t, "bar=qux", history[2].Content)
}

func projectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}
