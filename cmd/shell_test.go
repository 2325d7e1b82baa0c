package cmd

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linmx0130/nah/internal/auth"
	"github.com/linmx0130/nah/internal/chat"
	"github.com/linmx0130/nah/internal/config"
)

// newTestMCPServer serves a tool, a destructive tool, a resource and a
// prompt over streamable HTTP.
func newTestMCPServer(t *testing.T) string {
	t.Helper()
	s := mcpserver.NewMCPServer("shell-test", "1.0.0",
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithPromptCapabilities(false),
	)
	s.AddTool(
		mcpgo.NewTool("foo",
			mcpgo.WithDescription("Echo bar"),
			mcpgo.WithString("bar", mcpgo.Required(), mcpgo.Description("what to echo")),
			mcpgo.WithReadOnlyHintAnnotation(true),
			mcpgo.WithDestructiveHintAnnotation(false),
		),
		func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText("bar=" + req.GetString("bar", "")), nil
		},
	)
	s.AddTool(
		mcpgo.NewTool("wipe", mcpgo.WithDescription("Deletes everything"), mcpgo.WithDestructiveHintAnnotation(true)),
		func(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText("wiped"), nil
		},
	)
	s.AddResource(
		mcpgo.NewResource("test://greeting", "greeting", mcpgo.WithResourceDescription("A greeting"), mcpgo.WithMIMEType("text/plain")),
		func(_ context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
			return []mcpgo.ResourceContents{
				mcpgo.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: "hello"},
			}, nil
		},
	)
	s.AddPrompt(
		mcpgo.NewPrompt("greet",
			mcpgo.WithPromptDescription("Greets someone"),
			mcpgo.WithArgument("name", mcpgo.ArgumentDescription("Who to greet"), mcpgo.RequiredArgument()),
		),
		func(_ context.Context, req mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
			return mcpgo.NewGetPromptResult("Greeting", []mcpgo.PromptMessage{
				mcpgo.NewPromptMessage(mcpgo.RoleUser, mcpgo.NewTextContent("Say hello to "+req.Params.Arguments["name"])),
			}), nil
		},
	)
	ts := mcpserver.NewTestStreamableHTTPServer(s)
	t.Cleanup(ts.Close)
	return ts.URL + "/mcp"
}

type fakeEdit struct {
	paths    []string
	initials []string
	reply    string
}

func (f *fakeEdit) edit(_ context.Context, path, initial string) (string, error) {
	f.paths = append(f.paths, path)
	f.initials = append(f.initials, initial)
	return f.reply, nil
}

// runShell starts a shell against a test server, feeds it input and
// returns what it printed.
func runShell(t *testing.T, cfg *config.Config, input string, setup func(sh *shell)) string {
	t.Helper()
	t.Setenv(auth.EnvAuthToken, "")
	t.Setenv(auth.EnvCredentialsFile, filepath.Join(t.TempDir(), "none.json"))

	var out bytes.Buffer
	sh := newShell(cfg, t.TempDir(), bufio.NewReader(strings.NewReader(input)), &out, nil)
	if setup != nil {
		setup(sh)
	}
	ctx := context.Background()
	sh.startAll(ctx)
	defer sh.closeAll()
	require.NoError(t, sh.run(ctx))
	return out.String()
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Servers: []config.Server{{Name: "test", URL: newTestMCPServer(t), TimeoutMs: 5000}},
	}
}

func TestShellCommands(t *testing.T) {
	cfg := testConfig(t)
	edit := &fakeEdit{reply: "// filled\n{\"bar\": \"from-editor\"}\n"}
	input := strings.Join([]string{
		"list_tools",
		"use nope",
		"use test",
		"list_servers",
		"list_tools",
		"inspect_tool foo",
		`call_tool foo {"bar": "x y"}`,
		"call_tool foo",
		"list_resources",
		"inspect_resource test://greeting",
		"read_resource test://greeting",
		"list_prompts",
		"inspect_prompt greet",
		`get_prompt greet {"name": "nah"}`,
		"set_timeout 0",
		"set_timeout 250",
		"lst_tools",
		"inspect_tool",
		"exit",
		"list_tools",
	}, "\n") + "\n"

	out := runShell(t, cfg, input, func(sh *shell) { sh.edit = edit.edit })

	assert.Contains(t, out, "Initializing remote server: test")
	assert.Contains(t, out, "No server is selected. Run `use` command to select a server.")
	assert.Contains(t, out, "Server nope not found. Available servers are:\n* test\n")
	assert.Contains(t, out, "[test] >> ")
	assert.Contains(t, out, " * foo\n")
	assert.Contains(t, out, " * wipe\n")
	assert.Contains(t, out, "= Description =\nEcho bar\n======")
	assert.Contains(t, out, "  bar (string) [REQUIRED]: what to echo")
	assert.Contains(t, out, "bar=x y")
	assert.Contains(t, out, "bar=from-editor")
	assert.Contains(t, out, "Direct resources\n * test://greeting\nResource templates\n")
	assert.Contains(t, out, "MIME Type: text/plain")
	assert.Contains(t, out, `"text": "hello"`)
	assert.Contains(t, out, "* greet\n")
	assert.Contains(t, out, "  name: [REQUIRED] Who to greet")
	assert.Contains(t, out, "Say hello to nah")
	assert.Contains(t, out, "Timeout value must be a positive integer!")
	assert.Contains(t, out, "Timeout for MCP server test has been set to 250ms")
	assert.Contains(t, out, "Invalid command: lst_tools. Did you mean 'list_tools'?")
	assert.Contains(t, out, "Usage: inspect_tool <tool>")
	assert.Contains(t, out, "Terminate MCP servers..")

	require.Len(t, edit.paths, 1)
	assert.Equal(t, ".nah_req.foo.args.json", filepath.Base(edit.paths[0]))
	assert.Contains(t, edit.initials[0], "// Please fill arguments")
	assert.Contains(t, edit.initials[0], `"bar"`)
}

func TestShellDestructiveTool(t *testing.T) {
	cfg := testConfig(t)
	out := runShell(t, cfg, "use test\ncall_tool wipe\nn\ncall_tool wipe\ny\n", nil)

	assert.Contains(t, out, "Tool wipe is annotated as destructive. Do you still want to call? [N/y] > ")
	assert.Contains(t, out, "Tool wipe has not been called.")
	assert.Contains(t, out, "No argument is requested. Directly call the function...")
	assert.Equal(t, 1, strings.Count(out, "wiped"))
}

func TestShellInvalidArguments(t *testing.T) {
	cfg := testConfig(t)
	out := runShell(t, cfg, "use test\ncall_tool foo {\"bar\": 3}\ncall_tool foo not-json\n", nil)

	assert.Equal(t, 2, strings.Count(out, "Error: "))
	assert.NotContains(t, out, "bar=")
}

func TestShellServerLaunchFailure(t *testing.T) {
	cfg := &config.Config{Servers: []config.Server{{Name: "broken", Command: filepath.Join(t.TempDir(), "missing"), TimeoutMs: 1000}}}
	out := runShell(t, cfg, "list_servers\n", nil)

	assert.Contains(t, out, "Launching server: broken")
	assert.Contains(t, out, "Fatal error while launching broken, give up this server.")
	assert.NotContains(t, out, "* broken")
}

type scriptedCompleter struct {
	turns [][]chat.Delta
	reqs  []chat.Request
}

func (c *scriptedCompleter) Stream(_ context.Context, req chat.Request, onDelta func(chat.Delta)) error {
	c.reqs = append(c.reqs, req)
	for _, d := range c.turns[len(c.reqs)-1] {
		onDelta(d)
	}
	return nil
}

func str(s string) *string { return &s }

func TestShellChat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Servers[0].ExposeTools = []string{"foo"}
	cfg.Model = &config.Model{BaseURL: "http://model.invalid/v1", Model: "test-model", SystemPrompt: "be brief"}

	completer := &scriptedCompleter{turns: [][]chat.Delta{
		{{
			Role:             str(chat.RoleAssistant),
			ReasoningContent: str("need foo"),
			ToolCalls: []chat.ToolCallDelta{{
				ID:       str("call_1"),
				Function: &chat.FunctionCallDelta{Name: str("test.foo"), Arguments: str(`{"bar":"chat"}`)},
			}},
		}},
		{{Content: str("all done")}},
		{{Content: str("drafted reply")}},
	}}
	edit := &fakeEdit{reply: "# Draft your message here.\nfrom the editor\n"}

	out := runShell(t, cfg, "chat\nhello\n\nexit\nexit\n", func(sh *shell) {
		sh.edit = edit.edit
		sh.newCompleter = func(*config.Model) chat.Completer { return completer }
	})

	assert.Contains(t, out, "Chat with model: test-model")
	assert.Contains(t, out, "[User]: hello")
	assert.Contains(t, out, "[Assistant Reasoning]: need foo")
	assert.Contains(t, out, `[Assistant - tool call request] test.foo({"bar":"chat"})`)
	assert.Contains(t, out, "[Tool: test]: bar=chat")
	assert.Contains(t, out, "[Assistant]: all done")
	assert.Contains(t, out, "[User]: from the editor")
	assert.Contains(t, out, "[Assistant]: drafted reply")

	require.Len(t, completer.reqs, 3)
	require.Len(t, completer.reqs[0].Tools, 1)
	assert.Equal(t, "test.foo", completer.reqs[0].Tools[0].Function.Name)
	assert.Equal(t, chat.RoleSystem, completer.reqs[0].Messages[0].Role)
	require.Len(t, edit.paths, 1)
	assert.Equal(t, ".nah_user_message", filepath.Base(edit.paths[0]))
}

func TestShellChatWithoutModel(t *testing.T) {
	cfg := testConfig(t)
	out := runShell(t, cfg, "chat\n", nil)
	assert.Contains(t, out, "No model is supplied! Please set model config.")
}

func TestPromptArguments(t *testing.T) {
	got, err := promptArguments("// comment\n{\"name\": \"nah\", \"count\": 3, \"tags\": [\"a\"]}")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "nah", "count": "3", "tags": `["a"]`}, got)

	got, err = promptArguments("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = promptArguments("[1]")
	assert.Error(t, err)
}
