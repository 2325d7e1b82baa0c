// Command testserver is a small MCP stdio server used by the e2e tests. It
// offers an echo tool, a destructive tool, one resource and one prompt.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	s := server.NewMCPServer("nah-testserver", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)

	s.AddTool(
		mcp.NewTool("foo",
			mcp.WithDescription("Echoes bar"),
			mcp.WithString("bar", mcp.Required(), mcp.Description("Text to echo")),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("bar=" + req.GetString("bar", "")), nil
		},
	)

	s.AddTool(
		mcp.NewTool("wipe",
			mcp.WithDescription("Pretends to delete everything"),
			mcp.WithDestructiveHintAnnotation(true),
		),
		func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("wiped"), nil
		},
	)

	s.AddResource(
		mcp.NewResource("test://greeting", "greeting",
			mcp.WithResourceDescription("A friendly greeting"),
			mcp.WithMIMEType("text/plain"),
		),
		func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: "hello"},
			}, nil
		},
	)

	s.AddPrompt(
		mcp.NewPrompt("greet",
			mcp.WithPromptDescription("Greets someone"),
			mcp.WithArgument("name", mcp.ArgumentDescription("Who to greet"), mcp.RequiredArgument()),
		),
		func(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			text := fmt.Sprintf("Say hello to %s.", req.Params.Arguments["name"])
			return mcp.NewGetPromptResult("Greeting",
				[]mcp.PromptMessage{mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text))},
			), nil
		},
	)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "testserver: %v\n", err)
		os.Exit(1)
	}
}
