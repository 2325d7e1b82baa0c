package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/linmx0130/nah/internal/auth"
	"github.com/linmx0130/nah/internal/chat"
	"github.com/linmx0130/nah/internal/config"
	"github.com/linmx0130/nah/internal/editor"
	"github.com/linmx0130/nah/internal/errs"
	"github.com/linmx0130/nah/internal/mcp"
	"github.com/linmx0130/nah/internal/toolfilter"
	"github.com/linmx0130/nah/internal/transcript"
)

const draftHeader = "# Draft your message here. Lines start with # will be ignored.\n"

func newModelClient(m *config.Model) chat.Completer {
	return chat.NewClient(chat.ClientConfig{
		BaseURL:   m.BaseURL,
		Model:     m.Model,
		AuthToken: auth.LookupModelToken(m.AuthToken, m.BaseURL),
		Params:    m.ExtraParams,
		Logger:    logger.Named("model"),
	})
}

func (sh *shell) cmdChat(ctx context.Context, _ []string) error {
	m := sh.cfg.Model
	if m == nil {
		sh.println("No model is supplied! Please set model config.")
		return nil
	}

	tw, err := transcript.Open(filepath.Join(sh.history, fmt.Sprintf("chat_%d.jsonl", time.Now().Unix())))
	if err != nil {
		return err
	}
	defer tw.Close()

	var servers []chat.ToolServer
	for _, s := range sh.sessions() {
		servers = append(servers, s)
	}
	session, err := chat.NewSession(ctx, chat.Config{
		Completer:    sh.newCompleter(m),
		Servers:      servers,
		Filter:       sh.filterTools,
		SystemPrompt: m.SystemPrompt,
		Transcript:   tw,
		Confirmer:    sh,
		Hooks:        sh.chatHooks(),
		Logger:       sh.logger.Named("chat"),
	})
	if err != nil {
		return err
	}

	sh.printf("Chat with model: %s\n", m.Model)
	for {
		sh.println("Press [ENTER] to draft user message, `exit` to end this chat.")
		line, err := sh.readLine("[chat]>> ")
		if err != nil {
			sh.println()
			return nil
		}
		var text string
		switch line {
		case "exit":
			return nil
		case "":
			draft, err := sh.edit(ctx, filepath.Join(sh.history, ".nah_user_message"), draftHeader)
			if err != nil {
				sh.printf("Error: %v\n", err)
				continue
			}
			text = strings.TrimSpace(editor.StripLines(draft, "#"))
		default:
			text = line
		}
		if text == "" {
			continue
		}

		sh.printf("[User]: %s\n", text)
		if _, err := session.Send(ctx, text); err != nil && !errs.Is(err, errs.UserCancelled) {
			sh.printf("Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// filterTools applies the server's exposeTools or hideTools list.
func (sh *shell) filterTools(server string, tools []mcp.Tool) ([]mcp.Tool, error) {
	sc, ok := sh.cfg.Find(server)
	if !ok {
		return tools, nil
	}
	return toolfilter.Filter(tools, sc.ExposeTools, sc.HideTools)
}

func (sh *shell) chatHooks() chat.Hooks {
	return chat.Hooks{
		OnChunk: func(n int) {
			sh.printf("\rModel is responding ... %d chunks received.", n)
		},
		OnCompletion: func(msg chat.Message) {
			sh.println()
			if msg.ReasoningContent != "" {
				sh.printf("[Assistant Reasoning]: %s\n", msg.ReasoningContent)
			}
			if msg.Content != "" {
				sh.printf("[Assistant]: %s\n", msg.Content)
			}
		},
		OnToolCall: func(call chat.ToolCall) {
			sh.printf("[Assistant - tool call request] %s(%s)\n", call.Function.Name, call.Function.Arguments)
		},
		OnToolResult: func(server, text string) {
			sh.printf("[Tool: %s]: %s\n", server, text)
		},
		OnRetry: func(err error, wait time.Duration) {
			sh.printf("\nError: %v\nRetry after %d seconds...\n", err, int(wait.Seconds()))
		},
	}
}
