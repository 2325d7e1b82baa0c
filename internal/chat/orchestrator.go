package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/linmx0130/nah/internal/errs"
	"github.com/linmx0130/nah/internal/mcp"
	"github.com/linmx0130/nah/internal/transcript"
)

// ToolSeparator joins a server name and a tool name into the function name
// the model sees, e.g. "files.read".
const ToolSeparator = "."

// DefaultRetryDelay is the pause before a failed completion is retried.
const DefaultRetryDelay = 30 * time.Second

const cancelMessage = "Cancel the tool call!"

// ToolServer is the part of an MCP session the orchestrator needs.
type ToolServer interface {
	Name() string
	FetchTools(ctx context.Context) ([]mcp.Tool, error)
	GetToolDefinition(ctx context.Context, name string) (*mcp.Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// Confirmer asks the user to approve a destructive tool call. When it
// declines it may show cancelMessage.
type Confirmer interface {
	Confirm(prompt, cancelMessage string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt, cancelMessage string) bool

// Confirm calls f.
func (f ConfirmFunc) Confirm(prompt, cancelMessage string) bool { return f(prompt, cancelMessage) }

// Hooks observe a turn as it runs. Nil hooks are skipped.
type Hooks struct {
	// OnChunk reports the number of chunks received for the current
	// completion.
	OnChunk func(received int)
	// OnCompletion receives every assembled assistant message.
	OnCompletion func(msg Message)
	OnToolCall   func(call ToolCall)
	OnToolResult func(server, text string)
	// OnRetry is called before waiting to retry a failed completion.
	OnRetry func(err error, wait time.Duration)
}

// Config configures a Session.
type Config struct {
	Completer Completer
	Servers   []ToolServer
	// Filter, if set, narrows the tools each server exposes to the model.
	Filter       func(server string, tools []mcp.Tool) ([]mcp.Tool, error)
	SystemPrompt string
	// Transcript receives every history entry before it is added.
	Transcript transcript.Sink
	// Confirmer approves destructive calls. Without one they are refused.
	Confirmer  Confirmer
	Hooks      Hooks
	RetryDelay time.Duration
	Logger     *zap.Logger
}

type route struct {
	server ToolServer
	tool   string
}

// Session is one chat conversation. It is not safe for concurrent use.
type Session struct {
	completer  Completer
	transcript transcript.Sink
	confirmer  Confirmer
	hooks      Hooks
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger

	tools   []Tool
	routes  map[string]route
	history []Message
}

// NewSession pulls the tool lists of every server and builds the function
// table offered to the model.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := cfg.Transcript
	if sink == nil {
		sink = transcript.Discard
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	s := &Session{
		completer:  cfg.Completer,
		transcript: sink,
		confirmer:  cfg.Confirmer,
		hooks:      cfg.Hooks,
		retryDelay: delay,
		sleep:      sleepContext,
		logger:     logger,
		routes:     make(map[string]route),
	}

	for _, srv := range cfg.Servers {
		tools, err := srv.FetchTools(ctx)
		if err != nil {
			return nil, err
		}
		if cfg.Filter != nil {
			if tools, err = cfg.Filter(srv.Name(), tools); err != nil {
				return nil, errs.Wrap(errs.InvalidValue, srv.Name(), err, "filter tools")
			}
		}
		for _, t := range tools {
			name := srv.Name() + ToolSeparator + t.Name
			if _, dup := s.routes[name]; dup {
				logger.Warn("duplicate tool name, keeping the first", zap.String("tool", name))
				continue
			}
			s.routes[name] = route{server: srv, tool: t.Name}
			s.tools = append(s.tools, Tool{
				Type: "function",
				Function: FunctionSpec{
					Name:        name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			})
		}
	}
	logger.Debug("chat tools ready", zap.Int("tools", len(s.tools)))

	if cfg.SystemPrompt != "" {
		if err := s.push(Message{Role: RoleSystem, Content: cfg.SystemPrompt}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tools returns the function table offered to the model.
func (s *Session) Tools() []Tool { return s.tools }

// History returns the conversation so far.
func (s *Session) History() []Message { return s.history }

// Send adds a user message and runs the turn: completions alternate with
// tool dispatch until the model answers without tool calls. It returns
// that final message.
//
// A failed completion is retried after the retry delay, except for
// ModelServerError which ends the turn. Any tool dispatch failure ends the
// turn; calls of the failed batch that did not run get a tool message
// saying so, which keeps the history acceptable to the model.
func (s *Session) Send(ctx context.Context, text string) (*Message, error) {
	if err := s.push(Message{Role: RoleUser, Content: text}); err != nil {
		return nil, err
	}
	for {
		msg, err := s.complete(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.push(msg); err != nil {
			return nil, err
		}
		if len(msg.ToolCalls) == 0 {
			return &msg, nil
		}
		if err := s.dispatch(ctx, msg.ToolCalls); err != nil {
			return nil, err
		}
	}
}

func (s *Session) complete(ctx context.Context) (Message, error) {
	for {
		msg, err := s.stream(ctx)
		if err == nil {
			return msg, nil
		}
		if errs.Is(err, errs.ModelServerError) || ctx.Err() != nil {
			return Message{}, err
		}
		s.logger.Warn("completion failed, retrying", zap.Error(err), zap.Duration("wait", s.retryDelay))
		if s.hooks.OnRetry != nil {
			s.hooks.OnRetry(err, s.retryDelay)
		}
		if err := s.sleep(ctx, s.retryDelay); err != nil {
			return Message{}, err
		}
	}
}

func (s *Session) stream(ctx context.Context) (Message, error) {
	var msg Message
	received := 0
	err := s.completer.Stream(ctx, Request{Messages: s.history, Tools: s.tools}, func(d Delta) {
		if dropped := d.droppedIndices(); len(dropped) > 0 {
			s.logger.Warn("dropping tool call fragments with out-of-range index", zap.Ints("index", dropped))
		}
		msg.Apply(d)
		received++
		if s.hooks.OnChunk != nil {
			s.hooks.OnChunk(received)
		}
	})
	if err != nil {
		return Message{}, err
	}
	msg.Finalize()
	if s.hooks.OnCompletion != nil {
		s.hooks.OnCompletion(msg)
	}
	return msg, nil
}

func (s *Session) dispatch(ctx context.Context, calls []ToolCall) error {
	for i, call := range calls {
		text, err := s.invoke(ctx, call)
		if err != nil {
			for _, skipped := range calls[i:] {
				_ = s.push(Message{
					Role:       RoleTool,
					ToolCallID: skipped.ID,
					Content:    "Tool call was not executed: " + err.Error(),
				})
			}
			return err
		}
		if err := s.push(Message{Role: RoleTool, ToolCallID: call.ID, Content: text}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) invoke(ctx context.Context, call ToolCall) (string, error) {
	if s.hooks.OnToolCall != nil {
		s.hooks.OnToolCall(call)
	}
	r, ok := s.routes[call.Function.Name]
	if !ok {
		return "", errs.New(errs.InvalidValue, "", "model requested unknown tool %q", call.Function.Name)
	}
	server := r.server.Name()

	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, server, err, "arguments of %s", call.Function.Name)
	}
	def, err := r.server.GetToolDefinition(ctx, r.tool)
	if err != nil {
		return "", err
	}
	if def.Destructive() {
		prompt := fmt.Sprintf("Model requests to call tool %s, which is annotated as destructive. Do you still want to call? [N/y] > ", call.Function.Name)
		if s.confirmer == nil || !s.confirmer.Confirm(prompt, cancelMessage) {
			return "", errs.New(errs.UserCancelled, server, "call of %s declined", call.Function.Name)
		}
	}

	s.logger.Debug("calling tool", zap.String("server", server), zap.String("tool", r.tool))
	result, err := r.server.CallTool(ctx, r.tool, args)
	if err != nil {
		return "", err
	}
	text, err := mcp.UnpackText(result)
	if err != nil {
		return "", errs.Wrap(errs.InvalidResponse, server, err, "result of %s", r.tool)
	}
	if s.hooks.OnToolResult != nil {
		s.hooks.OnToolResult(server, text)
	}
	return text, nil
}

// parseArguments decodes a model-supplied argument string. Empty input
// means no arguments.
func parseArguments(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("not a JSON object: null")
	}
	return json.RawMessage(raw), nil
}

// push writes msg to the transcript, then appends it to the history.
func (s *Session) push(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errs.Wrap(errs.InvalidValue, "", err, "encode %s message", msg.Role)
	}
	if err := s.transcript.Append(data); err != nil {
		s.logger.Warn("chat history write failed", zap.Error(err))
	}
	s.history = append(s.history, msg)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
