package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linmx0130/nah/internal/errs"
	"github.com/linmx0130/nah/internal/schema"
)

// Client name and version announced during initialize.
const (
	ClientName    = "nah"
	ClientVersion = "0.1"
)

// Session is one connection to an MCP server: a transport, the engine
// correlating requests over it and the definition caches it fills.
// A Session serves one caller at a time.
type Session struct {
	name      string
	transport Transport
	engine    *Engine
	logger    *zap.Logger
	info      *InitializeResult

	tools     *Cache[Tool]
	resources *Cache[Resource]
	prompts   *Cache[Prompt]
}

// NewSession wraps transport. Call Initialize before any other method.
func NewSession(name string, transport Transport, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		name:      name,
		transport: transport,
		engine:    NewEngine(name, transport, logger),
		logger:    logger,
		tools:     NewCache(func(t Tool) string { return t.Name }),
		resources: NewCache(func(r Resource) string { return r.URI }),
		prompts:   NewCache(func(p Prompt) string { return p.Name }),
	}
}

// Name returns the configured server name.
func (s *Session) Name() string { return s.name }

// Engine exposes the protocol engine, mainly to install a notification
// handler.
func (s *Session) Engine() *Engine { return s.engine }

// ServerInfo returns the initialize result, or nil before Initialize.
func (s *Session) ServerInfo() *InitializeResult { return s.info }

// Initialize runs the protocol handshake.
func (s *Session) Initialize(ctx context.Context) (*InitializeResult, error) {
	info, err := s.engine.Initialize(ctx, ClientName, ClientVersion)
	if err != nil {
		return nil, err
	}
	s.info = info
	s.logger.Info("server initialized",
		zap.String("server_name", info.ServerInfo.Name),
		zap.String("server_version", info.ServerInfo.Version),
		zap.String("protocol_version", info.ProtocolVersion))
	return info, nil
}

// FetchTools lists the server's tools and replaces the tool cache. Any
// malformed definition fails the whole call and leaves the cache as it was.
func (s *Session) FetchTools(ctx context.Context) ([]Tool, error) {
	raw, err := s.engine.Call(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errs.Wrap(errs.InvalidResponse, s.name, err, "tools/list: decode result")
	}
	tools := make([]Tool, 0, len(list.Tools))
	for i, entry := range list.Tools {
		tool, err := decodeTool(entry)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidResponse, s.name, err, "tools/list: entry %d", i)
		}
		tools = append(tools, tool)
	}
	s.tools.Replace(tools)
	return s.tools.Values(), nil
}

func decodeTool(raw json.RawMessage) (Tool, error) {
	var tool Tool
	if err := json.Unmarshal(raw, &tool); err != nil {
		return Tool{}, err
	}
	if tool.Name == "" {
		return Tool{}, fmt.Errorf("tool has no name")
	}
	if len(tool.InputSchema) == 0 {
		return Tool{}, fmt.Errorf("tool %q has no input schema", tool.Name)
	}
	if _, err := schema.Parse(tool.InputSchema); err != nil {
		return Tool{}, fmt.Errorf("tool %q: %w", tool.Name, err)
	}
	return tool, nil
}

// FetchResources lists direct resources and replaces the resource cache.
// Entries that fail to decode or lack a URI are dropped.
func (s *Session) FetchResources(ctx context.Context) ([]Resource, error) {
	raw, err := s.engine.Call(ctx, MethodResourcesList, nil)
	if err != nil {
		return nil, err
	}
	var list resourcesListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errs.Wrap(errs.InvalidResponse, s.name, err, "resources/list: decode result")
	}
	resources := make([]Resource, 0, len(list.Resources))
	for _, entry := range list.Resources {
		var r Resource
		if err := json.Unmarshal(entry, &r); err != nil || r.URI == "" {
			s.logger.Debug("dropping malformed resource", zap.ByteString("entry", entry))
			continue
		}
		resources = append(resources, r)
	}
	s.resources.Replace(resources)
	return s.resources.Values(), nil
}

// FetchResourceTemplates lists resource templates. Malformed entries are
// dropped.
func (s *Session) FetchResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	raw, err := s.engine.Call(ctx, MethodResourceTemplatesList, nil)
	if err != nil {
		return nil, err
	}
	var list resourceTemplatesListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errs.Wrap(errs.InvalidResponse, s.name, err, "resources/templates/list: decode result")
	}
	templates := make([]ResourceTemplate, 0, len(list.ResourceTemplates))
	for _, entry := range list.ResourceTemplates {
		var rt ResourceTemplate
		if err := json.Unmarshal(entry, &rt); err != nil || rt.URITemplate == "" {
			s.logger.Debug("dropping malformed resource template", zap.ByteString("entry", entry))
			continue
		}
		templates = append(templates, rt)
	}
	return templates, nil
}

// FetchPrompts lists prompts and replaces the prompt cache. Malformed
// entries are dropped.
func (s *Session) FetchPrompts(ctx context.Context) ([]Prompt, error) {
	raw, err := s.engine.Call(ctx, MethodPromptsList, nil)
	if err != nil {
		return nil, err
	}
	var list promptsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errs.Wrap(errs.InvalidResponse, s.name, err, "prompts/list: decode result")
	}
	prompts := make([]Prompt, 0, len(list.Prompts))
	for _, entry := range list.Prompts {
		var p Prompt
		if err := json.Unmarshal(entry, &p); err != nil || p.Name == "" {
			s.logger.Debug("dropping malformed prompt", zap.ByteString("entry", entry))
			continue
		}
		prompts = append(prompts, p)
	}
	s.prompts.Replace(prompts)
	return s.prompts.Values(), nil
}

// GetToolDefinition returns the named tool, refreshing the cache once on a
// miss.
func (s *Session) GetToolDefinition(ctx context.Context, name string) (*Tool, error) {
	return lookup(ctx, s, s.tools, name, s.FetchTools, "tool")
}

// GetResourceDefinition returns the resource with the given URI,
// refreshing the cache once on a miss.
func (s *Session) GetResourceDefinition(ctx context.Context, uri string) (*Resource, error) {
	return lookup(ctx, s, s.resources, uri, s.FetchResources, "resource")
}

// GetPromptDefinition returns the named prompt, refreshing the cache once
// on a miss.
func (s *Session) GetPromptDefinition(ctx context.Context, name string) (*Prompt, error) {
	return lookup(ctx, s, s.prompts, name, s.FetchPrompts, "prompt")
}

func lookup[V any](ctx context.Context, s *Session, c *Cache[V], key string, fetch func(context.Context) ([]V, error), what string) (*V, error) {
	if v, ok := c.Get(key); ok {
		return &v, nil
	}
	if _, err := fetch(ctx); err != nil {
		return nil, err
	}
	if v, ok := c.Get(key); ok {
		return &v, nil
	}
	return nil, errs.New(errs.InvalidValue, s.name, "%s %q not found", what, key)
}

// CallTool invokes a tool and returns the raw result. args must be a JSON
// object or empty.
func (s *Session) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return s.engine.Call(ctx, MethodToolsCall, callToolParams{Name: name, Arguments: args})
}

// ReadResource reads a resource and returns the entries carrying text or
// binary content.
func (s *Session) ReadResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	raw, err := s.engine.Call(ctx, MethodResourcesRead, readResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var result readResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errs.Wrap(errs.InvalidResponse, s.name, err, "resources/read: decode result")
	}
	contents := make([]ResourceContents, 0, len(result.Contents))
	for _, entry := range result.Contents {
		var c ResourceContents
		if err := json.Unmarshal(entry, &c); err != nil {
			continue
		}
		if c.Text == "" && c.Blob == "" {
			continue
		}
		contents = append(contents, c)
	}
	return contents, nil
}

// GetPromptContent renders a prompt with the given arguments.
func (s *Session) GetPromptContent(ctx context.Context, name string, args map[string]string) (*GetPromptResult, error) {
	raw, err := s.engine.Call(ctx, MethodPromptsGet, getPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errs.Wrap(errs.InvalidResponse, s.name, err, "prompts/get: decode result")
	}
	return &result, nil
}

// SetTimeout changes the transport timeout.
func (s *Session) SetTimeout(d time.Duration) { s.transport.SetTimeout(d) }

// Close shuts the transport down.
func (s *Session) Close() error { return s.transport.Close() }
