package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linmx0130/nah/internal/errs"
)

// NotificationHandler receives server notifications seen while waiting
// for a response.
type NotificationHandler func(Notification)

// Engine correlates requests and responses over a Transport. Only one
// request may be outstanding at a time: Call reads messages until it sees
// the response carrying its own id.
type Engine struct {
	server    string
	transport Transport
	logger    *zap.Logger
	newID     func() string
	onNotify  NotificationHandler
}

// NewEngine creates an engine for the named server. Notifications are
// logged.
func NewEngine(server string, transport Transport, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		server:    server,
		transport: transport,
		logger:    logger,
		newID:     uuid.NewString,
	}
	e.onNotify = e.logNotification
	return e
}

// OnNotification replaces the notification handler.
func (e *Engine) OnNotification(h NotificationHandler) {
	if h == nil {
		h = e.logNotification
	}
	e.onNotify = h
}

func (e *Engine) logNotification(n Notification) {
	e.logger.Info("server notification",
		zap.String("method", n.Method),
		zap.ByteString("params", n.Params))
}

// Call sends a request and waits for its response. A structured error in
// the response, or a response with neither result nor error, is returned
// as a ServerError.
func (e *Engine) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := NewRequest(e.newID(), method, params)
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, e.server, err, "%s: marshal request", method)
	}
	if err := e.transport.Send(ctx, data); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	for {
		line, err := e.transport.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		resp, ok := e.route(line, req.ID)
		if !ok {
			continue
		}
		if resp.Error != nil {
			return nil, errs.New(errs.ServerError, e.server, "%s: code %d: %s", method, resp.Error.Code, resp.Error.Message)
		}
		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			return nil, errs.New(errs.ServerError, e.server, "%s: response has neither result nor error", method)
		}
		return resp.Result, nil
	}
}

// route inspects one inbound message. It returns the response if the
// message answers the request with the given id; notifications are
// dispatched and everything else is dropped.
func (e *Engine) route(line []byte, id string) (*Response, bool) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		e.logger.Debug("discarding unparseable message", zap.ByteString("message", line))
		return nil, false
	}

	got, hasID := idString(probe.ID)
	if !hasID {
		if probe.Method == "" {
			e.logger.Debug("discarding message without id or method", zap.ByteString("message", line))
			return nil, false
		}
		var n Notification
		if err := json.Unmarshal(line, &n); err != nil {
			e.logger.Debug("discarding malformed notification", zap.ByteString("message", line))
			return nil, false
		}
		e.onNotify(n)
		return nil, false
	}

	if got != id || probe.Method != "" {
		e.logger.Debug("ignoring message with unexpected id", zap.String("id", got), zap.String("want", id))
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		e.logger.Debug("discarding malformed response", zap.ByteString("message", line))
		return nil, false
	}
	return &resp, true
}

// Notify sends a notification. No reply is awaited.
func (e *Engine) Notify(ctx context.Context, method string, params any) error {
	n, err := NewNotification(method, params)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, e.server, err, "build notification")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, e.server, err, "%s: marshal notification", method)
	}
	if err := e.transport.Send(ctx, data); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Initialize performs the initialize handshake: it sends initialize, requires
// server info in the reply, then sends notifications/initialized. A failure
// to deliver the final notification is logged and otherwise ignored.
func (e *Engine) Initialize(ctx context.Context, clientName, clientVersion string) (*InitializeResult, error) {
	raw, err := e.Call(ctx, MethodInitialize, NewInitializeParams(clientName, clientVersion))
	if err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errs.Wrap(errs.InvalidResponse, e.server, err, "initialize: decode result")
	}
	if result.ServerInfo == nil {
		return nil, errs.New(errs.InvalidResponse, e.server, "initialize: result has no serverInfo")
	}
	if err := e.Notify(ctx, MethodInitialized, nil); err != nil {
		e.logger.Warn("send initialized notification", zap.Error(err))
	}
	return &result, nil
}
