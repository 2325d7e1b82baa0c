package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/tmaxmax/go-sse"
	"go.uber.org/zap"

	"github.com/linmx0130/nah/internal/auth"
	"github.com/linmx0130/nah/internal/errs"
)

// streamDone is the data of the event that ends a completion stream.
const streamDone = "[DONE]"

// maxChunkSize bounds a single streamed completion event.
const maxChunkSize = 8 << 20

var streamConfig = &sse.ReadConfig{MaxEventSize: maxChunkSize}

// DefaultParams are the sampling parameters sent with every completion
// unless overridden.
func DefaultParams() map[string]any {
	return map[string]any{
		"max_tokens":        4096,
		"temperature":       0.7,
		"top_p":             0.9,
		"frequency_penalty": 0.5,
	}
}

// Tool is a function definition offered to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec describes a callable function. Parameters is a JSON Schema.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict"`
}

// Request is one completion request.
type Request struct {
	Messages []Message
	Tools    []Tool
}

// Completer streams a completion, calling onDelta for every chunk in
// arrival order.
type Completer interface {
	Stream(ctx context.Context, req Request, onDelta func(Delta)) error
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the API root; requests go to BaseURL + "/chat/completions".
	BaseURL   string
	Model     string
	AuthToken string
	// Params override DefaultParams key by key.
	Params map[string]any
	Logger *zap.Logger
}

// Client is a Completer for OpenAI-compatible endpoints.
type Client struct {
	endpoint string
	model    string
	params   map[string]any
	http     *http.Client
	logger   *zap.Logger
}

// NewClient returns a streaming client for cfg.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	params := DefaultParams()
	maps.Copy(params, cfg.Params)
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:    cfg.Model,
		params:   params,
		http:     auth.NewHTTPClient(cfg.AuthToken, 0),
		logger:   logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

func (c *Client) body(req Request) ([]byte, error) {
	body := map[string]any{
		"model":    c.model,
		"messages": req.Messages,
		"stream":   true,
		"n":        1,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	maps.Copy(body, c.params)
	return json.Marshal(body)
}

// Stream posts req and feeds every delta of the event stream to onDelta
// until the "[DONE]" event. A non-success status is a ModelServerError; a
// stream that ends early is a CommunicationError.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(Delta)) error {
	payload, err := c.body(req)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "", err, "encode completion request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errs.Wrap(errs.InvalidValue, "", err, "build completion request for %s", c.endpoint)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("completion request", zap.String("endpoint", c.endpoint), zap.Int("messages", len(req.Messages)), zap.Int("tools", len(req.Tools)))
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return errs.Wrap(errs.CommunicationError, "", err, "POST %s", c.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return errs.New(errs.ModelServerError, "", "HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	chunks := 0
	for ev, err := range sse.Read(resp.Body, streamConfig) {
		if err != nil {
			return errs.Wrap(errs.CommunicationError, "", err, "read completion stream")
		}
		if ev.Data == streamDone {
			c.logger.Debug("completion finished", zap.Int("chunks", chunks))
			return nil
		}
		delta, ok := parseChunk(ev.Data)
		if !ok {
			c.logger.Debug("skipping completion chunk", zap.String("data", ev.Data))
			continue
		}
		chunks++
		onDelta(delta)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errs.New(errs.CommunicationError, "", "completion stream ended before %s", streamDone)
}

// parseChunk extracts choices[0].delta from a chunk.
func parseChunk(data string) (Delta, bool) {
	var chunk struct {
		Choices []struct {
			Delta *Delta `json:"delta"`
		} `json:"choices"`
	}
	if data == "" || json.Unmarshal([]byte(data), &chunk) != nil {
		return Delta{}, false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
		return Delta{}, false
	}
	return *chunk.Choices[0].Delta, true
}

var _ Completer = (*Client)(nil)
