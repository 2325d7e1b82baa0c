package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"
	"go.uber.org/zap"

	"github.com/linmx0130/nah/internal/auth"
	"github.com/linmx0130/nah/internal/errs"
	"github.com/linmx0130/nah/internal/transcript"
)

const (
	headerSessionID       = "Mcp-Session-Id"
	headerProtocolVersion = "MCP-Protocol-Version"
)

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	Name string
	URL  string
	// Headers are sent with every request.
	Headers map[string]string
	// AuthToken, if set, is sent as a bearer token.
	AuthToken  string
	Timeout    time.Duration
	Transcript transcript.Sink
	Logger     *zap.Logger
}

// HTTPTransport talks to an MCP server over Streamable HTTP. Every message
// is one POST; the reply body is either a JSON document or an event stream
// whose first event carries the reply.
type HTTPTransport struct {
	name       string
	url        string
	headers    map[string]string
	transcript transcript.Sink
	logger     *zap.Logger

	mu        sync.Mutex
	client    *http.Client
	sessionID string

	// inbox holds replies received by Send until Receive collects them.
	inbox [][]byte
}

// NewHTTPTransport creates a transport for cfg.URL.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sink := cfg.Transcript
	if sink == nil {
		sink = transcript.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransport{
		name:       cfg.Name,
		url:        cfg.URL,
		headers:    cfg.Headers,
		transcript: sink,
		logger:     logger,
		client:     auth.NewHTTPClient(cfg.AuthToken, timeout),
	}
}

// SessionID returns the session id issued by the server, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Send posts msg and queues the decoded reply for Receive. Replies to
// notifications carry no body and queue nothing.
func (t *HTTPTransport) Send(ctx context.Context, msg []byte) error {
	reply, err := t.SendAndReceive(ctx, msg)
	if err != nil {
		return err
	}
	if reply != nil {
		t.inbox = append(t.inbox, reply)
	}
	return nil
}

// Receive returns the oldest queued reply.
func (t *HTTPTransport) Receive(_ context.Context) ([]byte, error) {
	if len(t.inbox) == 0 {
		return nil, errs.New(errs.CommunicationError, t.name, "no pending reply")
	}
	reply := t.inbox[0]
	t.inbox = t.inbox[1:]
	return reply, nil
}

// SendAndReceive performs one POST exchange and returns the reply payload,
// or nil when the server accepted the message without a body.
func (t *HTTPTransport) SendAndReceive(ctx context.Context, msg []byte) ([]byte, error) {
	t.appendTranscript(msg)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(msg))
	if err != nil {
		return nil, errs.Wrap(errs.CommunicationError, t.name, err, "create request")
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json,text/event-stream")
	req.Header.Set(headerProtocolVersion, ProtocolVersion)
	req.Close = true

	t.mu.Lock()
	client := t.client
	if t.sessionID != "" {
		req.Header.Set(headerSessionID, t.sessionID)
	}
	t.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.CommunicationError, t.name, err, "POST %s", t.url)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(headerSessionID); sid != "" {
		t.mu.Lock()
		if t.sessionID == "" {
			t.sessionID = sid
			t.logger.Debug("session established", zap.String("session_id", sid))
		}
		t.mu.Unlock()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.CommunicationError, t.name, err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.New(errs.CommunicationError, t.name, "http status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode == http.StatusAccepted || len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	reply, err := decodeReply(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, t.wrapDecodeError(err)
	}
	t.appendTranscript(reply)
	return reply, nil
}

// SetTimeout replaces the HTTP client timeout for subsequent exchanges.
func (t *HTTPTransport) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.client = &http.Client{Transport: t.client.Transport, Timeout: d}
}

// Close terminates the server session with a DELETE if one was
// established.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	sid := t.sessionID
	t.sessionID = ""
	client := t.client
	t.mu.Unlock()
	if sid == "" {
		return nil
	}

	req, err := http.NewRequest(http.MethodDelete, t.url, nil)
	if err != nil {
		return errs.Wrap(errs.CommunicationError, t.name, err, "create session delete request")
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(headerSessionID, sid)
	req.Header.Set(headerProtocolVersion, ProtocolVersion)

	resp, err := client.Do(req)
	if err != nil {
		return errs.Wrap(errs.CommunicationError, t.name, err, "terminate session")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.New(errs.CommunicationError, t.name, "terminate session: http status %d", resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) appendTranscript(line []byte) {
	if err := t.transcript.Append(line); err != nil {
		t.logger.Warn("append transcript", zap.Error(err))
	}
}

type contentTypeError struct{ contentType string }

func (e *contentTypeError) Error() string {
	return fmt.Sprintf("unexpected content type %q", e.contentType)
}

func (t *HTTPTransport) wrapDecodeError(err error) error {
	if _, ok := err.(*contentTypeError); ok {
		return errs.Wrap(errs.CommunicationError, t.name, err, "decode reply")
	}
	return errs.Wrap(errs.InvalidResponse, t.name, err, "decode reply")
}

// decodeReply extracts the JSON-RPC payload from a reply body according to
// its content type.
func decodeReply(contentType string, body []byte) ([]byte, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, &contentTypeError{contentType: contentType}
	}
	switch mediaType {
	case "application/json":
		if !json.Valid(body) {
			return nil, fmt.Errorf("body is not valid JSON")
		}
		return body, nil
	case "text/event-stream":
		return firstEventData(body)
	default:
		return nil, &contentTypeError{contentType: contentType}
	}
}

// firstEventData returns the data of the first event in an event stream
// that carries any. Later events are ignored. No event can be longer than
// the body, so the body length bounds the parser buffer.
func firstEventData(body []byte) ([]byte, error) {
	cfg := &sse.ReadConfig{MaxEventSize: len(body) + 1}
	for ev, err := range sse.Read(bytes.NewReader(body), cfg) {
		if err != nil {
			return nil, fmt.Errorf("read event stream: %w", err)
		}
		if ev.Data == "" {
			continue
		}
		data := []byte(ev.Data)
		if !json.Valid(data) {
			return nil, fmt.Errorf("event data is not valid JSON")
		}
		return data, nil
	}
	return nil, fmt.Errorf("event stream carried no data")
}
