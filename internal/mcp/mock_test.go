package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linmx0130/nah/internal/errs"
)

// sentMessage is the decoded form of a message handed to mockTransport.
type sentMessage struct {
	ID     *string         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// mockTransport records sent messages and serves scripted inbound lines.
// When reply is set, it is called for every sent request and its lines are
// queued for Receive.
type mockTransport struct {
	sent    []sentMessage
	inbox   []string
	reply   func(msg sentMessage) []string
	sendErr error
	timeout time.Duration
	closed  bool
}

func (m *mockTransport) Send(_ context.Context, data []byte) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	var msg sentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("mock: bad message %s: %w", data, err)
	}
	m.sent = append(m.sent, msg)
	if m.reply != nil && msg.ID != nil {
		m.inbox = append(m.inbox, m.reply(msg)...)
	}
	return nil
}

func (m *mockTransport) Receive(_ context.Context) ([]byte, error) {
	if len(m.inbox) == 0 {
		return nil, errs.New(errs.TimeoutError, "mock", "no message")
	}
	line := m.inbox[0]
	m.inbox = m.inbox[1:]
	return []byte(line), nil
}

func (m *mockTransport) SetTimeout(d time.Duration) { m.timeout = d }

func (m *mockTransport) Close() error {
	m.closed = true
	return nil
}

// methods returns the method names of all sent messages.
func (m *mockTransport) methods() []string {
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.Method)
	}
	return out
}

// resultFor builds a response line answering msg with result.
func resultFor(msg sentMessage, result string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":%s}`, *msg.ID, result)
}

// sequentialIDs returns an id generator yielding "1", "2", ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprint(n)
	}
}
