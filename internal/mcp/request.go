package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NewRequest builds a JSON-RPC 2.0 request.
func NewRequest(id, method string, params any) *Request {
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// NewNotification builds a JSON-RPC 2.0 notification. A nil params is
// omitted from the wire form.
func NewNotification(method string, params any) (*Notification, error) {
	n := &Notification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal params: %w", method, err)
		}
		n.Params = raw
	}
	return n, nil
}

// NewInitializeParams returns initialize parameters announcing the client
// with an empty capability set.
func NewInitializeParams(clientName, clientVersion string) InitializeParams {
	return InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Implementation{Name: clientName, Version: clientVersion},
	}
}

// idString returns the string form of a raw JSON-RPC id. ok is false for a
// missing or null id.
func idString(raw json.RawMessage) (id string, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, true
	}
	// Non-string ids are compared by their JSON text.
	return string(raw), true
}
