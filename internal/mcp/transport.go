package mcp

import (
	"context"
	"time"
)

// DefaultTimeout bounds one receive when no timeout is configured.
const DefaultTimeout = 5000 * time.Millisecond

// Transport carries serialized JSON-RPC messages to and from one MCP server.
// Implementations are not safe for concurrent use; the Engine issues one
// request at a time.
type Transport interface {
	// Send delivers one serialized message.
	Send(ctx context.Context, msg []byte) error
	// Receive returns the next inbound message, bounded by the transport's
	// timeout.
	Receive(ctx context.Context) ([]byte, error)
	// SetTimeout changes the timeout applied to subsequent exchanges.
	SetTimeout(d time.Duration)
	// Close releases the server connection. It is idempotent.
	Close() error
}
