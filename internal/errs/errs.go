// Package errs defines the error kinds shared by the MCP client, the chat
// orchestrator and the CLI.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind int

const (
	Unknown Kind = iota
	IOError
	CommunicationError
	TimeoutError
	InvalidResponse
	ServerError
	ProcessLaunchError
	InvalidValue
	InvalidArgument
	ModelServerError
	UserCancelled
)

var kindNames = map[Kind]string{
	Unknown:            "Unknown",
	IOError:            "IOError",
	CommunicationError: "CommunicationError",
	TimeoutError:       "TimeoutError",
	InvalidResponse:    "InvalidResponse",
	ServerError:        "ServerError",
	ProcessLaunchError: "ProcessLaunchError",
	InvalidValue:       "InvalidValue",
	InvalidArgument:    "InvalidArgument",
	ModelServerError:   "ModelServerError",
	UserCancelled:      "UserCancelled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified error. Server is empty for errors that are not
// tied to one MCP server.
type Error struct {
	Kind    Kind
	Server  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Server != "" {
		b.WriteString(" [server ")
		b.WriteString(e.Server)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, server, format string, args ...any) *Error {
	return &Error{Kind: kind, Server: server, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind with err as its cause.
func Wrap(kind Kind, server string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Server: server, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
