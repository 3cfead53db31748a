package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/designctl/internal/link"
)

var (
	ErrResponseTimeout     = errors.New("engine: no reply within receive timeout")
	ErrInvalidArgument     = errors.New("engine: invalid argument")
	ErrUnsupportedArgument = errors.New("engine: argument has no text form")
)

// UnknownCommandError means the engine does not know the request key.
type UnknownCommandError struct {
	Key string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("engine: command key %q not recognised", e.Key)
}

// MalformedRequestError carries the engine's detail text for a rejected
// argument list.
type MalformedRequestError struct {
	Key    string
	Detail string
}

func (e *MalformedRequestError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("engine: malformed request for %q", e.Key)
	}
	return fmt.Sprintf("engine: malformed request for %q: %s", e.Key, e.Detail)
}

// ProtocolError is a reply whose status tag fits no known form.
type ProtocolError struct {
	Key    string
	Status string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("engine: unexpected reply status %q for %q", e.Status, e.Key)
}

// MissingArgumentError is raised locally before any request is sent.
type MissingArgumentError struct {
	Command string
	Arg     string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("engine: %s: missing required argument %q", e.Command, e.Arg)
}

func (e *MissingArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// Outcome labels err for metrics and logs.
func Outcome(err error) string {
	var (
		unknown   *UnknownCommandError
		malformed *MalformedRequestError
		protocol  *ProtocolError
		transport *link.TransportError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrResponseTimeout):
		return "timeout"
	case errors.As(err, &unknown):
		return "unknown_command"
	case errors.As(err, &malformed):
		return "malformed"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.As(err, &protocol):
		return "protocol"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &transport):
		return "transport"
	default:
		return "error"
	}
}
