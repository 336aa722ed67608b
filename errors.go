package cerise

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrInsufficientData is returned when decoding and the reply is truncated.
// This is expected on the read path: the server's bytes arrive in arbitrary
// chunks, so the caller should append more bytes to the buffer and re-invoke
// the same decode operation.
var ErrInsufficientData = errors.New("cerise: insufficient data to decode reply, more bytes expected")

// ErrOutOfServers is the error returned when the client has run out of
// servers to talk to because all of them errored or otherwise failed to
// respond.
var ErrOutOfServers = errors.New("cerise: client has run out of available servers to talk to")

// ErrClosedClient is the error returned when a method is called on a client
// that has been closed.
var ErrClosedClient = errors.New("cerise: the client object is already closed")

// ErrNotConnected is the error returned when trying to write to a connection
// that is not connected.
var ErrNotConnected = errors.New("cerise: connection is not open")

// ErrAlreadyConnected is the error returned when calling Open() on a
// connection that is already open.
var ErrAlreadyConnected = errors.New("cerise: connection is already open")

// ErrShuttingDown is returned when a command cannot be processed because the
// async client is shutting down.
var ErrShuttingDown = errors.New("cerise: async client is shutting down")

// ConfigurationError is the type of error returned from a constructor (e.g.
// NewClient, or Conn.Open) when the specified configuration is invalid.
type ConfigurationError string

func (err ConfigurationError) Error() string {
	return "cerise: invalid configuration (" + string(err) + ")"
}

// FramingError is returned when the bytes on the wire contradict the
// protocol's structure: a leading marker byte that disagrees with what the
// current decode path requires, or a required terminator position holding
// the wrong bytes. Unlike ErrInsufficientData it is not recoverable by
// waiting for more bytes; the stream is desynchronized or the sender is
// violating the protocol.
type FramingError struct {
	Info string
}

func (err FramingError) Error() string {
	return fmt.Sprintf("cerise: framing violation while decoding reply: %s", err.Info)
}

// ServerError is an error reply (`-` marker) sent by the server in response
// to a command, e.g. "ERR unknown command". The string holds the reply body
// verbatim.
type ServerError string

func (err ServerError) Error() string {
	return "cerise: server error: " + string(err)
}

type sentinelError struct {
	sentinel error
	wrapped  error
}

func (err sentinelError) Error() string {
	if err.wrapped != nil {
		return fmt.Sprintf("%s: %v", err.sentinel, err.wrapped)
	}
	return fmt.Sprintf("%s", err.sentinel)
}

func (err sentinelError) Is(target error) bool {
	return errors.Is(err.sentinel, target) || errors.Is(err.wrapped, target)
}

func (err sentinelError) Unwrap() error {
	return err.wrapped
}

// Wrap wraps any number of errors under a sentinel error so that the result
// both matches the sentinel with errors.Is and exposes the wrapped errors
// to errors.As and errors.Unwrap.
func Wrap(sentinel error, wrapped ...error) sentinelError {
	return sentinelError{sentinel: sentinel, wrapped: multiError(wrapped...)}
}

func multiError(wrapped ...error) error {
	merr := multierror.Append(nil, wrapped...)
	if len(merr.Errors) == 1 {
		return merr.Errors[0]
	}
	return merr
}
