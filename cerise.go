/*
Package cerise provides a pure Go client library for RESP-speaking in-memory
data stores (Redis and compatible servers).

The heart of the package is the ReplyDecoder, a cursor-based decoder for the
reply subset of the wire protocol. It operates on a caller-supplied byte
buffer that may hold an incomplete frame: every decode operation either
succeeds and advances the cursor past the consumed token, reports
ErrInsufficientData so the caller can append more bytes and retry, or fails
with a FramingError when the bytes on the wire contradict the protocol.

On top of the decoder sit Conn (a single pipelined connection), Client (a
synchronous command API with automatic redial), and AsyncClient (a
channel-based non-blocking API). MockServer provides a scripted in-process
server for tests.
*/
package cerise

import (
	"io"
	"log"
)

// Logger is the instance of a StdLogger interface that cerise writes
// connection management events to. By default it is set to discard all log
// messages, but you can set it to redirect wherever you want.
var Logger StdLogger = log.New(io.Discard, "[cerise] ", log.LstdFlags)

// StdLogger is used to log error messages.
type StdLogger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

// DebugLogger is the instance of a StdLogger that cerise writes more
// verbose debug information to. By default it is set to redirect to the
// main Logger above (i.e. not making any change to the historical logging
// behaviour).
var DebugLogger StdLogger = &debugLogger{}

type debugLogger struct{}

func (d *debugLogger) Print(v ...interface{}) {
	Logger.Print(v...)
}

func (d *debugLogger) Printf(format string, v ...interface{}) {
	Logger.Printf(format, v...)
}

func (d *debugLogger) Println(v ...interface{}) {
	Logger.Println(v...)
}

// PanicHandler is called for recovering from panics spawned internally to
// the library (and thus not recoverable by the caller's goroutine). Defaults
// to nil, which means panics are not recovered.
var PanicHandler func(interface{})
