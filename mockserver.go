package cerise

import (
	"errors"
	"net"
	"sync"
	"time"
)

// TestState is a generic interface for a test state, implemented e.g. by testing.T
type TestState interface {
	Error(args ...interface{})
	Fatal(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// MockServer is a mock RESP server. It consists of a TCP server on a
// kernel-selected localhost port that accepts a single connection, reads
// command frames from it with the package's own decoder, and answers each
// one from the expectation queued at creation time.
//
// Responses are raw wire bytes, so tests can script malformed frames as
// easily as valid ones. An expectation may split its response into chunks
// written with a pause in between, to drive the client's
// insufficient-data/retry path over a real socket.
//
// When running tests with one of these, it is strongly recommended to
// specify a timeout to `go test` so that if the server hangs waiting for a
// request, the test panics.
type MockServer struct {
	listener     net.Listener
	t            TestState
	expectations chan *ServerExpectation
	stopper      chan bool

	historyLock sync.Mutex
	history     [][]string
}

// ServerExpectation specifies how the MockServer responds to one inbound
// command.
type ServerExpectation struct {
	Before   func()        // Before is called after the request has been read, before responding
	Latency  time.Duration // Latency to wait before the response is sent
	Response string        // Response holds the raw reply bytes sent back to the client
	Chunks   []string      // Chunks, if set, overrides Response with separately written fragments
	After    func()        // After is called once the response has been written

	IgnoreConnectionErrors bool // set to true if connectivity issues are expected during this exchange
}

// NewMockServer launches a mock server on an ephemeral localhost port. It
// takes a TestState (e.g. *testing.T); if an error occurs it is logged
// there and the server exits.
func NewMockServer(t TestState) *MockServer {
	s := &MockServer{
		t:            t,
		expectations: make(chan *ServerExpectation, 512),
		stopper:      make(chan bool),
	}

	var err error
	s.listener, err = net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	go withRecover(s.serverLoop)

	return s
}

// Addr returns the address the server is listening on, suitable for
// NewClient.
func (s *MockServer) Addr() string {
	return s.listener.Addr().String()
}

// Returns queues a raw reply for the next inbound command.
func (s *MockServer) Returns(raw string) {
	s.expectations <- &ServerExpectation{Response: raw}
}

// ReturnsChunked queues a reply written as separate fragments with a pause
// between them, so the client's read loop sees an incomplete frame first.
func (s *MockServer) ReturnsChunked(chunks ...string) {
	s.expectations <- &ServerExpectation{Chunks: chunks}
}

// Expects queues a fully specified expectation.
func (s *MockServer) Expects(expectation *ServerExpectation) {
	s.expectations <- expectation
}

// History returns the commands received so far, each as its argument list
// (name first).
func (s *MockServer) History() [][]string {
	s.historyLock.Lock()
	defer s.historyLock.Unlock()
	out := make([][]string, len(s.history))
	copy(out, s.history)
	return out
}

// Close shuts the server down, failing the test if queued expectations went
// unused.
func (s *MockServer) Close() {
	if len(s.expectations) > 0 {
		s.t.Errorf("Not all expectations were satisfied in mock server! Still waiting on %d requests.", len(s.expectations))
	}
	close(s.expectations)
	<-s.stopper
}

func (s *MockServer) serverLoop() {
	defer close(s.stopper)

	conn, err := s.listener.Accept()
	if err != nil {
		s.serverError(err, nil, false)
		return
	}

	dec := NewReplyDecoder(nil)
	var buf []byte

	for expectation := range s.expectations {
		args, rest, err := s.readCommand(conn, dec, buf)
		if err != nil {
			s.serverError(err, conn, expectation.IgnoreConnectionErrors)
			return
		}
		buf = rest

		s.historyLock.Lock()
		s.history = append(s.history, args)
		s.historyLock.Unlock()

		if expectation.Before != nil {
			expectation.Before()
		}
		if expectation.Latency > 0 {
			time.Sleep(expectation.Latency)
		}

		chunks := expectation.Chunks
		if chunks == nil {
			if expectation.Response == "" {
				continue
			}
			chunks = []string{expectation.Response}
		}
		for i, chunk := range chunks {
			if i > 0 {
				time.Sleep(5 * time.Millisecond)
			}
			if _, err := conn.Write([]byte(chunk)); err != nil {
				s.serverError(err, conn, expectation.IgnoreConnectionErrors)
				return
			}
		}

		if expectation.After != nil {
			expectation.After()
		}
	}

	if err := conn.Close(); err != nil {
		s.t.Error(err)
	}
	if err := s.listener.Close(); err != nil {
		s.t.Error(err)
	}
}

// readCommand accumulates socket bytes until the decoder extracts one
// complete command frame (an array of bulk strings).
func (s *MockServer) readCommand(conn net.Conn, dec *ReplyDecoder, buf []byte) ([]string, []byte, error) {
	chunk := make([]byte, 4096)
	for {
		if len(buf) > 0 {
			dec.Reset(buf)
			args, err := dec.ReadStringArray()
			if err == nil {
				rest := append([]byte(nil), buf[dec.Offset():]...)
				return args, rest, nil
			}
			if !errors.Is(err, ErrInsufficientData) {
				return nil, nil, err
			}
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
	}
}

func (s *MockServer) serverError(err error, conn net.Conn, ignoreErrors bool) {
	if !ignoreErrors {
		s.t.Error(err)
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !ignoreErrors {
			s.t.Error(err)
		}
	}
	if err := s.listener.Close(); err != nil && !ignoreErrors {
		s.t.Error(err)
	}
}
