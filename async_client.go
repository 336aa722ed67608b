package cerise

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/eapache/queue"
)

// AsyncClient issues commands using a non-blocking API. Commands written to
// Input are pipelined onto the connection as fast as it accepts them;
// results come back on the Successes and Errors channels. You MUST read
// from both channels or the client will eventually deadlock, and you must
// call Close() or AsyncClose() to avoid leaks.
type AsyncClient interface {
	// AsyncClose triggers a shutdown of the client, flushing any commands
	// still in flight. The shutdown has completed when both the Errors and
	// Successes channels have been closed. When calling AsyncClose, you
	// *must* continue to read from those channels in order to drain the
	// results of any commands in flight.
	AsyncClose()

	// Close shuts down the client and flushes any commands still in
	// flight, returning any errors their replies carried. You must call
	// this function before an AsyncClient object passes out of scope, as
	// it may otherwise leak memory.
	Close() error

	// Input is the channel the user writes commands to.
	Input() chan<- *Command

	// Successes is the channel where decoded replies for delivered
	// commands are returned.
	Successes() <-chan *CommandResult

	// Errors is the channel where failed commands are returned.
	Errors() <-chan *CommandError
}

// CommandResult pairs a delivered command with its decoded reply.
type CommandResult struct {
	Cmd   *Command
	Reply *Reply
}

// CommandError is the type of error generated when a command fails; it
// contains the command itself so the caller can tell which one.
type CommandError struct {
	Cmd *Command
	Err error
}

func (ce *CommandError) Error() string {
	return fmt.Sprintf("cerise: command %s failed: %s", ce.Cmd.Name, ce.Err)
}

func (ce *CommandError) Unwrap() error {
	return ce.Err
}

// CommandErrors is a type that wraps a batch of errors and implements the
// error interface; it is returned from Close when commands were still
// unresolved.
type CommandErrors []*CommandError

func (ce CommandErrors) Error() string {
	return fmt.Sprintf("cerise: %d commands failed during shutdown", len(ce))
}

type flagSet int8

const (
	tracked  flagSet = 1 << iota // command has been counted in flight
	shutdown                     // start the shutdown process
)

type asyncClient struct {
	client    *client
	conf      *Config
	ownClient bool

	input, retries chan *Command
	successes      chan *CommandResult
	errors         chan *CommandError
	pending        chan *pendingCommand

	inFlight     sync.WaitGroup
	shuttingDown bool
	closeOnce    sync.Once
}

type pendingCommand struct {
	cmd     *Command
	promise *responsePromise
}

// NewAsyncClient creates a new AsyncClient using the given server addresses
// and configuration.
func NewAsyncClient(addrs []string, conf *Config) (AsyncClient, error) {
	cl, err := NewClient(addrs, conf)
	if err != nil {
		return nil, err
	}
	a, err := NewAsyncClientFromClient(cl)
	if err != nil {
		return nil, err
	}
	a.(*asyncClient).ownClient = true
	return a, nil
}

// NewAsyncClientFromClient creates a new AsyncClient on top of the given
// client. It is still necessary to call Close() on the underlying client
// when shutting down this one.
func NewAsyncClientFromClient(cl Client) (AsyncClient, error) {
	// Check that we are not dealing with a closed Client before processing any other arguments
	if cl.Closed() {
		return nil, ErrClosedClient
	}
	underlying, ok := cl.(*client)
	if !ok {
		return nil, ConfigurationError("AsyncClient requires a client built by NewClient")
	}

	a := &asyncClient{
		client:    underlying,
		conf:      cl.Config(),
		input:     make(chan *Command, cl.Config().ChannelBufferSize),
		retries:   make(chan *Command, efficientBufferSize),
		successes: make(chan *CommandResult, cl.Config().ChannelBufferSize),
		errors:    make(chan *CommandError, cl.Config().ChannelBufferSize),
		pending:   make(chan *pendingCommand, cl.Config().MaxPipelined),
	}

	// launch our singleton dispatchers
	go withRecover(a.dispatcher)
	go withRecover(a.collector)
	go withRecover(a.retryHandler)

	return a, nil
}

func (a *asyncClient) Input() chan<- *Command {
	return a.input
}

func (a *asyncClient) Successes() <-chan *CommandResult {
	return a.successes
}

func (a *asyncClient) Errors() <-chan *CommandError {
	return a.errors
}

func (a *asyncClient) AsyncClose() {
	a.closeOnce.Do(func() {
		go withRecover(a.shutdown)
	})
}

func (a *asyncClient) Close() error {
	a.AsyncClose()

	go withRecover(func() {
		for range a.successes {
		}
	})

	var cErrs CommandErrors
	for event := range a.errors {
		cErrs = append(cErrs, event)
	}

	if len(cErrs) > 0 {
		return cErrs
	}
	return nil
}

// dispatcher reads commands off the input channel and pipelines them onto
// the connection, redialing through a circuit breaker when it has died.
func (a *asyncClient) dispatcher() {
	br := breaker.New(3, 1, 10*time.Second)

	for cmd := range a.input {
		if cmd == nil {
			Logger.Println("Something tried to send a nil command; it was ignored.")
			continue
		}

		if cmd.flags&shutdown != 0 {
			a.shuttingDown = true
			a.inFlight.Done()
			continue
		}
		if cmd.flags&tracked == 0 {
			cmd.flags |= tracked
			a.inFlight.Add(1)
		}
		if a.shuttingDown {
			a.returnError(cmd, ErrShuttingDown)
			continue
		}

		var promise *responsePromise
		err := br.Run(func() error {
			conn, err := a.client.getConn()
			if err != nil {
				return err
			}
			promise, err = conn.send(cmd, func(rd *ReplyDecoder) (interface{}, error) {
				return DecodeReply(rd)
			})
			return err
		})
		if err != nil {
			if errors.Is(err, breaker.ErrBreakerOpen) || errors.Is(err, ErrClosedClient) {
				a.returnError(cmd, err)
			} else {
				a.maybeRetry(cmd, err)
			}
			continue
		}

		a.pending <- &pendingCommand{cmd: cmd, promise: promise}
	}
	close(a.pending)
}

// collector resolves pipelined promises in order, routing each command to
// the success channel, the error channel, or the retry loop.
func (a *asyncClient) collector() {
	for pc := range a.pending {
		select {
		case value := <-pc.promise.value:
			a.returnSuccess(pc.cmd, value.(*Reply))
		case err := <-pc.promise.errors:
			var serverErr ServerError
			var framingErr FramingError
			if errors.As(err, &serverErr) || errors.As(err, &framingErr) {
				// valid responses and desync failures are not retriable
				a.returnError(pc.cmd, err)
			} else {
				a.maybeRetry(pc.cmd, err)
			}
		}
	}
	close(a.errors)
	close(a.successes)
}

// retryHandler bridges the retries channel back into the input channel via
// an unbounded in-memory queue, so the collector never blocks on a full
// input channel while the dispatcher is blocked on the collector.
func (a *asyncClient) retryHandler() {
	var cmd *Command
	buf := queue.New()

	for {
		if buf.Length() == 0 {
			cmd = <-a.retries
		} else {
			select {
			case cmd = <-a.retries:
			case a.input <- buf.Peek().(*Command):
				buf.Remove()
				continue
			}
		}

		if cmd == nil {
			return
		}

		buf.Add(cmd)
	}
}

func (a *asyncClient) maybeRetry(cmd *Command, err error) {
	if cmd.retries >= a.conf.Retry.Max {
		a.returnError(cmd, err)
		return
	}
	cmd.retries++
	backoff := a.conf.Retry.Backoff
	if a.conf.Retry.BackoffFunc != nil {
		backoff = a.conf.Retry.BackoffFunc(cmd.retries, a.conf.Retry.Max)
	}
	Logger.Printf("async/retry retrying %s after %v (attempt %d of %d): %s\n",
		cmd.Name, backoff, cmd.retries, a.conf.Retry.Max, err)
	time.Sleep(backoff)
	a.retries <- cmd
}

func (a *asyncClient) returnSuccess(cmd *Command, reply *Reply) {
	a.successes <- &CommandResult{Cmd: cmd, Reply: reply}
	a.inFlight.Done()
}

func (a *asyncClient) returnError(cmd *Command, err error) {
	a.errors <- &CommandError{Cmd: cmd, Err: err}
	a.inFlight.Done()
}

func (a *asyncClient) shutdown() {
	Logger.Println("AsyncClient shutting down.")

	a.inFlight.Add(1)
	a.input <- &Command{flags: shutdown}
	a.inFlight.Wait()

	if a.ownClient {
		if err := a.client.Close(); err != nil {
			Logger.Println("async/shutdown failed to close the embedded client:", err)
		}
	}

	close(a.input)
	close(a.retries)
}
