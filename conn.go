package cerise

import (
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"
)

// ReplyDecodeFunc runs one decode operation against the connection's
// decoder. Each in-flight command carries the decode function matching the
// reply kind it expects.
type ReplyDecodeFunc func(*ReplyDecoder) (interface{}, error)

// Conn is a single connection to a server. Commands are pipelined: writes
// go out as they are issued, up to Config.MaxPipelined in flight, and a
// receiver goroutine matches responses to their promises in order.
type Conn struct {
	conf *Config
	addr string

	conn    net.Conn
	connErr error
	lock    sync.Mutex
	opened  int32

	responses chan *responsePromise
	done      chan bool

	// receiver-owned read state: bytes accumulate in buf until the decoder
	// reports a complete reply, then the consumed prefix is discarded
	buf []byte
	dec *ReplyDecoder

	incomingByteRate   metrics.Meter
	requestRate        metrics.Meter
	outgoingByteRate   metrics.Meter
	responseRate       metrics.Meter
	requestSize        metrics.Histogram
	responseSize       metrics.Histogram
	requestLatency     metrics.Histogram
	serverIncomingRate metrics.Meter
	serverOutgoingRate metrics.Meter
	serverRequestRate  metrics.Meter
	serverResponseRate metrics.Meter
	serverLatency      metrics.Histogram
}

type responsePromise struct {
	requestTime time.Time
	decode      ReplyDecodeFunc
	value       chan interface{}
	errors      chan error
}

// NewConn creates a connection object for the given address. The object is
// not connected until Open is called.
func NewConn(addr string) *Conn {
	return &Conn{addr: addr}
}

// Addr returns the address the connection was created for.
func (c *Conn) Addr() string {
	return c.addr
}

// Open dials the server asynchronously: errors from the dial or handshake
// surface through Connected or the first command. It only returns an error
// directly if the connection is already open or the configuration is
// invalid.
func (c *Conn) Open(conf *Config) error {
	if !atomic.CompareAndSwapInt32(&c.opened, 0, 1) {
		return ErrAlreadyConnected
	}

	if conf == nil {
		conf = NewConfig()
	}
	if err := conf.Validate(); err != nil {
		atomic.StoreInt32(&c.opened, 0)
		return err
	}

	c.lock.Lock()

	go withRecover(func() {
		defer c.lock.Unlock()

		dialer := conf.getDialer()
		c.conn, c.connErr = dialer.Dial("tcp", c.addr)
		if c.connErr != nil {
			Logger.Printf("Failed to connect to %s: %s\n", c.addr, c.connErr)
			c.conn = nil
			atomic.StoreInt32(&c.opened, 0)
			return
		}
		if conf.Net.TLS.Enable {
			c.conn = tls.Client(c.conn, conf.Net.TLS.Config)
		}

		c.conf = conf
		c.registerMetrics()
		c.buf = nil
		c.dec = NewReplyDecoder(c.conf.Pool)

		if c.connErr = c.handshake(); c.connErr != nil {
			Logger.Printf("Handshake with %s failed: %s\n", c.addr, c.connErr)
			_ = c.conn.Close()
			c.conn = nil
			atomic.StoreInt32(&c.opened, 0)
			return
		}

		c.done = make(chan bool)
		c.responses = make(chan *responsePromise, c.conf.MaxPipelined)

		go withRecover(c.responseReceiver)

		DebugLogger.Printf("Connected to %s\n", c.addr)
	})

	return nil
}

// Connected returns true if the connection is open and usable, and the
// error behind the failure otherwise. It blocks while an Open is still in
// flight.
func (c *Conn) Connected() (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn != nil, c.connErr
}

// Close waits for all in-flight commands to resolve, then closes the
// socket.
func (c *Conn) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	close(c.responses)
	<-c.done

	err := c.conn.Close()
	c.conn = nil
	c.connErr = nil
	c.done = nil
	c.responses = nil
	c.buf = nil
	atomic.StoreInt32(&c.opened, 0)

	if err == nil {
		DebugLogger.Printf("Closed connection to %s\n", c.addr)
	} else {
		Logger.Printf("Error while closing connection to %s: %s\n", c.addr, err)
	}
	return err
}

// Do sends a command and blocks until its reply has been decoded by the
// given function. A `-` reply is returned as a ServerError without invoking
// the decode function.
func (c *Conn) Do(cmd *Command, decode ReplyDecodeFunc) (interface{}, error) {
	promise, err := c.send(cmd, decode)
	if err != nil {
		return nil, err
	}

	select {
	case value := <-promise.value:
		return value, nil
	case err := <-promise.errors:
		return nil, err
	}
}

// send writes the command and registers its promise with the receiver. If
// MaxPipelined commands are already in flight it blocks until one resolves.
func (c *Conn) send(cmd *Command, decode ReplyDecodeFunc) (*responsePromise, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn == nil {
		if c.connErr != nil {
			return nil, c.connErr
		}
		return nil, ErrNotConnected
	}

	buf, err := cmd.encode()
	if err != nil {
		return nil, err
	}

	requestTime := time.Now()
	if err := c.conn.SetWriteDeadline(requestTime.Add(c.conf.Net.WriteTimeout)); err != nil {
		return nil, err
	}
	n, err := c.conn.Write(buf)
	c.updateOutgoingMetrics(int64(n))
	if err != nil {
		return nil, err
	}

	promise := &responsePromise{
		requestTime: requestTime,
		decode:      decode,
		value:       make(chan interface{}, 1),
		errors:      make(chan error, 1),
	}
	c.responses <- promise
	return promise, nil
}

func (c *Conn) responseReceiver() {
	var dead error

	for promise := range c.responses {
		if dead != nil {
			promise.errors <- dead
			continue
		}

		value, err := c.readResponse(promise.decode)
		if err != nil {
			var serverErr ServerError
			if !errors.As(err, &serverErr) {
				// an I/O error or framing violation desynchronizes the
				// stream; everything still in flight is undeliverable
				Logger.Printf("Error on connection to %s, failing %d in-flight commands: %s\n",
					c.addr, len(c.responses)+1, err)
				dead = err
			}
			promise.errors <- err
			continue
		}

		c.updateResponseMetrics(promise.requestTime)
		promise.value <- value
	}
	close(c.done)
}

// readResponse decodes exactly one reply, reading more bytes from the
// socket whenever the decoder reports the frame is still incomplete.
func (c *Conn) readResponse(decode ReplyDecodeFunc) (interface{}, error) {
	for {
		c.dec.Reset(c.buf)

		marker, err := c.dec.PeekMarker()
		if err == nil && marker == errorMarker {
			var msg string
			if msg, err = c.dec.ReadErrorString(); err == nil {
				c.finishResponse()
				return nil, ServerError(msg)
			}
		} else if err == nil {
			var value interface{}
			if value, err = decode(c.dec); err == nil {
				c.finishResponse()
				return value, nil
			}
		}

		if !errors.Is(err, ErrInsufficientData) {
			return nil, err
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
}

// finishResponse discards the consumed frame from the read buffer and
// records its size.
func (c *Conn) finishResponse() {
	n := c.dec.Offset()
	c.responseSize.Update(int64(n))
	c.buf = append(c.buf[:0], c.buf[n:]...)
}

func (c *Conn) fill() error {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.conf.Net.ReadTimeout)); err != nil {
		return err
	}
	var chunk [4096]byte
	n, err := c.conn.Read(chunk[:])
	if n > 0 {
		c.buf = append(c.buf, chunk[:n]...)
		c.incomingByteRate.Mark(int64(n))
		c.serverIncomingRate.Mark(int64(n))
		return nil
	}
	return err
}

// handshake runs the connection setup commands synchronously on the raw
// socket, before the receiver goroutine exists.
func (c *Conn) handshake() error {
	if c.conf.Auth.Enable {
		args := []string{c.conf.Auth.Password}
		if c.conf.Auth.Username != "" {
			args = []string{c.conf.Auth.Username, c.conf.Auth.Password}
		}
		if err := c.syncCommand(NewCommand("AUTH", args...)); err != nil {
			return err
		}
	}
	if c.conf.DB != 0 {
		if err := c.syncCommand(NewCommand("SELECT", strconv.Itoa(c.conf.DB))); err != nil {
			return err
		}
	}
	if c.conf.ClientName != "" {
		if err := c.syncCommand(NewCommand("CLIENT", "SETNAME", c.conf.ClientName)); err != nil {
			return err
		}
	}
	return nil
}

// syncCommand writes one command and waits for its simple-string reply.
func (c *Conn) syncCommand(cmd *Command) error {
	buf, err := cmd.encode()
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.conf.Net.WriteTimeout)); err != nil {
		return err
	}
	n, err := c.conn.Write(buf)
	c.updateOutgoingMetrics(int64(n))
	if err != nil {
		return err
	}
	_, err = c.readResponse(func(rd *ReplyDecoder) (interface{}, error) {
		return rd.ReadSimpleString()
	})
	return err
}

func (c *Conn) registerMetrics() {
	reg := c.conf.MetricRegistry
	c.incomingByteRate = metrics.GetOrRegisterMeter("incoming-byte-rate", reg)
	c.requestRate = metrics.GetOrRegisterMeter("request-rate", reg)
	c.outgoingByteRate = metrics.GetOrRegisterMeter("outgoing-byte-rate", reg)
	c.responseRate = metrics.GetOrRegisterMeter("response-rate", reg)
	c.requestSize = getOrRegisterHistogram("request-size", reg)
	c.responseSize = getOrRegisterHistogram("response-size", reg)
	c.requestLatency = getOrRegisterHistogram("request-latency-in-ms", reg)
	c.serverIncomingRate = getOrRegisterServerMeter("incoming-byte-rate", c.addr, reg)
	c.serverOutgoingRate = getOrRegisterServerMeter("outgoing-byte-rate", c.addr, reg)
	c.serverRequestRate = getOrRegisterServerMeter("request-rate", c.addr, reg)
	c.serverResponseRate = getOrRegisterServerMeter("response-rate", c.addr, reg)
	c.serverLatency = getOrRegisterServerHistogram("request-latency-in-ms", c.addr, reg)
}

func (c *Conn) updateOutgoingMetrics(bytes int64) {
	c.requestRate.Mark(1)
	c.serverRequestRate.Mark(1)
	c.outgoingByteRate.Mark(bytes)
	c.serverOutgoingRate.Mark(bytes)
	c.requestSize.Update(bytes)
}

func (c *Conn) updateResponseMetrics(requestTime time.Time) {
	latency := time.Since(requestTime) / time.Millisecond
	c.responseRate.Mark(1)
	c.serverResponseRate.Mark(1)
	c.requestLatency.Update(int64(latency))
	c.serverLatency.Update(int64(latency))
}
