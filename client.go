package cerise

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// Reply is a generic decoded reply, produced when the reply kind is not
// known ahead of time (Client.Do and the async client). Exactly one of the
// fields carries the value, according to Kind.
type Reply struct {
	// Kind is the reply's leading marker byte: '+', ':', '$' or '*'. Error
	// replies never appear here; they surface as a ServerError instead.
	Kind byte
	// Null is true for the null bulk string and the null array.
	Null bool
	// Str holds the body for simple-string, integer and bulk replies.
	Str string
	// Elems holds the elements for array replies, nested arrays flattened
	// as in ReplyDecoder.ReadStringArray.
	Elems []string
}

// DecodeReply dispatches on the leading marker byte and decodes whatever
// reply is next in the buffer into a generic Reply.
func DecodeReply(rd *ReplyDecoder) (*Reply, error) {
	marker, err := rd.PeekMarker()
	if err != nil {
		return nil, err
	}
	switch marker {
	case simpleStringMarker:
		s, err := rd.ReadSimpleString()
		if err != nil {
			return nil, err
		}
		return &Reply{Kind: marker, Str: s}, nil
	case integerMarker:
		s, err := rd.ReadIntegerString()
		if err != nil {
			return nil, err
		}
		return &Reply{Kind: marker, Str: s}, nil
	case bulkStringMarker:
		s, err := rd.ReadBulkString()
		if err != nil {
			return nil, err
		}
		if s == nil {
			return &Reply{Kind: marker, Null: true}, nil
		}
		return &Reply{Kind: marker, Str: *s}, nil
	case arrayMarker:
		elems, err := rd.ReadStringArray()
		if err != nil {
			return nil, err
		}
		if elems == nil {
			return &Reply{Kind: marker, Null: true}, nil
		}
		return &Reply{Kind: marker, Elems: elems}, nil
	default:
		return nil, FramingError{"unknown reply marker " + strconv.QuoteRune(rune(marker))}
	}
}

// Client is a synchronous client for a single server, with automatic
// redial. It is safe for concurrent use; commands issued concurrently share
// the connection's pipeline.
//
// You MUST call Close() on a client to avoid leaks, it will not be
// garbage-collected automatically when it passes out of scope.
type Client interface {
	// Config returns the Config struct of the client. This struct should
	// not be altered after it has been created.
	Config() *Config

	// Ping checks the connection with a PING round-trip.
	Ping() error

	// Echo returns its argument from the server, mostly useful for
	// connection checks.
	Echo(value string) (string, error)

	// Set stores a value under key.
	Set(key, value string) error

	// SetTTL stores a value under key with an expiry.
	SetTTL(key, value string, ttl time.Duration) error

	// Get fetches the value under key. A nil pointer means the key does not
	// exist, distinct from an empty stored value.
	Get(key string) (*string, error)

	// GetBytes fetches the value under key into pool-rented memory; the
	// caller must Release the handle. A nil handle means the key does not
	// exist. Unlike Get, the raw stored bytes are returned without
	// reversing value compression.
	GetBytes(key string) (*PooledBytes, error)

	// MGet fetches multiple keys at once; missing keys decode as "".
	MGet(keys ...string) ([]string, error)

	// MGetBytes fetches multiple keys into pool-rented memory; missing keys
	// are nil entries and every non-nil handle must be released.
	MGetBytes(keys ...string) ([]*PooledBytes, error)

	// Del removes keys, returning how many existed.
	Del(keys ...string) (int64, error)

	// Exists returns how many of the given keys exist.
	Exists(keys ...string) (int64, error)

	// Incr atomically increments the integer stored at key by one.
	Incr(key string) (int64, error)

	// IncrBy atomically adds delta to the integer stored at key.
	IncrBy(key string, delta int64) (int64, error)

	// Decr atomically decrements the integer stored at key by one.
	Decr(key string) (int64, error)

	// Expire sets a time-to-live on key, reporting whether the key exists.
	Expire(key string, ttl time.Duration) (bool, error)

	// TTL returns the remaining time-to-live of key. It returns -1s for a
	// key with no expiry and -2s for a missing key, as the server does.
	TTL(key string) (time.Duration, error)

	// Keys lists the keys matching a glob pattern. Not for hot paths: the
	// server scans its whole keyspace.
	Keys(pattern string) ([]string, error)

	// LPush prepends values to the list at key, returning the new length.
	LPush(key string, values ...string) (int64, error)

	// RPush appends values to the list at key, returning the new length.
	RPush(key string, values ...string) (int64, error)

	// LRange returns the elements of the list at key between start and stop
	// inclusive, negative indices counting from the tail.
	LRange(key string, start, stop int64) ([]string, error)

	// Select switches the connection to a numbered database. The choice is
	// recorded in the configuration so a redial after a connection failure
	// lands on the same database.
	Select(db int) error

	// Auth authenticates an already-open connection, for servers that allow
	// connecting first and authenticating later. Leave username empty for
	// password-only authentication. The credentials are recorded in the
	// configuration so a redial re-authenticates.
	Auth(username, password string) error

	// FlushDB removes every key in the selected database.
	FlushDB() error

	// Do sends an arbitrary command and decodes whatever reply comes back.
	Do(cmd *Command) (*Reply, error)

	// Closed returns true if the client has already had Close called on it.
	Closed() bool

	// Close shuts down the client and its connection.
	Close() error
}

type client struct {
	conf  *Config
	addrs []string

	conn   *Conn
	lock   sync.Mutex
	closed bool
}

// NewClient creates a new Client with one or more seed server addresses;
// the first one reachable is used, and redial after a connection failure
// walks the list again. If conf is nil, the result of NewConfig() is used.
func NewClient(addrs []string, conf *Config) (Client, error) {
	DebugLogger.Println("Initializing new client")

	if conf == nil {
		conf = NewConfig()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if len(addrs) < 1 {
		return nil, ConfigurationError("you must provide at least one server address")
	}

	c := &client{conf: conf, addrs: addrs}
	if _, err := c.getConn(); err != nil {
		return nil, err
	}

	DebugLogger.Println("Successfully initialized new client")
	return c, nil
}

func (c *client) Config() *Config {
	return c.conf
}

func (c *client) Closed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

func (c *client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrClosedClient
	}
	c.closed = true
	if c.conn != nil {
		if connected, _ := c.conn.Connected(); connected {
			return c.conn.Close()
		}
	}
	return nil
}

// getConn returns the healthy connection, walking the seed list to dial a
// fresh one if necessary.
func (c *client) getConn() (*Conn, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return nil, ErrClosedClient
	}
	if c.conn != nil {
		if connected, _ := c.conn.Connected(); connected {
			return c.conn, nil
		}
		c.conn = nil
	}

	var dialErrs []error
	for _, addr := range c.addrs {
		conn := NewConn(addr)
		if err := conn.Open(c.conf); err != nil {
			dialErrs = append(dialErrs, err)
			continue
		}
		connected, err := conn.Connected()
		if connected {
			c.conn = conn
			return conn, nil
		}
		if err != nil {
			dialErrs = append(dialErrs, err)
		}
	}
	Logger.Printf("client/dial no server reachable out of %d addresses\n", len(c.addrs))
	if len(dialErrs) == 0 {
		return nil, ErrOutOfServers
	}
	return nil, Wrap(ErrOutOfServers, dialErrs...)
}

func (c *client) computeBackoff(retries int) time.Duration {
	if c.conf.Retry.BackoffFunc != nil {
		return c.conf.Retry.BackoffFunc(retries, c.conf.Retry.Max)
	}
	return c.conf.Retry.Backoff
}

// do runs one command with redial-and-retry on connection failure. Server
// errors and framing violations are never retried; the former are valid
// responses and the latter would only desynchronize a fresh connection
// again.
func (c *client) do(cmd *Command, decode ReplyDecodeFunc) (interface{}, error) {
	var lastErr error
	for retries := 0; retries <= c.conf.Retry.Max; retries++ {
		if retries > 0 {
			backoff := c.computeBackoff(retries)
			Logger.Printf("client/retry retrying %s after %v (%d attempts remaining)\n",
				cmd.Name, backoff, c.conf.Retry.Max-retries)
			time.Sleep(backoff)
		}

		conn, err := c.getConn()
		if err != nil {
			if errors.Is(err, ErrClosedClient) {
				return nil, err
			}
			lastErr = err
			continue
		}
		value, err := conn.Do(cmd, decode)
		if err == nil {
			return value, nil
		}

		var serverErr ServerError
		var framingErr FramingError
		if errors.As(err, &serverErr) || errors.As(err, &framingErr) || errors.Is(err, ErrClosedClient) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *client) doSimple(cmd *Command) (string, error) {
	value, err := c.do(cmd, func(rd *ReplyDecoder) (interface{}, error) {
		return rd.ReadSimpleString()
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (c *client) doInt(cmd *Command) (int64, error) {
	value, err := c.do(cmd, func(rd *ReplyDecoder) (interface{}, error) {
		return rd.ReadIntegerString()
	})
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value.(string), 10, 64)
	if err != nil {
		return 0, FramingError{"non-numeric integer reply body " + strconv.Quote(value.(string))}
	}
	return n, nil
}

func (c *client) doBulk(cmd *Command) (*string, error) {
	value, err := c.do(cmd, func(rd *ReplyDecoder) (interface{}, error) {
		return rd.ReadBulkString()
	})
	if err != nil {
		return nil, err
	}
	return value.(*string), nil
}

func (c *client) doStringArray(cmd *Command) ([]string, error) {
	value, err := c.do(cmd, func(rd *ReplyDecoder) (interface{}, error) {
		return rd.ReadStringArray()
	})
	if err != nil {
		return nil, err
	}
	return value.([]string), nil
}

func (c *client) Ping() error {
	_, err := c.doSimple(NewCommand("PING"))
	return err
}

func (c *client) Echo(value string) (string, error) {
	v, err := c.doBulk(NewCommand("ECHO", value))
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func (c *client) Set(key, value string) error {
	encoded, err := encodeValue(c.conf, []byte(value))
	if err != nil {
		return err
	}
	cmd := NewCommand("SET", key)
	cmd.Args = append(cmd.Args, ByteEncoder(encoded))
	_, err = c.doSimple(cmd)
	return err
}

func (c *client) SetTTL(key, value string, ttl time.Duration) error {
	encoded, err := encodeValue(c.conf, []byte(value))
	if err != nil {
		return err
	}
	cmd := NewCommand("SET", key)
	cmd.Args = append(cmd.Args,
		ByteEncoder(encoded),
		StringEncoder("PX"),
		StringEncoder(strconv.FormatInt(ttl.Milliseconds(), 10)))
	_, err = c.doSimple(cmd)
	return err
}

func (c *client) Get(key string) (*string, error) {
	v, err := c.doBulk(NewCommand("GET", key))
	if err != nil || v == nil {
		return nil, err
	}
	decoded, err := decodeValue([]byte(*v))
	if err != nil {
		return nil, err
	}
	s := string(decoded)
	return &s, nil
}

func (c *client) GetBytes(key string) (*PooledBytes, error) {
	value, err := c.do(NewCommand("GET", key), func(rd *ReplyDecoder) (interface{}, error) {
		return rd.ReadBulkStringBytes()
	})
	if err != nil {
		return nil, err
	}
	return value.(*PooledBytes), nil
}

func (c *client) MGet(keys ...string) ([]string, error) {
	return c.doStringArray(NewCommand("MGET", keys...))
}

func (c *client) MGetBytes(keys ...string) ([]*PooledBytes, error) {
	value, err := c.do(NewCommand("MGET", keys...), func(rd *ReplyDecoder) (interface{}, error) {
		return rd.ReadBytesArray()
	})
	if err != nil {
		return nil, err
	}
	return value.([]*PooledBytes), nil
}

func (c *client) Del(keys ...string) (int64, error) {
	return c.doInt(NewCommand("DEL", keys...))
}

func (c *client) Exists(keys ...string) (int64, error) {
	return c.doInt(NewCommand("EXISTS", keys...))
}

func (c *client) Incr(key string) (int64, error) {
	return c.doInt(NewCommand("INCR", key))
}

func (c *client) IncrBy(key string, delta int64) (int64, error) {
	return c.doInt(NewCommand("INCRBY", key, strconv.FormatInt(delta, 10)))
}

func (c *client) Decr(key string) (int64, error) {
	return c.doInt(NewCommand("DECR", key))
}

func (c *client) Expire(key string, ttl time.Duration) (bool, error) {
	n, err := c.doInt(NewCommand("EXPIRE", key, strconv.FormatInt(int64(ttl.Seconds()), 10)))
	return n == 1, err
}

func (c *client) TTL(key string) (time.Duration, error) {
	n, err := c.doInt(NewCommand("TTL", key))
	return time.Duration(n) * time.Second, err
}

func (c *client) Keys(pattern string) ([]string, error) {
	return c.doStringArray(NewCommand("KEYS", pattern))
}

func (c *client) LPush(key string, values ...string) (int64, error) {
	return c.doInt(NewCommand("LPUSH", append([]string{key}, values...)...))
}

func (c *client) RPush(key string, values ...string) (int64, error) {
	return c.doInt(NewCommand("RPUSH", append([]string{key}, values...)...))
}

func (c *client) LRange(key string, start, stop int64) ([]string, error) {
	return c.doStringArray(NewCommand("LRANGE", key,
		strconv.FormatInt(start, 10), strconv.FormatInt(stop, 10)))
}

func (c *client) Select(db int) error {
	_, err := c.doSimple(NewCommand("SELECT", strconv.Itoa(db)))
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.conf.DB = db
	c.lock.Unlock()
	return nil
}

func (c *client) Auth(username, password string) error {
	args := []string{password}
	if username != "" {
		args = []string{username, password}
	}
	_, err := c.doSimple(NewCommand("AUTH", args...))
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.conf.Auth.Enable = true
	c.conf.Auth.Username = username
	c.conf.Auth.Password = password
	c.lock.Unlock()
	return nil
}

func (c *client) FlushDB() error {
	_, err := c.doSimple(NewCommand("FLUSHDB"))
	return err
}

func (c *client) Do(cmd *Command) (*Reply, error) {
	value, err := c.do(cmd, func(rd *ReplyDecoder) (interface{}, error) {
		return DecodeReply(rd)
	})
	if err != nil {
		return nil, err
	}
	return value.(*Reply), nil
}
