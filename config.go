package cerise

import (
	"compress/gzip"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/rcrowley/go-metrics"
	"golang.org/x/net/proxy"
)

const defaultClientName = "cerise"

// Config is used to pass multiple configuration options to cerise's
// constructors.
type Config struct {
	// Net is the namespace for network-level properties used by the Conn
	Net struct {
		// How long to wait for the initial connection to complete (default 30s).
		DialTimeout time.Duration
		// How long to wait for a socket read to complete (default 30s).
		ReadTimeout time.Duration
		// How long to wait for a socket write to complete (default 30s).
		WriteTimeout time.Duration

		// KeepAlive specifies the keep-alive period for an active network
		// connection (default 0: OS default keep-alives are used).
		KeepAlive time.Duration

		// LocalAddr is the local address to use when dialing.
		// If nil, a local address is automatically chosen.
		LocalAddr net.Addr

		TLS struct {
			// Whether or not to use TLS when connecting to the server
			// (defaults to false).
			Enable bool
			// The TLS configuration to use for secure connections if
			// enabled (defaults to nil).
			Config *tls.Config
		}

		Proxy struct {
			// Whether or not to use proxy when connecting to the server
			// (defaults to false).
			Enable bool
			// The proxy dialer to use, enabled if Proxy.Enable is true
			// (defaults to nil).
			Dialer proxy.Dialer
		}
	}

	// Auth is the namespace for the AUTH handshake sent on connect
	Auth struct {
		// Whether to send an AUTH command after dialing (defaults to false).
		Enable bool
		// Username for servers with ACLs; leave empty for password-only
		// authentication.
		Username string
		// Password to authenticate with, required if Enable is true.
		Password string
	}

	// DB is the numbered database to SELECT after connecting (default 0,
	// in which case no SELECT is sent).
	DB int

	// ClientName is sent via CLIENT SETNAME on connect so the connection is
	// identifiable in the server's client list (default "cerise"; set to
	// the empty string to skip the handshake entirely).
	ClientName string

	// MaxPipelined is how many commands may be in flight on a connection
	// before writes block waiting for responses (default 16, similar to the
	// pipelining window of comparable clients).
	MaxPipelined int

	// Retry is the namespace for the client's redial behaviour when a
	// connection dies
	Retry struct {
		// The total number of times to retry a command on a fresh
		// connection before giving up (default 3).
		Max int
		// How long to wait between redial attempts (default 250ms).
		Backoff time.Duration
		// Called to compute backoff time dynamically. Useful for
		// implementing more sophisticated backoff strategies. This takes
		// precedence over Backoff if set.
		BackoffFunc func(retries, maxRetries int) time.Duration
	}

	// Compression is the namespace for transparent value compression on
	// Set/Get
	Compression struct {
		// The type of compression to apply to values (defaults to no
		// compression).
		Codec CompressionCodec
		// The level of compression to use on values. The default is
		// CompressionLevelDefault.
		Level int
		// Values shorter than Threshold bytes are stored uncompressed even
		// when a codec is configured (default 64).
		Threshold int
	}

	// Pool is the buffer pool backing the pooled-byte decode operations
	// (GetBytes, MGetBytes). Defaults to DefaultBufferPool.
	Pool BufferPool

	// ChannelBufferSize is the number of events to buffer in internal and
	// external channels of the async client (default 256).
	ChannelBufferSize int

	// MetricRegistry defines the metrics registry where the per-connection
	// meters and histograms are registered (defaults to a local registry).
	MetricRegistry metrics.Registry
}

// NewConfig returns a new configuration instance with sane defaults.
func NewConfig() *Config {
	c := &Config{}

	c.Net.DialTimeout = 30 * time.Second
	c.Net.ReadTimeout = 30 * time.Second
	c.Net.WriteTimeout = 30 * time.Second

	c.ClientName = defaultClientName
	c.MaxPipelined = 16

	c.Retry.Max = 3
	c.Retry.Backoff = 250 * time.Millisecond

	c.Compression.Codec = CompressionNone
	c.Compression.Level = CompressionLevelDefault
	c.Compression.Threshold = 64

	c.Pool = DefaultBufferPool
	c.ChannelBufferSize = 256
	c.MetricRegistry = metrics.NewRegistry()

	return c
}

// Validate checks a Config instance. It will return a ConfigurationError if
// the specified values don't make sense.
func (c *Config) Validate() error {
	// some configuration values should be warned on but not fail completely, do those first
	if !c.Net.TLS.Enable && c.Net.TLS.Config != nil {
		Logger.Println("Net.TLS is disabled but a non-nil configuration was provided.")
	}
	if !c.Auth.Enable && (c.Auth.Username != "" || c.Auth.Password != "") {
		Logger.Println("Auth is disabled but credentials were provided.")
	}

	// validate Net values
	switch {
	case c.Net.DialTimeout <= 0:
		return ConfigurationError("Net.DialTimeout must be > 0")
	case c.Net.ReadTimeout <= 0:
		return ConfigurationError("Net.ReadTimeout must be > 0")
	case c.Net.WriteTimeout <= 0:
		return ConfigurationError("Net.WriteTimeout must be > 0")
	case c.Net.KeepAlive < 0:
		return ConfigurationError("Net.KeepAlive must be >= 0")
	case c.Net.Proxy.Enable && c.Net.Proxy.Dialer == nil:
		return ConfigurationError("Net.Proxy.Enable is true but Dialer is nil")
	}

	// validate Auth values
	if c.Auth.Enable && c.Auth.Password == "" {
		return ConfigurationError("Auth.Password must not be empty when Auth is enabled")
	}

	// validate Retry values
	switch {
	case c.Retry.Max < 0:
		return ConfigurationError("Retry.Max must be >= 0")
	case c.Retry.Backoff < 0:
		return ConfigurationError("Retry.Backoff must be >= 0")
	}

	// validate Compression values
	switch {
	case c.Compression.Codec < CompressionNone || c.Compression.Codec > CompressionZSTD:
		return ConfigurationError("Compression.Codec is invalid")
	case c.Compression.Threshold < 0:
		return ConfigurationError("Compression.Threshold must be >= 0")
	}
	if c.Compression.Codec == CompressionGZIP && c.Compression.Level != CompressionLevelDefault {
		if _, err := gzip.NewWriterLevel(nil, c.Compression.Level); err != nil {
			return ConfigurationError(fmt.Sprintf("gzip compression does not work with level %d: %v", c.Compression.Level, err))
		}
	}

	// validate misc shared values
	switch {
	case c.DB < 0:
		return ConfigurationError("DB must be >= 0")
	case c.MaxPipelined < 1:
		return ConfigurationError("MaxPipelined must be >= 1")
	case c.ChannelBufferSize < 0:
		return ConfigurationError("ChannelBufferSize must be >= 0")
	case c.Pool == nil:
		return ConfigurationError("Pool must not be nil")
	}

	return nil
}

// getDialer builds the dialer respecting the proxy configuration.
func (c *Config) getDialer() proxy.Dialer {
	if c.Net.Proxy.Enable {
		Logger.Println("using proxy")
		return c.Net.Proxy.Dialer
	}
	return &net.Dialer{
		Timeout:   c.Net.DialTimeout,
		KeepAlive: c.Net.KeepAlive,
		LocalAddr: c.Net.LocalAddr,
	}
}
