package conn

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/muurk/tuyalocal/internal/metrics"
	"github.com/muurk/tuyalocal/internal/protocol"
)

const (
	DefaultPort              = 6668
	DefaultConnectTimeout    = 5 * time.Second
	DefaultResponseTimeout   = time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

// Dialer opens the TCP connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Recorder receives every packet sent or decoded on a connection.
// Direction is "send" or "recv".
type Recorder interface {
	Record(connID, direction string, pkt protocol.Packet) error
}

// Options configures a Conn.
type Options struct {
	Host      string
	Port      int // default 6668
	DeviceID  string
	GatewayID string // defaults to DeviceID
	Key       []byte
	Version   protocol.Version

	ConnectTimeout  time.Duration // default 5s
	ResponseTimeout time.Duration // default 1s, per request override with WithTimeout
	// HeartbeatInterval defaults to 10s. A negative value disables the heartbeat.
	HeartbeatInterval time.Duration

	Dialer   Dialer
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.GatewayID == "" {
		o.GatewayID = o.DeviceID
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	return o
}

// RequestOption tunes a single SendWithResponse call.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout     time.Duration
	response    protocol.Command
	hasResponse bool
}

// WithResponseCommand also accepts a reply carrying cmd, whatever its
// sequence number.
func WithResponseCommand(cmd protocol.Command) RequestOption {
	return func(c *requestConfig) {
		c.response = cmd
		c.hasResponse = true
	}
}

// WithTimeout overrides the connection's response timeout for one request.
func WithTimeout(d time.Duration) RequestOption {
	return func(c *requestConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}
