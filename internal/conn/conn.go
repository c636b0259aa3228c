package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/protocol"
)

const tracerName = "github.com/muurk/tuyalocal/internal/conn"

// readBufferSize is the size of a single socket read.
const readBufferSize = 4096

// Session is the cipher state of a connection. It is replaced as a whole,
// never modified, when the handshake installs a session key.
type Session struct {
	Key   []byte
	Codec protocol.Codec
}

// ConnectHook runs after the socket opens and before the connection becomes
// ready. An error aborts Connect.
type ConnectHook func(ctx context.Context, x Exchanger) error

// Exchanger is the view of a connection given to a ConnectHook. Its calls
// work before the connection is ready.
type Exchanger interface {
	Send(ctx context.Context, cmd protocol.Command, payload any) (uint32, error)
	Request(ctx context.Context, cmd protocol.Command, payload any, opts ...RequestOption) (protocol.Packet, error)
	// SendRekeyed writes cmd under the current session and installs next
	// before the frame reaches the wire, so every reply is decoded under next.
	SendRekeyed(ctx context.Context, cmd protocol.Command, payload any, next *Session) (uint32, error)
	Session() *Session
	// SetSequence sets the last used sequence number; the next frame uses n+1.
	SetSequence(n uint32)
}

// Conn is a client connection to one device.
type Conn struct {
	opts   Options
	addr   string
	id     string
	base   protocol.Codec
	hook   ConnectHook
	tracer trace.Tracer
	state  *stateMachine

	session atomic.Pointer[Session]

	mu      sync.Mutex
	attempt *connectAttempt
	link    *link
	packets *Stream[protocol.Packet]
	states  *Stream[bool]

	writeMu sync.Mutex
	seq     uint32 // last sequence number written; guarded by writeMu
}

// link is one TCP connection. Goroutines started for a link only ever tear
// down that link, never a newer one.
type link struct {
	nc          net.Conn
	packets     *Stream[protocol.Packet]
	states      *Stream[bool]
	closing     chan struct{}
	once        sync.Once
	torn        bool // guarded by Conn.mu
	intentional atomic.Bool

	pingMu sync.Mutex
	ping   *pingCall // outstanding heartbeat, nil when idle
}

type connectAttempt struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// New validates opts and returns a disconnected Conn. It performs no I/O.
func New(opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	if len(opts.Key) != 16 {
		return nil, protocol.NewConfigError(protocol.ErrInvalidKey, "got %d bytes", len(opts.Key))
	}
	if _, err := protocol.ParseVersion(string(opts.Version)); err != nil {
		return nil, err
	}
	if opts.Host == "" {
		return nil, protocol.NewConfigError(nil, "host is required")
	}

	codec, err := protocol.NewCodec(opts.Version, opts.Key)
	if err != nil {
		return nil, err
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	c := &Conn{
		opts:    opts,
		addr:    addr,
		id:      uuid.NewString(),
		base:    codec,
		tracer:  tracer,
		state:   newStateMachine(addr),
		packets: NewStream[protocol.Packet](opts.Metrics.EventDropped),
		states:  NewStream[bool](opts.Metrics.EventDropped),
	}
	if opts.Version.NeedsHandshake() {
		c.hook = c.negotiateSessionKey
	}
	c.session.Store(&Session{Key: opts.Key, Codec: codec})
	return c, nil
}

// ID is a random identifier for this client, used to tag captures.
func (c *Conn) ID() string { return c.id }

// Addr is the device's host:port.
func (c *Conn) Addr() string { return c.addr }

// Options returns the effective options, defaults applied.
func (c *Conn) Options() Options { return c.opts }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.current()
}

// Packets returns the packet stream of the current or most recent
// connection. Every Connect after a disconnect starts a fresh stream.
func (c *Conn) Packets() *Stream[protocol.Packet] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packets
}

// States returns the connection state stream: true when the connection
// becomes ready, false when it goes down.
func (c *Conn) States() *Stream[bool] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states
}

// Connect opens the connection and waits until it is ready. Concurrent calls
// share one attempt; calling it on a ready connection does nothing. ctx only
// bounds the wait: an abandoned attempt carries on until it completes or
// Disconnect is called.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.current() == StateReady {
		c.mu.Unlock()
		return nil
	}
	a := c.attempt
	if a == nil {
		actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a = &connectAttempt{done: make(chan struct{}), cancel: cancel}
		c.attempt = a

		if c.packets.Closed() {
			c.packets = NewStream[protocol.Packet](c.opts.Metrics.EventDropped)
		}
		if c.states.Closed() {
			c.states = NewStream[bool](c.opts.Metrics.EventDropped)
		}
		l := &link{packets: c.packets, states: c.states, closing: make(chan struct{})}
		c.link = l

		go c.establish(actx, a, l)
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) establish(ctx context.Context, a *connectAttempt, l *link) {
	ctx, span := c.tracer.Start(ctx, "tuya.connect", trace.WithAttributes(
		attribute.String("tuya.addr", c.addr),
		attribute.String("tuya.version", string(c.opts.Version)),
	))

	err := c.open(ctx, l)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.Warn("Connect failed", zap.String("remote_addr", c.addr), zap.Error(err))
		_ = c.teardown(l, err)
	}
	span.End()

	c.mu.Lock()
	if c.attempt == a {
		c.attempt = nil
	}
	c.mu.Unlock()

	a.cancel()
	a.err = err
	close(a.done)
}

func (c *Conn) open(ctx context.Context, l *link) error {
	c.mu.Lock()
	err := c.state.fire(ctx, eventDial)
	c.mu.Unlock()
	if err != nil {
		return protocol.NewConfigError(err, "cannot connect from state %s", c.State())
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	nc, err := c.opts.Dialer.DialContext(dialCtx, "tcp", c.addr)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return protocol.NewClosedError(c.addr)
		}
		return protocol.ClassifyNetworkError(err, c.addr)
	}

	c.mu.Lock()
	if l.torn {
		c.mu.Unlock()
		_ = nc.Close()
		return protocol.NewClosedError(c.addr)
	}
	l.nc = nc
	c.mu.Unlock()

	logging.LogConnection(c.addr, "connected")

	c.session.Store(&Session{Key: c.opts.Key, Codec: c.base})
	c.writeMu.Lock()
	c.seq = 0
	c.writeMu.Unlock()

	go c.readLoop(l)

	if c.hook != nil {
		c.mu.Lock()
		err := c.state.fire(ctx, eventHandshake)
		c.mu.Unlock()
		if err != nil {
			return protocol.NewClosedError(c.addr)
		}
		if err := c.hook(ctx, linkExchanger{c: c, l: l}); err != nil {
			if l.intentional.Load() {
				return protocol.NewClosedError(c.addr)
			}
			return err
		}
	}

	c.mu.Lock()
	if l.torn {
		c.mu.Unlock()
		return protocol.NewClosedError(c.addr)
	}
	err = c.state.fire(ctx, eventReady)
	c.mu.Unlock()
	if err != nil {
		return protocol.NewClosedError(c.addr)
	}

	c.opts.Metrics.ConnectionReady(true)
	logging.LogConnection(c.addr, "ready")

	if c.opts.HeartbeatInterval > 0 {
		go c.heartbeat(l)
	}
	l.states.Publish(true)
	return nil
}

// Disconnect closes the connection, cancels any Connect in progress and ends
// both streams. It is idempotent.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	l, a := c.link, c.attempt
	packets, states := c.packets, c.states
	c.mu.Unlock()

	if l == nil {
		// Never connected, or the last link is already gone. Streams handed
		// out since then still end here.
		if !states.Closed() {
			states.Publish(false)
		}
		cause := protocol.NewClosedError(c.addr)
		states.Close(cause)
		packets.Close(cause)
		if a != nil {
			a.cancel()
		}
		return nil
	}
	l.intentional.Store(true)
	err := c.teardown(l, protocol.NewClosedError(c.addr))
	if a != nil {
		a.cancel()
	}
	return err
}

// teardown closes l once. Pending requests on l fail with cause.
func (c *Conn) teardown(l *link, cause error) error {
	var err error
	l.once.Do(func() {
		close(l.closing)

		c.mu.Lock()
		l.torn = true
		nc := l.nc
		wasReady := false
		if c.link == l {
			st := c.state.current()
			wasReady = st == StateReady
			if st != StateDisconnected {
				err = multierr.Append(err, c.state.fire(context.Background(), eventDrop))
			}
			c.link = nil
		}
		c.mu.Unlock()

		if wasReady {
			c.opts.Metrics.ConnectionReady(false)
		}
		if nc != nil {
			if cerr := nc.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}

		l.states.Publish(false)
		l.states.Close(cause)
		l.packets.Close(cause)

		if l.intentional.Load() {
			logging.LogConnection(c.addr, "disconnected")
		} else {
			logging.Warn("Connection dropped", zap.String("remote_addr", c.addr), zap.Error(cause))
		}
	})
	return err
}

// readyLink returns the current link if the connection is ready.
func (c *Conn) readyLink() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.state.current(); st != StateReady {
		return nil, protocol.NewConfigError(protocol.ErrNotReady, "state is %s", st)
	}
	return c.link, nil
}

// Send writes cmd without waiting for a reply and returns the sequence number
// used. The connection must be ready.
func (c *Conn) Send(ctx context.Context, cmd protocol.Command, payload any) (uint32, error) {
	l, err := c.readyLink()
	if err != nil {
		return 0, err
	}
	seq, _, err := c.write(ctx, l, cmd, payload, nil, nil)
	return seq, err
}

// SendWithResponse writes cmd and waits for the first packet carrying the
// same sequence number, or the command set with WithResponseCommand. A
// timeout fails only this call.
func (c *Conn) SendWithResponse(ctx context.Context, cmd protocol.Command, payload any, opts ...RequestOption) (protocol.Packet, error) {
	l, err := c.readyLink()
	if err != nil {
		return protocol.Packet{}, err
	}
	return c.request(ctx, l, cmd, payload, opts...)
}

// SendPing reports whether the device answers a heartbeat. When a heartbeat
// is already outstanding it waits for that one instead of sending another.
func (c *Conn) SendPing(ctx context.Context) bool {
	l, err := c.readyLink()
	if err != nil {
		return false
	}
	call, _ := c.startPing(l, nil)
	select {
	case <-call.done:
		return call.err == nil
	case <-ctx.Done():
		return false
	}
}

// ping sends one HEART_BEAT and waits for the echo with the same sequence.
func (c *Conn) ping(ctx context.Context, l *link) error {
	_, err := c.request(ctx, l, protocol.CmdHeartBeat, nil)
	return err
}

func (c *Conn) request(ctx context.Context, l *link, cmd protocol.Command, payload any, opts ...RequestOption) (protocol.Packet, error) {
	cfg := requestConfig{timeout: c.opts.ResponseTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := c.tracer.Start(ctx, "tuya.request", trace.WithAttributes(
		attribute.String("tuya.command", cmd.String()),
	))
	defer span.End()

	start := time.Now()
	seq, w, err := c.write(ctx, l, cmd, payload, func(seq uint32) func(protocol.Packet) bool {
		return func(p protocol.Packet) bool {
			return p.Sequence == seq || (cfg.hasResponse && p.Command == cfg.response)
		}
	}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return protocol.Packet{}, err
	}
	span.SetAttributes(attribute.Int64("tuya.seq", int64(seq)))

	wctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	pkt, err := w.Wait(wctx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = protocol.NewTimeoutError("no reply to %s seq %d within %s", cmd, seq, cfg.timeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return protocol.Packet{}, err
	}

	c.opts.Metrics.ObserveRequest(cmd.String(), time.Since(start))
	return pkt, nil
}

// write encodes and writes one frame. When expect is set, the waiter it
// builds is registered before the frame is written so a fast reply cannot be
// missed. When next is set, the frame is encoded under the current session
// and next is installed before the write.
func (c *Conn) write(ctx context.Context, l *link, cmd protocol.Command, payload any, expect func(seq uint32) func(protocol.Packet) bool, next *Session) (uint32, *Waiter[protocol.Packet], error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	nc, torn := l.nc, l.torn
	c.mu.Unlock()
	if torn || nc == nil {
		if err := l.packets.Err(); err != nil {
			return 0, nil, err
		}
		return 0, nil, protocol.NewClosedError(c.addr)
	}

	seq := c.seq + 1
	frame, err := c.session.Load().Codec.Encode(protocol.Message{Command: cmd, Sequence: seq, Payload: payload})
	if err != nil {
		return 0, nil, err
	}

	var w *Waiter[protocol.Packet]
	if expect != nil {
		if w, err = l.packets.Expect(expect(seq)); err != nil {
			return 0, nil, err
		}
	}
	if next != nil {
		c.session.Store(next)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.ConnectTimeout)
	}
	_ = nc.SetWriteDeadline(deadline)

	if _, err := nc.Write(frame); err != nil {
		w.Cancel()
		terr := protocol.ClassifyNetworkError(err, c.addr)
		_ = c.teardown(l, terr)
		return 0, nil, terr
	}
	c.seq = seq

	c.opts.Metrics.FrameSent(cmd.String())
	logging.LogFrame(c.addr, "send", cmd.String(), seq, frame)
	if c.opts.Recorder != nil {
		raw, _ := protocol.NormalizePayload(payload)
		c.record("send", protocol.Packet{Command: cmd, Sequence: seq, Payload: protocol.Payload{Raw: raw}})
	}
	return seq, w, nil
}

func (c *Conn) readLoop(l *link) {
	buf := make([]byte, readBufferSize)
	var pending []byte

	for {
		n, err := l.nc.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)

			packets, rest, derr := c.session.Load().Codec.DecodeFrames(pending)
			for _, p := range packets {
				c.opts.Metrics.FrameReceived(p.Command.String())
				logging.Debug("Packet received", zap.String("remote_addr", c.addr), zap.Stringer("packet", p))
				c.record("recv", p)
				l.packets.Publish(p)
			}
			if derr != nil {
				c.decodeFailed(l, derr)
				return
			}
			if len(rest) > protocol.MaxFrameSize {
				c.decodeFailed(l, protocol.NewMalformedError(protocol.ErrLengthMismatch, "%d buffered bytes without a complete frame", len(rest)))
				return
			}
			pending = append([]byte(nil), rest...)
		}
		if err != nil {
			select {
			case <-l.closing:
			default:
				_ = c.teardown(l, protocol.ClassifyNetworkError(err, c.addr))
			}
			return
		}
	}
}

func (c *Conn) decodeFailed(l *link, err error) {
	typ, _ := protocol.TypeOf(err)
	c.opts.Metrics.DecodeError(typ.String())
	logging.Warn("Dropping connection after undecodable frame",
		zap.String("remote_addr", c.addr),
		zap.Error(err),
	)
	_ = c.teardown(l, err)
}

func (c *Conn) record(direction string, p protocol.Packet) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.Record(c.id, direction, p); err != nil {
		logging.Warn("Capture failed", zap.Error(err))
	}
}

// linkExchanger binds hook calls to the link being established.
type linkExchanger struct {
	c *Conn
	l *link
}

func (x linkExchanger) Send(ctx context.Context, cmd protocol.Command, payload any) (uint32, error) {
	seq, _, err := x.c.write(ctx, x.l, cmd, payload, nil, nil)
	return seq, err
}

func (x linkExchanger) SendRekeyed(ctx context.Context, cmd protocol.Command, payload any, next *Session) (uint32, error) {
	seq, _, err := x.c.write(ctx, x.l, cmd, payload, nil, next)
	return seq, err
}

func (x linkExchanger) Request(ctx context.Context, cmd protocol.Command, payload any, opts ...RequestOption) (protocol.Packet, error) {
	return x.c.request(ctx, x.l, cmd, payload, opts...)
}

func (x linkExchanger) Session() *Session {
	return x.c.session.Load()
}

func (x linkExchanger) SetSequence(n uint32) {
	x.c.writeMu.Lock()
	x.c.seq = n
	x.c.writeMu.Unlock()
}

// String helps when logging a connection.
func (c *Conn) String() string {
	return fmt.Sprintf("Conn{%s v%s %s}", c.addr, c.opts.Version, c.State())
}
