package mockdevice

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"maps"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/protocol"
)

// Config holds the emulated device's identity and behaviour.
type Config struct {
	Addr      string // listen address, default 127.0.0.1:0
	DeviceID  string
	GatewayID string // defaults to DeviceID
	Key       []byte
	Version   protocol.Version
	DPS       map[string]any // initial data points

	// ClockSkew is how far a CONTROL timestamp may drift from the device's
	// clock. Default 10s.
	ClockSkew time.Duration
}

// Device is a TCP server speaking the device side of the protocol.
type Device struct {
	cfg      Config
	listener net.Listener
	wg       sync.WaitGroup

	mu            sync.Mutex
	activeConns   map[string]*session
	dps           map[string]any
	received      []protocol.Packet
	silentBeats   bool
	badProof      bool
	statusOnKey   bool
	replySeqShift uint32
}

// New validates cfg and returns a stopped device.
func New(cfg Config) (*Device, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.GatewayID == "" {
		cfg.GatewayID = cfg.DeviceID
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 10 * time.Second
	}
	if _, err := protocol.NewCodec(cfg.Version, cfg.Key); err != nil {
		return nil, err
	}

	dps := make(map[string]any, len(cfg.DPS))
	maps.Copy(dps, cfg.DPS)

	return &Device{
		cfg:         cfg,
		activeConns: make(map[string]*session),
		dps:         dps,
	}, nil
}

// Start begins listening and accepting connections in the background.
func (d *Device) Start() error {
	listener, err := net.Listen("tcp", d.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Addr, err)
	}
	d.listener = listener

	logging.Info("Mock device listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("version", string(d.cfg.Version)),
		zap.String("device_id", d.cfg.DeviceID),
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.acceptConnections()
	}()
	return nil
}

// Addr returns the listening address. Only valid after Start.
func (d *Device) Addr() *net.TCPAddr {
	return d.listener.Addr().(*net.TCPAddr)
}

func (d *Device) acceptConnections() {
	for {
		nc, err := d.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConnection(nc)
		}()
	}
}

func (d *Device) handleConnection(nc net.Conn) {
	remoteAddr := nc.RemoteAddr().String()

	s, err := newSession(d, nc)
	if err != nil {
		logging.Error("Session setup failed", zap.String("remote_addr", remoteAddr), zap.Error(err))
		_ = nc.Close()
		return
	}

	d.mu.Lock()
	d.activeConns[remoteAddr] = s
	d.mu.Unlock()

	defer func() {
		_ = nc.Close()
		d.mu.Lock()
		delete(d.activeConns, remoteAddr)
		d.mu.Unlock()
		logging.LogConnection(remoteAddr, "connection_closed")
	}()

	logging.LogConnection(remoteAddr, "connection_accepted")

	if err := s.serve(); err != nil {
		logging.Warn("Client session ended", zap.String("remote_addr", remoteAddr), zap.Error(err))
	}
}

// Shutdown stops accepting, closes every client connection and waits for
// the handlers to return.
func (d *Device) Shutdown(ctx context.Context) error {
	if d.listener != nil {
		if err := d.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}

	d.mu.Lock()
	for addr, s := range d.activeConns {
		logging.Debug("Closing active connection", zap.String("remote_addr", addr))
		_ = s.nc.Close()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveConnections returns the number of connected clients.
func (d *Device) ActiveConnections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.activeConns)
}

// DPS returns a copy of the current data points.
func (d *Device) DPS() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.dps)
}

// Received returns every packet decoded from clients, in arrival order.
func (d *Device) Received() []protocol.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Packet(nil), d.received...)
}

// ReceivedCommand counts the received packets carrying cmd.
func (d *Device) ReceivedCommand(cmd protocol.Command) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.received {
		if p.Command == cmd {
			n++
		}
	}
	return n
}

// SetHeartbeatReplies toggles answering HEART_BEAT.
func (d *Device) SetHeartbeatReplies(on bool) {
	d.mu.Lock()
	d.silentBeats = !on
	d.mu.Unlock()
}

// SetBadHandshakeProof makes the device answer SESS_KEY_NEG_START with an
// HMAC that does not verify.
func (d *Device) SetBadHandshakeProof(on bool) {
	d.mu.Lock()
	d.badProof = on
	d.mu.Unlock()
}

// SetStatusOnHandshake makes the device push STATUS under the session key
// as soon as it has verified SESS_KEY_NEG_FINISH.
func (d *Device) SetStatusOnHandshake(on bool) {
	d.mu.Lock()
	d.statusOnKey = on
	d.mu.Unlock()
}

// SetReplySequenceShift adds shift to the sequence number of handshake
// replies, like devices whose counter does not follow the request.
func (d *Device) SetReplySequenceShift(shift uint32) {
	d.mu.Lock()
	d.replySeqShift = shift
	d.mu.Unlock()
}

// SetDP changes a data point and pushes STATUS to every ready client.
func (d *Device) SetDP(id string, value any) {
	d.mu.Lock()
	d.dps[id] = value
	sessions := make([]*session, 0, len(d.activeConns))
	for _, s := range d.activeConns {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	for _, s := range sessions {
		if s.ready() {
			s.pushStatus(map[string]any{id: value})
		}
	}
}

// InjectRaw writes raw bytes to every connected client, bypassing the codec.
func (d *Device) InjectRaw(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.activeConns {
		s.writeMu.Lock()
		_, _ = s.nc.Write(b)
		s.writeMu.Unlock()
	}
}

func (d *Device) record(p protocol.Packet) {
	d.mu.Lock()
	d.received = append(d.received, p)
	d.mu.Unlock()
}

func (d *Device) applyDPS(dps map[string]any) {
	d.mu.Lock()
	maps.Copy(d.dps, dps)
	d.mu.Unlock()
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
