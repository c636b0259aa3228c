package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/tuyalocal/internal/capture"
	"github.com/muurk/tuyalocal/internal/config"
	"github.com/muurk/tuyalocal/internal/conn"
	"github.com/muurk/tuyalocal/internal/device"
	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/metrics"
	"github.com/muurk/tuyalocal/internal/protocol"
)

const defaultVersion = "3.3"

// target is a fully resolved device: registry entry merged with flags.
type target struct {
	name   string // registry name, empty for ad hoc devices
	device config.Device
	key    []byte
}

// label names the target in output.
func (t *target) label() string {
	if t.name != "" {
		return t.name
	}
	return t.device.ID
}

// resolveTarget merges the registry entry named by --device with the
// connection flags and resolves the local key.
func resolveTarget() (*target, error) {
	t, err := targetFromFlags()
	if err != nil {
		return nil, err
	}

	key, source, err := config.ResolveKey(keyFlag, &t.device, config.TerminalPrompter{})
	if err != nil {
		return nil, err
	}
	logging.Debug("Resolved local key", zap.String("source", string(source)))
	t.key = key
	return t, nil
}

func targetFromFlags() (*target, error) {
	t := &target{name: deviceName}

	if deviceName != "" {
		reg, err := config.LoadRegistry()
		if err != nil {
			return nil, err
		}
		stored := reg.GetDevice(deviceName)
		if stored == nil {
			return nil, fmt.Errorf("no device named %q in the registry (see 'tuyactl devices list')", deviceName)
		}
		t.device = *stored
	}

	if hostFlag != "" {
		t.device.Host = hostFlag
	}
	if portFlag != 0 {
		t.device.Port = portFlag
	}
	if idFlag != "" {
		t.device.ID = idFlag
	}
	if gatewayFlag != "" {
		t.device.GatewayID = gatewayFlag
	}
	if versionFlag != "" {
		t.device.Version = versionFlag
	}
	if t.device.Version == "" {
		t.device.Version = defaultVersion
	}
	if timeoutFlag != 0 {
		t.device.ResponseTimeout = timeoutFlag
	}

	if err := t.device.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// session is an open connection plus the stack around it.
type session struct {
	target   *target
	conn     *conn.Conn
	device   *device.Device
	registry *prometheus.Registry
	capture  *capture.Store
}

// openSession builds the connection for t. Heartbeats are off unless
// keepAlive is set, since one-shot commands finish well within the interval.
func openSession(t *target, keepAlive bool) (*session, error) {
	opts, err := t.device.Options(t.key)
	if err != nil {
		return nil, err
	}
	if !keepAlive {
		opts.HeartbeatInterval = -1
	}

	s := &session{target: t, registry: prometheus.NewRegistry()}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts.Metrics = metrics.New(s.registry)

	if path := captureFile(); path != "" {
		store, err := capture.Open(path, t.label())
		if err != nil {
			return nil, err
		}
		s.capture = store
		opts.Recorder = store
	}

	c, err := conn.New(opts)
	if err != nil {
		return nil, multierr.Append(err, s.closeCapture())
	}
	s.conn = c
	s.device = device.New(c)
	return s, nil
}

func captureFile() string {
	if capturePath != "" {
		return capturePath
	}
	if reg, err := config.LoadRegistry(); err == nil && reg.Preferences != nil {
		return reg.Preferences.CapturePath
	}
	return ""
}

func (s *session) closeCapture() error {
	if s.capture == nil {
		return nil
	}
	return s.capture.Close()
}

// Close disconnects and closes the capture store.
func (s *session) Close() error {
	var err error
	if s.conn != nil {
		err = s.conn.Disconnect()
	}
	return multierr.Append(err, s.closeCapture())
}

// connect makes a single connection attempt.
func (s *session) connect(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}
	s.seen()
	return nil
}

// connectWithRetry reconnects with exponential backoff until ctx ends or the
// error is not worth retrying. notify runs before each wait.
func (s *session) connectWithRetry(ctx context.Context, notify func(err error, wait time.Duration)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		err := s.conn.Connect(ctx)
		if err != nil && ctx.Err() == nil && !protocol.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return err
	}
	s.seen()
	return nil
}

// seen stamps LastSeen on the registry entry.
func (s *session) seen() {
	if s.target.name == "" {
		return
	}
	reg, err := config.LoadRegistry()
	if err != nil || reg.GetDevice(s.target.name) == nil {
		return
	}
	reg.UpdateDeviceLastSeen(s.target.name)
	if err := reg.Save(); err != nil {
		logging.Warn("Failed to update registry", zap.Error(err))
	}
}

// withSession resolves the target, connects once and runs fn.
func withSession(ctx context.Context, fn func(ctx context.Context, s *session) error) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}
	s, err := openSession(t, false)
	if err != nil {
		return err
	}

	cerr := s.connect(ctx)
	if cerr == nil {
		cerr = fn(ctx, s)
	}
	return multierr.Append(cerr, s.Close())
}
