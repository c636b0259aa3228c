package conn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/protocol"
)

// pingCall is one heartbeat on the wire. done closes once err is set.
type pingCall struct {
	done chan struct{}
	err  error
}

func (c *Conn) heartbeat(l *link) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.closing:
			return
		case <-ticker.C:
			c.beat(l)
		}
	}
}

// startPing sends a heartbeat on l unless one is outstanding, in which case
// it returns that one and false. A link never has two heartbeats in flight.
// onDone runs with the result of a ping this call started.
func (c *Conn) startPing(l *link, onDone func(error)) (*pingCall, bool) {
	l.pingMu.Lock()
	defer l.pingMu.Unlock()
	if l.ping != nil {
		return l.ping, false
	}

	call := &pingCall{done: make(chan struct{})}
	l.ping = call
	go func() {
		err := c.ping(context.Background(), l)

		l.pingMu.Lock()
		l.ping = nil
		l.pingMu.Unlock()
		call.err = err
		close(call.done)

		if onDone != nil {
			onDone(err)
		}
	}()
	return call, true
}

// beat starts a ping unless the previous one is still outstanding, in which
// case the tick is dropped. It reports whether a ping was started.
func (c *Conn) beat(l *link) bool {
	_, started := c.startPing(l, func(err error) {
		if err != nil {
			c.heartbeatFailed(l, err)
			return
		}
		c.opts.Metrics.Heartbeat("ok")
	})
	if !started {
		c.opts.Metrics.Heartbeat("skipped")
		logging.Debug("Heartbeat skipped, ping still outstanding", zap.String("remote_addr", c.addr))
	}
	return started
}

func (c *Conn) heartbeatFailed(l *link, err error) {
	select {
	case <-l.closing:
		return
	default:
	}

	c.opts.Metrics.Heartbeat("failed")
	logging.Warn("Heartbeat failed, disconnecting", zap.String("remote_addr", c.addr), zap.Error(err))
	if _, ok := protocol.TypeOf(err); !ok {
		err = protocol.NewTimeoutError("heartbeat: %v", err)
	}
	_ = c.teardown(l, err)
}
