// Package device offers data point level calls on top of a connection,
// choosing the command set and payload shape for the connection's version.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/muurk/tuyalocal/internal/conn"
	"github.com/muurk/tuyalocal/internal/protocol"
)

var (
	// ErrNoDPS is returned when a response lacks a "dps" object.
	ErrNoDPS = errors.New("response carries no dps object")
	// ErrRejected is returned when the device answers with a non-zero return code.
	ErrRejected = errors.New("device rejected the request")
)

// controlProtocol is the "protocol" field of CONTROL_NEW envelopes.
const controlProtocol = 5

// Device wraps a connection to one device.
type Device struct {
	conn *conn.Conn
	now  func() time.Time
}

// New returns a Device using c. c may be connected later.
func New(c *conn.Conn) *Device {
	return &Device{conn: c, now: time.Now}
}

// Conn returns the underlying connection.
func (d *Device) Conn() *conn.Conn {
	return d.conn
}

func (d *Device) newCommands() bool {
	return d.conn.Options().Version.NeedsHandshake()
}

// DPS queries the device for its current data points.
func (d *Device) DPS(ctx context.Context) (map[string]any, error) {
	o := d.conn.Options()
	cmd := protocol.CmdDPQuery
	if d.newCommands() {
		cmd = protocol.CmdDPQueryNew
	}

	resp, err := d.conn.SendWithResponse(ctx, cmd, map[string]any{
		"gwId":  o.GatewayID,
		"devId": o.DeviceID,
		"t":     d.now().Unix(),
		"dps":   map[string]any{},
		"uid":   o.DeviceID,
	})
	if err != nil {
		return nil, err
	}
	return dpsOf(resp)
}

// Set writes data points and waits for the device to acknowledge.
func (d *Device) Set(ctx context.Context, dps map[string]any) error {
	if len(dps) == 0 {
		return protocol.NewConfigError(nil, "no data points to set")
	}

	o := d.conn.Options()
	t := d.now().Unix()

	cmd := protocol.CmdControl
	payload := map[string]any{
		"devId": o.DeviceID,
		"uid":   o.DeviceID,
		"t":     t,
		"dps":   dps,
	}
	if d.newCommands() {
		cmd = protocol.CmdControlNew
		payload = map[string]any{
			"protocol": controlProtocol,
			"t":        t,
			"data":     map[string]any{"dps": dps},
		}
	}

	resp, err := d.conn.SendWithResponse(ctx, cmd, payload)
	if err != nil {
		return err
	}
	return checkReturnCode(resp)
}

// Refresh asks the device to re-read the given data points and returns the
// values it reports.
func (d *Device) Refresh(ctx context.Context, ids []int) (map[string]any, error) {
	if len(ids) == 0 {
		return nil, protocol.NewConfigError(nil, "no data point ids to refresh")
	}
	resp, err := d.conn.SendWithResponse(ctx, protocol.CmdDPRefresh, map[string]any{"dpId": ids})
	if err != nil {
		return nil, err
	}
	return dpsOf(resp)
}

func dpsOf(resp protocol.Packet) (map[string]any, error) {
	if err := checkReturnCode(resp); err != nil {
		return nil, err
	}
	dps, ok := resp.Payload.DPS()
	if !ok {
		return nil, fmt.Errorf("%s: %w", resp.Command, ErrNoDPS)
	}
	return dps, nil
}

func checkReturnCode(resp protocol.Packet) error {
	if resp.HasReturnCode && resp.ReturnCode != 0 {
		return fmt.Errorf("%s returned %d: %w", resp.Command, resp.ReturnCode, ErrRejected)
	}
	return nil
}

// ParseAssignments turns ID=VALUE arguments into a dps map. Values that
// parse as JSON keep their type; anything else is a string.
func ParseAssignments(args []string) (map[string]any, error) {
	dps := make(map[string]any, len(args))
	for _, arg := range args {
		id, raw, ok := strings.Cut(arg, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid assignment %q (want ID=VALUE)", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		dps[id] = v
	}
	return dps, nil
}
