package mockdevice

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/tuyalocal/internal/crypto"
	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/protocol"
)

// returnCodeRejected is sent when a CONTROL request fails validation.
const returnCodeRejected = 1

var now = time.Now

// session is one client connection. Frames are decoded one at a time because
// the key changes between SESS_KEY_NEG_FINISH and the next frame.
type session struct {
	d     *Device
	nc    net.Conn
	addr  string
	local []byte // client nonce
	nonce []byte // device nonce

	mu    sync.Mutex
	codec protocol.Codec
	keyed bool

	writeMu sync.Mutex
}

func newSession(d *Device, nc net.Conn) (*session, error) {
	codec, err := protocol.NewCodec(d.cfg.Version, d.cfg.Key)
	if err != nil {
		return nil, err
	}
	return &session{d: d, nc: nc, addr: nc.RemoteAddr().String(), codec: codec}, nil
}

func (s *session) serve() error {
	buf := make([]byte, 4096)
	var pending []byte

	for {
		n, err := s.nc.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			frames, rest, serr := protocol.SplitFrames(pending)
			for _, f := range frames {
				if err := s.handleFrame(f); err != nil {
					return err
				}
			}
			if serr != nil {
				return serr
			}
			pending = append([]byte(nil), rest...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (s *session) ready() bool {
	if !s.d.cfg.Version.NeedsHandshake() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyed
}

func (s *session) currentCodec() protocol.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

func (s *session) handleFrame(frame []byte) error {
	logging.LogFrame(s.addr, "recv", "", 0, frame)

	packets, err := protocol.Decode(s.currentCodec(), frame)
	if err != nil {
		return err
	}
	for _, p := range packets {
		s.d.record(p)
		if err := s.handle(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) handle(p protocol.Packet) error {
	switch p.Command {
	case protocol.CmdSessKeyNegStart:
		return s.negotiationStart(p)
	case protocol.CmdSessKeyNegFinish:
		return s.negotiationFinish(p)
	case protocol.CmdHeartBeat:
		s.d.mu.Lock()
		silent := s.d.silentBeats
		s.d.mu.Unlock()
		if silent {
			return nil
		}
		return s.reply(protocol.CmdHeartBeat, p.Sequence, nil, 0)
	case protocol.CmdDPQuery, protocol.CmdDPQueryNew:
		return s.reply(p.Command, p.Sequence, map[string]any{
			"devId": s.d.cfg.DeviceID,
			"gwId":  s.d.cfg.GatewayID,
			"t":     now().Unix(),
			"dps":   s.d.DPS(),
		}, 0)
	case protocol.CmdControl, protocol.CmdControlNew:
		return s.control(p)
	case protocol.CmdDPRefresh:
		return s.refresh(p)
	default:
		logging.Debug("Ignoring command", zap.String("remote_addr", s.addr), zap.Stringer("command", p.Command))
		return nil
	}
}

func (s *session) negotiationStart(p protocol.Packet) error {
	if !s.d.cfg.Version.NeedsHandshake() {
		return nil
	}
	if len(p.Payload.Raw) != crypto.NonceLen {
		return fmt.Errorf("client nonce is %d bytes", len(p.Payload.Raw))
	}

	nonce, err := randomBytes(crypto.NonceLen)
	if err != nil {
		return err
	}
	s.local = append([]byte(nil), p.Payload.Raw...)
	s.nonce = nonce

	proof := crypto.HMAC(s.d.cfg.Key, s.local)
	s.d.mu.Lock()
	if s.d.badProof {
		proof[0] ^= 0xFF
	}
	shift := s.d.replySeqShift
	s.d.mu.Unlock()

	payload := append(append([]byte{}, nonce...), proof...)
	return s.reply(protocol.CmdSessKeyNegResp, p.Sequence+shift, payload, 0)
}

func (s *session) negotiationFinish(p protocol.Packet) error {
	if s.nonce == nil {
		return errors.New("negotiation finish before start")
	}
	if !bytes.Equal(p.Payload.Raw, crypto.HMAC(s.d.cfg.Key, s.nonce)) {
		return errors.New("client proof of device nonce does not verify")
	}

	key, err := crypto.DeriveSessionKey(s.d.cfg.Key, s.local, s.nonce)
	if err != nil {
		return err
	}

	codec, err := s.currentCodec().Rekey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.codec = codec
	s.keyed = true
	s.mu.Unlock()
	logging.Debug("Session key installed", zap.String("remote_addr", s.addr))

	s.d.mu.Lock()
	push := s.d.statusOnKey
	s.d.mu.Unlock()
	if push {
		return s.pushStatus(s.d.DPS())
	}
	return nil
}

func (s *session) control(p protocol.Packet) error {
	dps, ok := p.Payload.DPS()
	if !ok {
		return s.reply(p.Command, p.Sequence, nil, returnCodeRejected)
	}
	if id, ok := p.Payload.Data["devId"].(string); ok && id != s.d.cfg.DeviceID {
		logging.Warn("CONTROL for another device", zap.String("dev_id", id))
		return s.reply(p.Command, p.Sequence, nil, returnCodeRejected)
	}
	if t, ok := timestamp(p.Payload.Data["t"]); ok {
		if skew := now().Sub(time.Unix(t, 0)); math.Abs(float64(skew)) > float64(s.d.cfg.ClockSkew) {
			logging.Warn("CONTROL timestamp out of range", zap.Duration("skew", skew))
			return s.reply(p.Command, p.Sequence, nil, returnCodeRejected)
		}
	}

	s.d.applyDPS(dps)
	if err := s.reply(p.Command, p.Sequence, nil, 0); err != nil {
		return err
	}
	return s.pushStatus(dps)
}

func (s *session) refresh(p protocol.Packet) error {
	all := s.d.DPS()
	dps := make(map[string]any)

	ids, _ := p.Payload.Data["dpId"].([]any)
	for _, v := range ids {
		var key string
		switch id := v.(type) {
		case float64:
			key = strconv.Itoa(int(id))
		case string:
			key = id
		}
		if val, ok := all[key]; ok {
			dps[key] = val
		}
	}
	return s.reply(protocol.CmdStatus, p.Sequence, s.statusBody(dps), 0)
}

// pushStatus sends an unsolicited STATUS with sequence number 0.
func (s *session) pushStatus(dps map[string]any) error {
	return s.reply(protocol.CmdStatus, 0, s.statusBody(dps), 0)
}

// statusBody wraps dps the way each family reports it. 3.4 and 3.5 devices
// nest it in a data envelope.
func (s *session) statusBody(dps map[string]any) map[string]any {
	t := now().Unix()
	if s.d.cfg.Version.NeedsHandshake() {
		return map[string]any{
			"protocol": 4,
			"t":        t,
			"data":     map[string]any{"dps": dps},
		}
	}
	return map[string]any{"devId": s.d.cfg.DeviceID, "t": t, "dps": dps}
}

func (s *session) reply(cmd protocol.Command, seq uint32, payload any, code uint32) error {
	frame, err := s.currentCodec().Encode(protocol.Message{
		Command:        cmd,
		Sequence:       seq,
		Payload:        payload,
		WithReturnCode: true,
		ReturnCode:     code,
	})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.nc.Write(frame); err != nil {
		return err
	}
	logging.LogFrame(s.addr, "send", cmd.String(), seq, frame)
	return nil
}

func timestamp(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
