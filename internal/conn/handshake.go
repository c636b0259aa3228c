package conn

import (
	"context"
	"crypto/rand"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/muurk/tuyalocal/internal/crypto"
	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/protocol"
)

// negotiationReplySize is remote nonce plus HMAC(local nonce).
const negotiationReplySize = crypto.NonceLen + crypto.HMACSize

var randRead = rand.Read

// negotiateSessionKey is the 3.4/3.5 connect hook. It exchanges nonces under
// the static key, checks the device's proof, answers with its own and
// installs the derived session key in one step.
func (c *Conn) negotiateSessionKey(ctx context.Context, x Exchanger) (err error) {
	ctx, span := c.tracer.Start(ctx, "tuya.handshake")
	defer func() {
		c.opts.Metrics.Handshake(err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	sess := x.Session()

	local := make([]byte, crypto.NonceLen)
	if _, err := randRead(local); err != nil {
		return protocol.WrapHandshakeError(err, "generating local nonce")
	}

	resp, err := x.Request(ctx, protocol.CmdSessKeyNegStart, local,
		WithResponseCommand(protocol.CmdSessKeyNegResp))
	if err != nil {
		return protocol.WrapHandshakeError(err, "awaiting %s", protocol.CmdSessKeyNegResp)
	}
	if resp.Command != protocol.CmdSessKeyNegResp {
		return protocol.NewHandshakeError("device answered %s with %s", protocol.CmdSessKeyNegStart, resp.Command)
	}

	raw := resp.Payload.Raw
	if len(raw) < negotiationReplySize {
		return protocol.NewHandshakeError("%s payload is %d bytes, want %d", resp.Command, len(raw), negotiationReplySize)
	}
	remote := raw[:crypto.NonceLen]
	proof := raw[crypto.NonceLen:negotiationReplySize]

	if !crypto.VerifyHMAC(sess.Key, local, proof) {
		return protocol.NewHandshakeError("device proof of local nonce does not verify")
	}

	// The device expects the sequence to continue from its own counter.
	if resp.Sequence > 0 {
		x.SetSequence(resp.Sequence - 1)
	}

	key, err := crypto.DeriveSessionKey(sess.Key, local, remote)
	if err != nil {
		return protocol.WrapHandshakeError(err, "deriving session key")
	}
	codec, err := sess.Codec.Rekey(key)
	if err != nil {
		return protocol.WrapHandshakeError(err, "installing session key")
	}

	// FINISH goes out under the static key; the device answers under the
	// session key, so the swap happens before the frame is written.
	next := &Session{Key: key, Codec: codec}
	if _, err := x.SendRekeyed(ctx, protocol.CmdSessKeyNegFinish, crypto.HMAC(sess.Key, remote), next); err != nil {
		return protocol.WrapHandshakeError(err, "sending %s", protocol.CmdSessKeyNegFinish)
	}

	logging.Debug("Session key negotiated", zap.String("remote_addr", c.addr))
	return nil
}
