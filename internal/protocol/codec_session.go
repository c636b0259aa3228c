package protocol

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/muurk/tuyalocal/internal/crypto"
)

// Commands sent without the 15-byte version header on 3.4/3.5.
var headerless34 = map[Command]bool{
	CmdDPQuery:          true,
	CmdHeartBeat:        true,
	CmdDPQueryNew:       true,
	CmdSessKeyNegStart:  true,
	CmdSessKeyNegFinish: true,
	CmdDPRefresh:        true,
}

// sessionCodec speaks 3.4 and 3.5. Both accept 55AA frames (ECB body, HMAC
// trailer) and 6699 frames (GCM body); 3.4 emits the former, 3.5 the latter.
// Discovery commands always use 55AA with a CRC32 trailer and no encryption.
type sessionCodec struct {
	version Version
	key     []byte
	ecb     *crypto.V34
	gcm     *crypto.V35
	nonce   func() ([]byte, error)
}

func newSessionCodec(version Version, key []byte) (*sessionCodec, error) {
	ecb, err := crypto.NewV34(key)
	if err != nil {
		return nil, NewConfigError(err, "cipher setup")
	}
	gcm, err := crypto.NewV35(key)
	if err != nil {
		return nil, NewConfigError(err, "cipher setup")
	}
	return &sessionCodec{
		version: version,
		key:     ecb.Key(),
		ecb:     ecb,
		gcm:     gcm,
		nonce:   randomNonce,
	}, nil
}

func randomNonce() ([]byte, error) {
	n := make([]byte, crypto.NonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (c *sessionCodec) Version() Version { return c.version }

func (c *sessionCodec) Rekey(key []byte) (Codec, error) {
	return NewCodec(c.version, key)
}

func (c *sessionCodec) Encode(msg Message) ([]byte, error) {
	payload, err := NormalizePayload(msg.Payload)
	if err != nil {
		return nil, err
	}

	if msg.Command.IsDiscovery() {
		return buildFrame55AA(msg.Command, msg.Sequence, withReturnCode(msg, payload), crcSize, crcTrailer), nil
	}

	if !headerless34[msg.Command] {
		payload = append(versionHeader(c.version), payload...)
	}

	if c.version == V35 {
		return c.encode6699(msg, payload)
	}

	ct, err := c.ecb.Encrypt(crypto.Pad(payload))
	if err != nil {
		return nil, NewCryptoError(err, "encrypting %s payload", msg.Command)
	}
	return buildFrame55AA(msg.Command, msg.Sequence, withReturnCode(msg, ct), crypto.HMACSize, c.ecb.HMAC), nil
}

// encode6699 builds a 3.5 frame:
//
//	00006699 | 0000 | seq | cmd | len | nonce(12) | ciphertext | tag(16) | 00009966
//
// where len covers nonce through tag and bytes 4..18 are authenticated.
func (c *sessionCodec) encode6699(msg Message, payload []byte) ([]byte, error) {
	plain := withReturnCode(msg, payload)

	nonce, err := c.nonce()
	if err != nil {
		return nil, NewCryptoError(err, "generating nonce")
	}

	header := make([]byte, headerSize6699)
	binary.BigEndian.PutUint32(header[0:], Prefix6699)
	binary.BigEndian.PutUint32(header[6:], msg.Sequence)
	binary.BigEndian.PutUint32(header[10:], uint32(msg.Command))
	binary.BigEndian.PutUint32(header[14:], uint32(crypto.NonceSize+len(plain)+crypto.TagSize))

	sealed, err := c.gcm.Encrypt(plain, crypto.SealOptions{Nonce: nonce, AAD: header[4:]})
	if err != nil {
		return nil, NewCryptoError(err, "encrypting %s payload", msg.Command)
	}

	frame := make([]byte, 0, len(header)+len(sealed)+magicSize)
	frame = append(frame, header...)
	frame = append(frame, sealed...)
	frame = append(frame, suffix6699Bytes...)
	return frame, nil
}

func (c *sessionCodec) DecodeFrames(buf []byte) ([]Packet, []byte, error) {
	return decodeFrames(buf, true, c.parse)
}

func (c *sessionCodec) verifyHMAC(covered, trailer []byte) error {
	if !crypto.VerifyHMAC(c.key, covered, trailer) {
		return NewIntegrityError(ErrHMACMismatch, "trailer does not match frame contents")
	}
	return nil
}

func (c *sessionCodec) parse(f rawFrame) (Packet, error) {
	cmd, err := f.command()
	if err != nil {
		return Packet{}, err
	}
	pkt := Packet{Command: cmd, Sequence: f.sequence}

	if f.layout == layout6699 {
		plain, err := c.gcm.Decrypt(f.data[4 : headerSize6699+f.declared])
		if err != nil {
			return Packet{}, NewIntegrityError(err, "GCM tag on %s frame", cmd)
		}
		pkt.ReturnCode, pkt.HasReturnCode, plain = splitReturnCode(plain)
		pkt.Payload = parsePayload(stripVersionHeader(plain))
		return pkt, nil
	}

	if cmd.IsDiscovery() {
		region, err := f.body55AA(crcSize, verifyCRC)
		if err != nil {
			return Packet{}, err
		}
		var body []byte
		pkt.ReturnCode, pkt.HasReturnCode, body = splitReturnCode(region)
		pkt.Payload = parsePayload(body)
		return pkt, nil
	}

	region, err := f.body55AA(crypto.HMACSize, c.verifyHMAC)
	if err != nil {
		return Packet{}, err
	}
	pkt.ReturnCode, pkt.HasReturnCode, region = splitReturnCode(region)
	if len(region) == 0 {
		pkt.Payload = parsePayload(region)
		return pkt, nil
	}

	plain, err := c.ecb.Decrypt(region)
	if err != nil {
		return Packet{}, cryptoFailure(err, cmd)
	}
	pkt.Payload = parsePayload(stripVersionHeader(plain))
	return pkt, nil
}
