package protocol

import (
	"bytes"

	"github.com/muurk/tuyalocal/internal/crypto"
)

// 3.1 prefix on encrypted bodies: version tag followed by a 16 character signature.
const v31SignedPrefix = 3 + 16

// legacyCodec speaks 3.1. Only CONTROL and STATUS bodies are encrypted; they
// travel as "3.1" + md5 signature + base64 ciphertext. Everything else is
// plain JSON.
type legacyCodec struct {
	cipher *crypto.Legacy
}

func newLegacyCodec(key []byte) (*legacyCodec, error) {
	c, err := crypto.NewLegacy(key)
	if err != nil {
		return nil, NewConfigError(err, "cipher setup")
	}
	return &legacyCodec{cipher: c}, nil
}

func (c *legacyCodec) Version() Version { return V31 }

func (c *legacyCodec) Rekey(key []byte) (Codec, error) {
	return NewCodec(V31, key)
}

func (c *legacyCodec) Encode(msg Message) ([]byte, error) {
	payload, err := NormalizePayload(msg.Payload)
	if err != nil {
		return nil, err
	}

	if (msg.Command == CmdControl || msg.Command == CmdStatus) && len(payload) > 0 {
		b64, err := c.cipher.EncryptBase64(payload)
		if err != nil {
			return nil, NewCryptoError(err, "encrypting %s payload", msg.Command)
		}
		payload = []byte(string(V31) + c.cipher.Sign(b64) + b64)
	}

	return buildFrame55AA(msg.Command, msg.Sequence, withReturnCode(msg, payload), crcSize, crcTrailer), nil
}

func (c *legacyCodec) DecodeFrames(buf []byte) ([]Packet, []byte, error) {
	return decodeFrames(buf, false, c.parse)
}

func (c *legacyCodec) parse(f rawFrame) (Packet, error) {
	cmd, err := f.command()
	if err != nil {
		return Packet{}, err
	}
	region, err := f.body55AA(crcSize, verifyCRC)
	if err != nil {
		return Packet{}, err
	}

	pkt := Packet{Command: cmd, Sequence: f.sequence}
	pkt.ReturnCode, pkt.HasReturnCode, region = splitReturnCode(region)

	plain := region
	if !cmd.IsDiscovery() && bytes.HasPrefix(region, []byte(V31)) {
		if len(region) < v31SignedPrefix {
			return Packet{}, NewMalformedError(ErrLengthMismatch, "3.1 body shorter than its signature")
		}
		plain, err = c.cipher.DecryptBase64(string(region[v31SignedPrefix:]))
		if err != nil {
			return Packet{}, cryptoFailure(err, cmd)
		}
	}

	pkt.Payload = parsePayload(plain)
	return pkt, nil
}
