package protocol

// blockCipher is the shape of the legacy and 3.3 ciphers.
type blockCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Commands sent without the 15-byte version header on 3.2/3.3.
var headerless33 = map[Command]bool{
	CmdDPQuery:   true,
	CmdDPRefresh: true,
}

// ecbCodec speaks 3.2 and 3.3: every body is encrypted, the version header is
// added after encryption, and frames end in a CRC32.
type ecbCodec struct {
	version Version
	cipher  blockCipher
}

func (c *ecbCodec) Version() Version { return c.version }

func (c *ecbCodec) Rekey(key []byte) (Codec, error) {
	return NewCodec(c.version, key)
}

func (c *ecbCodec) Encode(msg Message) ([]byte, error) {
	payload, err := NormalizePayload(msg.Payload)
	if err != nil {
		return nil, err
	}

	if !msg.Command.IsDiscovery() {
		payload, err = c.cipher.Encrypt(payload)
		if err != nil {
			return nil, NewCryptoError(err, "encrypting %s payload", msg.Command)
		}
		if !headerless33[msg.Command] {
			payload = append(versionHeader(c.version), payload...)
		}
	}

	return buildFrame55AA(msg.Command, msg.Sequence, withReturnCode(msg, payload), crcSize, crcTrailer), nil
}

func (c *ecbCodec) DecodeFrames(buf []byte) ([]Packet, []byte, error) {
	return decodeFrames(buf, false, c.parse)
}

func (c *ecbCodec) parse(f rawFrame) (Packet, error) {
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

	if cmd.IsDiscovery() {
		pkt.Payload = parsePayload(region)
		return pkt, nil
	}

	region = stripVersionHeader(region)
	if len(region) == 0 {
		pkt.Payload = parsePayload(region)
		return pkt, nil
	}

	plain, err := c.cipher.Decrypt(region)
	if err != nil {
		return Packet{}, cryptoFailure(err, cmd)
	}
	pkt.Payload = parsePayload(plain)
	return pkt, nil
}
