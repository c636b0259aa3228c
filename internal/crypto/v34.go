package crypto

// V34 is the 3.4 cipher. Encryption runs with padding disabled, so callers
// pass block aligned input (see Pad). Decrypt strips the padding.
type V34 struct {
	ecbCipher
}

// NewV34 creates a 3.4 cipher for key.
func NewV34(key []byte) (*V34, error) {
	c, err := newECBCipher(key)
	if err != nil {
		return nil, err
	}
	return &V34{ecbCipher: c}, nil
}

// Encrypt encrypts block aligned plaintext without adding padding.
func (c *V34) Encrypt(plaintext []byte) ([]byte, error) {
	return ecbEncrypt(c.block, plaintext)
}

// Decrypt decrypts ciphertext and removes its trailing padding.
func (c *V34) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.decryptPadded(ciphertext)
}

// HMAC returns HMAC-SHA256 of data under this cipher's key.
func (c *V34) HMAC(data []byte) []byte {
	return HMAC(c.key, data)
}
