package crypto

// V33 is the 3.3 cipher: AES-128-ECB with PKCS#7 padding.
type V33 struct {
	ecbCipher
}

// NewV33 creates a 3.3 cipher for key.
func NewV33(key []byte) (*V33, error) {
	c, err := newECBCipher(key)
	if err != nil {
		return nil, err
	}
	return &V33{ecbCipher: c}, nil
}

// Encrypt returns the padded ECB ciphertext of plaintext.
func (c *V33) Encrypt(plaintext []byte) ([]byte, error) {
	return c.encryptPadded(plaintext)
}

// Decrypt reverses Encrypt.
func (c *V33) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.decryptPadded(ciphertext)
}
