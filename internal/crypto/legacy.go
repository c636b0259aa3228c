package crypto

import (
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// ecbCipher holds the key material shared by the ECB based families.
type ecbCipher struct {
	key   []byte
	block cipher.Block
}

func newECBCipher(key []byte) (ecbCipher, error) {
	block, err := newBlock(key)
	if err != nil {
		return ecbCipher{}, err
	}
	k := make([]byte, len(key))
	copy(k, key)
	return ecbCipher{key: k, block: block}, nil
}

// Key returns a copy of the key this cipher was built with.
func (c *ecbCipher) Key() []byte {
	k := make([]byte, len(c.key))
	copy(k, c.key)
	return k
}

func (c *ecbCipher) encryptPadded(plaintext []byte) ([]byte, error) {
	return ecbEncrypt(c.block, Pad(plaintext))
}

func (c *ecbCipher) decryptPadded(ciphertext []byte) ([]byte, error) {
	plain, err := ecbDecrypt(c.block, ciphertext)
	if err != nil {
		return nil, err
	}
	return Unpad(plain)
}

// Legacy is the 3.1/3.2 cipher.
type Legacy struct {
	ecbCipher
}

// NewLegacy creates a 3.1/3.2 cipher for key.
func NewLegacy(key []byte) (*Legacy, error) {
	c, err := newECBCipher(key)
	if err != nil {
		return nil, err
	}
	return &Legacy{ecbCipher: c}, nil
}

// Encrypt returns the PKCS#7 padded ECB ciphertext of plaintext.
func (c *Legacy) Encrypt(plaintext []byte) ([]byte, error) {
	return c.encryptPadded(plaintext)
}

// Decrypt reverses Encrypt.
func (c *Legacy) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.decryptPadded(ciphertext)
}

// EncryptBase64 encrypts plaintext and returns it base64 encoded, the form
// 3.1 devices expect inside CONTROL payloads.
func (c *Legacy) EncryptBase64(plaintext []byte) (string, error) {
	ct, err := c.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptBase64 decodes s from base64 and decrypts it.
func (c *Legacy) DecryptBase64(s string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertextLength, err)
	}
	return c.Decrypt(ct)
}

// Sign returns the 16 character MD5 signature 3.1 devices use for an encrypted
// CONTROL body: characters 8 to 24 of md5("data=<b64>||lpv=3.1||<key>").
func (c *Legacy) Sign(b64 string) string {
	sum := md5.Sum([]byte("data=" + b64 + "||lpv=3.1||" + string(c.key)))
	return hex.EncodeToString(sum[:])[8:24]
}
