package crypto

import (
	"crypto/cipher"
	"fmt"
	"strconv"
	"time"
)

const (
	// NonceSize is the GCM nonce length used by 3.5 frames.
	NonceSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// HeaderSize is the length of the 6699 header region authenticated as AAD.
	HeaderSize = 14
)

// now is replaced in tests.
var now = time.Now

// SealOptions controls V35.Encrypt. A nil Nonce selects the timestamp nonce.
type SealOptions struct {
	Nonce []byte
	AAD   []byte
}

// V35 is the 3.5 cipher: AES-128-GCM.
type V35 struct {
	key  []byte
	aead cipher.AEAD
}

// NewV35 creates a 3.5 cipher for key.
func NewV35(key []byte) (*V35, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &V35{key: k, aead: aead}, nil
}

// Key returns a copy of the key this cipher was built with.
func (c *V35) Key() []byte {
	k := make([]byte, len(c.key))
	copy(k, c.key)
	return k
}

// Encrypt seals plaintext and returns nonce || ciphertext || tag.
func (c *V35) Encrypt(plaintext []byte, opts SealOptions) ([]byte, error) {
	nonce := opts.Nonce
	if nonce == nil {
		nonce = TimestampNonce()
	}
	if len(nonce) < NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	nonce = nonce[:NonceSize]

	out := make([]byte, 0, NonceSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, opts.AAD), nil
}

// Decrypt opens data laid out as header(14) || nonce(12) || ciphertext || tag(16).
// The header is authenticated as associated data.
func (c *V35) Decrypt(data []byte) ([]byte, error) {
	if len(data) < HeaderSize+NonceSize+TagSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextLength, len(data))
	}
	header := data[:HeaderSize]
	nonce := data[HeaderSize : HeaderSize+NonceSize]
	sealed := data[HeaderSize+NonceSize:]

	plain, err := c.aead.Open(nil, nonce, sealed, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return plain, nil
}

// HMAC returns HMAC-SHA256 of data under this cipher's key.
func (c *V35) HMAC(data []byte) []byte {
	return HMAC(c.key, data)
}

// TimestampNonce derives a nonce from the first 12 decimal digits of the
// current time in tenths of a millisecond.
func TimestampNonce() []byte {
	digits := strconv.FormatInt(now().UnixMilli()*10, 10)
	for len(digits) < NonceSize {
		digits += "0"
	}
	return []byte(digits[:NonceSize])
}
