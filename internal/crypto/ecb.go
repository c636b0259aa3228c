package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// KeySize is the only key length the protocol accepts.
const KeySize = 16

var (
	// ErrInvalidKeySize is returned when a key is not exactly KeySize bytes.
	ErrInvalidKeySize = errors.New("key must be 16 bytes")
	// ErrCiphertextLength is returned when a ciphertext has an impossible length.
	ErrCiphertextLength = errors.New("invalid ciphertext length")
	// ErrBadPadding is returned when decrypted data carries invalid padding.
	ErrBadPadding = errors.New("invalid padding")
	// ErrAuthentication is returned when an AEAD tag does not verify.
	ErrAuthentication = errors.New("message authentication failed")
)

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeySize, len(key))
	}
	return aes.NewCipher(key)
}

// ecbEncrypt encrypts each block independently. src must be block aligned.
func ecbEncrypt(block cipher.Block, src []byte) ([]byte, error) {
	bs := block.BlockSize()
	if len(src)%bs != 0 {
		return nil, fmt.Errorf("%w: %d is not a multiple of %d", ErrCiphertextLength, len(src), bs)
	}
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		block.Encrypt(dst[i:i+bs], src[i:i+bs])
	}
	return dst, nil
}

func ecbDecrypt(block cipher.Block, src []byte) ([]byte, error) {
	bs := block.BlockSize()
	if len(src) == 0 || len(src)%bs != 0 {
		return nil, fmt.Errorf("%w: %d is not a multiple of %d", ErrCiphertextLength, len(src), bs)
	}
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		block.Decrypt(dst[i:i+bs], src[i:i+bs])
	}
	return dst, nil
}

// Pad applies PKCS#7-style padding: 1 to 16 bytes, each holding the pad length.
// Block aligned input still gains a full block of padding.
func Pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// Unpad strips padding added by Pad.
func Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrBadPadding)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("%w: pad length %d", ErrBadPadding, n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: inconsistent pad bytes", ErrBadPadding)
		}
	}
	return data[:len(data)-n], nil
}
