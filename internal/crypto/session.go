package crypto

import "fmt"

// NonceLen is the size of each random value exchanged during session key
// negotiation.
const NonceLen = 16

// DeriveSessionKey computes the 3.4/3.5 session key: the XOR of the two
// negotiation nonces, encrypted with the 3.4 cipher under the static key.
func DeriveSessionKey(staticKey, local, remote []byte) ([]byte, error) {
	if len(local) != NonceLen || len(remote) != NonceLen {
		return nil, fmt.Errorf("negotiation nonces must be %d bytes, got %d and %d", NonceLen, len(local), len(remote))
	}
	c, err := NewV34(staticKey)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(XORNonces(local, remote))
}

// XORNonces returns the byte-wise XOR of a and b, truncated to the shorter.
func XORNonces(a, b []byte) []byte {
	n := min(len(a), len(b))
	out := make([]byte, n)
	for i := range n {
		out[i] = a[i] ^ b[i]
	}
	return out
}
