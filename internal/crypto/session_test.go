package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveSessionKey(t *testing.T) {
	local := []byte("0123456789abcdef")
	remote := bytes.Repeat([]byte{0x5A}, NonceLen)

	xored := XORNonces(local, remote)
	for i := range xored {
		if xored[i] != local[i]^0x5A {
			t.Fatalf("XORNonces()[%d] = %#x", i, xored[i])
		}
	}
	if !bytes.Equal(XORNonces(remote, local), xored) {
		t.Error("XORNonces is not symmetric")
	}

	key, err := DeriveSessionKey(testKey, local, remote)
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}
	if len(key) != KeySize {
		t.Fatalf("session key length = %d, want %d", len(key), KeySize)
	}

	// The session key is the XOR block encrypted under the static key.
	c, _ := NewV34(testKey)
	plain, err := ecbDecrypt(c.block, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, xored) {
		t.Errorf("decrypted session key = %x, want %x", plain, xored)
	}

	again, _ := DeriveSessionKey(testKey, remote, local)
	if !bytes.Equal(again, key) {
		t.Error("derivation depends on nonce order")
	}
}

func TestDeriveSessionKey_BadInput(t *testing.T) {
	nonce := make([]byte, NonceLen)
	if _, err := DeriveSessionKey(testKey, nonce[:15], nonce); err == nil {
		t.Error("short local nonce accepted")
	}
	if _, err := DeriveSessionKey([]byte("short"), nonce, nonce); err == nil {
		t.Error("short static key accepted")
	}
}
