package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

var testKey = []byte(";nIBfAzQyoXF72n>")

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestNewCiphers_RejectBadKeySize(t *testing.T) {
	shortKey := []byte("0123456789abcde")

	constructors := map[string]func([]byte) error{
		"legacy": func(k []byte) error { _, err := NewLegacy(k); return err },
		"v33":    func(k []byte) error { _, err := NewV33(k); return err },
		"v34":    func(k []byte) error { _, err := NewV34(k); return err },
		"v35":    func(k []byte) error { _, err := NewV35(k); return err },
	}

	for name, construct := range constructors {
		t.Run(name, func(t *testing.T) {
			if err := construct(shortKey); !errors.Is(err, ErrInvalidKeySize) {
				t.Errorf("error = %v, want ErrInvalidKeySize", err)
			}
			if err := construct(testKey); err != nil {
				t.Errorf("valid key rejected: %v", err)
			}
		})
	}
}

func TestV33_KnownAnswer(t *testing.T) {
	c, err := NewV33(testKey)
	if err != nil {
		t.Fatal(err)
	}

	plain := []byte(`{"dps":{"1":true}}`)
	want := mustHex(t, "5026154d37290c27e86b2ea1229a6e30e963c39fa1cde67644fc0513cfc38bb4")

	got, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encrypt() = %x, want %x", got, want)
	}

	back, err := c.Decrypt(want)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(back, plain) {
		t.Errorf("Decrypt() = %q, want %q", back, plain)
	}
}

func TestLegacy_Base64AndSign(t *testing.T) {
	c, err := NewLegacy(testKey)
	if err != nil {
		t.Fatal(err)
	}

	b64, err := c.EncryptBase64([]byte(`{"dps":{"1":true}}`))
	if err != nil {
		t.Fatalf("EncryptBase64() error = %v", err)
	}
	if b64 != "UCYVTTcpDCfoay6hIppuMOljw5+hzeZ2RPwFE8/Di7Q=" {
		t.Errorf("EncryptBase64() = %s", b64)
	}

	plain, err := c.DecryptBase64(b64)
	if err != nil {
		t.Fatalf("DecryptBase64() error = %v", err)
	}
	if string(plain) != `{"dps":{"1":true}}` {
		t.Errorf("DecryptBase64() = %q", plain)
	}

	if _, err := c.DecryptBase64("not base64!"); err == nil {
		t.Error("DecryptBase64() accepted invalid input")
	}

	if sig := c.Sign("abc"); sig != "c10b90deaaede904" {
		t.Errorf("Sign() = %s, want c10b90deaaede904", sig)
	}
}

func TestV34_PaddingRules(t *testing.T) {
	c, err := NewV34(testKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		input  []byte
		padLen int
	}{
		{name: "empty", input: nil, padLen: 16},
		{name: "one byte", input: []byte{1}, padLen: 15},
		{name: "block aligned", input: bytes.Repeat([]byte{7}, 16), padLen: 16},
		{name: "seventeen bytes", input: bytes.Repeat([]byte{7}, 17), padLen: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			padded := Pad(tt.input)
			if len(padded) != len(tt.input)+tt.padLen {
				t.Fatalf("Pad() length = %d, want %d", len(padded), len(tt.input)+tt.padLen)
			}
			if padded[len(padded)-1] != byte(tt.padLen) {
				t.Errorf("pad byte = %d, want %d", padded[len(padded)-1], tt.padLen)
			}

			ct, err := c.Encrypt(padded)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			plain, err := c.Decrypt(ct)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(plain, tt.input) {
				t.Errorf("Decrypt() = %x, want %x", plain, tt.input)
			}
		})
	}

	if _, err := c.Encrypt([]byte("not aligned")); !errors.Is(err, ErrCiphertextLength) {
		t.Errorf("Encrypt(unaligned) error = %v, want ErrCiphertextLength", err)
	}
}

func TestV34_DecryptFailsClosed(t *testing.T) {
	c, err := NewV34(testKey)
	if err != nil {
		t.Fatal(err)
	}

	// A block whose plaintext ends in 0x00 has no valid padding.
	zeroTail, err := c.Encrypt(make([]byte, 16))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "empty", input: nil, wantErr: ErrCiphertextLength},
		{name: "partial block", input: make([]byte, 15), wantErr: ErrCiphertextLength},
		{name: "zero pad byte", input: zeroTail, wantErr: ErrBadPadding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHMAC_KnownAnswer(t *testing.T) {
	want := mustHex(t, "82aea995347914e78ef53670f0a0570cb0b31fa6d2da1969ed6d53612d625e97")

	c, err := NewV34(testKey)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.HMAC([]byte("hello")); !bytes.Equal(got, want) {
		t.Errorf("HMAC() = %x, want %x", got, want)
	}
	if !VerifyHMAC(testKey, []byte("hello"), want) {
		t.Error("VerifyHMAC() rejected a valid tag")
	}
	if VerifyHMAC(testKey, []byte("hellO"), want) {
		t.Error("VerifyHMAC() accepted a tag for different data")
	}
}

func TestV35_SealOpen(t *testing.T) {
	c, err := NewV35(testKey)
	if err != nil {
		t.Fatal(err)
	}

	header := bytes.Repeat([]byte{0xAB}, HeaderSize)
	nonce := []byte("0123456789ab")
	plain := []byte(`{"dps":{"1":false}}`)

	sealed, err := c.Encrypt(plain, SealOptions{Nonce: nonce, AAD: header})
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(sealed) != NonceSize+len(plain)+TagSize {
		t.Fatalf("sealed length = %d", len(sealed))
	}
	if !bytes.Equal(sealed[:NonceSize], nonce) {
		t.Errorf("sealed output does not start with nonce")
	}

	frame := append(append([]byte{}, header...), sealed...)
	got, err := c.Decrypt(frame)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Decrypt() = %q, want %q", got, plain)
	}

	t.Run("tampered tag", func(t *testing.T) {
		bad := append([]byte{}, frame...)
		bad[len(bad)-1] ^= 0x01
		if _, err := c.Decrypt(bad); !errors.Is(err, ErrAuthentication) {
			t.Errorf("error = %v, want ErrAuthentication", err)
		}
	})

	t.Run("tampered header", func(t *testing.T) {
		bad := append([]byte{}, frame...)
		bad[0] ^= 0x01
		if _, err := c.Decrypt(bad); !errors.Is(err, ErrAuthentication) {
			t.Errorf("error = %v, want ErrAuthentication", err)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := c.Decrypt(frame[:HeaderSize+NonceSize+TagSize-1]); !errors.Is(err, ErrCiphertextLength) {
			t.Errorf("error = %v, want ErrCiphertextLength", err)
		}
	})
}

func TestTimestampNonce(t *testing.T) {
	orig := now
	defer func() { now = orig }()

	now = func() time.Time { return time.UnixMilli(1734733562123) }

	if got := string(TimestampNonce()); got != "173473356212" {
		t.Errorf("TimestampNonce() = %s, want 173473356212", got)
	}

	c, err := NewV35(testKey)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := c.Encrypt([]byte("x"), SealOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if string(sealed[:NonceSize]) != "173473356212" {
		t.Errorf("default nonce = %s", sealed[:NonceSize])
	}
}
