package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HMACSize is the length of an HMAC-SHA256 tag.
const HMACSize = sha256.Size

// HMAC computes HMAC-SHA256 of data under key.
func HMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMAC reports whether tag is the HMAC-SHA256 of data under key.
// The comparison is constant time.
func VerifyHMAC(key, data, tag []byte) bool {
	return hmac.Equal(HMAC(key, data), tag)
}
