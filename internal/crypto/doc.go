// Package crypto implements the payload ciphers used by the Tuya LAN protocol.
//
// Each protocol family has its own cipher type, keyed by the device's 16-byte
// local key (or, after a 3.4/3.5 handshake, the negotiated session key):
//
//   - Legacy (3.1/3.2): AES-128-ECB with PKCS#7 padding and optional base64
//     transport encoding. 3.1 also signs CONTROL payloads with an MD5 digest.
//   - V33 (3.3): AES-128-ECB with PKCS#7 padding over raw bytes.
//   - V34 (3.4): AES-128-ECB with padding disabled. The caller pads with Pad
//     before encrypting; Decrypt strips the padding again. HMAC-SHA256 is the
//     keyed hash used for frame trailers and the session handshake.
//   - V35 (3.5): AES-128-GCM with a 12-byte nonce and associated data.
//
// All decrypt paths fail closed: a bad tag, a ciphertext that is not a whole
// number of blocks or invalid padding returns an error and never plaintext.
package crypto
