// Package protocol implements framing for the Tuya LAN protocol, revisions 3.1
// through 3.5.
//
// This package turns logical messages into wire frames and back. It owns the
// command table, the per-revision frame codecs and the error taxonomy shared by
// the rest of the module. Ciphers live in internal/crypto; the TCP connection,
// handshake and heartbeat live in internal/conn.
//
// # Frame Layouts
//
// Standard frames (all revisions):
//
//	000055AA | seq u32 | cmd u32 | len u32 | [retcode u32] | payload | trailer | 0000AA55
//
// len counts everything after the length field. The trailer is a CRC32 for
// 3.1 to 3.3 and for discovery broadcasts, and an HMAC-SHA256 for 3.4. The
// return code is only present on frames sent by a device.
//
// 3.5 frames:
//
//	00006699 | 0000 | seq u32 | cmd u32 | len u32 | nonce(12) | ciphertext | tag(16) | 00009966
//
// Bytes 4 to 18 are authenticated as GCM associated data. Here the return code
// sits inside the decrypted plaintext.
//
// # Stream Decoding
//
// A single read from the socket can carry several frames back to back, or end
// in the middle of one. DecodeFrames decodes every complete frame and returns
// the incomplete tail so the caller can prepend it to the next read:
//
//	packets, rest, err := codec.DecodeFrames(append(pending, chunk...))
//	if err != nil {
//	    // malformed frame: the stream is no longer in sync, drop the connection
//	}
//	pending = append(pending[:0], rest...)
//
// Decode is the strict variant for buffers that must hold whole frames only.
//
// # Payloads
//
// Decrypted payloads that hold a JSON object are parsed into Payload.Data.
// When the object wraps its content in a "data" field, that field is promoted
// and the envelope's "t" timestamp is merged into it. Anything else is kept as
// raw bytes.
package protocol
