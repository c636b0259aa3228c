package protocol

import (
	"fmt"

	"github.com/muurk/tuyalocal/internal/crypto"
)

// Version is a protocol revision tag as configured for a device.
type Version string

const (
	V31 Version = "3.1"
	V32 Version = "3.2"
	V33 Version = "3.3"
	V34 Version = "3.4"
	V35 Version = "3.5"
)

// Versions lists every supported revision.
var Versions = []Version{V31, V32, V33, V34, V35}

// ParseVersion validates a version tag.
func ParseVersion(s string) (Version, error) {
	for _, v := range Versions {
		if string(v) == s {
			return v, nil
		}
	}
	return "", NewConfigError(ErrUnsupportedVersion, "version %q", s)
}

// Family groups revisions that share a cipher and framing rules.
type Family int

const (
	// FamilyLegacy covers 3.1 and 3.2: ECB with base64 or binary payloads.
	FamilyLegacy Family = iota
	// FamilyECB is 3.3: ECB, CRC32 trailer.
	FamilyECB
	// FamilySession covers 3.4 and 3.5: negotiated session key, keyed-hash or AEAD integrity.
	FamilySession
)

// Family returns the family v belongs to.
func (v Version) Family() Family {
	switch v {
	case V31, V32:
		return FamilyLegacy
	case V33:
		return FamilyECB
	default:
		return FamilySession
	}
}

// NeedsHandshake reports whether connections on v negotiate a session key.
func (v Version) NeedsHandshake() bool {
	return v.Family() == FamilySession
}

// Codec encodes messages into frames and decodes frames into packets for one
// protocol version and key.
type Codec interface {
	// Version returns the revision this codec speaks.
	Version() Version

	// Encode turns a message into a complete wire frame.
	Encode(msg Message) ([]byte, error)

	// DecodeFrames decodes every complete frame in buf. An incomplete
	// trailing frame is returned as rest (aliasing buf) so the caller can
	// prepend it to the next read. On error, the packets decoded before the
	// failing frame are still returned.
	DecodeFrames(buf []byte) (packets []Packet, rest []byte, err error)

	// Rekey returns a codec for the same version under a new key.
	Rekey(key []byte) (Codec, error)
}

// NewCodec builds the codec for version using key.
func NewCodec(version Version, key []byte) (Codec, error) {
	if len(key) != crypto.KeySize {
		return nil, NewConfigError(ErrInvalidKey, "got %d bytes", len(key))
	}

	switch version {
	case V31:
		return newLegacyCodec(key)
	case V32:
		c, err := crypto.NewLegacy(key)
		if err != nil {
			return nil, NewConfigError(err, "cipher setup")
		}
		return &ecbCodec{version: V32, cipher: c}, nil
	case V33:
		c, err := crypto.NewV33(key)
		if err != nil {
			return nil, NewConfigError(err, "cipher setup")
		}
		return &ecbCodec{version: V33, cipher: c}, nil
	case V34, V35:
		return newSessionCodec(version, key)
	default:
		return nil, NewConfigError(ErrUnsupportedVersion, "version %q", version)
	}
}

// Decode decodes buf, which must consist of whole frames only.
func Decode(c Codec, buf []byte) ([]Packet, error) {
	packets, rest, err := c.DecodeFrames(buf)
	if err != nil {
		return packets, err
	}
	if len(rest) > 0 {
		if len(rest) < MinFrameSize {
			return packets, NewMalformedError(ErrFrameTooShort, "%d trailing bytes", len(rest))
		}
		return packets, NewMalformedError(ErrIncompleteFrame, "%d trailing bytes", len(rest))
	}
	return packets, nil
}

func cryptoFailure(err error, cmd Command) error {
	return NewCryptoError(err, "decrypting %s payload", cmd)
}

// String helps when logging codecs.
func (f Family) String() string {
	switch f {
	case FamilyLegacy:
		return "legacy"
	case FamilyECB:
		return "ecb"
	case FamilySession:
		return "session"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}
