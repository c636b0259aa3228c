package protocol

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// Wire magics
const (
	Prefix55AA uint32 = 0x000055AA
	Suffix55AA uint32 = 0x0000AA55
	Prefix6699 uint32 = 0x00006699
	Suffix6699 uint32 = 0x00009966
)

const (
	headerSize55AA = 16 // prefix, seq, cmd, length
	headerSize6699 = 18 // prefix, 2 reserved bytes, seq, cmd, length

	// MinFrameSize is the smallest possible 55AA frame: header, CRC and suffix.
	MinFrameSize = 24
	// MaxFrameSize bounds the declared length we are willing to buffer for.
	MaxFrameSize = 64 * 1024

	magicSize         = 4
	crcSize           = 4
	returnCodeSize    = 4
	versionHeaderSize = 15 // "3.x" followed by 12 more bytes
)

var (
	suffix55AABytes = []byte{0x00, 0x00, 0xAA, 0x55}
	suffix6699Bytes = []byte{0x00, 0x00, 0x99, 0x66}
)

type layout int

const (
	layout55AA layout = iota
	layout6699
)

func (l layout) headerSize() int {
	if l == layout6699 {
		return headerSize6699
	}
	return headerSize55AA
}

func (l layout) suffix() uint32 {
	if l == layout6699 {
		return Suffix6699
	}
	return Suffix55AA
}

// rawFrame is one complete, delimited frame that has not been verified yet.
type rawFrame struct {
	layout   layout
	sequence uint32
	code     uint32
	declared int
	data     []byte // the whole frame, prefix through suffix
}

// splitFrame extracts the first frame from buf. It returns n == 0 with a nil
// error when buf holds only the beginning of a frame.
//
// The end of the frame is found by scanning for a suffix magic. A suffix that
// appears before the end implied by the declared length is part of the body
// and scanning continues past it.
func splitFrame(buf []byte, allow6699 bool) (rawFrame, int, error) {
	if len(buf) < magicSize {
		return rawFrame{}, 0, nil
	}

	var f rawFrame
	switch prefix := binary.BigEndian.Uint32(buf); prefix {
	case Prefix55AA:
		f.layout = layout55AA
	case Prefix6699:
		if !allow6699 {
			return rawFrame{}, 0, NewMalformedError(ErrBadPrefix, "prefix 0x%08X not valid for this version", prefix)
		}
		f.layout = layout6699
	default:
		return rawFrame{}, 0, NewMalformedError(ErrBadPrefix, "got 0x%08X", prefix)
	}

	hdr := f.layout.headerSize()
	if len(buf) < hdr {
		return rawFrame{}, 0, nil
	}

	var total, minDeclared int
	if f.layout == layout6699 {
		f.sequence = binary.BigEndian.Uint32(buf[6:10])
		f.code = binary.BigEndian.Uint32(buf[10:14])
		f.declared = int(binary.BigEndian.Uint32(buf[14:18]))
		total = hdr + f.declared + magicSize
		minDeclared = 12 + 16 // nonce and tag
	} else {
		f.sequence = binary.BigEndian.Uint32(buf[4:8])
		f.code = binary.BigEndian.Uint32(buf[8:12])
		f.declared = int(binary.BigEndian.Uint32(buf[12:16]))
		total = hdr + f.declared
		minDeclared = crcSize + magicSize
	}
	if f.declared < minDeclared || total > MaxFrameSize {
		return rawFrame{}, 0, NewMalformedError(ErrLengthMismatch, "declared length %d out of range", f.declared)
	}

	for pos := hdr; ; {
		i, suffix := indexSuffix(buf[pos:])
		if i < 0 {
			break
		}
		end := pos + i + magicSize
		if end < total {
			pos += i + 1
			continue
		}
		if end > total {
			return rawFrame{}, 0, NewMalformedError(ErrLengthMismatch,
				"declared length %d, suffix found at %d", f.declared, end-magicSize)
		}
		if suffix != f.layout.suffix() {
			return rawFrame{}, 0, NewMalformedError(ErrBadSuffix, "suffix 0x%08X does not match prefix", suffix)
		}
		f.data = buf[:total]
		return f, total, nil
	}

	if len(buf) >= total {
		return rawFrame{}, 0, NewMalformedError(ErrBadSuffix, "no suffix at declared end %d", total)
	}
	return rawFrame{}, 0, nil
}

// indexSuffix returns the position of the earliest suffix magic in b.
func indexSuffix(b []byte) (int, uint32) {
	i := bytes.Index(b, suffix55AABytes)
	j := bytes.Index(b, suffix6699Bytes)
	switch {
	case i < 0 && j < 0:
		return -1, 0
	case j < 0 || (i >= 0 && i < j):
		return i, Suffix55AA
	default:
		return j, Suffix6699
	}
}

// SplitFrames delimits the complete frames at the start of buf without
// verifying or decrypting them. rest holds an incomplete trailing frame.
// Callers that switch keys between frames decode each one on its own.
func SplitFrames(buf []byte) (frames [][]byte, rest []byte, err error) {
	for len(buf) > 0 {
		f, n, err := splitFrame(buf, true)
		if err != nil {
			return frames, nil, err
		}
		if n == 0 {
			return frames, buf, nil
		}
		frames = append(frames, f.data)
		buf = buf[n:]
	}
	return frames, nil, nil
}

// decodeFrames walks buf frame by frame. parse runs on each complete frame.
// The returned rest aliases buf and holds an incomplete trailing frame.
func decodeFrames(buf []byte, allow6699 bool, parse func(rawFrame) (Packet, error)) ([]Packet, []byte, error) {
	var packets []Packet
	for len(buf) > 0 {
		f, n, err := splitFrame(buf, allow6699)
		if err != nil {
			return packets, nil, err
		}
		if n == 0 {
			return packets, buf, nil
		}

		pkt, err := parse(f)
		if err != nil {
			return packets, nil, err
		}
		packets = append(packets, pkt)
		buf = buf[n:]
	}
	return packets, nil, nil
}

// command resolves the frame's command code.
func (f rawFrame) command() (Command, error) {
	cmd, ok := LookupCommand(f.code)
	if !ok {
		return 0, NewMalformedError(ErrUnknownCommand, "code 0x%X", f.code)
	}
	return cmd, nil
}

// body55AA returns the payload region and verifies it against a trailer of
// trailerLen bytes. verify receives the covered span and the trailer.
func (f rawFrame) body55AA(trailerLen int, verify func(covered, trailer []byte) error) ([]byte, error) {
	payloadEnd := headerSize55AA + f.declared - trailerLen - magicSize
	if payloadEnd < headerSize55AA {
		return nil, NewMalformedError(ErrLengthMismatch, "declared length %d too small for trailer", f.declared)
	}
	if err := verify(f.data[:payloadEnd], f.data[payloadEnd:payloadEnd+trailerLen]); err != nil {
		return nil, err
	}
	return f.data[headerSize55AA:payloadEnd], nil
}

func verifyCRC(covered, trailer []byte) error {
	want := binary.BigEndian.Uint32(trailer)
	if got := crc32.ChecksumIEEE(covered); got != want {
		return NewIntegrityError(ErrCRCMismatch, "expected 0x%08X, computed 0x%08X", want, got)
	}
	return nil
}

// buildFrame55AA lays out a standard frame. body is everything between the
// header and the trailer; trailer computes the integrity bytes over the span
// from the prefix through the end of body.
func buildFrame55AA(cmd Command, seq uint32, body []byte, trailerLen int, trailer func([]byte) []byte) []byte {
	frame := make([]byte, headerSize55AA+len(body)+trailerLen+magicSize)
	binary.BigEndian.PutUint32(frame[0:], Prefix55AA)
	binary.BigEndian.PutUint32(frame[4:], seq)
	binary.BigEndian.PutUint32(frame[8:], uint32(cmd))
	binary.BigEndian.PutUint32(frame[12:], uint32(len(body)+trailerLen+magicSize))
	copy(frame[headerSize55AA:], body)

	end := headerSize55AA + len(body)
	copy(frame[end:], trailer(frame[:end]))
	binary.BigEndian.PutUint32(frame[end+trailerLen:], Suffix55AA)
	return frame
}

func crcTrailer(covered []byte) []byte {
	out := make([]byte, crcSize)
	binary.BigEndian.PutUint32(out, crc32.ChecksumIEEE(covered))
	return out
}

// withReturnCode prepends the return code field when msg asks for one.
func withReturnCode(msg Message, body []byte) []byte {
	if !msg.WithReturnCode {
		return body
	}
	out := make([]byte, returnCodeSize+len(body))
	binary.BigEndian.PutUint32(out, msg.ReturnCode)
	copy(out[returnCodeSize:], body)
	return out
}

// splitReturnCode detects a leading return code. Devices send a small value
// (low byte only) there; anything wider is the start of the payload.
func splitReturnCode(region []byte) (uint32, bool, []byte) {
	if len(region) >= returnCodeSize {
		if code := binary.BigEndian.Uint32(region); code&0xFFFFFF00 == 0 {
			return code, true, region[returnCodeSize:]
		}
	}
	return 0, false, region
}

func versionHeader(v Version) []byte {
	h := make([]byte, versionHeaderSize)
	copy(h, string(v))
	return h
}

// stripVersionHeader removes a leading "3.x" header block.
func stripVersionHeader(b []byte) []byte {
	if len(b) >= versionHeaderSize && b[0] == '3' && b[1] == '.' && b[2] >= '1' && b[2] <= '5' {
		return b[versionHeaderSize:]
	}
	return b
}
