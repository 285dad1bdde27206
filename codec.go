package netengine

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Wire framing.
//
// Every frame is a big-endian header followed by the payload. Payloads up to
// 0xFFFF bytes use the short header, longer ones the long header:
//
//	short: [0xAAEE][u16 length][u16 checksum] payload
//	long:  [0xAAEF][u32 length][u16 checksum] payload
//
// The checksum only detects a desynchronised or corrupted stream.
const (
	magicShort uint16 = 0xAAEE
	magicLong  uint16 = 0xAAEF

	checksumXor  = 0xBBCC
	checksumMask = 0x88AA

	// ShortHeaderSize is the header size of frames with payloads up to MaxShortPayload.
	ShortHeaderSize = 6
	// LongHeaderSize is the header size of larger frames.
	LongHeaderSize = 8
	// MaxShortPayload is the largest payload carried by a short header.
	MaxShortPayload = 0xFFFF
)

func shortChecksum(length uint16) uint16 {
	return (length ^ checksumXor) & checksumMask
}

func longChecksum(length uint32) uint16 {
	return (uint16(length>>16) ^ uint16(length) ^ checksumXor) & checksumMask
}

// Codec is the length-prefixed framing used by the pipe layer. It implements
// Parser.
type Codec struct {
	maxFrame int
}

// NewCodec returns a codec rejecting frames whose total size exceeds
// maxFrame. Zero means no limit.
func NewCodec(maxFrame int) *Codec {
	return &Codec{maxFrame: maxFrame}
}

// Parse implements Parser. It returns the total size of the first frame in
// buf once all of it is present, 0 while the header or payload is still
// incomplete, and -1 for an unknown magic, a checksum mismatch or a frame
// larger than the configured maximum.
func (c *Codec) Parse(buf []byte) int {
	header, length, ok := decodeHeader(buf)
	if !ok {
		return -1
	}
	if header == 0 {
		return 0
	}

	total := header + length
	if c.maxFrame > 0 && total > c.maxFrame {
		return -1
	}

	if len(buf) < total {
		return 0
	}

	return total
}

// decodeHeader returns the header size and the declared payload length.
// header is 0 when buf is too short to tell; ok is false for a corrupt header.
func decodeHeader(buf []byte) (header, length int, ok bool) {
	if len(buf) < 2 {
		return 0, 0, true
	}

	switch binary.BigEndian.Uint16(buf) {
	case magicShort:
		if len(buf) < ShortHeaderSize {
			return 0, 0, true
		}
		n := binary.BigEndian.Uint16(buf[2:])
		if binary.BigEndian.Uint16(buf[4:]) != shortChecksum(n) {
			return 0, 0, false
		}
		return ShortHeaderSize, int(n), true

	case magicLong:
		if len(buf) < LongHeaderSize {
			return 0, 0, true
		}
		n := binary.BigEndian.Uint32(buf[2:])
		if binary.BigEndian.Uint16(buf[6:]) != longChecksum(n) {
			return 0, 0, false
		}
		return LongHeaderSize, int(n), true

	default:
		return 0, 0, false
	}
}

// HeaderSize returns the size of the header used for a payload of n bytes.
func HeaderSize(n int) int {
	if n <= MaxShortPayload {
		return ShortHeaderSize
	}
	return LongHeaderSize
}

// Encode returns payload wrapped in one frame.
func Encode(payload []byte) []byte {
	return AppendFrame(nil, payload)
}

// AppendFrame appends to dst one frame whose payload is the concatenation of
// parts, and returns the extended slice.
func AppendFrame(dst []byte, parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}

	if n <= MaxShortPayload {
		dst = binary.BigEndian.AppendUint16(dst, magicShort)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
		dst = binary.BigEndian.AppendUint16(dst, shortChecksum(uint16(n)))
	} else {
		dst = binary.BigEndian.AppendUint16(dst, magicLong)
		dst = binary.BigEndian.AppendUint32(dst, uint32(n))
		dst = binary.BigEndian.AppendUint16(dst, longChecksum(uint32(n)))
	}

	for _, p := range parts {
		dst = append(dst, p...)
	}

	return dst
}

// Payload strips the header from one complete frame.
func Payload(frame []byte) ([]byte, error) {
	header, length, ok := decodeHeader(frame)
	if !ok {
		return nil, ErrPacket
	}

	if header == 0 || len(frame) < header+length {
		return nil, errors.Wrap(ErrPacket, "truncated frame")
	}

	return frame[header : header+length], nil
}
