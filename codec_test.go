package netengine

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func TestEncode_Ping(t *testing.T) {
	frame := Encode([]byte("ping"))

	want := []byte{0xAA, 0xEE, 0x00, 0x04, 0x88, 0x88, 'p', 'i', 'n', 'g'}
	if !bytes.Equal(frame, want) {
		t.Errorf("Encode = % x, want % x", frame, want)
	}
}

func TestEncode_LongHeader(t *testing.T) {
	payload := make([]byte, MaxShortPayload+1)
	frame := Encode(payload)

	wantHeader := []byte{0xAA, 0xEF, 0x00, 0x01, 0x00, 0x00, 0x88, 0x88}
	if !bytes.Equal(frame[:LongHeaderSize], wantHeader) {
		t.Errorf("header = % x, want % x", frame[:LongHeaderSize], wantHeader)
	}
	if len(frame) != LongHeaderSize+len(payload) {
		t.Errorf("len = %d, want %d", len(frame), LongHeaderSize+len(payload))
	}
}

func TestCodec_ParseEncoded(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		header int
	}{
		{"empty", 0, ShortHeaderSize},
		{"small", 4, ShortHeaderSize},
		{"short max", MaxShortPayload, ShortHeaderSize},
		{"long min", MaxShortPayload + 1, LongHeaderSize},
		{"long", 200000, LongHeaderSize},
	}

	codec := NewCodec(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{0x5A}, tt.size)
			frame := Encode(payload)

			if got := HeaderSize(tt.size); got != tt.header {
				t.Errorf("HeaderSize = %d, want %d", got, tt.header)
			}
			if got := codec.Parse(frame); got != tt.header+tt.size {
				t.Errorf("Parse = %d, want %d", got, tt.header+tt.size)
			}

			body, err := Payload(frame)
			if err != nil {
				t.Fatalf("Payload failed: %v", err)
			}
			if !bytes.Equal(body, payload) {
				t.Error("Payload returned different bytes")
			}
		})
	}
}

func TestCodec_ParseIncomplete(t *testing.T) {
	codec := NewCodec(0)

	for _, size := range []int{3, MaxShortPayload + 10} {
		frame := Encode(make([]byte, size))
		for _, k := range []int{0, 1, 2, 5, 7, len(frame) - 1} {
			if got := codec.Parse(frame[:k]); got != 0 {
				t.Errorf("size %d: Parse(%d bytes) = %d, want 0", size, k, got)
			}
		}
	}
}

func TestCodec_ParseSticky(t *testing.T) {
	codec := NewCodec(0)

	first := Encode([]byte("first"))
	buf := append(append([]byte{}, first...), Encode([]byte("second"))...)

	if got := codec.Parse(buf); got != len(first) {
		t.Errorf("Parse = %d, want %d", got, len(first))
	}
}

func TestCodec_ChecksumFlip(t *testing.T) {
	codec := NewCodec(0)

	tests := []struct {
		name   string
		frame  []byte
		offset int
	}{
		{"short", Encode([]byte("ping")), 4},
		{"long", Encode(make([]byte, MaxShortPayload+1)), 6},
	}

	for _, tt := range tests {
		for bit := 0; bit < 16; bit++ {
			frame := append([]byte{}, tt.frame...)
			frame[tt.offset+bit/8] ^= 1 << (bit % 8)

			if got := codec.Parse(frame); got != -1 {
				t.Errorf("%s: flipped checksum bit %d: Parse = %d, want -1", tt.name, bit, got)
			}
		}
	}
}

func TestCodec_BadMagic(t *testing.T) {
	codec := NewCodec(0)

	if got := codec.Parse([]byte{0x12, 0x34, 0, 0, 0, 0}); got != -1 {
		t.Errorf("Parse = %d, want -1", got)
	}

	_, err := Payload([]byte{0x12, 0x34, 0, 0, 0, 0})
	if !errors.Is(err, ErrPacket) {
		t.Errorf("Payload error = %v, want ErrPacket", err)
	}
}

func TestCodec_MaxFrame(t *testing.T) {
	codec := NewCodec(16)

	if got := codec.Parse(Encode(make([]byte, 10))); got != 16 {
		t.Errorf("Parse = %d, want 16", got)
	}

	// Rejected as soon as the header is readable.
	frame := Encode(make([]byte, 11))
	if got := codec.Parse(frame[:ShortHeaderSize]); got != -1 {
		t.Errorf("Parse = %d, want -1", got)
	}
}

func TestAppendFrame_Parts(t *testing.T) {
	frame := AppendFrame([]byte("x"), []byte{0, 7}, []byte("ping"))

	if frame[0] != 'x' {
		t.Fatal("prefix overwritten")
	}

	body, err := Payload(frame[1:])
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if !bytes.Equal(body, []byte{0, 7, 'p', 'i', 'n', 'g'}) {
		t.Errorf("body = % x", body)
	}
}

func TestPayload_Truncated(t *testing.T) {
	frame := Encode([]byte("ping"))

	_, err := Payload(frame[:len(frame)-1])
	if !errors.Is(err, ErrPacket) {
		t.Errorf("error = %v, want ErrPacket", err)
	}
}
