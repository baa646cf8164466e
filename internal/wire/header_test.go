package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/lens/internal/media"
)

func TestParseHeader_Spec720p(t *testing.T) {
	t.Parallel()
	chunk := []byte{0xF1, 0xF2, 0xF3, 0xF4, 0x00, 0x00, 0x05, 0x00, 0x03, 0x00, 0x1E}

	h, err := ParseHeader(chunk)
	if err != nil {
		t.Fatal(err)
	}
	if !h.OK() {
		t.Error("status 0 should be OK")
	}

	got := h.Parameters()
	want := media.StreamParameters{Codec: media.CodecH264, Width: 1280, Height: 768, FPS: 30}
	if got != want {
		t.Errorf("Parameters() = %+v, want %+v", got, want)
	}
}

func TestHeaderMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	h := Header{Status: 0, Codec: media.CodecH265, Width: 3840, Height: 2160, FPS: 60}

	buf := h.Marshal()
	if len(buf) != HeaderSize {
		t.Fatalf("Marshal length = %d, want %d", len(buf), HeaderSize)
	}
	want := []byte{0xF1, 0xF2, 0xF3, 0xF4, 0x00, 0x01, 0x0F, 0x00, 0x08, 0x70, 0x3C}
	if !bytes.Equal(buf, want) {
		t.Fatalf("Marshal = % X, want % X", buf, want)
	}

	got, err := ParseHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("ParseHeader = %+v, want %+v", got, h)
	}
}

func TestParseHeader_Errors(t *testing.T) {
	t.Parallel()

	_, err := ParseHeader([]byte{0x00, 0x00, 0x00, 0x01, 0x67})
	if !errors.Is(err, ErrNotHeader) {
		t.Errorf("no magic: got %v, want ErrNotHeader", err)
	}

	_, err = ParseHeader([]byte{0xF1, 0xF2, 0xF3, 0xF4, 0x00})
	if !errors.Is(err, ErrNotHeader) {
		t.Errorf("short: got %v, want ErrNotHeader", err)
	}

	_, err = ParseHeader([]byte{0xF1, 0xF2, 0xF3, 0xF4, 0x00, 0x09, 0x05, 0x00, 0x03, 0x00, 0x1E})
	if !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("codec 9: got %v, want ErrUnknownCodec", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Field != "type" {
		t.Errorf("codec 9: want *ParseError for field type, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	ok := Header{Codec: media.CodecH264, Width: 1280, Height: 768, FPS: 30}.Marshal()
	bad := Header{Status: 1, Codec: media.CodecH264, Width: 1280, Height: 768, FPS: 30}.Marshal()
	withTrailer := append(Header{Codec: media.CodecH264, Width: 640, Height: 360, FPS: 25}.Marshal(), 0xAA, 0xBB)

	tests := []struct {
		name     string
		chunk    []byte
		wantKind Kind
		wantOK   bool
	}{
		{"ok header", ok, KindHeader, true},
		{"exception header", bad, KindHeader, false},
		{"header with trailing bytes", withTrailer, KindHeader, true},
		{"payload", bytes.Repeat([]byte{0x42}, 12), KindPayload, false},
		{"magic but short", []byte{0xF1, 0xF2, 0xF3, 0xF4, 0x00, 0x00}, KindPayload, false},
		{"magic not at offset 0", append([]byte{0x00}, ok...), KindPayload, false},
		{"empty", nil, KindPayload, false},
		{"unknown codec", []byte{0xF1, 0xF2, 0xF3, 0xF4, 0x00, 0x05, 0x00, 0x10, 0x00, 0x10, 0x19}, KindMalformed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, h, _ := Classify(tt.chunk)
			if kind != tt.wantKind {
				t.Fatalf("kind = %v, want %v", kind, tt.wantKind)
			}
			if kind == KindHeader && h.OK() != tt.wantOK {
				t.Errorf("OK() = %v, want %v", h.OK(), tt.wantOK)
			}
		})
	}
}

func FuzzClassify(f *testing.F) {
	f.Add(Header{Codec: media.CodecH264, Width: 1280, Height: 720, FPS: 30}.Marshal())
	f.Add([]byte{0xF1, 0xF2, 0xF3, 0xF4})
	f.Add([]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88})

	f.Fuzz(func(t *testing.T, chunk []byte) {
		kind, h, err := Classify(chunk)
		switch kind {
		case KindPayload:
			if err != nil {
				t.Fatalf("payload with error %v", err)
			}
		case KindHeader:
			if err != nil {
				t.Fatalf("header with error %v", err)
			}
			if !bytes.Equal(h.Marshal(), chunk[:HeaderSize]) {
				t.Fatalf("header does not re-encode to its input")
			}
		case KindMalformed:
			if err == nil {
				t.Fatal("malformed without error")
			}
		}
	})
}
