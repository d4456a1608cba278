package sqfh

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderEncodeSize(t *testing.T) {
	encoded := Header{SampleRate: 44100, BitDepth: 32, Encoding: EncodingPCM}.Encode()

	if len(encoded) != HeaderSize {
		t.Errorf("encoded header should be %d bytes, got %d", HeaderSize, len(encoded))
	}
}

func TestHeaderEncodeLayout(t *testing.T) {
	// 44100Hz 32-bit PCM, the initial default format
	encoded := Header{SampleRate: 44100, BitDepth: 32, Encoding: EncodingPCM}.Encode()

	want := []byte{
		0x53, 0x51, 0x46, 0x48, // "SQFH"
		0x01,                   // version
		0x02,                   // channels
		0x20,                   // bit depth 32
		0x00,                   // pcm
		0x44, 0xAC, 0x00, 0x00, // 44100 little-endian
		0x00, 0x00, 0x00, 0x00, // reserved
	}
	if !bytes.Equal(encoded, want) {
		t.Errorf("encoded header mismatch:\ngot:  %x\nwant: %x", encoded, want)
	}
}

func TestHeaderEncodeRate48000(t *testing.T) {
	encoded := Header{SampleRate: 48000, BitDepth: 32, Encoding: EncodingPCM}.Encode()

	// bytes 8-11 must decode to 48000 little-endian
	want := []byte{0x80, 0xBB, 0x00, 0x00}
	if !bytes.Equal(encoded[8:12], want) {
		t.Errorf("sample rate bytes should be %x, got %x", want, encoded[8:12])
	}
}

func TestHeaderEncodeDoP(t *testing.T) {
	// DoP streams always advertise 24 significant bits
	encoded := Header{SampleRate: 88200, BitDepth: 24, Encoding: EncodingDoP}.Encode()

	if encoded[6] != 24 {
		t.Errorf("DoP bit depth byte should be 24, got %d", encoded[6])
	}
	if encoded[7] != 1 {
		t.Errorf("DoP encoding byte should be 1, got %d", encoded[7])
	}
	want := []byte{0x88, 0x58, 0x01, 0x00} // 88200 little-endian
	if !bytes.Equal(encoded[8:12], want) {
		t.Errorf("sample rate bytes should be %x, got %x", want, encoded[8:12])
	}
}

func TestHeaderEncodeNativeDSD(t *testing.T) {
	tests := []struct {
		name     string
		encoding Encoding
		wantCode uint8
	}{
		{"dsd_u32_le", EncodingDSDU32LE, 2},
		{"dsd_u32_be", EncodingDSDU32BE, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Header{SampleRate: 352800, BitDepth: 1, Encoding: tt.encoding}.Encode()

			if encoded[6] != 1 {
				t.Errorf("native DSD bit depth byte should be 1, got %d", encoded[6])
			}
			if encoded[7] != tt.wantCode {
				t.Errorf("encoding byte should be %d, got %d", tt.wantCode, encoded[7])
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		hdr  Header
	}{
		{"cd pcm", Header{SampleRate: 44100, BitDepth: 16, Encoding: EncodingPCM}},
		{"hires pcm", Header{SampleRate: 192000, BitDepth: 24, Encoding: EncodingPCM}},
		{"dop", Header{SampleRate: 176400, BitDepth: 24, Encoding: EncodingDoP}},
		{"native dsd", Header{SampleRate: 352800, BitDepth: 1, Encoding: EncodingDSDU32BE}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Parse(tt.hdr.Encode())
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if parsed != tt.hdr {
				t.Errorf("round trip mismatch: got %+v, want %+v", parsed, tt.hdr)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	valid := Header{SampleRate: 44100, BitDepth: 32, Encoding: EncodingPCM}.Encode()

	t.Run("truncated", func(t *testing.T) {
		_, err := Parse(valid[:10])
		if !errors.Is(err, ErrTruncatedHeader) {
			t.Errorf("expected ErrTruncatedHeader, got %v", err)
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		b := append([]byte(nil), valid...)
		b[0] = 'X'
		_, err := Parse(b)
		if !errors.Is(err, ErrBadMagic) {
			t.Errorf("expected ErrBadMagic, got %v", err)
		}
	})

	t.Run("bad version", func(t *testing.T) {
		b := append([]byte(nil), valid...)
		b[4] = 9
		_, err := Parse(b)
		if !errors.Is(err, ErrBadVersion) {
			t.Errorf("expected ErrBadVersion, got %v", err)
		}
	})

	t.Run("bad channels", func(t *testing.T) {
		b := append([]byte(nil), valid...)
		b[5] = 6
		_, err := Parse(b)
		if !errors.Is(err, ErrBadChannelCount) {
			t.Errorf("expected ErrBadChannelCount, got %v", err)
		}
	})

	t.Run("bad encoding", func(t *testing.T) {
		b := append([]byte(nil), valid...)
		b[7] = 200
		_, err := Parse(b)
		if !errors.Is(err, ErrBadEncoding) {
			t.Errorf("expected ErrBadEncoding, got %v", err)
		}
	})
}

func TestIsHeader(t *testing.T) {
	valid := Header{SampleRate: 96000, BitDepth: 24, Encoding: EncodingPCM}.Encode()

	if !IsHeader(valid) {
		t.Error("IsHeader should accept a valid encoded header")
	}

	t.Run("short buffer", func(t *testing.T) {
		if IsHeader(valid[:15]) {
			t.Error("IsHeader should reject buffers shorter than HeaderSize")
		}
	})

	t.Run("wrong magic", func(t *testing.T) {
		b := append([]byte(nil), valid...)
		b[2] = 0
		if IsHeader(b) {
			t.Error("IsHeader should reject wrong magic")
		}
	})

	t.Run("nonzero reserved", func(t *testing.T) {
		// payload that happens to start with the magic but carries data
		// in the reserved bytes must not be mistaken for a header
		b := append([]byte(nil), valid...)
		b[13] = 0x7F
		if IsHeader(b) {
			t.Error("IsHeader should reject nonzero reserved bytes")
		}
	})

	t.Run("invalid encoding code", func(t *testing.T) {
		b := append([]byte(nil), valid...)
		b[7] = 4
		if IsHeader(b) {
			t.Error("IsHeader should reject unknown encoding codes")
		}
	})
}

func TestEncodingString(t *testing.T) {
	tests := []struct {
		encoding Encoding
		want     string
	}{
		{EncodingPCM, "pcm"},
		{EncodingDoP, "dop"},
		{EncodingDSDU32LE, "dsd_u32_le"},
		{EncodingDSDU32BE, "dsd_u32_be"},
		{Encoding(7), "encoding(7)"},
	}

	for _, tt := range tests {
		if got := tt.encoding.String(); got != tt.want {
			t.Errorf("Encoding(%d).String() = %q, want %q", uint8(tt.encoding), got, tt.want)
		}
	}
}

func TestHeaderString(t *testing.T) {
	h := Header{SampleRate: 48000, BitDepth: 32, Encoding: EncodingPCM}
	want := "48000Hz/32bit pcm"
	if got := h.String(); got != want {
		t.Errorf("Header.String() = %q, want %q", got, want)
	}
}
