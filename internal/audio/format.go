package audio

import (
	"errors"
	"fmt"

	"wavepipe.click/internal/sqfh"
)

// ChannelCount is fixed at stereo throughout the pipeline.
const ChannelCount = 2

// Package-level errors for format selection
var (
	ErrBadBitDepth  = errors.New("output bit depth must be 16, 24 or 32")
	ErrBadOutFormat = errors.New("unknown output transport format")
)

// SampleFormat selects the byte packing of samples on the wire.
type SampleFormat int

const (
	S16LE  SampleFormat = iota // 16-bit little-endian
	S24LE3                     // 24-bit packed into 3 bytes
	S24LE                      // 24-bit in the low bytes of a 32-bit word
	S32LE                      // 32-bit little-endian
)

// BytesPerSample returns the packed width of one sample. Unrecognized
// values fall back to the 32-bit default so the stream stays well formed.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case S16LE:
		return 2
	case S24LE3:
		return 3
	case S24LE:
		return 4
	default:
		return 4
	}
}

// BytesPerFrame returns the wire size of one stereo frame.
func (f SampleFormat) BytesPerFrame() int {
	return ChannelCount * f.BytesPerSample()
}

// BitDepth returns the significant bits advertised in the format header.
func (f SampleFormat) BitDepth() uint8 {
	switch f {
	case S16LE:
		return 16
	case S24LE3, S24LE:
		return 24
	default:
		return 32
	}
}

func (f SampleFormat) String() string {
	switch f {
	case S16LE:
		return "s16_le"
	case S24LE3:
		return "s24_3le"
	case S24LE:
		return "s24_le"
	case S32LE:
		return "s32_le"
	default:
		return fmt.Sprintf("sample_format(%d)", int(f))
	}
}

// SampleFormatForBits maps a configured output bit depth to its packing.
func SampleFormatForBits(bits int) (SampleFormat, error) {
	switch bits {
	case 16:
		return S16LE, nil
	case 24:
		return S24LE3, nil
	case 32:
		return S32LE, nil
	default:
		return S32LE, fmt.Errorf("%w: %d", ErrBadBitDepth, bits)
	}
}

// OutFormat selects the transport encoding of a track: plain PCM or one
// of the DSD modes layered on top of the PCM packing.
type OutFormat int

const (
	FormatPCM       OutFormat = iota
	FormatDoP                 // DSD over PCM in 32-bit words
	FormatDoPS24LE            // DSD over PCM, 24-bit wide samples
	FormatDoPS24LE3           // DSD over PCM, 3-byte samples
	FormatDSDU32LE            // native DSD, little-endian 32-bit words
	FormatDSDU32BE            // native DSD, big-endian 32-bit words
)

// IsDoP reports whether f is any DSD-over-PCM variant.
func (f OutFormat) IsDoP() bool {
	return f == FormatDoP || f == FormatDoPS24LE || f == FormatDoPS24LE3
}

// IsDSD reports whether f carries DSD rather than PCM audio.
func (f OutFormat) IsDSD() bool {
	return f != FormatPCM
}

func (f OutFormat) String() string {
	switch f {
	case FormatPCM:
		return "pcm"
	case FormatDoP:
		return "dop"
	case FormatDoPS24LE:
		return "dop_s24_le"
	case FormatDoPS24LE3:
		return "dop_s24_3le"
	case FormatDSDU32LE:
		return "dsd_u32_le"
	case FormatDSDU32BE:
		return "dsd_u32_be"
	default:
		return fmt.Sprintf("out_format(%d)", int(f))
	}
}

// ParseOutFormat maps a track argument spelling to its transport format.
func ParseOutFormat(s string) (OutFormat, error) {
	switch s {
	case "pcm", "":
		return FormatPCM, nil
	case "dop":
		return FormatDoP, nil
	case "dop_s24_le":
		return FormatDoPS24LE, nil
	case "dop_s24_3le":
		return FormatDoPS24LE3, nil
	case "dsd_u32_le":
		return FormatDSDU32LE, nil
	case "dsd_u32_be":
		return FormatDSDU32BE, nil
	default:
		return FormatPCM, fmt.Errorf("%w: %q", ErrBadOutFormat, s)
	}
}

// FormatState is the output format snapshot shared between the producer
// and the output loop. All access goes through the owning Buffer's lock.
type FormatState struct {
	SampleFormat SampleFormat
	OutFormat    OutFormat
	SampleRate   int
	Invert       bool
}

// BuildHeader maps a format snapshot to its wire header. Pure function,
// caller must hold the buffer lock so the snapshot is consistent. The
// DSD branches apply only when the capability flag is on; unknown
// values normalize to 32-bit PCM so the header is always well formed.
func BuildHeader(s FormatState, dsdEnabled bool) sqfh.Header {
	hdr := sqfh.Header{SampleRate: uint32(s.SampleRate)}
	if dsdEnabled {
		switch s.OutFormat {
		case FormatDoP, FormatDoPS24LE, FormatDoPS24LE3:
			hdr.Encoding = sqfh.EncodingDoP
			hdr.BitDepth = 24
		case FormatDSDU32LE:
			hdr.Encoding = sqfh.EncodingDSDU32LE
			hdr.BitDepth = 1
		case FormatDSDU32BE:
			hdr.Encoding = sqfh.EncodingDSDU32BE
			hdr.BitDepth = 1
		}
	}
	if hdr.Encoding == sqfh.EncodingPCM {
		hdr.BitDepth = s.SampleFormat.BitDepth()
	}
	return hdr
}
