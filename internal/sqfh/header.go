// Package sqfh implements the in-band format header that wavepipe writes
// to stdout whenever the audio format changes. Consumers read the 16-byte
// header synchronously from the byte stream, so format changes need no
// side channel.
package sqfh

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Encoding identifies how the frames following a header are encoded.
type Encoding uint8

const (
	EncodingPCM      Encoding = 0 // plain PCM samples
	EncodingDoP      Encoding = 1 // DSD over PCM, markers in the top byte
	EncodingDSDU32LE Encoding = 2 // native DSD in little-endian 32-bit chunks
	EncodingDSDU32BE Encoding = 3 // native DSD in big-endian 32-bit chunks
)

// String returns the encoding name used in logs.
func (e Encoding) String() string {
	switch e {
	case EncodingPCM:
		return "pcm"
	case EncodingDoP:
		return "dop"
	case EncodingDSDU32LE:
		return "dsd_u32_le"
	case EncodingDSDU32BE:
		return "dsd_u32_be"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

func (e Encoding) valid() bool {
	return e <= EncodingDSDU32BE
}

const (
	// HeaderSize is the wire size of an encoded header.
	HeaderSize = 16

	// Version is the protocol version this package reads and writes.
	Version = 1

	// ChannelCount is fixed at stereo in protocol version 1.
	ChannelCount = 2
)

// magic identifies a format header in the byte stream ("SQFH").
var magic = [4]byte{0x53, 0x51, 0x46, 0x48}

// Package-level errors for header parsing
var (
	ErrTruncatedHeader = errors.New("format header truncated")
	ErrBadMagic        = errors.New("format header magic mismatch")
	ErrBadVersion      = errors.New("unsupported format header version")
	ErrBadChannelCount = errors.New("unsupported channel count")
	ErrBadEncoding     = errors.New("unknown stream encoding code")
)

// Header describes the format of the frames that follow it on the wire.
// BitDepth is 16, 24 or 32 for PCM, 24 for DoP and 1 for native DSD.
type Header struct {
	SampleRate uint32
	BitDepth   uint8
	Encoding   Encoding
}

// Encode returns the 16-byte wire encoding of the header.
//
// Layout: magic "SQFH", version, channel count, bit depth, encoding code,
// little-endian sample rate, four reserved zero bytes.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], magic[:])
	buf[4] = Version
	buf[5] = ChannelCount
	buf[6] = h.BitDepth
	buf[7] = uint8(h.Encoding)
	binary.LittleEndian.PutUint32(buf[8:12], h.SampleRate)
	// bytes 12-15 reserved, left zero
	return buf
}

// Parse decodes a header from the first HeaderSize bytes of b.
func Parse(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncatedHeader, len(b), HeaderSize)
	}
	if !bytes.Equal(b[0:4], magic[:]) {
		return Header{}, ErrBadMagic
	}
	if b[4] != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, b[4])
	}
	if b[5] != ChannelCount {
		return Header{}, fmt.Errorf("%w: %d", ErrBadChannelCount, b[5])
	}
	enc := Encoding(b[7])
	if !enc.valid() {
		return Header{}, fmt.Errorf("%w: %d", ErrBadEncoding, b[7])
	}
	return Header{
		SampleRate: binary.LittleEndian.Uint32(b[8:12]),
		BitDepth:   b[6],
		Encoding:   enc,
	}, nil
}

// IsHeader reports whether b starts with a complete, valid header.
// Candidates are vetted on every fixed field so that audio payload
// rarely aliases a header by accident.
func IsHeader(b []byte) bool {
	if len(b) < HeaderSize {
		return false
	}
	if !bytes.Equal(b[0:4], magic[:]) {
		return false
	}
	if b[4] != Version || b[5] != ChannelCount {
		return false
	}
	if !Encoding(b[7]).valid() {
		return false
	}
	// reserved bytes must be zero
	return b[12] == 0 && b[13] == 0 && b[14] == 0 && b[15] == 0
}

// String returns a compact description used in logs, e.g. "48000Hz/24bit dop".
func (h Header) String() string {
	return fmt.Sprintf("%dHz/%dbit %s", h.SampleRate, h.BitDepth, h.Encoding)
}
