package audio

import (
	"encoding/binary"
	"math"
)

// GainUnity is the 16.16 fixed-point gain that leaves samples untouched.
const GainUnity int32 = 0x10000

// RenderFlags adjust channel routing during packing.
type RenderFlags uint8

const (
	// MonoRight plays the right channel on both outputs.
	MonoRight RenderFlags = 1 << iota
	// MonoLeft plays the left channel on both outputs.
	MonoLeft
)

// applyGain multiplies a sample by a 16.16 fixed-point gain.
func applyGain(gain int32, sample int32) int32 {
	if gain == GainUnity {
		return sample
	}
	return int32((int64(gain) * int64(sample)) >> 16)
}

// GainFromFloat converts a linear volume in [0,1] to 16.16 fixed point.
func GainFromFloat(v float64) int32 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return int32(math.Round(v * float64(GainUnity)))
}

// scaleAndPack renders interleaved stereo s32 frames from src into dst
// using the requested packing, applying per-channel 16.16 gain and the
// channel routing flags. Samples are MSB-justified s32 internally; the
// 16 and 24 bit packings keep the most significant bits. Returns the
// number of bytes written. dst must hold frames*format.BytesPerFrame().
func scaleAndPack(dst []byte, src []int32, frames int, gainL, gainR int32, flags RenderFlags, format SampleFormat) int {
	n := 0
	for i := 0; i < frames; i++ {
		l := src[2*i]
		r := src[2*i+1]

		switch {
		case flags&MonoLeft != 0 && flags&MonoRight != 0:
			mixed := int32((int64(l) + int64(r)) / 2)
			l, r = mixed, mixed
		case flags&MonoLeft != 0:
			r = l
		case flags&MonoRight != 0:
			l = r
		}

		l = applyGain(gainL, l)
		r = applyGain(gainR, r)

		switch format {
		case S16LE:
			binary.LittleEndian.PutUint16(dst[n:], uint16(l>>16))
			binary.LittleEndian.PutUint16(dst[n+2:], uint16(r>>16))
			n += 4
		case S24LE3:
			lv := uint32(l >> 8)
			dst[n] = byte(lv)
			dst[n+1] = byte(lv >> 8)
			dst[n+2] = byte(lv >> 16)
			rv := uint32(r >> 8)
			dst[n+3] = byte(rv)
			dst[n+4] = byte(rv >> 8)
			dst[n+5] = byte(rv >> 16)
			n += 6
		case S24LE:
			binary.LittleEndian.PutUint32(dst[n:], uint32(l>>8))
			binary.LittleEndian.PutUint32(dst[n+4:], uint32(r>>8))
			n += 8
		default: // S32LE
			binary.LittleEndian.PutUint32(dst[n:], uint32(l))
			binary.LittleEndian.PutUint32(dst[n+4:], uint32(r))
			n += 8
		}
	}
	return n
}

// applyCross blends the fading-out tail of the previous track into the
// incoming samples in place. Gains are 16.16 fixed point; the sum
// saturates instead of wrapping.
func applyCross(dst []int32, tail []int32, gainIn, gainOut int32) {
	n := len(dst)
	if len(tail) < n {
		n = len(tail)
	}
	for i := 0; i < n; i++ {
		v := int64(applyGain(gainIn, dst[i])) + int64(applyGain(gainOut, tail[i]))
		if v > math.MaxInt32 {
			v = math.MaxInt32
		}
		if v < math.MinInt32 {
			v = math.MinInt32
		}
		dst[i] = int32(v)
	}
}
