package audio

// DSD idle pattern, the alternating 01101001 bit sequence.
const (
	dsdSilenceByte byte  = 0x69
	dsdSilenceWord int32 = 0x69696969
)

// DoP marker bytes alternate per frame; both channels of a frame carry
// the same marker.
const (
	dopMarkerA byte = 0x05
	dopMarkerB byte = 0xFA
)

// updateDoP overlays the alternating DoP marker onto each 32-bit word of
// the block and optionally inverts the 16 DSD data bits held in bits
// 8-23. The caller keeps marker continuity across blocks by passing the
// same marker location every time.
func updateDoP(words []int32, frames int, invert bool, marker *byte) {
	m := *marker
	for i := 0; i < frames; i++ {
		scaled := uint32(m) << 24
		for ch := 0; ch < ChannelCount; ch++ {
			w := uint32(words[ChannelCount*i+ch])
			if invert {
				w = (^w & 0x00FFFF00) | scaled
			} else {
				w = (w & 0x00FFFF00) | scaled
			}
			words[ChannelCount*i+ch] = int32(w)
		}
		if m == dopMarkerA {
			m = dopMarkerB
		} else {
			m = dopMarkerA
		}
	}
	*marker = m
}

// dsdInvert flips the polarity of native DSD words in place.
func dsdInvert(words []int32, frames int) {
	for i := 0; i < ChannelCount*frames; i++ {
		words[i] = ^words[i]
	}
}

// fillDSDSilence overwrites words with the DSD idle pattern.
func fillDSDSilence(words []int32) {
	for i := range words {
		words[i] = dsdSilenceWord
	}
}
