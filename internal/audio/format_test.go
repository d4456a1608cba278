package audio

import (
	"errors"
	"testing"

	"wavepipe.click/internal/sqfh"
)

func TestSampleFormatForBits(t *testing.T) {
	tests := []struct {
		bits int
		want SampleFormat
	}{
		{16, S16LE},
		{24, S24LE3},
		{32, S32LE},
	}

	for _, tt := range tests {
		got, err := SampleFormatForBits(tt.bits)
		if err != nil {
			t.Errorf("SampleFormatForBits(%d) failed: %v", tt.bits, err)
		}
		if got != tt.want {
			t.Errorf("SampleFormatForBits(%d) should be %s, got %s", tt.bits, tt.want, got)
		}
	}

	if _, err := SampleFormatForBits(20); !errors.Is(err, ErrBadBitDepth) {
		t.Errorf("Expected ErrBadBitDepth for 20 bits, got %v", err)
	}
}

func TestSampleFormatSizes(t *testing.T) {
	tests := []struct {
		format    SampleFormat
		perSample int
		perFrame  int
		depth     uint8
	}{
		{S16LE, 2, 4, 16},
		{S24LE3, 3, 6, 24},
		{S24LE, 4, 8, 24},
		{S32LE, 4, 8, 32},
	}

	for _, tt := range tests {
		if got := tt.format.BytesPerSample(); got != tt.perSample {
			t.Errorf("%s BytesPerSample should be %d, got %d", tt.format, tt.perSample, got)
		}
		if got := tt.format.BytesPerFrame(); got != tt.perFrame {
			t.Errorf("%s BytesPerFrame should be %d, got %d", tt.format, tt.perFrame, got)
		}
		if got := tt.format.BitDepth(); got != tt.depth {
			t.Errorf("%s BitDepth should be %d, got %d", tt.format, tt.depth, got)
		}
	}
}

func TestParseOutFormat(t *testing.T) {
	tests := []struct {
		spelling string
		want     OutFormat
	}{
		{"pcm", FormatPCM},
		{"", FormatPCM},
		{"dop", FormatDoP},
		{"dop_s24_le", FormatDoPS24LE},
		{"dop_s24_3le", FormatDoPS24LE3},
		{"dsd_u32_le", FormatDSDU32LE},
		{"dsd_u32_be", FormatDSDU32BE},
	}

	for _, tt := range tests {
		got, err := ParseOutFormat(tt.spelling)
		if err != nil {
			t.Errorf("ParseOutFormat(%q) failed: %v", tt.spelling, err)
		}
		if got != tt.want {
			t.Errorf("ParseOutFormat(%q) should be %s, got %s", tt.spelling, tt.want, got)
		}
	}

	if _, err := ParseOutFormat("flac"); !errors.Is(err, ErrBadOutFormat) {
		t.Errorf("Expected ErrBadOutFormat, got %v", err)
	}
}

func TestOutFormatClassification(t *testing.T) {
	if FormatPCM.IsDSD() || FormatPCM.IsDoP() {
		t.Error("PCM should be neither DSD nor DoP")
	}
	for _, f := range []OutFormat{FormatDoP, FormatDoPS24LE, FormatDoPS24LE3} {
		if !f.IsDoP() || !f.IsDSD() {
			t.Errorf("%s should be both DoP and DSD", f)
		}
	}
	for _, f := range []OutFormat{FormatDSDU32LE, FormatDSDU32BE} {
		if f.IsDoP() {
			t.Errorf("%s should not be DoP", f)
		}
		if !f.IsDSD() {
			t.Errorf("%s should be DSD", f)
		}
	}
}

func TestBuildHeaderPCM(t *testing.T) {
	tests := []struct {
		packing SampleFormat
		depth   uint8
	}{
		{S16LE, 16},
		{S24LE3, 24},
		{S24LE, 24},
		{S32LE, 32},
	}

	for _, tt := range tests {
		state := FormatState{SampleFormat: tt.packing, OutFormat: FormatPCM, SampleRate: 44100}
		hdr := BuildHeader(state, false)
		if hdr.Encoding != sqfh.EncodingPCM {
			t.Errorf("%s: expected pcm encoding, got %s", tt.packing, hdr.Encoding)
		}
		if hdr.BitDepth != tt.depth {
			t.Errorf("%s: expected depth %d, got %d", tt.packing, tt.depth, hdr.BitDepth)
		}
		if hdr.SampleRate != 44100 {
			t.Errorf("%s: expected rate 44100, got %d", tt.packing, hdr.SampleRate)
		}
	}
}

func TestBuildHeaderDoP(t *testing.T) {
	state := FormatState{SampleFormat: S32LE, OutFormat: FormatDoP, SampleRate: 88200}
	hdr := BuildHeader(state, true)

	if hdr.Encoding != sqfh.EncodingDoP {
		t.Errorf("Expected dop encoding, got %s", hdr.Encoding)
	}
	if hdr.BitDepth != 24 {
		t.Errorf("DoP should advertise 24 bits, got %d", hdr.BitDepth)
	}
	if hdr.SampleRate != 88200 {
		t.Errorf("Expected rate 88200, got %d", hdr.SampleRate)
	}
}

func TestBuildHeaderNativeDSD(t *testing.T) {
	tests := []struct {
		format OutFormat
		want   sqfh.Encoding
	}{
		{FormatDSDU32LE, sqfh.EncodingDSDU32LE},
		{FormatDSDU32BE, sqfh.EncodingDSDU32BE},
	}

	for _, tt := range tests {
		state := FormatState{SampleFormat: S32LE, OutFormat: tt.format, SampleRate: 2822400}
		hdr := BuildHeader(state, true)
		if hdr.Encoding != tt.want {
			t.Errorf("%s: expected encoding %s, got %s", tt.format, tt.want, hdr.Encoding)
		}
		if hdr.BitDepth != 1 {
			t.Errorf("%s: native dsd should advertise 1 bit, got %d", tt.format, hdr.BitDepth)
		}
	}
}

func TestBuildHeaderDSDDisabledFallsBackToPCM(t *testing.T) {
	// Without the dsd capability the dsd branches must not fire even if
	// a dsd transport leaked into the state
	state := FormatState{SampleFormat: S24LE3, OutFormat: FormatDoP, SampleRate: 176400}
	hdr := BuildHeader(state, false)

	if hdr.Encoding != sqfh.EncodingPCM {
		t.Errorf("Expected pcm fallback, got %s", hdr.Encoding)
	}
	if hdr.BitDepth != 24 {
		t.Errorf("Fallback depth should follow the packing, got %d", hdr.BitDepth)
	}
}
