package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// StdinPath selects standard input as a track's source.
const StdinPath = "-"

// Package-level errors for track ingest
var (
	ErrEmptyTrackSpec = errors.New("track spec is empty")
	ErrBadTrackOption = errors.New("unknown track option")
)

// Track describes one raw input: a file path (or "-" for stdin) plus
// the format of its samples. Nothing is sniffed; the format comes from
// the track argument or from configured defaults.
type Track struct {
	Path       string
	SampleRate int
	BitDepth   int // input sample width: 16, 24 or 32, little-endian
	OutFormat  OutFormat
	Invert     bool
}

// ParseTrack parses a track argument of the form
// path[:rate[:bits[:format[:invert]]]]. Omitted fields fall back to the
// given defaults. format is one of pcm, dop, dop_s24_le, dop_s24_3le,
// dsd_u32_le or dsd_u32_be; the literal "invert" flips DSD polarity.
// DSD tracks must use 32-bit input words.
func ParseTrack(spec string, defaultRate, defaultBits int) (Track, error) {
	if spec == "" {
		return Track{}, ErrEmptyTrackSpec
	}
	parts := strings.Split(spec, ":")
	t := Track{Path: parts[0], SampleRate: defaultRate, BitDepth: defaultBits}
	if t.Path == "" {
		return Track{}, ErrEmptyTrackSpec
	}
	if len(parts) > 1 && parts[1] != "" {
		rate, err := strconv.Atoi(parts[1])
		if err != nil || rate <= 0 {
			return Track{}, fmt.Errorf("%w: %q", ErrBadSampleRate, parts[1])
		}
		t.SampleRate = rate
	}
	if len(parts) > 2 && parts[2] != "" {
		bits, err := strconv.Atoi(parts[2])
		if err != nil {
			return Track{}, fmt.Errorf("%w: %q", ErrBadBitDepth, parts[2])
		}
		switch bits {
		case 16, 24, 32:
			t.BitDepth = bits
		default:
			return Track{}, fmt.Errorf("%w: %d", ErrBadBitDepth, bits)
		}
	}
	if len(parts) > 3 && parts[3] != "" {
		of, err := ParseOutFormat(parts[3])
		if err != nil {
			return Track{}, err
		}
		t.OutFormat = of
	}
	if len(parts) > 4 {
		if parts[4] != "invert" {
			return Track{}, fmt.Errorf("%w: %q", ErrBadTrackOption, parts[4])
		}
		t.Invert = true
	}
	if t.OutFormat.IsDSD() && t.BitDepth != 32 {
		return Track{}, fmt.Errorf("%w: dsd tracks use 32-bit words", ErrBadBitDepth)
	}
	return t, nil
}

// FileSource feeds a track list of raw audio into the shared buffer:
// it widens little-endian input samples to s32 frames, deposits them
// through the producer API with back-pressure, stages a boundary per
// track and marks the buffer drained at the end of the list.
type FileSource struct {
	// FS is the filesystem tracks are read from.
	FS afero.Fs
	// Stdin backs the "-" pseudo path.
	Stdin io.Reader
	// ChunkFrames is the deposit granularity.
	ChunkFrames int
	// FadeFrames cross-fades consecutive tracks when positive;
	// zero keeps plain gapless playback.
	FadeFrames int
	// WaitSleep is the back-off while the ring is full.
	WaitSleep time.Duration

	buf    *Buffer
	tracks []Track
}

// NewFileSource returns a FileSource over the OS filesystem and stdin.
func NewFileSource(buf *Buffer, tracks []Track) *FileSource {
	return &FileSource{
		FS:          afero.NewOsFs(),
		Stdin:       os.Stdin,
		ChunkFrames: DefaultBlockFrames,
		WaitSleep:   DefaultIdleSleep,
		buf:         buf,
		tracks:      tracks,
	}
}

// Run plays the track list into the buffer. It blocks until the list is
// exhausted, the context is canceled or an error occurs, and marks the
// buffer drained on the way out so the output loop can finish.
func (s *FileSource) Run(ctx context.Context) error {
	defer s.buf.Drain()

	for i, t := range s.tracks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && s.FadeFrames > 0 {
			if err := s.buf.BeginCrossFade(s.FadeFrames); err != nil {
				return fmt.Errorf("staging cross-fade before %s: %w", t.Path, err)
			}
		}
		if err := s.buf.StartTrack(TrackFormat{
			SampleRate: t.SampleRate,
			OutFormat:  t.OutFormat,
			Invert:     t.Invert,
		}); err != nil {
			return fmt.Errorf("staging track %s: %w", t.Path, err)
		}
		if err := s.feed(ctx, t); err != nil {
			return fmt.Errorf("feeding track %s: %w", t.Path, err)
		}
	}
	slog.Info("track list finished", "tracks", len(s.tracks))
	return nil
}

func (s *FileSource) feed(ctx context.Context, t Track) error {
	var r io.Reader
	if t.Path == StdinPath {
		r = s.Stdin
	} else {
		f, err := s.FS.Open(t.Path)
		if err != nil {
			return fmt.Errorf("opening track: %w", err)
		}
		defer f.Close()
		r = f
	}

	frameBytes := ChannelCount * t.BitDepth / 8
	chunk := make([]byte, s.ChunkFrames*frameBytes)
	samples := make([]int32, s.ChunkFrames*ChannelCount)
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, chunk)
		frames := n / frameBytes
		if rem := n % frameBytes; rem != 0 {
			slog.Warn("dropping torn frame bytes at end of input", "path", t.Path, "bytes", rem)
		}
		if frames > 0 {
			widenSamples(samples[:frames*ChannelCount], chunk, t.BitDepth)
			if derr := s.deposit(ctx, samples[:frames*ChannelCount]); derr != nil {
				return derr
			}
			total += frames
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			slog.Debug("track finished", "path", t.Path, "frames", total)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading track: %w", err)
		}
	}
}

// deposit pushes samples into the ring, backing off briefly whenever it
// is full.
func (s *FileSource) deposit(ctx context.Context, samples []int32) error {
	for len(samples) > 0 {
		n, err := s.buf.WriteFrames(samples)
		if err != nil {
			return err
		}
		samples = samples[n*ChannelCount:]
		if len(samples) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.WaitSleep):
		}
	}
	return nil
}

// widenSamples converts little-endian input samples to MSB-justified
// s32. bits must be 16, 24 or 32.
func widenSamples(dst []int32, src []byte, bits int) {
	switch bits {
	case 16:
		for i := range dst {
			dst[i] = int32(int16(binary.LittleEndian.Uint16(src[i*2:]))) << 16
		}
	case 24:
		for i := range dst {
			o := i * 3
			dst[i] = int32(uint32(src[o])<<8 | uint32(src[o+1])<<16 | uint32(src[o+2])<<24)
		}
	default:
		for i := range dst {
			dst[i] = int32(binary.LittleEndian.Uint32(src[i*4:]))
		}
	}
}
