package sink

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"wavepipe.click/internal/sqfh"
)

// WavSink archives a stream as WAV files, one file per format run.
// Files are named <prefix>-NNN.wav, numbered from zero in run order.
// DSD runs have no WAV representation and are refused.
type WavSink struct {
	fs     afero.Fs
	prefix string

	file    afero.File
	encoder *wav.Encoder
	hdr     sqfh.Header
	sample  int // wire bytes per sample of the current run
	pending []byte
	frames  int
	runs    int
	closed  bool
}

// NewWavSink returns a sink writing WAV files onto fs under the given
// path prefix.
func NewWavSink(fs afero.Fs, prefix string) *WavSink {
	return &WavSink{fs: fs, prefix: prefix}
}

// Runs returns the number of files opened so far.
func (w *WavSink) Runs() int {
	return w.runs
}

// StartRun finalizes the previous run's file, if any, and opens the next
// numbered file for the new format.
func (w *WavSink) StartRun(hdr sqfh.Header) error {
	if w.closed {
		return ErrSinkClosed
	}
	if hdr.Encoding != sqfh.EncodingPCM {
		return fmt.Errorf("%w: cannot archive %s as wav", ErrUnsupportedRun, hdr.Encoding)
	}
	switch hdr.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d-bit pcm", ErrUnsupportedRun, hdr.BitDepth)
	}
	if err := w.closeRun(); err != nil {
		return err
	}

	path := fmt.Sprintf("%s-%03d.wav", w.prefix, w.runs)
	f, err := w.fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	w.file = f
	w.encoder = wav.NewEncoder(f, int(hdr.SampleRate), int(hdr.BitDepth), sqfh.ChannelCount, 1)
	w.hdr = hdr
	w.sample = int(hdr.BitDepth) / 8
	w.frames = 0
	w.runs++

	slog.Info("wav run opened", "path", path, "sample_rate", hdr.SampleRate, "bit_depth", hdr.BitDepth)
	return nil
}

// Write decodes packed little-endian samples and hands them to the WAV
// encoder. A torn frame at the end of p is carried into the next call;
// the encoder only accepts whole frames.
func (w *WavSink) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrSinkClosed
	}
	if w.encoder == nil {
		return 0, ErrNoRun
	}

	data := p
	if len(w.pending) > 0 {
		data = append(w.pending, p...)
		w.pending = nil
	}
	frameBytes := w.sample * sqfh.ChannelCount
	whole := len(data) / frameBytes * frameBytes
	if whole < len(data) {
		w.pending = append(w.pending, data[whole:]...)
	}
	if whole == 0 {
		return len(p), nil
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			SampleRate:  int(w.hdr.SampleRate),
			NumChannels: sqfh.ChannelCount,
		},
		SourceBitDepth: int(w.hdr.BitDepth),
		Data:           make([]int, whole/w.sample),
	}
	for i := range buf.Data {
		buf.Data[i] = decodeSample(data[i*w.sample:], w.sample)
	}
	if err := w.encoder.Write(buf); err != nil {
		return 0, fmt.Errorf("encoding wav samples: %w", err)
	}
	w.frames += len(buf.Data) / sqfh.ChannelCount
	return len(p), nil
}

// Close finalizes the file of the last run. Close is idempotent.
func (w *WavSink) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeRun()
}

func (w *WavSink) closeRun() error {
	if w.encoder == nil {
		return nil
	}
	if len(w.pending) > 0 {
		slog.Warn("dropping torn frame bytes at end of run", "bytes", len(w.pending))
		w.pending = nil
	}
	err := w.encoder.Close()
	cerr := w.file.Close()
	slog.Info("wav run closed", "frames", w.frames)
	w.encoder = nil
	w.file = nil
	if err != nil {
		return fmt.Errorf("finalizing wav file: %w", err)
	}
	if cerr != nil {
		return fmt.Errorf("closing wav file: %w", cerr)
	}
	return nil
}

// decodeSample reads one little-endian signed sample of the given width.
func decodeSample(b []byte, width int) int {
	switch width {
	case 2:
		return int(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		return int(int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8)
	default:
		return int(int32(binary.LittleEndian.Uint32(b)))
	}
}
