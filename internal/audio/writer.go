package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"wavepipe.click/internal/sqfh"
)

// Defaults for the output loop.
const (
	DefaultBlockFrames = 2048
	DefaultIdleSleep   = 10 * time.Millisecond
)

// Package-level errors for writer lifecycle
var (
	ErrWriterStarted    = errors.New("output writer already started")
	ErrWriterNotStarted = errors.New("output writer not started")
	ErrNoOutput         = errors.New("output channel is nil")
	ErrNoBuffer         = errors.New("audio buffer is nil")
	ErrBadBlockFrames   = errors.New("block frames must be positive")
)

// scratch is the loop-owned render buffer. Bytes accumulate across the
// locked render phase of one iteration and are flushed to the channel
// outside the lock. It also owns the silence sources.
type scratch struct {
	buf    []byte
	fill   int // frames accumulated this iteration
	bpf    int // wire bytes per frame, fixed per session
	frames int // block capacity in frames

	zeros []int32 // PCM silence, never mutated
	dsd   []int32 // DSD silence, refilled per use because DoP marks it up
}

func newScratch(blockFrames, bytesPerFrame int) *scratch {
	return &scratch{
		buf:    make([]byte, blockFrames*bytesPerFrame),
		bpf:    bytesPerFrame,
		frames: blockFrames,
		zeros:  make([]int32, blockFrames*ChannelCount),
		dsd:    make([]int32, blockFrames*ChannelCount),
	}
}

func (s *scratch) pcmSilence(frames int) []int32 {
	return s.zeros[:frames*ChannelCount]
}

func (s *scratch) dsdSilence(frames int) []int32 {
	w := s.dsd[:frames*ChannelCount]
	fillDSDSilence(w)
	return w
}

func (s *scratch) append(src []int32, frames int, gainL, gainR int32, flags RenderFlags, format SampleFormat) {
	scaleAndPack(s.buf[s.fill*s.bpf:], src, frames, gainL, gainR, flags, format)
	s.fill += frames
}

// WriterConfig tunes the output loop.
type WriterConfig struct {
	// BlockFrames is the number of frames rendered per iteration.
	// Defaults to DefaultBlockFrames.
	BlockFrames int

	// IdleSleep is the back-off when no audio and no header are
	// pending. Defaults to DefaultIdleSleep.
	IdleSleep time.Duration

	// OnBoundary, when set, is invoked outside the lock after each
	// track boundary has been processed, with the header that was (or
	// would have been) announced and whether it actually went out on
	// the wire. The callee is expected to acknowledge the boundary via
	// Buffer.AckTrackStarted once it has been reported.
	OnBoundary func(hdr sqfh.Header, emitted bool)
}

// Writer is the output loop: one goroutine that drains the shared
// buffer, renders one block per iteration into the scratch buffer under
// the buffer lock, and performs all channel writes outside the lock. A
// format header is written before any track whose (rate, depth,
// dsd-format) triple differs from the last one announced, after all
// pending audio of the previous track.
type Writer struct {
	buf   *Buffer
	out   io.Writer
	flush func() error

	blockFrames int
	idleSleep   time.Duration
	onBoundary  func(sqfh.Header, bool)

	s *scratch

	started bool
	stop    bool  // guarded by buf.mu
	err     error // guarded by buf.mu
	done    chan struct{}
}

// NewWriter wires a Writer to a buffer and an output channel. When out
// implements Flush, every channel write is flushed through it.
func NewWriter(buf *Buffer, out io.Writer, cfg WriterConfig) *Writer {
	w := &Writer{
		buf:         buf,
		out:         out,
		blockFrames: cfg.BlockFrames,
		idleSleep:   cfg.IdleSleep,
		onBoundary:  cfg.OnBoundary,
	}
	if w.blockFrames == 0 {
		w.blockFrames = DefaultBlockFrames
	}
	if w.idleSleep <= 0 {
		w.idleSleep = DefaultIdleSleep
	}
	if f, ok := out.(interface{ Flush() error }); ok {
		w.flush = f.Flush
	}
	return w
}

// Start validates the configuration, sizes the scratch buffer and
// launches the output goroutine. A validation failure aborts the start
// and the loop never runs.
func (w *Writer) Start() error {
	if w.started {
		return ErrWriterStarted
	}
	if w.buf == nil {
		return ErrNoBuffer
	}
	if w.out == nil {
		return ErrNoOutput
	}
	if w.blockFrames <= 0 {
		return fmt.Errorf("%w: %d", ErrBadBlockFrames, w.blockFrames)
	}

	bytesPerFrame := w.buf.ensureStartDefaults(w.blockFrames)
	w.s = newScratch(w.blockFrames, bytesPerFrame)
	w.done = make(chan struct{})
	w.started = true

	slog.Info("output writer started",
		"block_frames", w.blockFrames,
		"bytes_per_frame", bytesPerFrame,
		"idle_sleep", w.idleSleep)

	go w.run()
	return nil
}

// Stop signals the loop under the buffer lock and blocks until the
// goroutine acknowledges exit, then reports any loop error. No in-flight
// write is interrupted. Safe to call more than once.
func (w *Writer) Stop() error {
	if !w.started {
		return ErrWriterNotStarted
	}
	w.buf.mu.Lock()
	w.stop = true
	w.buf.mu.Unlock()
	<-w.done
	return w.Err()
}

// Wait blocks until the loop exits on its own: input drained and fully
// played out, or a channel write failure.
func (w *Writer) Wait() error {
	if !w.started {
		return ErrWriterNotStarted
	}
	<-w.done
	return w.Err()
}

// Err returns the loop's terminal error, if any. Meaningful once Stop
// or Wait has returned.
func (w *Writer) Err() error {
	w.buf.mu.Lock()
	defer w.buf.mu.Unlock()
	return w.err
}

func (w *Writer) run() {
	defer close(w.done)

	// Boundary decision state, local to the loop. lastHdr holds exactly
	// the compared triple: rate, bit depth, dsd format. The render stops
	// at each boundary mark, so the applied counter advances by at most
	// one per iteration and every boundary gets its own decision.
	firstTrackSeen := false
	var boundariesSeen uint64
	var lastHdr sqfh.Header

	b := w.buf
	for {
		b.mu.Lock()
		if w.stop {
			played := b.framesPlayed
			b.mu.Unlock()
			slog.Info("output loop stopped", "frames_played", played)
			return
		}

		b.snapshotTelemetry(time.Now())
		b.outputFrames(w.blockFrames, w.s)

		headerPending := false
		boundarySeen := false
		var hdr sqfh.Header

		if b.boundariesApplied > boundariesSeen {
			boundariesSeen = b.boundariesApplied
			hdr = BuildHeader(b.format, b.dsdEnabled)
			boundarySeen = true
			// announce only when the format actually changed, so
			// same-format tracks flow gapless
			if !firstTrackSeen || hdr != lastHdr {
				headerPending = true
				lastHdr = hdr
			}
			if !firstTrackSeen {
				// anything rendered this pass predates the first mark
				// and must not reach the channel
				w.s.fill = 0
			}
			firstTrackSeen = true
		}

		finished := b.drained && b.count == 0
		b.mu.Unlock()

		if !firstTrackSeen {
			// pre-track silence must never reach the channel: the
			// consumer requires the very first bytes to be a header
			w.s.fill = 0
			if finished {
				slog.Info("input drained before any track, output loop exiting")
				return
			}
			time.Sleep(w.idleSleep)
			continue
		}

		if w.s.fill > 0 {
			if err := w.writeAll(w.s.buf[:w.s.fill*w.s.bpf]); err != nil {
				w.fail(err)
				return
			}
			w.s.fill = 0
		} else if !headerPending {
			if finished {
				slog.Info("input drained and played out, output loop exiting")
				return
			}
			time.Sleep(w.idleSleep)
		}

		if headerPending {
			if err := w.writeAll(hdr.Encode()); err != nil {
				w.fail(err)
				return
			}
			slog.Info("format header emitted", "header", hdr.String())
		}

		if boundarySeen {
			slog.Debug("track boundary processed", "header", hdr.String(), "emitted", headerPending)
			if w.onBoundary != nil {
				w.onBoundary(hdr, headerPending)
			}
		}
	}
}

// writeAll performs one blocking channel write outside the lock. A
// short write without an error is still fatal.
func (w *Writer) writeAll(p []byte) error {
	n, err := w.out.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return err
	}
	if w.flush != nil {
		return w.flush()
	}
	return nil
}

func (w *Writer) fail(err error) {
	w.buf.mu.Lock()
	w.err = fmt.Errorf("output channel write failed: %w", err)
	w.buf.mu.Unlock()
	slog.Error("output channel write failed, stopping output loop", "error", err)
}
