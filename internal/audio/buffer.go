package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRateHint is assumed when no sample rate was configured.
const DefaultRateHint = 44100

// Package-level errors for buffer operations
var (
	ErrBufferCapacity = errors.New("buffer capacity must be positive")
	ErrPartialFrame   = errors.New("sample data must be frame aligned")
	ErrBufferDrained  = errors.New("buffer already marked drained")
	ErrFormatLocked   = errors.New("format is locked once streaming has begun")
	ErrBadSampleRate  = errors.New("sample rate must be positive")
	ErrDSDDisabled    = errors.New("dsd output is not enabled")
	ErrFormatMismatch = errors.New("track transport format does not fit the session packing")
	ErrFadePending    = errors.New("a cross-fade tail is already staged")
	ErrBadFadeLength  = errors.New("cross-fade length must be positive")
)

// TrackFormat describes the format of an upcoming track, staged at a
// boundary mark and applied when the drain cursor reaches it. The sample
// packing is fixed per session and is not part of it.
type TrackFormat struct {
	SampleRate int
	OutFormat  OutFormat
	Invert     bool
}

// boundaryMark records where in the stream a track begins and what
// format it switches to. Marks queue in deposit order; a producer
// running ahead of the drain cursor may have several in flight.
type boundaryMark struct {
	pos      uint64 // absolute frame position of the first new-track frame
	format   TrackFormat
	fadeTail []int32 // captured old-track tail to cross-blend, may be nil
}

// Buffer is the shared audio buffer between the producer and the output
// loop: a ring of interleaved stereo s32 samples plus the format state,
// track-boundary bookkeeping, pre-buffer threshold, fade state and
// telemetry counters. One mutex guards all of it; the producer API locks
// internally, the drain API is called by the output loop with the lock
// already held.
type Buffer struct {
	mu sync.Mutex

	ring      []int32 // interleaved stereo, ChannelCount samples per frame
	capFrames int
	readPos   uint64 // frames consumed since start
	writePos  uint64 // frames deposited since start
	count     int    // frames currently queued

	format     FormatState
	dsdEnabled bool

	boundaries  []*boundaryMark // pending marks in stream order
	pendingFade []int32         // tail captured by BeginCrossFade, moved onto the next mark

	trackStarted      bool
	boundariesApplied uint64 // total marks consumed by the drain path

	startFrames int // pre-buffer threshold, -1 until defaulted at start
	buffering   bool
	drained     bool

	rateDelay    time.Duration // settling silence after a rate change
	settleFrames int

	gainL, gainR int32
	flags        RenderFlags

	// active cross-fade, armed when a mark carrying a tail is applied
	fadeTail  []int32
	fadeTotal int
	fadePos   int

	dopMarker byte

	// telemetry, snapshotted by the output loop each iteration
	framesPlayed    uint64
	framesPlayedDmp uint64
	silenceFrames   uint64
	deviceFrames    int
	updated         time.Time
}

// NewBuffer returns a Buffer holding capacityFrames stereo frames.
func NewBuffer(capacityFrames int) (*Buffer, error) {
	if capacityFrames <= 0 {
		return nil, ErrBufferCapacity
	}
	b := &Buffer{
		ring:      make([]int32, capacityFrames*ChannelCount),
		capFrames: capacityFrames,
		format: FormatState{
			SampleFormat: S32LE,
			OutFormat:    FormatPCM,
			SampleRate:   DefaultRateHint,
		},
		startFrames: -1,
		buffering:   true,
		gainL:       GainUnity,
		gainR:       GainUnity,
		dopMarker:   dopMarkerA,
		updated:     time.Now(),
	}
	slog.Debug("audio buffer created", "capacity_frames", capacityFrames)
	return b, nil
}

// started reports whether any streaming state exists yet. Caller holds mu.
func (b *Buffer) started() bool {
	return b.writePos > 0 || b.readPos > 0 || len(b.boundaries) > 0 || b.trackStarted
}

// SetSampleFormat selects the wire packing. Only allowed before any
// frames have been staged; the packing is fixed for the session.
func (b *Buffer) SetSampleFormat(f SampleFormat) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started() {
		return ErrFormatLocked
	}
	b.format.SampleFormat = f
	return nil
}

// SetRateHint sets the sample rate assumed before the first track.
func (b *Buffer) SetRateHint(rate int) error {
	if rate <= 0 {
		return ErrBadSampleRate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started() {
		return ErrFormatLocked
	}
	b.format.SampleRate = rate
	return nil
}

// SetDSDEnabled turns the DSD capability on. Tracks with a DSD transport
// format are rejected while it is off.
func (b *Buffer) SetDSDEnabled(enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started() {
		return ErrFormatLocked
	}
	b.dsdEnabled = enabled
	return nil
}

// SetStartFrames overrides the pre-buffer threshold.
func (b *Buffer) SetStartFrames(frames int) error {
	if frames < 0 {
		return ErrBufferCapacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started() {
		return ErrFormatLocked
	}
	b.startFrames = frames
	return nil
}

// SetRateDelay configures the settling silence injected after a sample
// rate change.
func (b *Buffer) SetRateDelay(d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started() {
		return ErrFormatLocked
	}
	if d < 0 {
		d = 0
	}
	b.rateDelay = d
	return nil
}

// SetGain sets the per-channel 16.16 fixed-point gain. May change while
// streaming; DSD tracks always play at unity.
func (b *Buffer) SetGain(gainL, gainR int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gainL = gainL
	b.gainR = gainR
}

// SetChannelFlags sets the channel routing applied while rendering.
func (b *Buffer) SetChannelFlags(flags RenderFlags) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags = flags
}

// ensureStartDefaults fills in unset knobs when the output loop starts
// and returns the wire bytes per frame of the session packing.
func (b *Buffer) ensureStartDefaults(blockFrames int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startFrames < 0 {
		b.startFrames = 2 * blockFrames
	}
	if b.format.SampleRate <= 0 {
		b.format.SampleRate = DefaultRateHint
	}
	return b.format.SampleFormat.BytesPerFrame()
}

// WriteFrames deposits interleaved stereo s32 samples. It never blocks:
// when the ring is full it stores what fits and returns the number of
// frames taken, which may be zero.
func (b *Buffer) WriteFrames(samples []int32) (int, error) {
	if len(samples)%ChannelCount != 0 {
		return 0, ErrPartialFrame
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return 0, ErrBufferDrained
	}

	n := len(samples) / ChannelCount
	if free := b.capFrames - b.count; n > free {
		n = free
	}
	if n == 0 {
		return 0, nil
	}

	w := int(b.writePos % uint64(b.capFrames))
	first := b.capFrames - w
	if first > n {
		first = n
	}
	copy(b.ring[w*ChannelCount:], samples[:first*ChannelCount])
	if n > first {
		copy(b.ring, samples[first*ChannelCount:n*ChannelCount])
	}
	b.writePos += uint64(n)
	b.count += n
	return n, nil
}

// StartTrack marks a track boundary at the current write position and
// stages that track's format. The switch is deferred: it takes effect
// when the drain cursor reaches the mark, which is also when the
// boundary flag is raised. Marks queue in order, so a producer may
// stage several short tracks ahead of the drain cursor.
func (b *Buffer) StartTrack(f TrackFormat) error {
	if f.SampleRate <= 0 {
		return ErrBadSampleRate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return ErrBufferDrained
	}
	if f.OutFormat.IsDSD() && !b.dsdEnabled {
		return ErrDSDDisabled
	}
	if (f.OutFormat == FormatDSDU32LE || f.OutFormat == FormatDSDU32BE) && b.format.SampleFormat != S32LE {
		return fmt.Errorf("%w: native dsd words need %s packing, session uses %s",
			ErrFormatMismatch, S32LE, b.format.SampleFormat)
	}
	if f.OutFormat.IsDoP() && b.format.SampleFormat == S16LE {
		return fmt.Errorf("%w: dop frames need 24-bit samples, session uses %s",
			ErrFormatMismatch, b.format.SampleFormat)
	}
	b.boundaries = append(b.boundaries, &boundaryMark{
		pos:      b.writePos,
		format:   f,
		fadeTail: b.pendingFade,
	})
	b.pendingFade = nil
	slog.Debug("track boundary staged",
		"pos", b.writePos,
		"pending_marks", len(b.boundaries),
		"sample_rate", f.SampleRate,
		"out_format", f.OutFormat.String(),
		"invert", f.Invert)
	return nil
}

// BeginCrossFade captures the last queued frames of the current track as
// a fade-out tail and removes them from the queue; the following
// StartTrack attaches the tail to its boundary mark, and the drain path
// blends it into the new track's opening frames. The capture never
// reaches back across an earlier boundary mark.
func (b *Buffer) BeginCrossFade(frames int) error {
	if frames <= 0 {
		return ErrBadFadeLength
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return ErrBufferDrained
	}
	if b.pendingFade != nil {
		return ErrFadePending
	}
	if frames > b.count {
		frames = b.count
	}
	if n := len(b.boundaries); n > 0 {
		if since := int(b.writePos - b.boundaries[n-1].pos); frames > since {
			frames = since
		}
	}
	if frames == 0 {
		return nil
	}

	tail := make([]int32, frames*ChannelCount)
	start := b.writePos - uint64(frames)
	idx := int(start % uint64(b.capFrames))
	first := b.capFrames - idx
	if first > frames {
		first = frames
	}
	copy(tail, b.ring[idx*ChannelCount:(idx+first)*ChannelCount])
	if frames > first {
		copy(tail[first*ChannelCount:], b.ring[:(frames-first)*ChannelCount])
	}
	b.writePos = start
	b.count -= frames
	b.pendingFade = tail
	slog.Debug("cross-fade tail captured", "frames", frames)
	return nil
}

// AckTrackStarted clears the boundary flag once the boundary has been
// reported downstream. The output loop itself never clears it. Returns
// whether the flag was set.
func (b *Buffer) AckTrackStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	was := b.trackStarted
	b.trackStarted = false
	return was
}

// Drain marks the end of input: no further writes are accepted, the
// pre-buffer threshold is lifted and the output loop exits once the
// queue is empty.
func (b *Buffer) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return
	}
	b.drained = true
	slog.Debug("buffer drained by producer", "pending_frames", b.count)
}

// Pending returns the number of queued frames.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Status is a telemetry snapshot of the buffer.
type Status struct {
	FramesPlayed  uint64
	SilenceFrames uint64
	Pending       int
	Format        FormatState
	TrackStarted  bool
	Drained       bool
}

// Status returns a consistent telemetry snapshot.
func (b *Buffer) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		FramesPlayed:  b.framesPlayed,
		SilenceFrames: b.silenceFrames,
		Pending:       b.count,
		Format:        b.format,
		TrackStarted:  b.trackStarted,
		Drained:       b.drained,
	}
}

// snapshotTelemetry resets the per-iteration device counters. Caller
// holds mu.
func (b *Buffer) snapshotTelemetry(now time.Time) {
	b.deviceFrames = 0
	b.updated = now
	b.framesPlayedDmp = b.framesPlayed
}

// applyBoundary activates a staged format switch. Caller holds mu.
func (b *Buffer) applyBoundary(mark *boundaryMark) {
	if mark.format.SampleRate != b.format.SampleRate && b.rateDelay > 0 {
		b.settleFrames = int(b.rateDelay.Milliseconds()) * mark.format.SampleRate / 1000
	}
	b.format.SampleRate = mark.format.SampleRate
	b.format.OutFormat = mark.format.OutFormat
	b.format.Invert = mark.format.Invert
	if len(mark.fadeTail) > 0 {
		b.fadeTail = mark.fadeTail
		b.fadeTotal = len(mark.fadeTail) / ChannelCount
		b.fadePos = 0
	}
	b.trackStarted = true
	b.boundariesApplied++
	slog.Debug("track boundary applied",
		"sample_rate", b.format.SampleRate,
		"out_format", b.format.OutFormat.String(),
		"invert", b.format.Invert,
		"settle_frames", b.settleFrames)
}

// blendCross mixes the captured fade tail into the frames about to be
// rendered, in place. Gain granularity is one call. Caller holds mu.
func (b *Buffer) blendCross(dst []int32, frames int) {
	remaining := b.fadeTotal - b.fadePos
	if remaining <= 0 {
		b.fadeTail, b.fadeTotal, b.fadePos = nil, 0, 0
		return
	}
	n := frames
	if n > remaining {
		n = remaining
	}
	gainOut := int32(int64(GainUnity) * int64(remaining) / int64(b.fadeTotal))
	gainIn := GainUnity - gainOut
	applyCross(dst[:n*ChannelCount], b.fadeTail[b.fadePos*ChannelCount:], gainIn, gainOut)
	b.fadePos += n
	if b.fadePos >= b.fadeTotal {
		b.fadeTail, b.fadeTotal, b.fadePos = nil, 0, 0
		slog.Debug("cross-fade complete")
	}
}

// outputFrames renders up to req frames into the scratch buffer: audio
// from the ring when available, silence while pre-buffering, on underrun
// or during post-rate-change settling. A staged boundary stops the
// render for the iteration so the header decision runs before any
// new-track frame is rendered. Caller holds mu; the render itself is
// bounded and performs no I/O.
func (b *Buffer) outputFrames(req int, s *scratch) {
	for req > 0 {
		if b.buffering && (b.count >= b.startFrames || b.drained) {
			b.buffering = false
			slog.Debug("pre-buffer filled", "frames", b.count, "threshold", b.startFrames)
		}

		if b.buffering || b.settleFrames > 0 || b.count == 0 {
			if b.count == 0 && b.drained && b.settleFrames <= 0 {
				return // end of input, nothing left to substitute for
			}
			n := req
			if n > s.frames {
				n = s.frames
			}
			if b.settleFrames > 0 && n > b.settleFrames {
				n = b.settleFrames
			}
			var src []int32
			if b.format.OutFormat.IsDSD() {
				src = s.dsdSilence(n)
				if b.format.OutFormat.IsDoP() {
					updateDoP(src, n, false, &b.dopMarker)
				}
			} else {
				src = s.pcmSilence(n)
			}
			s.append(src, n, GainUnity, GainUnity, 0, b.format.SampleFormat)
			if b.settleFrames > 0 {
				b.settleFrames -= n
			}
			b.framesPlayed += uint64(n)
			b.silenceFrames += uint64(n)
			req -= n
			continue
		}

		n := req
		if n > b.count {
			n = b.count
		}
		if len(b.boundaries) > 0 {
			mark := b.boundaries[0]
			dist := int(mark.pos - b.readPos)
			if dist == 0 {
				b.boundaries = b.boundaries[1:]
				b.applyBoundary(mark)
				return // render resumes next iteration, after the header decision
			}
			if n > dist {
				n = dist
			}
		}
		head := int(b.readPos % uint64(b.capFrames))
		if run := b.capFrames - head; n > run {
			n = run
		}

		src := b.ring[head*ChannelCount : (head+n)*ChannelCount]
		if b.fadeTotal > 0 {
			b.blendCross(src, n)
		}

		gainL, gainR := b.gainL, b.gainR
		if b.format.OutFormat.IsDSD() {
			gainL, gainR = GainUnity, GainUnity
			if b.format.OutFormat.IsDoP() {
				updateDoP(src, n, b.format.Invert, &b.dopMarker)
			} else if b.format.Invert {
				dsdInvert(src, n)
			}
		}
		s.append(src, n, gainL, gainR, b.flags, b.format.SampleFormat)

		b.readPos += uint64(n)
		b.count -= n
		b.framesPlayed += uint64(n)
		req -= n
	}
}
