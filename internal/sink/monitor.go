package sink

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"wavepipe.click/internal/sqfh"
)

// monitorQueueLimit bounds the bytes buffered ahead of the device
// callback. Write blocks once the queue is full, which paces the feeder
// at playback speed.
const monitorQueueLimit = 256 * 1024

// monitorDrainWait bounds how long run teardown waits for queued audio
// to play out.
const monitorDrainWait = 2 * time.Second

// Monitor plays PCM runs on the default output device. Each format
// change tears the playback device down and rebuilds it with the new
// run's rate and sample format. DSD runs are refused.
type Monitor struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	queue  []byte
	device *malgo.Device
	hdr    sqfh.Header
	closed bool

	// WaitSleep is the poll interval while the queue is full or draining.
	WaitSleep time.Duration
}

// NewMonitor returns a monitor. The audio context is initialized lazily
// on the first run.
func NewMonitor() *Monitor {
	slog.Debug("creating stream monitor")
	return &Monitor{WaitSleep: 2 * time.Millisecond}
}

// malgoFormat maps a header's PCM packing onto a malgo sample format.
func malgoFormat(hdr sqfh.Header) (malgo.FormatType, error) {
	if hdr.Encoding != sqfh.EncodingPCM {
		return malgo.FormatUnknown, fmt.Errorf("%w: cannot monitor %s", ErrUnsupportedRun, hdr.Encoding)
	}
	switch hdr.BitDepth {
	case 16:
		return malgo.FormatS16, nil
	case 24:
		return malgo.FormatS24, nil
	case 32:
		return malgo.FormatS32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("%w: %d-bit pcm", ErrUnsupportedRun, hdr.BitDepth)
	}
}

// StartRun rebuilds the playback device for a new format run. Queued
// audio from the previous run is played out before the device is torn
// down. Unsupported runs are refused before any hardware is touched.
func (m *Monitor) StartRun(hdr sqfh.Header) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSinkClosed
	}
	same := m.device != nil && hdr == m.hdr
	m.mu.Unlock()

	format, err := malgoFormat(hdr)
	if err != nil {
		return err
	}
	if same {
		return nil
	}

	if err := m.ensureContext(); err != nil {
		return err
	}
	m.drainQueue()
	m.stopDevice()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = format
	cfg.Playback.Channels = sqfh.ChannelCount
	cfg.SampleRate = hdr.SampleRate
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: m.onFrames})
	if err != nil {
		return fmt.Errorf("initializing playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("starting playback device: %w", err)
	}

	m.mu.Lock()
	m.device = device
	m.hdr = hdr
	m.mu.Unlock()

	slog.Info("monitor device started",
		"sample_rate", hdr.SampleRate,
		"bit_depth", hdr.BitDepth,
		"malgo_format", int(format))
	return nil
}

// Write queues packed samples for playback, blocking while the queue is
// full so the feeder runs at playback speed.
func (m *Monitor) Write(p []byte) (int, error) {
	written := 0
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return written, ErrSinkClosed
		}
		if m.device == nil {
			m.mu.Unlock()
			return written, ErrNoRun
		}
		room := monitorQueueLimit - len(m.queue)
		if room > len(p) {
			room = len(p)
		}
		if room > 0 {
			m.queue = append(m.queue, p[:room]...)
			p = p[room:]
			written += room
		}
		m.mu.Unlock()
		if len(p) == 0 {
			return written, nil
		}
		time.Sleep(m.WaitSleep)
	}
}

// Close plays out queued audio, stops the device, and frees the audio
// context. Close is idempotent.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.drainQueue()
	m.stopDevice()

	if m.ctx != nil {
		if err := m.ctx.Uninit(); err != nil {
			slog.Error("failed to uninitialize audio context", "error", err)
			return err
		}
		m.ctx.Free()
		m.ctx = nil
	}
	slog.Debug("monitor closed")
	return nil
}

// onFrames feeds the device from the queue, padding with silence when
// the feeder falls behind. Only whole frames leave the queue; a torn
// tail stays queued until the rest of its bytes arrive.
func (m *Monitor) onFrames(out, _ []byte, frameCount uint32) {
	m.mu.Lock()
	n := copy(out, m.queue)
	if frameBytes := int(m.hdr.BitDepth) / 8 * sqfh.ChannelCount; frameBytes > 0 {
		n -= n % frameBytes
	}
	m.queue = m.queue[:copy(m.queue, m.queue[n:])]
	m.mu.Unlock()
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

func (m *Monitor) ensureContext() error {
	if m.ctx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo internal", "message", message)
	})
	if err != nil {
		return fmt.Errorf("initializing audio context: %w", err)
	}
	m.ctx = ctx
	return nil
}

// drainQueue waits for the device callback to play out queued audio,
// bounded so a stalled device cannot hang the feeder.
func (m *Monitor) drainQueue() {
	deadline := time.Now().Add(monitorDrainWait)
	for {
		m.mu.Lock()
		empty := len(m.queue) == 0 || m.device == nil
		m.mu.Unlock()
		if empty || time.Now().After(deadline) {
			return
		}
		time.Sleep(m.WaitSleep)
	}
}

func (m *Monitor) stopDevice() {
	m.mu.Lock()
	device := m.device
	m.device = nil
	m.queue = m.queue[:0]
	m.mu.Unlock()
	if device == nil {
		return
	}
	device.Stop()
	device.Uninit()
}
