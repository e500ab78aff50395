package audio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Adapter moves PCM between a hardware [Device] and a pair of [FrameQueue]
// values. It allows at most one open capture and one open playback handle at
// a time; opening a second handle for the same direction fails with
// [ErrDeviceBusy] until the first is closed.
//
// Adapter methods are safe for concurrent use.
type Adapter struct {
	dev    Device
	format Format

	mu      sync.Mutex
	claimed [2]bool
}

// NewAdapter returns an adapter that opens streams on dev with format f.
func NewAdapter(dev Device, f Format) *Adapter {
	return &Adapter{dev: dev, format: f}
}

// Format returns the stream format used for every handle.
func (a *Adapter) Format() Format { return a.format }

// CaptureConfig configures [Adapter.OpenCapture].
type CaptureConfig struct {
	// Device is the input device name. Empty selects the system default.
	Device string

	// Queue receives one [AudioFrame] per captured buffer. Required.
	Queue *FrameQueue
}

// PlaybackConfig configures [Adapter.OpenPlayback].
type PlaybackConfig struct {
	// Device is the output device name. Empty selects the system default.
	Device string

	// Queue supplies the frames to play. Required.
	Queue *FrameQueue
}

// OpenCapture opens and starts the input device. Every hardware buffer is
// copied into a new frame and offered to cfg.Queue; when the queue is full
// the frame is dropped and counted.
//
// Errors are returned as [*DeviceError].
func (a *Adapter) OpenCapture(cfg CaptureConfig) (*CaptureHandle, error) {
	if cfg.Queue == nil {
		return nil, &DeviceError{Direction: Capture, Device: cfg.Device, Err: errors.New("nil queue")}
	}
	if err := a.claim(Capture); err != nil {
		return nil, &DeviceError{Direction: Capture, Device: cfg.Device, Err: err}
	}

	h := &CaptureHandle{adapter: a, queue: cfg.Queue}
	stream, err := a.dev.OpenCapture(a.format, cfg.Device, h.onSamples)
	if err != nil {
		a.release(Capture)
		return nil, asDeviceError(Capture, cfg.Device, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		a.release(Capture)
		return nil, asDeviceError(Capture, cfg.Device, err)
	}
	h.stream = stream

	slog.Info("audio capture opened", "device", deviceLabel(cfg.Device), "format", a.format.String())
	return h, nil
}

// OpenPlayback opens and starts the output device. The playback callback
// drains cfg.Queue and substitutes silence when it runs dry.
//
// Errors are returned as [*DeviceError].
func (a *Adapter) OpenPlayback(cfg PlaybackConfig) (*PlaybackHandle, error) {
	if cfg.Queue == nil {
		return nil, &DeviceError{Direction: Playback, Device: cfg.Device, Err: errors.New("nil queue")}
	}
	if err := a.claim(Playback); err != nil {
		return nil, &DeviceError{Direction: Playback, Device: cfg.Device, Err: err}
	}

	// Nothing has played yet, so initial silence is not an underrun.
	h := &PlaybackHandle{adapter: a, queue: cfg.Queue, starved: true}
	stream, err := a.dev.OpenPlayback(a.format, cfg.Device, h.fill)
	if err != nil {
		a.release(Playback)
		return nil, asDeviceError(Playback, cfg.Device, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		a.release(Playback)
		return nil, asDeviceError(Playback, cfg.Device, err)
	}
	h.stream = stream

	slog.Info("audio playback opened", "device", deviceLabel(cfg.Device), "format", a.format.String())
	return h, nil
}

func (a *Adapter) claim(d Direction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.claimed[d] {
		return ErrDeviceBusy
	}
	a.claimed[d] = true
	return nil
}

func (a *Adapter) release(d Direction) {
	a.mu.Lock()
	a.claimed[d] = false
	a.mu.Unlock()
}

func asDeviceError(d Direction, name string, err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	return &DeviceError{Direction: d, Device: name, Err: err}
}

func deviceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}

// ─── Capture ─────────────────────────────────────────────────────────────────

// CaptureHandle is an open capture stream. Close releases the device.
type CaptureHandle struct {
	adapter *Adapter
	stream  Stream
	queue   *FrameQueue

	captured atomic.Uint64
	dropped  atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// onSamples runs on the real-time thread.
func (h *CaptureHandle) onSamples(in []int16) {
	if len(in) == 0 {
		return
	}
	if !h.queue.TryPush(AudioFrame{Data: EncodeSamples(in)}) {
		h.dropped.Add(1)
		return
	}
	h.captured.Add(1)
}

// Captured returns the number of frames handed to the outbound queue.
func (h *CaptureHandle) Captured() uint64 { return h.captured.Load() }

// Dropped returns the number of captured frames rejected by a full queue.
func (h *CaptureHandle) Dropped() uint64 { return h.dropped.Load() }

// Close stops the stream and releases the capture claim. It is safe to call
// more than once; subsequent calls return the first result.
func (h *CaptureHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.stream.Close()
		h.adapter.release(Capture)
		slog.Info("audio capture closed", "captured", h.Captured(), "dropped", h.Dropped())
	})
	return h.closeErr
}

// ─── Playback ────────────────────────────────────────────────────────────────

// PlaybackHandle is an open playback stream. Close releases the device.
type PlaybackHandle struct {
	adapter *Adapter
	stream  Stream
	queue   *FrameQueue

	// pending and starved are only touched by the real-time callback.
	pending []byte
	starved bool

	played    atomic.Uint64
	underruns atomic.Uint64
	silent    atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// fill runs on the real-time thread. Frames larger than the hardware buffer
// are carried over to the next callback; a short queue is padded with zeros.
func (h *PlaybackHandle) fill(out []int16) {
	i := 0
	for i < len(out) {
		if len(h.pending) < 2 {
			f, ok := h.queue.TryPop()
			if !ok {
				break
			}
			h.pending = f.Data
			h.played.Add(1)
			continue
		}
		n := ReadSamples(out[i:], h.pending)
		h.pending = h.pending[n*2:]
		i += n
	}

	if i == len(out) {
		h.starved = false
		return
	}
	clear(out[i:])
	if i == 0 {
		h.silent.Add(1)
	}
	if !h.starved {
		h.starved = true
		h.underruns.Add(1)
	}
}

// Played returns the number of frames taken from the inbound queue.
func (h *PlaybackHandle) Played() uint64 { return h.played.Load() }

// Underruns returns the number of starvation episodes: transitions from
// playing audio to padding with silence. Silence before the first frame
// arrives is not counted.
func (h *PlaybackHandle) Underruns() uint64 { return h.underruns.Load() }

// SilentBuffers returns the number of callbacks filled entirely with silence.
func (h *PlaybackHandle) SilentBuffers() uint64 { return h.silent.Load() }

// Close stops the stream and releases the playback claim. It is safe to call
// more than once; subsequent calls return the first result.
func (h *PlaybackHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.stream.Close()
		h.adapter.release(Playback)
		slog.Info("audio playback closed", "played", h.Played(), "underruns", h.Underruns())
	})
	return h.closeErr
}
