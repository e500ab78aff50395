// Package audio defines the audio types and the hardware abstraction used by
// the bridge.
//
// The primary abstractions are:
//
//   - [Device]: a backend that opens callback-driven capture and playback
//     streams on named hardware endpoints.
//   - [Adapter]: wraps a Device, enforces one claim per direction and moves
//     PCM between the real-time callbacks and a pair of [FrameQueue] values.
//   - [FrameQueue]: the bounded SPSC buffer crossing the boundary between
//     the real-time callback domain and the network loops.
//
// Implementations of [Device] live in backend packages (e.g. audio/portaudio)
// and in audio/mock for tests.
package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by [Device] implementations and by [Adapter].
var (
	// ErrDeviceUnavailable means no device matches the requested name or no
	// default device exists.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrDeviceBusy means the device is already claimed, either by this
	// adapter or by another process.
	ErrDeviceBusy = errors.New("audio: device busy")

	// ErrQueueOverflow marks a frame rejected by a full [FrameQueue]. Queues
	// report overflow through their drop counter; the error exists so status
	// reporting can classify drop-threshold crossings.
	ErrQueueOverflow = errors.New("audio: queue overflow")
)

// Direction distinguishes capture from playback.
type Direction int

const (
	// Capture is the microphone side.
	Capture Direction = iota
	// Playback is the speaker side.
	Playback
)

// String returns "capture" or "playback".
func (d Direction) String() string {
	switch d {
	case Capture:
		return "capture"
	case Playback:
		return "playback"
	default:
		return "unknown"
	}
}

// DeviceError reports a failure to open or start a hardware stream. Err is
// usually [ErrDeviceUnavailable] or [ErrDeviceBusy], possibly wrapping a
// backend-specific cause.
type DeviceError struct {
	Direction Direction
	// Device is the requested device name; empty means the system default.
	Device string
	Err    error
}

// Error implements error.
func (e *DeviceError) Error() string {
	name := e.Device
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("audio: open %s device %q: %v", e.Direction, name, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }

// CaptureFunc receives one buffer of interleaved int16 samples from the
// hardware. It runs on the real-time audio thread: it must not block, and the
// slice is only valid for the duration of the call.
type CaptureFunc func(in []int16)

// PlaybackFunc fills one buffer of interleaved int16 samples for the
// hardware. It runs on the real-time audio thread and must not block.
type PlaybackFunc func(out []int16)

// Stream is a single opened hardware stream.
type Stream interface {
	// Start begins invoking the stream callback.
	Start() error

	// Close stops the stream and releases the device. Close must be safe to
	// call once after a failed Start.
	Close() error
}

// Device is a hardware audio backend.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// OpenCapture opens the input device called name (empty selects the
	// system default) with format f. fn is invoked with every captured buffer
	// once the returned stream is started.
	OpenCapture(f Format, name string, fn CaptureFunc) (Stream, error)

	// OpenPlayback opens the output device called name (empty selects the
	// system default) with format f. fn is invoked to fill every output
	// buffer once the returned stream is started.
	OpenPlayback(f Format, name string, fn PlaybackFunc) (Stream, error)
}

// DeviceInfo describes one hardware endpoint reported by a [Lister].
type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// Lister is implemented by backends that can enumerate devices.
type Lister interface {
	Devices() ([]DeviceInfo, error)
}
