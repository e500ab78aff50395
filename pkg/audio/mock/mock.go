// Package mock provides an in-memory mock implementation of [audio.Device]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every open call so that
// tests can assert on call counts and arguments, exposes exported fields that
// the test can set to control return values, and lets tests drive the
// registered callbacks as if they were the hardware.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	a := audio.NewAdapter(dev, audio.DefaultFormat)
//	h, _ := a.OpenCapture(audio.CaptureConfig{Queue: q})
//	dev.Capture(make([]int16, 1024)) // one frame lands in q
package mock

import (
	"sync"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu sync.Mutex

	// StartError is returned by [Stream.Start].
	StartError error

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	started bool
	closed  bool
}

// Start implements [audio.Stream].
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.started = true
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return s.CloseError
}

// Running reports whether the stream was started and not yet closed.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Device ──────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single open invocation.
type OpenCall struct {
	Format audio.Format
	Name   string
}

// Device is a mock implementation of [audio.Device] and [audio.Lister].
type Device struct {
	mu sync.Mutex

	// OpenCaptureError is returned by OpenCapture when non-nil.
	OpenCaptureError error

	// OpenPlaybackError is returned by OpenPlayback when non-nil.
	OpenPlaybackError error

	// StartError is copied into every stream the device opens.
	StartError error

	// DeviceList is returned by [Device.Devices].
	DeviceList []audio.DeviceInfo

	// CaptureCalls records all OpenCapture invocations.
	CaptureCalls []OpenCall

	// PlaybackCalls records all OpenPlayback invocations.
	PlaybackCalls []OpenCall

	// CaptureStreams and PlaybackStreams hold every stream handed out, in
	// order.
	CaptureStreams  []*Stream
	PlaybackStreams []*Stream

	capture  audio.CaptureFunc
	playback audio.PlaybackFunc
}

var (
	_ audio.Device = (*Device)(nil)
	_ audio.Lister = (*Device)(nil)
)

// OpenCapture implements [audio.Device].
func (d *Device) OpenCapture(f audio.Format, name string, fn audio.CaptureFunc) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureCalls = append(d.CaptureCalls, OpenCall{Format: f, Name: name})
	if d.OpenCaptureError != nil {
		return nil, d.OpenCaptureError
	}
	s := &Stream{StartError: d.StartError}
	d.CaptureStreams = append(d.CaptureStreams, s)
	d.capture = fn
	return s, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(f audio.Format, name string, fn audio.PlaybackFunc) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PlaybackCalls = append(d.PlaybackCalls, OpenCall{Format: f, Name: name})
	if d.OpenPlaybackError != nil {
		return nil, d.OpenPlaybackError
	}
	s := &Stream{StartError: d.StartError}
	d.PlaybackStreams = append(d.PlaybackStreams, s)
	d.playback = fn
	return s, nil
}

// Devices implements [audio.Lister]. Returns DeviceList.
func (d *Device) Devices() ([]audio.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DeviceList, nil
}

// Capture simulates the hardware delivering one input buffer. It returns
// false when no capture stream is running.
func (d *Device) Capture(in []int16) bool {
	d.mu.Lock()
	fn := d.capture
	running := len(d.CaptureStreams) > 0 && d.CaptureStreams[len(d.CaptureStreams)-1].Running()
	d.mu.Unlock()
	if !running || fn == nil {
		return false
	}
	fn(in)
	return true
}

// Pull simulates the hardware requesting n output samples and returns what
// the playback callback wrote. It returns nil when no playback stream is
// running.
func (d *Device) Pull(n int) []int16 {
	d.mu.Lock()
	fn := d.playback
	running := len(d.PlaybackStreams) > 0 && d.PlaybackStreams[len(d.PlaybackStreams)-1].Running()
	d.mu.Unlock()
	if !running || fn == nil {
		return nil
	}
	out := make([]int16, n)
	// Pre-fill with garbage so tests can see that silence is written.
	for i := range out {
		out[i] = -1
	}
	fn(out)
	return out
}

// OpenStreams returns the number of streams handed out and not yet closed.
func (d *Device) OpenStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range append(append([]*Stream{}, d.CaptureStreams...), d.PlaybackStreams...) {
		if !s.Closed() {
			n++
		}
	}
	return n
}
