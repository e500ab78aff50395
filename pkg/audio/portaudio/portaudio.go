//go:build cgo

// Package portaudio implements [audio.Device] on top of the PortAudio C
// library using callback streams.
//
// PortAudio invokes the stream callbacks on its own real-time thread; the
// backend passes them straight through to the adapter-supplied functions.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Backend is a PortAudio-backed [audio.Device]. Create one with [New] and
// release it with [Backend.Close] after every stream has been closed.
type Backend struct {
	closeOnce sync.Once
	closeErr  error
}

var (
	_ audio.Device = (*Backend)(nil)
	_ audio.Lister = (*Backend)(nil)
)

// New initialises PortAudio.
func New() (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	slog.Debug("portaudio initialized", "version", pa.VersionText())
	return &Backend{}, nil
}

// Close terminates PortAudio. It is safe to call more than once.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if err := pa.Terminate(); err != nil {
			b.closeErr = fmt.Errorf("portaudio: terminate: %w", err)
		}
	})
	return b.closeErr
}

// OpenCapture implements [audio.Device].
func (b *Backend) OpenCapture(f audio.Format, name string, fn audio.CaptureFunc) (audio.Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	dev, err := findDevice(name, audio.Capture)
	if err != nil {
		return nil, err
	}
	if dev.MaxInputChannels < f.Channels {
		return nil, fmt.Errorf("portaudio: %q has %d input channels, need %d: %w",
			dev.Name, dev.MaxInputChannels, f.Channels, audio.ErrDeviceUnavailable)
	}

	p := pa.LowLatencyParameters(dev, nil)
	p.Input.Channels = f.Channels
	p.SampleRate = float64(f.SampleRate)
	p.FramesPerBuffer = f.FramesPerBuffer

	s, err := pa.OpenStream(p, func(in []int16) { fn(in) })
	if err != nil {
		return nil, mapError(err)
	}
	return &stream{s: s, name: dev.Name}, nil
}

// OpenPlayback implements [audio.Device].
func (b *Backend) OpenPlayback(f audio.Format, name string, fn audio.PlaybackFunc) (audio.Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	dev, err := findDevice(name, audio.Playback)
	if err != nil {
		return nil, err
	}
	if dev.MaxOutputChannels < f.Channels {
		return nil, fmt.Errorf("portaudio: %q has %d output channels, need %d: %w",
			dev.Name, dev.MaxOutputChannels, f.Channels, audio.ErrDeviceUnavailable)
	}

	p := pa.LowLatencyParameters(nil, dev)
	p.Output.Channels = f.Channels
	p.SampleRate = float64(f.SampleRate)
	p.FramesPerBuffer = f.FramesPerBuffer

	s, err := pa.OpenStream(p, func(out []int16) { fn(out) })
	if err != nil {
		return nil, mapError(err)
	}
	return &stream{s: s, name: dev.Name}, nil
}

// Devices implements [audio.Lister].
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	defIn, _ := pa.DefaultInputDevice()
	defOut, _ := pa.DefaultOutputDevice()

	out := make([]audio.DeviceInfo, 0, len(devs))
	for _, d := range devs {
		info := audio.DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      defIn != nil && defIn.Index == d.Index,
			DefaultOutput:     defOut != nil && defOut.Index == d.Index,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// findDevice resolves name to a device usable for direction d. An empty name
// selects the system default. Names match exactly first, then as a
// case-insensitive substring.
func findDevice(name string, d audio.Direction) (*pa.DeviceInfo, error) {
	if name == "" {
		var (
			dev *pa.DeviceInfo
			err error
		)
		if d == audio.Capture {
			dev, err = pa.DefaultInputDevice()
		} else {
			dev, err = pa.DefaultOutputDevice()
		}
		if err != nil {
			return nil, mapError(err)
		}
		return dev, nil
	}

	devs, err := pa.Devices()
	if err != nil {
		return nil, mapError(err)
	}
	usable := func(dev *pa.DeviceInfo) bool {
		if d == audio.Capture {
			return dev.MaxInputChannels > 0
		}
		return dev.MaxOutputChannels > 0
	}
	for _, dev := range devs {
		if dev.Name == name && usable(dev) {
			return dev, nil
		}
	}
	lower := strings.ToLower(name)
	for _, dev := range devs {
		if strings.Contains(strings.ToLower(dev.Name), lower) && usable(dev) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no %s device matching %q: %w", d, name, audio.ErrDeviceUnavailable)
}

// mapError translates PortAudio error codes into the audio sentinel errors.
func mapError(err error) error {
	var pe pa.Error
	if errors.As(err, &pe) {
		switch pe {
		case pa.NoDefaultInputDevice, pa.NoDefaultOutputDevice, pa.InvalidDevice:
			return fmt.Errorf("portaudio: %w: %w", audio.ErrDeviceUnavailable, err)
		case pa.DeviceUnavailable:
			return fmt.Errorf("portaudio: %w: %w", audio.ErrDeviceBusy, err)
		}
	}
	return fmt.Errorf("portaudio: %w", err)
}

type stream struct {
	s    *pa.Stream
	name string
	once sync.Once
	err  error
}

func (st *stream) Start() error {
	if err := st.s.Start(); err != nil {
		return mapError(err)
	}
	return nil
}

// Close stops the stream if it is running and closes it.
func (st *stream) Close() error {
	st.once.Do(func() {
		// Stop fails with StreamIsStopped when Start never succeeded.
		if err := st.s.Stop(); err != nil && !errors.Is(err, pa.StreamIsStopped) {
			slog.Warn("portaudio: stop stream", "device", st.name, "err", err)
		}
		if err := st.s.Close(); err != nil {
			st.err = fmt.Errorf("portaudio: close %q: %w", st.name, err)
		}
	})
	return st.err
}
