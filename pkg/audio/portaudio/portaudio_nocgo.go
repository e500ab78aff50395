//go:build !cgo

// Package portaudio provides a stub backend when CGO is disabled. Every open
// fails with [audio.ErrDeviceUnavailable].
package portaudio

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

var errNoCgo = errors.New("portaudio: built without cgo")

// Backend is a stub when CGO is disabled.
type Backend struct{}

var (
	_ audio.Device = (*Backend)(nil)
	_ audio.Lister = (*Backend)(nil)
)

// New returns a stub backend.
func New() (*Backend, error) { return &Backend{}, nil }

// Close is a no-op when CGO is disabled.
func (b *Backend) Close() error { return nil }

// OpenCapture always fails when CGO is disabled.
func (b *Backend) OpenCapture(audio.Format, string, audio.CaptureFunc) (audio.Stream, error) {
	return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, errNoCgo)
}

// OpenPlayback always fails when CGO is disabled.
func (b *Backend) OpenPlayback(audio.Format, string, audio.PlaybackFunc) (audio.Stream, error) {
	return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, errNoCgo)
}

// Devices returns an error when CGO is disabled.
func (b *Backend) Devices() ([]audio.DeviceInfo, error) { return nil, errNoCgo }
