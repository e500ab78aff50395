package audio

import (
	"fmt"
	"time"
)

// AudioFrame is one slice of raw PCM audio. The sample rate, channel count
// and bit depth are fixed by the bridge [Format] and are not carried on the
// frame itself.
//
// A frame is owned by whichever queue currently holds it. Producers must not
// touch Data after handing the frame off.
type AudioFrame struct {
	// Data holds little-endian interleaved PCM samples.
	Data []byte
}

// Format describes the static PCM layout shared by both bridge endpoints.
// It is configured out of band and never negotiated on the wire.
type Format struct {
	// SampleRate in Hz (e.g., 44100).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitDepth is the number of bits per sample. Only 16 is supported by
	// the bundled backends.
	BitDepth int

	// FramesPerBuffer is the number of sample frames per [AudioFrame]
	// (one sample per channel each).
	FramesPerBuffer int
}

// DefaultFormat matches the desktop client the bridge replaces:
// 44.1 kHz mono 16-bit, 1024 samples per frame.
var DefaultFormat = Format{
	SampleRate:      44100,
	Channels:        1,
	BitDepth:        16,
	FramesPerBuffer: 1024,
}

// BytesPerSample returns the size of a single sample of one channel.
func (f Format) BytesPerSample() int { return f.BitDepth / 8 }

// FrameBytes returns the nominal size in bytes of one [AudioFrame].
func (f Format) FrameBytes() int {
	return f.FramesPerBuffer * f.Channels * f.BytesPerSample()
}

// FrameDuration returns the playback duration of one nominal frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FramesPerBuffer) * time.Second / time.Duration(f.SampleRate)
}

// Validate reports whether the format can be opened by a backend.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("audio: bit depth %d is not supported (want 16)", f.BitDepth)
	}
	if f.FramesPerBuffer <= 0 {
		return fmt.Errorf("audio: frames per buffer must be positive, got %d", f.FramesPerBuffer)
	}
	return nil
}

// String returns a human-readable format, e.g. "44100Hz mono 16bit".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s %dbit", f.SampleRate, ch, f.BitDepth)
}
