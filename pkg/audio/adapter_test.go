package audio_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/audio/mock"
)

func TestAdapter_CaptureEnqueuesFrames(t *testing.T) {
	dev := &mock.Device{}
	a := audio.NewAdapter(dev, audio.DefaultFormat)
	q := audio.NewFrameQueue(4)

	h, err := a.OpenCapture(audio.CaptureConfig{Device: "USB Mic", Queue: q})
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	if len(dev.CaptureCalls) != 1 || dev.CaptureCalls[0].Name != "USB Mic" {
		t.Fatalf("CaptureCalls: %+v", dev.CaptureCalls)
	}

	buf := []int16{1, 2, 3}
	if !dev.Capture(buf) {
		t.Fatal("Capture: stream not running")
	}
	// The callback buffer is reused by the hardware; the frame must be a copy.
	buf[0] = 99

	f, ok := q.TryPop()
	if !ok {
		t.Fatal("expected a frame in the queue")
	}
	if got := audio.DecodeSamples(f.Data); !slices.Equal(got, []int16{1, 2, 3}) {
		t.Errorf("frame samples: got %v", got)
	}
	if h.Captured() != 1 {
		t.Errorf("Captured: got %d, want 1", h.Captured())
	}
}

func TestAdapter_CaptureDropsWhenFull(t *testing.T) {
	dev := &mock.Device{}
	a := audio.NewAdapter(dev, audio.DefaultFormat)
	q := audio.NewFrameQueue(2)

	h, err := a.OpenCapture(audio.CaptureConfig{Queue: q})
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	defer h.Close()

	for range 5 {
		dev.Capture([]int16{1})
	}
	if h.Captured() != 2 {
		t.Errorf("Captured: got %d, want 2", h.Captured())
	}
	if h.Dropped() != 3 {
		t.Errorf("Dropped: got %d, want 3", h.Dropped())
	}
}

func TestAdapter_PlaybackSilenceAndUnderruns(t *testing.T) {
	dev := &mock.Device{}
	a := audio.NewAdapter(dev, audio.DefaultFormat)
	q := audio.NewFrameQueue(8)

	h, err := a.OpenPlayback(audio.PlaybackConfig{Queue: q})
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	defer h.Close()

	// Before any audio arrives the output is silent but no underrun counts.
	out := dev.Pull(4)
	if !slices.Equal(out, []int16{0, 0, 0, 0}) {
		t.Errorf("initial output: got %v, want silence", out)
	}
	if h.Underruns() != 0 {
		t.Errorf("Underruns before playback: got %d, want 0", h.Underruns())
	}
	if h.SilentBuffers() != 1 {
		t.Errorf("SilentBuffers: got %d, want 1", h.SilentBuffers())
	}

	// A 6-sample frame spans two 4-sample callbacks; the second is padded.
	q.TryPush(audio.AudioFrame{Data: audio.EncodeSamples([]int16{1, 2, 3, 4, 5, 6})})
	if out := dev.Pull(4); !slices.Equal(out, []int16{1, 2, 3, 4}) {
		t.Errorf("first pull: got %v", out)
	}
	if out := dev.Pull(4); !slices.Equal(out, []int16{5, 6, 0, 0}) {
		t.Errorf("second pull: got %v", out)
	}
	if h.Underruns() != 1 {
		t.Errorf("Underruns: got %d, want 1", h.Underruns())
	}

	// Continued starvation is the same episode.
	dev.Pull(4)
	dev.Pull(4)
	if h.Underruns() != 1 {
		t.Errorf("Underruns after continued starvation: got %d, want 1", h.Underruns())
	}

	// Recovery then starvation again is a new episode.
	q.TryPush(audio.AudioFrame{Data: audio.EncodeSamples([]int16{7, 8, 9, 10})})
	dev.Pull(4)
	dev.Pull(4)
	if h.Underruns() != 2 {
		t.Errorf("Underruns after second episode: got %d, want 2", h.Underruns())
	}
	if h.Played() != 2 {
		t.Errorf("Played: got %d, want 2", h.Played())
	}
}

func TestAdapter_PlaybackConcatenatesFrames(t *testing.T) {
	dev := &mock.Device{}
	a := audio.NewAdapter(dev, audio.DefaultFormat)
	q := audio.NewFrameQueue(8)

	h, err := a.OpenPlayback(audio.PlaybackConfig{Queue: q})
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	defer h.Close()

	q.TryPush(audio.AudioFrame{Data: audio.EncodeSamples([]int16{1, 2})})
	q.TryPush(audio.AudioFrame{Data: audio.EncodeSamples([]int16{3, 4, 5})})
	if out := dev.Pull(5); !slices.Equal(out, []int16{1, 2, 3, 4, 5}) {
		t.Errorf("got %v, want [1 2 3 4 5]", out)
	}
	if h.Underruns() != 0 {
		t.Errorf("Underruns: got %d, want 0", h.Underruns())
	}
}

func TestAdapter_SecondOpenIsBusy(t *testing.T) {
	dev := &mock.Device{}
	a := audio.NewAdapter(dev, audio.DefaultFormat)
	q := audio.NewFrameQueue(4)

	h, err := a.OpenPlayback(audio.PlaybackConfig{Queue: q})
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}

	_, err = a.OpenPlayback(audio.PlaybackConfig{Queue: q})
	if !errors.Is(err, audio.ErrDeviceBusy) {
		t.Fatalf("second OpenPlayback: got %v, want ErrDeviceBusy", err)
	}
	var de *audio.DeviceError
	if !errors.As(err, &de) || de.Direction != audio.Playback {
		t.Errorf("expected *DeviceError for playback, got %#v", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if dev.PlaybackStreams[0].CallCountClose != 1 {
		t.Errorf("stream closed %d times, want 1", dev.PlaybackStreams[0].CallCountClose)
	}

	h2, err := a.OpenPlayback(audio.PlaybackConfig{Queue: q})
	if err != nil {
		t.Fatalf("OpenPlayback after Close: %v", err)
	}
	h2.Close()
}

func TestAdapter_OpenErrors(t *testing.T) {
	backendErr := errors.New("portaudio: boom")
	tests := []struct {
		name    string
		dev     *mock.Device
		wantErr error
		streams int
	}{
		{
			name:    "unavailable",
			dev:     &mock.Device{OpenCaptureError: audio.ErrDeviceUnavailable},
			wantErr: audio.ErrDeviceUnavailable,
		},
		{
			name:    "busy",
			dev:     &mock.Device{OpenCaptureError: audio.ErrDeviceBusy},
			wantErr: audio.ErrDeviceBusy,
		},
		{
			name:    "start fails",
			dev:     &mock.Device{StartError: backendErr},
			wantErr: backendErr,
			streams: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := audio.NewAdapter(tt.dev, audio.DefaultFormat)
			_, err := a.OpenCapture(audio.CaptureConfig{Queue: audio.NewFrameQueue(1)})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			var de *audio.DeviceError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DeviceError, got %T", err)
			}
			if len(tt.dev.CaptureStreams) != tt.streams {
				t.Fatalf("streams: got %d, want %d", len(tt.dev.CaptureStreams), tt.streams)
			}
			if tt.dev.OpenStreams() != 0 {
				t.Errorf("OpenStreams: got %d, want 0 after failed open", tt.dev.OpenStreams())
			}

			// The claim must be released so a retry can succeed.
			tt.dev.OpenCaptureError = nil
			tt.dev.StartError = nil
			h, err := a.OpenCapture(audio.CaptureConfig{Queue: audio.NewFrameQueue(1)})
			if err != nil {
				t.Fatalf("retry OpenCapture: %v", err)
			}
			h.Close()
		})
	}
}

func TestDeviceError_Message(t *testing.T) {
	err := &audio.DeviceError{Direction: audio.Capture, Err: audio.ErrDeviceUnavailable}
	want := `audio: open capture device "default": audio: device unavailable`
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
