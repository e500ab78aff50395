package bridge

import (
	"errors"

	"github.com/MrWong99/voxbridge/internal/supervisor"
	"github.com/MrWong99/voxbridge/internal/transport"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Class is the error taxonomy surfaced to the user.
type Class int

const (
	// ClassNone means there is no error.
	ClassNone Class = iota

	// ClassDevice is a failure to open an audio device. Fatal to Start and
	// never retried.
	ClassDevice

	// ClassHandshake is a failure to establish a session. Retried.
	ClassHandshake

	// ClassTransport is the loss of an active session. Retried.
	ClassTransport

	// ClassQueueOverflow means frames were dropped. Counted only.
	ClassQueueOverflow

	// ClassUnknown is anything else.
	ClassUnknown
)

// String returns the class name used in logs and status JSON.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassDevice:
		return "device"
	case ClassHandshake:
		return "handshake"
	case ClassTransport:
		return "transport"
	case ClassQueueOverflow:
		return "queue_overflow"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Classify maps err onto the error taxonomy.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var devErr *audio.DeviceError
	var hsErr *transport.HandshakeError
	var trErr *transport.TransportError
	switch {
	case errors.As(err, &devErr):
		return ClassDevice
	case errors.As(err, &hsErr):
		return ClassHandshake
	case errors.As(err, &trErr),
		errors.Is(err, transport.ErrSessionClosed),
		errors.Is(err, supervisor.ErrSessionEnded):
		return ClassTransport
	case errors.Is(err, audio.ErrQueueOverflow):
		return ClassQueueOverflow
	default:
		return ClassUnknown
	}
}

// Describe returns a short human-readable message for err. Every error class
// maps to a distinct message.
func Describe(err error) string {
	switch Classify(err) {
	case ClassNone:
		return ""
	case ClassDevice:
		return describeDevice(err)
	case ClassHandshake:
		return describeHandshake(err)
	case ClassTransport:
		if errors.Is(err, transport.ErrSessionClosed) {
			return "Phone closed the connection"
		}
		var trErr *transport.TransportError
		if errors.As(err, &trErr) {
			return "Connection lost (" + trErr.Op + ")"
		}
		return "Connection lost"
	case ClassQueueOverflow:
		return "Audio is lagging, frames dropped"
	default:
		return "Unexpected error: " + err.Error()
	}
}

func describeDevice(err error) string {
	var devErr *audio.DeviceError
	errors.As(err, &devErr)

	what := "Microphone"
	if devErr.Direction == audio.Playback {
		what = "Speaker"
	}
	switch {
	case errors.Is(err, audio.ErrDeviceUnavailable):
		if devErr.Direction == audio.Playback {
			return "No speaker found or invalid output device"
		}
		return "No microphone found or invalid input device"
	case errors.Is(err, audio.ErrDeviceBusy):
		return what + " is busy or unavailable"
	case devErr.Err != nil:
		return what + " error: " + devErr.Err.Error()
	default:
		return what + " error"
	}
}

func describeHandshake(err error) string {
	switch {
	case errors.Is(err, transport.ErrInvalidEndpoint):
		return "Invalid phone address or port"
	case errors.Is(err, transport.ErrHandshakeTimeout):
		return "Connection timed out"
	case errors.Is(err, transport.ErrConnectionRefused):
		return "Connection refused by phone"
	case errors.Is(err, transport.ErrHostUnreachable):
		return "Phone is unreachable"
	case errors.Is(err, transport.ErrHandshakeRejected):
		return "Phone rejected the connection"
	default:
		return "Connection failed"
	}
}
