// Package config provides the configuration schema and loader for the
// voxbridge desktop client.
package config

import (
	"time"

	"github.com/MrWong99/voxbridge/internal/transport"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Default values filled in by [ApplyDefaults].
const (
	DefaultLogLevel          = LogInfo
	DefaultAdminAddr         = "127.0.0.1:9765"
	DefaultPath              = "/"
	DefaultPlaybackCapacity  = audio.DefaultQueueCapacity
	DefaultPopTimeout        = 100 * time.Millisecond
	DefaultDropThreshold     = 50
	DefaultUnderrunThreshold = 25
	DefaultPollInterval      = 250 * time.Millisecond
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Remote    RemoteConfig    `yaml:"remote"`
	Audio     AudioConfig     `yaml:"audio"`
	Queue     QueueConfig     `yaml:"queue"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Status    StatusConfig    `yaml:"status"`
}

// ServerConfig holds logging and admin listener settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// AdminAddr is the listen address of the health, status and metrics
	// endpoints. Set to "-" to disable the admin listener.
	AdminAddr string `yaml:"admin_addr"`
}

// RemoteConfig locates the phone.
type RemoteConfig struct {
	// Address is the phone's IP address or host name. Required.
	Address string `yaml:"address"`

	// Port defaults to 8765.
	Port int `yaml:"port"`

	// Path is the WebSocket request path. Defaults to "/".
	Path string `yaml:"path"`

	// HandshakeTimeout defaults to 5s.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// MaxMessageBytes is the largest message accepted from the phone.
	// Defaults to 1 MiB.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
}

// Endpoint returns the remote as a transport endpoint.
func (r RemoteConfig) Endpoint() transport.Endpoint {
	return transport.Endpoint{Address: r.Address, Port: r.Port, Path: r.Path}
}

// AudioConfig fixes the PCM format and the devices used on both ends.
type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	BitDepth        int `yaml:"bit_depth"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// CaptureDevice and PlaybackDevice select devices by name. Empty uses
	// the system default; a partial name matches case-insensitively.
	CaptureDevice  string `yaml:"capture_device"`
	PlaybackDevice string `yaml:"playback_device"`
}

// Format returns the configured PCM format.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate:      a.SampleRate,
		Channels:        a.Channels,
		BitDepth:        a.BitDepth,
		FramesPerBuffer: a.FramesPerBuffer,
	}
}

// QueueConfig sizes the frame queues between the audio and network sides.
type QueueConfig struct {
	// Capacity is the outbound queue size in frames. Defaults to 64, about
	// 1.5 s at the default format.
	Capacity int `yaml:"capacity"`

	// PlaybackCapacity is the inbound queue size in frames. Defaults to 64.
	PlaybackCapacity int `yaml:"playback_capacity"`

	// PopTimeout bounds each wait of the send loop. Defaults to 100ms.
	PopTimeout time.Duration `yaml:"pop_timeout"`

	// FlushStale discards microphone frames queued while disconnected when
	// a new session starts. Defaults to true.
	FlushStale *bool `yaml:"flush_stale"`
}

// ReconnectConfig controls the retry policy.
type ReconnectConfig struct {
	// Base is the first retry delay. Defaults to 1s.
	Base time.Duration `yaml:"base"`

	// Cap is the maximum retry delay. Defaults to 30s.
	Cap time.Duration `yaml:"cap"`

	// Jitter is a fraction in [0, 1] applied to every delay. Defaults to 0.
	Jitter float64 `yaml:"jitter"`

	// FailureThreshold is the number of consecutive failures after which
	// status events are flagged persistent. Defaults to 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// CancelTimeout bounds shutdown. Defaults to 2s.
	CancelTimeout time.Duration `yaml:"cancel_timeout"`
}

// StatusConfig controls threshold status events.
type StatusConfig struct {
	// DropThreshold is the number of dropped frames that triggers a status
	// event. Defaults to 50. Negative disables the event.
	DropThreshold int `yaml:"drop_threshold"`

	// UnderrunThreshold is the number of playback underruns that triggers
	// a status event. Defaults to 25. Negative disables the event.
	UnderrunThreshold int `yaml:"underrun_threshold"`

	// PollInterval is how often counters are sampled. Defaults to 250ms.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// FlushStaleEnabled reports whether stale frames are flushed, applying the
// default when unset.
func (q QueueConfig) FlushStaleEnabled() bool {
	return q.FlushStale == nil || *q.FlushStale
}
