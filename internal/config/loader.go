package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxbridge/internal/supervisor"
	"github.com/MrWong99/voxbridge/internal/transport"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults, which fail validation because remote.address is required.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no remote
// address.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.AdminAddr == "" {
		cfg.Server.AdminAddr = DefaultAdminAddr
	}

	if cfg.Remote.Port == 0 {
		cfg.Remote.Port = transport.DefaultPort
	}
	if cfg.Remote.Path == "" {
		cfg.Remote.Path = DefaultPath
	}
	if cfg.Remote.HandshakeTimeout == 0 {
		cfg.Remote.HandshakeTimeout = transport.DefaultHandshakeTimeout
	}
	if cfg.Remote.MaxMessageBytes == 0 {
		cfg.Remote.MaxMessageBytes = transport.DefaultMaxMessageBytes
	}

	def := audio.DefaultFormat
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = def.SampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = def.Channels
	}
	if cfg.Audio.BitDepth == 0 {
		cfg.Audio.BitDepth = def.BitDepth
	}
	if cfg.Audio.FramesPerBuffer == 0 {
		cfg.Audio.FramesPerBuffer = def.FramesPerBuffer
	}

	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = audio.DefaultQueueCapacity
	}
	if cfg.Queue.PlaybackCapacity == 0 {
		cfg.Queue.PlaybackCapacity = DefaultPlaybackCapacity
	}
	if cfg.Queue.PopTimeout == 0 {
		cfg.Queue.PopTimeout = DefaultPopTimeout
	}
	if cfg.Queue.FlushStale == nil {
		flush := true
		cfg.Queue.FlushStale = &flush
	}

	if cfg.Reconnect.Base == 0 {
		cfg.Reconnect.Base = supervisor.DefaultBackoffBase
	}
	if cfg.Reconnect.Cap == 0 {
		cfg.Reconnect.Cap = supervisor.DefaultBackoffCap
	}
	if cfg.Reconnect.FailureThreshold == 0 {
		cfg.Reconnect.FailureThreshold = supervisor.DefaultFailureThreshold
	}
	if cfg.Reconnect.CancelTimeout == 0 {
		cfg.Reconnect.CancelTimeout = supervisor.DefaultCancelTimeout
	}

	if cfg.Status.DropThreshold == 0 {
		cfg.Status.DropThreshold = DefaultDropThreshold
	}
	if cfg.Status.UnderrunThreshold == 0 {
		cfg.Status.UnderrunThreshold = DefaultUnderrunThreshold
	}
	if cfg.Status.PollInterval == 0 {
		cfg.Status.PollInterval = DefaultPollInterval
	}
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [ApplyDefaults]. It returns a joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Remote
	if cfg.Remote.Address == "" {
		errs = append(errs, errors.New("remote.address is required"))
	} else if err := cfg.Remote.Endpoint().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("remote: %w", err))
	}
	if cfg.Remote.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("remote.handshake_timeout %v must be positive", cfg.Remote.HandshakeTimeout))
	}
	if cfg.Remote.MaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("remote.max_message_bytes %d must be positive", cfg.Remote.MaxMessageBytes))
	}

	// Audio
	if err := cfg.Audio.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}

	// Queue
	if cfg.Queue.Capacity < 1 {
		errs = append(errs, fmt.Errorf("queue.capacity %d must be at least 1", cfg.Queue.Capacity))
	}
	if cfg.Queue.PlaybackCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue.playback_capacity %d must be at least 1", cfg.Queue.PlaybackCapacity))
	}
	if cfg.Queue.PopTimeout < 0 {
		errs = append(errs, fmt.Errorf("queue.pop_timeout %v must be positive", cfg.Queue.PopTimeout))
	}

	// Reconnect
	rc := cfg.Reconnect
	if rc.Base < 0 || rc.Cap < 0 {
		errs = append(errs, fmt.Errorf("reconnect.base %v and reconnect.cap %v must be positive", rc.Base, rc.Cap))
	} else if rc.Cap < rc.Base {
		errs = append(errs, fmt.Errorf("reconnect.cap %v is below reconnect.base %v", rc.Cap, rc.Base))
	}
	if rc.Jitter < 0 || rc.Jitter > 1 {
		errs = append(errs, fmt.Errorf("reconnect.jitter %.2f is out of range [0, 1]", rc.Jitter))
	}
	if rc.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("reconnect.failure_threshold %d must be at least 1", rc.FailureThreshold))
	}
	if rc.CancelTimeout < 0 {
		errs = append(errs, fmt.Errorf("reconnect.cancel_timeout %v must be positive", rc.CancelTimeout))
	}

	// Status
	if cfg.Status.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("status.poll_interval %v must be positive", cfg.Status.PollInterval))
	}

	return errors.Join(errs...)
}
