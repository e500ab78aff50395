// Command voxbridge streams the desktop microphone to a phone over a
// WebSocket and plays the phone's audio on the desktop speaker.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxbridge/internal/bridge"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/supervisor"
	"github.com/MrWong99/voxbridge/internal/transport"
)

var version = "0.1.0"

var (
	cfgFile  string
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:           "voxbridge",
	Short:         "Desktop to phone audio bridge",
	Long:          "voxbridge captures the desktop microphone, streams it to a phone over a WebSocket and plays the phone's audio on the desktop speaker.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBridge,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge (default)",
	RunE:  runBridge,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "voxbridge v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML configuration file (optional when VOXBRIDGE_REMOTE_ADDRESS is set)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before resolving the configuration (default .env)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(peerCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		os.Exit(1)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Config mapping ─────────────────────────────────────────────────────────────

// bridgeConfig translates the file schema into a [bridge.Config]. Negative
// thresholds in the file disable the event, which the bridge spells as zero.
func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		Format:           cfg.Audio.Format(),
		CaptureDevice:    cfg.Audio.CaptureDevice,
		PlaybackDevice:   cfg.Audio.PlaybackDevice,
		QueueCapacity:    cfg.Queue.Capacity,
		PlaybackCapacity: cfg.Queue.PlaybackCapacity,
		Transport: transport.Config{
			Endpoint:         cfg.Remote.Endpoint(),
			HandshakeTimeout: cfg.Remote.HandshakeTimeout,
			MaxMessageBytes:  cfg.Remote.MaxMessageBytes,
			PopTimeout:       cfg.Queue.PopTimeout,
			FlushStale:       cfg.Queue.FlushStaleEnabled(),
		},
		Reconnect: supervisor.Config{
			BackoffBase:      cfg.Reconnect.Base,
			BackoffCap:       cfg.Reconnect.Cap,
			Jitter:           cfg.Reconnect.Jitter,
			FailureThreshold: cfg.Reconnect.FailureThreshold,
			CancelTimeout:    cfg.Reconnect.CancelTimeout,
		},
		DropThreshold:     max(cfg.Status.DropThreshold, 0),
		UnderrunThreshold: max(cfg.Status.UnderrunThreshold, 0),
		PollInterval:      cfg.Status.PollInterval,
	}
}
