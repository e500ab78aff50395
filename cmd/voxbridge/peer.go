package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/peer"
	"github.com/MrWong99/voxbridge/internal/transport"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

var peerFlags struct {
	listen   string
	mode     string
	logLevel string
	rate     int
	channels int
	frames   int
	freq     float64
	burst    time.Duration
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run a stand-in phone that answers with a tone or an echo",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mode := peer.Mode(peerFlags.mode)
		if !mode.IsValid() {
			return fmt.Errorf("--mode %q: want tone or echo", peerFlags.mode)
		}
		level := config.LogLevel(peerFlags.logLevel)
		if !level.IsValid() {
			return fmt.Errorf("--log-level %q: want debug, info, warn or error", peerFlags.logLevel)
		}
		f := audio.Format{
			SampleRate:      peerFlags.rate,
			Channels:        peerFlags.channels,
			BitDepth:        16,
			FramesPerBuffer: peerFlags.frames,
		}
		if err := f.Validate(); err != nil {
			return err
		}
		slog.SetDefault(newLogger(level))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := peer.New(peer.Config{
			Mode:          mode,
			Format:        f,
			ToneFrequency: peerFlags.freq,
			ToneDuration:  peerFlags.burst,
		})
		err := srv.ListenAndServe(ctx, peerFlags.listen)
		st := srv.Stats()
		slog.Info("peer stopped",
			"connections", st.Connections,
			"received", st.Received,
			"sent", st.Sent,
			"ignored", st.Ignored,
		)
		return err
	},
}

func init() {
	f := peerCmd.Flags()
	f.StringVar(&peerFlags.listen, "listen", fmt.Sprintf(":%d", transport.DefaultPort), "listen address")
	f.StringVar(&peerFlags.mode, "mode", string(peer.ModeTone), "reply mode: tone or echo")
	f.StringVar(&peerFlags.logLevel, "log-level", string(config.DefaultLogLevel), "log level")
	f.IntVar(&peerFlags.rate, "sample-rate", audio.DefaultFormat.SampleRate, "sample rate of generated tones")
	f.IntVar(&peerFlags.channels, "channels", audio.DefaultFormat.Channels, "channel count of generated tones")
	f.IntVar(&peerFlags.frames, "frames-per-buffer", audio.DefaultFormat.FramesPerBuffer, "samples per channel in each tone frame")
	f.Float64Var(&peerFlags.freq, "tone-frequency", 440, "tone frequency in Hz")
	f.DurationVar(&peerFlags.burst, "tone-duration", 500*time.Millisecond, "length of one tone burst")
}
