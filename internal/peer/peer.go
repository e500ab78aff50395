// Package peer implements a development stand-in for the phone: a
// WebSocket server that accepts binary PCM frames from the bridge and sends
// audio back, either a sine tone or an echo of what it received.
//
// It speaks the same wire protocol as the phone: one binary message per
// frame, text messages ignored.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Mode selects what the peer sends back.
type Mode string

const (
	// ModeTone answers received audio with a sine tone burst.
	ModeTone Mode = "tone"

	// ModeEcho sends every received frame straight back.
	ModeEcho Mode = "echo"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool { return m == ModeTone || m == ModeEcho }

// Config configures a [Server].
type Config struct {
	// Mode defaults to [ModeTone].
	Mode Mode

	// Format is the PCM format of generated tones. Defaults to
	// [audio.DefaultFormat].
	Format audio.Format

	// ToneFrequency defaults to 440 Hz.
	ToneFrequency float64

	// ToneDuration is the length of one tone burst. Defaults to 500ms.
	ToneDuration time.Duration

	// ToneAmplitude is a fraction of full scale. Defaults to 0.5.
	ToneAmplitude float64

	// MaxMessageBytes defaults to 1 MiB.
	MaxMessageBytes int64
}

// Stats counts traffic across all connections.
type Stats struct {
	Connections uint64
	Received    uint64
	Sent        uint64
	Ignored     uint64
}

// Server is an [http.Handler] that upgrades every request to a WebSocket.
// It serves any number of connections concurrently.
type Server struct {
	cfg  Config
	tone [][]byte

	connections atomic.Uint64
	received    atomic.Uint64
	sent        atomic.Uint64
	ignored     atomic.Uint64
}

var _ http.Handler = (*Server)(nil)

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Mode == "" {
		cfg.Mode = ModeTone
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat
	}
	if cfg.ToneFrequency <= 0 {
		cfg.ToneFrequency = 440
	}
	if cfg.ToneDuration <= 0 {
		cfg.ToneDuration = 500 * time.Millisecond
	}
	if cfg.ToneAmplitude <= 0 {
		cfg.ToneAmplitude = 0.5
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	s := &Server{cfg: cfg}
	if cfg.Mode == ModeTone {
		pcm := Tone(cfg.Format, cfg.ToneFrequency, cfg.ToneDuration, cfg.ToneAmplitude)
		s.tone = Split(pcm, cfg.Format.FrameBytes())
	}
	return s
}

// Stats returns a snapshot of the traffic counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Received:    s.received.Load(),
		Sent:        s.sent.Load(),
		Ignored:     s.ignored.Load(),
	}
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("peer: accept", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	s.connections.Add(1)
	log := slog.With("remote", r.RemoteAddr, "mode", string(s.cfg.Mode))
	log.Info("peer: client connected")

	err = s.serve(r.Context(), conn)
	switch {
	case err == nil, websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
		log.Info("peer: client disconnected")
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		log.Warn("peer: connection failed", "err", err)
	}
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn) error {
	var lastTone time.Time
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			s.ignored.Add(1)
			slog.Debug("peer: ignoring non-binary message", "bytes", len(data))
			continue
		}
		s.received.Add(1)

		switch s.cfg.Mode {
		case ModeEcho:
			if err := s.write(ctx, conn, data); err != nil {
				return err
			}
		case ModeTone:
			// One burst at a time; frames arriving while a burst is still
			// playing on the other side do not queue more.
			if time.Since(lastTone) < s.cfg.ToneDuration {
				continue
			}
			lastTone = time.Now()
			for _, f := range s.tone {
				if err := s.write(ctx, conn, f); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, p []byte) error {
	if err := conn.Write(ctx, websocket.MessageBinary, p); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("peer: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("peer: listening", "addr", ln.Addr().String(), "mode", string(s.cfg.Mode), "format", s.cfg.Format.String())

	select {
	case err := <-errCh:
		return fmt.Errorf("peer: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("peer: shutdown: %w", err)
	}
	return nil
}

// Tone returns d of a sine wave at freq Hz and amplitude amp (a fraction of
// full scale) as little-endian 16-bit PCM in format f. Stereo formats carry
// the same signal on both channels.
func Tone(f audio.Format, freq float64, d time.Duration, amp float64) []byte {
	n := int(d.Seconds() * float64(f.SampleRate))
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(f.SampleRate)
		samples[i] = int16(amp * math.MaxInt16 * math.Sin(2*math.Pi*freq*t))
	}
	pcm := audio.EncodeSamples(samples)
	if f.Channels == 2 {
		pcm = audio.MonoToStereo(pcm)
	}
	return pcm
}

// Split cuts pcm into chunks of size bytes. The last chunk may be shorter.
func Split(pcm []byte, size int) [][]byte {
	if size <= 0 || len(pcm) <= size {
		return [][]byte{pcm}
	}
	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for len(pcm) > 0 {
		n := min(size, len(pcm))
		out = append(out, pcm[:n])
		pcm = pcm[n:]
	}
	return out
}
