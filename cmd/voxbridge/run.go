package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/voxbridge/internal/bridge"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio/portaudio"
)

// shutdownTimeout bounds the admin listener and telemetry flush on exit.
const shutdownTimeout = 5 * time.Second

func runBridge(cmd *cobra.Command, _ []string) error {
	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}
	cfg, err := config.Resolve(cfgFile)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("voxbridge starting",
		"config", cfgFile,
		"remote", cfg.Remote.Endpoint().String(),
		"format", cfg.Audio.Format().String(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     reg,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Audio backend ─────────────────────────────────────────────────────────
	backend, err := portaudio.New()
	if err != nil {
		return err
	}
	defer backend.Close()

	coord := bridge.New(backend, bridge.WithMetrics(metrics))

	// ── Admin listener (optional) ─────────────────────────────────────────────
	var admin *http.Server
	if cfg.Server.AdminAddr != "-" {
		admin, err = startAdmin(cfg.Server.AdminAddr, adminHandler(coord, metrics, reg))
		if err != nil {
			return err
		}
	}

	printStartupSummary(cmd.OutOrStdout(), cfg)

	// ── Bridge ────────────────────────────────────────────────────────────────
	if err := coord.Start(ctx, bridgeConfig(cfg)); err != nil {
		shutdownAdmin(admin)
		return fmt.Errorf("%s: %w", bridge.Describe(err), err)
	}
	slog.Info("bridge started, press Ctrl+C to stop")

	printStatus(ctx, cmd.OutOrStdout(), coord.Events())

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	stop()
	var stopErr error
	if err := coord.Stop(); err != nil {
		slog.Error("bridge stop", "err", err)
		stopErr = err
	}
	shutdownAdmin(admin)
	slog.Info("goodbye")
	return stopErr
}

// printStatus writes one line per status event until ctx is done.
func printStatus(ctx context.Context, w io.Writer, events <-chan bridge.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-events:
			fmt.Fprintln(w, st.String())
		}
	}
}

// adminHandler serves the health probes, the latest status and the
// Prometheus scrape endpoint.
func adminHandler(coord *bridge.Coordinator, m *observe.Metrics, g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	health.New(
		func() any { return coord.Latest() },
		health.Checker{Name: "bridge", Check: coord.Ready},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return observe.Middleware(m)(mux)
}

func startAdmin(addr string, h http.Handler) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("admin: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin listener failed", "err", err)
		}
	}()
	slog.Info("admin listener started", "addr", ln.Addr().String())
	return srv, nil
}

func shutdownAdmin(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("admin shutdown", "err", err)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	device := func(name string) string {
		if name == "" {
			return "(system default)"
		}
		return name
	}
	admin := cfg.Server.AdminAddr
	if admin == "-" {
		admin = "(disabled)"
	}
	fmt.Fprintln(w, "voxbridge startup summary")
	fmt.Fprintf(w, "  phone      : %s\n", cfg.Remote.Endpoint().String())
	fmt.Fprintf(w, "  format     : %s\n", cfg.Audio.Format().String())
	fmt.Fprintf(w, "  microphone : %s\n", device(cfg.Audio.CaptureDevice))
	fmt.Fprintf(w, "  speaker    : %s\n", device(cfg.Audio.PlaybackDevice))
	fmt.Fprintf(w, "  retry      : %s .. %s\n", cfg.Reconnect.Base, cfg.Reconnect.Cap)
	fmt.Fprintf(w, "  admin      : %s\n", admin)
}
