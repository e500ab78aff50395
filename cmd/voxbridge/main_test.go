package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxbridge/internal/bridge"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/supervisor"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/audio/mock"
)

func TestBridgeConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
remote:
  address: 10.1.2.3
  port: 9001
audio:
  capture_device: USB
queue:
  capacity: 16
  flush_stale: false
reconnect:
  base: 2s
  failure_threshold: 7
status:
  drop_threshold: -1
  underrun_threshold: 12
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	bc := bridgeConfig(cfg)
	if bc.Transport.Endpoint.Address != "10.1.2.3" || bc.Transport.Endpoint.Port != 9001 {
		t.Errorf("endpoint = %+v", bc.Transport.Endpoint)
	}
	if bc.Format != audio.DefaultFormat {
		t.Errorf("format = %+v, want default", bc.Format)
	}
	if bc.CaptureDevice != "USB" || bc.QueueCapacity != 16 {
		t.Errorf("capture device %q, capacity %d", bc.CaptureDevice, bc.QueueCapacity)
	}
	if bc.Transport.FlushStale {
		t.Error("FlushStale = true, want false")
	}
	if bc.Reconnect.BackoffBase != 2*time.Second || bc.Reconnect.FailureThreshold != 7 {
		t.Errorf("reconnect = %+v", bc.Reconnect)
	}
	if bc.DropThreshold != 0 || bc.UnderrunThreshold != 12 {
		t.Errorf("thresholds = %d, %d; want 0, 12", bc.DropThreshold, bc.UnderrunThreshold)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		l := newLogger(tt.level)
		if !l.Enabled(context.Background(), tt.want) {
			t.Errorf("%q: level %v disabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && l.Enabled(context.Background(), tt.want-4) {
			t.Errorf("%q: level %v enabled", tt.level, tt.want-4)
		}
	}
}

type fakeLister struct {
	devs []audio.DeviceInfo
	err  error
}

func (f fakeLister) Devices() ([]audio.DeviceInfo, error) { return f.devs, f.err }

func TestListDevices(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := listDevices(&buf, fakeLister{devs: []audio.DeviceInfo{
		{Name: "Built-in Microphone", HostAPI: "Core Audio", MaxInputChannels: 2, DefaultSampleRate: 44100, DefaultInput: true},
		{Name: "Speakers", HostAPI: "Core Audio", MaxOutputChannels: 2, DefaultSampleRate: 48000, DefaultOutput: true},
	}})
	if err != nil {
		t.Fatalf("listDevices: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Built-in Microphone") || !strings.HasSuffix(lines[1], "in") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "48000") || !strings.HasSuffix(lines[2], "out") {
		t.Errorf("line 2 = %q", lines[2])
	}

	wantErr := errors.New("no backend")
	if err := listDevices(&buf, fakeLister{err: wantErr}); !errors.Is(err, wantErr) {
		t.Errorf("listDevices error = %v, want %v", err, wantErr)
	}
}

func TestPrintStatus_StopsOnCancel(t *testing.T) {
	t.Parallel()
	events := make(chan bridge.Status, 2)
	events <- bridge.Status{State: supervisor.Connecting}
	events <- bridge.Status{State: supervisor.Connected, SessionID: "abc"}

	ctx, cancel := context.WithCancel(t.Context())
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		printStatus(ctx, &buf, events)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(events) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("printStatus did not return after cancel")
	}

	out := buf.String()
	if !strings.Contains(out, "state=connecting") || !strings.Contains(out, "state=connected session=abc") {
		t.Errorf("output = %q", out)
	}
}

func TestAdminHandler(t *testing.T) {
	t.Parallel()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	coord := bridge.New(&mock.Device{}, bridge.WithMetrics(m))
	srv := httptest.NewServer(adminHandler(coord, m, prometheus.NewRegistry()))
	defer srv.Close()

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/readyz", http.StatusServiceUnavailable, `"bridge":"fail: bridge: disconnected"`},
		{"/status", http.StatusOK, `"state":"disconnected"`},
		{"/metrics", http.StatusOK, ""},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.wantCode {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.wantCode)
		}
		if !strings.Contains(body.String(), tt.wantBody) {
			t.Errorf("GET %s body = %s, want it to contain %s", tt.path, body.String(), tt.wantBody)
		}
	}
}
