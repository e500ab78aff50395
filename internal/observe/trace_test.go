package observe

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"testing"
)

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_HandshakeSpan(t *testing.T) {
	exp := withTracer(t)

	ctx, span := StartSpan(context.Background(), "transport.handshake")
	first := CorrelationID(ctx)
	span.End()
	_, span2 := StartSpan(context.Background(), "transport.handshake")
	span2.End()

	if !hex32.MatchString(first) {
		t.Errorf("CorrelationID = %q, want 32 hex characters", first)
	}
	spans := exp.GetSpans()
	if len(spans) != 2 || spans[0].Name != "transport.handshake" {
		t.Fatalf("spans = %v", spans)
	}
	if spans[0].SpanContext.TraceID() == spans[1].SpanContext.TraceID() {
		t.Error("independent handshakes share a trace ID")
	}
}

func TestLogger(t *testing.T) {
	withTracer(t)
	spanCtx, span := StartSpan(context.Background(), "transport.handshake")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		wantNot []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background(),
			wantNot: []string{"trace_id", "session_id"},
		},
		{
			name:    "span",
			ctx:     spanCtx,
			want:    []string{"trace_id=", "span_id="},
			wantNot: []string{"session_id"},
		},
		{
			name: "span and session",
			ctx:  WithSessionID(spanCtx, "abc-123"),
			want: []string{"trace_id=", "session_id=abc-123"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tt.ctx).Info("frame sent")
			for _, s := range tt.want {
				if !bytes.Contains(buf.Bytes(), []byte(s)) {
					t.Errorf("log %q missing %q", buf.String(), s)
				}
			}
			for _, s := range tt.wantNot {
				if bytes.Contains(buf.Bytes(), []byte(s)) {
					t.Errorf("log %q should not contain %q", buf.String(), s)
				}
			}
		})
	}
}

func TestSessionID(t *testing.T) {
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
	ctx := WithSessionID(context.Background(), "s-1")
	if got := SessionID(ctx); got != "s-1" {
		t.Errorf("SessionID = %q, want s-1", got)
	}
}
