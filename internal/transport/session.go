package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Defaults applied by [NewDialer].
const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultMaxMessageBytes  = 1 << 20
	DefaultPopTimeout       = 100 * time.Millisecond
)

// Conn is the subset of [*websocket.Conn] used by a session.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

var _ Conn = (*websocket.Conn)(nil)

// DialFunc opens a WebSocket to url. ctx bounds the handshake only.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Config configures a [Dialer].
type Config struct {
	Endpoint Endpoint

	// Outbound is drained by the send loop. Required.
	Outbound *audio.FrameQueue

	// Inbound receives frames from the receive loop. Required.
	Inbound *audio.FrameQueue

	// HandshakeTimeout bounds the WebSocket handshake. Defaults to 5s if zero.
	HandshakeTimeout time.Duration

	// MaxMessageBytes is the largest message the receive loop accepts.
	// Defaults to 1 MiB if zero.
	MaxMessageBytes int64

	// PopTimeout is how long the send loop waits for an outbound frame
	// before re-checking for cancellation. Defaults to 100ms if zero.
	PopTimeout time.Duration

	// FlushStale discards frames queued while disconnected before the first
	// send of a new session.
	FlushStale bool
}

// Option configures a [Dialer].
type Option func(*Dialer)

// WithDialFunc replaces the WebSocket dialler. Intended for tests.
func WithDialFunc(fn DialFunc) Option {
	return func(d *Dialer) { d.dial = fn }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dialer) { d.metrics = m }
}

// Dialer establishes sessions to a fixed endpoint. It is safe for
// concurrent use, but the caller must ensure at most one session returned by
// it is live at a time because all sessions share the same queues.
type Dialer struct {
	cfg     Config
	dial    DialFunc
	metrics *observe.Metrics
}

// NewDialer creates a Dialer. The endpoint is not validated here; an invalid
// endpoint makes every [Dialer.Dial] fail with [ErrInvalidEndpoint].
func NewDialer(cfg Config, opts ...Option) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = DefaultPopTimeout
	}
	d := &Dialer{cfg: cfg}
	d.dial = d.websocketDial
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Endpoint returns the configured endpoint.
func (d *Dialer) Endpoint() Endpoint { return d.cfg.Endpoint }

func (d *Dialer) websocketDial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("%w: HTTP %d: %w", ErrHandshakeRejected, resp.StatusCode, err)
		}
		return nil, err
	}
	conn.SetReadLimit(d.cfg.MaxMessageBytes)
	return conn, nil
}

// Dial performs the handshake and starts the session loops. The handshake
// is bounded by the configured timeout and by ctx; the session itself lives
// until ctx is cancelled, [Session.Close] is called, or a loop fails. Both
// local stops end the session with a normal close frame.
//
// Failures are returned as [*HandshakeError]. If ctx is cancelled during the
// handshake the error unwraps to context.Canceled.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	url, err := d.cfg.Endpoint.URL()
	if err != nil {
		d.metrics.RecordConnectAttempt(ctx, outcome(ErrInvalidEndpoint), 0)
		return nil, &HandshakeError{URL: d.cfg.Endpoint.String(), Kind: ErrInvalidEndpoint, Err: err}
	}

	ctx, span := observe.StartSpan(ctx, "transport.handshake",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url", url)),
	)
	defer span.End()

	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	conn, err := d.dial(hctx, url)
	timedOut := errors.Is(hctx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		kind := classifyDial(ctx, err)
		if kind == nil && timedOut {
			kind = ErrHandshakeTimeout
		}
		d.metrics.RecordConnectAttempt(ctx, outcome(kind), elapsed.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake failed")
		return nil, &HandshakeError{URL: url, Kind: kind, Err: err}
	}
	d.metrics.RecordConnectAttempt(ctx, "ok", elapsed.Seconds())

	s := &Session{
		id:        uuid.NewString(),
		url:       url,
		conn:      conn,
		cfg:       d.cfg,
		metrics:   d.metrics,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("session_id", s.id))
	s.start(ctx)

	observe.Logger(s.ctx).Info("transport session active",
		"url", url,
		"handshake", elapsed.Round(time.Millisecond),
	)
	return s, nil
}

// ─── Session ─────────────────────────────────────────────────────────────────

// Stats is a snapshot of a session's counters.
type Stats struct {
	Sent           uint64
	Received       uint64
	InboundDropped uint64
	Ignored        uint64
}

// Session is one active WebSocket connection.
type Session struct {
	id      string
	url     string
	conn    Conn
	cfg     Config
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	done         chan struct{}
	err          error
	closing      atomic.Bool
	shutdownOnce sync.Once
	closeOnce    sync.Once
	startedAt    time.Time

	sent           atomic.Uint64
	received       atomic.Uint64
	inboundDropped atomic.Uint64
	ignored        atomic.Uint64
}

func (s *Session) start(parent context.Context) {
	// The handshake span must not parent the whole session, and cancelling
	// parent must not reach conn.Read before the close frame is written.
	base := trace.ContextWithSpan(context.WithoutCancel(parent), trace.SpanFromContext(context.Background()))
	s.ctx, s.cancel = context.WithCancel(observe.WithSessionID(base, s.id))
	s.metrics.ActiveSessions.Add(s.ctx, 1)
	stopWatch := context.AfterFunc(parent, s.shutdown)

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.sendLoop(gctx) })
	g.Go(func() error { return s.receiveLoop(gctx) })

	go func() {
		err := g.Wait()
		stopWatch()
		s.closeConn(err)
		s.err = err

		lifetime := time.Since(s.startedAt)
		s.metrics.ActiveSessions.Add(context.WithoutCancel(s.ctx), -1)
		s.metrics.SessionDuration.Record(context.WithoutCancel(s.ctx), lifetime.Seconds())

		log := observe.Logger(s.ctx)
		st := s.Stats()
		if err != nil {
			log.Warn("transport session failed", "err", err, "lifetime", lifetime.Round(time.Millisecond),
				"sent", st.Sent, "received", st.Received)
		} else {
			log.Info("transport session closed", "lifetime", lifetime.Round(time.Millisecond),
				"sent", st.Sent, "received", st.Received)
		}
		close(s.done)
	}()
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// URL returns the dialled URL.
func (s *Session) URL() string { return s.url }

// Done is closed exactly once, after both loops have exited and the socket
// has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session: a [*TransportError] when a
// loop failed, or nil when the session was closed locally. It is only
// meaningful after [Session.Done] is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close performs the close handshake, stops both loops and waits for
// teardown or for ctx to expire. When ctx expires first the loops are
// cancelled without waiting for the peer. It is safe to call more than once
// and concurrently with a loop failure.
func (s *Session) Close(ctx context.Context) error {
	go s.shutdown()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("transport: close session %s: %w", s.id, ctx.Err())
	}
}

// shutdown sends the normal close frame while the receive loop is still
// reading, so the peer's reply is consumed there, then cancels the loops.
func (s *Session) shutdown() {
	s.shutdownOnce.Do(func() {
		s.closing.Store(true)
		s.closeConn(nil)
		s.cancel()
	})
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Sent:           s.sent.Load(),
		Received:       s.received.Load(),
		InboundDropped: s.inboundDropped.Load(),
		Ignored:        s.ignored.Load(),
	}
}

// closeConn closes the socket exactly once: a close handshake with
// StatusNormalClosure when the session was stopped locally, an immediate
// close after a failure.
func (s *Session) closeConn(cause error) {
	s.closeOnce.Do(func() {
		var err error
		if cause == nil {
			err = s.conn.Close(websocket.StatusNormalClosure, "bridge stopped")
		} else {
			err = s.conn.CloseNow()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			observe.Logger(s.ctx).Debug("transport: close socket", "err", err)
		}
	})
}

// sendLoop writes one binary message per outbound frame, in queue order.
func (s *Session) sendLoop(ctx context.Context) error {
	if s.cfg.FlushStale {
		if n := s.cfg.Outbound.Discard(); n > 0 {
			observe.Logger(ctx).Debug("discarded stale outbound frames", "frames", n)
		}
	}
	for {
		if ctx.Err() != nil || s.closing.Load() {
			return nil
		}
		f, ok := s.cfg.Outbound.Pop(s.cfg.PopTimeout)
		if !ok {
			continue
		}
		if err := s.conn.Write(ctx, websocket.MessageBinary, f.Data); err != nil {
			if ctx.Err() != nil || s.closing.Load() {
				// Cancelled mid-write; the partial message is abandoned.
				return nil
			}
			return &TransportError{Op: "send", Err: err}
		}
		s.sent.Add(1)
		s.metrics.FramesSent.Add(ctx, 1)
	}
}

// receiveLoop pushes every binary message into the inbound queue.
func (s *Session) receiveLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || s.closing.Load() {
				return nil
			}
			if websocket.CloseStatus(err) != -1 {
				err = fmt.Errorf("%w: %w", ErrSessionClosed, err)
			}
			return &TransportError{Op: "receive", Err: err}
		}
		if typ != websocket.MessageBinary {
			s.ignored.Add(1)
			s.metrics.ControlMessagesIgnored.Add(ctx, 1)
			observe.Logger(ctx).Debug("ignoring non-binary message", "type", typ.String(), "bytes", len(data))
			continue
		}
		s.received.Add(1)
		s.metrics.FramesReceived.Add(ctx, 1)
		if !s.cfg.Inbound.TryPush(audio.AudioFrame{Data: data}) {
			s.inboundDropped.Add(1)
			s.metrics.RecordDrops(ctx, observe.DirectionInbound, 1)
		}
	}
}
