// Package bridge wires the audio device adapter, the frame queues and the
// connection supervisor into one unit that is started and stopped together.
//
// The [Coordinator] is the only type most callers need: Start opens the
// microphone and the speaker, then starts the supervisor which keeps a
// transport session to the phone alive. Status snapshots are pushed on
// [Coordinator.Events] on every connection state change and whenever drop or
// underrun counters cross their thresholds.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/supervisor"
	"github.com/MrWong99/voxbridge/internal/transport"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Defaults applied by [Coordinator.Start].
const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultEventBuffer  = 64
)

// ErrAlreadyRunning is returned by Start on a running coordinator.
var ErrAlreadyRunning = errors.New("bridge: already running")

// Config configures one run of the bridge.
type Config struct {
	Format audio.Format

	// CaptureDevice and PlaybackDevice are device names. Empty selects the
	// system default.
	CaptureDevice  string
	PlaybackDevice string

	// QueueCapacity is the outbound queue size in frames.
	// Defaults to [audio.DefaultQueueCapacity] if zero.
	QueueCapacity int

	// PlaybackCapacity is the inbound queue size in frames.
	// Defaults to [audio.DefaultQueueCapacity] if zero.
	PlaybackCapacity int

	// Transport configures each session. Its queues are set by the
	// coordinator.
	Transport transport.Config

	// Reconnect configures the supervisor. Its Dialer, OnTransition and
	// Metrics are set by the coordinator.
	Reconnect supervisor.Config

	// DropThreshold is the number of dropped frames, in either direction,
	// that triggers an [EventDrops] status. Zero disables the event.
	DropThreshold int

	// UnderrunThreshold is the number of playback underruns that triggers
	// an [EventUnderruns] status. Zero disables the event.
	UnderrunThreshold int

	// PollInterval is how often counters are sampled.
	// Defaults to 250ms if zero.
	PollInterval time.Duration
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTransportOptions passes options to every [transport.Dialer] the
// coordinator creates.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Coordinator) { c.transportOpts = append(c.transportOpts, opts...) }
}

// WithEventBuffer sets the capacity of the status channel.
// Defaults to 64 if zero.
func WithEventBuffer(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.events = make(chan Status, n)
		}
	}
}

// Coordinator starts and stops the bridge as a unit.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	device        audio.Device
	metrics       *observe.Metrics
	transportOpts []transport.Option

	events   chan Status
	statusMu sync.Mutex
	latest   Status

	mu  sync.Mutex
	cur *run
}

// New creates a Coordinator that opens streams on device.
func New(device audio.Device, opts ...Option) *Coordinator {
	c := &Coordinator{
		device: device,
		events: make(chan Status, DefaultEventBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// run holds everything owned by one Start/Stop cycle.
type run struct {
	cfg      Config
	out      *audio.FrameQueue
	in       *audio.FrameQueue
	capture  *audio.CaptureHandle
	playback *audio.PlaybackHandle
	sup      *supervisor.Supervisor

	stopMonitor context.CancelFunc
	monitorDone chan struct{}

	sessMu  sync.Mutex
	session *transport.Session
	retired transport.Stats
}

// Start opens capture and playback, then starts the supervisor. If either
// device fails to open, everything opened so far is closed, the supervisor
// is never started and the [*audio.DeviceError] is returned. Network
// failures never fail Start; they are reported through status events.
//
// ctx supplies values such as the logger; the bridge runs until
// [Coordinator.Stop].
func (c *Coordinator) Start(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return ErrAlreadyRunning
	}
	if err := cfg.Format.Validate(); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	r := &run{
		cfg: cfg,
		out: audio.NewFrameQueue(cfg.QueueCapacity),
		in:  audio.NewFrameQueue(cfg.PlaybackCapacity),
	}
	adapter := audio.NewAdapter(c.device, cfg.Format)

	capture, err := adapter.OpenCapture(audio.CaptureConfig{Device: cfg.CaptureDevice, Queue: r.out})
	if err != nil {
		c.deviceFailed(err)
		return err
	}
	playback, err := adapter.OpenPlayback(audio.PlaybackConfig{Device: cfg.PlaybackDevice, Queue: r.in})
	if err != nil {
		if cerr := capture.Close(); cerr != nil {
			slog.Warn("bridge: rollback capture", "err", cerr)
		}
		c.deviceFailed(err)
		return err
	}
	r.capture = capture
	r.playback = playback

	tcfg := cfg.Transport
	tcfg.Outbound = r.out
	tcfg.Inbound = r.in
	dialer := transport.NewDialer(tcfg, append([]transport.Option{transport.WithMetrics(c.metrics)}, c.transportOpts...)...)

	scfg := cfg.Reconnect
	scfg.Dialer = supervisor.DialerFunc(func(ctx context.Context) (supervisor.Session, error) {
		s, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		r.attach(s)
		return s, nil
	})
	scfg.OnTransition = func(t supervisor.Transition) { c.onTransition(r, t) }
	scfg.Metrics = c.metrics
	r.sup = supervisor.New(scfg)

	runCtx := context.WithoutCancel(ctx)
	monCtx, stopMonitor := context.WithCancel(runCtx)
	r.stopMonitor = stopMonitor
	r.monitorDone = make(chan struct{})

	if err := r.sup.Start(runCtx); err != nil {
		stopMonitor()
		_ = playback.Close()
		_ = capture.Close()
		return fmt.Errorf("bridge: start supervisor: %w", err)
	}
	go c.monitor(monCtx, r)

	c.cur = r
	slog.Info("bridge started",
		"endpoint", cfg.Transport.Endpoint.String(),
		"format", cfg.Format.String(),
		"frame_duration", cfg.Format.FrameDuration(),
		"queue_capacity", r.out.Cap(),
		"playback_capacity", r.in.Cap(),
	)
	return nil
}

// Stop shuts the bridge down in order: the supervisor and its session
// first, then playback and capture, then the queues. It is idempotent and
// safe to call when Start failed or was never called.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.cur
	if r == nil {
		return nil
	}
	c.cur = nil

	if err := r.sup.Stop(); err != nil {
		// The session was abandoned; its loops exit on their own.
		slog.Error("bridge: supervisor did not stop in time", "err", err)
	}
	r.stopMonitor()
	<-r.monitorDone

	var errs []error
	if err := r.playback.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bridge: close playback: %w", err))
	}
	if err := r.capture.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bridge: close capture: %w", err))
	}

	r.out.Close()
	r.in.Close()
	discarded := r.in.Discard()
	if r.sessionExited() {
		discarded += r.out.Discard()
	} else {
		slog.Warn("bridge: session still draining, outbound frames left queued")
	}

	counters := r.counters()
	slog.Info("bridge stopped",
		"sent", counters.Sent,
		"received", counters.Received,
		"dropped", counters.Dropped(),
		"underruns", counters.Underruns,
		"silent_buffers", counters.SilentBuffers,
		"discarded", discarded,
	)
	return errors.Join(errs...)
}

// Events returns the status channel. Events are never blocked on: when the
// consumer falls behind the oldest pending event is discarded. The channel
// is never closed.
func (c *Coordinator) Events() <-chan Status { return c.events }

// Latest returns the most recent status.
func (c *Coordinator) Latest() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.latest
}

// State returns the current connection state.
func (c *Coordinator) State() supervisor.State {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return supervisor.Disconnected
	}
	return r.sup.State()
}

// Ready reports nil while a session is connected. It is meant for
// readiness probes.
func (c *Coordinator) Ready(context.Context) error {
	if st := c.State(); st != supervisor.Connected {
		return fmt.Errorf("bridge: %s", st)
	}
	return nil
}

func (c *Coordinator) deviceFailed(err error) {
	slog.Error("bridge: open audio device", "err", err)
	c.emit(Status{
		Event:  EventState,
		State:  supervisor.Disconnected,
		Err:    err,
		Class:  Classify(err),
		Reason: Describe(err),
		At:     time.Now(),
	})
}

func (c *Coordinator) onTransition(r *run, t supervisor.Transition) {
	c.emit(Status{
		Event:               EventState,
		State:               t.State,
		Err:                 t.Err,
		Class:               Classify(t.Err),
		Reason:              Describe(t.Err),
		Attempt:             t.Attempt,
		ConsecutiveFailures: t.ConsecutiveFailures,
		Persistent:          t.Persistent,
		RetryIn:             t.RetryIn,
		SessionID:           t.SessionID,
		Counters:            r.counters(),
		At:                  t.At,
	})
}

// monitor samples the handle counters, forwards their deltas to metrics and
// emits threshold events.
func (c *Coordinator) monitor(ctx context.Context, r *run) {
	defer close(r.monitorDone)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var last Counters
	var dropMark, underrunMark uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := r.counters()
		c.metrics.RecordDrops(ctx, observe.DirectionOutbound, int64(now.CaptureDropped-last.CaptureDropped))
		if d := now.Underruns - last.Underruns; d > 0 {
			c.metrics.PlaybackUnderruns.Add(ctx, int64(d))
		}
		last = now

		if th := uint64(r.cfg.DropThreshold); th > 0 && now.Dropped()-dropMark >= th {
			err := fmt.Errorf("%w: %d frames", audio.ErrQueueOverflow, now.Dropped()-dropMark)
			dropMark = now.Dropped()
			c.emitThreshold(EventDrops, err, "", now)
			slog.Warn("bridge: frames dropped",
				"capture_dropped", now.CaptureDropped,
				"inbound_dropped", now.InboundDropped,
			)
		}
		if th := uint64(r.cfg.UnderrunThreshold); th > 0 && now.Underruns-underrunMark >= th {
			underrunMark = now.Underruns
			c.emitThreshold(EventUnderruns, nil, "Playback is starving, audio from phone arrives late", now)
			slog.Warn("bridge: playback underruns", "underruns", now.Underruns)
		}
	}
}

// emitThreshold re-emits the latest connection status with a new event and
// fresh counters.
func (c *Coordinator) emitThreshold(ev Event, err error, reason string, counters Counters) {
	s := c.Latest()
	s.Event = ev
	s.Err = err
	s.Class = Classify(err)
	s.Reason = Describe(err)
	if reason != "" {
		s.Reason = reason
	}
	s.Counters = counters
	s.At = time.Now()
	c.emit(s)
}

func (c *Coordinator) emit(s Status) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.latest = s
	select {
	case c.events <- s:
		return
	default:
	}
	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- s:
	default:
	}
}

// attach records s as the live session, folding the previous session's
// counters into the retired totals.
func (r *run) attach(s *transport.Session) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	if prev := r.session; prev != nil {
		st := prev.Stats()
		r.retired.Sent += st.Sent
		r.retired.Received += st.Received
		r.retired.InboundDropped += st.InboundDropped
		r.retired.Ignored += st.Ignored
	}
	r.session = s
}

// sessionExited reports whether no send loop can still consume r.out.
func (r *run) sessionExited() bool {
	r.sessMu.Lock()
	s := r.session
	r.sessMu.Unlock()
	if s == nil {
		return true
	}
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func (r *run) counters() Counters {
	r.sessMu.Lock()
	st := r.retired
	if s := r.session; s != nil {
		cur := s.Stats()
		st.Sent += cur.Sent
		st.Received += cur.Received
		st.InboundDropped += cur.InboundDropped
		st.Ignored += cur.Ignored
	}
	r.sessMu.Unlock()

	return Counters{
		Captured:       r.capture.Captured(),
		CaptureDropped: r.capture.Dropped(),
		Sent:           st.Sent,
		Received:       st.Received,
		InboundDropped: st.InboundDropped,
		Played:         r.playback.Played(),
		Underruns:      r.playback.Underruns(),
		SilentBuffers:  r.playback.SilentBuffers(),
		Ignored:        st.Ignored,
	}
}
