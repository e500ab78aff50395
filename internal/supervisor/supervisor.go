// Package supervisor owns the connection state machine of the bridge. It
// opens transport sessions, replaces them when they fail, and paces retries
// with exponential backoff. It never gives up on its own; only Stop ends it.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
)

// Default supervisor parameters.
const (
	DefaultFailureThreshold = 5
	DefaultCancelTimeout    = 2 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a running supervisor.
	ErrAlreadyStarted = errors.New("supervisor: already started")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("supervisor: stopped")

	// ErrStopTimeout is returned by Stop when teardown exceeded the cancel
	// timeout.
	ErrStopTimeout = errors.New("supervisor: stop timed out")

	// ErrSessionEnded is the failure reason recorded when a session ends
	// without reporting an error of its own.
	ErrSessionEnded = errors.New("supervisor: session ended")
)

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
	Failed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Transition describes one state change.
type Transition struct {
	State State

	// Err is the failure reason. Set only for [Failed].
	Err error

	// Attempt is the backoff attempt counter after the transition. It is 0
	// once a session is connected.
	Attempt int

	// ConsecutiveFailures counts failures since the last connected session.
	ConsecutiveFailures int

	// Persistent is true when ConsecutiveFailures reached the configured
	// threshold. The supervisor keeps retrying at the capped interval.
	Persistent bool

	// RetryIn is the delay before the next attempt. Set only for [Failed].
	RetryIn time.Duration

	// SessionID identifies the session for [Connected].
	SessionID string

	At time.Time
}

// Session is a live transport session.
type Session interface {
	ID() string
	// Done is closed once the session has fully torn down.
	Done() <-chan struct{}
	// Err reports why the session ended; nil after a local close.
	Err() error
	// Close cancels the session and waits for teardown or ctx expiry.
	Close(ctx context.Context) error
}

// Dialer opens sessions. Dial must return promptly once ctx is cancelled.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to [Dialer].
type DialerFunc func(ctx context.Context) (Session, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// Config configures a [Supervisor].
type Config struct {
	// Dialer opens transport sessions. Required.
	Dialer Dialer

	// BackoffBase is the first retry delay. Defaults to 1s if zero.
	BackoffBase time.Duration

	// BackoffCap is the maximum retry delay. Defaults to 30s if zero.
	BackoffCap time.Duration

	// Jitter perturbs each delay by up to ±Jitter of itself. Zero disables it.
	Jitter float64

	// FailureThreshold is the number of consecutive failures after which
	// transitions are flagged Persistent. Defaults to 5 if zero.
	FailureThreshold int

	// CancelTimeout bounds Stop. Half of it is granted to the live
	// session's close handshake. Defaults to 2s if zero.
	CancelTimeout time.Duration

	// OnTransition is called from the supervisor goroutine for every state
	// change, in order. It must not block. May be nil.
	OnTransition func(Transition)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Supervisor runs the connection state machine on its own goroutine. That
// goroutine is the only writer of the state; [Supervisor.State] returns the
// most recently published value.
//
// All methods are safe for concurrent use.
type Supervisor struct {
	dialer        Dialer
	backoff       *Backoff
	threshold     int
	cancelTimeout time.Duration
	onTransition  func(Transition)
	metrics       *observe.Metrics

	state atomic.Int32

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error

	// failures is owned by the run goroutine.
	failures int
}

// New creates a Supervisor in the [Disconnected] state.
func New(cfg Config) *Supervisor {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	cancelTimeout := cfg.CancelTimeout
	if cancelTimeout <= 0 {
		cancelTimeout = DefaultCancelTimeout
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Supervisor{
		dialer:        cfg.Dialer,
		backoff:       NewBackoff(cfg.BackoffBase, cfg.BackoffCap, cfg.Jitter),
		threshold:     threshold,
		cancelTimeout: cancelTimeout,
		onTransition:  cfg.OnTransition,
		metrics:       m,
		done:          make(chan struct{}),
	}
}

// Start launches the state machine. ctx bounds the supervisor's lifetime in
// addition to [Supervisor.Stop].
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
	slog.Debug("supervisor started",
		"backoff_base", s.backoff.Base(),
		"backoff_cap", s.backoff.Cap(),
		"failure_threshold", s.threshold,
		"cancel_timeout", s.cancelTimeout,
	)
	return nil
}

// Stop cancels any in-flight handshake or session and waits, at most the
// cancel timeout, for the supervisor to reach [Disconnected]. It is safe to
// call more than once; later calls return the first result.
func (s *Supervisor) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		cancel := s.cancel
		s.mu.Unlock()

		if !started {
			close(s.done)
			return
		}
		cancel()

		timer := time.NewTimer(s.cancelTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.stopErr = ErrStopTimeout
			slog.Error("supervisor: stop exceeded cancel timeout", "timeout", s.cancelTimeout)
		}
	})
	return s.stopErr
}

// Done is closed when the state machine has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// State returns the most recently published state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	for ctx.Err() == nil {
		s.publish(Transition{State: Connecting})

		sess, err := s.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil || !s.fail(ctx, err) {
				break
			}
			continue
		}

		s.backoff.Reset()
		s.failures = 0
		s.publish(Transition{State: Connected, SessionID: sess.ID()})
		slog.Info("bridge connected", "session_id", sess.ID())

		if !s.hold(ctx, sess) {
			break
		}
	}

	if s.State() != Closing {
		s.publish(Transition{State: Closing})
	}
	s.publish(Transition{State: Disconnected})
}

// hold waits on a connected session. It returns true when the session ended
// on its own and the backoff elapsed, false when ctx was cancelled.
func (s *Supervisor) hold(ctx context.Context, sess Session) bool {
	select {
	case <-sess.Done():
		err := sess.Err()
		if err == nil {
			if ctx.Err() != nil {
				return false
			}
			err = ErrSessionEnded
		}
		return s.fail(ctx, err)
	case <-ctx.Done():
		s.publish(Transition{State: Closing, SessionID: sess.ID()})
		closeCtx, cancel := context.WithTimeout(context.Background(), s.cancelTimeout/2)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			slog.Warn("supervisor: session teardown incomplete", "session_id", sess.ID(), "err", err)
		}
		return false
	}
}

// fail records a failure, publishes [Failed] and waits out the backoff. It
// returns false when ctx was cancelled during the wait.
func (s *Supervisor) fail(ctx context.Context, err error) bool {
	s.failures++
	delay := s.backoff.Next()
	persistent := s.failures >= s.threshold

	s.publish(Transition{
		State:               Failed,
		Err:                 err,
		ConsecutiveFailures: s.failures,
		Persistent:          persistent,
		RetryIn:             delay,
	})

	log := slog.Warn
	if s.failures == s.threshold {
		log = slog.Error
	}
	log("bridge connection failed",
		"err", err,
		"consecutive_failures", s.failures,
		"persistent", persistent,
		"retry_in", delay,
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) publish(t Transition) {
	t.Attempt = s.backoff.Attempt()
	if t.State != Failed {
		t.ConsecutiveFailures = s.failures
		t.Persistent = s.failures >= s.threshold
	}
	t.At = time.Now()

	s.state.Store(int32(t.State))
	s.metrics.RecordStateTransition(context.Background(), t.State.String())
	if s.onTransition != nil {
		s.onTransition(t)
	}
}
