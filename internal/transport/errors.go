package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Handshake failure kinds. A [*HandshakeError] unwraps to exactly one of
// these (or to context.Canceled when the dial was aborted by the caller).
var (
	// ErrInvalidEndpoint means the address or port is malformed. It is
	// detected before any network call.
	ErrInvalidEndpoint = errors.New("transport: invalid endpoint")

	// ErrHandshakeTimeout means the peer did not complete the WebSocket
	// handshake within the configured timeout.
	ErrHandshakeTimeout = errors.New("transport: handshake timeout")

	// ErrConnectionRefused means nothing is listening on the remote port.
	ErrConnectionRefused = errors.New("transport: connection refused")

	// ErrHostUnreachable means the remote host could not be resolved or
	// routed to.
	ErrHostUnreachable = errors.New("transport: host unreachable")

	// ErrHandshakeRejected means the peer answered but refused the
	// WebSocket upgrade.
	ErrHandshakeRejected = errors.New("transport: handshake rejected")
)

// ErrSessionClosed marks a session that ended because the peer closed the
// WebSocket.
var ErrSessionClosed = errors.New("transport: session closed by peer")

// HandshakeError reports a failed attempt to establish a session.
type HandshakeError struct {
	// URL is the WebSocket URL that was dialled, or the raw endpoint when it
	// could not be formed.
	URL string

	// Kind is one of the handshake sentinel errors, or nil when the failure
	// does not fit any of them.
	Kind error

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *HandshakeError) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil && e.Err != e.Kind:
		return fmt.Sprintf("transport: handshake with %s: %v: %v", e.URL, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("transport: handshake with %s: %v", e.URL, e.Kind)
	default:
		return fmt.Sprintf("transport: handshake with %s: %v", e.URL, e.Err)
	}
}

// Unwrap returns the kind and the cause.
func (e *HandshakeError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil && e.Err != e.Kind {
		errs = append(errs, e.Err)
	}
	return errs
}

// TransportError reports the failure of an active session's send or receive
// loop.
type TransportError struct {
	// Op is "send" or "receive".
	Op  string
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// classifyDial maps a dial error onto a handshake kind. parent is the
// caller's context: when it is done the attempt was aborted, not failed.
func classifyDial(parent context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(err, ErrHandshakeRejected):
		return ErrHandshakeRejected
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrHandshakeTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return ErrHostUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrHandshakeTimeout
		}
		return ErrHostUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrHandshakeTimeout
	}
	return nil
}

// outcome returns the metric label for a handshake result.
func outcome(kind error) string {
	switch {
	case kind == nil:
		return "error"
	case errors.Is(kind, ErrInvalidEndpoint):
		return "invalid_endpoint"
	case errors.Is(kind, ErrHandshakeTimeout):
		return "timeout"
	case errors.Is(kind, ErrConnectionRefused):
		return "refused"
	case errors.Is(kind, ErrHostUnreachable):
		return "unreachable"
	case errors.Is(kind, ErrHandshakeRejected):
		return "rejected"
	case errors.Is(kind, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
