// Package transport implements the WebSocket session between the desktop
// bridge and the mobile peer.
//
// A [Dialer] performs the handshake and returns a [*Session]. An active
// session runs two loops: the send loop pops outbound frames and writes one
// binary message per frame, and the receive loop pushes every binary message
// into the inbound queue. Text and other control messages are logged and
// discarded. When either loop fails the other is cancelled, the socket is
// closed once, and [Session.Done] fires.
package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the port the mobile peer listens on.
const DefaultPort = 8765

// Endpoint identifies the remote peer.
type Endpoint struct {
	// Address is a hostname or IP literal, without scheme or port.
	Address string

	// Port is the TCP port. Must be in 1..65535.
	Port int

	// Path is the WebSocket request path. Defaults to "/" if empty.
	Path string
}

// Validate checks the endpoint without touching the network. Errors wrap
// [ErrInvalidEndpoint].
func (e Endpoint) Validate() error {
	addr := strings.TrimSpace(e.Address)
	if addr == "" {
		return fmt.Errorf("%w: address is empty", ErrInvalidEndpoint)
	}
	if addr != e.Address {
		return fmt.Errorf("%w: address %q has surrounding whitespace", ErrInvalidEndpoint, e.Address)
	}
	if strings.Contains(addr, "://") {
		return fmt.Errorf("%w: address %q must not include a scheme", ErrInvalidEndpoint, addr)
	}
	if strings.ContainsAny(addr, "/?#@ \t") {
		return fmt.Errorf("%w: address %q contains invalid characters", ErrInvalidEndpoint, addr)
	}
	host := strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	if strings.Contains(host, ":") {
		if net.ParseIP(host) == nil {
			return fmt.Errorf("%w: address %q looks like host:port; set the port separately", ErrInvalidEndpoint, addr)
		}
	} else if !validHostname(host) {
		return fmt.Errorf("%w: address %q is not a valid hostname or IP", ErrInvalidEndpoint, addr)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidEndpoint, e.Port)
	}
	if e.Path != "" && !strings.HasPrefix(e.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidEndpoint, e.Path)
	}
	return nil
}

// URL returns the ws:// URL for the endpoint. It validates first.
func (e Endpoint) URL() (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	path := e.Path
	if path == "" {
		path = "/"
	}
	host := strings.TrimSuffix(strings.TrimPrefix(e.Address, "["), "]")
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(e.Port)),
		Path:   path,
	}
	return u.String(), nil
}

// String returns host:port for logging.
func (e Endpoint) String() string {
	host := strings.TrimSuffix(strings.TrimPrefix(e.Address, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(e.Port))
}

// validHostname accepts RFC 1123 labels separated by dots.
func validHostname(h string) bool {
	if len(h) == 0 || len(h) > 253 {
		return false
	}
	for label := range strings.SplitSeq(strings.TrimSuffix(h, "."), ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return false
			}
		}
	}
	return true
}
