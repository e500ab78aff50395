package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxbridge/internal/supervisor"
)

// Event says why a [Status] was emitted.
type Event int

const (
	// EventState is emitted on every connection state transition.
	EventState Event = iota

	// EventDrops is emitted when frames dropped since the previous drop
	// event crossed the drop threshold.
	EventDrops

	// EventUnderruns is emitted when playback underruns since the previous
	// underrun event crossed the underrun threshold.
	EventUnderruns
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventState:
		return "state"
	case EventDrops:
		return "drops"
	case EventUnderruns:
		return "underruns"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (e Event) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// Counters are cumulative since [Coordinator.Start].
type Counters struct {
	Captured       uint64 `json:"captured"`
	CaptureDropped uint64 `json:"capture_dropped"`
	Sent           uint64 `json:"sent"`
	Received       uint64 `json:"received"`
	InboundDropped uint64 `json:"inbound_dropped"`
	Played         uint64 `json:"played"`
	Underruns      uint64 `json:"underruns"`
	SilentBuffers  uint64 `json:"silent_buffers"`
	Ignored        uint64 `json:"ignored"`
}

// Dropped returns the total number of frames dropped in both directions.
func (c Counters) Dropped() uint64 { return c.CaptureDropped + c.InboundDropped }

// Status is a snapshot of the bridge pushed to the status consumer.
type Status struct {
	Event Event            `json:"event"`
	State supervisor.State `json:"state"`

	// Reason is the user-facing description of Err.
	Reason string `json:"reason,omitempty"`
	Class  Class  `json:"class"`
	Err    error  `json:"-"`

	Attempt             int           `json:"attempt"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Persistent          bool          `json:"persistent"`
	RetryIn             time.Duration `json:"retry_in_ns,omitempty"`
	SessionID           string        `json:"session_id,omitempty"`

	Counters Counters  `json:"counters"`
	At       time.Time `json:"at"`
}

// String renders the status as a single line.
func (s Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s", s.State)
	if s.Event != EventState {
		fmt.Fprintf(&b, " event=%s", s.Event)
	}
	if s.SessionID != "" {
		fmt.Fprintf(&b, " session=%s", s.SessionID)
	}
	if s.State == supervisor.Failed {
		fmt.Fprintf(&b, " attempt=%d retry_in=%s", s.Attempt, s.RetryIn)
		if s.Persistent {
			fmt.Fprintf(&b, " persistent=true failures=%d", s.ConsecutiveFailures)
		}
	}
	c := s.Counters
	fmt.Fprintf(&b, " sent=%d received=%d dropped=%d underruns=%d", c.Sent, c.Received, c.Dropped(), c.Underruns)
	if s.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", s.Reason)
	}
	return b.String()
}
