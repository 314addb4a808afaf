package gate

import (
    "fmt"
    "time"
)

// Status is the health state of the cluster as seen by the gate.
type Status int32

const (
    // StatusUnknown is the initial state. It is left exactly once, the first
    // time a threshold or topology count is reported.
    StatusUnknown Status = iota
    // StatusRunning means the cluster has at least threshold-1 servers.
    StatusRunning
    // StatusFailed means the cluster is below threshold-1 servers.
    StatusFailed
)

func (s Status) String() string {
    switch s {
    case StatusUnknown:
        return "unknown"
    case StatusRunning:
        return "running"
    case StatusFailed:
        return "failed"
    default:
        return "invalid"
    }
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
    switch string(b) {
    case "unknown":
        *s = StatusUnknown
    case "running":
        *s = StatusRunning
    case "failed":
        *s = StatusFailed
    default:
        return fmt.Errorf("gate: unknown status %q", b)
    }
    return nil
}

// Outcome tells a caller of Check why it returned.
type Outcome int

const (
    // OutcomeReady means the gate was running when the call returned.
    OutcomeReady Outcome = iota
    // OutcomeTimedOut means the deadline elapsed while the gate was not running.
    OutcomeTimedOut
    // OutcomeCanceled means the caller's context was canceled first.
    OutcomeCanceled
)

func (o Outcome) String() string {
    switch o {
    case OutcomeReady:
        return "ready"
    case OutcomeTimedOut:
        return "timed_out"
    case OutcomeCanceled:
        return "canceled"
    default:
        return "invalid"
    }
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
    v, ok := ParseOutcome(string(b))
    if !ok { return fmt.Errorf("gate: unknown outcome %q", b) }
    *o = v
    return nil
}

// ParseOutcome is the inverse of Outcome.String, used by remote clients.
func ParseOutcome(s string) (Outcome, bool) {
    switch s {
    case "ready":
        return OutcomeReady, true
    case "timed_out":
        return OutcomeTimedOut, true
    case "canceled":
        return OutcomeCanceled, true
    }
    return 0, false
}

// Healthy reports whether topology servers satisfy threshold while tolerating
// the loss of exactly one member.
func Healthy(threshold uint64, topology int64) bool {
    if threshold == 0 {
        return true
    }
    return topology >= 0 && uint64(topology) >= threshold-1
}

// Stats is a point-in-time view of the gate.
type Stats struct {
    Status    Status `json:"status"`
    Threshold uint64 `json:"threshold"`
    Topology  int64  `json:"topology"`
    Waiters   int    `json:"waiters"`
    Sweeps    uint64 `json:"sweeps"`
}

// Transition is published to subscribers on every status change.
type Transition struct {
    From      Status    `json:"from"`
    To        Status    `json:"to"`
    Threshold uint64    `json:"threshold"`
    Topology  int64     `json:"topology"`
    Woken     int       `json:"woken"`
    At        time.Time `json:"at"`
}
