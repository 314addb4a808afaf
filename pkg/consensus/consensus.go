package consensus

import (
    "context"
    "time"
)

// Command is a replicated log entry. Op names a coordination tree mutation
// (create/set/delete) and Payload carries its JSON arguments.
type Command struct {
    Op      string `json:"op"`
    Payload []byte `json:"payload"`
}

// Proposer is the write path used by replicated stores.
type Proposer interface {
    Apply(cmd Command, timeout time.Duration) error
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
}

// Consensus is the minimal abstraction over a leader-based consensus engine.
type Consensus interface {
    Proposer
    Start(ctx context.Context) error
    Term() uint64
    Stop() error
}

// LeaderInfo describes the current known leader.
type LeaderInfo struct {
    ID   string
    Addr string
    Term uint64
}

// LeaderNotifier is implemented by engines that publish leadership changes.
// Implementations drop rather than block when the consumer lags.
type LeaderNotifier interface {
    LeaderCh() <-chan LeaderInfo
}

// Reconfigurer adds and removes voters at runtime.
type Reconfigurer interface {
    AddVoter(id, addr string, timeout time.Duration) error
    RemoveServer(id string, timeout time.Duration) error
}
