package raftcons

import (
    "log"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/coord"
)

// Options configure the Raft-based Consensus implementation.
type Options struct {
    NodeID string
    Logger *log.Logger

    // Tree is the coordination tree replicated by this node. A fresh tree is
    // created when nil.
    Tree *coord.Tree

    // Bootstrap forms a single-node cluster on Start when true. It is a no-op
    // for a DataDir that already holds raft state.
    Bootstrap bool

    // Timeouts (optional). Zero means defaults.
    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    ApplyTimeout     time.Duration // client-side apply wait

    // BindAddr selects a TCP transport bound to this address (e.g.
    // "127.0.0.1:0"). When empty an in-memory transport is used.
    BindAddr string

    // DataDir selects on-disk stores when non-empty (bolt store for log and
    // stable state, file snapshot store). The threshold survives restarts only
    // with a DataDir.
    DataDir string

    // SnapshotsRetained controls how many snapshots to retain on disk.
    SnapshotsRetained int
}
