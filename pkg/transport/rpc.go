package transport

import (
    "context"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/gate"
)

// StatusFunc returns a JSON-encoded status payload for management /status.
type StatusFunc func(ctx context.Context) ([]byte, error)

// JoinRequest asks the coordination leader to add a raft voter.
type JoinRequest struct {
    ID       string `json:"id"`
    RaftAddr string `json:"raftAddr"`
}

// JoinResponse indicates acceptance and optionally leader address or error.
type JoinResponse struct {
    Accepted bool   `json:"accepted"`
    Leader   string `json:"leader,omitempty"`
    Error    string `json:"error,omitempty"`
}

// JoinFunc handles join requests (leader-only).
type JoinFunc func(ctx context.Context, req JoinRequest) (JoinResponse, error)

// NodeRequest addresses one coordination path.
type NodeRequest struct {
    Path string `json:"path"`
}

// NodeResponse carries a node lookup result. Exists is false with an empty
// Error when the path is absent in a watch reply.
type NodeResponse struct {
    Node   coord.Node `json:"node"`
    Exists bool       `json:"exists"`
    Error  string     `json:"error,omitempty"`
}

// WriteRequest creates or updates a coordination node.
type WriteRequest struct {
    Path string `json:"path"`
    Data []byte `json:"data"`
}

type WriteResponse struct {
    Error string `json:"error,omitempty"`
}

// WatchRequest asks for the first state of Path whose revision differs from
// After (0 meaning absent). WaitMillis bounds a long poll.
type WatchRequest struct {
    Path       string `json:"path"`
    After      uint64 `json:"after"`
    WaitMillis int64  `json:"waitMillis,omitempty"`
}

// GateService is the part of *gate.Gate exposed remotely.
type GateService interface {
    Stats() gate.Stats
    Check(ctx context.Context) gate.Outcome
    CheckTimeout(ctx context.Context, d time.Duration) gate.Outcome
}

// CheckRequest runs a remote gate check bounded by TimeoutMillis. Zero
// waits until the gate opens or the caller goes away.
type CheckRequest struct {
    TimeoutMillis int64 `json:"timeoutMillis"`
}

type CheckResponse struct {
    Outcome gate.Outcome `json:"outcome"`
    Stats   gate.Stats   `json:"stats"`
}

// Handlers wires the management endpoints. Nil members disable their
// endpoints.
type Handlers struct {
    Status StatusFunc
    Join   JoinFunc
    Store  coord.Store
    Gate   GateService
}

// RPCServer exposes management endpoints for intra-cluster calls and tooling.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient performs management calls against one address using the chosen
// protocol (HTTP/JSON or gRPC JSON codec). Coordination errors come back as
// the coord sentinels.
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    PostJoin(ctx context.Context, addr string, req JoinRequest) (JoinResponse, error)

    Get(ctx context.Context, addr, path string) (coord.Node, error)
    Create(ctx context.Context, addr, path string, data []byte) error
    Set(ctx context.Context, addr, path string, data []byte) error
    // WaitChange blocks until path's state differs from revision after (0
    // meaning absent) or the server's poll window ends. It reports the
    // state observed last.
    WaitChange(ctx context.Context, addr, path string, after uint64) (coord.Node, bool, error)

    GateStats(ctx context.Context, addr string) (gate.Stats, error)
    GateCheck(ctx context.Context, addr string, timeout time.Duration) (gate.Outcome, error)
}
