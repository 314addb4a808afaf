// Package node assembles a gate node: membership gossip feeding the
// topology tracker, a threshold watcher on the coordination store, the gate
// itself and an optional management endpoint.
package node

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "sync"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/discovery"
    "github.com/amirimatin/go-clustergate/pkg/gate"
    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
    "github.com/amirimatin/go-clustergate/pkg/membership"
    ml "github.com/amirimatin/go-clustergate/pkg/membership/memberlist"
    obsmetrics "github.com/amirimatin/go-clustergate/pkg/observability/metrics"
    "github.com/amirimatin/go-clustergate/pkg/threshold"
    "github.com/amirimatin/go-clustergate/pkg/topology"
    "github.com/amirimatin/go-clustergate/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-clustergate/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-clustergate/pkg/transport/httpjson"
)

// Status is the JSON snapshot served at /status.
type Status struct {
    NodeID    string                  `json:"nodeId"`
    Role      string                  `json:"role"`
    WatchPath string                  `json:"watchPath"`
    Gate      gate.Stats              `json:"gate"`
    Members   []membership.MemberInfo `json:"members"`
    Warnings  []string                `json:"warnings,omitempty"`
}

// Node owns one gate and the components feeding it. The gate handle is
// explicit; nothing is stored in package globals.
type Node struct {
    cfg  Config
    log  *log.Logger
    gate *gate.Gate
    disc discovery.Discovery
    mem  membership.Membership

    store   coord.Store
    closers []func()
    tracker *topology.Tracker
    watcher *threshold.Watcher
    srv     transport.RPCServer

    mu      sync.Mutex
    started bool
    cancel  context.CancelFunc
    errc    chan error
}

// Build assembles a Node from cfg without starting it.
func Build(cfg Config) (*Node, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    if cfg.Role == "" { cfg.Role = membership.RoleServer }

    n := &Node{cfg: cfg, log: cfg.Logger, gate: gate.New(cfg.Logger), errc: make(chan error, 1)}

    n.disc = cfg.Discovery
    if n.disc == nil { n.disc = discovery.Static(discovery.Parse(cfg.SeedsCSV)...) }

    meta := map[string]string{}
    if cfg.MgmtAddr != "" { meta["mgmt"] = cfg.MgmtAddr }
    mem, err := ml.New(ml.Options{NodeID: cfg.NodeID, Bind: cfg.MemBind, Advertise: cfg.MemAdv, Role: cfg.Role, Meta: meta, Logger: cfg.Logger, ProbeInterval: cfg.ProbeInterval})
    if err != nil { return nil, err }
    n.mem = mem

    n.store = cfg.Store
    if n.store == nil {
        var cli transport.RPCClient
        if cfg.CoordProto == "grpc" {
            c := mgmtgrpc.NewClient(3 * time.Second)
            n.closers = append(n.closers, c.Close)
            cli = c
        } else {
            cli = httpjson.NewClient(3 * time.Second)
        }
        st, err := transport.NewStore(cli, cfg.CoordConn, cfg.Logger)
        if err != nil { return nil, err }
        n.store = st
    }

    if n.tracker, err = topology.New(n.mem, n.gate, cfg.Logger); err != nil { return nil, err }
    if n.watcher, err = threshold.New(n.store, cfg.WatchPath, n.gate, cfg.Logger); err != nil { return nil, err }

    if cfg.MgmtAddr != "" {
        if cfg.MgmtProto == "grpc" {
            n.srv = mgmtgrpc.NewServer(cfg.MgmtAddr)
        } else {
            n.srv = httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        }
    }
    return n, nil
}

// Run builds and starts a node. The caller is responsible for calling
// Close when finished.
func Run(ctx context.Context, cfg Config) (*Node, error) {
    n, err := Build(cfg)
    if err != nil { return nil, err }
    if err := n.Start(ctx); err != nil { return nil, err }
    return n, nil
}

// Start joins membership, reads the threshold, then starts counting
// members, so the gate is first evaluated against the stored threshold.
// A missing watch path fails with threshold.ErrNotConfigured.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.started { return nil }
    obsmetrics.Register()

    ctx, cancel := context.WithCancel(ctx)
    n.cancel = cancel
    fail := func(err error) error {
        cancel()
        _ = n.mem.Stop()
        for _, c := range n.closers { c() }
        n.closers = nil
        return err
    }

    if err := n.mem.Start(ctx); err != nil { return fail(err) }
    if seeds := n.disc.Seeds(); len(seeds) > 0 {
        logutil.Infof(n.log, "joining membership seeds: %v", seeds)
        if err := n.mem.Join(seeds); err != nil {
            logutil.Warnf(n.log, "membership join: %v", err)
        }
    }
    // The threshold goes first: a topology count evaluated against an unset
    // threshold would report the cluster healthy.
    if err := n.watcher.Start(ctx); err != nil { return fail(err) }
    if err := n.tracker.Start(ctx); err != nil { return fail(err) }
    go func() {
        select {
        case err := <-n.watcher.Err():
            n.fatal(err)
        case <-ctx.Done():
        }
    }()

    if n.srv != nil {
        h := transport.Handlers{Status: n.statusJSON, Gate: n.gate}
        if err := n.srv.Start(ctx, h); err != nil { return fail(err) }
        logutil.Infof(n.log, "management endpoint listening at %s (status/gate/metrics)", n.srv.Addr())
    }
    n.started = true
    logutil.Infof(n.log, "gate node %s started as %s, watching %s", n.cfg.NodeID, n.cfg.Role, n.cfg.WatchPath)
    return nil
}

// Gate returns the node's gate. Application code calls Check or
// CheckTimeout on it before cluster-dependent work.
func (n *Node) Gate() *gate.Gate { return n.gate }

// Err delivers a fatal error after which the node no longer tracks its
// threshold, such as a malformed or deleted threshold node.
func (n *Node) Err() <-chan error { return n.errc }

// MgmtAddr returns the bound management address, if any.
func (n *Node) MgmtAddr() string {
    if n.srv == nil { return "" }
    return n.srv.Addr()
}

func (n *Node) Status(ctx context.Context) (*Status, error) {
    st := &Status{
        NodeID:    n.cfg.NodeID,
        Role:      n.cfg.Role,
        WatchPath: n.cfg.WatchPath,
        Gate:      n.gate.Stats(),
        Members:   n.mem.Members(),
    }
    if st.Gate.Status == gate.StatusUnknown {
        st.Warnings = append(st.Warnings, "gate status unresolved")
    }
    if hr, ok := n.mem.(membership.HealthReporter); ok {
        if s := hr.HealthScore(); s > 0 {
            st.Warnings = append(st.Warnings, fmt.Sprintf("membership health score %d", s))
        }
    }
    return st, nil
}

func (n *Node) statusJSON(ctx context.Context) ([]byte, error) {
    st, err := n.Status(ctx)
    if err != nil { return nil, err }
    return json.Marshal(st)
}

func (n *Node) fatal(err error) {
    select {
    case n.errc <- err:
    default:
    }
}

// Close leaves membership and stops every component.
func (n *Node) Close() error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if !n.started { return nil }
    n.started = false
    _ = n.mem.Leave()
    if n.srv != nil {
        ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        _ = n.srv.Stop(ctx)
        cancel()
    }
    if n.cancel != nil { n.cancel() }
    err := n.mem.Stop()
    for _, c := range n.closers { c() }
    return err
}
