package raftcons

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    c "github.com/amirimatin/go-clustergate/pkg/consensus"
    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
)

// Node implements consensus.Consensus using HashiCorp Raft with the
// coordination tree as its state machine.
type Node struct {
    opts Options
    log  *log.Logger
    tree *coord.Tree

    mu    sync.RWMutex
    r     *raft.Raft
    bolt  *raftboltdb.BoltStore
    lch   chan c.LeaderInfo
    addr  raft.ServerAddress
    trans raft.Transport
    lb    raft.LoopbackTransport
}

func New(opts Options) (*Node, error) {
    if opts.NodeID == "" {
        return nil, fmt.Errorf("raftcons: empty NodeID")
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    if opts.Tree == nil {
        opts.Tree = coord.NewTree()
    }
    return &Node{opts: opts, log: opts.Logger, tree: opts.Tree, lch: make(chan c.LeaderInfo, 16)}, nil
}

// Tree returns the replicated coordination tree.
func (n *Node) Tree() *coord.Tree { return n.tree }

// Addr returns the raft transport address once started.
func (n *Node) Addr() string {
    n.mu.RLock()
    defer n.mu.RUnlock()
    return string(n.addr)
}

func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r != nil {
        return nil
    }

    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    if n.opts.HeartbeatTimeout > 0 {
        cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
        // Keep lease <= heartbeat to satisfy invariants
        if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
            cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout / 2
            if cfg.LeaderLeaseTimeout == 0 { cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout }
        }
    }
    if n.opts.ElectionTimeout > 0 { cfg.ElectionTimeout = n.opts.ElectionTimeout }
    if n.opts.CommitTimeout > 0 { cfg.CommitTimeout = n.opts.CommitTimeout }

    var (
        logs   raft.LogStore
        stable raft.StableStore
        snaps  raft.SnapshotStore
        addr   raft.ServerAddress
        trans  raft.Transport
        err    error
    )

    if n.opts.DataDir != "" {
        if n.opts.SnapshotsRetained == 0 { n.opts.SnapshotsRetained = 2 }
        if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil { return err }
        bstore, err := raftboltdb.NewBoltStore(filepath.Join(n.opts.DataDir, "raft.db"))
        if err != nil { return err }
        n.bolt = bstore
        logs = bstore
        stable = bstore
        snaps, err = raft.NewFileSnapshotStore(n.opts.DataDir, n.opts.SnapshotsRetained, os.Stderr)
        if err != nil { _ = bstore.Close(); return err }
    } else {
        logs = raft.NewInmemStore()
        stable = raft.NewInmemStore()
        snaps = raft.NewInmemSnapshotStore()
    }

    if n.opts.BindAddr != "" {
        nt, err := raft.NewTCPTransport(n.opts.BindAddr, nil, 3, 1*time.Second, os.Stderr)
        if err != nil { n.closeBolt(); return err }
        trans = nt
        addr = nt.LocalAddr()
    } else {
        addr, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
    }

    r, err := raft.NewRaft(cfg, newTreeFSM(n.tree), logs, stable, snaps, trans)
    if err != nil {
        n.closeBolt()
        return err
    }
    n.r = r
    n.addr = addr
    n.trans = trans
    if lb, ok := n.trans.(raft.LoopbackTransport); ok { n.lb = lb }

    obsCh := make(chan raft.Observation, 32)
    observer := raft.NewObserver(obsCh, false, func(o *raft.Observation) bool {
        _, ok := o.Data.(raft.LeaderObservation)
        return ok
    })
    r.RegisterObserver(observer)
    go func() {
        for range obsCh {
            if id, addr, ok := n.Leader(); ok {
                n.emitLeader(c.LeaderInfo{ID: id, Addr: addr, Term: n.Term()})
            }
        }
    }()

    if n.opts.Bootstrap {
        cfgs := raft.Configuration{Servers: []raft.Server{{ID: cfg.LocalID, Address: addr}}}
        if err := r.BootstrapCluster(cfgs).Error(); err != nil {
            if !errors.Is(err, raft.ErrCantBootstrap) { return err }
            logutil.Infof(n.log, "raft: existing state found, skipping bootstrap")
        }
    }

    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

func (n *Node) current() *raft.Raft {
    n.mu.RLock()
    defer n.mu.RUnlock()
    return n.r
}

func (n *Node) Apply(cmd c.Command, timeout time.Duration) error {
    r := n.current()
    if r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    if r.State() != raft.Leader {
        return coord.ErrNotLeader
    }
    data, err := json.Marshal(cmd)
    if err != nil { return err }
    t := timeout
    if t <= 0 && n.opts.ApplyTimeout > 0 { t = n.opts.ApplyTimeout }
    af := r.Apply(data, t)
    if err := af.Error(); err != nil {
        if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
            return coord.ErrNotLeader
        }
        return err
    }
    if v := af.Response(); v != nil {
        if e, ok := v.(error); ok && e != nil { return e }
    }
    return nil
}

func (n *Node) IsLeader() bool {
    r := n.current()
    if r == nil { return false }
    return r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    r := n.current()
    if r == nil { return "", "", false }
    a, sid := r.LeaderWithID()
    if sid == "" { return "", "", false }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    r := n.current()
    if r == nil { return 0 }
    if v := r.Stats()["current_term"]; v != "" {
        if u, err := strconv.ParseUint(v, 10, 64); err == nil { return u }
    }
    return 0
}

func (n *Node) Stop() error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r == nil { return nil }
    err := n.r.Shutdown().Error()
    n.r = nil
    n.closeBolt()
    return err
}

func (n *Node) closeBolt() {
    if n.bolt != nil {
        _ = n.bolt.Close()
        n.bolt = nil
    }
}

var (
    _ c.Consensus      = (*Node)(nil)
    _ c.LeaderNotifier = (*Node)(nil)
    _ c.Reconfigurer   = (*Node)(nil)
)

func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

func (n *Node) emitLeader(li c.LeaderInfo) {
    select {
    case n.lch <- li:
    default:
        // drop to avoid blocking; last-writer-wins semantics are ok for leadership
    }
}

// AddVoter adds a voting server to the Raft cluster if not already present.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
    r := n.current()
    if r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    cfg := r.GetConfiguration()
    if err := cfg.Error(); err == nil {
        for _, srv := range cfg.Configuration().Servers {
            if string(srv.ID) == id {
                if string(srv.Address) == addr {
                    return nil
                }
                // Remove stale entry with different address before adding
                if err := r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil { return err }
                break
            }
        }
    }
    return r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// RemoveServer removes a server from the Raft cluster if present.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
    r := n.current()
    if r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    return r.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}
