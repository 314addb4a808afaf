// Package coordserver runs one member of the replicated coordination store
// that holds gate thresholds. Writes go through raft on the leader; reads,
// watches and long polls are served from the local tree.
package coordserver

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/consensus"
    raftcons "github.com/amirimatin/go-clustergate/pkg/consensus/raft"
    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/discovery"
    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-clustergate/pkg/observability/metrics"
    "github.com/amirimatin/go-clustergate/pkg/observability/tracing"
    "github.com/amirimatin/go-clustergate/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-clustergate/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-clustergate/pkg/transport/httpjson"
)

// ErrJoinRejected is returned by Start when no join address accepted this
// server as a voter.
var ErrJoinRejected = errors.New("coordserver: join rejected by every address")

type Config struct {
    NodeID   string
    RaftAddr string // tcp bind for raft; empty means in-memory (tests)
    DataDir  string // empty keeps the log in memory
    // Bootstrap forms a single-voter cluster. Ignored when DataDir already
    // holds raft state.
    Bootstrap bool

    MgmtAddr  string
    MgmtProto string // "http" (default) or "grpc"

    // JoinAddrs lists management addresses of existing servers, comma
    // separated. Start asks them in turn to add this node as a voter.
    JoinAddrs string

    Logger       *log.Logger
    ApplyTimeout time.Duration
    JoinTimeout  time.Duration
}

// Status is the JSON document served at /status by a coordination server.
type Status struct {
    NodeID   string `json:"nodeId"`
    RaftAddr string `json:"raftAddr"`
    LeaderID string `json:"leaderId,omitempty"`
    IsLeader bool   `json:"isLeader"`
    Term     uint64 `json:"term"`
    Revision uint64 `json:"revision"`
}

type Server struct {
    cfg   Config
    log   *log.Logger
    raft  *raftcons.Node
    store *coord.Replicated
    srv   transport.RPCServer
    cli   transport.RPCClient

    mu      sync.Mutex
    started bool
    cancel  context.CancelFunc
    closers []func()
}

func New(cfg Config) (*Server, error) {
    if cfg.NodeID == "" { return nil, errors.New("coordserver: empty NodeID") }
    if cfg.MgmtAddr == "" { return nil, errors.New("coordserver: empty management address") }
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    if cfg.ApplyTimeout <= 0 { cfg.ApplyTimeout = 3 * time.Second }
    if cfg.JoinTimeout <= 0 { cfg.JoinTimeout = 10 * time.Second }

    rn, err := raftcons.New(raftcons.Options{
        NodeID:       cfg.NodeID,
        Logger:       cfg.Logger,
        Bootstrap:    cfg.Bootstrap,
        BindAddr:     cfg.RaftAddr,
        DataDir:      cfg.DataDir,
        ApplyTimeout: cfg.ApplyTimeout,
    })
    if err != nil { return nil, err }

    s := &Server{cfg: cfg, log: cfg.Logger, raft: rn, store: coord.NewReplicated(rn.Tree(), rn, cfg.ApplyTimeout)}
    switch cfg.MgmtProto {
    case "grpc":
        c := mgmtgrpc.NewClient(3 * time.Second)
        s.srv, s.cli = mgmtgrpc.NewServer(cfg.MgmtAddr), c
        s.closers = append(s.closers, c.Close)
    case "", "http":
        s.srv, s.cli = httpjson.NewServer(cfg.MgmtAddr, cfg.Logger), httpjson.NewClient(3*time.Second)
    default:
        return nil, fmt.Errorf("coordserver: unknown management protocol %q", cfg.MgmtProto)
    }
    return s, nil
}

// Run builds and starts a coordination server.
func Run(ctx context.Context, cfg Config) (*Server, error) {
    s, err := New(cfg)
    if err != nil { return nil, err }
    if err := s.Start(ctx); err != nil { return nil, err }
    return s, nil
}

// Start brings up raft and the management endpoint, then joins JoinAddrs
// when set.
func (s *Server) Start(ctx context.Context) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.started { return nil }
    obsmetrics.Register()

    ctx, cancel := context.WithCancel(ctx)
    s.cancel = cancel
    if err := s.raft.Start(ctx); err != nil { cancel(); return err }
    go s.watchLeadership(ctx)

    h := transport.Handlers{Status: s.statusJSON, Join: s.handleJoin, Store: s.store}
    if err := s.srv.Start(ctx, h); err != nil {
        cancel()
        _ = s.raft.Stop()
        return err
    }
    logutil.Infof(s.log, "coordination server %s: raft=%s mgmt=%s", s.cfg.NodeID, s.raft.Addr(), s.srv.Addr())

    if addrs := discovery.Parse(s.cfg.JoinAddrs); len(addrs) > 0 {
        if err := s.join(ctx, addrs); err != nil {
            s.stopLocked()
            return err
        }
    }
    s.started = true
    return nil
}

// join asks each address in turn to add this node until one accepts or
// JoinTimeout elapses. Followers reject with "not leader".
func (s *Server) join(ctx context.Context, addrs []string) error {
    ctx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
    defer cancel()
    req := transport.JoinRequest{ID: s.cfg.NodeID, RaftAddr: s.raft.Addr()}
    backoff := 100 * time.Millisecond
    var last error
    for {
        for _, a := range addrs {
            resp, err := s.cli.PostJoin(ctx, a, req)
            switch {
            case err != nil:
                last = err
            case resp.Accepted:
                logutil.Infof(s.log, "joined coordination cluster via %s", a)
                return nil
            default:
                last = errors.New(resp.Error)
            }
            logutil.Warnf(s.log, "join via %s: %v", a, last)
        }
        select {
        case <-ctx.Done():
            return fmt.Errorf("%w: %v", ErrJoinRejected, last)
        case <-time.After(backoff):
        }
        if backoff < time.Second { backoff *= 2 }
    }
}

func (s *Server) handleJoin(ctx context.Context, req transport.JoinRequest) (transport.JoinResponse, error) {
    _, end := tracing.StartSpan(ctx, "coordserver.handleJoin", "id", req.ID)
    defer end()
    if !s.raft.IsLeader() {
        var leader string
        if id, _, ok := s.raft.Leader(); ok { leader = id }
        obsmetrics.JoinRequests.WithLabelValues("rejected").Inc()
        logutil.Warnf(s.log, "join rejected (not leader): id=%s", req.ID)
        return transport.JoinResponse{Accepted: false, Leader: leader, Error: "not leader"}, nil
    }
    if req.ID == "" || req.RaftAddr == "" {
        obsmetrics.JoinRequests.WithLabelValues("invalid").Inc()
        return transport.JoinResponse{Accepted: false, Error: "id and raftAddr required"}, nil
    }
    if err := s.raft.AddVoter(req.ID, req.RaftAddr, s.cfg.ApplyTimeout); err != nil {
        obsmetrics.JoinRequests.WithLabelValues("failed").Inc()
        logutil.Errorf(s.log, "add voter failed: id=%s addr=%s err=%v", req.ID, req.RaftAddr, err)
        return transport.JoinResponse{Accepted: false, Error: err.Error()}, nil
    }
    obsmetrics.JoinRequests.WithLabelValues("accepted").Inc()
    logutil.Infof(s.log, "join accepted: id=%s addr=%s", req.ID, req.RaftAddr)
    return transport.JoinResponse{Accepted: true}, nil
}

func (s *Server) watchLeadership(ctx context.Context) {
    for {
        select {
        case <-ctx.Done():
            obsmetrics.IsLeader.Set(0)
            return
        case li := <-s.raft.LeaderCh():
            if s.raft.IsLeader() {
                obsmetrics.IsLeader.Set(1)
                logutil.Infof(s.log, "coordination leader is now %s (term %d)", li.ID, li.Term)
            } else {
                obsmetrics.IsLeader.Set(0)
            }
        }
    }
}

// Store returns the replicated store. Writes fail with coord.ErrNotLeader
// on followers.
func (s *Server) Store() coord.Store { return s.store }

// Consensus exposes the raft node, mainly for leadership checks.
func (s *Server) Consensus() consensus.Consensus { return s.raft }

func (s *Server) MgmtAddr() string { return s.srv.Addr() }
func (s *Server) RaftAddr() string { return s.raft.Addr() }

func (s *Server) Status() Status {
    st := Status{
        NodeID:   s.cfg.NodeID,
        RaftAddr: s.raft.Addr(),
        IsLeader: s.raft.IsLeader(),
        Term:     s.raft.Term(),
        Revision: s.raft.Tree().Revision(),
    }
    if id, _, ok := s.raft.Leader(); ok { st.LeaderID = id }
    return st
}

func (s *Server) statusJSON(context.Context) ([]byte, error) { return json.Marshal(s.Status()) }

func (s *Server) Close() error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.started { return nil }
    s.started = false
    return s.stopLocked()
}

func (s *Server) stopLocked() error {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    _ = s.srv.Stop(ctx)
    cancel()
    if s.cancel != nil { s.cancel() }
    err := s.raft.Stop()
    s.raft.Tree().Close()
    for _, c := range s.closers { c() }
    return err
}
