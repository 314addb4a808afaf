package node

import (
    "context"
    "errors"
    "io"
    "log"
    "testing"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/gate"
    "github.com/amirimatin/go-clustergate/pkg/membership"
    "github.com/amirimatin/go-clustergate/pkg/threshold"
    httpjson "github.com/amirimatin/go-clustergate/pkg/transport/httpjson"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func seededTree(t *testing.T, n uint64) *coord.Tree {
    t.Helper()
    tr := coord.NewTree()
    if _, err := coord.CreateAll(context.Background(), tr, "/ignite/normal", threshold.Encode(n)); err != nil {
        t.Fatalf("seed: %v", err)
    }
    return tr
}

func startNode(t *testing.T, ctx context.Context, cfg Config) *Node {
    t.Helper()
    if cfg.MemBind == "" { cfg.MemBind = "127.0.0.1:0" }
    if cfg.WatchPath == "" { cfg.WatchPath = "/ignite/normal" }
    cfg.Logger = quiet()
    cfg.ProbeInterval = 100 * time.Millisecond
    n, err := Run(ctx, cfg)
    if err != nil { t.Fatalf("run %s: %v", cfg.NodeID, err) }
    t.Cleanup(func() { _ = n.Close() })
    return n
}

func awaitStatus(t *testing.T, g *gate.Gate, want gate.Status, timeout time.Duration) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    for time.Now().Before(deadline) {
        if g.Status() == want { return }
        time.Sleep(20 * time.Millisecond)
    }
    t.Fatalf("gate status = %s, want %s (stats %+v)", g.Status(), want, g.Stats())
}

func TestConfigValidate(t *testing.T) {
    base := Config{NodeID: "n", MemBind: "127.0.0.1:0", CoordConn: "127.0.0.1:1", WatchPath: "/x"}
    if err := base.Validate(); err != nil { t.Fatalf("valid config rejected: %v", err) }
    c := base
    c.CoordConn = ""
    if err := c.Validate(); !errors.Is(err, ErrNoStore) { t.Fatalf("no store: %v", err) }
    c = base
    c.MgmtProto = "udp"
    if err := c.Validate(); !errors.Is(err, ErrBadProto) { t.Fatalf("bad proto: %v", err) }
    c = base
    c.WatchPath = "x"
    if err := c.Validate(); !errors.Is(err, coord.ErrBadPath) { t.Fatalf("bad path: %v", err) }
    c = base
    c.Role = "observer"
    if err := c.Validate(); err == nil { t.Fatalf("bad role accepted") }
}

func TestNode_MissingThresholdFailsStart(t *testing.T) {
    _, err := Run(context.Background(), Config{NodeID: "n1", MemBind: "127.0.0.1:0", Store: coord.NewTree(), WatchPath: "/ignite/normal", Logger: quiet()})
    if !errors.Is(err, threshold.ErrNotConfigured) { t.Fatalf("start without threshold: %v", err) }
}

func TestNode_GateOpensWhenServersJoin(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    tree := seededTree(t, 3)

    n1 := startNode(t, ctx, Config{NodeID: "n1", Store: tree, MgmtAddr: "127.0.0.1:0"})
    awaitStatus(t, n1.Gate(), gate.StatusFailed, 2*time.Second)

    done := make(chan gate.Outcome, 1)
    go func() { done <- n1.Gate().Check(ctx) }()

    // a client member gossips but does not count
    seed := n1.mem.Local().Addr
    startNode(t, ctx, Config{NodeID: "c1", Role: membership.RoleClient, Store: tree, SeedsCSV: seed})
    time.Sleep(500 * time.Millisecond)
    if got := n1.Gate().Topology(); got != 1 { t.Fatalf("topology with client = %d, want 1", got) }
    select {
    case o := <-done:
        t.Fatalf("check returned early: %s", o)
    default:
    }

    startNode(t, ctx, Config{NodeID: "n2", Store: tree, SeedsCSV: seed})
    select {
    case o := <-done:
        if o != gate.OutcomeReady { t.Fatalf("outcome = %s", o) }
    case <-time.After(10 * time.Second):
        t.Fatalf("check not released after second server joined")
    }

    // management endpoint reports the same view
    st, err := httpjson.NewClient(time.Second).GateStats(ctx, n1.MgmtAddr())
    if err != nil || st.Status != gate.StatusRunning || st.Topology != 2 { t.Fatalf("remote stats: %+v %v", st, err) }

    // raising the threshold closes the gate again
    if err := tree.Set(ctx, "/ignite/normal", threshold.Encode(5)); err != nil { t.Fatalf("set: %v", err) }
    awaitStatus(t, n1.Gate(), gate.StatusFailed, 2*time.Second)
    if o := n1.Gate().CheckTimeout(ctx, 50*time.Millisecond); o != gate.OutcomeTimedOut {
        t.Fatalf("outcome after raise = %s", o)
    }
}

func TestNode_DeletedThresholdIsFatal(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    tree := seededTree(t, 1)
    n := startNode(t, ctx, Config{NodeID: "n1", Store: tree})
    awaitStatus(t, n.Gate(), gate.StatusRunning, 2*time.Second)
    _ = tree.Delete(ctx, "/ignite/normal")
    select {
    case err := <-n.Err():
        if !errors.Is(err, threshold.ErrDeleted) { t.Fatalf("fatal = %v", err) }
    case <-time.After(3 * time.Second):
        t.Fatalf("no fatal error")
    }
    st, _ := n.Status(ctx)
    if st.NodeID != "n1" || st.Gate.Threshold != 1 { t.Fatalf("status: %+v", st) }
}

func TestNode_FirstEvaluationUsesStoredThreshold(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    n, err := Build(Config{NodeID: "n1", MemBind: "127.0.0.1:0", Store: seededTree(t, 5), WatchPath: "/ignite/normal", Logger: quiet()})
    if err != nil { t.Fatalf("build: %v", err) }
    trs := n.Gate().Subscribe(ctx)
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Close()

    select {
    case tr := <-trs:
        if tr.From != gate.StatusUnknown || tr.To != gate.StatusFailed || tr.Threshold != 5 {
            t.Fatalf("first transition: %+v", tr)
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("no transition after start")
    }
    time.Sleep(300 * time.Millisecond)
    select {
    case tr := <-trs:
        t.Fatalf("unexpected transition for a single server: %+v", tr)
    default:
    }
    if o := n.Gate().CheckTimeout(ctx, 20*time.Millisecond); o != gate.OutcomeTimedOut {
        t.Fatalf("check outcome = %s", o)
    }
}

func TestNode_FailedStartLeavesGateUnknownAndReleasesClients(t *testing.T) {
    n, err := Build(Config{NodeID: "n1", MemBind: "127.0.0.1:0", Store: coord.NewTree(), WatchPath: "/ignite/normal", Logger: quiet()})
    if err != nil { t.Fatalf("build: %v", err) }
    released := false
    n.closers = append(n.closers, func() { released = true })
    if err := n.Start(context.Background()); !errors.Is(err, threshold.ErrNotConfigured) {
        t.Fatalf("start: %v", err)
    }
    if !released { t.Fatalf("closers not run on failed start") }
    if s := n.Gate().Status(); s != gate.StatusUnknown { t.Fatalf("gate status after failed start = %s", s) }
}
