package grpc

import (
    "context"
    "errors"
    "io"
    "log"
    "testing"
    "time"

    healthpb "google.golang.org/grpc/health/grpc_health_v1"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/gate"
    "github.com/amirimatin/go-clustergate/pkg/transport"
)

func startServer(t *testing.T, ctx context.Context, h transport.Handlers) string {
    t.Helper()
    s := NewServer("127.0.0.1:0")
    if err := s.Start(ctx, h); err != nil { t.Fatalf("start: %v", err) }
    t.Cleanup(func() {
        c, cancel := context.WithTimeout(context.Background(), time.Second)
        defer cancel()
        _ = s.Stop(c)
    })
    return s.Addr()
}

func TestGRPC_CoordCalls(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    tree := coord.NewTree()
    addr := startServer(t, ctx, transport.Handlers{Store: tree})
    c := NewClient(2 * time.Second)
    defer c.Close()

    if _, err := c.Get(ctx, addr, "/gate"); !errors.Is(err, coord.ErrNoNode) { t.Fatalf("get missing: %v", err) }
    if err := c.Create(ctx, addr, "/gate", []byte{1}); err != nil { t.Fatalf("create: %v", err) }
    if err := c.Create(ctx, addr, "/gate", nil); !errors.Is(err, coord.ErrNodeExists) { t.Fatalf("dup: %v", err) }
    if err := c.Set(ctx, addr, "/gate", []byte{2}); err != nil { t.Fatalf("set: %v", err) }
    n, err := c.Get(ctx, addr, "/gate")
    if err != nil || n.Data[0] != 2 || n.Version != 1 { t.Fatalf("get: %+v %v", n, err) }

    // one cached connection serves every call
    if got := c.cm.Len(); got != 1 { t.Fatalf("cached conns = %d", got) }
}

func TestGRPC_WatchStream(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    tree := coord.NewTree()
    addr := startServer(t, ctx, transport.Handlers{Store: tree})
    c := NewClient(2 * time.Second).WithWatchWait(300 * time.Millisecond)
    defer c.Close()

    // absent path with rev 0 and no change: the window ends reporting absent
    _, ok, err := c.WaitChange(ctx, addr, "/w", 0)
    if err != nil || ok { t.Fatalf("idle absent: ok=%v err=%v", ok, err) }

    go func() {
        time.Sleep(50 * time.Millisecond)
        _ = tree.Create(context.Background(), "/w", []byte{7})
    }()
    c.WithWatchWait(5 * time.Second)
    n, ok, err := c.WaitChange(ctx, addr, "/w", 0)
    if err != nil || !ok || n.Data[0] != 7 { t.Fatalf("created: %+v %v %v", n, ok, err) }

    _ = tree.Delete(ctx, "/w")
    if _, ok, err := c.WaitChange(ctx, addr, "/w", n.Revision); err != nil || ok {
        t.Fatalf("deleted: ok=%v err=%v", ok, err)
    }
}

func TestGRPC_StoreOverStream(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    tree := coord.NewTree()
    addr := startServer(t, ctx, transport.Handlers{Store: tree})
    c := NewClient(2 * time.Second).WithWatchWait(time.Second)
    defer c.Close()
    st, err := transport.NewStore(c, addr, log.New(io.Discard, "", 0))
    if err != nil { t.Fatalf("store: %v", err) }

    if _, err := coord.CreateAll(ctx, st, "/a/b", []byte{1}); err != nil { t.Fatalf("CreateAll: %v", err) }
    ch, _ := st.Watch(ctx, "/a/b")
    select {
    case ev := <-ch:
        if ev.Type != coord.EventCreated { t.Fatalf("initial: %+v", ev) }
    case <-time.After(3 * time.Second):
        t.Fatalf("no initial event")
    }
    _ = tree.Set(ctx, "/a/b", []byte{2})
    select {
    case ev := <-ch:
        if ev.Type != coord.EventChanged || ev.Node.Data[0] != 2 { t.Fatalf("change: %+v", ev) }
    case <-time.After(3 * time.Second):
        t.Fatalf("no change event")
    }
}

func TestGRPC_GateAndHealth(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    g := gate.New(log.New(io.Discard, "", 0))
    g.SetThreshold(2)
    addr := startServer(t, ctx, transport.Handlers{Gate: g})
    c := NewClient(2 * time.Second)
    defer c.Close()

    st, err := c.GateStats(ctx, addr)
    if err != nil || st.Status != gate.StatusFailed { t.Fatalf("stats: %+v %v", st, err) }
    out, err := c.GateCheck(ctx, addr, 50*time.Millisecond)
    if err != nil || out != gate.OutcomeTimedOut { t.Fatalf("check: %v %v", out, err) }
    g.SetTopology(1)
    out, err = c.GateCheck(ctx, addr, time.Second)
    if err != nil || out != gate.OutcomeReady { t.Fatalf("check running: %v %v", out, err) }

    // no store registered: coordination calls are rejected, not hung
    if _, err := c.Get(ctx, addr, "/x"); err == nil || errors.Is(err, coord.ErrNoNode) {
        t.Fatalf("expected unimplemented, got %v", err)
    }

    cc, rel, err := c.cm.Get(ctx, addr)
    if err != nil { t.Fatalf("conn: %v", err) }
    defer rel()
    resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{})
    if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
        t.Fatalf("health: %v %v", resp, err)
    }
}
