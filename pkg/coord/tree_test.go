package coord

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/consensus"
)

func nextEvent(t *testing.T, ch <-chan Event) Event {
    t.Helper()
    select {
    case ev, ok := <-ch:
        if !ok { t.Fatalf("watch channel closed") }
        return ev
    case <-time.After(2 * time.Second):
        t.Fatalf("timed out waiting for watch event")
    }
    return Event{}
}

func TestTree_CreateRequiresParent(t *testing.T) {
    ctx := context.Background()
    tr := NewTree()
    if err := tr.Create(ctx, "/a/b", nil); !errors.Is(err, ErrNoParent) {
        t.Fatalf("create without parent: %v", err)
    }
    if err := tr.Create(ctx, "/a", nil); err != nil { t.Fatalf("create /a: %v", err) }
    if err := tr.Create(ctx, "/a/b", []byte{1}); err != nil { t.Fatalf("create /a/b: %v", err) }
    if err := tr.Create(ctx, "/a/b", []byte{2}); !errors.Is(err, ErrNodeExists) {
        t.Fatalf("duplicate create: %v", err)
    }
    n, err := tr.Get(ctx, "/a/b")
    if err != nil { t.Fatalf("get: %v", err) }
    if len(n.Data) != 1 || n.Data[0] != 1 || n.Version != 0 {
        t.Fatalf("unexpected node: %+v", n)
    }
}

func TestTree_BadPaths(t *testing.T) {
    tr := NewTree()
    for _, p := range []string{"", "a", "/a/", "//a", "/a//b"} {
        if err := tr.Create(context.Background(), p, nil); !errors.Is(err, ErrBadPath) {
            t.Fatalf("path %q: err = %v", p, err)
        }
    }
}

func TestTree_SetBumpsVersion(t *testing.T) {
    ctx := context.Background()
    tr := NewTree()
    if err := tr.Set(ctx, "/x", nil); !errors.Is(err, ErrNoNode) {
        t.Fatalf("set missing: %v", err)
    }
    _ = tr.Create(ctx, "/x", []byte("a"))
    _ = tr.Set(ctx, "/x", []byte("b"))
    n, _ := tr.Get(ctx, "/x")
    if string(n.Data) != "b" || n.Version != 1 || n.Revision != 2 {
        t.Fatalf("unexpected node: %+v", n)
    }
}

func TestTree_DeleteRejectsChildren(t *testing.T) {
    ctx := context.Background()
    tr := NewTree()
    _ = tr.Create(ctx, "/a", nil)
    _ = tr.Create(ctx, "/a/b", nil)
    if err := tr.Delete(ctx, "/a"); !errors.Is(err, ErrNotEmpty) {
        t.Fatalf("delete non-empty: %v", err)
    }
    kids, _ := tr.Children(ctx, "/a")
    if len(kids) != 1 || kids[0] != "b" { t.Fatalf("children = %v", kids) }
    if err := tr.Delete(ctx, "/a/b"); err != nil { t.Fatalf("delete leaf: %v", err) }
    if ok, _ := tr.Exists(ctx, "/a/b"); ok { t.Fatalf("leaf still exists") }
}

func TestTree_WatchLifecycle(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    tr := NewTree()
    _ = tr.Create(ctx, "/gate", nil)
    _ = tr.Create(ctx, "/gate/n", []byte{1})

    ch, err := tr.Watch(ctx, "/gate/n")
    if err != nil { t.Fatalf("watch: %v", err) }
    if ev := nextEvent(t, ch); ev.Type != EventCreated || ev.Node.Data[0] != 1 {
        t.Fatalf("initial event: %+v", ev)
    }

    // unrelated paths do not produce events
    _ = tr.Create(ctx, "/other", nil)
    _ = tr.Set(ctx, "/gate/n", []byte{2})
    if ev := nextEvent(t, ch); ev.Type != EventChanged || ev.Node.Data[0] != 2 {
        t.Fatalf("change event: %+v", ev)
    }
    _ = tr.Delete(ctx, "/gate/n")
    if ev := nextEvent(t, ch); ev.Type != EventDeleted || ev.Node.Path != "/gate/n" {
        t.Fatalf("delete event: %+v", ev)
    }
    _ = tr.Create(ctx, "/gate/n", []byte{3})
    if ev := nextEvent(t, ch); ev.Type != EventCreated || ev.Node.Data[0] != 3 {
        t.Fatalf("recreate event: %+v", ev)
    }

    cancel()
    select {
    case _, ok := <-ch:
        if ok {
            for range ch {
            }
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("watch not closed after cancel")
    }
}

func TestTree_CloseEndsWatches(t *testing.T) {
    tr := NewTree()
    ch, _ := tr.Watch(context.Background(), "/missing")
    tr.Close()
    select {
    case _, ok := <-ch:
        if ok { t.Fatalf("unexpected event") }
    case <-time.After(2 * time.Second):
        t.Fatalf("watch not closed")
    }
}

func TestTree_SnapshotRestore(t *testing.T) {
    ctx := context.Background()
    s := NewTree()
    _ = s.Create(ctx, "/a", nil)
    _ = s.Create(ctx, "/a/n", []byte{0, 0, 0, 0, 0, 0, 0, 5})
    _ = s.Set(ctx, "/a/n", []byte{0, 0, 0, 0, 0, 0, 0, 6})
    snap, err := s.Snapshot()
    if err != nil { t.Fatalf("snapshot: %v", err) }

    s2 := NewTree()
    if err := s2.Restore(snap); err != nil { t.Fatalf("restore: %v", err) }
    snap2, _ := s2.Snapshot()
    if string(snap2) != string(snap) {
        t.Fatalf("round-trip mismatch:\n got: %s\nwant: %s", snap2, snap)
    }
    if s2.Revision() != s.Revision() { t.Fatalf("revision not restored") }
}

func TestTree_ApplyCommands(t *testing.T) {
    tr := NewTree()
    mk := func(op, path string, data []byte) consensus.Command {
        b := []byte(`{"path":"` + path + `"}`)
        if data != nil {
            b = []byte(`{"path":"` + path + `","data":"` + "AQ==" + `"}`)
        }
        return consensus.Command{Op: op, Payload: b}
    }
    if err := tr.Apply(mk(OpCreate, "/n", []byte{1})); err != nil { t.Fatalf("create: %v", err) }
    if err := tr.Apply(mk(OpCreate, "/n", nil)); !errors.Is(err, ErrNodeExists) { t.Fatalf("dup: %v", err) }
    if err := tr.Apply(mk(OpSet, "/n", []byte{1})); err != nil { t.Fatalf("set: %v", err) }
    if err := tr.Apply(mk(OpDelete, "/n", nil)); err != nil { t.Fatalf("delete: %v", err) }
    if err := tr.Apply(mk("bogus", "/n", nil)); err == nil { t.Fatalf("unknown op accepted") }
}

func TestCreateAll(t *testing.T) {
    ctx := context.Background()
    tr := NewTree()
    created, err := CreateAll(ctx, tr, "/ignite/gate/normal", []byte{9})
    if err != nil || !created { t.Fatalf("CreateAll: created=%v err=%v", created, err) }
    for _, p := range []string{"/ignite", "/ignite/gate"} {
        n, err := tr.Get(ctx, p)
        if err != nil || len(n.Data) != 0 { t.Fatalf("intermediate %s: %+v %v", p, n, err) }
    }
    created, err = CreateAll(ctx, tr, "/ignite/gate/normal", []byte{7})
    if err != nil || created { t.Fatalf("second CreateAll: created=%v err=%v", created, err) }
    n, _ := tr.Get(ctx, "/ignite/gate/normal")
    if n.Data[0] != 9 { t.Fatalf("existing node overwritten: %v", n.Data) }
}

func TestWaitChange(t *testing.T) {
    ctx := context.Background()
    tr := NewTree()

    // absent node with rev 0 blocks until created
    done := make(chan Node, 1)
    go func() {
        n, ok, err := WaitChange(ctx, tr, "/w", 0)
        if err != nil || !ok { t.Errorf("wait create: ok=%v err=%v", ok, err) }
        done <- n
    }()
    time.Sleep(20 * time.Millisecond)
    _ = tr.Create(ctx, "/w", []byte{1})
    var n Node
    select {
    case n = <-done:
    case <-time.After(2 * time.Second):
        t.Fatalf("WaitChange did not return on create")
    }

    // stale revision returns immediately
    _ = tr.Set(ctx, "/w", []byte{2})
    got, ok, err := WaitChange(ctx, tr, "/w", n.Revision)
    if err != nil || !ok || got.Data[0] != 2 { t.Fatalf("stale wait: %+v ok=%v err=%v", got, ok, err) }

    // current revision times out
    tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
    defer cancel()
    if _, _, err := WaitChange(tctx, tr, "/w", got.Revision); !errors.Is(err, context.DeadlineExceeded) {
        t.Fatalf("expected deadline, got %v", err)
    }

    // deletion is reported as absent
    _ = tr.Delete(ctx, "/w")
    if _, ok, err := WaitChange(ctx, tr, "/w", got.Revision); err != nil || ok {
        t.Fatalf("delete wait: ok=%v err=%v", ok, err)
    }
}

func TestErrorWireMapping(t *testing.T) {
    err := ErrorFromString(ErrorString(errors.Join(errors.New("ctx"), ErrNoNode)))
    if !errors.Is(err, ErrNoNode) { t.Fatalf("lost sentinel: %v", err) }
    if ErrorFromString("") != nil { t.Fatalf("empty string should map to nil") }
    if e := ErrorFromString("boom"); e == nil || e.Error() != "boom" { t.Fatalf("plain error: %v", e) }
}
