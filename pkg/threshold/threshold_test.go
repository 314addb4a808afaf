package threshold

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/coord"
)

type recorder struct {
    mu   sync.Mutex
    vals []uint64
}

func (r *recorder) SetThreshold(n uint64) {
    r.mu.Lock()
    r.vals = append(r.vals, n)
    r.mu.Unlock()
}

func (r *recorder) values() []uint64 {
    r.mu.Lock()
    defer r.mu.Unlock()
    return append([]uint64(nil), r.vals...)
}

func (r *recorder) await(t *testing.T, want uint64) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        v := r.values()
        if len(v) > 0 && v[len(v)-1] == want { return }
        time.Sleep(10 * time.Millisecond)
    }
    t.Fatalf("sink never saw %d, got %v", want, r.values())
}

func TestCodec(t *testing.T) {
    b := Encode(3)
    if len(b) != 8 || b[7] != 3 || b[0] != 0 { t.Fatalf("encode(3) = %v", b) }
    v, err := Decode([]byte{0, 0, 0, 0, 0, 0, 1, 0, 0xff})
    if err != nil || v != 256 { t.Fatalf("decode with trailing byte: %d %v", v, err) }
    if _, err := Decode([]byte{1, 2, 3}); !errors.Is(err, ErrShortPayload) {
        t.Fatalf("short payload: %v", err)
    }
    if v, _ := Decode(Encode(^uint64(0))); v != ^uint64(0) { t.Fatalf("max value lost: %d", v) }
}

func seeded(t *testing.T, path string, data []byte) *coord.Tree {
    t.Helper()
    tr := coord.NewTree()
    if _, err := coord.CreateAll(context.Background(), tr, path, data); err != nil {
        t.Fatalf("seed: %v", err)
    }
    return tr
}

func TestWatcher_MissingPathIsNotConfigured(t *testing.T) {
    w, err := New(coord.NewTree(), "/gate/normal", &recorder{}, nil)
    if err != nil { t.Fatalf("new: %v", err) }
    err = w.Start(context.Background())
    if !errors.Is(err, ErrNotConfigured) || !errors.Is(err, coord.ErrNoNode) {
        t.Fatalf("start on missing path: %v", err)
    }
}

func TestWatcher_ForwardsUpdates(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    tr := seeded(t, "/gate/normal", Encode(5))
    rec := &recorder{}
    w, _ := New(tr, "/gate/normal", rec, nil)
    if err := w.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    if v := rec.values(); len(v) != 1 || v[0] != 5 { t.Fatalf("initial delivery: %v", v) }

    _ = tr.Set(ctx, "/gate/normal", Encode(3))
    rec.await(t, 3)
    _ = tr.Set(ctx, "/gate/normal", Encode(7))
    rec.await(t, 7)
    if w.Last() != 7 { t.Fatalf("last = %d", w.Last()) }

    // the initial watch event must not be delivered twice
    if v := rec.values(); len(v) != 3 { t.Fatalf("deliveries = %v", v) }
}

func TestWatcher_MalformedInitialValue(t *testing.T) {
    tr := seeded(t, "/gate/normal", []byte{1, 2})
    w, _ := New(tr, "/gate/normal", &recorder{}, nil)
    if err := w.Start(context.Background()); !errors.Is(err, ErrShortPayload) {
        t.Fatalf("start with short payload: %v", err)
    }
}

func TestWatcher_MalformedUpdateIsFatal(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    tr := seeded(t, "/gate/normal", Encode(2))
    rec := &recorder{}
    w, _ := New(tr, "/gate/normal", rec, nil)
    if err := w.Start(ctx); err != nil { t.Fatalf("start: %v", err) }

    _ = tr.Set(ctx, "/gate/normal", []byte{9})
    select {
    case err := <-w.Err():
        if !errors.Is(err, ErrShortPayload) { t.Fatalf("fatal error = %v", err) }
    case <-time.After(2 * time.Second):
        t.Fatalf("no fatal error reported")
    }
    // nothing is substituted for the bad value, and later values are ignored
    _ = tr.Set(ctx, "/gate/normal", Encode(4))
    time.Sleep(50 * time.Millisecond)
    if v := rec.values(); len(v) != 1 || v[0] != 2 { t.Fatalf("deliveries after failure: %v", v) }
}

func TestWatcher_DeletionIsFatal(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    tr := seeded(t, "/gate/normal", Encode(2))
    w, _ := New(tr, "/gate/normal", &recorder{}, nil)
    if err := w.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    _ = tr.Delete(ctx, "/gate/normal")
    select {
    case err := <-w.Err():
        if !errors.Is(err, ErrDeleted) { t.Fatalf("fatal error = %v", err) }
    case <-time.After(2 * time.Second):
        t.Fatalf("no fatal error reported")
    }
}

func TestWatcher_CancelIsQuiet(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    tr := seeded(t, "/gate/normal", Encode(1))
    w, _ := New(tr, "/gate/normal", &recorder{}, nil)
    if err := w.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    if err := w.Start(ctx); err == nil { t.Fatalf("second start accepted") }
    cancel()
    select {
    case err := <-w.Err():
        t.Fatalf("unexpected error after cancel: %v", err)
    case <-time.After(100 * time.Millisecond):
    }
}

func TestNew_RejectsBadInput(t *testing.T) {
    if _, err := New(coord.NewTree(), "relative", &recorder{}, nil); !errors.Is(err, coord.ErrBadPath) {
        t.Fatalf("bad path: %v", err)
    }
    if _, err := New(nil, "/x", &recorder{}, nil); err == nil {
        t.Fatalf("nil store accepted")
    }
}

func TestRegister_IsIdempotent(t *testing.T) {
    ctx := context.Background()
    tr := coord.NewTree()
    created, err := Register(ctx, tr, "/ignite/cluster/normal", 3)
    if err != nil || !created { t.Fatalf("register: created=%v err=%v", created, err) }
    created, err = Register(ctx, tr, "/ignite/cluster/normal", 7)
    if err != nil || created { t.Fatalf("second register: created=%v err=%v", created, err) }
    n, _ := tr.Get(ctx, "/ignite/cluster/normal")
    if v, _ := Decode(n.Data); v != 3 { t.Fatalf("existing threshold overwritten: %d", v) }
    p, _ := tr.Get(ctx, "/ignite/cluster")
    if len(p.Data) != 0 { t.Fatalf("parent carries data: %v", p.Data) }
}

func TestUpdate(t *testing.T) {
    ctx := context.Background()
    tr := coord.NewTree()
    if err := Update(ctx, tr, "/missing", 1); !errors.Is(err, coord.ErrNoNode) { t.Fatalf("update missing: %v", err) }
    _, _ = Register(ctx, tr, "/n", 1)
    if err := Update(ctx, tr, "/n", 9); err != nil { t.Fatalf("update: %v", err) }
    n, _ := tr.Get(ctx, "/n")
    if v, _ := Decode(n.Data); v != 9 { t.Fatalf("threshold = %d", v) }
}
