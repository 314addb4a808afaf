package threshold

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-clustergate/pkg/observability/metrics"
)

var (
    // ErrNotConfigured means the watched path does not exist. There is no
    // default threshold; the node has to be bootstrapped first.
    ErrNotConfigured = errors.New("threshold: watch path not configured")
    // ErrDeleted is reported when the watched node disappears at runtime.
    ErrDeleted = errors.New("threshold: watched node deleted")
)

// Sink receives every decoded threshold value.
type Sink interface {
    SetThreshold(n uint64)
}

// Watcher keeps a Sink in sync with a threshold stored in the coordination store.
type Watcher struct {
    store  coord.Store
    path   string
    sink   Sink
    logger *log.Logger

    once    sync.Once
    errc    chan error
    mu      sync.Mutex
    last    uint64
    started bool
}

func New(store coord.Store, path string, sink Sink, logger *log.Logger) (*Watcher, error) {
    if store == nil || sink == nil {
        return nil, fmt.Errorf("threshold: store and sink are required")
    }
    if err := coord.ValidatePath(path); err != nil { return nil, err }
    if logger == nil { logger = log.Default() }
    return &Watcher{store: store, path: path, sink: sink, logger: logger, errc: make(chan error, 1)}, nil
}

// Path returns the watched path.
func (w *Watcher) Path() string { return w.path }

// Err delivers at most one fatal error: a malformed payload, a deleted node,
// or a watch closed by its store while ctx was still live. Remote stores
// ride out outages and do not close.
func (w *Watcher) Err() <-chan error { return w.errc }

// Start reads the current value, forwards it to the sink and keeps watching
// until ctx is done. A missing node fails with ErrNotConfigured.
func (w *Watcher) Start(ctx context.Context) error {
    w.mu.Lock()
    if w.started {
        w.mu.Unlock()
        return fmt.Errorf("threshold: watcher already started")
    }
    w.started = true
    w.mu.Unlock()

    // Subscribe before the initial read so no update can slip in between.
    wctx, cancel := context.WithCancel(ctx)
    ch, err := w.store.Watch(wctx, w.path)
    if err != nil {
        cancel()
        return fmt.Errorf("threshold: watch %s: %w", w.path, err)
    }
    n, err := w.store.Get(ctx, w.path)
    if err != nil {
        cancel()
        if errors.Is(err, coord.ErrNoNode) {
            return fmt.Errorf("%w: %s: %w", ErrNotConfigured, w.path, err)
        }
        return fmt.Errorf("threshold: read %s: %w", w.path, err)
    }
    v, err := Decode(n.Data)
    if err != nil {
        cancel()
        obsmetrics.ThresholdUpdates.WithLabelValues("invalid").Inc()
        return fmt.Errorf("threshold: %s: %w", w.path, err)
    }
    w.deliver(v)
    logutil.Infof(w.logger, "threshold: %s = %d (rev %d)", w.path, v, n.Revision)

    go func() {
        defer cancel()
        w.loop(ctx, ch, n.Revision)
    }()
    return nil
}

// Last returns the most recently delivered value.
func (w *Watcher) Last() uint64 {
    w.mu.Lock()
    defer w.mu.Unlock()
    return w.last
}

func (w *Watcher) loop(ctx context.Context, ch <-chan coord.Event, rev uint64) {
    for {
        select {
        case <-ctx.Done():
            return
        case ev, ok := <-ch:
            if !ok {
                if ctx.Err() == nil {
                    w.fail(fmt.Errorf("threshold: watch %s ended: %w", w.path, coord.ErrUnreachable))
                }
                return
            }
            if ev.Type == coord.EventDeleted {
                w.fail(fmt.Errorf("%w: %s", ErrDeleted, w.path))
                return
            }
            if ev.Node.Revision <= rev { continue }
            rev = ev.Node.Revision
            v, err := Decode(ev.Node.Data)
            if err != nil {
                obsmetrics.ThresholdUpdates.WithLabelValues("invalid").Inc()
                w.fail(fmt.Errorf("threshold: %s: %w", w.path, err))
                return
            }
            w.deliver(v)
            logutil.Infof(w.logger, "threshold: %s changed to %d (rev %d)", w.path, v, rev)
        }
    }
}

func (w *Watcher) deliver(v uint64) {
    w.mu.Lock()
    w.last = v
    w.mu.Unlock()
    obsmetrics.ThresholdUpdates.WithLabelValues("ok").Inc()
    w.sink.SetThreshold(v)
}

func (w *Watcher) fail(err error) {
    w.once.Do(func() {
        logutil.Errorf(w.logger, "%v", err)
        w.errc <- err
    })
}
